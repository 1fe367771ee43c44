// Package courier executes single HTTP requests in the background and
// reports their lifecycle to an observer.
//
// # Lifecycle
//
// Every attempt walks through ordered checkpoints, reported as progress
// percentages:
//
//	Idle(0) Opened(10) Connected(20) StatusReceived(40) TypeResolved(50)
//	BodyAvailable(60) StreamReady(70) ClosingBody(80) Disconnecting(90) Done(100)
//
// A malformed URL ends the execution right after Idle. Every other path
// ends with Disconnecting and Done, followed by exactly one terminal
// callback: OnSuccess, OnError, OnCancelled or OnIntercepted.
//
// # Decoding
//
// Responses are decoded in two stages supplied as a Pipeline: a
// StreamDecoder turns the (decompressed) body into an intermediate value
// and a ResultDecoder turns that into the final type. Ready-made pipelines
// live in the codec subpackage.
//
//	call, err := courier.Submit(ctx, courier.Default(),
//	    courier.Get("https://api.example.com/users/42"),
//	    codec.JSON[User](),
//	    courier.ObserverFuncs[User]{
//	        Progress: func(cp courier.Checkpoint) { bar.Set(int(cp)) },
//	        Success:  func(r courier.Result[User]) { show(r.OrElse(User{})) },
//	        Error:    func(err *courier.RequestError) { alert(err) },
//	    },
//	)
//
// # Retries
//
// Premature stream termination is retried up to 3 times and timeouts once,
// per logical request. Retries restart the checkpoints at Idle and are
// otherwise invisible to the observer.
//
// # Cancellation
//
// Call.Cancel sets a cooperative flag that the engine checks at lifecycle
// breakpoints. A cancelled execution still reports Disconnecting and Done
// before OnCancelled.
package courier
