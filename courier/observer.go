package courier

// Observer receives the notifications of one execution on the completion
// context chosen by the engine's Dispatcher.
//
// OnProgress may fire several times. Exactly one of OnSuccess, OnError,
// OnCancelled or (for observers that implement InterceptObserver)
// OnIntercepted fires afterwards, exactly once. Observers without
// OnIntercepted receive an interception as OnError with a KindIntercepted
// error.
type Observer[T any] interface {
	OnProgress(cp Checkpoint)
	OnSuccess(result Result[T])
	OnError(err *RequestError)
	OnCancelled()
}

// InterceptObserver is implemented by observers that want the intercepted
// outcome as its own callback.
type InterceptObserver interface {
	OnIntercepted(statusCode int)
}

// ObserverFuncs adapts plain functions to Observer and InterceptObserver.
// Nil fields are skipped.
type ObserverFuncs[T any] struct {
	Progress    func(cp Checkpoint)
	Success     func(result Result[T])
	Error       func(err *RequestError)
	Cancelled   func()
	Intercepted func(statusCode int)
}

// OnProgress implements Observer.
func (o ObserverFuncs[T]) OnProgress(cp Checkpoint) {
	if o.Progress != nil {
		o.Progress(cp)
	}
}

// OnSuccess implements Observer.
func (o ObserverFuncs[T]) OnSuccess(result Result[T]) {
	if o.Success != nil {
		o.Success(result)
	}
}

// OnError implements Observer.
func (o ObserverFuncs[T]) OnError(err *RequestError) {
	if o.Error != nil {
		o.Error(err)
	}
}

// OnCancelled implements Observer.
func (o ObserverFuncs[T]) OnCancelled() {
	if o.Cancelled != nil {
		o.Cancelled()
	}
}

// OnIntercepted implements InterceptObserver.
func (o ObserverFuncs[T]) OnIntercepted(statusCode int) {
	if o.Intercepted != nil {
		o.Intercepted(statusCode)
	}
}

// deliverTerminal invokes the terminal callback matching env's outcome.
func deliverTerminal[T any](obs Observer[T], env *Envelope[T]) {
	switch env.Outcome() {
	case OutcomeCancelled:
		obs.OnCancelled()
	case OutcomeIntercepted:
		if ic, ok := obs.(InterceptObserver); ok {
			ic.OnIntercepted(env.StatusCode)
			return
		}
		obs.OnError(NewIntercepted(env.URL, env.StatusCode))
	case OutcomeFailed:
		obs.OnError(env.Error)
	default:
		obs.OnSuccess(env.Result)
	}
}
