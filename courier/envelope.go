package courier

import (
	"net/http"
	"time"
)

// Outcome is the terminal state of an execution.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeCancelled
	OutcomeIntercepted
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeIntercepted:
		return "intercepted"
	default:
		return "unknown"
	}
}

// Envelope accumulates the outcome of one execution. The engine owns it
// until the execution finishes; afterwards it is read-only.
//
// At completion at most one of Error, Intercepted and a present Result
// holds. A successful empty response leaves all three unset with an Empty
// Result.
type Envelope[T any] struct {
	// ID identifies the execution in logs, spans and metrics.
	ID string

	// StatusCode is the HTTP status of the last attempt, 0 until known.
	StatusCode int

	// URL is the resolved URL of the last attempt, after redirects.
	URL string

	// Header holds the response headers of the last attempt.
	Header http.Header

	// Result is the decoded body. It is set only on success.
	Result Result[T]

	// Error is set only on failure.
	Error *RequestError

	// Cancelled is set when the cancel signal was observed.
	Cancelled bool

	// Intercepted is set when the response interceptor aborted the execution.
	Intercepted bool

	// Attempts counts the attempts made, including retries.
	Attempts int

	// StartedAt and FinishedAt bound the execution.
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcome reports the terminal state.
func (e *Envelope[T]) Outcome() Outcome {
	switch {
	case e.Cancelled:
		return OutcomeCancelled
	case e.Intercepted:
		return OutcomeIntercepted
	case e.Error != nil:
		return OutcomeFailed
	default:
		return OutcomeSucceeded
	}
}

// Succeeded reports whether the execution produced a result.
func (e *Envelope[T]) Succeeded() bool {
	return e.Outcome() == OutcomeSucceeded
}

// Err returns the execution error: the RequestError for failures, a
// KindIntercepted error for interceptions, ErrCancelled for cancellations
// and nil on success.
func (e *Envelope[T]) Err() error {
	switch e.Outcome() {
	case OutcomeFailed:
		return e.Error
	case OutcomeIntercepted:
		return NewIntercepted(e.URL, e.StatusCode)
	case OutcomeCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// Duration returns how long the execution took.
func (e *Envelope[T]) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// fail records a terminal error, clearing any partial result.
func (e *Envelope[T]) fail(err *RequestError) {
	e.Error = err
	e.Result = Empty[T]()
}

// resetAttempt clears per-attempt fields before a retry.
func (e *Envelope[T]) resetAttempt() {
	e.StatusCode = 0
	e.Header = nil
	e.Result = Empty[T]()
	e.Error = nil
}
