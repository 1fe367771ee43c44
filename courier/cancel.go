package courier

import "sync/atomic"

// CancelSignal is a cooperative cancellation flag. The engine only observes
// it at lifecycle breakpoints; it never interrupts a blocked read.
type CancelSignal struct {
	flag atomic.Bool
}

// Cancel sets the signal. It may be called any number of times from any
// goroutine.
func (s *CancelSignal) Cancel() {
	s.flag.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (s *CancelSignal) Cancelled() bool {
	return s.flag.Load()
}
