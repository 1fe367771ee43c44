package courier

import "sync"

// Dispatcher runs observer notifications on the caller's completion context.
//
// Implementations must run functions in the order they were dispatched and
// must never run two of them concurrently. Dispatch must not block on the
// functions it queues.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(fn func())

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// InlineDispatcher runs notifications directly on the worker goroutine.
// Ordering holds because one execution is driven by a single goroutine.
type InlineDispatcher struct{}

// Dispatch implements Dispatcher.
func (InlineDispatcher) Dispatch(fn func()) { fn() }

// SerialDispatcher runs notifications one at a time on a dedicated goroutine,
// in FIFO order. The queue is unbounded so workers never wait on observers.
type SerialDispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	started bool
	stopped bool
	done    chan struct{}
}

// NewSerialDispatcher creates a SerialDispatcher. The draining goroutine is
// started on first use.
func NewSerialDispatcher() *SerialDispatcher {
	d := &SerialDispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Dispatch enqueues fn. Once the dispatcher has stopped, fn runs on the
// calling goroutine so terminal notifications are never lost.
func (d *SerialDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		fn()
		return
	}
	if !d.started {
		d.started = true
		go d.loop()
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
	d.mu.Unlock()
}

// Close stops the dispatcher after the queued functions have run and waits
// for the draining goroutine to exit.
func (d *SerialDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	if !d.started {
		d.stopped = true
		d.mu.Unlock()
		close(d.done)
		return
	}
	d.cond.Signal()
	d.mu.Unlock()

	<-d.done
}

func (d *SerialDispatcher) loop() {
	defer close(d.done)

	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.stopped = true
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		fn()
	}
}
