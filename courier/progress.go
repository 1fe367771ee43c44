package courier

import (
	"strconv"
	"sync"
)

// Checkpoint is an ordered milestone of a request attempt.
// The numeric value is the progress percentage.
type Checkpoint int

const (
	Idle           Checkpoint = 0
	Opened         Checkpoint = 10
	Connected      Checkpoint = 20
	StatusReceived Checkpoint = 40
	TypeResolved   Checkpoint = 50
	BodyAvailable  Checkpoint = 60
	StreamReady    Checkpoint = 70
	ClosingBody    Checkpoint = 80
	Disconnecting  Checkpoint = 90
	Done           Checkpoint = 100
)

// String returns the string representation of the checkpoint.
func (c Checkpoint) String() string {
	switch c {
	case Idle:
		return "idle"
	case Opened:
		return "opened"
	case Connected:
		return "connected"
	case StatusReceived:
		return "status_received"
	case TypeResolved:
		return "type_resolved"
	case BodyAvailable:
		return "body_available"
	case StreamReady:
		return "stream_ready"
	case ClosingBody:
		return "closing_body"
	case Disconnecting:
		return "disconnecting"
	case Done:
		return "done"
	default:
		return "checkpoint(" + strconv.Itoa(int(c)) + ")"
	}
}

// progressReporter sequences checkpoints for one execution and forwards
// them to a sink. Within an attempt a checkpoint is published at most once
// and never after a later one. It is safe for concurrent use because
// httptrace hooks may fire on transport goroutines.
type progressReporter struct {
	mu      sync.Mutex
	last    Checkpoint
	started bool
	sink    func(Checkpoint)
}

func newProgressReporter(sink func(Checkpoint)) *progressReporter {
	return &progressReporter{sink: sink}
}

// publish forwards cp unless it does not advance the sequence.
// It reports whether cp was forwarded.
func (p *progressReporter) publish(cp Checkpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started && cp <= p.last {
		return false
	}
	p.started = true
	p.last = cp
	if p.sink != nil {
		p.sink(cp)
	}
	return true
}

// restart begins a new attempt so the sequence may start over at Idle.
func (p *progressReporter) restart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	p.last = Idle
}

// reached reports whether cp has been published in the current attempt.
func (p *progressReporter) reached(cp Checkpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && p.last >= cp
}
