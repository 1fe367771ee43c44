package courier

import (
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"time"
)

// ErrChaosInjected is the cause of connection failures injected by chaos.
var ErrChaosInjected = errors.New("chaos: simulated network error")

// ChaosConfig injects faults to exercise retry, breaker and cancellation
// handling outside production.
//
// Example:
//
//	engine := courier.New(courier.WithChaos(courier.ChaosConfig{
//	    PrematureEOFRate: 0.2, // truncate one body in five
//	    TimeoutRate:      0.1,
//	}))
type ChaosConfig struct {
	// LatencyMs delays every attempt.
	LatencyMs int

	// LatencyJitterMs adds a random delay of up to this many milliseconds.
	LatencyJitterMs int

	// ErrorRate is the probability (0.0-1.0) of a refused connection.
	ErrorRate float64

	// TimeoutRate is the probability (0.0-1.0) of a read timeout.
	TimeoutRate float64

	// PrematureEOFRate is the probability (0.0-1.0) that the response body
	// ends early with io.ErrUnexpectedEOF.
	PrematureEOFRate float64
}

// Delay returns the delay to apply, jitter included.
func (c ChaosConfig) Delay() time.Duration {
	delay := time.Duration(c.LatencyMs) * time.Millisecond
	if c.LatencyJitterMs > 0 {
		delay += time.Duration(rand.IntN(c.LatencyJitterMs)) * time.Millisecond //nolint:gosec
	}
	return delay
}

func roll(rate float64) bool {
	if rate <= 0 {
		return false
	}
	return rand.Float64() < rate //nolint:gosec
}

type chaosTransport struct {
	next   http.RoundTripper
	config ChaosConfig
}

func newChaosTransport(next http.RoundTripper, cfg ChaosConfig) http.RoundTripper {
	return &chaosTransport{next: next, config: cfg}
}

// RoundTrip implements http.RoundTripper with fault injection.
func (t *chaosTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if delay := t.config.Delay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if roll(t.config.ErrorRate) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: ErrChaosInjected}
	}
	if roll(t.config.TimeoutRate) {
		return nil, &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if roll(t.config.PrematureEOFRate) {
		resp.Body = &truncatedBody{ReadCloser: resp.Body}
	}
	return resp, nil
}

// truncatedBody passes through the first read, then fails like a
// connection dropped mid-body.
type truncatedBody struct {
	io.ReadCloser
	reads int
}

func (b *truncatedBody) Read(p []byte) (int, error) {
	b.reads++
	if b.reads > 1 {
		return 0, io.ErrUnexpectedEOF
	}
	n, err := b.ReadCloser.Read(p)
	if errors.Is(err, io.EOF) {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}
