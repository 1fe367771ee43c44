package courier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when an attempt is rejected by the client-side
// rate limiter.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig configures client-side rate limiting of attempts. Retries
// consume tokens like first attempts.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the number of attempts allowed above the rate at once.
	// Values below 1 are raised to 1.
	Burst int

	// WaitOnLimit waits for a token, bounded by the request context, instead
	// of failing with ErrRateLimited.
	WaitOnLimit bool

	// PerHost keeps one limiter per target host instead of one per engine.
	PerHost bool
}

// DefaultRateLimitConfig returns 100 attempts per second with a burst of 10.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

type rateLimitTransport struct {
	next http.RoundTripper
	cfg  RateLimitConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newRateLimitTransport(next http.RoundTripper, cfg RateLimitConfig) http.RoundTripper {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &rateLimitTransport{
		next:     next,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	limiter := t.limiterFor(req)

	if t.cfg.WaitOnLimit {
		if err := limiter.Wait(req.Context()); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
	} else if !limiter.Allow() {
		return nil, ErrRateLimited
	}

	return t.next.RoundTrip(req)
}

// limiterFor returns the limiter for req, creating it on first use.
func (t *rateLimitTransport) limiterFor(req *http.Request) *rate.Limiter {
	key := ""
	if t.cfg.PerHost {
		key = req.URL.Host
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if limiter, ok := t.limiters[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Limit(t.cfg.RequestsPerSecond), t.cfg.Burst)
	t.limiters[key] = limiter
	return limiter
}
