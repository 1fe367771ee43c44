package courier

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the automatic retries of one logical request.
//
// Only two fault classes are retried:
//   - premature stream termination (the transport ends the body early)
//   - connect and read timeouts
//
// Every other fault, including decode failures, is terminal on first sight.
// A retry re-runs the whole attempt with identical parameters.
//
// Example:
//
//	policy := courier.DefaultRetryPolicy()
//	policy.InitialInterval = 100 * time.Millisecond
//	engine := courier.New(courier.WithRetryPolicy(policy))
type RetryPolicy struct {
	// MaxPrematureEOF is the number of retries allowed for premature stream
	// termination.
	// Default: 3
	MaxPrematureEOF uint `mapstructure:"max_premature_eof"`

	// MaxTimeout is the number of retries allowed for timeouts.
	// Default: 1
	MaxTimeout uint `mapstructure:"max_timeout"`

	// InitialInterval is the wait before the first retry.
	// Zero retries immediately.
	// Default: 0
	InitialInterval time.Duration `mapstructure:"initial_interval"`

	// MaxInterval caps the wait between retries.
	// Default: 0 (uncapped by the policy; backoff applies its own default)
	MaxInterval time.Duration `mapstructure:"max_interval"`

	// Multiplier grows the wait after each retry.
	// Default: 0 (backoff default of 1.5 when InitialInterval is set)
	Multiplier float64 `mapstructure:"multiplier"`

	// JitterFactor randomizes each wait by up to this fraction.
	// Default: 0
	JitterFactor float64 `mapstructure:"jitter_factor"`
}

// DefaultRetryPolicy returns the standard bounds: 3 premature-termination
// retries and 1 timeout retry, without waiting between attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxPrematureEOF: 3,
		MaxTimeout:      1,
	}
}

// NoRetryPolicy returns a policy that never retries.
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{}
}

// newBackOff builds the wait strategy for one logical request.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	if p.InitialInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.RandomizationFactor = p.JitterFactor
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.Reset()
	return b
}

// retryState holds the counters of one logical request. It is created per
// execution and never shared, so retries stay re-entrant.
type retryState struct {
	policy   RetryPolicy
	backOff  backoff.BackOff
	eof      uint
	timeouts uint
}

func newRetryState(policy RetryPolicy) *retryState {
	return &retryState{policy: policy, backOff: policy.newBackOff()}
}

// allow consumes one retry of the given class. It reports the wait before
// the next attempt and whether another attempt is permitted.
func (s *retryState) allow(class faultClass) (time.Duration, bool) {
	switch class {
	case faultPrematureEOF:
		if s.eof >= s.policy.MaxPrematureEOF {
			return 0, false
		}
		s.eof++
	case faultTimeout:
		if s.timeouts >= s.policy.MaxTimeout {
			return 0, false
		}
		s.timeouts++
	default:
		return 0, false
	}

	wait := s.backOff.NextBackOff()
	if wait == backoff.Stop {
		return 0, false
	}
	return wait, true
}

// retries returns the total number of retries consumed so far.
func (s *retryState) retries() uint {
	return s.eof + s.timeouts
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
