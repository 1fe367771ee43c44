package courier

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore creates a SharedDataStore backed by Redis, so several
// processes share one breaker state.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	engine := courier.New(courier.WithBreaker(courier.DistributedBreakerConfig(courier.NewRedisStore(rdb))))
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// circuitBreaker is the part of gobreaker the transport relies on. Both the
// local and the distributed breaker satisfy it.
type circuitBreaker interface {
	Execute(req func() (*http.Response, error)) (*http.Response, error)
}

// BreakerClassifier reports whether an attempt counts as a failure for the
// breaker.
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig configures the circuit breaker.
//
// While the breaker is open, attempts fail immediately with a
// KindConnectFailure error that wraps gobreaker.ErrOpenState.
type BreakerConfig struct {
	// MaxRequests is the number of probes allowed while half-open.
	// Default: 1
	MaxRequests uint32

	// Interval clears the counts periodically while closed.
	// Default: 10s
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	// Default: 10s
	Timeout time.Duration

	// FailureThreshold is the minimum number of requests before the failure
	// ratio is considered.
	// Default: 20
	FailureThreshold uint32

	// FailureRatio trips the breaker once reached.
	// Default: 0.5
	FailureRatio float64

	// ConsecutiveFailures trips the breaker once reached. Zero disables it.
	// Default: 5
	ConsecutiveFailures uint32

	// Store shares breaker state between processes. Nil keeps it local.
	Store gobreaker.SharedDataStore

	// Classifier decides which attempts count as failures.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is invoked on every state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns a local breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns DefaultBreakerConfig backed by store.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts 5xx responses and the faults Classify
// reports as connect failures, timeouts or transport I/O. Cancellation by
// the caller is never counted.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		switch kind, _ := classifyKind(err); kind {
		case KindConnectFailure, KindTimeout, KindTransportIO:
			return true
		default:
			return false
		}
	}
	return resp != nil && resp.StatusCode >= http.StatusInternalServerError
}

// errSyntheticFailure reports a counted failure for a response that has no
// transport error. The transport swaps it back for the response.
var errSyntheticFailure = errors.New("synthetic failure")

type circuitBreakerTransport struct {
	breaker    circuitBreaker
	next       http.RoundTripper
	classifier BreakerClassifier
	metrics    *metrics
	name       string
}

// RoundTrip implements http.RoundTripper.
func (t *circuitBreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var failedResp *http.Response
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose
		if t.classifier(resp, err) {
			if err != nil {
				return nil, err
			}
			failedResp = resp
			return nil, errSyntheticFailure
		}
		return resp, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			t.metrics.recordBreakerRequest(ctx, t.name, "rejected")
			return nil, err
		}

		t.metrics.recordBreakerRequest(ctx, t.name, "failure")
		if errors.Is(err, errSyntheticFailure) {
			return failedResp, nil
		}
		return nil, err
	}

	t.metrics.recordBreakerRequest(ctx, t.name, "success")
	return resp, nil
}

func newCircuitBreakerTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	if cfg.BreakerConfig == nil {
		return next
	}
	bc := *cfg.BreakerConfig
	if bc.Classifier == nil {
		bc.Classifier = DefaultBreakerClassifier
	}

	name := cfg.Config.ServiceName
	if name == "" {
		name = "courier"
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if bc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
				return true
			}
			if counts.Requests < bc.FailureThreshold {
				return false
			}
			if bc.FailureRatio > 0 && counts.TotalFailures > 0 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= bc.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Metrics.recordBreakerState(context.Background(), name, int64(to))
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	var cb circuitBreaker
	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*http.Response](bc.Store, st)
		if err != nil {
			// Degrade to process-local protection.
			cb = gobreaker.NewCircuitBreaker[*http.Response](st)
		} else {
			cb = dcb
		}
	} else {
		cb = gobreaker.NewCircuitBreaker[*http.Response](st)
	}

	return &circuitBreakerTransport{
		breaker:    cb,
		next:       next,
		classifier: bc.Classifier,
		metrics:    cfg.Metrics,
		name:       name,
	}
}
