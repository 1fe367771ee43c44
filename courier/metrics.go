package courier

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments of an engine.
type metrics struct {
	// === Execution Metrics ===

	// executionDuration measures a whole execution, retries included.
	executionDuration metric.Float64Histogram

	// activeExecutions tracks executions in flight.
	activeExecutions metric.Int64UpDownCounter

	// outcomes counts terminal outcomes by outcome and error kind.
	outcomes metric.Int64Counter

	// responseBodySize measures decoded response bodies in bytes.
	responseBodySize metric.Int64Histogram

	// === Attempt Metrics ===

	// attempts counts attempts, first attempts and retries alike.
	attempts metric.Int64Counter

	// retries counts retries by fault class.
	retries metric.Int64Counter

	// connectDuration measures connection establishment.
	connectDuration metric.Float64Histogram

	// ttfb measures the time from request written to first response byte.
	ttfb metric.Float64Histogram

	// === Breaker Metrics ===

	// breakerRequests counts breaker decisions by result.
	breakerRequests metric.Int64Counter

	// breakerState reports the breaker state (0 closed, 1 half-open, 2 open).
	breakerState metric.Int64Gauge
}

var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.executionDuration, err = meter.Float64Histogram(
		"courier.execution.duration",
		metric.WithDescription("Duration of request executions including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	m.activeExecutions, err = meter.Int64UpDownCounter(
		"courier.active_executions",
		metric.WithDescription("Number of executions in flight"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	m.outcomes, err = meter.Int64Counter(
		"courier.outcomes",
		metric.WithDescription("Terminal outcomes of executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	m.responseBodySize, err = meter.Int64Histogram(
		"courier.response.body.size",
		metric.WithDescription("Size of decoded response bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(
			0, 100, 1024, 10*1024, 100*1024, 1024*1024, 10*1024*1024,
		),
	)
	if err != nil {
		return nil, err
	}

	m.attempts, err = meter.Int64Counter(
		"courier.attempts",
		metric.WithDescription("Number of attempts, including retries"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.retries, err = meter.Int64Counter(
		"courier.retries",
		metric.WithDescription("Number of retries by fault class"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	m.connectDuration, err = meter.Float64Histogram(
		"courier.connect.duration",
		metric.WithDescription("Time to establish a connection in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
		),
	)
	if err != nil {
		return nil, err
	}

	m.ttfb, err = meter.Float64Histogram(
		"courier.ttfb",
		metric.WithDescription("Time to first response byte in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	m.breakerRequests, err = meter.Int64Counter(
		"courier.breaker.requests",
		metric.WithDescription("Circuit breaker decisions"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.breakerState, err = meter.Int64Gauge(
		"courier.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 half-open, 2 open"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) recordExecutionStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeExecutions == nil {
		return
	}
	m.activeExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordExecutionEnd(
	ctx context.Context,
	duration time.Duration,
	outcome Outcome,
	kind *Kind,
	attrs []attribute.KeyValue,
) {
	if m == nil {
		return
	}
	if m.activeExecutions != nil {
		m.activeExecutions.Add(ctx, -1, metric.WithAttributes(attrs...))
	}

	outcomeAttrs := append(attrs[:len(attrs):len(attrs)], attribute.String("courier.outcome", outcome.String()))
	if kind != nil {
		outcomeAttrs = append(outcomeAttrs, attribute.String("error.type", kind.String()))
	}
	if m.executionDuration != nil {
		m.executionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(outcomeAttrs...))
	}
	if m.outcomes != nil {
		m.outcomes.Add(ctx, 1, metric.WithAttributes(outcomeAttrs...))
	}
}

func (m *metrics) recordResponseBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.responseBodySize == nil {
		return
	}
	m.responseBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordAttempt(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetry(ctx context.Context, class faultClass, attrs []attribute.KeyValue) {
	if m == nil || m.retries == nil {
		return
	}
	retryAttrs := append(attrs[:len(attrs):len(attrs)], attribute.String("courier.retry.reason", class.String()))
	m.retries.Add(ctx, 1, metric.WithAttributes(retryAttrs...))
}

func (m *metrics) recordConnectDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.connectDuration == nil {
		return
	}
	m.connectDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordTTFB(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.ttfb == nil {
		return
	}
	m.ttfb.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordBreakerRequest(ctx context.Context, name, result string) {
	if m == nil || m.breakerRequests == nil {
		return
	}
	m.breakerRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("courier.breaker.name", name),
		attribute.String("courier.breaker.result", result),
	))
}

func (m *metrics) recordBreakerState(ctx context.Context, name string, state int64) {
	if m == nil || m.breakerState == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(
		attribute.String("courier.breaker.name", name),
	))
}
