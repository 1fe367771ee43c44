package courier

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewMetrics(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := newMetrics(mp.Meter("test"))

	require.NoError(t, err)
	assert.NotNil(t, m.executionDuration)
	assert.NotNil(t, m.activeExecutions)
	assert.NotNil(t, m.outcomes)
	assert.NotNil(t, m.responseBodySize)
	assert.NotNil(t, m.attempts)
	assert.NotNil(t, m.retries)
	assert.NotNil(t, m.connectDuration)
	assert.NotNil(t, m.ttfb)
	assert.NotNil(t, m.breakerRequests)
	assert.NotNil(t, m.breakerState)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.recordExecutionStart(ctx, nil)
		m.recordExecutionEnd(ctx, time.Second, OutcomeFailed, nil, nil)
		m.recordResponseBodySize(ctx, 10, nil)
		m.recordAttempt(ctx, nil)
		m.recordRetry(ctx, faultTimeout, nil)
		m.recordConnectDuration(ctx, time.Millisecond, nil)
		m.recordTTFB(ctx, time.Millisecond, nil)
		m.recordBreakerRequest(ctx, "svc", "success")
		m.recordBreakerState(ctx, "svc", 2)
	})
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics, match ...attribute.KeyValue) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		matched := true
		for _, kv := range match {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v != kv.Value {
				matched = false
				break
			}
		}
		if matched {
			total += dp.Value
		}
	}
	return total
}

func TestEngine_Telemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer mp.Shutdown(context.Background())
	defer tp.Shutdown(context.Background())

	truncated := MockResponse{StatusCode: http.StatusOK, Body: []byte("payload"), TruncateAt: 2}
	mock := NewMockTransport().
		Enqueue(truncated).
		StubResponse(http.StatusOK, "payload")

	var propagated http.Header
	mock.OnRequest(func(r *http.Request) { propagated = r.Header.Clone() })

	e := newTestEngine(t,
		WithMockTransport(mock),
		WithServiceName("catalog"),
		WithMeterProvider(mp),
		WithTracerProvider(tp),
		WithPropagators(propagation.TraceContext{}),
	)

	env := Execute(context.Background(), e, Get("https://api.example.com/items"), textPipeline())
	require.True(t, env.Succeeded())

	t.Run("given a retried execution, then metrics count attempts and retries", func(t *testing.T) {
		got := collect(t, reader)

		assert.Equal(t, int64(2), sumOf(t, got["courier.attempts"]))
		assert.Equal(t, int64(1), sumOf(t, got["courier.retries"],
			attribute.String("courier.retry.reason", "premature_eof")))
		assert.Equal(t, int64(1), sumOf(t, got["courier.outcomes"],
			attribute.String("courier.outcome", "succeeded"),
			attribute.String("courier.service", "catalog")))
		assert.Equal(t, int64(0), sumOf(t, got["courier.active_executions"]))
		assert.Contains(t, got, "courier.execution.duration")
		assert.Contains(t, got, "courier.response.body.size")
	})

	t.Run("given an execution, then one span with checkpoint events is exported", func(t *testing.T) {
		spans := exporter.GetSpans()
		require.Len(t, spans, 1)

		span := spans[0]
		assert.Equal(t, "courier GET", span.Name)

		var checkpoints []string
		for _, ev := range span.Events {
			if ev.Name == "checkpoint" {
				for _, kv := range ev.Attributes {
					if kv.Key == "courier.checkpoint" {
						checkpoints = append(checkpoints, kv.Value.AsString())
					}
				}
			}
		}
		assert.Equal(t, "idle", checkpoints[0])
		assert.Equal(t, "done", checkpoints[len(checkpoints)-1])

		attrs := make(map[attribute.Key]attribute.Value)
		for _, kv := range span.Attributes {
			attrs[kv.Key] = kv.Value
		}
		assert.Equal(t, "succeeded", attrs["courier.outcome"].AsString())
		assert.Equal(t, int64(2), attrs["courier.attempts"].AsInt64())
		assert.Equal(t, int64(http.StatusOK), attrs["http.response.status_code"].AsInt64())
	})

	t.Run("given a trace context propagator, then traceparent is sent", func(t *testing.T) {
		assert.NotEmpty(t, propagated.Get("traceparent"))
	})
}

func TestEngine_TelemetryOnFailure(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer mp.Shutdown(context.Background())
	defer tp.Shutdown(context.Background())

	mock := NewMockTransport().StubResponse(http.StatusNotFound, "")
	e := newTestEngine(t, WithMockTransport(mock), WithMeterProvider(mp), WithTracerProvider(tp))

	env := Execute(context.Background(), e, Get("https://api.example.com/missing"), textPipeline())
	require.Equal(t, OutcomeFailed, env.Outcome())

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, got["courier.outcomes"],
		attribute.String("courier.outcome", "failed"),
		attribute.String("error.type", "HttpStatus")))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Error", spans[0].Status.Code.String())
	assert.Equal(t, "resource not found", spans[0].Status.Description)
}
