package courier

import (
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/courier-go/courier"
)

// internalConfig holds the engine configuration plus its collaborators.
type internalConfig struct {
	// Config is the process-wide configuration.
	Config Config

	// Logger is the debug sink. Used only when Config.Debug is true.
	Logger *zerolog.Logger

	// Transport replaces the per-attempt transport. Mainly for tests.
	Transport http.RoundTripper

	// Dispatcher delivers observer notifications.
	// If nil, the engine creates a SerialDispatcher.
	Dispatcher Dispatcher

	// BreakerConfig enables the circuit breaker when set.
	BreakerConfig *BreakerConfig

	// RateLimit enables client-side rate limiting when set.
	RateLimit *RateLimitConfig

	// Chaos enables fault injection when set.
	Chaos *ChaosConfig

	// === OpenTelemetry Configuration ===

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Propagators    propagation.TextMapPropagator

	Tracer  trace.Tracer
	Meter   metric.Meter
	Metrics *metrics
}

func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		Config:         DefaultConfig(),
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Propagators:    otel.GetTextMapPropagator(),
	}

	for _, opt := range opts {
		opt(cfg)
	}
	cfg.Config = cfg.Config.clone()

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Metrics stay nil on failure; every record method is nil-safe.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// logger returns the debug sink, or a disabled logger when debug is off.
func (cfg *internalConfig) logger() zerolog.Logger {
	if !cfg.Config.Debug {
		return zerolog.Nop()
	}
	if cfg.Logger != nil {
		return *cfg.Logger
	}
	return defaultDebugLogger
}

// baseAttributes returns attributes shared by every span and metric.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.Config.ServiceName != "" {
		attrs = append(attrs, attribute.String("courier.service", cfg.Config.ServiceName))
	}
	return attrs
}

// Option configures an Engine.
type Option func(*internalConfig)

// WithConfig sets the engine configuration. Start from DefaultConfig or
// LoadConfig and adjust fields as needed.
//
// Example:
//
//	cfg := courier.DefaultConfig()
//	cfg.Debug = true
//	engine := courier.New(courier.WithConfig(cfg))
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.Config = c
	}
}

// WithServiceName sets Config.ServiceName.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.Config.ServiceName = name
	}
}

// WithDebug toggles debug logging.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Config.Debug = enabled
	}
}

// WithLogger sets the debug sink. It only receives output when debug
// logging is enabled.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	engine := courier.New(courier.WithDebug(true), courier.WithLogger(logger))
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = &l
	}
}

// WithRetryPolicy sets Config.Retry.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(cfg *internalConfig) {
		cfg.Config.Retry = p
	}
}

// WithMaxParallel sets Config.MaxParallel.
func WithMaxParallel(n int) Option {
	return func(cfg *internalConfig) {
		cfg.Config.MaxParallel = n
	}
}

// WithTransport replaces the per-attempt transport with rt. Connect and
// read timeouts are then the responsibility of rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.Transport = rt
	}
}

// WithDispatcher sets how observer notifications reach the completion
// context.
//
// Example, delivering on the worker goroutine:
//
//	engine := courier.New(courier.WithDispatcher(courier.InlineDispatcher{}))
func WithDispatcher(d Dispatcher) Option {
	return func(cfg *internalConfig) {
		cfg.Dispatcher = d
	}
}

// WithBreaker enables a circuit breaker around every attempt.
//
// Example:
//
//	engine := courier.New(courier.WithBreaker(courier.DefaultBreakerConfig()))
func WithBreaker(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// WithRateLimit enables client-side rate limiting of attempts.
func WithRateLimit(rl RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimit = &rl
	}
}

// WithChaos enables fault injection. Use it in tests and staging only.
func WithChaos(c ChaosConfig) Option {
	return func(cfg *internalConfig) {
		cfg.Chaos = &c
	}
}

// WithTracerProvider sets the tracer provider.
// Default: otel.GetTracerProvider()
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		if tp != nil {
			cfg.TracerProvider = tp
		}
	}
}

// WithMeterProvider sets the meter provider.
// Default: otel.GetMeterProvider()
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		if mp != nil {
			cfg.MeterProvider = mp
		}
	}
}

// WithPropagators sets the propagators used to inject trace context into
// outgoing headers.
// Default: otel.GetTextMapPropagator()
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		if p != nil {
			cfg.Propagators = p
		}
	}
}
