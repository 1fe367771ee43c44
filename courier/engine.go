package courier

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// Engine executes requests. It is safe for concurrent use; executions share
// only its read-only configuration and the transport decorators.
type Engine struct {
	cfg        *internalConfig
	client     *http.Client
	dispatcher Dispatcher
	serial     *SerialDispatcher
	sem        *semaphore.Weighted
	log        zerolog.Logger
}

// New creates an Engine.
//
// Example:
//
//	engine := courier.New(
//	    courier.WithServiceName("catalog-sync"),
//	    courier.WithBreaker(courier.DefaultBreakerConfig()),
//	)
//	defer engine.Close()
func New(opts ...Option) *Engine {
	cfg := newConfig(opts...)

	e := &Engine{
		cfg:    cfg,
		client: &http.Client{Transport: cfg.buildTransportChain()},
		log:    cfg.logger(),
	}

	if cfg.Dispatcher != nil {
		e.dispatcher = cfg.Dispatcher
	} else {
		e.serial = NewSerialDispatcher()
		e.dispatcher = e.serial
	}

	if cfg.Config.MaxParallel > 0 {
		e.sem = semaphore.NewWeighted(int64(cfg.Config.MaxParallel))
	}
	return e
}

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
)

// Default returns the process-wide engine built from DefaultConfig.
func Default() *Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine = New()
	})
	return defaultEngine
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg.Config.clone()
}

// Close stops the engine-owned dispatcher once queued notifications have
// been delivered. Executions still running afterwards deliver their
// remaining notifications on their own goroutine.
func (e *Engine) Close() {
	if e.serial != nil {
		e.serial.Close()
	}
}

// Call is the handle of a submitted execution.
type Call[T any] struct {
	id     string
	signal CancelSignal
	done   chan struct{}
	once   sync.Once
	env    *Envelope[T]
}

// ID returns the execution ID.
func (c *Call[T]) ID() string { return c.id }

// Cancel requests cooperative cancellation. It has no effect once the
// execution has finished.
func (c *Call[T]) Cancel() { c.signal.Cancel() }

// Done is closed after the terminal notification has been delivered.
func (c *Call[T]) Done() <-chan struct{} { return c.done }

// Envelope returns the final envelope, or nil while the execution runs.
func (c *Call[T]) Envelope() *Envelope[T] {
	select {
	case <-c.done:
		return c.env
	default:
		return nil
	}
}

// Wait blocks until the execution has finished or ctx is done.
func (c *Call[T]) Wait(ctx context.Context) (*Envelope[T], error) {
	select {
	case <-c.done:
		return c.env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish records env and delivers the terminal callback exactly once.
func (c *Call[T]) finish(d Dispatcher, obs Observer[T], env *Envelope[T]) {
	c.once.Do(func() {
		c.env = env
		d.Dispatch(func() {
			deliverTerminal(obs, env)
			close(c.done)
		})
	})
}

// Submit starts executing req on a new goroutine and returns its handle.
// Notifications reach obs through the engine's Dispatcher: checkpoints in
// order, then exactly one terminal callback.
//
// The request is snapshotted and marked submitted; submitting it again
// fails with ErrAlreadySubmitted. Cancelling ctx cancels the execution.
//
// Example:
//
//	call, err := courier.Submit(ctx, engine, courier.Get(url), codec.JSON[User](), courier.ObserverFuncs[User]{
//	    Success: func(r courier.Result[User]) { ... },
//	    Error:   func(err *courier.RequestError) { ... },
//	})
func Submit[I, T any](
	ctx context.Context,
	e *Engine,
	req *Request,
	p Pipeline[I, T],
	obs Observer[T],
) (*Call[T], error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if _, err := ParseMethod(string(req.method)); err != nil {
		return nil, err
	}
	if err := req.markSubmitted(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = ObserverFuncs[T]{}
	}

	call := &Call[T]{id: uuid.NewString(), done: make(chan struct{})}
	x := newExecution(e, req.Clone(), p, call.id, &call.signal, func(cp Checkpoint) {
		e.dispatcher.Dispatch(func() { obs.OnProgress(cp) })
	})

	go func() {
		env := x.run(ctx)
		call.finish(e.dispatcher, obs, env)
	}()

	return call, nil
}

// Execute runs req on the calling goroutine and returns the final envelope.
// It follows the same lifecycle as Submit without notifying an observer.
func Execute[I, T any](ctx context.Context, e *Engine, req *Request, p Pipeline[I, T]) *Envelope[T] {
	id := uuid.NewString()

	if err := p.validate(); err != nil {
		return failedEnvelope[T](id, req.rawURL, &RequestError{Kind: KindOther, Message: err.Error(), Err: err})
	}
	if _, err := ParseMethod(string(req.method)); err != nil {
		return failedEnvelope[T](id, req.rawURL, &RequestError{Kind: KindOther, Message: err.Error(), Err: err})
	}
	if err := req.markSubmitted(); err != nil {
		return failedEnvelope[T](id, req.rawURL, &RequestError{Kind: KindOther, Message: err.Error(), Err: err})
	}

	var signal CancelSignal
	return newExecution(e, req.Clone(), p, id, &signal, nil).run(ctx)
}

func failedEnvelope[T any](id, url string, err *RequestError) *Envelope[T] {
	now := time.Now()
	err.URL = url
	return &Envelope[T]{ID: id, URL: url, Error: err, StartedAt: now, FinishedAt: now}
}

// execution is the per-request state of one logical request. Nothing in it
// is shared with other executions.
type execution[I, T any] struct {
	engine   *Engine
	cfg      Config
	req      *Request
	pipeline Pipeline[I, T]
	signal   *CancelSignal
	progress *progressReporter
	retry    *retryState
	env      *Envelope[T]
	log      zerolog.Logger
	span     trace.Span
	attrs    []attribute.KeyValue
}

func newExecution[I, T any](
	e *Engine,
	req *Request,
	p Pipeline[I, T],
	id string,
	signal *CancelSignal,
	notify func(Checkpoint),
) *execution[I, T] {
	x := &execution[I, T]{
		engine:   e,
		cfg:      e.cfg.Config,
		req:      req,
		pipeline: p,
		signal:   signal,
		retry:    newRetryState(e.cfg.Config.Retry),
		env:      &Envelope[T]{ID: id, URL: req.rawURL},
		log: e.log.With().
			Str("request_id", id).
			Str("method", string(req.method)).
			Str("url", req.rawURL).
			Logger(),
		span:  trace.SpanFromContext(context.Background()),
		attrs: append(e.cfg.baseAttributes(), attribute.String("http.request.method", string(req.method))),
	}

	x.progress = newProgressReporter(func(cp Checkpoint) {
		x.span.AddEvent("checkpoint", trace.WithAttributes(
			attribute.String("courier.checkpoint", cp.String()),
			attribute.Int("courier.progress", int(cp)),
		))
		x.log.Debug().Int("progress", int(cp)).Str("checkpoint", cp.String()).Msg("checkpoint")
		if notify != nil {
			notify(cp)
		}
	})
	return x
}

// run drives the execution to a terminal state and returns the envelope.
func (x *execution[I, T]) run(ctx context.Context) *Envelope[T] {
	cfg := x.engine.cfg
	x.env.StartedAt = time.Now()

	ctx, x.span = cfg.Tracer.Start(ctx, "courier "+string(x.req.method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(slices.Concat(x.attrs, []attribute.KeyValue{
			attribute.String("courier.request_id", x.env.ID),
			attribute.String("url.full", x.req.rawURL),
		})...),
	)
	cfg.Metrics.recordExecutionStart(ctx, x.attrs)

	defer func() {
		x.env.FinishedAt = time.Now()
		x.finishTelemetry(ctx)
	}()

	if x.engine.sem != nil {
		if err := x.engine.sem.Acquire(ctx, 1); err != nil {
			x.env.Cancelled = true
			x.publish(Idle)
			x.publish(Disconnecting)
			x.publish(Done)
			return x.env
		}
		defer x.engine.sem.Release(1)
	}

	x.attempt(ctx)
	return x.env
}

// attempt runs one attempt and re-enters itself while the retry controller
// permits another one.
func (x *execution[I, T]) attempt(ctx context.Context) {
	wait, retry := x.attemptOnce(ctx)
	if !retry {
		return
	}

	if err := sleep(ctx, wait); err != nil {
		x.env.resetAttempt()
		x.env.Cancelled = true
		x.publish(Disconnecting)
		x.publish(Done)
		return
	}
	x.attempt(ctx)
}

func (x *execution[I, T]) publish(cp Checkpoint) {
	x.progress.publish(cp)
}

// cancelled reports whether cancellation was requested through the signal
// or the caller's context.
func (x *execution[I, T]) cancelled(ctx context.Context) bool {
	return x.signal.Cancelled() || ctx.Err() != nil
}

func (x *execution[I, T]) finishTelemetry(ctx context.Context) {
	env := x.env
	outcome := env.Outcome()

	var kind *Kind
	if env.Error != nil {
		kind = &env.Error.Kind
	}

	x.span.SetAttributes(
		attribute.String("courier.outcome", outcome.String()),
		attribute.Int("courier.attempts", env.Attempts),
	)
	if env.StatusCode > 0 {
		x.span.SetAttributes(attribute.Int("http.response.status_code", env.StatusCode))
	}
	if env.Error != nil {
		x.span.SetAttributes(attribute.String("error.type", env.Error.Kind.String()))
		x.span.RecordError(env.Error)
		x.span.SetStatus(codes.Error, env.Error.Message)
	}
	x.span.End()

	x.engine.cfg.Metrics.recordExecutionEnd(ctx, env.Duration(), outcome, kind, x.attrs)

	event := x.log.Debug().
		Str("outcome", outcome.String()).
		Int("status", env.StatusCode).
		Int("attempts", env.Attempts).
		Dur("duration", env.Duration())
	if env.Error != nil {
		event = event.Err(env.Error)
	}
	event.Msg("request finished")
}
