// Package promstats exports courier execution statistics to Prometheus by
// decorating observers.
//
// Usage:
//
//	stats := promstats.NewCollector("catalog")
//	prometheus.MustRegister(stats)
//	http.Handle("/metrics", promstats.Handler(prometheus.DefaultGatherer))
//
//	call, err := courier.Submit(ctx, engine, req, codec.JSON[Item](), promstats.Wrap(obs, stats))
package promstats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kroma-labs/courier-go/courier"
)

const namespace = "courier"

// Collector holds the Prometheus metrics fed by wrapped observers. It
// implements prometheus.Collector.
type Collector struct {
	service string

	outcomes    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	checkpoints *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewCollector creates a Collector whose series carry the given service
// label.
func NewCollector(service string) *Collector {
	return &Collector{
		service: service,
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished executions by terminal outcome.",
		}, []string{"service", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed executions by error kind.",
		}, []string{"service", "kind"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Lifecycle checkpoints reached.",
		}, []string{"service", "checkpoint"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Time from submission to the terminal callback.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "outcome"}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.outcomes.Describe(ch)
	c.errors.Describe(ch)
	c.checkpoints.Describe(ch)
	c.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.outcomes.Collect(ch)
	c.errors.Collect(ch)
	c.checkpoints.Collect(ch)
	c.duration.Collect(ch)
}

func (c *Collector) finish(outcome courier.Outcome, started time.Time) {
	c.outcomes.WithLabelValues(c.service, outcome.String()).Inc()
	c.duration.WithLabelValues(c.service, outcome.String()).Observe(time.Since(started).Seconds())
}

// Handler serves the metrics of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Wrap decorates obs so every notification is counted by c before being
// forwarded. Wrap once per submission: the duration is measured from the
// call to Wrap.
func Wrap[T any](obs courier.Observer[T], c *Collector) courier.Observer[T] {
	if obs == nil {
		obs = courier.ObserverFuncs[T]{}
	}
	return &observer[T]{next: obs, stats: c, started: time.Now()}
}

type observer[T any] struct {
	next    courier.Observer[T]
	stats   *Collector
	started time.Time
}

func (o *observer[T]) OnProgress(cp courier.Checkpoint) {
	o.stats.checkpoints.WithLabelValues(o.stats.service, cp.String()).Inc()
	o.next.OnProgress(cp)
}

func (o *observer[T]) OnSuccess(result courier.Result[T]) {
	o.stats.finish(courier.OutcomeSucceeded, o.started)
	o.next.OnSuccess(result)
}

func (o *observer[T]) OnError(err *courier.RequestError) {
	o.stats.errors.WithLabelValues(o.stats.service, err.Kind.String()).Inc()
	o.stats.finish(courier.OutcomeFailed, o.started)
	o.next.OnError(err)
}

func (o *observer[T]) OnCancelled() {
	o.stats.finish(courier.OutcomeCancelled, o.started)
	o.next.OnCancelled()
}

func (o *observer[T]) OnIntercepted(statusCode int) {
	o.stats.finish(courier.OutcomeIntercepted, o.started)
	if ic, ok := o.next.(courier.InterceptObserver); ok {
		ic.OnIntercepted(statusCode)
		return
	}
	// The URL is not known here; Call.Envelope carries it.
	o.next.OnError(courier.NewIntercepted("", statusCode))
}
