package courier

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// networkTrace collects connection timings of one attempt. Hooks may run on
// transport goroutines, hence the mutex.
type networkTrace struct {
	mu sync.Mutex

	dnsStart          time.Time
	dnsDone           time.Time
	connectStart      time.Time
	connectDone       time.Time
	tlsStart          time.Time
	tlsDone           time.Time
	gotConnTime       time.Time
	wroteRequestTime  time.Time
	firstResponseTime time.Time

	connRemote  string
	protocolVer string
}

// clientTraceHooks lets the engine react to transport milestones.
type clientTraceHooks struct {
	// gotConn fires once a connection is acquired.
	gotConn func()
	// wroteRequest fires after the request has been written.
	wroteRequest func()
}

func createClientTrace(nt *networkTrace, hooks clientTraceHooks) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(_ httptrace.DNSStartInfo) {
			nt.set(func() { nt.dnsStart = time.Now() })
		},
		DNSDone: func(_ httptrace.DNSDoneInfo) {
			nt.set(func() { nt.dnsDone = time.Now() })
		},
		ConnectStart: func(_, _ string) {
			nt.set(func() { nt.connectStart = time.Now() })
		},
		ConnectDone: func(_, _ string, _ error) {
			nt.set(func() { nt.connectDone = time.Now() })
		},
		TLSHandshakeStart: func() {
			nt.set(func() { nt.tlsStart = time.Now() })
		},
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			nt.set(func() {
				nt.tlsDone = time.Now()
				nt.protocolVer = state.NegotiatedProtocol
			})
		},
		GotConn: func(info httptrace.GotConnInfo) {
			nt.set(func() {
				nt.gotConnTime = time.Now()
				if info.Conn != nil && info.Conn.RemoteAddr() != nil {
					nt.connRemote = info.Conn.RemoteAddr().String()
				}
			})
			if hooks.gotConn != nil {
				hooks.gotConn()
			}
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			nt.set(func() { nt.wroteRequestTime = time.Now() })
			if hooks.wroteRequest != nil {
				hooks.wroteRequest()
			}
		},
		GotFirstResponseByte: func() {
			nt.set(func() { nt.firstResponseTime = time.Now() })
		},
	}
}

func (nt *networkTrace) set(fn func()) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	fn()
}

// addTraceEvents adds span events for the collected timings.
func (nt *networkTrace) addTraceEvents(span trace.Span) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	if !nt.dnsStart.IsZero() && !nt.dnsDone.IsZero() {
		span.AddEvent("dns.done", trace.WithTimestamp(nt.dnsDone),
			trace.WithAttributes(
				attribute.Float64("dns.duration_ms", msSince(nt.dnsStart, nt.dnsDone)),
			))
	}

	if !nt.connectStart.IsZero() && !nt.connectDone.IsZero() {
		span.AddEvent("connect.done", trace.WithTimestamp(nt.connectDone),
			trace.WithAttributes(
				attribute.Float64("connect.duration_ms", msSince(nt.connectStart, nt.connectDone)),
			))
	}

	if !nt.tlsStart.IsZero() && !nt.tlsDone.IsZero() {
		span.AddEvent("tls.done", trace.WithTimestamp(nt.tlsDone),
			trace.WithAttributes(
				attribute.Float64("tls.duration_ms", msSince(nt.tlsStart, nt.tlsDone)),
				attribute.String("tls.protocol", nt.protocolVer),
			))
	}

	if !nt.gotConnTime.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(nt.gotConnTime),
			trace.WithAttributes(attribute.String("network.peer.address", nt.connRemote)))
	}

	if !nt.firstResponseTime.IsZero() && !nt.wroteRequestTime.IsZero() {
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(nt.firstResponseTime),
			trace.WithAttributes(
				attribute.Float64("ttfb_ms", msSince(nt.wroteRequestTime, nt.firstResponseTime)),
			))
	}
}

// recordTimingMetrics records connect time and TTFB.
func (nt *networkTrace) recordTimingMetrics(ctx context.Context, m *metrics, attrs []attribute.KeyValue) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	if !nt.connectStart.IsZero() && !nt.connectDone.IsZero() {
		m.recordConnectDuration(ctx, nt.connectDone.Sub(nt.connectStart), attrs)
	}
	if !nt.wroteRequestTime.IsZero() && !nt.firstResponseTime.IsZero() {
		m.recordTTFB(ctx, nt.firstResponseTime.Sub(nt.wroteRequestTime), attrs)
	}
}

func msSince(from, to time.Time) float64 {
	return float64(to.Sub(from).Microseconds()) / 1000
}
