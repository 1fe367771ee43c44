package courier

import (
	"context"
	"net"
	"net/http"
	"time"
)

// attemptTransportKey carries the per-attempt transport through the
// request context so shared decorators (breaker, rate limit) can wrap it.
type attemptTransportKey struct{}

// newAttemptTransport builds a transport that serves exactly one attempt.
// Keep-alives are off so the connection is never shared, and compression
// is off because the engine decodes Content-Encoding itself.
func newAttemptTransport(connectTimeout, readTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: connectTimeout}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if readTimeout <= 0 {
				return conn, nil
			}
			return &deadlineConn{Conn: conn, readTimeout: readTimeout}, nil
		},
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		DisableKeepAlives:     true,
		DisableCompression:    true,
	}
}

// deadlineConn renews the read deadline before every read, which turns the
// read timeout into an idle timeout on the socket.
type deadlineConn struct {
	net.Conn
	readTimeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// attemptRoundTripper routes to the transport of the current attempt, or to
// a caller-supplied transport when one is configured.
type attemptRoundTripper struct {
	custom http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *attemptRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.custom != nil {
		return t.custom.RoundTrip(req)
	}
	if rt, ok := req.Context().Value(attemptTransportKey{}).(http.RoundTripper); ok {
		return rt.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func withAttemptTransport(ctx context.Context, rt http.RoundTripper) context.Context {
	return context.WithValue(ctx, attemptTransportKey{}, rt)
}

// buildTransportChain wraps the attempt router with the configured
// decorators. The order, outermost first, is rate limit, breaker, chaos.
func (cfg *internalConfig) buildTransportChain() http.RoundTripper {
	var rt http.RoundTripper = &attemptRoundTripper{custom: cfg.Transport}

	if cfg.Chaos != nil {
		rt = newChaosTransport(rt, *cfg.Chaos)
	}
	rt = newCircuitBreakerTransport(rt, cfg)
	if cfg.RateLimit != nil {
		rt = newRateLimitTransport(rt, *cfg.RateLimit)
	}
	return rt
}
