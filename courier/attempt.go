package courier

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"go.opentelemetry.io/otel/propagation"
)

const defaultContentType = "application/octet-stream"

// attemptOnce runs a single attempt and records its outcome on the
// envelope. It returns retry=true when the attempt failed with a fault the
// retry controller accepted; the attempt has then been discarded silently
// and the caller must run a new one after wait.
//
// Early failures (malformed URL, unbuildable request) end after Idle. Every
// later exit publishes Disconnecting, releases the connection and publishes
// Done, unless a retry follows.
func (x *execution[I, T]) attemptOnce(ctx context.Context) (wait time.Duration, retry bool) {
	cfg := x.engine.cfg
	env := x.env

	env.Attempts++
	x.progress.restart()
	x.publish(Idle)
	cfg.Metrics.recordAttempt(ctx, x.attrs)

	target, err := x.req.resolveURL()
	if err != nil {
		env.fail(Classify(err, x.req.rawURL))
		return 0, false
	}
	env.URL = target.String()

	if x.req.bodyErr != nil {
		env.fail(&RequestError{Kind: KindCustom, Message: x.req.bodyErr.Error(), URL: env.URL, Err: x.req.bodyErr})
		return 0, false
	}

	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	var attemptTransport *http.Transport
	if cfg.Transport == nil {
		attemptTransport = newAttemptTransport(x.connectTimeout(), x.readTimeout())
		attemptCtx = withAttemptTransport(attemptCtx, attemptTransport)
	}

	nt := &networkTrace{}
	attemptCtx = httptrace.WithClientTrace(attemptCtx, createClientTrace(nt, clientTraceHooks{
		gotConn: func() { x.publish(Connected) },
		wroteRequest: func() {
			// The request is out; a pending cancel stops the wait for the response.
			if x.signal.Cancelled() {
				cancelAttempt()
			}
		},
	}))

	var body io.Reader
	if len(x.req.body) > 0 {
		body = bytes.NewReader(x.req.body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, string(x.req.method), env.URL, body)
	if err != nil {
		env.fail(&RequestError{Kind: KindConnectFailure, Message: "cannot open connection", URL: env.URL, Err: err})
		return 0, false
	}
	httpReq.Header = x.req.mergedHeader(x.cfg.DefaultHeaders)
	if x.cfg.RequestIDHeader != "" {
		httpReq.Header.Set(x.cfg.RequestIDHeader, env.ID)
	}
	cfg.Propagators.Inject(attemptCtx, propagation.HeaderCarrier(httpReq.Header))

	if err := applyRequestInterceptors(httpReq, x.req.requestInterceptors); err != nil {
		env.fail(&RequestError{Kind: KindCustom, Message: "request interceptor failed", URL: env.URL, Err: err})
		return 0, false
	}

	x.publish(Opened)

	defer func() {
		if !retry {
			x.publish(Disconnecting)
		}
		if attemptTransport != nil {
			attemptTransport.CloseIdleConnections()
		}
		nt.addTraceEvents(x.span)
		nt.recordTimingMetrics(ctx, cfg.Metrics, x.attrs)
		if !retry {
			x.publish(Done)
		}
	}()

	if x.cancelled(ctx) {
		env.Cancelled = true
		return 0, false
	}

	logAttempt(x.log, env.Attempts, httpReq, x.req.body)

	resp, err := x.engine.client.Do(httpReq)
	if err != nil {
		return x.fault(ctx, err)
	}
	x.publish(Connected)
	logResponse(x.log, resp)

	env.StatusCode = resp.StatusCode
	env.Header = resp.Header.Clone()
	if resp.Request != nil && resp.Request.URL != nil {
		env.URL = resp.Request.URL.String()
	}

	bodyClosed := false
	closeBody := func() {
		if !bodyClosed {
			bodyClosed = true
			_ = resp.Body.Close()
		}
	}
	defer closeBody()

	if x.cancelled(ctx) {
		env.Cancelled = true
		return 0, false
	}
	x.publish(StatusReceived)

	if x.req.interceptor != nil && x.req.interceptor(resp.StatusCode) {
		x.log.Debug().Int("status", resp.StatusCode).Msg("response intercepted")
		env.Intercepted = true
		return 0, false
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		env.fail(NewStatusError(env.URL, resp.StatusCode))
		return 0, false
	}

	if x.cancelled(ctx) {
		env.Cancelled = true
		return 0, false
	}
	contentType := resolveContentType(resp.Header.Get("Content-Type"), x.cfg.Charset)
	x.publish(TypeResolved)

	x.publish(BodyAvailable)
	defer func() {
		closeBody()
		if !retry {
			x.publish(ClosingBody)
		}
	}()
	if x.cancelled(ctx) {
		env.Cancelled = true
		return 0, false
	}

	decoded, err := decodeContent(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return x.fault(ctx, err)
	}
	defer decoded.Close()

	counter := &countingReader{r: decoded}
	stream := bufio.NewReaderSize(counter, x.bufferSize())
	x.publish(StreamReady)
	if x.cancelled(ctx) {
		env.Cancelled = true
		return 0, false
	}

	if _, err := stream.Peek(1); err != nil {
		if !errors.Is(err, io.EOF) {
			return x.fault(ctx, err)
		}
		if x.cfg.allowsEmptyBody(x.req.method, resp.StatusCode) {
			env.Result = Empty[T]()
			return 0, false
		}
	}

	intermediate, err := x.pipeline.Stream(contentType, stream)
	if err != nil {
		return x.streamFault(ctx, err)
	}
	cfg.Metrics.recordResponseBodySize(ctx, counter.n, x.attrs)

	if x.cancelled(ctx) {
		env.Cancelled = true
		return 0, false
	}

	result, err := x.pipeline.Result(intermediate)
	if err != nil {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			reqErr = &RequestError{Kind: KindCustom, Message: err.Error(), Err: err}
		}
		env.fail(Classify(reqErr, env.URL))
		return 0, false
	}

	env.Result = Value(result)
	return 0, false
}

// fault classifies a transport fault and consults the retry controller.
func (x *execution[I, T]) fault(ctx context.Context, err error) (time.Duration, bool) {
	if x.cancelled(ctx) {
		x.env.Cancelled = true
		return 0, false
	}

	reqErr := Classify(err, x.env.URL)
	if reqErr.Kind == KindTransportIO || reqErr.Kind == KindTimeout {
		class := classifyFault(err)
		if wait, ok := x.retry.allow(class); ok {
			x.log.Debug().
				Str("reason", class.String()).
				Int("attempt", x.env.Attempts).
				Dur("wait", wait).
				Err(err).
				Msg("retrying request")
			x.engine.cfg.Metrics.recordRetry(ctx, class, x.attrs)
			x.env.resetAttempt()
			return wait, true
		}
	}

	x.env.fail(reqErr)
	return 0, false
}

// streamFault handles a stream stage failure. Errors the stage built itself
// are terminal; anything else is an I/O fault of the body.
func (x *execution[I, T]) streamFault(ctx context.Context, err error) (time.Duration, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		x.env.fail(Classify(reqErr, x.env.URL))
		return 0, false
	}

	if Classify(err, x.env.URL).Kind == KindOther {
		err = &RequestError{Kind: KindTransportIO, Message: "failed to read response body", Err: err}
	}
	return x.fault(ctx, err)
}

func (x *execution[I, T]) connectTimeout() time.Duration {
	if x.req.connectTimeout > 0 {
		return x.req.connectTimeout
	}
	return x.cfg.ConnectTimeout
}

func (x *execution[I, T]) readTimeout() time.Duration {
	if x.req.readTimeout > 0 {
		return x.req.readTimeout
	}
	return x.cfg.ReadTimeout
}

func (x *execution[I, T]) bufferSize() int {
	if x.req.bufferSize > 0 {
		return x.req.bufferSize
	}
	if x.cfg.BufferSize > 0 {
		return x.cfg.BufferSize
	}
	return 8192
}

// resolveContentType defaults a missing Content-Type and adds the default
// charset to textual types that do not declare one.
func resolveContentType(header, defaultCharset string) string {
	if header == "" {
		return defaultContentType
	}

	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil {
		return header
	}
	if _, ok := params["charset"]; ok || defaultCharset == "" || !isTextual(mediaType) {
		return header
	}

	params["charset"] = defaultCharset
	if formatted := mime.FormatMediaType(mediaType, params); formatted != "" {
		return formatted
	}
	return header
}

func isTextual(mediaType string) bool {
	switch {
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/json",
		mediaType == "application/xml",
		mediaType == "application/javascript",
		strings.HasSuffix(mediaType, "+json"),
		strings.HasSuffix(mediaType, "+xml"):
		return true
	default:
		return false
	}
}

// countingReader counts the decoded bytes handed to the stream stage.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
