package courier

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// MockResponse describes one stubbed outcome of MockTransport.
type MockResponse struct {
	// StatusCode of the response. Ignored when Err is set.
	StatusCode int

	// Header of the response.
	Header http.Header

	// Body of the response.
	Body []byte

	// Err is returned instead of a response.
	Err error

	// TruncateAt cuts the body after n bytes and fails the next read with
	// io.ErrUnexpectedEOF. Zero disables truncation.
	TruncateAt int

	// Delay holds the response back. The request context still applies.
	Delay time.Duration
}

// MockTransport is an http.RoundTripper returning stubbed responses, for
// tests that drive an Engine without a server.
//
// Queued responses are served first, in order; after that the fallback
// stub answers every request.
type MockTransport struct {
	mu       sync.Mutex
	queue    []MockResponse
	fallback *MockResponse
	requests []*http.Request
	hook     func(*http.Request)
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse answers every request with status and body.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	return m.setFallback(MockResponse{StatusCode: statusCode, Body: []byte(body)})
}

// StubGzip answers every request with body gzip-encoded.
func (m *MockTransport) StubGzip(statusCode int, body string) *MockTransport {
	return m.setFallback(GzipResponse(statusCode, body))
}

// StubError fails every request with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	return m.setFallback(MockResponse{Err: err})
}

// StubHeader adds a header to the fallback response.
func (m *MockTransport) StubHeader(key, value string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallback == nil {
		m.fallback = &MockResponse{StatusCode: http.StatusOK}
	}
	if m.fallback.Header == nil {
		m.fallback.Header = make(http.Header)
	}
	m.fallback.Header.Add(key, value)
	return m
}

// Enqueue adds one-shot responses served before the fallback.
func (m *MockTransport) Enqueue(responses ...MockResponse) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
	return m
}

// OnRequest sets a hook called with every request.
func (m *MockTransport) OnRequest(fn func(*http.Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
	return m
}

func (m *MockTransport) setFallback(r MockResponse) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallback != nil && m.fallback.Header != nil && r.Header == nil {
		r.Header = m.fallback.Header
	}
	m.fallback = &r
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	hook := m.hook

	var next *MockResponse
	if len(m.queue) > 0 {
		next = &m.queue[0]
		m.queue = m.queue[1:]
	} else {
		next = m.fallback
	}
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if next == nil {
		return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL.String())
	}

	if next.Delay > 0 {
		timer := time.NewTimer(next.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	if next.Err != nil {
		return nil, next.Err
	}
	return next.build(req), nil
}

func (r *MockResponse) build(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	var body io.Reader = bytes.NewReader(r.Body)
	length := int64(len(r.Body))
	if r.TruncateAt > 0 && r.TruncateAt < len(r.Body) {
		body = &truncatedReader{r: bytes.NewReader(r.Body[:r.TruncateAt])}
	}
	header.Set("Content-Length", strconv.FormatInt(length, 10))

	return &http.Response{
		Status:        strconv.Itoa(r.StatusCode) + " " + http.StatusText(r.StatusCode),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(body),
		ContentLength: length,
		Request:       req,
	}
}

// truncatedReader reports io.ErrUnexpectedEOF where r ends.
type truncatedReader struct {
	r io.Reader
}

func (t *truncatedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// Requests returns all requests seen so far.
func (m *MockTransport) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request{}, m.requests...)
}

// RequestCount returns the number of requests seen so far.
func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil.
func (m *MockTransport) LastRequest() *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// GzipResponse builds a MockResponse carrying body gzip-encoded.
func GzipResponse(statusCode int, body string) MockResponse {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(body))
	_ = zw.Close()

	header := make(http.Header)
	header.Set("Content-Encoding", "gzip")
	return MockResponse{StatusCode: statusCode, Header: header, Body: buf.Bytes()}
}

// WithMockTransport routes every attempt through mock.
func WithMockTransport(mock *MockTransport) Option {
	return WithTransport(mock)
}
