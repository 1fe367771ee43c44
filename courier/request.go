package courier

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Method is an HTTP request method supported by the engine.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodDelete Method = http.MethodDelete
)

// ParseMethod converts a method name, case-insensitively, to a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported method %q", s)
	}
}

// Request describes one HTTP request.
//
// Build it with the fluent setters, then hand it to Submit or Execute. The
// engine runs a private snapshot, so later changes never affect a running
// execution, and a request can be submitted only once. Use Clone to run the
// same request again.
//
// Example:
//
//	req := courier.NewRequest(courier.MethodPost, "https://api.example.com/users").
//	    Header("X-Tenant", "acme").
//	    BodyJSON(user).
//	    ReadTimeout(5 * time.Second)
type Request struct {
	method              Method
	rawURL              string
	query               url.Values
	header              http.Header
	body                []byte
	contentType         string
	bodyErr             error
	connectTimeout      time.Duration
	readTimeout         time.Duration
	bufferSize          int
	interceptor         ResponseInterceptor
	requestInterceptors []RequestInterceptor

	submitted atomic.Bool
}

// NewRequest creates a request for the given method and target URL.
// The URL is validated when the request executes.
func NewRequest(method Method, rawURL string) *Request {
	return &Request{
		method: method,
		rawURL: rawURL,
		header: make(http.Header),
	}
}

// Get creates a GET request.
func Get(rawURL string) *Request { return NewRequest(MethodGet, rawURL) }

// Post creates a POST request.
func Post(rawURL string) *Request { return NewRequest(MethodPost, rawURL) }

// Put creates a PUT request.
func Put(rawURL string) *Request { return NewRequest(MethodPut, rawURL) }

// Delete creates a DELETE request.
func Delete(rawURL string) *Request { return NewRequest(MethodDelete, rawURL) }

// Method returns the request method.
func (r *Request) Method() Method { return r.method }

// URL returns the target URL as given.
func (r *Request) URL() string { return r.rawURL }

// HeaderMap returns a copy of the request headers.
func (r *Request) HeaderMap() http.Header { return r.header.Clone() }

// Submitted reports whether the request has been handed to the engine.
func (r *Request) Submitted() bool { return r.submitted.Load() }

// Header sets a single request header, overriding any default header of the
// same name.
func (r *Request) Header(key, value string) *Request {
	r.header.Set(key, value)
	return r
}

// Headers sets multiple request headers.
func (r *Request) Headers(headers map[string]string) *Request {
	for k, v := range headers {
		r.header.Set(k, v)
	}
	return r
}

// Query adds a query parameter to the target URL.
func (r *Request) Query(key, value string) *Request {
	if r.query == nil {
		r.query = make(url.Values)
	}
	r.query.Add(key, value)
	return r
}

// Body sets a raw payload.
func (r *Request) Body(payload []byte) *Request {
	r.body = slices.Clone(payload)
	r.bodyErr = nil
	return r
}

// BodyString sets a text payload.
func (r *Request) BodyString(payload string) *Request {
	r.body = []byte(payload)
	r.bodyErr = nil
	return r
}

// BodyJSON marshals v as the payload and sets the JSON content type.
// A marshal failure surfaces as a KindCustom error at execution.
func (r *Request) BodyJSON(v any) *Request {
	data, err := json.Marshal(v)
	if err != nil {
		r.bodyErr = fmt.Errorf("marshal request body: %w", err)
		return r
	}
	r.body = data
	r.bodyErr = nil
	r.contentType = "application/json"
	return r
}

// ContentType sets the Content-Type of the payload.
func (r *Request) ContentType(contentType string) *Request {
	r.contentType = contentType
	return r
}

// ConnectTimeout bounds connection establishment. Zero uses the engine default.
func (r *Request) ConnectTimeout(d time.Duration) *Request {
	r.connectTimeout = d
	return r
}

// ReadTimeout bounds every read from the connection. Zero uses the engine default.
func (r *Request) ReadTimeout(d time.Duration) *Request {
	r.readTimeout = d
	return r
}

// BufferSize sets the decode buffer size. Zero uses the engine default.
func (r *Request) BufferSize(n int) *Request {
	r.bufferSize = n
	return r
}

// Intercept registers the response interceptor, replacing any previous one.
func (r *Request) Intercept(fn ResponseInterceptor) *Request {
	r.interceptor = fn
	return r
}

// Use appends request interceptors that run on every attempt.
func (r *Request) Use(interceptors ...RequestInterceptor) *Request {
	r.requestInterceptors = append(r.requestInterceptors, interceptors...)
	return r
}

// Clone returns a deep copy that has not been submitted, so it can run
// independently of r.
func (r *Request) Clone() *Request {
	c := &Request{
		method:              r.method,
		rawURL:              r.rawURL,
		header:              r.header.Clone(),
		body:                slices.Clone(r.body),
		contentType:         r.contentType,
		bodyErr:             r.bodyErr,
		connectTimeout:      r.connectTimeout,
		readTimeout:         r.readTimeout,
		bufferSize:          r.bufferSize,
		interceptor:         r.interceptor,
		requestInterceptors: slices.Clone(r.requestInterceptors),
	}
	if c.header == nil {
		c.header = make(http.Header)
	}
	if r.query != nil {
		c.query = make(url.Values, len(r.query))
		for k, v := range r.query {
			c.query[k] = slices.Clone(v)
		}
	}
	return c
}

// markSubmitted flags r as submitted. It fails if r was submitted before.
func (r *Request) markSubmitted() error {
	if !r.submitted.CompareAndSwap(false, true) {
		return ErrAlreadySubmitted
	}
	return nil
}

// resolveURL validates the target and merges query parameters.
func (r *Request) resolveURL() (*url.URL, error) {
	u, err := url.ParseRequestURI(strings.TrimSpace(r.rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrMalformedURL)
	}

	if len(r.query) > 0 {
		q := u.Query()
		for k, vs := range r.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// mergedHeader returns the defaults overridden by the request headers.
func (r *Request) mergedHeader(defaults map[string]string) http.Header {
	h := make(http.Header, len(defaults)+len(r.header))
	for k, v := range defaults {
		h.Set(k, v)
	}
	maps.Copy(h, r.header.Clone())
	if r.contentType != "" && h.Get("Content-Type") == "" {
		h.Set("Content-Type", r.contentType)
	}
	return h
}
