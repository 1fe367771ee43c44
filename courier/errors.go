package courier

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the category of a RequestError.
type Kind int

const (
	// KindOther is used for faults that fit no other category.
	KindOther Kind = iota
	// KindMalformedURL means the target URL could not be parsed.
	KindMalformedURL
	// KindConnectFailure means the server could not be reached.
	KindConnectFailure
	// KindTimeout means a connect or read deadline expired.
	KindTimeout
	// KindTransportIO is any other failure while talking to the server.
	KindTransportIO
	// KindHTTPStatus means the server answered outside the 2xx range.
	KindHTTPStatus
	// KindIntercepted means a response interceptor aborted the request.
	KindIntercepted
	// KindCustom carries an explicit message, typically a decode failure.
	KindCustom
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindMalformedURL:
		return "MalformedUrl"
	case KindConnectFailure:
		return "ConnectFailure"
	case KindTimeout:
		return "Timeout"
	case KindTransportIO:
		return "TransportIO"
	case KindHTTPStatus:
		return "HttpStatus"
	case KindIntercepted:
		return "Intercepted"
	case KindCustom:
		return "Custom"
	default:
		return "Other"
	}
}

// Sentinel errors.
var (
	// ErrMalformedURL is wrapped by every MalformedURL error.
	ErrMalformedURL = errors.New("malformed url")

	// ErrCancelled is returned by Envelope.Err for cancelled executions.
	ErrCancelled = errors.New("request cancelled")

	// ErrAlreadySubmitted is returned when a request is submitted twice.
	ErrAlreadySubmitted = errors.New("request already submitted")
)

// RequestError is the terminal error of a failed execution.
type RequestError struct {
	// Kind is the error category.
	Kind Kind

	// StatusCode is the HTTP status for KindHTTPStatus and KindIntercepted.
	StatusCode int

	// Message is a human readable description.
	Message string

	// URL is the request target.
	URL string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	label := e.Kind.String()
	if e.Kind == KindHTTPStatus || e.Kind == KindIntercepted {
		label = fmt.Sprintf("%s(%d)", label, e.StatusCode)
	}

	msg := fmt.Sprintf("%s: %s", label, e.Message)
	if e.URL != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.URL)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a RequestError of the same kind.
// A zero StatusCode on the target matches any status.
func (e *RequestError) Is(target error) bool {
	t, ok := target.(*RequestError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.StatusCode == 0 || t.StatusCode == e.StatusCode
}

// NewCustom creates a KindCustom error with an explicit message.
func NewCustom(url, message string) *RequestError {
	return &RequestError{Kind: KindCustom, Message: message, URL: url}
}

// NewCustomf creates a KindCustom error with a formatted message.
func NewCustomf(url, format string, args ...any) *RequestError {
	return NewCustom(url, fmt.Sprintf(format, args...))
}

// NewStatusError creates a KindHTTPStatus error retaining the status code.
func NewStatusError(url string, statusCode int) *RequestError {
	return &RequestError{
		Kind:       KindHTTPStatus,
		StatusCode: statusCode,
		Message:    statusMessage(statusCode),
		URL:        url,
	}
}

// NewIntercepted creates a KindIntercepted error for an aborted response.
func NewIntercepted(url string, statusCode int) *RequestError {
	return &RequestError{
		Kind:       KindIntercepted,
		StatusCode: statusCode,
		Message:    "response intercepted",
		URL:        url,
	}
}

func statusMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "bad request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "resource not found"
	default:
		return fmt.Sprintf("server returned status code %d", code)
	}
}

// IsKind reports whether err is a RequestError of the given kind.
func IsKind(err error, kind Kind) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind == kind
	}
	return false
}

// StatusCodeOf extracts the HTTP status code carried by err, or 0.
func StatusCodeOf(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	return 0
}
