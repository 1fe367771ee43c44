package courier

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	gobreaker "github.com/sony/gobreaker/v2"
)

// faultClass groups faults by how the retry controller treats them.
type faultClass int

const (
	faultPermanent faultClass = iota
	faultPrematureEOF
	faultTimeout
)

// String returns the string representation of the fault class.
func (c faultClass) String() string {
	switch c {
	case faultPrematureEOF:
		return "premature_eof"
	case faultTimeout:
		return "timeout"
	default:
		return "permanent"
	}
}

// Classify maps a transport fault to a RequestError.
//
// Classification order:
//   - an existing *RequestError is returned as is
//   - ErrMalformedURL: KindMalformedURL
//   - deadline and timeout faults: KindTimeout
//   - refused, unreachable, DNS and dial faults, open breaker: KindConnectFailure
//   - other network, syscall, TLS and stream faults: KindTransportIO
//   - anything else: KindOther
func Classify(err error, url string) *RequestError {
	if err == nil {
		return nil
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		if reqErr.URL == "" {
			reqErr.URL = url
		}
		return reqErr
	}

	kind, msg := classifyKind(err)
	return &RequestError{Kind: kind, Message: msg, URL: url, Err: err}
}

func classifyKind(err error) (Kind, string) {
	switch {
	case errors.Is(err, ErrMalformedURL):
		return KindMalformedURL, "malformed url"
	case isTimeout(err):
		return KindTimeout, "connection timeout"
	case isConnectFailure(err):
		return KindConnectFailure, "server not responding"
	case isTransportIO(err):
		return KindTransportIO, "transport failure"
	}

	// Fallback for wrapped errors from third-party libraries.
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "i/o timeout"):
		return KindTimeout, "connection timeout"
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "network is unreachable"):
		return KindConnectFailure, "server not responding"
	case strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "broken pipe"),
		strings.Contains(errStr, "server closed"),
		strings.Contains(errStr, "unexpected eof"):
		return KindTransportIO, "transport failure"
	}

	return KindOther, "request failed"
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectFailure(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTransportIO(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, ErrUnsupportedEncoding) {
		return true
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var errno syscall.Errno
	return errors.As(err, &errno)
}

// classifyFault reports how the retry controller should treat err.
func classifyFault(err error) faultClass {
	if err == nil {
		return faultPermanent
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return faultPrematureEOF
	}

	if isTimeout(err) {
		return faultTimeout
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "unexpected eof"),
		strings.Contains(errStr, "server closed"):
		return faultPrematureEOF
	case strings.Contains(errStr, "i/o timeout"):
		return faultTimeout
	}

	return faultPermanent
}
