package courier

import (
	"net/http"
)

// ResponseInterceptor is consulted once per attempt with the received status
// code, before the status is checked against the success range. Returning
// true aborts the execution: no body is decoded, no retry happens, and the
// observer gets OnIntercepted instead of OnSuccess or OnError.
//
// Common use cases:
//   - redirecting the user to a login flow on 401
//   - treating maintenance responses (503) as a distinct outcome
type ResponseInterceptor func(statusCode int) (abort bool)

// AbortOn returns an interceptor that aborts on any of the given status codes.
func AbortOn(statusCodes ...int) ResponseInterceptor {
	set := make(map[int]struct{}, len(statusCodes))
	for _, code := range statusCodes {
		set[code] = struct{}{}
	}
	return func(statusCode int) bool {
		_, ok := set[statusCode]
		return ok
	}
}

// RequestInterceptor modifies the outgoing request of every attempt before it
// is sent. Interceptors run in the order they were added; an error ends the
// execution with a KindCustom error.
type RequestInterceptor func(req *http.Request) error

// AuthBearerInterceptor adds a Bearer token.
func AuthBearerInterceptor(token string) RequestInterceptor {
	return func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// AuthBearerFuncInterceptor adds a Bearer token obtained per attempt, which
// suits refreshable tokens.
func AuthBearerFuncInterceptor(tokenFunc func() (string, error)) RequestInterceptor {
	return func(req *http.Request) error {
		token, err := tokenFunc()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// UserAgentInterceptor sets the User-Agent header.
func UserAgentInterceptor(userAgent string) RequestInterceptor {
	return func(req *http.Request) error {
		req.Header.Set("User-Agent", userAgent)
		return nil
	}
}

func applyRequestInterceptors(req *http.Request, interceptors []RequestInterceptor) error {
	for _, interceptor := range interceptors {
		if err := interceptor(req); err != nil {
			return err
		}
	}
	return nil
}
