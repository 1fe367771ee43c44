package courier

import (
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// defaultDebugLogger is used when debug logging is on and no sink was given.
var defaultDebugLogger = zerolog.New(os.Stderr).With().Timestamp().Str("component", "courier").Logger()

// sensitiveHeaders are masked in debug output.
var sensitiveHeaders = []string{"Authorization", "Proxy-Authorization", "Cookie"}

// curlCommand renders req as an equivalent cURL invocation, headers sorted
// and credentials masked.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' -H 'Authorization: ***' -d '{"name":"John"}'
func curlCommand(req *http.Request, body []byte) string {
	var b strings.Builder
	b.WriteString("curl")

	if req.Method != http.MethodGet {
		b.WriteString(" -X ")
		b.WriteString(req.Method)
	}
	b.WriteString(" " + shellQuote(req.URL.String()))

	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		for _, v := range req.Header[k] {
			if slices.Contains(sensitiveHeaders, k) {
				v = "***"
			}
			b.WriteString(" -H " + shellQuote(k+": "+v))
		}
	}

	if len(body) > 0 {
		b.WriteString(" -d " + shellQuote(string(body)))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// logAttempt writes the outgoing request of an attempt.
func logAttempt(log zerolog.Logger, attempt int, req *http.Request, body []byte) {
	if log.GetLevel() == zerolog.Disabled {
		return
	}
	log.Debug().
		Int("attempt", attempt).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("curl", curlCommand(req, body)).
		Msg("sending request")
}

// logResponse writes the status line and headers of a response.
func logResponse(log zerolog.Logger, resp *http.Response) {
	if log.GetLevel() == zerolog.Disabled {
		return
	}
	headers := zerolog.Dict()
	for k, v := range resp.Header {
		headers.Strs(k, v)
	}
	log.Debug().
		Int("status", resp.StatusCode).
		Str("proto", resp.Proto).
		Dict("headers", headers).
		Msg("received response")
}
