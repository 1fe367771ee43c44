package codec

import (
	"bytes"
	"io"

	"golang.org/x/net/html/charset"

	"github.com/kroma-labs/courier-go/courier"
)

// Text decodes the body as text. The charset is taken from the Content-Type
// parameter, which the engine fills with the configured default when the
// server omits it.
func Text() courier.Pipeline[string, string] {
	return courier.Passthrough(readText)
}

// Bytes returns the raw body.
func Bytes() courier.Pipeline[[]byte, []byte] {
	return courier.Passthrough(readBytes)
}

// readText reads the whole body before transcoding. Read faults are
// returned raw so truncated or stalled bodies stay retryable.
func readText(contentType string, r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	decoded, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return "", unsupportedCharset(contentType, err)
	}
	data, err := io.ReadAll(decoded)
	if err != nil {
		return "", unsupportedCharset(contentType, err)
	}
	return string(data), nil
}

func readBytes(_ string, r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

func unsupportedCharset(contentType string, err error) *courier.RequestError {
	reqErr := courier.NewCustomf("", "unsupported charset in %q", contentType)
	reqErr.Err = err
	return reqErr
}
