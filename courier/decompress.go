package courier

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedEncoding is returned for a Content-Encoding the engine cannot decode.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// decodeContent wraps body with the decoders named by a Content-Encoding
// header. Encodings are listed in the order they were applied, so they are
// undone in reverse. The returned closer releases decoder state only; the
// caller still owns body.
func decodeContent(body io.Reader, contentEncoding string) (io.ReadCloser, error) {
	encodings := parseEncodings(contentEncoding)

	var (
		r       = body
		closers []io.Closer
	)
	for i := len(encodings) - 1; i >= 0; i-- {
		next, closer, err := newDecoder(r, encodings[i])
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		r = next
		if closer != nil {
			closers = append(closers, closer)
		}
	}

	return &decodedBody{Reader: r, closers: closers}, nil
}

func parseEncodings(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		enc := strings.ToLower(strings.TrimSpace(part))
		if enc == "" || enc == "identity" {
			continue
		}
		out = append(out, enc)
	}
	return out
}

func newDecoder(r io.Reader, encoding string) (io.Reader, io.Closer, error) {
	switch encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if errors.Is(err, io.EOF) {
			// A compressed response may still carry no body at all.
			return strings.NewReader(""), nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, zr, nil
	case "deflate":
		return newDeflateReader(r)
	case "br":
		return brotli.NewReader(r), nil, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		rc := zr.IOReadCloser()
		return rc, rc, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams, since
// servers disagree on what "deflate" means.
func newDeflateReader(r io.Reader) (io.Reader, io.Closer, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(2)
	if errors.Is(err, io.EOF) && len(header) == 0 {
		return strings.NewReader(""), nil, nil
	}

	if len(header) == 2 && isZlibHeader(header[0], header[1]) {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("deflate: %w", err)
		}
		return zr, zr, nil
	}

	fr := flate.NewReader(br)
	return fr, fr, nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	return closeAll(b.closers)
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
