package codec

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/kroma-labs/courier-go/courier"
)

func newEngine(t *testing.T, mock *courier.MockTransport) *courier.Engine {
	t.Helper()
	e := courier.New(courier.WithMockTransport(mock))
	t.Cleanup(e.Close)
	return e
}

func respond(contentType string, body []byte) *courier.MockTransport {
	return courier.NewMockTransport().Enqueue(courier.MockResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {contentType}},
		Body:       body,
	})
}

func TestText(t *testing.T) {
	latin1, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte("café"))
	require.NoError(t, err)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        string
	}{
		{name: "given utf-8 text, then decoded as is", contentType: "text/plain; charset=utf-8", body: []byte("héllo"), want: "héllo"},
		{name: "given no charset, then the default applies", contentType: "text/plain", body: []byte("héllo"), want: "héllo"},
		{name: "given latin-1 text, then transcoded", contentType: "text/plain; charset=iso-8859-1", body: latin1, want: "café"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := courier.Execute(context.Background(), newEngine(t, respond(tt.contentType, tt.body)),
				courier.Get("https://api.example.com/text"), Text())

			require.NoError(t, env.Err())
			assert.Equal(t, tt.want, env.Result.OrElse(""))
		})
	}
}

func TestText_StreamFaults(t *testing.T) {
	t.Run("given a truncated body, then retried and the full text is returned", func(t *testing.T) {
		header := http.Header{"Content-Type": {"text/plain; charset=utf-8"}}
		mock := courier.NewMockTransport().
			Enqueue(courier.MockResponse{StatusCode: http.StatusOK, Header: header, Body: []byte("hello world"), TruncateAt: 4}).
			Enqueue(courier.MockResponse{StatusCode: http.StatusOK, Header: header, Body: []byte("hello world")})

		env := courier.Execute(context.Background(), newEngine(t, mock),
			courier.Get("https://api.example.com/text"), Text())

		require.NoError(t, env.Err())
		assert.Equal(t, "hello world", env.Result.OrElse(""))
		assert.Equal(t, 2, env.Attempts)
	})

	t.Run("given a body read timeout, then Timeout after one retry", func(t *testing.T) {
		var calls int
		rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
			calls++
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
				Body:       io.NopCloser(&stallingReader{data: []byte("h")}),
				Request:    req,
			}, nil
		})
		e := courier.New(courier.WithTransport(rt))
		t.Cleanup(e.Close)

		env := courier.Execute(context.Background(), e, courier.Get("https://api.example.com/text"), Text())

		require.Error(t, env.Err())
		assert.True(t, courier.IsKind(env.Err(), courier.KindTimeout))
		assert.Equal(t, 2, env.Attempts)
		assert.Equal(t, 2, calls)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

type timeoutError struct{}

func (timeoutError) Error() string   { return "read: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// stallingReader yields data and then times out.
type stallingReader struct {
	data []byte
}

func (r *stallingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, timeoutError{}
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestBytes(t *testing.T) {
	payload := []byte{0x00, 0xff, 0x10}
	env := courier.Execute(context.Background(), newEngine(t, respond("application/octet-stream", payload)),
		courier.Get("https://api.example.com/blob"), Bytes())

	require.NoError(t, env.Err())
	assert.Equal(t, payload, env.Result.OrElse(nil))
}

type user struct {
	ID   int    `json:"id" xml:"id"`
	Name string `json:"name" xml:"name"`
}

func TestJSON(t *testing.T) {
	t.Run("given valid json, then decoded into T", func(t *testing.T) {
		env := courier.Execute(context.Background(), newEngine(t, respond("application/json", []byte(`{"id":7,"name":"Ada"}`))),
			courier.Get("https://api.example.com/users/7"), JSON[user]())

		require.NoError(t, env.Err())
		assert.Equal(t, user{ID: 7, Name: "Ada"}, env.Result.OrElse(user{}))
	})

	t.Run("given invalid json, then Custom error", func(t *testing.T) {
		env := courier.Execute(context.Background(), newEngine(t, respond("application/json", []byte(`{"id":`))),
			courier.Get("https://api.example.com/users/7"), JSON[user]())

		require.NotNil(t, env.Error)
		assert.Equal(t, courier.KindCustom, env.Error.Kind)
		assert.Equal(t, "response cannot be parsed", env.Error.Message)
		assert.Equal(t, 1, env.Attempts)
	})

	t.Run("given gzip json, then decoded like plain", func(t *testing.T) {
		mock := courier.NewMockTransport().StubGzip(http.StatusOK, `{"id":1,"name":"Zip"}`)
		env := courier.Execute(context.Background(), newEngine(t, mock),
			courier.Get("https://api.example.com/users/1"), JSON[user]())

		require.NoError(t, env.Err())
		assert.Equal(t, "Zip", env.Result.OrElse(user{}).Name)
	})
}

func TestDocument(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    any
		wantErr bool
	}{
		{name: "given an object, then a map", body: `{"a":1}`, want: map[string]any{"a": float64(1)}},
		{name: "given an array, then a slice", body: ` ["x","y"]`, want: []any{"x", "y"}},
		{name: "given a scalar, then Custom error", body: `42`, wantErr: true},
		{name: "given broken json, then Custom error", body: `{"a":`, wantErr: true},
		{name: "given html, then Custom error", body: `<html></html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := courier.Execute(context.Background(), newEngine(t, respond("application/json", []byte(tt.body))),
				courier.Get("https://api.example.com/doc"), Document())

			if tt.wantErr {
				require.NotNil(t, env.Error)
				assert.Equal(t, courier.KindCustom, env.Error.Kind)
				assert.Equal(t, "response cannot be parsed", env.Error.Message)
				return
			}
			require.NoError(t, env.Err())
			assert.Equal(t, tt.want, env.Result.OrElse(nil))
		})
	}
}

func TestXML(t *testing.T) {
	t.Run("given xml, then decoded into T", func(t *testing.T) {
		body := []byte(`<user><id>3</id><name>Grace</name></user>`)
		env := courier.Execute(context.Background(), newEngine(t, respond("application/xml", body)),
			courier.Get("https://api.example.com/users/3"), XML[user]())

		require.NoError(t, env.Err())
		assert.Equal(t, user{ID: 3, Name: "Grace"}, env.Result.OrElse(user{}))
	})

	t.Run("given a latin-1 declaration, then transcoded", func(t *testing.T) {
		name, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte("José"))
		require.NoError(t, err)
		body := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><user><id>4</id><name>`), name...)
		body = append(body, []byte(`</name></user>`)...)

		env := courier.Execute(context.Background(), newEngine(t, respond("application/xml", body)),
			courier.Get("https://api.example.com/users/4"), XML[user]())

		require.NoError(t, env.Err())
		assert.Equal(t, "José", env.Result.OrElse(user{}).Name)
	})

	t.Run("given malformed xml, then Custom error", func(t *testing.T) {
		env := courier.Execute(context.Background(), newEngine(t, respond("application/xml", []byte(`<user>`))),
			courier.Get("https://api.example.com/users/5"), XML[user]())

		require.NotNil(t, env.Error)
		assert.Equal(t, courier.KindCustom, env.Error.Kind)
	})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImage(t *testing.T) {
	t.Run("given a png, then decoded", func(t *testing.T) {
		env := courier.Execute(context.Background(), newEngine(t, respond("image/png", pngBytes(t))),
			courier.Get("https://cdn.example.com/a.png"), Image())

		require.NoError(t, env.Err())
		img := env.Result.OrElse(nil)
		require.NotNil(t, img)
		assert.Equal(t, image.Rect(0, 0, 2, 3), img.Bounds())
	})

	t.Run("given an unsupported type, then Custom error", func(t *testing.T) {
		env := courier.Execute(context.Background(), newEngine(t, respond("image/gif", []byte("GIF89a"))),
			courier.Get("https://cdn.example.com/a.gif"), Image())

		require.NotNil(t, env.Error)
		assert.Equal(t, courier.KindCustom, env.Error.Kind)
		assert.Contains(t, env.Error.Message, "unsupported image type")
	})

	t.Run("given corrupt image data, then Custom error", func(t *testing.T) {
		env := courier.Execute(context.Background(), newEngine(t, respond("image/jpeg", []byte("not a jpeg"))),
			courier.Get("https://cdn.example.com/a.jpg"), Image())

		require.NotNil(t, env.Error)
		assert.Equal(t, courier.KindCustom, env.Error.Kind)
	})
}

func TestFileName(t *testing.T) {
	tests := []struct {
		url    string
		suffix string
		want   string
	}{
		{url: "https://cdn.example.com/files/report.pdf", suffix: "GET", want: "report.pdf"},
		{url: "https://cdn.example.com/files/report.pdf?v=2", suffix: "GET", want: "report.pdf"},
		{url: "https://cdn.example.com/a", suffix: "GET", want: "a_GET"},
		{url: "https://cdn.example.com/", suffix: "GET", want: "_GET"},
		{url: "https://cdn.example.com", suffix: "POST", want: "_POST"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.url, tt.suffix))
		})
	}
}

func TestFile(t *testing.T) {
	t.Run("given a body, then it is saved under the derived name", func(t *testing.T) {
		dir := t.TempDir()
		payload := bytes.Repeat([]byte("0123456789"), 2000)
		req := courier.Get("https://cdn.example.com/files/data.bin")

		env := courier.Execute(context.Background(), newEngine(t, respond("application/octet-stream", payload)),
			req, FileFor(dir, req))

		require.NoError(t, env.Err())
		path := env.Result.OrElse("")
		assert.Equal(t, filepath.Join(dir, "data.bin"), path)

		saved, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, payload, saved)
	})

	t.Run("given a truncated body, then retried and no partial file remains", func(t *testing.T) {
		dir := t.TempDir()
		payload := []byte("complete payload")
		mock := courier.NewMockTransport().
			Enqueue(courier.MockResponse{StatusCode: http.StatusOK, Body: payload, TruncateAt: 4}).
			StubResponse(http.StatusOK, string(payload))

		env := courier.Execute(context.Background(), newEngine(t, mock),
			courier.Get("https://cdn.example.com/x"), File(dir, "x.txt"))

		require.NoError(t, env.Err())
		assert.Equal(t, 2, env.Attempts)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "x.txt", entries[0].Name())
	})
}
