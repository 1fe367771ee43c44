package codec

import (
	"bufio"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/kroma-labs/courier-go/courier"
)

const (
	minFileNameLen = 3
	copyBufferSize = 8192
)

// File streams the body into dir/name and returns the saved path. The body
// goes to a temporary file first, so a failed or retried download never
// leaves a partial file under name.
func File(dir, name string) courier.Pipeline[string, string] {
	return courier.Passthrough(func(_ string, r io.Reader) (string, error) {
		return saveFile(dir, name, r)
	})
}

// FileFor is File with the name derived from the request, see FileName.
func FileFor(dir string, req *courier.Request) courier.Pipeline[string, string] {
	return File(dir, FileName(req.URL(), string(req.Method())))
}

// FileName derives a download name from the last path segment of rawURL.
// Names shorter than three characters get "_" and suffix appended.
func FileName(rawURL, suffix string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "." || name == "/" {
		name = ""
	}
	if len(name) < minFileNameLen {
		name += "_" + suffix
	}
	return name
}

func saveFile(dir, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fileError(dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.part")
	if err != nil {
		return "", fileError(dir, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriterSize(tmp, copyBufferSize)
	if _, err := io.Copy(w, r); err != nil {
		// Read faults stay raw; the engine decides whether to retry.
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", fileError(dir, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fileError(dir, err)
	}

	target := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fileError(dir, err)
	}
	committed = true
	return target, nil
}

func fileError(dir string, err error) *courier.RequestError {
	reqErr := courier.NewCustomf("", "cannot write file in %s", dir)
	reqErr.Err = err
	return reqErr
}
