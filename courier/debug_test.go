package courier

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurlCommand(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		header http.Header
		body   []byte
		want   string
	}{
		{
			name:   "given GET without headers, then minimal command",
			method: http.MethodGet,
			url:    "https://api.example.com/users",
			want:   "curl 'https://api.example.com/users'",
		},
		{
			name:   "given POST with body, then method and data are included",
			method: http.MethodPost,
			url:    "https://api.example.com/users",
			header: http.Header{"Content-Type": {"application/json"}},
			body:   []byte(`{"name":"John"}`),
			want:   `curl -X POST 'https://api.example.com/users' -H 'Content-Type: application/json' -d '{"name":"John"}'`,
		},
		{
			name:   "given credentials, then they are masked",
			method: http.MethodGet,
			url:    "https://api.example.com",
			header: http.Header{"Authorization": {"Bearer token"}, "Accept": {"*/*"}},
			want:   "curl 'https://api.example.com' -H 'Accept: */*' -H 'Authorization: ***'",
		},
		{
			name:   "given single quotes, then they are escaped",
			method: http.MethodPut,
			url:    "https://api.example.com",
			body:   []byte("it's"),
			want:   `curl -X PUT 'https://api.example.com' -d 'it'\''s'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.url, nil)
			assert.NoError(t, err)
			if tt.header != nil {
				req.Header = tt.header
			}

			assert.Equal(t, tt.want, curlCommand(req, tt.body))
		})
	}
}
