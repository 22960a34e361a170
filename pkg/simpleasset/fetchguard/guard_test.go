package fetchguard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSafe(t *testing.T) {
	tests := []struct {
		url  string
		safe bool
	}{
		{"https://example.com/a.jpg", true},
		{"http://example.com/a.jpg", true},
		{"https://cdn.example.com:8443/path/img.png?x=1", true},
		{"http://8.8.8.8/x", true},
		{"http://172.15.0.1/x", true},
		{"http://172.32.0.1/x", true},

		{"http://127.0.0.1/x", false},
		{"http://127.1.2.3/x", false},
		{"http://localhost/x", false},
		{"http://LOCALHOST:8080/x", false},
		{"http://api.localhost/x", false},
		{"http://0.0.0.0/x", false},
		{"http://10.1.2.3/x", false},
		{"http://172.16.0.1/x", false},
		{"http://172.31.255.255/x", false},
		{"http://192.168.1.1/x", false},
		{"http://169.254.169.254/latest/meta-data", false},
		{"http://[::1]/x", false},
		{"http://[fc00::1]/x", false},

		{"ftp://example.com/a.jpg", false},
		{"file:///etc/passwd", false},
		{"gopher://example.com", false},
		{"data:image/png;base64,AAAA", false},
		{"//example.com/a.jpg", false},
		{"https:///a.jpg", false},
		{"::not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.safe, IsSafe(tt.url))
		})
	}
}

func TestControl(t *testing.T) {
	assert.NoError(t, Control("tcp", "93.184.216.34:443", nil))
	assert.ErrorIs(t, Control("tcp", "127.0.0.1:80", nil), ErrBlockedAddress)
	assert.ErrorIs(t, Control("tcp", "10.0.0.5:80", nil), ErrBlockedAddress)
	assert.ErrorIs(t, Control("tcp", "[::1]:80", nil), ErrBlockedAddress)
	assert.ErrorIs(t, Control("tcp", "garbage", nil), ErrBlockedAddress)
}

func TestNewClientRefusesLoopbackAtConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(2 * time.Second)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockedAddress)
}

func TestCheckRedirect(t *testing.T) {
	mk := func(raw string) *http.Request {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return &http.Request{URL: u}
	}

	assert.NoError(t, CheckRedirect(mk("https://example.com/b.png"), nil))
	assert.ErrorIs(t, CheckRedirect(mk("http://10.0.0.1/b.png"), nil), ErrBlockedAddress)

	via := []*http.Request{mk("https://a"), mk("https://b"), mk("https://c")}
	assert.Error(t, CheckRedirect(mk("https://example.com/b.png"), via))
}
