package core

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmconnect/internal/config"
)

func TestClientLimiter_Reserve(t *testing.T) {
	l := newClientLimiter(1, 2, time.Minute)
	defer l.stop()

	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, _ := l.reserve("10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.reserve("10.0.0.1")
	assert.True(t, ok)

	ok, wait := l.reserve("10.0.0.1")
	assert.False(t, ok, "burst exhausted")
	assert.InDelta(t, time.Second, wait, float64(50*time.Millisecond))

	ok, _ = l.reserve("10.0.0.2")
	assert.True(t, ok, "buckets are per client")

	now = now.Add(time.Second)
	ok, _ = l.reserve("10.0.0.1")
	assert.True(t, ok, "token refilled")
}

func TestClientLimiter_Sweep(t *testing.T) {
	l := newClientLimiter(1, 1, time.Minute)
	defer l.stop()

	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.reserve("10.0.0.1")

	now = now.Add(30 * time.Second)
	l.reserve("10.0.0.2")

	now = now.Add(45 * time.Second)
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "10.0.0.1")
	assert.Contains(t, l.clients, "10.0.0.2")
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.RateLimitRPS = 0.5
	cfg.Server.RateLimitBurst = 1
	srv, err := NewServer(cfg, discardLogger())
	require.NoError(t, err)
	defer srv.limiter.stop()
	srv.MountRoutes()

	send := func(xff string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.7").Code)

	rec := send("203.0.113.7, 10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusOK, send("198.51.100.2").Code)
}

func TestNewServer_NoLimiterWhenDisabled(t *testing.T) {
	srv, err := NewServer(&config.Config{}, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, srv.limiter)
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name, xff, remote, want string
	}{
		{"forwarded chain", "203.0.113.7, 10.0.0.1", "10.0.0.9:1234", "203.0.113.7"},
		{"remote with port", "", "192.0.2.1:5555", "192.0.2.1"},
		{"remote without port", "", "192.0.2.1", "192.0.2.1"},
		{"blank forwarded", " , 10.0.0.1", "192.0.2.1:80", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, extractClientIP(req))
		})
	}
}
