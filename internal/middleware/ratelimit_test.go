package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newLimiter(t *testing.T, rate int, whitelist ...string) (*RateLimiter, *time.Time) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rl := NewRateLimiter(ctx, rate, time.Minute, whitelist, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestAllowBudgetAndReset(t *testing.T) {
	rl, now := newLimiter(t, 2)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	*now = now.Add(time.Minute)
	assert.True(t, rl.Allow("10.0.0.1"))

	assert.Equal(t, int64(1), rl.Stats().Blocked)
	assert.Equal(t, 2, rl.Stats().TrackedIPs)
}

func TestEvict(t *testing.T) {
	rl, now := newLimiter(t, 5)
	rl.Allow("10.0.0.1")

	*now = now.Add(90 * time.Second)
	rl.Allow("10.0.0.2")
	rl.evict()
	assert.Equal(t, 2, rl.Stats().TrackedIPs)

	*now = now.Add(3 * time.Minute)
	rl.evict()
	assert.Equal(t, 0, rl.Stats().TrackedIPs)
}

func TestMiddleware(t *testing.T) {
	rl, _ := newLimiter(t, 1, "192.168.1.10")
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/los", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:5000").Code)
	blocked := do("10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "60", blocked.Header().Get("Retry-After"))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, do("192.168.1.10:80").Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "10.1.1.1:1234", "10.1.1.1"},
		{"remote without port", nil, "10.1.1.1", "10.1.1.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "10.0.0.1:80", "1.2.3.4"},
		{"forwarded with port", map[string]string{"X-Forwarded-For": "1.2.3.4:999"}, "10.0.0.1:80", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "10.0.0.1:80", "5.6.7.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
