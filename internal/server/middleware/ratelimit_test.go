package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iudanet/decksync/internal/server/handlers"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("requests over limit are denied", func(t *testing.T) {
		limiter := NewRateLimiter(3, time.Minute, discardLogger())
		defer limiter.Stop()

		for range 3 {
			assert.True(t, limiter.Allow("user:a"))
		}
		assert.False(t, limiter.Allow("user:a"), "request over limit should be denied")
		assert.True(t, limiter.Allow("user:b"), "keys are tracked separately")
	})

	t.Run("tokens refill after window expires", func(t *testing.T) {
		limiter := NewRateLimiter(1, 50*time.Millisecond, discardLogger())
		defer limiter.Stop()

		assert.True(t, limiter.Allow("k"))
		assert.False(t, limiter.Allow("k"))

		time.Sleep(60 * time.Millisecond)
		assert.True(t, limiter.Allow("k"), "tokens should be refilled")
	})
}

func TestRateLimiter_CleanupOldBuckets(t *testing.T) {
	limiter := NewRateLimiter(5, 10*time.Millisecond, discardLogger())
	defer limiter.Stop()

	limiter.Allow("k")
	time.Sleep(30 * time.Millisecond)
	limiter.cleanupOldBuckets()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	assert.Empty(t, limiter.buckets)
}

func TestRateLimiter_Stop_Idempotent(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute, discardLogger())
	limiter.Stop()
	assert.NotPanics(t, limiter.Stop)
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute, discardLogger())
	defer limiter.Stop()

	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(userID, remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/replication/decks/pull", nil)
		req.RemoteAddr = remoteAddr
		if userID != "" {
			req = req.WithContext(handlers.WithUserID(req.Context(), userID))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	// Один пользователь с разных адресов делит один bucket
	assert.Equal(t, http.StatusOK, do("alice", "10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, do("alice", "10.0.0.2:1"))
	assert.Equal(t, http.StatusTooManyRequests, do("alice", "10.0.0.3:1"))

	// Другой пользователь с того же адреса не затронут
	assert.Equal(t, http.StatusOK, do("bob", "10.0.0.1:1"))

	// Анонимные запросы считаются по IP
	assert.Equal(t, http.StatusOK, do("", "10.0.0.9:1"))
	assert.Equal(t, http.StatusOK, do("", "10.0.0.9:1"))
	assert.Equal(t, http.StatusTooManyRequests, do("", "10.0.0.9:1"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xRealIP    string
		remoteAddr string
		expectedIP string
	}{
		{name: "remote addr", remoteAddr: "192.168.1.1:12345", expectedIP: "192.168.1.1:12345"},
		{name: "single forwarded ip", xff: "203.0.113.1", remoteAddr: "10.0.0.1:1", expectedIP: "203.0.113.1"},
		{name: "forwarded chain", xff: "203.0.113.1, 198.51.100.1", remoteAddr: "10.0.0.1:1", expectedIP: "203.0.113.1"},
		{name: "real ip", xRealIP: "203.0.113.5", remoteAddr: "10.0.0.1:1", expectedIP: "203.0.113.5"},
		{name: "forwarded wins over real ip", xff: "203.0.113.1", xRealIP: "203.0.113.5", remoteAddr: "10.0.0.1:1", expectedIP: "203.0.113.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			assert.Equal(t, tt.expectedIP, getClientIP(req))
		})
	}
}
