package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/motioncam/internal/control"
)

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiterEviction(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.maxCacheSize = 10
	for i := 0; i < 25; i++ {
		rl.Allow(string(rune('a' + i)))
	}
	assert.LessOrEqual(t, len(rl.clients), 10)
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.5:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, "192.168.1.5", getClientIP(r))

	r.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", getClientIP(r))
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := NewServer(Config{ClipsDir: t.TempDir(), RateLimitRPS: 0.001, RateLimitBurst: 1},
		Deps{State: control.NewState(false, nil)}, zaptest.NewLogger(t))

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/motion/toggle", nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())

	req := httptest.NewRequest(http.MethodGet, "/api/motion", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
