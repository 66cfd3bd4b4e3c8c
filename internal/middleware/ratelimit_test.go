package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)

	for i := range 5 {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("6th request should be denied")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("a different key has its own window")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter(3, 10*time.Millisecond)

	for range 3 {
		rl.Allow("key")
	}
	if rl.Allow("key") {
		t.Error("should be blocked within window")
	}

	time.Sleep(15 * time.Millisecond)
	if !rl.Allow("key") {
		t.Error("should be allowed after window rolls over")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(5, 10*time.Millisecond)
	rl.Allow("stale")
	time.Sleep(15 * time.Millisecond)

	rl.windows["fresh"] = &window{count: 1, resetAt: time.Now().Add(time.Minute)}

	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.windows["stale"]; ok {
		t.Error("rolled-over window should have been removed")
	}
	if _, ok := rl.windows["fresh"]; !ok {
		t.Error("live window should survive cleanup")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	handler := RateLimit(rl, RealIP)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := range 2 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3rd request: status = %d, want 429", rec.Code)
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"direct", "", "10.0.0.9:41234", "10.0.0.9"},
		{"behind proxy", "203.0.113.7", "10.0.0.1:80", "203.0.113.7"},
		{"proxy chain", "203.0.113.7, 10.0.0.1", "10.0.0.1:80", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := RealIP(req); got != tt.want {
				t.Errorf("RealIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
