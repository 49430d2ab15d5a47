package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.RequestsPerSecond != 10 {
		t.Errorf("expected RequestsPerSecond=10, got %f", cfg.RequestsPerSecond)
	}
	if cfg.Burst != 20 {
		t.Errorf("expected Burst=20, got %d", cfg.Burst)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("expected CleanupInterval=1m, got %v", cfg.CleanupInterval)
	}
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		CleanupInterval:   10 * time.Second,
	})
	defer rl.Close()

	if rl.rate != 10 {
		t.Errorf("expected rate=10, got %f", rl.rate)
	}
	if rl.burst != 20 {
		t.Errorf("expected burst=20, got %d", rl.burst)
	}
	if rl.idle != 5*time.Minute {
		t.Errorf("expected default idle timeout 5m, got %v", rl.idle)
	}
	if len(rl.clients) != 0 {
		t.Errorf("expected empty clients map, got %d entries", len(rl.clients))
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 2, Burst: 2})
	defer rl.Close()

	clientIP := "192.168.1.100"

	// First 2 requests should be allowed (burst)
	if !rl.Allow(clientIP) {
		t.Error("expected first request to be allowed")
	}
	if !rl.Allow(clientIP) {
		t.Error("expected second request to be allowed")
	}

	// Third request should be denied (burst exhausted)
	if rl.Allow(clientIP) {
		t.Error("expected third request to be denied")
	}

	// Wait for rate limit to refill
	time.Sleep(600 * time.Millisecond)

	if !rl.Allow(clientIP) {
		t.Error("expected request to be allowed after waiting")
	}
}

func TestRateLimiter_MultipleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 5, Burst: 5})
	defer rl.Close()

	client1 := "192.168.1.100"
	client2 := "192.168.1.101"

	// Both clients should have independent limits
	for i := 0; i < 5; i++ {
		if !rl.Allow(client1) {
			t.Errorf("client1 request %d should be allowed", i)
		}
		if !rl.Allow(client2) {
			t.Errorf("client2 request %d should be allowed", i)
		}
	}

	if rl.Allow(client1) {
		t.Error("client1 should be rate limited")
	}
	if rl.Allow(client2) {
		t.Error("client2 should be rate limited")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 100, Burst: 100})
	defer rl.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(clientNum int) {
			defer wg.Done()
			clientIP := fmt.Sprintf("192.168.1.%d", clientNum)
			for j := 0; j < 10; j++ {
				rl.Allow(clientIP)
			}
		}(i)
	}
	wg.Wait()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.clients) != 10 {
		t.Errorf("expected 10 clients, got %d", len(rl.clients))
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	var limited atomic.Int32
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 2,
		Burst:             2,
		OnLimited:         func(string) { limited.Add(1) },
	})
	defer rl.Close()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.100:12345"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", w.Header().Get("Retry-After"))
	}
	if limited.Load() != 1 {
		t.Errorf("expected OnLimited to be called once, got %d", limited.Load())
	}
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 100, Burst: 100})
	defer rl.Close()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("192.168.1.%d", i))
	}

	rl.evict(time.Now().Add(-time.Minute))
	rl.mu.Lock()
	kept := len(rl.clients)
	rl.mu.Unlock()
	if kept != 5 {
		t.Errorf("expected 5 recent clients to be kept, got %d", kept)
	}

	rl.evict(time.Now().Add(time.Second))
	rl.mu.Lock()
	left := len(rl.clients)
	rl.mu.Unlock()
	if left != 0 {
		t.Errorf("expected all clients to be evicted, got %d", left)
	}
}

func TestRateLimiter_CloseTwice(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Close()
	rl.Close()
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.100:12345", nil, "192.168.1.100"},
		{"x-forwarded-for", "10.0.0.1:12345", map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"}, "203.0.113.1"},
		{"x-real-ip", "10.0.0.1:12345", map[string]string{"X-Real-IP": "203.0.113.50"}, "203.0.113.50"},
		{"header priority", "10.0.0.1:12345", map[string]string{"X-Forwarded-For": "203.0.113.1", "X-Real-IP": "203.0.113.50"}, "203.0.113.1"},
		{"ipv6", "[2001:db8::1]:12345", nil, "2001:db8::1"},
		{"no port", "192.168.1.7", nil, "192.168.1.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %s, want %s", got, tt.want)
			}
		})
	}
}
