package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/servimap/servimap/pkg/logger"
)

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, testLogger())
	handler := rl.Handler(okHandler())

	call := func(remote, userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/requests", nil)
		req.RemoteAddr = remote
		if userID != "" {
			req = req.WithContext(logger.WithUser(req.Context(), userID, "customer"))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := call("10.0.0.1:1000", ""); code != http.StatusOK {
			t.Fatalf("call %d: status %d", i, code)
		}
	}
	// Same IP, different source port shares the bucket.
	if code := call("10.0.0.1:2000", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", code)
	}
	if code := call("10.0.0.2:1000", ""); code != http.StatusOK {
		t.Fatalf("other IP should not be limited, got %d", code)
	}
	if code := call("10.0.0.1:1000", "user-9"); code != http.StatusOK {
		t.Fatalf("authenticated callers are keyed by user, got %d", code)
	}
}

func TestRateLimiterCleanupKeepsActive(t *testing.T) {
	rl := NewRateLimiter(1, 1, testLogger())
	rl.getLimiter("a")
	rl.Cleanup()
	if len(rl.limiters) != 1 {
		t.Fatalf("recently used limiter was pruned")
	}
	rl.idleTTL = -1
	rl.Cleanup()
	if len(rl.limiters) != 0 {
		t.Fatalf("idle limiter was not pruned")
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := NewCORSMiddleware(CORSOptions{
		AllowedOrigins: []string{"https://app.servimap.test", ".servimap.dev"},
	}).Handler(okHandler())

	tests := []struct {
		name      string
		method    string
		origin    string
		requested string
		headers   string
		allowed   bool
		status    int
	}{
		{"exact origin", http.MethodGet, "https://app.servimap.test", "", "", true, http.StatusOK},
		{"origin case", http.MethodGet, "https://APP.servimap.test", "", "", true, http.StatusOK},
		{"suffix origin", http.MethodGet, "https://staging.servimap.dev", "", "", true, http.StatusOK},
		{"unknown origin", http.MethodGet, "https://evil.test", "", "", false, http.StatusOK},
		{"preflight", http.MethodOptions, "https://app.servimap.test", "PATCH", "content-type, x-trace-id", true, http.StatusNoContent},
		{"preflight unknown origin", http.MethodOptions, "https://evil.test", "GET", "", false, http.StatusForbidden},
		{"preflight method", http.MethodOptions, "https://app.servimap.test", "TRACE", "", false, http.StatusForbidden},
		{"preflight header", http.MethodOptions, "https://app.servimap.test", "GET", "X-Debug", false, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/providers", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.requested != "" {
				req.Header.Set("Access-Control-Request-Method", tt.requested)
			}
			if tt.headers != "" {
				req.Header.Set("Access-Control-Request-Headers", tt.headers)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.status)
			}
			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.allowed && got != tt.origin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.origin)
			}
			if !tt.allowed && got != "" {
				t.Errorf("Allow-Origin = %q, want empty", got)
			}
		})
	}
}

func TestCORSMiddlewareCustomOptions(t *testing.T) {
	m := NewCORSMiddleware(CORSOptions{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"get", " post ", "GET"},
		AllowedHeaders: []string{"authorization"},
		MaxAge:         10 * time.Minute,
	})
	if !m.OriginAllowed("https://anything.test") || m.OriginAllowed("") {
		t.Fatalf("wildcard should allow any non-empty origin")
	}

	req := httptest.NewRequest(http.MethodOptions, "/v1/requests", nil)
	req.Header.Set("Origin", "https://anything.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Authorization" {
		t.Errorf("Allow-Headers = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("Max-Age = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/v1/requests", nil)
	req.Header.Set("Origin", "https://anything.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec = httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("DELETE preflight status = %d, want 403", rec.Code)
	}
}

func TestTracingMiddleware(t *testing.T) {
	var seen string
	handler := NewTracingMiddleware(testLogger()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.TraceID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/requests", nil)
	req.Header.Set(TraceHeader, "trace-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "trace-abc" || rec.Header().Get(TraceHeader) != "trace-abc" {
		t.Fatalf("incoming trace id not propagated: ctx=%q header=%q", seen, rec.Header().Get(TraceHeader))
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/requests", nil))
	if seen == "" || seen == "trace-abc" || rec.Header().Get(TraceHeader) != seen {
		t.Fatalf("expected generated trace id, got %q", seen)
	}
}
