package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLimiter(t *testing.T, cfg *rateLimiterConfig) *ipRateLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return newIPRateLimiter(ctx, cfg)
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		username       string
		password       string
		token          string
		reqUsername    string
		reqPassword    string
		reqToken       string
		expectedStatus int
	}{
		{
			name:           "no auth configured - allows request",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "valid basic auth",
			username:       "admin",
			password:       "secret123",
			reqUsername:    "admin",
			reqPassword:    "secret123",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid basic auth password",
			username:       "admin",
			password:       "secret123",
			reqUsername:    "admin",
			reqPassword:    "wrong",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "valid token auth",
			token:          "test-token-12345",
			reqToken:       "test-token-12345",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid token auth",
			token:          "test-token-12345",
			reqToken:       "wrong-token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "token auth takes precedence over basic auth",
			username:       "admin",
			password:       "secret123",
			token:          "test-token-12345",
			reqToken:       "test-token-12345",
			reqUsername:    "wrong",
			reqPassword:    "wrong",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing credentials",
			token:          "test-token-12345",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &authConfig{
				adminUsername: tt.username,
				adminPassword: tt.password,
				adminToken:    tt.token,
				enabled:       (tt.username != "" && tt.password != "") || tt.token != "",
			}
			handler := adminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}), cfg)

			req := httptest.NewRequest(http.MethodPost, "/admin/monitor/stop", nil)
			if tt.reqUsername != "" || tt.reqPassword != "" {
				req.SetBasicAuth(tt.reqUsername, tt.reqPassword)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401 response")
			}
		})
	}
}

func TestRateLimiterRefill(t *testing.T) {
	limiter := testLimiter(t, &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: 300 * time.Millisecond})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("request 4 should be denied (rate limit exceeded)")
	}

	// one token comes back every window/requestsPerIP
	now = now.Add(100 * time.Millisecond)
	if !limiter.allow("192.168.1.1") {
		t.Error("request after refill should be allowed")
	}
	if limiter.allow("192.168.1.1") {
		t.Error("only one token should have been refilled")
	}
}

func TestRateLimiterDifferentIPs(t *testing.T) {
	limiter := testLimiter(t, &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Second})

	for _, ip := range []string{"192.168.1.1", "192.168.1.2"} {
		for i := 0; i < 2; i++ {
			if !limiter.allow(ip) {
				t.Errorf("%s request %d should be allowed", ip, i+1)
			}
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("IP1 request 3 should be denied")
	}
	if limiter.allow("192.168.1.2") {
		t.Error("IP2 request 3 should be denied")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := testLimiter(t, &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Second})
	for i := 0; i < 100; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d should be allowed when rate limiter is disabled", i+1)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := testLimiter(t, &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Second})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.allow("192.168.1.1")
	now = now.Add(1500 * time.Millisecond)
	limiter.allow("192.168.1.2")
	now = now.Add(time.Second)
	limiter.cleanup()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.visitors["192.168.1.1"]; ok {
		t.Error("stale visitor should be removed")
	}
	if _, ok := limiter.visitors["192.168.1.2"]; !ok {
		t.Error("recent visitor should be kept")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"ipv4 with port", "192.168.1.1:12345", "", "192.168.1.1"},
		{"ipv6 with port", "[2001:db8::1]:12345", "", "2001:db8::1"},
		{"forwarded list", "10.0.0.1:12345", "203.0.113.1, 10.0.0.2", "203.0.113.1"},
		{"forwarded ipv6 without port", "127.0.0.1:8080", "2001:db8::42", "2001:db8::42"},
		{"forwarded ipv4 without port", "10.0.0.1:8080", "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := testLimiter(t, &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Minute})
	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), limiter)

	// different ports of the same client share a bucket
	for i, addr := range []string{"[2001:db8::1]:12345", "[2001:db8::1]:54321"} {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "[2001:db8::1]:1"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("request 3: expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
}

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		name              string
		permissive        bool
		allowedOrigins    []string
		requestOrigin     string
		expectAllowOrigin string
		expectCredentials bool
	}{
		{
			name:              "permissive mode allows all origins",
			permissive:        true,
			requestOrigin:     "https://example.com",
			expectAllowOrigin: "*",
		},
		{
			name:              "restricted mode allows listed origin",
			allowedOrigins:    []string{"https://dash.example.com"},
			requestOrigin:     "https://dash.example.com",
			expectAllowOrigin: "https://dash.example.com",
			expectCredentials: true,
		},
		{
			name:           "restricted mode blocks unlisted origin",
			allowedOrigins: []string{"https://dash.example.com"},
			requestOrigin:  "https://evil.com",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &corsConfig{permissive: tt.permissive, allowedOrigins: tt.allowedOrigins}
			handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}), cfg)
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			req.Header.Set("Origin", tt.requestOrigin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.expectAllowOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.expectAllowOrigin)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.expectCredentials {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.expectCredentials)
			}
		})
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for OPTIONS request")
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/admin/monitor/start", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Allow-Methods header on OPTIONS response")
	}
}

func TestLoadAuthConfig(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		wantEnabled bool
	}{
		{name: "no auth configured", envVars: map[string]string{}},
		{name: "basic auth only", envVars: map[string]string{"ADMIN_USERNAME": "admin", "ADMIN_PASSWORD": "secret"}, wantEnabled: true},
		{name: "username without password", envVars: map[string]string{"ADMIN_USERNAME": "admin"}},
		{name: "token auth only", envVars: map[string]string{"ADMIN_TOKEN": "test-token"}, wantEnabled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_TOKEN"} {
				t.Setenv(k, tt.envVars[k])
			}
			if cfg := loadAuthConfig(); cfg.enabled != tt.wantEnabled {
				t.Errorf("expected enabled=%v, got %v", tt.wantEnabled, cfg.enabled)
			}
		})
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "")
	cfg := loadRateLimiterConfig()
	if !cfg.enabled || cfg.requestsPerIP != 10 || cfg.window != time.Minute {
		t.Fatalf("defaults = %+v", cfg)
	}

	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "25")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "-5")
	cfg = loadRateLimiterConfig()
	if cfg.enabled || cfg.requestsPerIP != 25 || cfg.window != time.Minute {
		t.Fatalf("overrides = %+v", cfg)
	}
}

func TestLoadCORSConfig(t *testing.T) {
	tests := []struct {
		name           string
		envVars        map[string]string
		wantPermissive bool
		wantOriginsLen int
	}{
		{name: "default dev mode", envVars: map[string]string{}, wantPermissive: true},
		{name: "production mode", envVars: map[string]string{"ENV": "production"}},
		{
			name:           "production with allowed origins",
			envVars:        map[string]string{"ENV": "production", "CORS_ALLOWED_ORIGINS": "https://example.com, ,https://app.example.com"},
			wantOriginsLen: 2,
		},
		{name: "explicit permissive override", envVars: map[string]string{"ENV": "production", "CORS_PERMISSIVE": "1"}, wantPermissive: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ENV", "CORS_PERMISSIVE", "CORS_ALLOWED_ORIGINS"} {
				t.Setenv(k, tt.envVars[k])
			}
			cfg := loadCORSConfig()
			if cfg.permissive != tt.wantPermissive {
				t.Errorf("expected permissive=%v, got %v", tt.wantPermissive, cfg.permissive)
			}
			if len(cfg.allowedOrigins) != tt.wantOriginsLen {
				t.Errorf("expected %d allowed origins, got %d", tt.wantOriginsLen, len(cfg.allowedOrigins))
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name           string
		origin         string
		allowedOrigins []string
		want           bool
	}{
		{"exact match", "https://example.com", []string{"https://example.com", "https://other.com"}, true},
		{"no match", "https://evil.com", []string{"https://example.com"}, false},
		{"wildcard subdomain match", "https://app.example.com", []string{"*.example.com"}, true},
		{"wildcard subdomain deeper match", "https://api.v2.example.com", []string{"*.example.com"}, true},
		{"wildcard matches parent", "https://example.com", []string{"*.example.com"}, true},
		{"lookalike domain", "https://evilexample.com", []string{"*.example.com"}, false},
		{"http vs https mismatch", "http://example.com", []string{"https://example.com"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isOriginAllowed(tt.origin, tt.allowedOrigins); got != tt.want {
				t.Errorf("isOriginAllowed(%q, %v) = %v, want %v", tt.origin, tt.allowedOrigins, got, tt.want)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		input      string
		defaultVal int
		want       int
	}{
		{"123", 0, 123},
		{"", 42, 42},
		{"invalid", 42, 42},
		{"-1", 0, -1},
		{"0", 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseInt(tt.input, tt.defaultVal); got != tt.want {
				t.Errorf("parseInt(%q, %d) = %d, want %d", tt.input, tt.defaultVal, got, tt.want)
			}
		})
	}
}
