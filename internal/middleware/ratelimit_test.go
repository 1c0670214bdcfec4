package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		VerifyRate:      1,
		VerifyBurst:     1,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func accountRequest(accountID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	return req.WithContext(ContextWithAccountID(req.Context(), accountID))
}

func ipRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify", nil)
	req.RemoteAddr = ip + ":54321"
	return req
}

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.GeneralBurst = 5
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, accountRequest("account-1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), accountRequest("account-429"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, accountRequest("account-429"))

	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
	retryAfter := w.Header().Get("Retry-After")
	if sec, err := strconv.Atoi(retryAfter); err != nil || sec < 1 {
		t.Errorf("Retry-After = %q, want positive integer", retryAfter)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
}

// TestRateLimitMiddleware_IsolatesAccounts はアカウントごとにレート制限が独立していることを検証する。
func TestRateLimitMiddleware_IsolatesAccounts(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), accountRequest("account-A"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, accountRequest("account-B"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("account-B status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
}

// TestRateLimitMiddleware_FallsBackToIP は未認証リクエストがクライアントIPで制限されることを検証する。
func TestRateLimitMiddleware_FallsBackToIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), ipRequest("203.0.113.7"))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, ipRequest("203.0.113.7"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
}

// --- VerifyMiddleware のテスト ---

// TestVerifyRateLimit_PerIP はコード検証が同一IPで制限され、別IPには影響しないことを検証する。
func TestVerifyRateLimit_PerIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.VerifyMiddleware()(okHandler())

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, ipRequest("198.51.100.1"))
	if w1.Result().StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", w1.Result().StatusCode, http.StatusOK)
	}

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, ipRequest("198.51.100.1"))
	if w2.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", w2.Result().StatusCode, http.StatusTooManyRequests)
	}

	w3 := httptest.NewRecorder()
	handler.ServeHTTP(w3, ipRequest("198.51.100.2"))
	if w3.Result().StatusCode != http.StatusOK {
		t.Errorf("other IP status = %d, want %d", w3.Result().StatusCode, http.StatusOK)
	}
}

// TestVerifyRateLimit_IndependentFromGeneralLimit は検証の制限がAPI全般の制限と独立していることを検証する。
func TestVerifyRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	verify := rl.VerifyMiddleware()(okHandler())
	general := rl.GeneralMiddleware()(okHandler())

	verify.ServeHTTP(httptest.NewRecorder(), ipRequest("192.0.2.10"))

	w := httptest.NewRecorder()
	general.ServeHTTP(w, ipRequest("192.0.2.10"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("general status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if rl.VerifyLimiterCount() != 1 || rl.GeneralLimiterCount() != 1 {
		t.Errorf("limiter counts = %d/%d, want 1/1", rl.VerifyLimiterCount(), rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), accountRequest("account-cleanup"))
	rl.VerifyMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), ipRequest("192.0.2.20"))

	// まだ期限内
	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}

	// エントリのTTLはCleanupIntervalの2倍
	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.VerifyLimiterCount() != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d/%d", rl.GeneralLimiterCount(), rl.VerifyLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.GeneralRate != 2 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.VerifyBurst != 10 {
		t.Errorf("VerifyBurst = %d, want 10", cfg.VerifyBurst)
	}
	if cfg.VerifyRate == 0 {
		t.Error("VerifyRate should not be 0")
	}
	if cfg.CleanupInterval <= 0 {
		t.Error("CleanupInterval should be positive")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := clientIP(req); got != "2001:db8::1" {
		t.Errorf("clientIP = %q, want 2001:db8::1", got)
	}
	req.RemoteAddr = "no-port"
	if got := clientIP(req); got != "no-port" {
		t.Errorf("clientIP = %q, want no-port", got)
	}
}
