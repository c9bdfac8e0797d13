package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// countingRateLimited はRateLimitedRecorderのテスト実装。
type countingRateLimited struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRateLimited) RecordRateLimited(limiter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[limiter]++
}

// failingWindowStore は常にエラーを返すWindowStore。
type failingWindowStore struct{}

func (failingWindowStore) Hit(context.Context, string, time.Time, time.Duration, int) (Decision, error) {
	return Decision{}, errors.New("redis: connection refused")
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":54321"
	return req
}

func newWindowHandler(t *testing.T, store WindowStore, max int, recorder RateLimitedRecorder) http.Handler {
	t.Helper()
	mw := NewWindowRateLimitMiddleware(store, WindowRateLimitConfig{
		Name:   "general",
		Max:    max,
		Window: time.Hour,
	}, NewResponder(false), recorder)
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

// TestWindowRateLimit_101stRequestRejected は100回目までが通り101回目が429になることを検証する。
func TestWindowRateLimit_101stRequestRejected(t *testing.T) {
	store := NewMemoryWindowStore(time.Hour, time.Minute)
	defer store.Stop()
	recorder := &countingRateLimited{}
	handler := newWindowHandler(t, store, 100, recorder)

	for i := 1; i <= 100; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("203.0.113.7"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
		if i == 100 && w.Header().Get("X-RateLimit-Remaining") != "0" {
			t.Errorf("X-RateLimit-Remaining = %q on the 100th request, want 0", w.Header().Get("X-RateLimit-Remaining"))
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.7"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("101st request: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Message != "Too many requests from this IP, please try again in an hour!" {
		t.Errorf("message = %q", body.Message)
	}
	if recorder.counts["general"] != 1 {
		t.Errorf("recorded rejections = %d, want 1", recorder.counts["general"])
	}
}

func TestWindowRateLimit_IsolatesClients(t *testing.T) {
	store := NewMemoryWindowStore(time.Hour, time.Minute)
	defer store.Stop()
	handler := newWindowHandler(t, store, 2, nil)

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("198.51.100.1"))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.2"))
	if w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", got)
	}
}

func TestWindowRateLimit_StoreError_FailsOpen(t *testing.T) {
	handler := newWindowHandler(t, failingWindowStore{}, 1, nil)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.0.2.1"))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 when the store is unavailable", w.Code)
		}
	}
}

func TestMemoryWindowStore_RollingWindow(t *testing.T) {
	store := NewMemoryWindowStore(time.Hour, time.Minute)
	defer store.Stop()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d, err := store.Hit(ctx, "k", base.Add(time.Duration(i)*time.Minute), time.Hour, 3)
		if err != nil || !d.Allowed {
			t.Fatalf("hit %d: decision = %+v, err = %v", i, d, err)
		}
		if d.Remaining != 2-i {
			t.Errorf("hit %d: remaining = %d, want %d", i, d.Remaining, 2-i)
		}
	}

	// 最古のヒット(base)がウィンドウを抜けるまで30分
	d, _ := store.Hit(ctx, "k", base.Add(30*time.Minute), time.Hour, 3)
	if d.Allowed {
		t.Fatal("expected rejection while the window is full")
	}
	if d.RetryAfter != 30*time.Minute {
		t.Errorf("RetryAfter = %v, want 30m", d.RetryAfter)
	}

	// 拒否されたヒットは数えないため、最古が抜けた直後に1回分空く
	d, _ = store.Hit(ctx, "k", base.Add(time.Hour+time.Second), time.Hour, 3)
	if !d.Allowed {
		t.Fatal("expected the slot freed by the oldest hit to be available")
	}
	d, _ = store.Hit(ctx, "k", base.Add(time.Hour+2*time.Second), time.Hour, 3)
	if d.Allowed {
		t.Error("expected rejection once the freed slot is used")
	}
}

func TestMemoryWindowStore_ConcurrentHitsNeverExceedMax(t *testing.T) {
	store := NewMemoryWindowStore(time.Hour, time.Minute)
	defer store.Stop()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	now := time.Now()
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Hit(context.Background(), "shared", now, time.Hour, 20)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 20 {
		t.Errorf("allowed = %d, want exactly 20", allowed)
	}
}

func TestMemoryWindowStore_CleanupRemovesIdleKeys(t *testing.T) {
	store := NewMemoryWindowStore(time.Minute, time.Hour)
	defer store.Stop()
	now := time.Now()

	store.Hit(context.Background(), "idle", now.Add(-2*time.Minute), time.Minute, 10)
	store.Hit(context.Background(), "active", now, time.Minute, 10)
	store.cleanup(now)

	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
	d, err := store.Hit(context.Background(), "idle", now, time.Minute, 10)
	if err != nil || !d.Allowed {
		t.Errorf("removed key should start a fresh window, got %+v, %v", d, err)
	}
}

func TestLoginRateLimiter_BurstThenReject(t *testing.T) {
	recorder := &countingRateLimited{}
	rl := NewLoginRateLimiter(3, NewResponder(false), recorder)
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("203.0.113.9"))
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.9"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if recorder.counts["login"] != 1 {
		t.Errorf("recorded login rejections = %d, want 1", recorder.counts["login"])
	}

	other := httptest.NewRecorder()
	handler.ServeHTTP(other, requestFrom("203.0.113.10"))
	if other.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", other.Code)
	}
}
