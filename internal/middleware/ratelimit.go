package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/dashgate/internal/model"
)

// Decision はウィンドウへのヒット判定結果。
type Decision struct {
	Allowed    bool
	Remaining  int           // 許可時の残り回数
	RetryAfter time.Duration // 拒否時、最古のヒットがウィンドウを抜けるまでの時間
}

// WindowStore はクライアントごとのローリングウィンドウのヒットログを保持する。
// 拒否されたヒットは記録しない。
type WindowStore interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error)
}

// RateLimitedRecorder はレート制限による拒否を記録する。
type RateLimitedRecorder interface {
	RecordRateLimited(limiter string)
}

// WindowRateLimitConfig はローリングウィンドウ制限の設定。
type WindowRateLimitConfig struct {
	Name   string        // メトリクスとログで使う制限名
	Max    int           // ウィンドウ内の最大リクエスト数
	Window time.Duration // ウィンドウ幅
}

// NewWindowRateLimitMiddleware はクライアントIPごとのローリングウィンドウ制限ミドルウェアを返す。
// 上限を超えたリクエストはRateLimitedとしてResponderへ渡す。
// ストア障害時は警告ログを出して通過させる。
func NewWindowRateLimitMiddleware(store WindowStore, cfg WindowRateLimitConfig, responder *Responder, recorder RateLimitedRecorder) func(next http.Handler) http.Handler {
	limit := strconv.Itoa(cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			decision, err := store.Hit(r.Context(), key, time.Now(), cfg.Window, cfg.Max)
			if err != nil {
				slog.Warn("rate limit store unavailable, allowing request",
					slog.String("limiter", cfg.Name),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !decision.Allowed {
				if recorder != nil {
					recorder.RecordRateLimited(cfg.Name)
				}
				responder.Respond(w, r, model.NewRateLimitedError(decision.RetryAfter))
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP はRemoteAddrからホスト部を取り出す。
// RealIPミドルウェアの後段に置くことでプロキシ越しのクライアントアドレスになる。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// windowEntry はキーごとのヒットログ。muで更新を直列化する。
type windowEntry struct {
	mu      sync.Mutex
	hits    []time.Time
	removed bool
}

// MemoryWindowStore はプロセス内のWindowStore実装。
// バックグラウンドで空になったエントリをクリーンアップする。
type MemoryWindowStore struct {
	mu      sync.RWMutex
	entries map[string]*windowEntry
	ttl     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryWindowStore は新しいMemoryWindowStoreを生成する。
// ttlは最後のヒットからエントリを破棄するまでの時間で、通常はウィンドウ幅を渡す。
func NewMemoryWindowStore(ttl, cleanupInterval time.Duration) *MemoryWindowStore {
	s := &MemoryWindowStore{
		entries: make(map[string]*windowEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go s.cleanupLoop(cleanupInterval)
	return s
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *MemoryWindowStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Hit はWindowStoreを実装する。
func (s *MemoryWindowStore) Hit(_ context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error) {
	for {
		e := s.entry(key)
		e.mu.Lock()
		if e.removed {
			// クリーンアップと競合したので取り直す
			e.mu.Unlock()
			continue
		}

		cutoff := now.Add(-window)
		kept := e.hits[:0]
		for _, h := range e.hits {
			if h.After(cutoff) {
				kept = append(kept, h)
			}
		}
		e.hits = kept

		if len(e.hits) >= max {
			var retry time.Duration
			if len(e.hits) > 0 {
				retry = e.hits[0].Add(window).Sub(now)
			}
			e.mu.Unlock()
			return Decision{Allowed: false, RetryAfter: retry}, nil
		}

		e.hits = append(e.hits, now)
		remaining := max - len(e.hits)
		e.mu.Unlock()
		return Decision{Allowed: true, Remaining: remaining}, nil
	}
}

// Len は現在管理されているキー数を返す。テスト用。
func (s *MemoryWindowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryWindowStore) entry(key string) *windowEntry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ダブルチェック
	if e, ok := s.entries[key]; ok {
		return e
	}
	e = &windowEntry{}
	s.entries[key] = e
	return e
}

func (s *MemoryWindowStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は最後のヒットからttlを超えたエントリを削除する。
func (s *MemoryWindowStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		e.mu.Lock()
		if len(e.hits) == 0 || now.Sub(e.hits[len(e.hits)-1]) > s.ttl {
			e.removed = true
			delete(s.entries, key)
		}
		e.mu.Unlock()
	}
}

// keyedLimiter はキーごとのトークンバケットと最終アクセス時刻を保持する。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LoginRateLimiter はOAuthコールバック用のIPごとのトークンバケット制限。
// 1分あたりperMinute回を上限とし、同数までのバーストを許す。
type LoginRateLimiter struct {
	rate      rate.Limit
	burst     int
	ttl       time.Duration
	responder *Responder
	recorder  RateLimitedRecorder

	mu       sync.Mutex
	limiters map[string]*keyedLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLoginRateLimiter は新しいLoginRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewLoginRateLimiter(perMinute int, responder *Responder, recorder RateLimitedRecorder) *LoginRateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rl := &LoginRateLimiter{
		rate:      rate.Limit(float64(perMinute) / 60.0),
		burst:     perMinute,
		ttl:       10 * time.Minute,
		responder: responder,
		recorder:  recorder,
		limiters:  make(map[string]*keyedLimiter),
		stopCh:    make(chan struct{}),
	}

	go rl.cleanupLoop(5 * time.Minute)

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *LoginRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware はログイン試行の制限ミドルウェアを返す。
func (rl *LoginRateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			res := rl.limiter(ip).Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "login"),
				)
				if rl.recorder != nil {
					rl.recorder.RecordRateLimited("login")
				}
				rl.responder.Respond(w, r, model.NewRateLimitedError(delay))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *LoginRateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	kl, ok := rl.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = kl
	}
	kl.lastAccess = time.Now()
	return kl.limiter
}

func (rl *LoginRateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *LoginRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, kl := range rl.limiters {
		if now.Sub(kl.lastAccess) > rl.ttl {
			delete(rl.limiters, key)
		}
	}
}
