package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/dashgate/internal/metrics"
	"github.com/hitoshi/dashgate/internal/middleware"
	"github.com/hitoshi/dashgate/internal/model"
	"github.com/hitoshi/dashgate/internal/security"
	"github.com/hitoshi/dashgate/internal/view"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Development bool
	Responder   *middleware.Responder
	Renderer    Renderer

	// セッション
	SessionResolver middleware.SessionResolver
	SessionCookies  SessionCookies

	// 認証・ユーザー
	AuthService AuthService
	AuthConfig  AuthHandlerConfig
	CSRFConfig  middleware.CSRFConfig
	Users       UserFinder

	// パイプライン
	TrustProxy        bool // X-Forwarded-For/X-Real-IPをクライアントアドレスとして採用する
	BodyLimit         int64
	WindowStore       middleware.WindowStore
	RateLimit         middleware.WindowRateLimitConfig
	LoginLimiter      *middleware.LoginRateLimiter
	Sanitizer         *security.InputSanitizer
	CORSAllowedOrigin string
	AccessLogger      *slog.Logger

	// 運用
	Health   Pinger
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// NewRouter はリクエストパイプラインとルーティングテーブルを構成したhttp.Handlerを返す。
//
// パイプラインの実行順序（前段のインフラを除き固定）:
//
//	RealIP(TrustProxy時のみ) → Recovery → Metrics →
//	BodyParser → MethodOverride → Session → CookieParser → SecurityHeaders →
//	RateLimit → Sanitize → CORS → Compress → RequestTime → AccessLog(開発モードのみ)
//
// /health、/metrics、/static/ はパイプラインの外側で処理し、レート制限の対象にしない。
func NewRouter(deps *RouterDeps) http.Handler {
	responder := deps.Responder

	ops := NewOpsRouter(deps.Health, responder, deps.Metrics, deps.Gatherer)
	ops.Handle("/static/*", http.StripPrefix("/static", view.StaticHandler()))

	// chiはルーティングに使うメソッドをコンテキストごとに一度だけ決める。
	// MethodOverrideより外側にchiのコンテキストを作らないようServeMuxで振り分ける。
	root := http.NewServeMux()
	root.Handle("GET /health", ops)
	root.Handle("GET /metrics", ops)
	root.Handle("GET /static/", ops)
	root.Handle("/", newAppRouter(deps))

	var h http.Handler = root
	h = middleware.NewRecoveryMiddleware(responder)(h)
	if deps.TrustProxy {
		h = chimw.RealIP(h)
	}
	return h
}

// NewOpsRouter は運用エンドポイント（/health、/metrics）だけを持つルーターを返す。
// workerプロセスも同じルーターで自身の状態を公開する。
func NewOpsRouter(health Pinger, responder *middleware.Responder, collector *metrics.Collector, gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()
	if collector != nil {
		r.Use(metrics.Middleware(collector))
	}
	r.Use(chimw.GetHead)

	r.Get("/health", HealthHandler(health, responder))
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}

	notFound := func(w http.ResponseWriter, r *http.Request) {
		responder.Respond(w, r, model.NewNotFoundError(originalURL(r)))
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

// newAppRouter はパイプライン本体とビュー・認証ルートを構成する。
func newAppRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	responder := deps.Responder

	var rateRecorder middleware.RateLimitedRecorder
	if deps.Metrics != nil {
		rateRecorder = deps.Metrics
		r.Use(metrics.Middleware(deps.Metrics))
	}
	r.Use(chimw.GetHead)

	// パイプライン本体
	r.Use(middleware.NewBodyParserMiddleware(deps.BodyLimit, responder))
	r.Use(middleware.NewMethodOverrideMiddleware())
	r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
	r.Use(middleware.NewCookieParserMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewWindowRateLimitMiddleware(deps.WindowStore, deps.RateLimit, responder, rateRecorder))
	r.Use(middleware.NewSanitizeMiddleware(deps.Sanitizer))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(chimw.Compress(5))
	r.Use(middleware.NewRequestTimeMiddleware(nil))
	if deps.Development {
		logger := deps.AccessLogger
		if logger == nil {
			logger = slog.Default()
		}
		r.Use(middleware.NewLoggingMiddleware(logger))
	}

	dispatcher := NewDispatcher(deps.Renderer, responder)
	index := NewIndexHandler(deps.Users)
	auth := NewAuthHandler(deps.AuthService, deps.SessionCookies, responder, deps.AuthConfig)

	// ビューと認証フロー（CSRF保護）
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig, responder))

		r.Get("/", dispatcher.Handle(index.Landing))
		r.Get("/dashboard", dispatcher.Handle(index.Dashboard))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/google", auth.Login)
			if deps.LoginLimiter != nil {
				r.With(deps.LoginLimiter.Middleware()).Get("/google/callback", auth.Callback)
			} else {
				r.Get("/google/callback", auth.Callback)
			}
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig, responder).ServeHTTP)

			// 状態を変えるためGETでは受け付けない
			r.Post("/logout", auth.Logout)
			r.Delete("/logout", auth.Logout)
		})
	})

	notFound := func(w http.ResponseWriter, r *http.Request) {
		responder.Respond(w, r, model.NewNotFoundError(originalURL(r)))
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	return r
}

// originalURL はサニタイズ前のリクエストURLを返す。
func originalURL(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
