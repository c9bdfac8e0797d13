package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/dashgate/internal/auth"
	"github.com/hitoshi/dashgate/internal/config"
	"github.com/hitoshi/dashgate/internal/database"
	"github.com/hitoshi/dashgate/internal/handler"
	"github.com/hitoshi/dashgate/internal/logger"
	"github.com/hitoshi/dashgate/internal/metrics"
	"github.com/hitoshi/dashgate/internal/middleware"
	"github.com/hitoshi/dashgate/internal/security"
	"github.com/hitoshi/dashgate/internal/session"
	"github.com/hitoshi/dashgate/internal/user"
	"github.com/hitoshi/dashgate/internal/view"
	"github.com/hitoshi/dashgate/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 実行モードに応じたログレベル
	logger.SetDevelopment(cfg.IsDevelopment())

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// connectStore はストアに接続し、疎通を確認する。
func connectStore(ctx context.Context, cfg *config.Config) (*database.Store, error) {
	store, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("store", string(store.Kind)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return store, nil
}

// newWindowStore はレートリミットのカウンタ保存先を構築する。
// REDIS_URLが設定されていればRedisを使い、複数インスタンスで上限を共有する。
// 戻り値のstop関数は保持しているリソースを解放する。
func newWindowStore(cfg *config.Config) (middleware.WindowStore, func(), error) {
	if cfg.RedisURL == "" {
		store := middleware.NewMemoryWindowStore(cfg.RateLimitWindow, time.Minute)
		return store, store.Stop, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	slog.Info("rate limit store uses redis", slog.String("addr", opts.Addr))
	return middleware.NewRedisWindowStore(client), func() { _ = client.Close() }, nil
}

// newRouterDeps は設定とストアからルーターの依存関係を組み立てる。
func newRouterDeps(cfg *config.Config, store *database.Store, windows middleware.WindowStore, reg *prometheus.Registry) (*handler.RouterDeps, *middleware.LoginRateLimiter, error) {
	collector := metrics.NewCollector(reg)
	responder := middleware.NewResponder(cfg.IsDevelopment())

	renderer, err := view.NewRenderer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	sessions := session.NewManager(store.Sessions, session.Config{
		Secret:       cfg.SessionSecret,
		MaxAge:       time.Duration(cfg.SessionMaxAge) * time.Second,
		CookieDomain: cfg.CookieDomain,
	})

	users := user.NewService(store.Users, collector)
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(oauthProvider, users, sessions, collector)

	loginLimiter := middleware.NewLoginRateLimiter(cfg.RateLimitLogin, responder, collector)
	cookieSecure := !cfg.IsDevelopment()

	deps := &handler.RouterDeps{
		Development: cfg.IsDevelopment(),
		Responder:   responder,
		Renderer:    renderer,

		SessionResolver: sessions,
		SessionCookies:  sessions,

		AuthService: authService,
		AuthConfig:  handler.AuthHandlerConfig{CookieSecure: cookieSecure},
		CSRFConfig:  middleware.CSRFConfig{CookieSecure: cookieSecure, CookieDomain: cfg.CookieDomain},
		Users:       users,

		TrustProxy:  cfg.TrustProxy,
		BodyLimit:   cfg.BodyLimitBytes,
		WindowStore: windows,
		RateLimit: middleware.WindowRateLimitConfig{
			Name:   "general",
			Max:    cfg.RateLimitMax,
			Window: cfg.RateLimitWindow,
		},
		LoginLimiter:      loginLimiter,
		Sanitizer:         security.NewInputSanitizer(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		AccessLogger:      slog.Default(),

		Health:   store,
		Metrics:  collector,
		Gatherer: reg,
	}
	return deps, loginLimiter, nil
}

// newRegistry はランタイムとプロセスのコレクターを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newWorker はスイープジョブと、その状態を公開する運用エンドポイントを組み立てる。
func newWorker(cfg *config.Config, sessions cleanup.SessionSweeper, health handler.Pinger, reg *prometheus.Registry) (*cleanup.CleanupJob, http.Handler) {
	collector := metrics.NewCollector(reg)
	job := cleanup.NewCleanupJob(sessions, slog.Default(), collector)
	job.Interval = cfg.SessionSweepInterval

	ops := handler.NewOpsRouter(health, middleware.NewResponder(cfg.IsDevelopment()), collector, reg)
	return job, ops
}

// runServe はWebサーバーモードで起動する。
// ストアに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. ストア接続
	store, err := connectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	// 2. レートリミットのカウンタ
	windows, stopWindows, err := newWindowStore(cfg)
	if err != nil {
		return err
	}
	defer stopWindows()

	// 3. メトリクス
	reg := newRegistry()

	// 4. ルーターの構築
	deps, loginLimiter, err := newRouterDeps(cfg, store, windows, reg)
	if err != nil {
		return err
	}
	defer loginLimiter.Stop()

	router := handler.NewRouter(deps)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
			slog.Bool("development", cfg.IsDevelopment()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down web server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// ストアに接続し、期限切れセッションのスイープを定期実行する。
// スイープ件数とストアの疎通はSERVER_PORTの/metricsと/healthで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := connectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	job, ops := newWorker(cfg, store.Sessions, store, newRegistry())

	// /health と /metrics だけを公開する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      ops,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	go func() {
		select {
		case <-stop:
			slog.Info("shutting down worker...")
		case <-ctx.Done():
		}
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", job.Interval),
		slog.String("addr", server.Addr),
	)

	job.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker server shutdown failed: %w", err)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("worker server listen error: %w", err)
	default:
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はスキーマを最新化する。
// PostgreSQLでは未適用マイグレーションを順番に適用し、MongoDBではインデックスを作成する。
func runMigrate(cfg *config.Config) error {
	ctx := context.Background()

	store, err := connectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	slog.Info("running migrations", slog.String("store", string(store.Kind)))

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
