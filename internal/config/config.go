package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 実行モード
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// StoreKind はDATABASE_URLのスキームから決まる永続化バックエンドの種類。
type StoreKind string

const (
	StoreMongo    StoreKind = "mongo"
	StorePostgres StoreKind = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Mode
	AppEnv string

	// Store
	DatabaseURL   string
	MongoDatabase string
	RedisURL      string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret        string
	SessionMaxAge        int
	SessionSweepInterval time.Duration

	// Request pipeline
	BodyLimitBytes    int64
	RateLimitMax      int
	RateLimitWindow   time.Duration
	RateLimitLogin    int
	CORSAllowedOrigin string
	// TrustProxy が有効な場合のみX-Forwarded-For/X-Real-IPをクライアントアドレスとして採用する
	TrustProxy bool

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieDomain string
}

// IsDevelopment は開発モードかどうかを返す。
// 開発モードではアクセスログと詳細なエラー表示が有効になる。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// Store はDATABASE_URLのスキームから永続化バックエンドを判定する。
func (c *Config) Store() (StoreKind, error) {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "mongodb://"), strings.HasPrefix(c.DatabaseURL, "mongodb+srv://"):
		return StoreMongo, nil
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return StorePostgres, nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL scheme")
	}
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if _, err := cfg.Store(); err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", EnvProduction)
	cfg.MongoDatabase = getEnvString("MONGO_DATABASE", "dashgate")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionSweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour)
	cfg.BodyLimitBytes = getEnvInt64("BODY_LIMIT_BYTES", 10*1024)
	cfg.RateLimitMax = getEnvInt("RATE_LIMIT_MAX", 100)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", time.Hour)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)

	// 0以下はティッカーのpanicや全リクエスト拒否につながるため起動時に弾く
	var nonPositive []string
	if cfg.SessionMaxAge <= 0 {
		nonPositive = append(nonPositive, "SESSION_MAX_AGE")
	}
	if cfg.SessionSweepInterval <= 0 {
		nonPositive = append(nonPositive, "SESSION_SWEEP_INTERVAL")
	}
	if cfg.BodyLimitBytes <= 0 {
		nonPositive = append(nonPositive, "BODY_LIMIT_BYTES")
	}
	if cfg.RateLimitMax <= 0 {
		nonPositive = append(nonPositive, "RATE_LIMIT_MAX")
	}
	if cfg.RateLimitWindow <= 0 {
		nonPositive = append(nonPositive, "RATE_LIMIT_WINDOW")
	}
	if cfg.RateLimitLogin <= 0 {
		nonPositive = append(nonPositive, "RATE_LIMIT_LOGIN")
	}
	if len(nonPositive) > 0 {
		return nil, fmt.Errorf("environment variables must be positive: %v", nonPositive)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
