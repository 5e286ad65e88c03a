package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionMaxAge int // セッション有効期間（秒）。デフォルト7日
	PendingMaxAge int // 一時トークン有効期間（秒）。デフォルト10分

	// TOTP
	TOTPIssuer string

	// Demo
	// DemoCodeEnabled が真の場合のみ、init-2faレスポンスに現在の
	// 認証コードを含める。本番デプロイでは必ず無効にすること。
	DemoCodeEnabled bool

	// Avatar
	AvatarFetchTimeout time.Duration
	AvatarMaxSize      int64

	// Rate Limit
	RateLimitGeneral int // 認証済みAPIのレート（req/min/user）
	RateLimitAuth    int // 認証エンドポイントのレート（req/min/IP）

	// Server
	ServerPort  string
	MetricsPort string
	BaseURL     string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
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

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 7*24*60*60)
	cfg.PendingMaxAge = getEnvInt("PENDING_MAX_AGE", 10*60)
	cfg.TOTPIssuer = getEnvString("TOTP_ISSUER", "MAK Kotwal Venus")
	cfg.DemoCodeEnabled = getEnvBool("DEMO_CODE_ENABLED", false)
	cfg.AvatarFetchTimeout = getEnvDuration("AVATAR_FETCH_TIMEOUT", 10*time.Second)
	cfg.AvatarMaxSize = getEnvInt64("AVATAR_MAX_SIZE", 1048576)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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
