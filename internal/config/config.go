package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// セッションストアの種別
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// minSessionSecretLength はstate Cookieの署名鍵として要求する最小バイト数。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Discord OAuth
	DiscordClientID     string `env:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string `env:"DISCORD_CLIENT_SECRET"`
	DiscordRedirectURL  string `env:"DISCORD_REDIRECT_URL"`
	// 空の場合はdiscord.comの既定エンドポイントを使う
	DiscordAuthURL       string        `env:"DISCORD_AUTH_URL"`
	DiscordTokenURL      string        `env:"DISCORD_TOKEN_URL"`
	DiscordAPIBaseURL    string        `env:"DISCORD_API_BASE_URL"`
	TokenExchangeTimeout time.Duration `env:"TOKEN_EXCHANGE_TIMEOUT" envDefault:"15s"`

	// Session
	SessionSecret      string        `env:"SESSION_SECRET"`
	SessionMaxAge      int           `env:"SESSION_MAX_AGE" envDefault:"604800"`
	SessionStore       string        `env:"SESSION_STORE" envDefault:"postgres"`
	OAuthStateTTL      time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	DefaultLandingPath string        `env:"DEFAULT_LANDING_PATH" envDefault:"/dashboard"`

	// Redis（SESSION_STORE=redis の場合のみ使用）
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"30"`

	// Session cleanup worker
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`
	SessionRetention       time.Duration `env:"SESSION_RETENTION" envDefault:"24h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Cookie
	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool   `env:"-"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`

	// ガード対象ページのプロキシ先。空ならJSONの概要を返す
	FrontendURL string `env:"FRONTEND_URL"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめて1つのエラーとして返す。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if missing := cfg.missingRequired(); len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.DiscordRedirectURL == "" {
		cfg.DiscordRedirectURL = cfg.BaseURL + "/auth/callback"
	}
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = cfg.BaseURL
	}
	cfg.CookieSecure = cfg.IsProduction() || strings.HasPrefix(cfg.BaseURL, "https://")

	return &cfg, nil
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) missingRequired() []string {
	required := []struct {
		key   string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"DISCORD_CLIENT_ID", c.DiscordClientID},
		{"DISCORD_CLIENT_SECRET", c.DiscordClientSecret},
		{"SESSION_SECRET", c.SessionSecret},
		{"BASE_URL", c.BaseURL},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	return missing
}

func (c *Config) validate() error {
	if len(c.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute http(s) URL: %q", c.BaseURL)
	}

	switch c.SessionStore {
	case SessionStorePostgres, SessionStoreRedis:
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q: %q", SessionStorePostgres, SessionStoreRedis, c.SessionStore)
	}

	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive: %d", c.SessionMaxAge)
	}
	if c.OAuthStateTTL <= 0 {
		return fmt.Errorf("OAUTH_STATE_TTL must be positive: %s", c.OAuthStateTTL)
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		return fmt.Errorf("rate limits must be positive: general=%d auth=%d", c.RateLimitGeneral, c.RateLimitAuth)
	}
	if c.SessionCleanupInterval <= 0 {
		return fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive: %s", c.SessionCleanupInterval)
	}
	if !strings.HasPrefix(c.DefaultLandingPath, "/") || strings.HasPrefix(c.DefaultLandingPath, "//") {
		return fmt.Errorf("DEFAULT_LANDING_PATH must be a local path: %q", c.DefaultLandingPath)
	}
	return nil
}
