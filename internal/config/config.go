// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,required,notEmpty"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL,required,notEmpty"`

	// Redirect
	ClientRedirectURL string `env:"CLIENT_REDIRECT_URL,required,notEmpty"`
	AuthFailureURL    string `env:"AUTH_FAILURE_URL"`

	// Credentials
	ExchangeCodeTTL time.Duration `env:"EXCHANGE_CODE_TTL" envDefault:"5m"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"0s"`
	TokenCache      string        `env:"TOKEN_CACHE" envDefault:"none"`
	TokenCacheTTL   time.Duration `env:"TOKEN_CACHE_TTL" envDefault:"30s"`
	RedisURL        string        `env:"REDIS_URL"`

	// Avatar
	AvatarCheckTimeout time.Duration `env:"AVATAR_CHECK_TIMEOUT" envDefault:"3s"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral    int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitExchange   int `env:"RATE_LIMIT_EXCHANGE" envDefault:"20"`
	RateLimitNewsletter int `env:"RATE_LIMIT_NEWSLETTER" envDefault:"2"`

	// Worker
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Cookie（BASE_URLから導出）
	CookieSecure bool `env:"-"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"*"`
}

// Load はカレントディレクトリの.envを読み込んだ後、環境変数からConfigを読み込む。
// 既に設定済みの環境変数は.envで上書きされない。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse()
}

// Parse は環境変数のみからConfigを読み込み、検証する。
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AuthFailureURL == "" {
		cfg.AuthFailureURL = cfg.BaseURL + "/login"
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.TokenCache {
	case "none", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when TOKEN_CACHE=redis")
		}
	default:
		return fmt.Errorf("invalid TOKEN_CACHE %q (none|memory|redis)", c.TokenCache)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}

	if c.ExchangeCodeTTL <= 0 {
		return fmt.Errorf("EXCHANGE_CODE_TTL must be positive")
	}
	if c.TokenTTL < 0 {
		return fmt.Errorf("TOKEN_TTL must not be negative")
	}
	for name, v := range map[string]int{
		"RATE_LIMIT_GENERAL":    c.RateLimitGeneral,
		"RATE_LIMIT_EXCHANGE":   c.RateLimitExchange,
		"RATE_LIMIT_NEWSLETTER": c.RateLimitNewsletter,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
