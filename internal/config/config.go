package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendURL       string        `env:"BACKEND_URL" validate:"required,url"`
	BackendTimeout   time.Duration `env:"BACKEND_TIMEOUT" env-default:"10s"`
	BackendRateLimit float64       `env:"BACKEND_RATE_LIMIT" env-default:"10" validate:"gt=0"`
	BackendBurst     int           `env:"BACKEND_BURST" env-default:"20" validate:"gte=1"`

	// Token store
	TokenStore  string `env:"TOKEN_STORE" env-default:"file" validate:"oneof=file redis postgres"`
	StateDir    string `env:"STATE_DIR"`
	DeviceID    string `env:"DEVICE_ID" env-default:"default" validate:"required"`
	RedisAddr   string `env:"REDIS_ADDR" validate:"required_if=TokenStore redis"`
	RedisPass   string `env:"REDIS_PASSWORD"`
	RedisDB     int    `env:"REDIS_DB" env-default:"0"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=TokenStore postgres"`

	// Session
	AccessTokenTTL       time.Duration `env:"ACCESS_TOKEN_TTL" env-default:"30m" validate:"gt=0"`
	RevalidateInterval   time.Duration `env:"REVALIDATE_INTERVAL" env-default:"30m" validate:"gt=0"`
	BootstrapMaxAttempts int           `env:"BOOTSTRAP_MAX_ATTEMPTS" env-default:"4" validate:"gte=1"`
	BootstrapBackoff     time.Duration `env:"BOOTSTRAP_BACKOFF" env-default:"1s"`
	DefaultFollowID      string        `env:"DEFAULT_FOLLOW_ID" env-default:"3431d11c-cf44-481b-805d-0835f7e77a68"`

	// Tweets
	TweetsCacheTime time.Duration `env:"TWEETS_CACHE_TIME" env-default:"5m"`
	TweetsStaleTime time.Duration `env:"TWEETS_STALE_TIME" env-default:"0s"`

	// Profile
	AttachmentTimeout time.Duration `env:"ATTACHMENT_TIMEOUT" env-default:"10s"`
	AttachmentMaxSize int64         `env:"ATTACHMENT_MAX_SIZE" env-default:"5242880"`

	// OAuth（未設定の場合ソーシャルログインは無効）
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Server
	ServerPort        string `env:"SERVER_PORT" env-default:"8080"`
	BaseURL           string `env:"BASE_URL" env-default:"http://localhost:8080"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" env-default:"http://localhost:3000"`
	RateLimitGeneral  int    `env:"RATE_LIMIT_GENERAL" env-default:"120"`

	// Cookie
	CookieSecure bool

	// Logging
	LogLevel string `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			var fields []string
			for _, fe := range verrs {
				fields = append(fields, envName(fe.StructField()))
			}
			return nil, fmt.Errorf("invalid or missing environment variables: %v", fields)
		}
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDir()
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// SocialLoginEnabled はGoogleソーシャルログインが設定されているかを返す。
func (c *Config) SocialLoginEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// envName は構造体フィールド名から対応する環境変数名を引く。
func envName(field string) string {
	if f, ok := fieldEnvNames[field]; ok {
		return f
	}
	return field
}

// fieldEnvNames はエラーメッセージ用のフィールド名→環境変数名の対応表。
var fieldEnvNames = map[string]string{
	"BackendURL":           "BACKEND_URL",
	"BackendRateLimit":     "BACKEND_RATE_LIMIT",
	"BackendBurst":         "BACKEND_BURST",
	"TokenStore":           "TOKEN_STORE",
	"DeviceID":             "DEVICE_ID",
	"RedisAddr":            "REDIS_ADDR",
	"DatabaseURL":          "DATABASE_URL",
	"AccessTokenTTL":       "ACCESS_TOKEN_TTL",
	"RevalidateInterval":   "REVALIDATE_INTERVAL",
	"BootstrapMaxAttempts": "BOOTSTRAP_MAX_ATTEMPTS",
	"LogLevel":             "LOG_LEVEL",
}

// defaultStateDir は認証情報ファイルの既定の保存先を返す。
func defaultStateDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "chirp")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chirp"
	}
	return filepath.Join(home, ".config", "chirp")
}
