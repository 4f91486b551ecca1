// Package config は環境変数と任意の.envファイルからGatewayの設定を読み込み、検証する。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// BackendSupabase はマネージドバックエンドを使う設定値。
	BackendSupabase = "supabase"
	// BackendLocal は組み込みSQLiteバックエンドを使う設定値。
	BackendLocal = "local"

	// envProduction は本番環境を表すAPP_ENVの値。
	envProduction = "production"
	// defaultLocalJWTSecret は開発用のローカルバックエンド署名鍵。
	defaultLocalJWTSecret = "dev-secret-key"
)

// Config はGatewayの設定。
type Config struct {
	// Port はリッスンするポート番号。
	Port int `mapstructure:"PORT"`
	// Env は実行環境（例: "development", "production"）。
	Env string `mapstructure:"APP_ENV"`
	// Backend は使用するバックエンド（"supabase" または "local"）。
	Backend string `mapstructure:"BACKEND"`
	// SupabaseURL はマネージドバックエンドのプロジェクトURL。
	SupabaseURL string `mapstructure:"SUPABASE_URL"`
	// SupabaseServiceRoleKey はマネージドバックエンドのサービスロールキー。
	SupabaseServiceRoleKey string `mapstructure:"SUPABASE_SERVICE_ROLE_KEY"`
	// AllowedOrigin はCORSで許可するオリジン（カンマ区切り、"*"で全て許可）。
	AllowedOrigin string `mapstructure:"ALLOWED_ORIGIN"`
	// BodyLimitBytes はリクエストボディの上限バイト数。
	BodyLimitBytes int64 `mapstructure:"BODY_LIMIT_BYTES"`
	// BackendTimeout はバックエンド呼び出し1回あたりのタイムアウト。0はタイムアウトなし。
	BackendTimeout time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	// LocalDBPath はローカルバックエンドのSQLiteファイルパス。
	LocalDBPath string `mapstructure:"LOCAL_DB_PATH"`
	// LocalJWTSecret はローカルバックエンドのアクセストークン署名鍵。
	LocalJWTSecret string `mapstructure:"LOCAL_JWT_SECRET"`
	// AccessTokenTTL はローカルバックエンドのアクセストークン有効期間。
	AccessTokenTTL time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	// BcryptCost はローカルバックエンドのbcryptコスト（4〜31）。
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// OTLPEndpoint はトレースの送信先。空の場合はトレースを無効にする。
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure はトレース送信でTLSを使わない場合にtrue。
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load は.envファイル（本番環境以外で存在する場合）と環境変数から設定を読み込んで検証する。
// 環境変数は.envより優先される。
func Load() (*Config, error) {
	v := viper.New()

	if os.Getenv("APP_ENV") != envProduction {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		_ = v.ReadInConfig() // .envが無くてもよい
	}

	v.AutomaticEnv()

	v.SetDefault("PORT", 3000)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("BACKEND", BackendSupabase)
	v.SetDefault("SUPABASE_URL", "")
	v.SetDefault("SUPABASE_SERVICE_ROLE_KEY", "")
	v.SetDefault("ALLOWED_ORIGIN", "*")
	v.SetDefault("BODY_LIMIT_BYTES", 10<<20)
	v.SetDefault("BACKEND_TIMEOUT", "30s")
	v.SetDefault("LOCAL_DB_PATH", "gateway.db")
	v.SetDefault("LOCAL_JWT_SECRET", defaultLocalJWTSecret)
	v.SetDefault("ACCESS_TOKEN_TTL", "1h")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: 設定の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be between 1 and 65535: %d", c.Port)
	}
	switch c.Backend {
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceRoleKey == "" {
			return errors.New("config: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY must be set when BACKEND=supabase")
		}
	case BackendLocal:
		if c.LocalDBPath == "" {
			return errors.New("config: LOCAL_DB_PATH must be set when BACKEND=local")
		}
		if c.LocalJWTSecret == "" {
			return errors.New("config: LOCAL_JWT_SECRET must be set when BACKEND=local")
		}
		if c.IsProduction() && c.LocalJWTSecret == defaultLocalJWTSecret {
			return errors.New("config: LOCAL_JWT_SECRET must be changed when APP_ENV=production")
		}
		if c.AccessTokenTTL <= 0 {
			return errors.New("config: ACCESS_TOKEN_TTL must be positive")
		}
		if c.BcryptCost < 4 || c.BcryptCost > 31 {
			return errors.New("config: BCRYPT_COST must be between 4 and 31")
		}
	default:
		return fmt.Errorf("config: BACKEND must be %q or %q: %q", BackendSupabase, BackendLocal, c.Backend)
	}
	if c.BodyLimitBytes <= 0 {
		return errors.New("config: BODY_LIMIT_BYTES must be positive")
	}
	if c.BackendTimeout < 0 {
		return errors.New("config: BACKEND_TIMEOUT must not be negative")
	}
	return nil
}

// IsProduction は本番環境であればtrueを返す。
func (c *Config) IsProduction() bool {
	return c.Env == envProduction
}

// Addr はHTTPサーバーのリッスンアドレスを返す。
func (c *Config) Addr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Port)
}

// AllowedOrigins はALLOWED_ORIGINをオリジンの一覧に分割する。
func (c *Config) AllowedOrigins() []string {
	parts := strings.Split(c.AllowedOrigin, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
