// Gatewayのエントリポイント。
// 設定を読み込み、バックエンドクライアントを1つだけ生成して全リクエストで共有する。
// SIGINT/SIGTERMを受け取るとグレースフルシャットダウンする。
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/supagate/internal/backend"
	"github.com/nao1215/supagate/internal/backend/local"
	"github.com/nao1215/supagate/internal/backend/supabase"
	"github.com/nao1215/supagate/internal/config"
	"github.com/nao1215/supagate/internal/gateway"
	"github.com/nao1215/supagate/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Gatewayの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "supagate",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Printf("トレーサーの終了に失敗: %v", err)
		}
	}()

	client, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("バックエンドの終了に失敗: %v", err)
		}
	}()

	server := gateway.NewServer(client, gateway.Options{
		Addr:           cfg.Addr(),
		AllowedOrigins: cfg.AllowedOrigins(),
		BodyLimitBytes: cfg.BodyLimitBytes,
		BackendTimeout: cfg.BackendTimeout,
	})
	log.Printf("バックエンド: %s", cfg.Backend)
	return server.Run(ctx)
}

// newBackend は設定に応じたバックエンドクライアントを生成する。
func newBackend(ctx context.Context, cfg *config.Config) (backend.Client, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		store, err := local.Open(ctx, cfg.LocalDBPath, local.Options{
			JWTSecret:      cfg.LocalJWTSecret,
			AccessTokenTTL: cfg.AccessTokenTTL,
			BcryptCost:     cfg.BcryptCost,
		})
		if err != nil {
			return nil, fmt.Errorf("ローカルバックエンドの初期化に失敗: %w", err)
		}
		return store, nil
	default:
		client, err := supabase.New(supabase.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Timeout:        cfg.BackendTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("バックエンドクライアントの初期化に失敗: %w", err)
		}
		return client, nil
	}
}
