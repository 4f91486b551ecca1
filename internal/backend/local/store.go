package local

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/supagate/internal/backend"
	"github.com/nao1215/supagate/pkg/migration"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// defaultAccessTokenTTL はアクセストークンの既定の有効期間。
const defaultAccessTokenTTL = time.Hour

// Options はStoreの設定。
type Options struct {
	// JWTSecret はアクセストークンの署名鍵。
	JWTSecret string
	// AccessTokenTTL はアクセストークンの有効期間。0の場合は1時間。
	AccessTokenTTL time.Duration
	// BcryptCost はパスワードハッシュのコスト。0の場合はbcrypt.DefaultCost。
	BcryptCost int
	// Now は現在時刻を返す関数。nilの場合はtime.Now。
	Now func() time.Time
}

// Store はSQLiteを使ったbackend.Clientの実装。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// secret はアクセストークンの署名鍵。
	secret []byte
	// accessTTL はアクセストークンの有効期間。
	accessTTL time.Duration
	// bcryptCost はパスワードハッシュのコスト。
	bcryptCost int
	// now は現在時刻を返す関数。
	now func() time.Time
}

var _ backend.Client = (*Store)(nil)

// Open はpathのSQLiteデータベースを開き、マイグレーションを適用する。
// pathに ":memory:" を指定するとインメモリデータベースになる。
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.JWTSecret == "" {
		return nil, errors.New("local: JWT署名鍵が設定されていません")
	}
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = defaultAccessTokenTTL
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.BcryptCost < bcrypt.MinCost || opts.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("local: bcryptコストが範囲外です: %d", opts.BcryptCost)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteの書き込みは直列化されるため接続は1本に限定する。インメモリDBの共有にも必要。
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("PRAGMAの設定に失敗: %w", err)
	}
	if err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	return &Store{
		db:         db,
		secret:     []byte(opts.JWTSecret),
		accessTTL:  opts.AccessTokenTTL,
		bcryptCost: opts.BcryptCost,
		now:        opts.Now,
	}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// querier は*sql.DBと*sql.Txに共通するクエリ操作。
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx はfnをトランザクション内で実行する。fnがエラーを返した場合はロールバックする。
// 接続は1本のため、fnの中ではs.dbではなくtxを使うこと。
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// timestamp は時刻を保存用の文字列に変換する。
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp は保存された時刻文字列を解析する。
func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
