package backend

import (
	"context"
	"io"
)

// Record はテーブルの1行を表すスキーマレスなカラム名と値の対応。
type Record map[string]any

// ListQuery はテーブル一覧取得の条件。
type ListQuery struct {
	// Select は取得するカラムの指定。空または "*" の場合は全カラム。
	Select string
	// Limit は取得件数の上限。
	Limit int
	// Offset は取得開始位置。
	Offset int
	// Filters はカラム名と値の等値条件。全条件のANDで絞り込む。
	Filters map[string]string
}

// ListResult はテーブル一覧取得の結果。
type ListResult struct {
	// Rows は取得範囲 [Offset, Offset+Limit-1] に含まれる行。
	Rows []Record
	// Total は取得範囲に関係なく条件に一致した行の総数。
	Total int
}

// TableStore は名前付きテーブルに対する汎用的なCRUD操作。
// テーブル名は検証されずにそのままバックエンドに渡される。
type TableStore interface {
	// List は条件に一致する行を取得する。
	List(ctx context.Context, table string, q ListQuery) (ListResult, error)
	// Get はidが一致する行を取得する。行が存在しない場合は (nil, nil) を返す。
	Get(ctx context.Context, table, id string) (Record, error)
	// Insert は1行を挿入し、挿入された行を返す。
	Insert(ctx context.Context, table string, fields Record) (Record, error)
	// Update はidが一致する行を部分更新し、更新後の行を返す。
	// 行が存在しない場合は (nil, nil) を返す。
	Update(ctx context.Context, table, id string, fields Record) (Record, error)
	// Delete はidが一致する行を削除する。行が存在しなくてもエラーにしない。
	Delete(ctx context.Context, table, id string) error
}

// Identity はユーザー管理とセッションのライフサイクル操作。
type Identity interface {
	// ListUsers は全ユーザーを取得する。
	ListUsers(ctx context.Context) ([]User, error)
	// CreateUser はユーザーを作成する。
	CreateUser(ctx context.Context, params CreateUserParams) (*User, error)
	// GetUser はIDでユーザーを取得する。存在しない場合は (nil, nil) を返す。
	GetUser(ctx context.Context, id string) (*User, error)
	// UpdateUser はユーザーを更新する。存在しない場合は (nil, nil) を返す。
	UpdateUser(ctx context.Context, id string, params UpdateUserParams) (*User, error)
	// DeleteUser はユーザーを削除する。
	DeleteUser(ctx context.Context, id string) error
	// SignInWithPassword はメールアドレスとパスワードでセッションを発行する。
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// GetUserByToken はアクセストークンに対応するユーザーを取得する。
	GetUserByToken(ctx context.Context, accessToken string) (*User, error)
	// SignOut はアクセストークンを失効させる。発行済みのリフレッシュトークンは失効させない。
	SignOut(ctx context.Context, accessToken string) error
	// RefreshSession はリフレッシュトークンから新しいセッションを発行する。
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
}

// Client はGatewayが利用するバックエンドの全機能。
// 生成後は変更されず、複数のリクエストから並行して利用される。
type Client interface {
	TableStore
	Identity
	io.Closer
}
