package backend

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

// DefaultRole はuser_metadataにroleが無いユーザーのロール。
const DefaultRole = "employee"

// User はバックエンドが管理するユーザー。
type User struct {
	// ID はバックエンドが割り当てる不変の識別子。
	ID string `json:"id"`
	// Aud はトークンの対象者。
	Aud string `json:"aud,omitempty"`
	// Role はバックエンド上の権限ロール（例: "authenticated"）。
	Role string `json:"role,omitempty"`
	// Email はメールアドレス。
	Email string `json:"email"`
	// EmailConfirmedAt はメールアドレスの確認日時。未確認の場合はnil。
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	// LastSignInAt は最終ログイン日時。
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
	// AppMetadata はバックエンドが管理するメタデータ。
	AppMetadata map[string]any `json:"app_metadata,omitempty"`
	// UserMetadata は任意のユーザーメタデータ。
	UserMetadata map[string]any `json:"user_metadata"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt time.Time `json:"updated_at"`
	// Extra はバックエンドが返した、上記以外の項目（phone、identities等）。
	// シリアライズ時にそのまま出力する。
	Extra map[string]any `json:"-"`
}

// userKeys はUserが宣言しているJSONのキー。
var userKeys = []string{
	"id", "aud", "role", "email", "email_confirmed_at", "last_sign_in_at",
	"app_metadata", "user_metadata", "created_at", "updated_at",
}

// userFields はUserのメソッドを持たない別名。
type userFields User

// UnmarshalJSON は宣言済みの項目を読み込み、それ以外の項目をExtraに保持する。
func (u *User) UnmarshalJSON(data []byte) error {
	var f userFields
	if err := decodeJSON(data, &f); err != nil {
		return err
	}
	var raw map[string]any
	if err := decodeJSON(data, &raw); err != nil {
		return err
	}
	for _, k := range userKeys {
		delete(raw, k)
	}
	*u = User(f)
	u.Extra = nil
	if len(raw) > 0 {
		u.Extra = raw
	}
	return nil
}

// MarshalJSON は宣言済みの項目とExtraを1つのオブジェクトとして出力する。
// キーが重複する場合は宣言済みの項目を優先する。
func (u User) MarshalJSON() ([]byte, error) {
	declared, err := json.Marshal(userFields(u))
	if err != nil || len(u.Extra) == 0 {
		return declared, err
	}
	merged := make(map[string]any, len(u.Extra)+len(userKeys))
	for k, v := range u.Extra {
		merged[k] = v
	}
	var fields map[string]any
	if err := decodeJSON(declared, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// decodeJSON は数値をjson.Numberとして保持してデシリアライズする。
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// AppRole はuser_metadata.roleを返す。
// 値が偽とみなされる場合（未設定、null、false、空文字、0）はDefaultRoleを返す。
func (u *User) AppRole() any {
	if role := u.UserMetadata["role"]; truthy(role) {
		return role
	}
	return DefaultRole
}

// truthy はJSONの値が真とみなされるかを返す。
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case json.Number:
		f, err := val.Float64()
		return err != nil || (f != 0 && !math.IsNaN(f))
	case float64:
		return val != 0 && !math.IsNaN(val)
	case int:
		return val != 0
	default:
		return true
	}
}

// Session はログインまたはリフレッシュで発行されるトークンの組。
// Gatewayはトークンの中身を検査せず、クライアントに中継するだけである。
type Session struct {
	// AccessToken はアクセストークン。
	AccessToken string `json:"access_token"`
	// RefreshToken はリフレッシュトークン。
	RefreshToken string `json:"refresh_token"`
	// TokenType はトークン種別（通常 "bearer"）。
	TokenType string `json:"token_type"`
	// ExpiresIn はアクセストークンの有効秒数。
	ExpiresIn int `json:"expires_in"`
	// User はセッションのユーザー。
	User *User `json:"user"`
}

// CreateUserParams はユーザー作成のパラメータ。
type CreateUserParams struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	EmailConfirm bool           `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// UpdateUserParams はユーザー更新のパラメータ。nilのフィールドは変更しない。
type UpdateUserParams struct {
	Email        *string        `json:"email,omitempty"`
	Password     *string        `json:"password,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}
