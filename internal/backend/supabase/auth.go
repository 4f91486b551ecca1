package supabase

import (
	"context"
	"net/http"
	"net/url"

	"github.com/nao1215/supagate/internal/backend"
	"github.com/nao1215/supagate/pkg/httpclient"
)

// adminUsersPath は管理用ユーザーAPIのパス。
const adminUsersPath = "/admin/users"

// listUsersResponse はユーザー一覧APIのレスポンス。
type listUsersResponse struct {
	Users []backend.User `json:"users"`
}

// ListUsers は全ユーザーを取得する。
func (c *Client) ListUsers(ctx context.Context) ([]backend.User, error) {
	resp, err := c.auth.Do(ctx, httpclient.Request{Method: http.MethodGet, Path: adminUsersPath})
	if err != nil {
		return nil, toBackendError(err)
	}
	var body listUsersResponse
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, err
	}
	if body.Users == nil {
		body.Users = []backend.User{}
	}
	return body.Users, nil
}

// CreateUser はユーザーを作成する。
func (c *Client) CreateUser(ctx context.Context, params backend.CreateUserParams) (*backend.User, error) {
	resp, err := c.auth.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   adminUsersPath,
		Body:   params,
	})
	if err != nil {
		return nil, toBackendError(err)
	}
	return decodeUser(resp)
}

// GetUser はIDでユーザーを取得する。404の場合は (nil, nil) を返す。
func (c *Client) GetUser(ctx context.Context, id string) (*backend.User, error) {
	resp, err := c.auth.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   adminUsersPath + "/" + url.PathEscape(id),
	})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, toBackendError(err)
	}
	return decodeUser(resp)
}

// UpdateUser はユーザーを更新する。404の場合は (nil, nil) を返す。
func (c *Client) UpdateUser(ctx context.Context, id string, params backend.UpdateUserParams) (*backend.User, error) {
	resp, err := c.auth.Do(ctx, httpclient.Request{
		Method: http.MethodPut,
		Path:   adminUsersPath + "/" + url.PathEscape(id),
		Body:   params,
	})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, toBackendError(err)
	}
	return decodeUser(resp)
}

// DeleteUser はユーザーを削除する。
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.auth.Do(ctx, httpclient.Request{
		Method: http.MethodDelete,
		Path:   adminUsersPath + "/" + url.PathEscape(id),
	})
	if err != nil {
		return toBackendError(err)
	}
	return nil
}

// SignInWithPassword はパスワード認証でセッションを発行する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	return c.grant(ctx, "password", map[string]string{"email": email, "password": password})
}

// RefreshSession はリフレッシュトークンで新しいセッションを発行する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*backend.Session, error) {
	return c.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// grant はトークンエンドポイントを呼び出す。
func (c *Client) grant(ctx context.Context, grantType string, body map[string]string) (*backend.Session, error) {
	resp, err := c.auth.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/token",
		Query:  url.Values{"grant_type": {grantType}},
		Body:   body,
	})
	if err != nil {
		return nil, toBackendError(err)
	}
	var session backend.Session
	if err := resp.DecodeJSON(&session); err != nil {
		return nil, err
	}
	if session.AccessToken == "" {
		return nil, nil
	}
	return &session, nil
}

// GetUserByToken はアクセストークンに対応するユーザーを取得する。
func (c *Client) GetUserByToken(ctx context.Context, accessToken string) (*backend.User, error) {
	resp, err := c.auth.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   "/user",
		Header: bearer(accessToken),
	})
	if err != nil {
		return nil, toBackendError(err)
	}
	return decodeUser(resp)
}

// SignOut はアクセストークンの持ち主を確認する。
// 認証APIのログアウトはスコープによらずセッションのリフレッシュトークンも失効させるため呼び出さない。
// 発行済みのリフレッシュトークンはサインアウト後も使える。
// トークンが既に無効・期限切れ、またはユーザーが存在しない場合はサインアウト済みとみなす。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.auth.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   "/user",
		Header: bearer(accessToken),
	})
	if err != nil {
		if isStatus(err, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound) {
			return nil
		}
		return toBackendError(err)
	}
	return nil
}

// decodeUser はレスポンスボディをユーザーとしてデシリアライズする。
// IDが空の場合はユーザー無しとしてnilを返す。
func decodeUser(resp *httpclient.Response) (*backend.User, error) {
	var user backend.User
	if err := resp.DecodeJSON(&user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, nil
	}
	return &user, nil
}
