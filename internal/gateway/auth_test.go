package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nao1215/supagate/internal/backend"
)

// testUser はテスト用のユーザーを返す。
func testUser(id string, metadata map[string]any) *backend.User {
	return &backend.User{
		ID:           id,
		Email:        id + "@example.com",
		Role:         "authenticated",
		UserMetadata: metadata,
		CreatedAt:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestHandleListUsers(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーが射影されroleが補完されること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			listUsersFn: func(context.Context) ([]backend.User, error) {
				return []backend.User{
					*testUser("admin", map[string]any{"role": "admin"}),
					*testUser("plain", nil),
					*testUser("numeric", map[string]any{"role": json.Number("1")}),
				}, nil
			},
		})
		w := doRequest(t, s, http.MethodGet, "/api/supabase/auth/users", nil, nil)

		assertStatus(t, w, http.StatusOK)
		result := decodeBody(t, w)
		if result["total"] != float64(3) {
			t.Errorf("total: got %v, want 3", result["total"])
		}
		data, _ := result["data"].([]any)
		if len(data) != 3 {
			t.Fatalf("data: got %v", result["data"])
		}
		first, _ := data[0].(map[string]any)
		second, _ := data[1].(map[string]any)
		if first["role"] != "admin" {
			t.Errorf("role: got %v, want admin", first["role"])
		}
		if second["role"] != "employee" {
			t.Errorf("role: got %v, want employee", second["role"])
		}
		if third, _ := data[2].(map[string]any); third["role"] != float64(1) {
			t.Errorf("数値のroleがそのまま返っていない: got %v", third["role"])
		}
		if first["created_at"] != "2025-01-02T03:04:05Z" {
			t.Errorf("created_at: got %v", first["created_at"])
		}
		if _, ok := second["user_metadata"].(map[string]any); !ok {
			t.Errorf("user_metadata: got %v, want 空のオブジェクト", second["user_metadata"])
		}
		if _, ok := first["aud"]; ok {
			t.Errorf("一覧に不要な項目が含まれている: %v", first)
		}
	})

	t.Run("バックエンドのエラーは500になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			listUsersFn: func(context.Context) ([]backend.User, error) {
				return nil, backend.NewError(http.StatusUnauthorized, "", "Invalid API key")
			},
		})
		w := doRequest(t, s, http.MethodGet, "/api/supabase/auth/users", nil, nil)

		assertError(t, w, http.StatusInternalServerError, "Invalid API key")
	})
}

func TestHandleCreateUser(t *testing.T) {
	t.Parallel()

	t.Run("既定値でユーザーが作成されること", func(t *testing.T) {
		t.Parallel()

		var got backend.CreateUserParams
		s := newTestServer(t, &fakeBackend{
			createUserFn: func(_ context.Context, params backend.CreateUserParams) (*backend.User, error) {
				got = params
				return testUser("u1", params.UserMetadata), nil
			},
		})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/users",
			map[string]any{"email": "a@x.com", "password": "secret1"}, nil)

		assertStatus(t, w, http.StatusCreated)
		if !got.EmailConfirm {
			t.Error("email_confirmの既定値がtrueではない")
		}
		if got.UserMetadata == nil {
			t.Error("user_metadataの既定値が空のマップではない")
		}
		data, _ := decodeBody(t, w)["data"].(map[string]any)
		user, _ := data["user"].(map[string]any)
		if user["id"] != "u1" {
			t.Errorf("user: got %v", user)
		}
		if _, ok := user["created_at"]; ok {
			t.Errorf("作成レスポンスに不要な項目が含まれている: %v", user)
		}
	})

	t.Run("email_confirmとuser_metadataが渡されること", func(t *testing.T) {
		t.Parallel()

		var got backend.CreateUserParams
		s := newTestServer(t, &fakeBackend{
			createUserFn: func(_ context.Context, params backend.CreateUserParams) (*backend.User, error) {
				got = params
				return testUser("u1", params.UserMetadata), nil
			},
		})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/users", map[string]any{
			"email":         "a@x.com",
			"password":      "secret1",
			"email_confirm": false,
			"user_metadata": map[string]any{"role": "admin"},
		}, nil)

		assertStatus(t, w, http.StatusCreated)
		if got.EmailConfirm {
			t.Error("email_confirm: got true, want false")
		}
		if got.UserMetadata["role"] != "admin" {
			t.Errorf("user_metadata: got %v", got.UserMetadata)
		}
	})

	t.Run("バックエンドがユーザーを返さない場合は500になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			createUserFn: func(context.Context, backend.CreateUserParams) (*backend.User, error) {
				return nil, nil
			},
		})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/users",
			map[string]any{"email": "a@x.com", "password": "secret1"}, nil)

		assertError(t, w, http.StatusInternalServerError, "could not create user")
	})

	t.Run("必須項目が無い場合は400になりバックエンドは呼ばれないこと", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			createUserFn: func(context.Context, backend.CreateUserParams) (*backend.User, error) {
				t.Error("バックエンドが呼ばれた")
				return nil, nil
			},
		})
		for _, body := range []any{
			map[string]any{"email": "a@x.com"},
			map[string]any{"password": "secret1"},
			map[string]any{"email": "", "password": "secret1"},
			"",
		} {
			w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/users", body, nil)
			assertError(t, w, http.StatusBadRequest, "email and password are required")
		}
	})

	tests := []struct {
		name       string
		backendErr error
		wantStatus int
		wantError  string
	}{
		{
			name:       "duplicateを含むエラーは409になること",
			backendErr: backend.NewError(http.StatusUnprocessableEntity, "", `duplicate key value violates unique constraint "users_email_key"`),
			wantStatus: http.StatusConflict,
			wantError:  "user already exists",
		},
		{
			name:       "Passwordを含むエラーは400になること",
			backendErr: backend.NewError(http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters."),
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid password, minimum 6 characters",
		},
		{
			name:       "その他のエラーは500でメッセージを返すこと",
			backendErr: backend.NewError(http.StatusUnprocessableEntity, "email_exists", "A user with this email address has already been registered"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "A user with this email address has already been registered",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t, &fakeBackend{
				createUserFn: func(context.Context, backend.CreateUserParams) (*backend.User, error) {
					return nil, tt.backendErr
				},
			})
			w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/users",
				map[string]any{"email": "a@x.com", "password": "secret1"}, nil)

			assertError(t, w, tt.wantStatus, tt.wantError)
		})
	}
}

func TestHandleLogin(t *testing.T) {
	t.Parallel()

	t.Run("メールアドレスが正規化されトークンが返ること", func(t *testing.T) {
		t.Parallel()

		var gotEmail, gotPassword string
		s := newTestServer(t, &fakeBackend{
			signInFn: func(_ context.Context, email, password string) (*backend.Session, error) {
				gotEmail, gotPassword = email, password
				return &backend.Session{
					AccessToken:  "access",
					RefreshToken: "refresh",
					User:         testUser("u1", map[string]any{"full_name": "A"}),
				}, nil
			},
		})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/login",
			map[string]any{"email": "  A@X.COM ", "password": " secret1"}, nil)

		assertStatus(t, w, http.StatusOK)
		if gotEmail != "a@x.com" {
			t.Errorf("email: got %q, want a@x.com", gotEmail)
		}
		if gotPassword != " secret1" {
			t.Errorf("パスワードが変更されている: %q", gotPassword)
		}
		result := decodeBody(t, w)
		if result["access_token"] != "access" || result["refresh_token"] != "refresh" {
			t.Errorf("tokens: got %v", result)
		}
		user, _ := result["user"].(map[string]any)
		if user["id"] != "u1" {
			t.Errorf("user: got %v", user)
		}
	})

	t.Run("必須項目が無い場合は400になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/login", map[string]any{"email": "a@x.com"}, nil)

		assertError(t, w, http.StatusBadRequest, "email and password are required")
	})

	t.Run("セッションが返らない場合は401になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/login",
			map[string]any{"email": "a@x.com", "password": "secret1"}, nil)

		assertError(t, w, http.StatusUnauthorized, "could not sign in")
	})

	tests := []struct {
		name       string
		backendErr error
		wantStatus int
		wantError  string
	}{
		{
			name:       "認証情報の誤りは401になること",
			backendErr: backend.NewError(http.StatusBadRequest, "invalid_credentials", "Invalid login credentials"),
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid credentials",
		},
		{
			name:       "未確認のメールアドレスは401になること",
			backendErr: backend.NewError(http.StatusBadRequest, "email_not_confirmed", "Email not confirmed"),
			wantStatus: http.StatusUnauthorized,
			wantError:  "email not confirmed",
		},
		{
			name:       "その他のエラーは500になること",
			backendErr: errors.New("upstream unavailable"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "upstream unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t, &fakeBackend{
				signInFn: func(context.Context, string, string) (*backend.Session, error) {
					return nil, tt.backendErr
				},
			})
			w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/login",
				map[string]any{"email": "a@x.com", "password": "secret1"}, nil)

			assertError(t, w, tt.wantStatus, tt.wantError)
		})
	}
}

func TestHandleSession(t *testing.T) {
	t.Parallel()

	t.Run("トークンのユーザーが返ること", func(t *testing.T) {
		t.Parallel()

		var gotToken string
		s := newTestServer(t, &fakeBackend{
			getUserByTokenFn: func(_ context.Context, token string) (*backend.User, error) {
				gotToken = token
				return testUser("u1", nil), nil
			},
		})
		w := doRequest(t, s, http.MethodGet, "/api/supabase/auth/session", nil, bearer("tok"))

		assertStatus(t, w, http.StatusOK)
		if gotToken != "tok" {
			t.Errorf("token: got %q, want tok", gotToken)
		}
		user, _ := decodeBody(t, w)["user"].(map[string]any)
		if user["id"] != "u1" {
			t.Errorf("user: got %v", user)
		}
	})

	t.Run("ヘッダーが無いか不正な場合は401になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		for _, header := range []http.Header{
			nil,
			{"Authorization": {"Basic abc"}},
			{"Authorization": {"Bearer "}},
		} {
			w := doRequest(t, s, http.MethodGet, "/api/supabase/auth/session", nil, header)
			assertError(t, w, http.StatusUnauthorized, "token not provided")
		}
	})

	t.Run("バックエンドのエラーは401になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			getUserByTokenFn: func(context.Context, string) (*backend.User, error) {
				return nil, errors.New("connection reset")
			},
		})
		w := doRequest(t, s, http.MethodGet, "/api/supabase/auth/session", nil, bearer("tok"))

		assertError(t, w, http.StatusUnauthorized, "invalid token")
	})

	t.Run("ユーザーが返らない場合は401になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		w := doRequest(t, s, http.MethodGet, "/api/supabase/auth/session", nil, bearer("tok"))

		assertError(t, w, http.StatusUnauthorized, "invalid session")
	})
}

func TestHandleLogout(t *testing.T) {
	t.Parallel()

	t.Run("トークンが無い場合も成功になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			signOutFn: func(context.Context, string) error {
				t.Error("トークン無しでバックエンドが呼ばれた")
				return nil
			},
		})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/logout", nil, nil)

		assertStatus(t, w, http.StatusOK)
		result := decodeBody(t, w)
		if result["success"] != true || result["message"] != "no active session" {
			t.Errorf("result: got %v", result)
		}
	})

	t.Run("トークンのセッションが無効化されること", func(t *testing.T) {
		t.Parallel()

		var gotToken string
		s := newTestServer(t, &fakeBackend{
			signOutFn: func(_ context.Context, token string) error {
				gotToken = token
				return nil
			},
		})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/logout", nil, bearer("tok"))

		assertStatus(t, w, http.StatusOK)
		if gotToken != "tok" {
			t.Errorf("token: got %q, want tok", gotToken)
		}
		if decodeBody(t, w)["message"] != "session closed" {
			t.Errorf("messageが不正: %s", w.Body.String())
		}
	})

	t.Run("バックエンドのエラーは500になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			signOutFn: func(context.Context, string) error {
				return errors.New("logout failed")
			},
		})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/logout", nil, bearer("tok"))

		assertError(t, w, http.StatusInternalServerError, "logout failed")
	})
}

func TestHandleGetUser(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーの全項目が返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			getUserFn: func(_ context.Context, id string) (*backend.User, error) {
				return testUser(id, nil), nil
			},
		})
		w := doRequest(t, s, http.MethodGet, "/api/supabase/auth/users/u1", nil, nil)

		assertStatus(t, w, http.StatusOK)
		data, _ := decodeBody(t, w)["data"].(map[string]any)
		if data["id"] != "u1" || data["role"] != "authenticated" {
			t.Errorf("data: got %v", data)
		}
	})

	t.Run("バックエンドが返した未知の項目もそのまま返ること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			getUserFn: func(_ context.Context, id string) (*backend.User, error) {
				u := testUser(id, nil)
				u.Extra = map[string]any{
					"phone":        "+8190",
					"confirmed_at": "2024-01-01T00:00:00Z",
					"identities":   []any{map[string]any{"provider": "email"}},
					"is_anonymous": false,
				}
				return u, nil
			},
		})
		w := doRequest(t, s, http.MethodGet, "/api/supabase/auth/users/u1", nil, nil)

		assertStatus(t, w, http.StatusOK)
		data, _ := decodeBody(t, w)["data"].(map[string]any)
		for _, key := range []string{"id", "email", "user_metadata", "phone", "confirmed_at", "identities", "is_anonymous"} {
			if _, ok := data[key]; !ok {
				t.Errorf("dataに%sが無い: %v", key, data)
			}
		}
	})

	t.Run("存在しないユーザーは404になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		w := doRequest(t, s, http.MethodGet, "/api/supabase/auth/users/missing", nil, nil)

		assertError(t, w, http.StatusNotFound, "user not found")
	})

	t.Run("バックエンドのエラーは500になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			getUserFn: func(context.Context, string) (*backend.User, error) {
				return nil, errors.New("boom")
			},
		})
		w := doRequest(t, s, http.MethodGet, "/api/supabase/auth/users/u1", nil, nil)

		assertError(t, w, http.StatusInternalServerError, "boom")
	})
}

func TestHandleUpdateUser(t *testing.T) {
	t.Parallel()

	t.Run("指定した項目だけが渡されること", func(t *testing.T) {
		t.Parallel()

		var got backend.UpdateUserParams
		s := newTestServer(t, &fakeBackend{
			updateUserFn: func(_ context.Context, id string, params backend.UpdateUserParams) (*backend.User, error) {
				got = params
				return testUser(id, params.UserMetadata), nil
			},
		})
		w := doRequest(t, s, http.MethodPut, "/api/supabase/auth/users/u1",
			map[string]any{"user_metadata": map[string]any{"role": "manager"}}, nil)

		assertStatus(t, w, http.StatusOK)
		if got.Email != nil || got.Password != nil {
			t.Errorf("指定していない項目が渡された: %+v", got)
		}
		if got.UserMetadata["role"] != "manager" {
			t.Errorf("user_metadata: got %v", got.UserMetadata)
		}
	})

	t.Run("ボディが空でも更新できること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			updateUserFn: func(_ context.Context, id string, _ backend.UpdateUserParams) (*backend.User, error) {
				return testUser(id, nil), nil
			},
		})
		w := doRequest(t, s, http.MethodPut, "/api/supabase/auth/users/u1", nil, nil)

		assertStatus(t, w, http.StatusOK)
	})

	t.Run("存在しないユーザーは404になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		w := doRequest(t, s, http.MethodPut, "/api/supabase/auth/users/missing", map[string]any{"email": "b@x.com"}, nil)

		assertError(t, w, http.StatusNotFound, "user not found")
	})

	t.Run("バックエンドのエラーは500になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			updateUserFn: func(context.Context, string, backend.UpdateUserParams) (*backend.User, error) {
				return nil, backend.NewError(http.StatusUnprocessableEntity, "", "Password should be at least 6 characters.")
			},
		})
		w := doRequest(t, s, http.MethodPut, "/api/supabase/auth/users/u1", map[string]any{"password": "1"}, nil)

		assertError(t, w, http.StatusInternalServerError, "Password should be at least 6 characters.")
	})
}

func TestHandleDeleteUser(t *testing.T) {
	t.Parallel()

	t.Run("削除に成功すること", func(t *testing.T) {
		t.Parallel()

		var gotID string
		s := newTestServer(t, &fakeBackend{
			deleteUserFn: func(_ context.Context, id string) error {
				gotID = id
				return nil
			},
		})
		w := doRequest(t, s, http.MethodDelete, "/api/supabase/auth/users/u1", nil, nil)

		assertStatus(t, w, http.StatusOK)
		if gotID != "u1" {
			t.Errorf("id: got %q, want u1", gotID)
		}
		result := decodeBody(t, w)
		if result["success"] != true || result["message"] != "user deleted" {
			t.Errorf("result: got %v", result)
		}
	})

	t.Run("バックエンドのエラーは500になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			deleteUserFn: func(context.Context, string) error {
				return backend.NewError(http.StatusNotFound, "user_not_found", "User not found")
			},
		})
		w := doRequest(t, s, http.MethodDelete, "/api/supabase/auth/users/missing", nil, nil)

		assertError(t, w, http.StatusInternalServerError, "User not found")
	})
}

func TestHandleRefresh(t *testing.T) {
	t.Parallel()

	t.Run("新しいトークンの組が返ること", func(t *testing.T) {
		t.Parallel()

		var gotToken string
		s := newTestServer(t, &fakeBackend{
			refreshFn: func(_ context.Context, token string) (*backend.Session, error) {
				gotToken = token
				return &backend.Session{AccessToken: "a2", RefreshToken: "r2", User: testUser("u1", nil)}, nil
			},
		})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/refresh", map[string]any{"refresh_token": "r1"}, nil)

		assertStatus(t, w, http.StatusOK)
		if gotToken != "r1" {
			t.Errorf("refresh_token: got %q, want r1", gotToken)
		}
		result := decodeBody(t, w)
		if result["access_token"] != "a2" || result["refresh_token"] != "r2" {
			t.Errorf("tokens: got %v", result)
		}
		user, _ := result["user"].(map[string]any)
		if user["email"] != "u1@example.com" {
			t.Errorf("user: got %v", user)
		}
	})

	t.Run("refresh_tokenが無い場合は400になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{})
		for _, body := range []any{nil, map[string]any{}, map[string]any{"refresh_token": ""}} {
			w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/refresh", body, nil)
			assertError(t, w, http.StatusBadRequest, "refresh token required")
		}
	})

	t.Run("バックエンドが拒否した場合は401になること", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &fakeBackend{
			refreshFn: func(context.Context, string) (*backend.Session, error) {
				return nil, backend.NewError(http.StatusBadRequest, "", "Invalid Refresh Token: Already Used")
			},
		})
		w := doRequest(t, s, http.MethodPost, "/api/supabase/auth/refresh", map[string]any{"refresh_token": "r1"}, nil)

		assertError(t, w, http.StatusUnauthorized, "invalid token")
	})
}
