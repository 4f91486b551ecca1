package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/supagate/internal/backend"
	"golang.org/x/crypto/bcrypt"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 6

// マネージドバックエンドと同じ文言のエラー。Gatewayはこの文言で分類する。
var (
	errInvalidCredentials = backend.NewError(http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
	errEmailNotConfirmed  = backend.NewError(http.StatusBadRequest, "email_not_confirmed", "Email not confirmed")
	errWeakPassword       = backend.NewError(http.StatusUnprocessableEntity, "weak_password",
		fmt.Sprintf("Password should be at least %d characters.", minPasswordLength))
	errEmailExists = backend.NewError(http.StatusUnprocessableEntity, "email_exists",
		`duplicate key value violates unique constraint "users_email_key"`)
	errInvalidEmail = backend.NewError(http.StatusBadRequest, "validation_failed",
		"Unable to validate email address: invalid format")
	errUserNotFound         = backend.NewError(http.StatusNotFound, "user_not_found", "User not found")
	errSessionNotFound      = backend.NewError(http.StatusForbidden, "session_not_found", "Session from session_id claim in JWT does not exist")
	errRefreshTokenNotFound = backend.NewError(http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
	errRefreshTokenUsed     = backend.NewError(http.StatusBadRequest, "refresh_token_already_used", "Invalid Refresh Token: Already Used")
)

// userColumns はusersテーブルから読み取るカラム。
const userColumns = "id, email, password_hash, email_confirmed_at, last_sign_in_at, user_metadata, created_at, updated_at"

// userRecord はusersテーブルの1行。
type userRecord struct {
	user         backend.User
	passwordHash string
}

// ListUsers は全ユーザーを作成順に取得する。
func (s *Store) ListUsers(ctx context.Context) ([]backend.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := []backend.User{}
	for rows.Next() {
		rec, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, rec.user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	return users, nil
}

// CreateUser はユーザーを作成する。
func (s *Store) CreateUser(ctx context.Context, params backend.CreateUserParams) (*backend.User, error) {
	email, err := normalizeEmail(params.Email)
	if err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(params.Password)
	if err != nil {
		return nil, err
	}
	metadata := params.UserMetadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("メタデータのシリアライズに失敗: %w", err)
	}

	now := timestamp(s.now())
	var confirmedAt sql.NullString
	if params.EmailConfirm {
		confirmedAt = sql.NullString{String: now, Valid: true}
	}

	id := uuid.NewString()
	var created *backend.User
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureEmailAvailable(ctx, tx, email, ""); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, password_hash, email_confirmed_at, user_metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, email, hash, confirmedAt, string(metadataJSON), now, now); err != nil {
			return fmt.Errorf("ユーザーの作成に失敗: %w", err)
		}
		rec, err := findUser(ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		created = &rec.user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetUser はIDでユーザーを取得する。存在しない場合は (nil, nil) を返す。
func (s *Store) GetUser(ctx context.Context, id string) (*backend.User, error) {
	rec, err := findUser(ctx, s.db, "id = ?", id)
	if err != nil || rec == nil {
		return nil, err
	}
	return &rec.user, nil
}

// UpdateUser はユーザーを更新する。存在しない場合は (nil, nil) を返す。
// user_metadataは既存のキーにマージし、値がnullのキーは削除する。
func (s *Store) UpdateUser(ctx context.Context, id string, params backend.UpdateUserParams) (*backend.User, error) {
	var updated *backend.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := findUser(ctx, tx, "id = ?", id)
		if err != nil || rec == nil {
			return err
		}

		if params.Email != nil {
			email, err := normalizeEmail(*params.Email)
			if err != nil {
				return err
			}
			if err := ensureEmailAvailable(ctx, tx, email, id); err != nil {
				return err
			}
			rec.user.Email = email
		}
		if params.Password != nil {
			hash, err := s.hashPassword(*params.Password)
			if err != nil {
				return err
			}
			rec.passwordHash = hash
		}
		for k, v := range params.UserMetadata {
			if v == nil {
				delete(rec.user.UserMetadata, k)
				continue
			}
			rec.user.UserMetadata[k] = v
		}
		metadataJSON, err := json.Marshal(rec.user.UserMetadata)
		if err != nil {
			return fmt.Errorf("メタデータのシリアライズに失敗: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE users SET email = ?, password_hash = ?, user_metadata = ?, updated_at = ? WHERE id = ?",
			rec.user.Email, rec.passwordHash, string(metadataJSON), timestamp(s.now()), id); err != nil {
			return fmt.Errorf("ユーザーの更新に失敗: %w", err)
		}
		reloaded, err := findUser(ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		updated = &reloaded.user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser はユーザーとそのセッションを削除する。
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("ユーザーの削除に失敗: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errUserNotFound
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id = ?", id); err != nil {
			return fmt.Errorf("リフレッシュトークンの削除に失敗: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM revoked_access_tokens WHERE session_id IN (SELECT id FROM sessions WHERE user_id = ?)", id); err != nil {
			return fmt.Errorf("失効済みトークンの削除に失敗: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", id); err != nil {
			return fmt.Errorf("セッションの削除に失敗: %w", err)
		}
		return nil
	})
}

// SignInWithPassword はメールアドレスとパスワードを検証してセッションを発行する。
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	var session *backend.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := findUser(ctx, tx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
		if err != nil {
			return err
		}
		if rec == nil {
			return errInvalidCredentials
		}
		if err := bcrypt.CompareHashAndPassword([]byte(rec.passwordHash), []byte(password)); err != nil {
			return errInvalidCredentials
		}
		if rec.user.EmailConfirmedAt == nil {
			return errEmailNotConfirmed
		}

		now := s.now()
		sessionID := uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sessions (id, user_id, created_at) VALUES (?, ?, ?)",
			sessionID, rec.user.ID, timestamp(now)); err != nil {
			return fmt.Errorf("セッションの作成に失敗: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE users SET last_sign_in_at = ? WHERE id = ?", timestamp(now), rec.user.ID); err != nil {
			return fmt.Errorf("最終ログイン日時の更新に失敗: %w", err)
		}
		rec.user.LastSignInAt = &now

		session, err = s.issueSession(ctx, tx, &rec.user, sessionID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetUserByToken はアクセストークンを検証し、対応するユーザーを返す。
// サインアウト済みのトークンと、削除されたセッションのトークンは拒否する。
func (s *Store) GetUserByToken(ctx context.Context, accessToken string) (*backend.User, error) {
	claims, err := s.parseAccessToken(accessToken)
	if err != nil {
		return nil, backend.NewError(http.StatusForbidden, "bad_jwt",
			"invalid JWT: unable to parse or verify signature, "+err.Error())
	}
	active, err := sessionExists(ctx, s.db, claims.SessionID)
	if err != nil {
		return nil, err
	}
	revoked, err := accessTokenRevoked(ctx, s.db, claims.ID)
	if err != nil {
		return nil, err
	}
	if !active || revoked {
		return nil, errSessionNotFound
	}
	rec, err := findUser(ctx, s.db, "id = ?", claims.Subject)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, backend.NewError(http.StatusForbidden, "user_not_found", "User from sub claim in JWT does not exist")
	}
	return &rec.user, nil
}

// SignOut はアクセストークンを失効させる。
// セッションとリフレッシュトークンはそのまま残り、リフレッシュで新しいアクセストークンを得られる。
// トークンが既に無効な場合はサインアウト済みとみなす。
func (s *Store) SignOut(ctx context.Context, accessToken string) error {
	claims, err := s.parseAccessToken(accessToken)
	if err != nil {
		return nil
	}
	expiresAt := s.now().Add(s.accessTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO revoked_access_tokens (jti, session_id, expires_at) VALUES (?, ?, ?)",
		claims.ID, claims.SessionID, timestamp(expiresAt)); err != nil {
		return fmt.Errorf("アクセストークンの失効に失敗: %w", err)
	}
	return nil
}

// RefreshSession はリフレッシュトークンを使い捨てにして新しいトークンの組を発行する。
func (s *Store) RefreshSession(ctx context.Context, refreshToken string) (*backend.Session, error) {
	var session *backend.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			sessionID string
			userID    string
			revoked   bool
		)
		err := tx.QueryRowContext(ctx,
			"SELECT session_id, user_id, revoked FROM refresh_tokens WHERE token = ?", refreshToken).
			Scan(&sessionID, &userID, &revoked)
		if errors.Is(err, sql.ErrNoRows) {
			return errRefreshTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("リフレッシュトークンの取得に失敗: %w", err)
		}
		if revoked {
			return errRefreshTokenUsed
		}
		active, err := sessionExists(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !active {
			return errRefreshTokenNotFound
		}
		rec, err := findUser(ctx, tx, "id = ?", userID)
		if err != nil {
			return err
		}
		if rec == nil {
			return errRefreshTokenNotFound
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked = 1 WHERE token = ?", refreshToken); err != nil {
			return fmt.Errorf("リフレッシュトークンの失効に失敗: %w", err)
		}
		session, err = s.issueSession(ctx, tx, &rec.user, sessionID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// issueSession はセッションに新しいリフレッシュトークンとアクセストークンを発行する。
func (s *Store) issueSession(ctx context.Context, tx *sql.Tx, user *backend.User, sessionID string, now time.Time) (*backend.Session, error) {
	refreshToken := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO refresh_tokens (token, session_id, user_id, created_at) VALUES (?, ?, ?, ?)",
		refreshToken, sessionID, user.ID, timestamp(now)); err != nil {
		return nil, fmt.Errorf("リフレッシュトークンの作成に失敗: %w", err)
	}
	accessToken, err := s.signAccessToken(user.ID, user.Email, sessionID, now)
	if err != nil {
		return nil, err
	}
	return &backend.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
		User:         user,
	}, nil
}

// hashPassword はパスワードの長さを検証してbcryptハッシュを返す。
func (s *Store) hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", errWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(hash), nil
}

// normalizeEmail はメールアドレスを前後の空白除去と小文字化で正規化する。
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return "", errInvalidEmail
	}
	return email, nil
}

// ensureEmailAvailable はメールアドレスがexceptID以外のユーザーに使われていないことを確認する。
func ensureEmailAvailable(ctx context.Context, q querier, email, exceptID string) error {
	var id string
	err := q.QueryRowContext(ctx, "SELECT id FROM users WHERE email = ?", email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("メールアドレスの確認に失敗: %w", err)
	}
	if id != exceptID {
		return errEmailExists
	}
	return nil
}

// sessionExists はセッションが存在するかを返す。ユーザー削除でセッションも削除される。
func sessionExists(ctx context.Context, q querier, sessionID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, "SELECT id FROM sessions WHERE id = ?", sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("セッションの取得に失敗: %w", err)
	}
	return true, nil
}

// accessTokenRevoked はアクセストークンがサインアウトで失効済みかを返す。
func accessTokenRevoked(ctx context.Context, q querier, jti string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM revoked_access_tokens WHERE jti = ?", jti).Scan(&n); err != nil {
		return false, fmt.Errorf("失効済みトークンの確認に失敗: %w", err)
	}
	return n > 0, nil
}

// findUser は条件に一致するユーザーを1件取得する。存在しない場合は (nil, nil) を返す。
func findUser(ctx context.Context, q querier, where string, args ...any) (*userRecord, error) {
	row := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, args...)
	rec, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// rowScanner は*sql.Rowと*sql.Rowsに共通する読み取り操作。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser はusersテーブルの1行を読み取る。
func scanUser(row rowScanner) (*userRecord, error) {
	var (
		rec                       userRecord
		confirmedAt, lastSignInAt sql.NullString
		metadata                  string
		createdAt, updatedAt      string
	)
	if err := row.Scan(&rec.user.ID, &rec.user.Email, &rec.passwordHash,
		&confirmedAt, &lastSignInAt, &metadata, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("ユーザーの読み取りに失敗: %w", err)
	}

	if err := json.Unmarshal([]byte(metadata), &rec.user.UserMetadata); err != nil {
		return nil, fmt.Errorf("メタデータのデシリアライズに失敗: %w", err)
	}
	if rec.user.UserMetadata == nil {
		rec.user.UserMetadata = map[string]any{}
	}

	var err error
	if rec.user.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("作成日時の解析に失敗: %w", err)
	}
	if rec.user.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("更新日時の解析に失敗: %w", err)
	}
	if rec.user.EmailConfirmedAt, err = parseNullTimestamp(confirmedAt); err != nil {
		return nil, fmt.Errorf("確認日時の解析に失敗: %w", err)
	}
	if rec.user.LastSignInAt, err = parseNullTimestamp(lastSignInAt); err != nil {
		return nil, fmt.Errorf("最終ログイン日時の解析に失敗: %w", err)
	}

	rec.user.Aud = tokenAudience
	rec.user.Role = tokenAudience
	rec.user.AppMetadata = map[string]any{"provider": "email", "providers": []string{"email"}}
	return &rec, nil
}

// parseNullTimestamp はNULL許容の時刻文字列を解析する。
func parseNullTimestamp(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTimestamp(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
