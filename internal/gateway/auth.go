package gateway

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/supagate/internal/backend"
	"github.com/nao1215/supagate/pkg/middleware"
)

// userSummary はユーザー一覧の1件。
type userSummary struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    string         `json:"created_at"`
	UserMetadata map[string]any `json:"user_metadata"`
	Role         any            `json:"role"`
}

// userProfile はユーザー作成、ログイン、セッション確認で返すユーザー情報。
type userProfile struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// createUserRequest はユーザー作成のリクエストボディ。
type createUserRequest struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	EmailConfirm *bool          `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// updateUserRequest はユーザー更新のリクエストボディ。
type updateUserRequest struct {
	Email        *string        `json:"email"`
	Password     *string        `json:"password"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// loginRequest はログインのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest はトークン更新のリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// newUserSummary はユーザー一覧用の射影を作る。
func newUserSummary(u backend.User) userSummary {
	return userSummary{
		ID:           u.ID,
		Email:        u.Email,
		CreatedAt:    u.CreatedAt.UTC().Format(time.RFC3339Nano),
		UserMetadata: metadataOrEmpty(u.UserMetadata),
		Role:         u.AppRole(),
	}
}

// newUserProfile はユーザー情報の射影を作る。
func newUserProfile(u *backend.User) userProfile {
	return userProfile{
		ID:           u.ID,
		Email:        u.Email,
		UserMetadata: metadataOrEmpty(u.UserMetadata),
	}
}

// metadataOrEmpty はnilのメタデータを空のマップに置き換える。
func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// handleListUsers は全ユーザーを返すハンドラを返す。
func (s *Server) handleListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := s.backendContext(c)
		defer cancel()

		users, err := s.backend.ListUsers(ctx)
		if err != nil {
			log.Printf("ユーザー一覧の取得に失敗: %v", err)
			respondBackendError(c, passThrough, err)
			return
		}

		data := make([]userSummary, 0, len(users))
		for _, u := range users {
			data = append(data, newUserSummary(u))
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    data,
			"total":   len(data),
		})
	}
}

// handleCreateUser はユーザーを作成するハンドラを返す。
// email_confirmは既定でtrue、user_metadataは既定で空のマップとする。
func (s *Server) handleCreateUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		if err := bindJSON(c, &req); err != nil && !errors.Is(err, errEmptyBody) {
			respondBindError(c, err)
			return
		}
		if req.Email == "" || req.Password == "" {
			respondError(c, kindValidation, msgCredentialsEmpty)
			return
		}

		params := backend.CreateUserParams{
			Email:        req.Email,
			Password:     req.Password,
			EmailConfirm: true,
			UserMetadata: metadataOrEmpty(req.UserMetadata),
		}
		if req.EmailConfirm != nil {
			params.EmailConfirm = *req.EmailConfirm
		}

		log.Printf("ユーザーを作成します: email=%s, metadata=%t", req.Email, len(params.UserMetadata) > 0)

		ctx, cancel := s.backendContext(c)
		defer cancel()

		user, err := s.backend.CreateUser(ctx, params)
		if err != nil {
			log.Printf("ユーザーの作成に失敗: %v", err)
			respondBackendError(c, createUserErrors, err)
			return
		}
		if user == nil {
			log.Printf("ユーザーの作成結果が空: email=%s", req.Email)
			respondError(c, kindInternal, "could not create user")
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"data":    gin.H{"user": newUserProfile(user)},
		})
	}
}

// handleLogin はメールアドレスとパスワードでログインするハンドラを返す。
// メールアドレスは前後の空白を除去し小文字化してからバックエンドに渡す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := bindJSON(c, &req); err != nil && !errors.Is(err, errEmptyBody) {
			respondBindError(c, err)
			return
		}
		if req.Email == "" || req.Password == "" {
			respondError(c, kindValidation, msgCredentialsEmpty)
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))

		log.Printf("ログインを試行します: email=%s", email)

		ctx, cancel := s.backendContext(c)
		defer cancel()

		session, err := s.backend.SignInWithPassword(ctx, email, req.Password)
		if err != nil {
			log.Printf("ログインに失敗: email=%s, error=%v", email, err)
			respondBackendError(c, loginErrors, err)
			return
		}
		if session == nil || session.User == nil {
			respondError(c, kindAuth, "could not sign in")
			return
		}

		log.Printf("ログインに成功: user_id=%s", session.User.ID)
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"access_token":  session.AccessToken,
			"refresh_token": session.RefreshToken,
			"user":          newUserProfile(session.User),
		})
	}
}

// handleSession はベアラートークンに対応するユーザーを返すハンドラを返す。
func (s *Server) handleSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := middleware.BearerToken(c)
		if !ok {
			respondError(c, kindAuth, "token not provided")
			return
		}

		ctx, cancel := s.backendContext(c)
		defer cancel()

		user, err := s.backend.GetUserByToken(ctx, token)
		if err != nil {
			log.Printf("セッションの検証に失敗: %v", err)
			respondBackendError(c, sessionErrors, err)
			return
		}
		if user == nil {
			respondError(c, kindAuth, "invalid session")
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "user": newUserProfile(user)})
	}
}

// handleLogout はベアラートークンのセッションを無効化するハンドラを返す。
// トークンが無い場合も成功として扱う。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := middleware.BearerToken(c)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "no active session"})
			return
		}

		ctx, cancel := s.backendContext(c)
		defer cancel()

		if err := s.backend.SignOut(ctx, token); err != nil {
			log.Printf("ログアウトに失敗: %v", err)
			respondBackendError(c, passThrough, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "message": "session closed"})
	}
}

// handleGetUser はIDでユーザーを返すハンドラを返す。
func (s *Server) handleGetUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		ctx, cancel := s.backendContext(c)
		defer cancel()

		user, err := s.backend.GetUser(ctx, id)
		if err != nil {
			log.Printf("ユーザーの取得に失敗: id=%s, error=%v", id, err)
			respondBackendError(c, passThrough, err)
			return
		}
		if user == nil {
			respondError(c, kindNotFound, msgUserNotFound)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": user})
	}
}

// handleUpdateUser はユーザーのメールアドレス、パスワード、メタデータを更新するハンドラを返す。
// 指定されなかった項目は変更しない。
func (s *Server) handleUpdateUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		var req updateUserRequest
		if err := bindJSON(c, &req); err != nil && !errors.Is(err, errEmptyBody) {
			respondBindError(c, err)
			return
		}

		ctx, cancel := s.backendContext(c)
		defer cancel()

		user, err := s.backend.UpdateUser(ctx, id, backend.UpdateUserParams{
			Email:        req.Email,
			Password:     req.Password,
			UserMetadata: req.UserMetadata,
		})
		if err != nil {
			log.Printf("ユーザーの更新に失敗: id=%s, error=%v", id, err)
			respondBackendError(c, passThrough, err)
			return
		}
		if user == nil {
			respondError(c, kindNotFound, msgUserNotFound)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": user})
	}
}

// handleDeleteUser はユーザーを削除するハンドラを返す。
func (s *Server) handleDeleteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		ctx, cancel := s.backendContext(c)
		defer cancel()

		if err := s.backend.DeleteUser(ctx, id); err != nil {
			log.Printf("ユーザーの削除に失敗: id=%s, error=%v", id, err)
			respondBackendError(c, passThrough, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "message": "user deleted"})
	}
}

// handleRefresh はリフレッシュトークンで新しいトークンの組を発行するハンドラを返す。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := bindJSON(c, &req); err != nil && !errors.Is(err, errEmptyBody) {
			respondBindError(c, err)
			return
		}
		if req.RefreshToken == "" {
			respondError(c, kindValidation, "refresh token required")
			return
		}

		ctx, cancel := s.backendContext(c)
		defer cancel()

		session, err := s.backend.RefreshSession(ctx, req.RefreshToken)
		if err != nil {
			log.Printf("トークンの更新に失敗: %v", err)
			respondBackendError(c, refreshErrors, err)
			return
		}
		if session == nil {
			respondError(c, kindAuth, "invalid token")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"access_token":  session.AccessToken,
			"refresh_token": session.RefreshToken,
			"user":          session.User,
		})
	}
}
