package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/nao1215/supagate/internal/backend"
	"github.com/nao1215/supagate/pkg/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// serviceName はトレースとサービス情報に使う名前。
	serviceName = "supagate"
	// serviceVersion はサービス情報に表示するバージョン。
	serviceVersion = "1.0.0"
	// authPrefix はAuth Gatewayのパス接頭辞。
	authPrefix = "/api/supabase/auth"
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 10 * time.Second
)

func init() {
	// 2^53を超える整数のIDを丸めないよう、JSONの数値はjson.Numberで受け取る。
	binding.EnableDecoderUseNumber = true
}

// Backend はGatewayが利用するバックエンドの操作。
type Backend interface {
	backend.TableStore
	backend.Identity
}

// Options はServerの設定。
type Options struct {
	// Addr はリッスンアドレス（例: "0.0.0.0:3000"）。
	Addr string
	// AllowedOrigins はCORSで許可するオリジン。"*"で全て許可する。
	AllowedOrigins []string
	// BodyLimitBytes はリクエストボディの上限。0以下の場合は制限しない。
	BodyLimitBytes int64
	// BackendTimeout はバックエンド呼び出し1回あたりのタイムアウト。0はタイムアウトなし。
	BackendTimeout time.Duration
}

// Server はGatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// addr はサーバーのリッスンアドレス。
	addr string
	// backend は全リクエストで共有するバックエンドクライアント。
	backend Backend
	// backendTimeout はバックエンド呼び出し1回あたりのタイムアウト。
	backendTimeout time.Duration
}

// NewServer は新しいGatewayサーバーを生成する。
// clientは生成後に変更されず、全リクエストから共有される。
func NewServer(client Backend, opts Options) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(middleware.BodyLimit(opts.BodyLimitBytes))

	s := &Server{
		router:         router,
		addr:           opts.Addr,
		backend:        client,
		backendTimeout: opts.BackendTimeout,
	}
	s.setupRoutes()

	return s
}

// Handler はOpenTelemetryで計装したHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, serviceName)
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Gatewayを起動します: http://%s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("Gatewayを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
// 固定パスはテーブルのワイルドカードより優先される。
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot())
	s.router.GET("/health", s.handleHealth())

	auth := s.router.Group(authPrefix)
	{
		auth.GET("/users", s.handleListUsers())
		auth.POST("/users", s.handleCreateUser())
		auth.GET("/users/:id", s.handleGetUser())
		auth.PUT("/users/:id", s.handleUpdateUser())
		auth.DELETE("/users/:id", s.handleDeleteUser())
		auth.POST("/login", s.handleLogin())
		auth.GET("/session", s.handleSession())
		auth.POST("/logout", s.handleLogout())
		auth.POST("/refresh", s.handleRefresh())
	}

	s.router.GET("/:table", s.handleListRecords())
	s.router.POST("/:table", s.handleCreateRecord())
	s.router.GET("/:table/:id", s.handleGetRecord())
	s.router.PUT("/:table/:id", s.handleUpdateRecord())
	s.router.DELETE("/:table/:id", s.handleDeleteRecord())

	s.router.NoRoute(s.handleNotFound())
}

// backendContext はバックエンド呼び出し用のコンテキストを返す。
func (s *Server) backendContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.backendTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), s.backendTimeout)
}

// handleRoot はサービス情報を返すハンドラを返す。
func (s *Server) handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Supabase gateway API",
			"version": serviceVersion,
			"status":  "running",
			"endpoints": gin.H{
				"health": "/health",
				"tables": gin.H{
					"list":   "GET /:table",
					"get":    "GET /:table/:id",
					"create": "POST /:table",
					"update": "PUT /:table/:id",
					"delete": "DELETE /:table/:id",
				},
				"auth": gin.H{
					"list_users":  "GET " + authPrefix + "/users",
					"create_user": "POST " + authPrefix + "/users",
					"get_user":    "GET " + authPrefix + "/users/:id",
					"update_user": "PUT " + authPrefix + "/users/:id",
					"delete_user": "DELETE " + authPrefix + "/users/:id",
					"login":       "POST " + authPrefix + "/login",
					"session":     "GET " + authPrefix + "/session",
					"logout":      "POST " + authPrefix + "/logout",
					"refresh":     "POST " + authPrefix + "/refresh",
				},
			},
		})
	}
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// handleNotFound は未定義のルートに404を返すハンドラを返す。
func (s *Server) handleNotFound() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  msgRouteNotFound,
			"path":   c.Request.URL.RequestURI(),
			"method": c.Request.Method,
		})
	}
}
