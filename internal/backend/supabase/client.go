package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nao1215/supagate/internal/backend"
	"github.com/nao1215/supagate/pkg/httpclient"
)

// Config はクライアントの設定。
type Config struct {
	// URL はプロジェクトのベースURL（例: https://xyz.supabase.co）。
	URL string
	// ServiceRoleKey は管理操作に使うサービスロールキー。
	ServiceRoleKey string
	// Timeout は1回の呼び出しのタイムアウト。0の場合はタイムアウトしない。
	Timeout time.Duration
}

// Client はbackend.ClientのHTTP実装。生成後は不変で、並行利用できる。
type Client struct {
	// rest はテーブルAPI用のHTTPクライアント。
	rest *httpclient.Client
	// auth は認証API用のHTTPクライアント。
	auth *httpclient.Client
}

var _ backend.Client = (*Client)(nil)

// New は新しいクライアントを生成する。
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("supabase: URLが不正です: %q", cfg.URL)
	}
	if cfg.ServiceRoleKey == "" {
		return nil, errors.New("supabase: サービスロールキーが設定されていません")
	}

	base := strings.TrimRight(cfg.URL, "/")
	opts := []httpclient.Option{
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithHeader("apikey", cfg.ServiceRoleKey),
		httpclient.WithHeader("Authorization", "Bearer "+cfg.ServiceRoleKey),
	}
	return &Client{
		rest: httpclient.New(base+"/rest/v1", opts...),
		auth: httpclient.New(base+"/auth/v1", opts...),
	}, nil
}

// Close はリソースを解放する。HTTPクライアントは保持する資源が無いため何もしない。
func (c *Client) Close() error {
	return nil
}

// errorBody はREST APIと認証APIのエラーレスポンスに現れるフィールド。
type errorBody struct {
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"error_description"`
	Error            string          `json:"error"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
}

// toBackendError はHTTPクライアントのエラーをbackend.Errorに変換する。
// メッセージはバックエンドの文言を加工せずに保持する。
func toBackendError(err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return backend.NewError(http.StatusBadGateway, "", "backend request failed: "+err.Error())
	}

	var body errorBody
	_ = json.Unmarshal(statusErr.Body, &body)

	message := firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error)
	if message == "" {
		message = http.StatusText(statusErr.StatusCode)
	}

	code := body.ErrorCode
	if code == "" {
		var s string
		if json.Unmarshal(body.Code, &s) == nil {
			code = s
		}
	}
	if code == "" && body.Error != message {
		code = body.Error
	}
	return backend.NewError(statusErr.StatusCode, code, message)
}

// isStatus はerrが指定したステータスのStatusErrorかどうかを返す。
func isStatus(err error, statuses ...int) bool {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	for _, s := range statuses {
		if statusErr.StatusCode == s {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// bearer はユーザーのトークンで管理キーを上書きするヘッダーを返す。
func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}
