package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// errorKind はクライアントに返すエラーの分類。
type errorKind int

const (
	// kindValidation は必須項目の欠落など、バックエンド呼び出し前に検出する入力エラー。
	kindValidation errorKind = iota
	// kindAuth は認証情報やトークンが無効なエラー。
	kindAuth
	// kindNotFound は行やユーザーが存在しないエラー。
	kindNotFound
	// kindConflict はアカウントの重複エラー。
	kindConflict
	// kindTooLarge はリクエストボディが上限を超えたエラー。
	kindTooLarge
	// kindInternal は分類できないバックエンドの失敗。
	kindInternal
)

// status は分類に対応するHTTPステータスコードを返す。
func (k errorKind) status() int {
	switch k {
	case kindValidation:
		return http.StatusBadRequest
	case kindAuth:
		return http.StatusUnauthorized
	case kindNotFound:
		return http.StatusNotFound
	case kindConflict:
		return http.StatusConflict
	case kindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// クライアント向けのエラーメッセージ。
const (
	msgInternal         = "internal server error"
	msgRecordNotFound   = "Record not found"
	msgUserNotFound     = "user not found"
	msgInvalidBody      = "invalid JSON body"
	msgBodyNotObject    = "request body must be a JSON object"
	msgBodyTooLarge     = "request body too large"
	msgRouteNotFound    = "route not found"
	msgCredentialsEmpty = "email and password are required"
)

// respondError はエラー分類に対応するステータスコードで {"error": message} を返す。
func respondError(c *gin.Context, kind errorKind, message string) {
	if message == "" {
		message = msgInternal
	}
	c.JSON(kind.status(), gin.H{"error": message})
}

// respondBackendError はバックエンドのエラーを分類表に従って返す。
func respondBackendError(c *gin.Context, cl classifier, err error) {
	kind, message := cl.classify(err)
	respondError(c, kind, message)
}

// errEmptyBody はリクエストボディが空であることを表す。
var errEmptyBody = errors.New("request body is empty")

// bindJSON はリクエストボディをdstにデシリアライズする。
// ボディが空の場合はerrEmptyBodyを返す。
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// respondBindError はbindJSONのエラーを400または413として返す。
func respondBindError(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		respondError(c, kindTooLarge, msgBodyTooLarge)
		return
	}
	respondError(c, kindValidation, msgInvalidBody)
}
