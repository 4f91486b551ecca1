package backend

import (
	"errors"
	"net/http"
)

// Error はバックエンドが返したエラー。
// Messageはバックエンドが返した人間向けのメッセージで、Gatewayはこの文言で
// エラーを分類するため加工してはならない。
type Error struct {
	// Status はバックエンドのHTTPステータスコード。
	Status int
	// Code はバックエンドのエラーコード（例: "invalid_credentials"）。空の場合もある。
	Code string
	// Message はバックエンドのエラーメッセージ。
	Message string
}

// Error はバックエンドのエラーメッセージをそのまま返す。
func (e *Error) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

// NewError はバックエンドエラーを生成する。
func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// StatusOf はerrがバックエンドエラーであればそのステータスコードを返す。
// それ以外の場合は0を返す。
func StatusOf(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.Status
	}
	return 0
}
