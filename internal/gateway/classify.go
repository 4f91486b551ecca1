package gateway

import "strings"

// classifyRule はバックエンドのエラーメッセージに含まれる文字列とエラー分類の対応。
type classifyRule struct {
	// contains はエラーメッセージに含まれる文字列。大文字小文字を区別する。
	contains string
	// kind は一致した場合のエラー分類。
	kind errorKind
	// message は一致した場合にクライアントに返すメッセージ。
	message string
}

// classifier は1つの操作についてバックエンドのエラーを分類する規則の表。
// 規則は先頭から順に評価し、最初に一致したものを採用する。
type classifier struct {
	// rules は評価する規則。
	rules []classifyRule
	// fallback はどの規則にも一致しない場合のエラー分類。
	fallback errorKind
	// fallbackMessage はどの規則にも一致しない場合のメッセージ。
	// 空の場合はバックエンドのメッセージをそのまま返す。
	fallbackMessage string
}

// 操作ごとの分類表。
var (
	// passThrough は全てのエラーを500とし、バックエンドのメッセージを返す。
	passThrough = classifier{fallback: kindInternal}

	createUserErrors = classifier{
		rules: []classifyRule{
			{contains: "duplicate", kind: kindConflict, message: "user already exists"},
			{contains: "Password", kind: kindValidation, message: "invalid password, minimum 6 characters"},
		},
		fallback: kindInternal,
	}

	loginErrors = classifier{
		rules: []classifyRule{
			{contains: "Invalid login credentials", kind: kindAuth, message: "invalid credentials"},
			{contains: "Email not confirmed", kind: kindAuth, message: "email not confirmed"},
		},
		fallback: kindInternal,
	}

	sessionErrors = classifier{fallback: kindAuth, fallbackMessage: "invalid token"}

	refreshErrors = classifier{fallback: kindAuth, fallbackMessage: "invalid token"}
)

// classify はバックエンドのエラーを分類し、エラー分類とクライアント向けメッセージを返す。
func (cl classifier) classify(err error) (errorKind, string) {
	msg := err.Error()
	for _, r := range cl.rules {
		if strings.Contains(msg, r.contains) {
			return r.kind, r.message
		}
	}
	if cl.fallbackMessage != "" {
		return cl.fallback, cl.fallbackMessage
	}
	return cl.fallback, msg
}
