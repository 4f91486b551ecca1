// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// パニックリカバリ、CORS設定、リクエストボディサイズの制限と、
// Authorizationヘッダーからのベアラートークン抽出を含む。
package middleware
