// Package supabase はマネージドバックエンドのHTTP APIを使ってbackend.Clientを実装する。
//
// テーブル操作はREST API（/rest/v1）、ユーザー管理とセッション操作は認証API（/auth/v1）に
// 変換する。管理操作はサービスロールキーで、エンドユーザー操作はクライアントから
// 受け取ったトークンをそのまま使って呼び出す。
package supabase
