// Package backend はGatewayが背後のマネージドバックエンドに要求する機能を定義する。
//
// 名前付きテーブルに対する汎用的なCRUD操作（TableStore）と、
// ユーザー管理・セッション発行を行う認証操作（Identity）の2つから成る。
// Gatewayはこのインターフェースにのみ依存し、実装（リモートのHTTP API、
// ローカルのSQLite）はプロセス起動時に1つだけ生成されて全リクエストで共有される。
package backend
