// Package gateway はバックエンドの前段に立つHTTP Gatewayを提供する。
//
// 任意の名前付きテーブルに対する汎用CRUD（Table Gateway）と、
// ユーザー管理およびセッションのライフサイクル（Auth Gateway）をREST APIとして公開する。
// Gatewayは状態を持たず、生成時に渡された単一のバックエンドクライアントを
// 全リクエストから読み取り専用で共有する。認可やキャッシュは行わず、
// ベアラートークンはそのままバックエンドに中継する。
package gateway
