// Package httpclient はバックエンドサービスとのJSON HTTP通信を行うクライアントを提供する。
//
// Gatewayが背後のマネージドバックエンド（テーブルAPI、認証API）を呼び出す際に使用する。
// 共通ヘッダー（APIキー等）の付与、タイムアウト、エラーレスポンスの扱いを統一する。
package httpclient
