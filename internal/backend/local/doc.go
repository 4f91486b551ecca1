// Package local は組み込みSQLiteデータベースでbackend.Clientを実装する。
//
// マネージドバックエンドを用意できない開発環境やエンドツーエンドテストで使用する。
// テーブルの行はJSONドキュメントとして (テーブル名, id) をキーに保存し、
// ユーザーのパスワードはbcryptでハッシュ化する。アクセストークンはHS256で署名したJWT、
// リフレッシュトークンは使い捨てで、更新のたびにローテーションされる。
// サインアウトはアクセストークンのjtiを失効リストに登録し、リフレッシュトークンは残す。
// エラーメッセージはマネージドバックエンドと同じ文言を返すため、
// Gatewayのエラー分類がそのまま機能する。
package local
