package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// bearerPrefix はAuthorizationヘッダーのベアラートークン接頭辞。
const bearerPrefix = "Bearer "

// BearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
// ヘッダーが無い場合、"Bearer " で始まらない場合、トークンが空の場合はfalseを返す。
// トークン自体の検証は行わない。
func BearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	token, found := strings.CutPrefix(authHeader, bearerPrefix)
	if !found || token == "" {
		return "", false
	}
	return token, true
}
