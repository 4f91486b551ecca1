package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// recoveryMessage はパニック時にクライアントへ返すエラーメッセージ。
const recoveryMessage = "internal server error"

// Recovery はパニックを500の {"error": "internal server error"} に変換するGinミドルウェアを返す。
// ログは標準のロガーに出力する。
func Recovery() gin.HandlerFunc {
	return RecoveryWithLogger(log.Default())
}

// RecoveryWithLogger はログの出力先を指定したRecoveryを返す。
// ログにはメソッド、リクエストURI、パニック値、スタックトレースを含める。
// レスポンスが書き込み済みの場合はボディを追加せず処理を中断するだけにする。
func RecoveryWithLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Printf("[PANIC] %s %s: %v\n%s", c.Request.Method, c.Request.URL.RequestURI(), r, debug.Stack())
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": recoveryMessage})
		}()
		c.Next()
	}
}
