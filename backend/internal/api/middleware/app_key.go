package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"espeleo-club/backend/pkg/response"
)

// AppKey 校验 X-App-Key 请求头；未配置应用密钥时放行
func AppKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}

		got := c.GetHeader("X-App-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			response.Unauthorized(c, 10006, "应用密钥无效")
			c.Abort()
			return
		}

		c.Next()
	}
}
