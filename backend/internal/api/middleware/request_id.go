package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	applogger "espeleo-club/backend/pkg/logger"
)

const requestIDKey = "request_id"

// requestIDMaxLen 外部传入的 X-Request-ID 超过该长度时重新生成
const requestIDMaxLen = 64

// RequestID 读取或生成请求 ID，写入 gin.Context、请求 context 与响应头
// 服务层通过 applogger.FromContext(ctx, ...) 在日志中带上该 ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" || len(rid) > requestIDMaxLen {
			rid = uuid.New().String()
		}

		c.Set(requestIDKey, rid)
		c.Request = c.Request.WithContext(applogger.WithRequestID(c.Request.Context(), rid))
		c.Header("X-Request-ID", rid)

		c.Next()
	}
}
