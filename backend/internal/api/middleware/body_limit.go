package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"espeleo-club/backend/pkg/response"
)

// CodeBodyTooLarge 请求体超限业务码
const CodeBodyTooLarge = 10005

// BodyLimit 请求体大小限制
// routeLimits 以路由模板（c.FullPath()）为键覆盖默认上限，例如库存导入允许更大的上传
func BodyLimit(defaultMax int64, routeLimits map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultMax
		if l, ok := routeLimits[c.FullPath()]; ok {
			limit = l
		}
		if limit <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}

		if c.Request.ContentLength > limit {
			RejectBodyTooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

		c.Next()

		if c.IsAborted() || c.Writer.Written() {
			return
		}
		for _, err := range c.Errors {
			if IsBodyTooLarge(err.Err) {
				RejectBodyTooLarge(c)
				return
			}
		}
	}
}

// IsBodyTooLarge 判断读取请求体的错误是否因超出上限
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// RejectBodyTooLarge 返回 413
func RejectBodyTooLarge(c *gin.Context) {
	response.Error(c, http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "请求体过大")
	c.Abort()
}
