package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger 请求日志中间件。
// 过滤 /metrics 与健康检查噪音，GET 请求只在出错时记录。
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()

		if strings.HasPrefix(path, "/metrics") || strings.HasPrefix(path, "/healthz") {
			return
		}
		if method == "GET" && status < 400 {
			return
		}

		logger.Info("request",
			zap.Int("status", status),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
