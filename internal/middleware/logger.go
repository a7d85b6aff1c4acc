package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
)

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	reqLog := log.With("middleware", "RequestLogger")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start),
			"clientIP", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "errors", c.Errors.String())
		}
		switch {
		case status >= 500:
			reqLog.Error("Request failed", kv...)
		case status >= 400:
			reqLog.Warn("Request rejected", kv...)
		default:
			reqLog.Info("Request handled", kv...)
		}
	}
}
