package middleware

import (
	"time"

	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// RequestLogger - Gin middleware для логирования HTTP-запросов.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		path := c.Request.URL.Path
		rawQuery := c.Request.URL.RawQuery
		if rawQuery != "" {
			path = path + "?" + rawQuery
		}

		c.Next()

		latency := time.Since(start)

		log.Infow("Request handled",
			"status_code", c.Writer.Status(),
			"method", c.Request.Method,
			"path", path,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		)
	}
}
