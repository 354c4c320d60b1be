package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Audit records mutating student operations after they succeed, tagging the
// acting identity. Failed requests are already logged by the request logger.
func Audit(logger *zap.Logger, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		fields := []zap.Field{
			zap.String("action", action),
			zap.String("path", c.FullPath()),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			zap.String("ip", c.ClientIP()),
		}
		if ident := IdentityFromContext(c); ident != nil {
			fields = append(fields,
				zap.String("subject_id", ident.SubjectID),
				zap.String("role", string(ident.Role)),
			)
		}

		logger.Info("audit", fields...)
	}
}
