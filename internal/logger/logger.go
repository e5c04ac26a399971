package logger

import (
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CorrelationIDHeader is echoed back on every response and attached to log entries.
const CorrelationIDHeader = "X-Correlation-ID"

const correlationIDKey = "bucketdCorrelationID"

// Init builds the process-wide zap logger. LOG_LEVEL overrides the default info level.
func Init() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if lvl, ok := os.LookupEnv("LOG_LEVEL"); ok {
		parsed, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(lvl)))
		if err == nil {
			cfg.Level = zap.NewAtomicLevelAt(parsed)
		}
	}

	return cfg.Build()
}

// Middleware assigns a correlation ID to each request and logs its outcome.
// A nil logger yields a middleware that only propagates the correlation ID.
func Middleware(log ...*zap.Logger) gin.HandlerFunc {
	var l *zap.Logger
	if len(log) > 0 {
		l = log[0]
	}

	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationIDKey, id)
		c.Header(CorrelationIDHeader, id)

		start := time.Now()
		c.Next()

		if l != nil {
			l.Info("http request",
				zap.String("correlation_id", id),
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Int("status", c.Writer.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		}
	}
}

// CorrelationID returns the request's correlation ID, or empty if unset.
func CorrelationID(c *gin.Context) string {
	id, _ := c.Value(correlationIDKey).(string)
	return id
}
