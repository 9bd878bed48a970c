package middleware

import (
	"time"

	"github.com/annel0/voxel-nav/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey — ключ gin.Context с trace-ID запроса
const TraceIDKey = "trace_id"

// TraceIDHeader — заголовок ответа с trace-ID
const TraceIDHeader = "X-Trace-Id"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи:
// Debug на входе, Info на выходе.
type RequestLogger struct {
	log *logging.Logger
}

// NewRequestLogger создаёт middleware; nil означает логгер по умолчанию
func NewRequestLogger(logger *logging.Logger) *RequestLogger {
	return &RequestLogger{log: logger}
}

func (rl *RequestLogger) logger() *logging.Logger {
	if rl.log != nil {
		return rl.log
	}
	return logging.Default()
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Пытаемся извлечь trace-id из OpenTelemetry, если уже создан.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		clientIP := c.ClientIP()

		rl.logger().Debug("[HTTP] ▶ %s %s ip=%s trace=%s", method, path, clientIP, traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			rl.logger().Warn("[HTTP] ◀ %s %s %d %s trace=%s errors=%s", method, path, status, latency, traceID, c.Errors.String())
			return
		}
		rl.logger().Info("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
	}
}

// TraceID возвращает trace-ID текущего запроса или пустую строку
func TraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}
