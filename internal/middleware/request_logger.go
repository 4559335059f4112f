package middleware

import (
	"context"
	"net/http"

	"ghibli-go/internal/logger"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
)

// contextKey 是用于在 context.Context 中存储值的自定义类型，以避免键冲突。
type contextKey string

// RequestIDKey 是用于在上下文中存储请求 ID 的键。
const RequestIDKey contextKey = "requestID"

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestLogger 为每个请求分配 ID 并记录方法、路径、状态码和耗时。
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		m := httpsnoop.CaptureMetrics(next, w, r.WithContext(ctx))

		logger.L().Infow("http request",
			"requestId", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration.String(),
			"remote", ClientIP(r),
		)
	})
}

// GetRequestIDFromContext 从上下文中获取请求 ID。
func GetRequestIDFromContext(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	return requestID, ok
}
