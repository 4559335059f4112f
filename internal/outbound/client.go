// Package outbound 封装对第三方 HTTP 服务的调用 (heimdall 客户端 + 错误解析)。
package outbound

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gojektech/heimdall/v6"
	"github.com/gojektech/heimdall/v6/httpclient"
)

const (
	maximumJitterInterval = 5 * time.Millisecond
	sleepBetweenRetry     = 500 * time.Millisecond

	// MaxResponseBytes 限制 JSON 响应体的读取大小。
	MaxResponseBytes = 1 << 20
)

// NewClient 创建带超时的 heimdall 客户端。retries 为 0 时不重试。
func NewClient(timeout time.Duration, retries int) heimdall.Doer {
	opts := []httpclient.Option{httpclient.WithHTTPTimeout(timeout)}
	if retries > 0 {
		backoff := heimdall.NewConstantBackoff(sleepBetweenRetry, maximumJitterInterval)
		opts = append(opts,
			httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
			httpclient.WithRetryCount(retries),
		)
	}
	return httpclient.NewClient(opts...)
}

// StatusError is returned when a third-party service answers with status >= 400.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// ReadBody reads at most MaxResponseBytes of the response body.
// A status >= 400 yields a *StatusError built from the body's "message" or
// "error" field, or the status text.
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return body, &StatusError{StatusCode: resp.StatusCode, Message: messageFromBody(body, resp.Status)}
	}
	return body, nil
}

func messageFromBody(body []byte, fallback string) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"message", "error"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if fallback == "" {
		return "unknown error"
	}
	return strings.TrimSpace(fallback)
}
