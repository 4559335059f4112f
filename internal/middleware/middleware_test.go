package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLimiter struct {
	allowed    bool
	retryAfter time.Duration
	err        error
	keys       []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	f.keys = append(f.keys, key)
	return f.allowed, f.retryAfter, f.err
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimit(t *testing.T) {
	testCase := map[string]struct {
		limiter        *fakeLimiter
		method         string
		wantStatus     int
		wantRetryAfter string
	}{
		"allowed": {
			limiter:    &fakeLimiter{allowed: true},
			method:     http.MethodPost,
			wantStatus: http.StatusOK,
		},
		"rejected": {
			limiter:        &fakeLimiter{allowed: false, retryAfter: 1500 * time.Millisecond},
			method:         http.MethodPost,
			wantStatus:     http.StatusTooManyRequests,
			wantRetryAfter: "2",
		},
		"limiter error fails open": {
			limiter:    &fakeLimiter{err: errors.New("redis down")},
			method:     http.MethodPost,
			wantStatus: http.StatusOK,
		},
		"preflight bypasses limiter": {
			limiter:    &fakeLimiter{allowed: false},
			method:     http.MethodOptions,
			wantStatus: http.StatusOK,
		},
	}

	for name, tc := range testCase {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/ghibli", nil)
			rec := httptest.NewRecorder()

			RateLimit(tc.limiter, nil)(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantRetryAfter, rec.Header().Get("Retry-After"))
			if tc.wantStatus == http.StatusTooManyRequests {
				assert.JSONEq(t, `{"error":"Too many requests. Please try again later."}`, rec.Body.String())
			}
		})
	}
}

// countingLimiter 每个 key 只放行 limit 次。
type countingLimiter struct {
	limit  int
	counts map[string]int
}

func (c *countingLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[key]++
	return c.counts[key] <= c.limit, time.Minute, nil
}

func TestRateLimitIgnoresForwardedHeadersFromUntrustedPeer(t *testing.T) {
	limiter := &countingLimiter{limit: 1}
	handler := RateLimit(limiter, nil)(okHandler)

	allowed := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/ghibli", nil)
		req.RemoteAddr = "192.0.2.1:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}

	assert.Equal(t, 1, allowed)
	assert.Equal(t, map[string]int{"192.0.2.1": 20}, limiter.counts)
}

func TestTrustedProxiesClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.10 ", "::1"})
	require.NoError(t, err)

	testCase := map[string]struct {
		remoteAddr string
		forwarded  string
		realIP     string
		want       string
	}{
		"untrusted peer":            {remoteAddr: "192.0.2.1:1234", forwarded: "203.0.113.5", realIP: "198.51.100.7", want: "192.0.2.1"},
		"trusted peer":              {remoteAddr: "10.1.2.3:1234", forwarded: "203.0.113.5", want: "203.0.113.5"},
		"spoofed leftmost hop":      {remoteAddr: "10.1.2.3:1234", forwarded: "1.2.3.4, 203.0.113.5, 10.0.0.7", want: "203.0.113.5"},
		"all hops trusted":          {remoteAddr: "192.0.2.10:1234", forwarded: "10.0.0.8, 10.0.0.7", want: "10.0.0.8"},
		"real ip from trusted peer": {remoteAddr: "[::1]:1234", realIP: "198.51.100.7", want: "198.51.100.7"},
		"malformed forwarded":       {remoteAddr: "10.1.2.3:1234", forwarded: "garbage", want: "10.1.2.3"},
	}

	for name, tc := range testCase {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			assert.Equal(t, tc.want, trusted.ClientIP(req))
		})
	}
}

func TestParseTrustedProxiesInvalid(t *testing.T) {
	_, err := ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	assert.Equal(t, "192.0.2.1", ClientIP(req))
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	var seen string
	handler := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetRequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
}
