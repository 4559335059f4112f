package outbound

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBody(t *testing.T) {
	testCase := map[string]struct {
		status      int
		body        string
		wantErr     bool
		wantMessage string
	}{
		"ok": {
			status: http.StatusOK,
			body:   `{"result":"x"}`,
		},
		"error with message field": {
			status:      http.StatusBadGateway,
			body:        `{"message":"model overloaded"}`,
			wantErr:     true,
			wantMessage: "model overloaded",
		},
		"error with error field": {
			status:      http.StatusBadRequest,
			body:        `{"error":"imageUrl is required"}`,
			wantErr:     true,
			wantMessage: "imageUrl is required",
		},
		"error without json": {
			status:      http.StatusInternalServerError,
			body:        `<html>oops</html>`,
			wantErr:     true,
			wantMessage: "500 Internal Server Error",
		},
	}

	for name, tc := range testCase {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			resp, err := http.Get(ts.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := ReadBody(resp)
			assert.Equal(t, tc.body, string(body))
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tc.status, statusErr.StatusCode)
			assert.Equal(t, tc.wantMessage, statusErr.Message)
		})
	}
}

func TestNewClientRetriesOnServerError(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(5*time.Second, 1)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNewClientWithoutRetries(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewClient(5*time.Second, 0)
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
