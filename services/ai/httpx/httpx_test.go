package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func get(url string) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantCode  int
	}{
		{"ok", []int{http.StatusOK}, 1, 0},
		{"retries 503", []int{http.StatusServiceUnavailable, http.StatusOK}, 2, 0},
		{"retries 429 until exhausted", []int{429, 429, 429, 429}, 3, 429},
		{"does not retry 400", []int{http.StatusBadRequest, http.StatusOK}, 1, 400},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.statuses[n-1])
				_, _ = w.Write([]byte("body"))
			}))
			defer srv.Close()

			resp, err := Open(context.Background(), srv.Client(), get(srv.URL+"?key=secret"), fastRetry)
			assert.Equal(t, tc.wantCalls, atomic.LoadInt32(&calls))
			if tc.wantCode == 0 {
				require.NoError(t, err)
				body, _ := io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				assert.Equal(t, "body", string(body))
				return
			}
			var herr *HTTPError
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, tc.wantCode, herr.StatusCode)
			assert.NotContains(t, herr.Error(), "secret")
		})
	}
}

func TestOpen_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx, srv.Client(), get(srv.URL), RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second})
	assert.Equal(t, context.Canceled, errors.Cause(err))
}

func TestParseRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Zero(t, ParseRetryAfter(resp))
	resp.Header.Set("Retry-After", "2")
	assert.Equal(t, 2*time.Second, ParseRetryAfter(resp))
	resp.Header.Set("Retry-After", "soon")
	assert.Zero(t, ParseRetryAfter(resp))
}

func TestLineReader(t *testing.T) {
	r := NewLineReader(io.NopCloser(strings.NewReader("a\n\n  \nb\n")))
	line, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", string(line))
	line, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", string(line))
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, r.Close())
}
