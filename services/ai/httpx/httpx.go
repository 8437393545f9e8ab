// Package httpx holds the HTTP plumbing shared by the AI providers: retries of transient
// failures before a response is accepted, and a line reader for streamed bodies.
package httpx

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HTTPError carries the status and body of a non-2xx response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, snippet(e.Body, 300))
}

func snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond, MaxDelay: 3 * time.Second}
}

// NewClient returns a client for streaming calls: no overall timeout, only a bound on
// the wait for response headers.
func NewClient(headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: tr}
}

// Open sends the request built by buildReq, retrying network errors, 408, 429 and 5xx
// responses, and returns the first 2xx response with its body unread. The caller closes it.
func Open(ctx context.Context, client *http.Client, buildReq func(context.Context) (*http.Request, error), cfg RetryConfig) (*http.Response, error) {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		req, err := buildReq(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "building request")
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !isRetryableNetErr(err) {
				return nil, err
			}
			lastErr = err
			if attempt < cfg.MaxAttempts {
				if err := sleepBackoff(ctx, attempt, cfg, 0); err != nil {
					return nil, err
				}
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		herr := &HTTPError{Method: req.Method, URL: redact(req), StatusCode: resp.StatusCode, Body: body}
		if !isRetryableStatus(resp.StatusCode) {
			return nil, herr
		}
		lastErr = herr
		if attempt < cfg.MaxAttempts {
			if err := sleepBackoff(ctx, attempt, cfg, ParseRetryAfter(resp)); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// Do is Open followed by reading the whole body.
func Do(ctx context.Context, client *http.Client, buildReq func(context.Context) (*http.Request, error), cfg RetryConfig) ([]byte, error) {
	resp, err := Open(ctx, client, buildReq, cfg)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return body, errors.Wrap(err, "reading response")
}

func redact(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func isRetryableNetErr(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") || strings.Contains(msg, "eof")
}

func sleepBackoff(ctx context.Context, attempt int, cfg RetryConfig, retryAfter time.Duration) error {
	sleep := retryAfter
	if sleep <= 0 {
		sleep = cfg.BaseDelay * time.Duration(1<<(attempt-1))
		if sleep > cfg.MaxDelay {
			sleep = cfg.MaxDelay
		}
		sleep += time.Duration(rand.Int63n(int64(cfg.BaseDelay/2) + 1))
	} else if sleep > cfg.MaxDelay {
		sleep = cfg.MaxDelay
	}

	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParseRetryAfter parses the Retry-After header (seconds or HTTP date); 0 when absent.
func ParseRetryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// LineReader yields the non-empty lines of a streamed body.
type LineReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func NewLineReader(body io.ReadCloser) *LineReader {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	return &LineReader{body: body, scanner: sc}
}

// Next returns the next non-empty line, or io.EOF at the end of the body.
func (r *LineReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(strings.TrimSpace(string(line))) > 0 {
			return line, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *LineReader) Close() error {
	return r.body.Close()
}
