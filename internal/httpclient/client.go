// Package httpclient builds the retrying HTTP client shared by the platform
// and image backends.
package httpclient

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// LeveledSlog adapts slog to retryablehttp.LeveledLogger.
type LeveledSlog struct {
	inner *slog.Logger
}

// Error is logged at WARN because a retry usually follows.
func (l LeveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l LeveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type Option func(*retryablehttp.Client)

func WithMaxRetries(n int) Option {
	return func(c *retryablehttp.Client) { c.RetryMax = n }
}

func WithRetryWait(min, max time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryWaitMin = min
		c.RetryWaitMax = max
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *retryablehttp.Client) {
		c.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger})
	}
}

// New returns a stdlib *http.Client that retries connection errors and 5xx
// responses (except 501) for idempotent methods. POST and PATCH go out
// exactly once: a createRecord answered 502 may already be committed.
// 429 is returned to the caller untouched.
func New(timeout time.Duration, options ...Option) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: slog.Default().With("component", "httpclient")})
	rc.CheckRetry = RetryPolicy

	for _, o := range options {
		o(rc)
	}

	client := rc.StandardClient()
	client.Transport = sendOnce{next: client.Transport}
	client.Timeout = timeout
	return client
}

type sendOnceKey struct{}

// sendOnce marks non-idempotent requests so RetryPolicy never repeats them,
// including when the attempt failed without a response.
type sendOnce struct {
	next http.RoundTripper
}

func (t sendOnce) RoundTrip(req *http.Request) (*http.Response, error) {
	if !Idempotent(req.Method) {
		req = req.WithContext(context.WithValue(req.Context(), sendOnceKey{}, true))
	}
	return t.next.RoundTrip(req)
}

// Idempotent reports whether method may be safely repeated (RFC 9110 9.2.2).
func Idempotent(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace,
		http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// RetryPolicy wraps retryablehttp.DefaultRetryPolicy, treating 429 Too Many
// Requests as final. The monitors already wait a fixed delay between sends
// and retry on the next tick. Requests marked send-once are never retried.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if once, _ := ctx.Value(sendOnceKey{}).(bool); once {
		return false, nil
	}
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
