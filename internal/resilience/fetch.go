package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultFetchTimeout bounds a single outbound HTTP request.
const DefaultFetchTimeout = 45 * time.Second

// ErrTimeout classifies requests aborted by FetchWithTimeout.
var ErrTimeout = errors.New("request timed out")

// HTTPStatusError is returned for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP error: status %d", e.StatusCode)
}

// TimeoutError reports a request that did not finish within its budget.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s after %s", e.URL, ErrTimeout, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchResult is a fully read HTTP response.
type FetchResult struct {
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        []byte
}

// FetchWithTimeout sends req and reads the whole response body before
// timeout elapses. The timer is released when the call returns, whatever
// the outcome. A non-2xx status yields *HTTPStatusError.
func FetchWithTimeout(ctx context.Context, client Doer, req *http.Request, timeout time.Duration) (*FetchResult, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, classify(ctx, req, timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, req, timeout, fmt.Errorf("reading response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	return &FetchResult{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// classify turns a deadline hit by our own timer into a TimeoutError.
// Cancellation from the caller's context passes through untouched.
func classify(ctx context.Context, req *http.Request, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{URL: req.URL.Redacted(), Timeout: timeout, Err: err}
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
