package resilience

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

func TestFetchWithTimeoutSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	res, err := FetchWithTimeout(context.Background(), srv.Client(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, []byte("png-bytes"), res.Body)
}

func TestFetchWithTimeoutNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = FetchWithTimeout(context.Background(), srv.Client(), req, time.Second)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestFetchWithTimeoutAborts(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(released)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = FetchWithTimeout(context.Background(), srv.Client(), req, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 100*time.Millisecond, te.Timeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request was not cancelled")
	}
}

func TestFetchWithTimeoutCallerCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = FetchWithTimeout(ctx, srv.Client(), req, 5*time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchWithTimeoutRetriedByRunner(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := NewRunner(NewCache(), WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
	body, err := Do(context.Background(), r, "download-v1-"+srv.URL, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			return nil, err
		}
		res, err := FetchWithTimeout(ctx, srv.Client(), req, time.Second)
		if err != nil {
			return nil, err
		}
		return res.Body, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, int32(3), attempts.Load())
}
