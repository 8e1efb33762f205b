package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// hijackClose terminates the connection mid-request to simulate the Census
// mirrors dropping connections under load.
func hijackClose(w http.ResponseWriter) bool {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return false
	}
	conn, _, _ := hj.Hijack()
	conn.Close() //nolint:errcheck
	return true
}

func TestDownload_RecoversFromDroppedConnections(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			if hijackClose(w) {
				return
			}
		}
		w.Write([]byte("archive bytes")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    2 * time.Second,
		MaxRetries: 3,
	})

	body, err := f.Download(context.Background(), srv.URL+"/geo/tiger/tl_2023_us_zcta520.zip")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "archive bytes", string(data))
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestDownload_GivesUpWhenEveryAttemptDrops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hijackClose(w)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    1 * time.Second,
		MaxRetries: 2,
	})

	_, err := f.Download(context.Background(), srv.URL+"/fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retries exhausted")
}

func TestBackoff_CapRespectsContext(t *testing.T) {
	f := newTestFetcher()

	// Attempt 20 would be an enormous delay without the 30s cap; the short
	// context proves the sleep is interruptible either way.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	f.backoff(ctx, 20)
	assert.Less(t, time.Since(start), 1*time.Second)
}

func TestBackoff_CancelledContextReturnsImmediately(t *testing.T) {
	f := newTestFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	f.backoff(ctx, 0)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestDownload_MalformedURL(t *testing.T) {
	f := newTestFetcher()
	_, err := f.Download(context.Background(), "://invalid-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create request")
}

func TestDownloadToFile_MissingParentDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data")) //nolint:errcheck
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.DownloadToFile(context.Background(), srv.URL+"/file", "/nonexistent/dir/archive.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create file")
}

func TestDownloadToFile_ReadOnlyDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("content")) //nolint:errcheck
	}))
	defer srv.Close()

	f := newTestFetcher()
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	defer os.Chmod(dir, 0o755) //nolint:errcheck

	_, err := f.DownloadToFile(context.Background(), srv.URL+"/file", filepath.Join(dir, "archive.zip"))
	require.Error(t, err)
}

func TestHeadETag_MalformedURL(t *testing.T) {
	f := newTestFetcher()
	_, err := f.HeadETag(context.Background(), "://invalid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create head request")
}

func TestHeadETag_DroppedConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hijackClose(w)
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.HeadETag(context.Background(), srv.URL+"/res")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "head request")
}

// zeroBurstLimiter blocks every request for the given host, so a short
// context deadline surfaces the limiter wait error.
func zeroBurstLimiter(host string) map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		host: rate.NewLimiter(rate.Every(10*time.Second), 0),
	}
}

func TestHeadETag_LimiterWaitCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:    "test-agent",
		MaxRetries:   1,
		RateLimiters: zeroBurstLimiter(srv.Listener.Addr().String()),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.HeadETag(ctx, srv.URL+"/res")
	require.Error(t, err)
}

func TestDownloadIfChanged_MalformedURL(t *testing.T) {
	f := newTestFetcher()
	_, _, _, err := f.DownloadIfChanged(context.Background(), "://invalid", "etag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create request")
}

func TestDownloadIfChanged_LimiterWaitCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("data")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:    "test-agent",
		MaxRetries:   1,
		RateLimiters: zeroBurstLimiter(srv.Listener.Addr().String()),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, _, err := f.DownloadIfChanged(ctx, srv.URL+"/res", "etag")
	require.Error(t, err)
}

func TestDownloadIfChanged_DroppedConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hijackClose(w)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    1 * time.Second,
		MaxRetries: 1,
	})

	_, _, _, err := f.DownloadIfChanged(context.Background(), srv.URL+"/res", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download if changed")
}

func TestDownload_LimiterWaitCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:    "test-agent",
		MaxRetries:   1,
		RateLimiters: zeroBurstLimiter(srv.Listener.Addr().String()),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Download(ctx, srv.URL+"/data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter wait")
}

func TestDownload_ClientErrorsNotRetried(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				attempts.Add(1)
				w.WriteHeader(code)
			}))
			defer srv.Close()

			f := newTestFetcher()
			_, err := f.Download(context.Background(), srv.URL+"/path")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unexpected status")
			assert.Equal(t, int32(1), attempts.Load(), "4xx responses must not be retried")
		})
	}
}
