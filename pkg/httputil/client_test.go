package httputil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlin/formosa/pkg/logger"
)

func TestGetBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat":"OK"}`))
	}))
	defer srv.Close()

	c := New(logger.NewNop(), 5*time.Second).DisableRetry()

	body, err := c.GetBody(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, `{"stat":"OK"}`, string(body))
}

func TestGetBodyNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(logger.NewNop(), 5*time.Second).DisableRetry()

	_, err := c.GetBody(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(logger.NewNop(), 5*time.Second).WithRetry(3, time.Millisecond)

	body, err := c.GetBody(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExhaustedRetriesReturnReadableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("backend down"))
	}))
	defer srv.Close()

	c := New(logger.NewNop(), 5*time.Second).WithRetry(2, time.Millisecond)

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "backend down", string(body))
}

func TestDefaultHeaders(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(logger.NewNop(), 5*time.Second).
		DisableRetry().
		WithHeaders(map[string]string{"User-Agent": "Mozilla/5.0"})

	_, err := c.GetBody(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Mozilla/5.0", gotUA)
}

func TestRateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// One request per minute: the second call must block until the ctx expires.
	c := New(logger.NewNop(), 5*time.Second).DisableRetry().WithRateLimit(1.0 / 60.0)

	_, err := c.GetBody(context.Background(), srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.GetBody(ctx, srv.URL)
	assert.Error(t, err)
}
