package main

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCascade() *CascadeFetcher {
	pool := NewBrowserContextPool(false, 1, "")
	return NewCascadeFetcher(pool, NewProxyRotator(), NewHostRateLimiter(time.Millisecond, 1000),
		nil, nil, 5*time.Second)
}

func TestCascadeFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte("<html>mail me: hi@srv.com</html>"))
	}))
	defer srv.Close()

	res := testCascade().Fetch(context.Background(), srv.URL)
	require.True(t, res.OK())
	assert.Contains(t, res.Content, "hi@srv.com")
	assert.Equal(t, "primary", res.Tier)
}

func TestCascadeFetchGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("compressed content with x@y.com"))
		gz.Close()
	}))
	defer srv.Close()

	res := testCascade().Fetch(context.Background(), srv.URL)
	require.True(t, res.OK())
	assert.Contains(t, res.Content, "x@y.com")
}

func TestCascadeFetchStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := testCascade().Fetch(context.Background(), srv.URL)
	assert.False(t, res.OK())
	assert.Equal(t, FailureStatus, res.Kind)
	assert.Error(t, res.Err)
}

func TestCascadeFetchConnectionFailure(t *testing.T) {
	res := testCascade().Fetch(context.Background(), "http://127.0.0.1:1")
	assert.False(t, res.OK())
	assert.NotEqual(t, FailureNone, res.Kind)
}

func TestCascadeFallbackTierRecovers(t *testing.T) {
	// The primary client has no cookie jar; this server requires the
	// cookie it sets, so only the jar-carrying fallback tier succeeds.
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if _, err := r.Cookie("session"); err == nil {
			w.Write([]byte("welcome back: in@side.com"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "1", Path: "/"})
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	defer srv.Close()

	res := testCascade().Fetch(context.Background(), srv.URL)
	require.True(t, res.OK())
	assert.Equal(t, "fallback", res.Tier)
	assert.Contains(t, res.Content, "in@side.com")
}

func TestCascadeChallengePageFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<title>Just a moment...</title> checking your browser"))
	}))
	defer srv.Close()

	res := testCascade().Fetch(context.Background(), srv.URL)
	assert.False(t, res.OK())
	assert.Equal(t, FailureChallenge, res.Kind)
}

func TestCascadeFetchBytes(t *testing.T) {
	payload := []byte{0x25, 0x50, 0x44, 0x46}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	data, err := testCascade().FetchBytes(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, FailureTimeout, classifyError(context.DeadlineExceeded))
	assert.Equal(t, FailureNone, classifyError(nil))
}

func TestIsChallengePage(t *testing.T) {
	assert.True(t, isChallengePage("<html>Checking your browser before accessing</html>"))
	assert.True(t, isChallengePage("DDoS protection by example"))
	assert.False(t, isChallengePage("<html>a regular contact page</html>"))
}

func TestFailureKindString(t *testing.T) {
	assert.Equal(t, "challenge", FailureChallenge.String())
	assert.Equal(t, "none", FailureNone.String())
}
