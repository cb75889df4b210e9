package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisposableFilterLoadFromCache(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "disposable.json")
	require.NoError(t, os.WriteFile(cache, []byte(`["trash.com","Throwaway.NET","not-a-domain"]`), 0644))

	f := NewDisposableDomainFilter(cache, nil)
	require.NoError(t, f.Load())

	assert.True(t, f.Contains("trash.com"))
	assert.True(t, f.Contains("THROWAWAY.net"))
	assert.False(t, f.Contains("real.com"))
	assert.False(t, f.Contains("not-a-domain"), "entries without a dot are dropped")
}

func TestDisposableFilterLoadMissingCacheIsFine(t *testing.T) {
	f := NewDisposableDomainFilter(filepath.Join(t.TempDir(), "absent.json"), nil)
	require.NoError(t, f.Load())
	assert.Empty(t, f.Snapshot())
}

func TestDisposableFilterRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# comment line\ntempmail.org\n\nMailinator.com extra tokens\nnodot\n"))
	}))
	defer srv.Close()

	cache := filepath.Join(t.TempDir(), "disposable.json")
	f := NewDisposableDomainFilter(cache, []string{srv.URL})
	require.NoError(t, f.Refresh(context.Background()))

	assert.True(t, f.Contains("tempmail.org"))
	assert.True(t, f.Contains("mailinator.com"), "only the first token of a line counts, lowercased")
	assert.False(t, f.Contains("nodot"))

	// Refresh rewrites the cache so the next start is seeded.
	reloaded := NewDisposableDomainFilter(cache, nil)
	require.NoError(t, reloaded.Load())
	assert.True(t, reloaded.Contains("tempmail.org"))
}

func TestDisposableFilterRefreshAllSourcesDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewDisposableDomainFilter("", []string{srv.URL})
	f.Replace([]string{"kept.com"})
	require.Error(t, f.Refresh(context.Background()))
	assert.True(t, f.Contains("kept.com"), "a failed refresh keeps the previous snapshot")
}

func TestDisposableFilterSnapshotIsStable(t *testing.T) {
	f := NewDisposableDomainFilter("", nil)
	f.Replace([]string{"old.com"})
	snap := f.Snapshot()
	f.Replace([]string{"new.com"})

	_, inOld := snap["old.com"]
	assert.True(t, inOld, "a snapshot taken before a swap keeps its contents")
	assert.True(t, f.Contains("new.com"))
	assert.False(t, f.Contains("old.com"))
}
