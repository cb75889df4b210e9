package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// DisposableDomainFilter maintains the blocklist of throwaway email domains.
// Readers always see an atomically swapped immutable snapshot; Load and
// Refresh build a fresh set and swap it in whole.
type DisposableDomainFilter struct {
	current   atomic.Value // map[string]struct{}
	cacheFile string
	sources   []string
	client    *http.Client
}

func NewDisposableDomainFilter(cacheFile string, sources []string) *DisposableDomainFilter {
	f := &DisposableDomainFilter{
		cacheFile: cacheFile,
		sources:   sources,
		client:    &http.Client{Timeout: 20 * time.Second},
	}
	f.current.Store(make(map[string]struct{}))
	return f
}

// Load seeds the set from the local cache file, a JSON array of domains.
// A missing cache file is not an error; the first Refresh fills the set.
func (f *DisposableDomainFilter) Load() error {
	data, err := os.ReadFile(f.cacheFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var domains []string
	if err := json.Unmarshal(data, &domains); err != nil {
		return fmt.Errorf("failed to parse disposable domain cache: %w", err)
	}
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if strings.Contains(d, ".") {
			set[d] = struct{}{}
		}
	}
	f.current.Store(set)
	return nil
}

// Refresh downloads the remote lists, swaps in the merged set and rewrites
// the cache file. Source format is one domain per line with #-comments; only
// the first whitespace-separated token of a line counts.
func (f *DisposableDomainFilter) Refresh(ctx context.Context) error {
	merged := make(map[string]struct{}, len(f.Snapshot()))
	for d := range f.Snapshot() {
		merged[d] = struct{}{}
	}
	var fetched int
	for _, src := range f.sources {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			continue
		}
		resp, err := f.client.Do(req)
		if err != nil {
			log.Printf("disposable list %s unreachable: %v", src, err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			continue
		}
		scanner := bufio.NewScanner(io.LimitReader(resp.Body, 8<<20))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			token := strings.ToLower(strings.Fields(line)[0])
			if strings.Contains(token, ".") {
				merged[token] = struct{}{}
			}
		}
		resp.Body.Close()
		fetched++
	}
	if fetched == 0 && len(f.sources) > 0 {
		return fmt.Errorf("no disposable domain source reachable")
	}
	f.current.Store(merged)
	f.writeCache(merged)
	return nil
}

// RefreshAsync kicks off Refresh in the background so startup never blocks
// on the remote lists.
func (f *DisposableDomainFilter) RefreshAsync(ctx context.Context) {
	go func() {
		if err := f.Refresh(ctx); err != nil {
			log.Printf("disposable domain refresh failed: %v", err)
		} else {
			log.Printf("disposable domain set refreshed (%d domains)", len(f.Snapshot()))
		}
	}()
}

// Snapshot returns the current immutable set. Callers must not mutate it.
func (f *DisposableDomainFilter) Snapshot() map[string]struct{} {
	return f.current.Load().(map[string]struct{})
}

// Contains reports whether the email domain (lowercased) is disposable.
func (f *DisposableDomainFilter) Contains(domain string) bool {
	_, ok := f.Snapshot()[strings.ToLower(domain)]
	return ok
}

// Replace installs set directly, for tests and for callers with their own
// list files.
func (f *DisposableDomainFilter) Replace(domains []string) {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	f.current.Store(set)
}

func (f *DisposableDomainFilter) writeCache(set map[string]struct{}) {
	if f.cacheFile == "" {
		return
	}
	domains := make([]string, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}
	data, err := json.Marshal(domains)
	if err != nil {
		return
	}
	if err := os.WriteFile(f.cacheFile, data, 0644); err != nil {
		log.Printf("failed to write disposable domain cache: %v", err)
	}
}
