package main

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// ProxyRecord tracks per-proxy health bookkeeping. The counters are advisory
// and do not gate selection.
type ProxyRecord struct {
	URL             string
	LastSuccessTime time.Time
	LastFailureTime time.Time
	FailureCount    int
}

// ProxyRotator hands out proxies in strict round-robin order. Health
// reporting is recorded per proxy for operator visibility but selection
// stays independent of it, so a flaky proxy keeps its turn in the rotation.
type ProxyRotator struct {
	mu      sync.Mutex
	proxies []*ProxyRecord
	index   int
}

func NewProxyRotator() *ProxyRotator {
	return &ProxyRotator{}
}

// Load replaces the rotation list. Blank lines and #-comments are skipped,
// entries without a scheme get http:// prepended. Resets the rotation index.
func (p *ProxyRotator) Load(proxyURLs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = p.proxies[:0]
	for _, raw := range proxyURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		if _, err := url.Parse(raw); err != nil {
			continue
		}
		p.proxies = append(p.proxies, &ProxyRecord{URL: raw})
	}
	p.index = 0
}

// Next returns the next proxy URL in rotation, or "" when no proxies are
// loaded.
func (p *ProxyRotator) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return ""
	}
	rec := p.proxies[p.index%len(p.proxies)]
	p.index++
	return rec.URL
}

// ReportSuccess resets the failure streak for proxyURL.
func (p *ProxyRotator) ReportSuccess(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec := p.find(proxyURL); rec != nil {
		rec.LastSuccessTime = time.Now()
		rec.FailureCount = 0
	}
}

// ReportFailure increments the failure streak for proxyURL.
func (p *ProxyRotator) ReportFailure(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec := p.find(proxyURL); rec != nil {
		rec.LastFailureTime = time.Now()
		rec.FailureCount++
	}
}

// Count returns the number of loaded proxies.
func (p *ProxyRotator) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

func (p *ProxyRotator) find(proxyURL string) *ProxyRecord {
	for _, rec := range p.proxies {
		if rec.URL == proxyURL {
			return rec
		}
	}
	return nil
}
