package main

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// FetchFailureKind classifies why a fetch produced no content, so the
// orchestrator can decide per kind instead of guessing from a blank string.
type FetchFailureKind int

const (
	FailureNone FetchFailureKind = iota
	FailureTimeout
	FailureConnection
	FailureStatus
	FailureChallenge
	FailureEmpty
)

func (k FetchFailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureConnection:
		return "connection"
	case FailureStatus:
		return "status"
	case FailureChallenge:
		return "challenge"
	case FailureEmpty:
		return "empty"
	}
	return "unknown"
}

// FetchResult is the typed outcome of one cascade call.
type FetchResult struct {
	Content string
	Tier    string
	Kind    FetchFailureKind
	Err     error
}

// OK reports whether the fetch produced usable content.
func (r FetchResult) OK() bool {
	return r.Kind == FailureNone && r.Content != ""
}

// Fetcher is what the orchestrator needs from the fetch layer. Tests swap in
// fakes.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchResult
	FetchBytes(ctx context.Context, rawURL string) ([]byte, error)
}

const maxDocumentBytes = 10 << 20

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:126.0) Gecko/20100101 Firefox/126.0",
}

// CascadeFetcher fetches page content through up to three tiers: the
// rendering backend, a pooled HTTP client, and a cookie-jar HTTP client as
// the last resort. The first tier producing non-empty content wins; no tier
// failure is fatal to the call.
type CascadeFetcher struct {
	pool       *BrowserContextPool
	proxies    *ProxyRotator
	hosts      *HostRateLimiter
	userAgents []string
	referers   []string
	timeout    time.Duration

	primary  *http.Client
	fallback *http.Client

	proxyClientsMu sync.Mutex
	proxyClients   map[string]*http.Client
}

func NewCascadeFetcher(pool *BrowserContextPool, proxies *ProxyRotator, hosts *HostRateLimiter, userAgents, referers []string, timeout time.Duration) *CascadeFetcher {
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &CascadeFetcher{
		pool:       pool,
		proxies:    proxies,
		hosts:      hosts,
		userAgents: userAgents,
		referers:   referers,
		timeout:    timeout,
		primary:    &http.Client{Transport: transport, Timeout: timeout},
		fallback: &http.Client{
			Jar:     jar,
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		proxyClients: make(map[string]*http.Client),
	}
}

// Fetch returns the first non-empty content any tier produces. A page that
// is only a JS challenge counts as empty and falls through to the next tier.
func (f *CascadeFetcher) Fetch(ctx context.Context, rawURL string) FetchResult {
	if err := f.hosts.Wait(ctx, rawURL); err != nil {
		return FetchResult{Tier: "ratelimit", Kind: FailureTimeout, Err: err}
	}

	last := FetchResult{Kind: FailureEmpty}
	if f.pool.Enabled() {
		content, err := f.pool.Render(ctx, rawURL, f.timeout)
		fetchesTotal.WithLabelValues("render").Inc()
		if err == nil && content != "" && !isChallengePage(content) {
			return FetchResult{Content: content, Tier: "render"}
		}
		if err != nil {
			log.Printf("fetch: render tier failed for %s: %v", rawURL, err)
			fetchFailures.WithLabelValues("render").Inc()
			last = FetchResult{Tier: "render", Kind: FailureConnection, Err: err}
		}
	}

	res := f.httpFetch(ctx, f.clientFor(), "primary", rawURL)
	if res.OK() {
		return res
	}
	last = res

	res = f.httpFetch(ctx, f.fallback, "fallback", rawURL)
	if res.OK() {
		return res
	}
	if res.Kind != FailureEmpty || last.Kind == FailureNone {
		last = res
	}
	return last
}

// FetchBytes downloads binary documents, skipping the rendering tier.
func (f *CascadeFetcher) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.hosts.Wait(ctx, rawURL); err != nil {
		return nil, err
	}
	data, err := f.httpFetchBytes(ctx, f.clientFor(), rawURL)
	if err == nil && len(data) > 0 {
		return data, nil
	}
	return f.httpFetchBytes(ctx, f.fallback, rawURL)
}

// clientFor returns the primary client, or a proxied client when the
// rotator has proxies loaded.
func (f *CascadeFetcher) clientFor() *http.Client {
	proxyURL := f.proxies.Next()
	if proxyURL == "" {
		return f.primary
	}
	f.proxyClientsMu.Lock()
	defer f.proxyClientsMu.Unlock()
	if c, ok := f.proxyClients[proxyURL]; ok {
		return c
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return f.primary
	}
	c := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyURL(parsed),
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: f.timeout,
	}
	f.proxyClients[proxyURL] = c
	return c
}

func (f *CascadeFetcher) proxyOf(c *http.Client) string {
	f.proxyClientsMu.Lock()
	defer f.proxyClientsMu.Unlock()
	for u, pc := range f.proxyClients {
		if pc == c {
			return u
		}
	}
	return ""
}

func (f *CascadeFetcher) httpFetch(ctx context.Context, client *http.Client, tier, rawURL string) FetchResult {
	fetchesTotal.WithLabelValues(tier).Inc()
	body, err := f.doRequest(ctx, client, rawURL, maxDocumentBytes)
	if err != nil {
		fetchFailures.WithLabelValues(tier).Inc()
		if proxy := f.proxyOf(client); proxy != "" {
			f.proxies.ReportFailure(proxy)
		}
		log.Printf("fetch: %s tier failed for %s: %v", tier, rawURL, err)
		return FetchResult{Tier: tier, Kind: classifyError(err), Err: err}
	}
	if proxy := f.proxyOf(client); proxy != "" {
		f.proxies.ReportSuccess(proxy)
	}
	content := string(body)
	if isChallengePage(content) {
		return FetchResult{Tier: tier, Kind: FailureChallenge, Err: fmt.Errorf("js challenge page at %s", rawURL)}
	}
	if strings.TrimSpace(content) == "" {
		return FetchResult{Tier: tier, Kind: FailureEmpty}
	}
	return FetchResult{Content: content, Tier: tier}
}

func (f *CascadeFetcher) httpFetchBytes(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	fetchesTotal.WithLabelValues("bytes").Inc()
	data, err := f.doRequest(ctx, client, rawURL, maxDocumentBytes)
	if err != nil {
		fetchFailures.WithLabelValues("bytes").Inc()
	}
	return data, err
}

func (f *CascadeFetcher) doRequest(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.randomUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip")
	if ref := f.randomReferer(); ref != "" {
		req.Header.Set("Referer", ref)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode failed: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(io.LimitReader(reader, limit))
}

func (f *CascadeFetcher) randomUserAgent() string {
	return f.userAgents[rand.Intn(len(f.userAgents))]
}

func (f *CascadeFetcher) randomReferer() string {
	if len(f.referers) == 0 {
		return ""
	}
	return f.referers[rand.Intn(len(f.referers))]
}

func classifyError(err error) FetchFailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureTimeout
	case strings.Contains(err.Error(), "unexpected status"):
		return FailureStatus
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureConnection
}

var challengeMarkers = []string{
	"checking your browser",
	"cf-browser-verification",
	"cf-challenge",
	"just a moment...",
	"ddos protection by",
	"enable javascript and cookies to continue",
}

// isChallengePage spots interstitial bot checks that render as a page but
// carry none of the site's real content.
func isChallengePage(body string) bool {
	if len(body) > 4096 {
		body = body[:4096]
	}
	lower := strings.ToLower(body)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
