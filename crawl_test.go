package main

import (
	"archive/zip"
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves canned pages and records everything fetched, plus the
// peak number of concurrently in-flight fetches.
type fakeFetcher struct {
	mu        sync.Mutex
	pages     map[string]string
	bytesData map[string][]byte
	delay     time.Duration
	fetched   []string
	active    int
	peak      int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:     make(map[string]string),
		bytesData: make(map[string][]byte),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) FetchResult {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return FetchResult{Kind: FailureTimeout, Err: ctx.Err()}
		case <-time.After(f.delay):
		}
	}
	content, ok := f.pages[rawURL]
	if !ok || content == "" {
		return FetchResult{Kind: FailureEmpty, Tier: "fake"}
	}
	return FetchResult{Content: content, Tier: "fake"}
}

func (f *fakeFetcher) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	data := f.bytesData[rawURL]
	f.mu.Unlock()
	return data, nil
}

func (f *fakeFetcher) fetchCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.fetched {
		if u == rawURL {
			n++
		}
	}
	return n
}

func newTestOrchestrator(f Fetcher, depth, limit int, disposable []string) *CrawlOrchestrator {
	ocr := NewOCRProcessor(false, "none", 0, 0)
	disp := NewDisposableDomainFilter("", nil)
	disp.Replace(disposable)
	return NewCrawlOrchestrator(
		f,
		NewDocumentTextExtractor(ocr),
		ocr,
		disp,
		NewDomainValidator(),
		NewRobotsGate(false, f),
		nil,
		OrchestratorOptions{ContactDepth: depth, EmailLimit: limit},
	)
}

func TestProcessSeedAndContactPage(t *testing.T) {
	f := newFakeFetcher()
	f.pages["http://site.com"] = `<html><body>
		<a href="mailto:front@site.com">write us</a>
		<a href="/contact">contact page</a>
	</body></html>`
	f.pages["http://site.com/contact"] = `<p>deep@site.com</p>`

	o := newTestOrchestrator(f, 1, 50, nil)
	emails, err := o.Process(context.Background(), "http://site.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"front@site.com", "deep@site.com"}, emails)
}

func TestProcessNormalizesBareSeed(t *testing.T) {
	f := newFakeFetcher()
	f.pages["http://site.com"] = `<p>hello@site.com</p>`

	o := newTestOrchestrator(f, 0, 50, nil)
	emails, err := o.Process(context.Background(), "site.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello@site.com"}, emails)
	assert.Equal(t, 1, f.fetchCount("http://site.com"))
}

func TestProcessDepthBound(t *testing.T) {
	f := newFakeFetcher()
	f.pages["http://site.com"] = `<a href="/contact">c</a>`
	f.pages["http://site.com/contact"] = `<a href="/about-team">deeper</a> one@site.com`
	f.pages["http://site.com/about-team"] = `never@site.com`

	o := newTestOrchestrator(f, 0, 50, nil)
	emails, err := o.Process(context.Background(), "http://site.com")
	require.NoError(t, err)

	assert.Equal(t, 0, f.fetchCount("http://site.com/about-team"),
		"links past contact_depth must never be fetched")
	assert.Equal(t, []string{"one@site.com"}, emails)
}

func TestProcessVisitsEachLinkOnce(t *testing.T) {
	f := newFakeFetcher()
	f.pages["http://site.com"] = `<a href="/contact">a</a> <a href="/contact">b</a> <a href="/about">c</a>`
	f.pages["http://site.com/contact"] = `<a href="/about">also</a> x@site.com`
	f.pages["http://site.com/about"] = `y@site.com`

	o := newTestOrchestrator(f, 1, 50, nil)
	_, err := o.Process(context.Background(), "http://site.com")
	require.NoError(t, err)

	assert.Equal(t, 1, f.fetchCount("http://site.com/contact"))
	assert.Equal(t, 1, f.fetchCount("http://site.com/about"))
}

func TestProcessFiltersDisposableDomains(t *testing.T) {
	f := newFakeFetcher()
	f.pages["http://site.com"] = `<p>keep@real.com toss@trashmail.com</p>`

	o := newTestOrchestrator(f, 0, 50, []string{"trashmail.com"})
	emails, err := o.Process(context.Background(), "http://site.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep@real.com"}, emails)
}

func TestProcessSortsAndCaps(t *testing.T) {
	f := newFakeFetcher()
	f.pages["http://site.com"] = `<p>zeta@site.com alpha@site.com mid@site.com</p>`

	o := newTestOrchestrator(f, 0, 2, nil)
	emails, err := o.Process(context.Background(), "http://site.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha@site.com", "mid@site.com"}, emails)
}

func TestProcessEmptyContentYieldsEmptyResult(t *testing.T) {
	f := newFakeFetcher()

	o := newTestOrchestrator(f, 1, 50, nil)
	emails, err := o.Process(context.Background(), "http://nothing.com")
	require.NoError(t, err)
	assert.NotNil(t, emails)
	assert.Empty(t, emails)
}

func TestProcessDocumentLink(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document><w:body><w:p><w:r><w:t>doc@site.com</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	f := newFakeFetcher()
	f.pages["http://site.com"] = `<a href="/files/team.docx">staff list</a>`
	f.bytesData["http://site.com/files/team.docx"] = buf.Bytes()

	o := newTestOrchestrator(f, 1, 50, nil)
	emails, err := o.Process(context.Background(), "http://site.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc@site.com"}, emails)
}

func TestProcessCancelledBeforeStart(t *testing.T) {
	f := newFakeFetcher()
	f.pages["http://site.com"] = `<p>a@b.com</p>`

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := newTestOrchestrator(f, 1, 50, nil)
	_, err := o.Process(ctx, "http://site.com")
	require.ErrorIs(t, err, context.Canceled)
}

func TestProcessMailtoWithQuery(t *testing.T) {
	f := newFakeFetcher()
	f.pages["http://site.com"] = `<a href="mailto:info@site.com?subject=Hi">mail</a>`

	o := newTestOrchestrator(f, 0, 50, nil)
	emails, err := o.Process(context.Background(), "http://site.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"info@site.com"}, emails)
}
