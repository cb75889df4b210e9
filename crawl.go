package main

import (
	"context"
	"log"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"
)

var contactKeywords = []string{
	"contact", "about", "team", "privacy", "legal", "support", "imprint", "office",
}

var documentExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".xlsx": true,
	".xls":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

var imageHintKeywords = []string{"contact", "email", "info", "support"}

const (
	maxContactLinksPerPage  = 12
	maxDocumentLinksPerPage = 12
	maxOCRImagesPerSeed     = 8
	minJSONBlobLen          = 30
)

var sitemapLocPattern = regexp.MustCompile(`<loc>\s*([^<]+?)\s*</loc>`)

// crawlTask is one BFS unit of work.
type crawlTask struct {
	url   string
	depth int
}

// CrawlOrchestrator runs the bounded breadth-first crawl for a single seed
// URL: the seed page, its contact-like links, its document links, a sitemap
// probe and an OCR pass over contact-hinting images.
type CrawlOrchestrator struct {
	fetcher    Fetcher
	docs       *DocumentTextExtractor
	ocr        *OCRProcessor
	disposable *DisposableDomainFilter
	validator  *DomainValidator
	robots     *RobotsGate
	results    *ResultWriter

	contactDepth int
	emailLimit   int
	validateMX   bool
	smtpProbe    bool

	// helpers bounds concurrently running blocking work (OCR, document
	// parsing, MX lookups) across all seeds.
	helpers *semaphore.Weighted
}

type OrchestratorOptions struct {
	ContactDepth int
	EmailLimit   int
	ValidateMX   bool
	SMTPProbe    bool
	HelperSlots  int64
}

func NewCrawlOrchestrator(fetcher Fetcher, docs *DocumentTextExtractor, ocr *OCRProcessor,
	disposable *DisposableDomainFilter, validator *DomainValidator, robots *RobotsGate,
	results *ResultWriter, opts OrchestratorOptions) *CrawlOrchestrator {
	if opts.ContactDepth < 0 {
		opts.ContactDepth = 0
	}
	if opts.EmailLimit <= 0 {
		opts.EmailLimit = 50
	}
	if opts.HelperSlots <= 0 {
		opts.HelperSlots = 6
	}
	return &CrawlOrchestrator{
		fetcher:      fetcher,
		docs:         docs,
		ocr:          ocr,
		disposable:   disposable,
		validator:    validator,
		robots:       robots,
		results:      results,
		contactDepth: opts.ContactDepth,
		emailLimit:   opts.EmailLimit,
		validateMX:   opts.ValidateMX,
		smtpProbe:    opts.SMTPProbe,
		helpers:      semaphore.NewWeighted(opts.HelperSlots),
	}
}

// NormalizeSeedURL prepends a scheme when the operator supplied a bare host.
func NormalizeSeedURL(seed string) string {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return seed
	}
	if !strings.Contains(seed, "://") {
		seed = "http://" + seed
	}
	return seed
}

// pageHarvest is everything one fetched page contributes to the crawl.
type pageHarvest struct {
	emails       []string
	contactLinks []string
	docLinks     []string
	imageLinks   []string
}

// Process crawls one seed URL and returns its sorted, filtered, capped email
// list. Cancellation is observed at entry and before every BFS dequeue;
// whatever was collected up to that point is discarded for this seed only.
func (o *CrawlOrchestrator) Process(ctx context.Context, seed string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	activeCrawls.Inc()
	defer activeCrawls.Dec()

	normalized := NormalizeSeedURL(seed)
	if !o.robots.Allowed(ctx, normalized) {
		log.Printf("crawl: robots disallows %s, skipping", normalized)
		return o.finish(seed, nil), nil
	}

	res := o.fetcher.Fetch(ctx, normalized)
	if !res.OK() {
		if res.Err != nil {
			log.Printf("crawl: seed %s yielded no content (%s tier, %s): %v", normalized, res.Tier, res.Kind, res.Err)
		}
		return o.finish(seed, nil), nil
	}

	collected := newEmailSet()
	harvest := o.harvestPage(res.Content, normalized)
	collected.addAll(harvest.emails)

	queue := make([]crawlTask, 0, maxContactLinksPerPage+maxDocumentLinksPerPage)
	seen := map[string]bool{normalized: true}

	enqueue := func(link string, depth int) {
		if link == "" || seen[link] || depth > o.contactDepth {
			return
		}
		seen[link] = true
		queue = append(queue, crawlTask{url: link, depth: depth})
	}

	for i, link := range harvest.contactLinks {
		if i >= maxContactLinksPerPage {
			break
		}
		enqueue(link, 0)
	}
	for i, link := range harvest.docLinks {
		if i >= maxDocumentLinksPerPage {
			break
		}
		enqueue(link, 0)
	}
	for _, link := range o.sitemapContactLinks(ctx, normalized) {
		enqueue(link, 0)
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task := queue[0]
		queue = queue[1:]

		if isDocumentLink(task.url) {
			collected.addAll(o.extractFromDocument(ctx, task.url))
			continue
		}
		if !o.robots.Allowed(ctx, task.url) {
			continue
		}
		pageRes := o.fetcher.Fetch(ctx, task.url)
		if !pageRes.OK() {
			continue
		}
		sub := o.harvestPage(pageRes.Content, task.url)
		collected.addAll(sub.emails)
		for i, link := range sub.contactLinks {
			if i >= maxContactLinksPerPage {
				break
			}
			enqueue(link, task.depth+1)
		}
		for i, link := range sub.docLinks {
			if i >= maxDocumentLinksPerPage {
				break
			}
			enqueue(link, task.depth+1)
		}
	}

	if o.ocr.Available() {
		collected.addAll(o.extractFromImages(ctx, harvest.imageLinks))
	}

	emails := o.filterAndCap(ctx, collected.values())
	if o.smtpProbe {
		o.probeDeliverability(ctx, emails)
	}
	return o.finish(seed, emails), nil
}

// harvestPage mines one page's content: pipeline extraction, mailto links,
// JSON-shaped substrings, a secondary decode pass over the raw bytes, and
// the link classes the BFS feeds on.
func (o *CrawlOrchestrator) harvestPage(content, baseURL string) pageHarvest {
	var h pageHarvest
	h.emails = append(h.emails, ExtractEmails(content)...)
	for _, blob := range FindJSONBlobs(content, minJSONBlobLen) {
		h.emails = append(h.emails, ExtractEmailsFromJSON(blob)...)
	}
	h.emails = append(h.emails, SecondaryDecodePass(content)...)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return h
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		if strings.HasPrefix(strings.ToLower(href), "mailto:") {
			addr := strings.SplitN(href[len("mailto:"):], "?", 2)[0]
			h.emails = append(h.emails, matchEmails(addr)...)
			return
		}
		abs := resolveURL(baseURL, href)
		if abs == "" {
			return
		}
		switch {
		case isDocumentLink(abs):
			h.docLinks = append(h.docLinks, abs)
		case isContactLink(abs):
			h.contactLinks = append(h.contactLinks, abs)
		}
	})

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		lower := strings.ToLower(src)
		for _, kw := range imageHintKeywords {
			if strings.Contains(lower, kw) {
				if abs := resolveURL(baseURL, src); abs != "" {
					h.imageLinks = append(h.imageLinks, abs)
				}
				return
			}
		}
	})

	return h
}

// sitemapContactLinks probes /sitemap.xml at the seed's origin and returns
// listed URLs matching the contact keywords. Best-effort.
func (o *CrawlOrchestrator) sitemapContactLinks(ctx context.Context, seedURL string) []string {
	u, err := url.Parse(seedURL)
	if err != nil || u.Host == "" {
		return nil
	}
	data, err := o.fetcher.FetchBytes(ctx, u.Scheme+"://"+u.Host+"/sitemap.xml")
	if err != nil || len(data) == 0 {
		return nil
	}
	var links []string
	for _, m := range sitemapLocPattern.FindAllStringSubmatch(string(data), 500) {
		if isContactLink(m[1]) {
			links = append(links, strings.TrimSpace(m[1]))
		}
	}
	return links
}

func (o *CrawlOrchestrator) extractFromDocument(ctx context.Context, docURL string) []string {
	data, err := o.fetcher.FetchBytes(ctx, docURL)
	if err != nil || len(data) == 0 {
		return nil
	}
	if err := o.helpers.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer o.helpers.Release(1)
	text := o.docs.Extract(ctx, data, docURL)
	if text == "" {
		return nil
	}
	return ExtractEmails(text)
}

func (o *CrawlOrchestrator) extractFromImages(ctx context.Context, imageLinks []string) []string {
	var emails []string
	for i, imgURL := range imageLinks {
		if i >= maxOCRImagesPerSeed || ctx.Err() != nil {
			break
		}
		data, err := o.fetcher.FetchBytes(ctx, imgURL)
		if err != nil || len(data) == 0 {
			continue
		}
		if err := o.helpers.Acquire(ctx, 1); err != nil {
			break
		}
		emails = append(emails, o.ocr.ExtractEmails(ctx, data)...)
		o.helpers.Release(1)
	}
	return emails
}

// filterAndCap drops disposable domains, optionally requires an MX record,
// then sorts and truncates so the email_limit cutoff is deterministic.
func (o *CrawlOrchestrator) filterAndCap(ctx context.Context, emails []string) []string {
	kept := emails[:0]
	for _, email := range emails {
		domain := emailDomain(email)
		if domain == "" || o.disposable.Contains(domain) {
			continue
		}
		if o.validateMX && !o.mxOK(ctx, domain) {
			continue
		}
		kept = append(kept, email)
	}
	sort.Strings(kept)
	if len(kept) > o.emailLimit {
		kept = kept[:o.emailLimit]
	}
	return kept
}

// probeDeliverability logs an advisory SMTP signal for the kept addresses.
// A "no" from the probe is never grounds to drop the email: many mail hosts
// refuse RCPT checks outright.
func (o *CrawlOrchestrator) probeDeliverability(ctx context.Context, emails []string) {
	const probeLimit = 5
	probed := make(map[string]bool)
	for _, email := range emails {
		if len(probed) >= probeLimit || ctx.Err() != nil {
			return
		}
		domain := emailDomain(email)
		if domain == "" || probed[domain] {
			continue
		}
		probed[domain] = true
		if err := o.helpers.Acquire(ctx, 1); err != nil {
			return
		}
		hosts := o.validator.MXHosts(ctx, domain)
		if len(hosts) == 0 {
			o.helpers.Release(1)
			continue
		}
		ok, err := o.validator.CanDeliver(ctx, email, hosts[0])
		o.helpers.Release(1)
		if err != nil {
			log.Printf("crawl: smtp probe %s inconclusive: %v", email, err)
			continue
		}
		log.Printf("crawl: smtp probe %s accepted=%v", email, ok)
	}
}

func (o *CrawlOrchestrator) mxOK(ctx context.Context, domain string) bool {
	if err := o.helpers.Acquire(ctx, 1); err != nil {
		return false
	}
	defer o.helpers.Release(1)
	return o.validator.HasMailExchanger(ctx, domain)
}

// finish records the per-seed result and bumps counters. Always returns a
// non-nil slice so empty results marshal as [] rather than null.
func (o *CrawlOrchestrator) finish(seed string, emails []string) []string {
	if emails == nil {
		emails = []string{}
	}
	seedsProcessed.Inc()
	emailsExtracted.Add(float64(len(emails)))
	if o.results != nil {
		if err := o.results.WriteSeedResult(seed, emails); err != nil {
			log.Printf("crawl: failed to export result for %s: %v", seed, err)
		}
	}
	return emails
}

func isContactLink(link string) bool {
	lower := strings.ToLower(link)
	for _, kw := range contactKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isDocumentLink(link string) bool {
	return documentExtensions[extensionOf(link)]
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// resolveURL makes href absolute against the page it appeared on.
func resolveURL(baseURL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "data:") {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	rel, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(rel).String()
}

// emailSet deduplicates case-insensitively while keeping the first-seen
// spelling of the local part.
type emailSet struct {
	byKey map[string]string
}

func newEmailSet() *emailSet {
	return &emailSet{byKey: make(map[string]string)}
}

func (s *emailSet) addAll(emails []string) {
	for _, email := range emails {
		key := strings.ToLower(email)
		if _, dup := s.byKey[key]; !dup {
			s.byKey[key] = email
		}
	}
}

func (s *emailSet) values() []string {
	out := make([]string, 0, len(s.byKey))
	for _, v := range s.byKey {
		out = append(out, v)
	}
	return out
}
