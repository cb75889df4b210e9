package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const (
	defaultBrowserContexts = 3
	browserPrewarm         = 1
	renderSettleDelay      = 900 * time.Millisecond
	maxCapturedBodies      = 40
)

// browserSession is one reusable tab context. Checked out to exactly one
// fetch at a time.
type browserSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// BrowserContextPool bounds and reuses rendering sessions over one shared
// Chrome allocator. The allocator and a prewarmed session are created
// lazily on first Acquire; all pool mutations happen under a single mutex.
type BrowserContextPool struct {
	mu          sync.Mutex
	enabled     bool
	max         int
	idle        []*browserSession
	allocCtx    context.Context
	allocCancel context.CancelFunc
	initialized bool
	initErr     error
	userAgent   string
}

func NewBrowserContextPool(enabled bool, maxContexts int, userAgent string) *BrowserContextPool {
	if maxContexts <= 0 {
		maxContexts = defaultBrowserContexts
	}
	return &BrowserContextPool{enabled: enabled, max: maxContexts, userAgent: userAgent}
}

// Enabled reports whether the rendering tier is configured at all.
func (p *BrowserContextPool) Enabled() bool {
	return p != nil && p.enabled
}

func (p *BrowserContextPool) initLocked() error {
	if p.initialized {
		return p.initErr
	}
	p.initialized = true

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if p.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.userAgent))
	}
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)

	// Prewarm so the first real fetch does not pay browser startup.
	for i := 0; i < browserPrewarm; i++ {
		s, err := p.newSessionLocked()
		if err != nil {
			p.initErr = err
			return err
		}
		p.idle = append(p.idle, s)
	}
	return nil
}

func (p *BrowserContextPool) newSessionLocked() (*browserSession, error) {
	ctx, cancel := chromedp.NewContext(p.allocCtx)
	// Force browser startup now so failures surface here, not mid-render.
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("browser session startup failed: %w", err)
	}
	return &browserSession{ctx: ctx, cancel: cancel}, nil
}

// Acquire hands out an idle session, or creates a fresh one. Callers over
// the max budget still get a session; Release closes the surplus.
func (p *BrowserContextPool) Acquire(ctx context.Context) (*browserSession, error) {
	if !p.Enabled() {
		return nil, fmt.Errorf("rendering backend disabled")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.initLocked(); err != nil {
		return nil, err
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return s, nil
	}
	return p.newSessionLocked()
}

// Release returns a session to the idle pool, or closes it when the pool is
// already at capacity.
func (p *BrowserContextPool) Release(s *browserSession) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) < p.max {
		p.idle = append(p.idle, s)
		return
	}
	s.cancel()
}

// discard tears a session down without returning it to the idle pool, for
// sessions whose browser may be in a bad state.
func (p *BrowserContextPool) discard(s *browserSession) {
	if s != nil {
		s.cancel()
	}
}

// Close tears down all idle sessions and the allocator.
func (p *BrowserContextPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.idle {
		s.cancel()
	}
	p.idle = nil
	if p.allocCancel != nil {
		p.allocCancel()
	}
}

// netCaptureScript hooks fetch and XMLHttpRequest before any page script
// runs, so JSON payloads fetched by the page land in window.__netCapture.
const netCaptureScript = `(() => {
  window.__netCapture = [];
  const push = (t) => { if (t && window.__netCapture.length < 40) window.__netCapture.push(String(t).slice(0, 100000)); };
  const origFetch = window.fetch;
  if (origFetch) {
    window.fetch = function(...args) {
      return origFetch.apply(this, args).then((resp) => {
        try { resp.clone().text().then(push).catch(() => {}); } catch (e) {}
        return resp;
      });
    };
  }
  const origSend = XMLHttpRequest.prototype.send;
  XMLHttpRequest.prototype.send = function(...args) {
    this.addEventListener('load', function() { try { push(this.responseText); } catch (e) {} });
    return origSend.apply(this, args);
  };
})();`

// domDumpScript walks the rendered DOM including open shadow roots and
// same-origin iframes, collecting text plus href/alt/title/data attributes.
const domDumpScript = `(() => {
  const parts = [];
  const walk = (root, depth) => {
    if (!root || depth > 32) return;
    const nodes = root.querySelectorAll ? root.querySelectorAll('*') : [];
    for (const el of nodes) {
      for (const a of ['href', 'alt', 'title', 'data-email', 'data-mail', 'content']) {
        const v = el.getAttribute && el.getAttribute(a);
        if (v) parts.push(v);
      }
      if (el.shadowRoot) walk(el.shadowRoot, depth + 1);
    }
    if (root.body && root.body.innerText) parts.push(root.body.innerText);
  };
  walk(document, 0);
  for (const f of document.querySelectorAll('iframe')) {
    try { walk(f.contentDocument, 0); } catch (e) {}
  }
  return parts.join('\n');
})();`

// Obfuscation widgets that hide the address behind a button get one
// best-effort click pass before harvesting.
var revealKeywords = []string{"show", "reveal", "email"}

const maxRevealClicks = 4

// revealClickScript clicks up to maxRevealClicks elements whose text, class
// or id suggests a hidden-email toggle. Plain navigation links are skipped so
// the pass cannot leave the page.
func revealClickScript() string {
	return fmt.Sprintf(`(() => {
  const words = ['%s'];
  let clicks = 0;
  for (const el of document.querySelectorAll('a, button, span[onclick], div[onclick]')) {
    if (clicks >= %d) break;
    if (el.tagName === 'A') {
      const href = el.getAttribute('href') || '';
      if (href && !href.startsWith('#') && !href.toLowerCase().startsWith('javascript:')) continue;
    }
    const t = ((el.innerText || '') + ' ' + (el.getAttribute('class') || '') + ' ' + (el.getAttribute('id') || '')).toLowerCase();
    if (t.length < 120 && words.some((w) => t.includes(w))) {
      try { el.click(); clicks++; } catch (e) {}
    }
  }
  return clicks;
})();`, strings.Join(revealKeywords, "','"), maxRevealClicks)
}

// scriptHarvestScript collects ld+json blocks, inline script text and
// everything the network capture hook recorded.
const scriptHarvestScript = `(() => {
  const parts = [];
  for (const s of document.querySelectorAll('script[type="application/ld+json"]')) parts.push(s.textContent || '');
  const scripts = document.querySelectorAll('script:not([src])');
  for (let i = 0; i < scripts.length && i < 80; i++) parts.push(scripts[i].textContent || '');
  if (window.__netCapture) parts.push(...window.__netCapture);
  return parts.join('\n');
})();`

// Render opens url in a pooled session and harvests every text surface of
// the rendered page: markup, visible text, DOM attribute dump, inline
// scripts, structured data and captured in-page network responses. The
// session always goes back to the pool, including on error.
func (p *BrowserContextPool) Render(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	s, err := p.Acquire(ctx)
	if err != nil {
		return "", err
	}
	healthy := true
	defer func() {
		if healthy {
			p.Release(s)
			return
		}
		// A session whose navigate failed may hold a crashed browser;
		// never hand it to the next render.
		p.discard(s)
	}()

	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	var (
		captureMu sync.Mutex
		captured  []string
	)
	// Capture response bodies whose type suggests text or structured data.
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		mime := strings.ToLower(resp.Response.MimeType)
		if !strings.Contains(mime, "json") && !strings.Contains(mime, "text") &&
			!strings.Contains(mime, "xml") && !strings.Contains(mime, "javascript") {
			return
		}
		reqID := resp.RequestID
		go func() {
			c := chromedp.FromContext(s.ctx)
			if c == nil || c.Target == nil {
				return
			}
			body, err := network.GetResponseBody(reqID).Do(cdp.WithExecutor(runCtx, c.Target))
			if err != nil || len(body) == 0 {
				return
			}
			captureMu.Lock()
			if len(captured) < maxCapturedBodies {
				captured = append(captured, string(body))
			}
			captureMu.Unlock()
		}()
	})

	err = chromedp.Run(runCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(netCaptureScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(rawURL),
	)
	if err != nil {
		healthy = false
		return "", fmt.Errorf("render navigate failed: %w", err)
	}

	// Waiting for quiescence is best-effort; slow pages still get harvested.
	if err := chromedp.Run(runCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		log.Printf("render: body never became ready for %s: %v", rawURL, err)
	}
	_ = chromedp.Run(runCtx, chromedp.Sleep(renderSettleDelay))

	var clicked int
	_ = chromedp.Run(runCtx, chromedp.Evaluate(revealClickScript(), &clicked))
	if clicked > 0 {
		_ = chromedp.Run(runCtx, chromedp.Sleep(300*time.Millisecond))
	}

	var markup, bodyText, domDump, scriptDump string
	_ = chromedp.Run(runCtx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery))
	_ = chromedp.Run(runCtx, chromedp.Text("body", &bodyText, chromedp.ByQuery))
	_ = chromedp.Run(runCtx, chromedp.Evaluate(domDumpScript, &domDump))
	_ = chromedp.Run(runCtx, chromedp.Evaluate(scriptHarvestScript, &scriptDump))

	captureMu.Lock()
	netBodies := strings.Join(captured, "\n")
	captureMu.Unlock()

	parts := []string{markup, bodyText, domDump, scriptDump, netBodies}
	blob := strings.TrimSpace(strings.Join(parts, "\n"))
	if blob == "" {
		return "", fmt.Errorf("render produced no content for %s", rawURL)
	}
	return blob, nil
}
