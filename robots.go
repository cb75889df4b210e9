package main

import (
	"context"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsGate is a best-effort robots.txt check. When disabled, or when the
// robots file cannot be fetched or parsed, every URL is allowed; this is a
// courtesy flag, not a politeness enforcement layer.
type RobotsGate struct {
	enabled bool
	fetcher Fetcher
	mu      sync.Mutex
	cache   map[string]*robotstxt.Group
}

func NewRobotsGate(enabled bool, fetcher Fetcher) *RobotsGate {
	return &RobotsGate{
		enabled: enabled,
		fetcher: fetcher,
		cache:   make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether rawURL may be fetched. Errors always allow.
func (g *RobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	if g == nil || !g.enabled {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	origin := u.Scheme + "://" + u.Host

	g.mu.Lock()
	group, cached := g.cache[origin]
	g.mu.Unlock()

	if !cached {
		group = g.fetchGroup(ctx, origin)
		g.mu.Lock()
		g.cache[origin] = group
		g.mu.Unlock()
	}
	if group == nil {
		return true
	}
	return group.Test(u.Path)
}

func (g *RobotsGate) fetchGroup(ctx context.Context, origin string) *robotstxt.Group {
	data, err := g.fetcher.FetchBytes(ctx, origin+"/robots.txt")
	if err != nil || len(data) == 0 {
		return nil
	}
	robots, err := robotstxt.FromBytes(data)
	if err != nil {
		return nil
	}
	return robots.FindGroup("*")
}
