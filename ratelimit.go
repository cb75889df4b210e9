package main

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultHostSpacing is the minimum gap between two requests to one host.
const defaultHostSpacing = 120 * time.Millisecond

// HostRateLimiter spaces out consecutive requests to the same host and
// applies a process-wide requests-per-second ceiling on top.
type HostRateLimiter struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	spacing  time.Duration
	global   *rate.Limiter
}

// NewHostRateLimiter builds a limiter with the given per-host spacing and a
// global requests-per-second cap. Non-positive arguments fall back to
// defaults.
func NewHostRateLimiter(spacing time.Duration, globalRPS float64) *HostRateLimiter {
	if spacing <= 0 {
		spacing = defaultHostSpacing
	}
	if globalRPS <= 0 {
		globalRPS = 50
	}
	return &HostRateLimiter{
		lastSeen: make(map[string]time.Time),
		spacing:  spacing,
		global:   rate.NewLimiter(rate.Limit(globalRPS), int(globalRPS)+1),
	}
}

// Wait suspends the caller until a request to rawURL's host is polite, then
// records the request time. Unparseable URLs only pay the global limit.
func (h *HostRateLimiter) Wait(ctx context.Context, rawURL string) error {
	if err := h.global.Wait(ctx); err != nil {
		return err
	}
	host := hostOf(rawURL)
	if host == "" {
		return nil
	}

	h.mu.Lock()
	now := time.Now()
	wait := time.Duration(0)
	if last, ok := h.lastSeen[host]; ok {
		if gap := h.spacing - now.Sub(last); gap > 0 {
			wait = gap
		}
	}
	h.lastSeen[host] = now.Add(wait)
	h.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
