package main

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

const (
	mxCachePositiveTTL = 24 * time.Hour
	mxCacheNegativeTTL = 1 * time.Hour
	mxQueryTimeout     = 5 * time.Second
	smtpProbeTimeout   = 10 * time.Second
)

type mxCacheEntry struct {
	hasMX  bool
	expiry time.Time
}

// DomainValidator answers whether a domain can receive mail. MX lookups go
// through miekg/dns with a TTL cache; the SMTP probe is optional and
// advisory, many networks block outbound port 25 outright.
type DomainValidator struct {
	client     *dns.Client
	servers    []string
	cache      map[string]mxCacheEntry
	cacheMutex sync.RWMutex
	probeFrom  string
}

func NewDomainValidator() *DomainValidator {
	v := &DomainValidator{
		client:    &dns.Client{Timeout: mxQueryTimeout},
		cache:     make(map[string]mxCacheEntry),
		probeFrom: "probe@example.com",
	}
	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(conf.Servers) > 0 {
		for _, s := range conf.Servers {
			v.servers = append(v.servers, net.JoinHostPort(s, conf.Port))
		}
	}
	if len(v.servers) == 0 {
		v.servers = []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	return v
}

// HasMailExchanger reports whether domain publishes at least one MX record.
// Results are cached, 24h for hits and 1h for misses, so one batch never
// repeats a lookup for the same domain.
func (v *DomainValidator) HasMailExchanger(ctx context.Context, domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}

	v.cacheMutex.RLock()
	entry, ok := v.cache[domain]
	v.cacheMutex.RUnlock()
	if ok && time.Now().Before(entry.expiry) {
		return entry.hasMX
	}

	hasMX, _ := v.lookupMX(ctx, domain)

	ttl := mxCacheNegativeTTL
	if hasMX {
		ttl = mxCachePositiveTTL
	}
	v.cacheMutex.Lock()
	v.cache[domain] = mxCacheEntry{hasMX: hasMX, expiry: time.Now().Add(ttl)}
	v.cacheMutex.Unlock()
	return hasMX
}

// MXHosts returns the exchanger hostnames sorted by preference, for the
// optional delivery probe.
func (v *DomainValidator) MXHosts(ctx context.Context, domain string) []string {
	_, hosts := v.lookupMX(ctx, domain)
	return hosts
}

func (v *DomainValidator) lookupMX(ctx context.Context, domain string) (bool, []string) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	msg.RecursionDesired = true

	for _, server := range v.servers {
		reply, _, err := v.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			continue
		}
		if reply.Rcode != dns.RcodeSuccess {
			return false, nil
		}
		var hosts []string
		for _, rr := range reply.Answer {
			if mx, ok := rr.(*dns.MX); ok && mx.Mx != "." {
				hosts = append(hosts, strings.TrimSuffix(mx.Mx, "."))
			}
		}
		return len(hosts) > 0, hosts
	}
	return false, nil
}

// CanDeliver opens a raw SMTP conversation with mxHost and asks whether it
// would accept mail for email. A false here is never proof of invalidity:
// plenty of servers accept every RCPT TO, and plenty of networks eat the
// connection. Callers treat the answer as a best-effort signal only.
func (v *DomainValidator) CanDeliver(ctx context.Context, email, mxHost string) (bool, error) {
	dialer := &net.Dialer{Timeout: smtpProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(mxHost, "25"))
	if err != nil {
		return false, fmt.Errorf("smtp probe dial failed: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(smtpProbeTimeout))

	tp := textproto.NewConn(conn)
	defer tp.Close()

	if _, _, err := tp.ReadResponse(220); err != nil {
		return false, fmt.Errorf("smtp greeting: %w", err)
	}
	steps := []struct {
		cmd  string
		want int
	}{
		{"HELO probe.local", 250},
		{fmt.Sprintf("MAIL FROM:<%s>", v.probeFrom), 250},
		{fmt.Sprintf("RCPT TO:<%s>", email), 250},
	}
	for _, s := range steps {
		id, err := tp.Cmd(s.cmd)
		if err != nil {
			return false, err
		}
		tp.StartResponse(id)
		_, _, err = tp.ReadResponse(s.want)
		tp.EndResponse(id)
		if err != nil {
			return false, nil
		}
	}
	tp.Cmd("QUIT")
	return true, nil
}
