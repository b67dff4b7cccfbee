// Package discovery finds candidate travel agencies from pluggable, independently failing
// sources.
package discovery

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tripscout/internal/adapters/observability"
	"tripscout/internal/ratelimit"
)

type Candidate struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Domain  string `json:"domain"`
	Source  string `json:"source"`
}

type Source interface {
	Name() string
	ListCandidates(ctx context.Context) ([]Candidate, error)
}

// SourceStatus is the per-source outcome of one pass.
type SourceStatus struct {
	Source     string `json:"source"`
	Candidates int    `json:"candidates"`
	Err        error  `json:"-"`
}

func (s SourceStatus) OK() bool { return s.Err == nil }

// DefaultBlocked lists aggregators, marketplaces and social sites that are never agencies.
var DefaultBlocked = []string{
	"makemytrip.com", "goibibo.com", "cleartrip.com", "yatra.com",
	"booking.com", "agoda.com", "expedia.com", "tripadvisor.com",
	"facebook.com", "instagram.com", "twitter.com", "x.com", "youtube.com",
	"google.com", "justdial.com", "sulekha.com",
}

type Discovery struct {
	sources []Source
	blocked []string
}

func New(blocked []string, sources ...Source) *Discovery {
	if blocked == nil {
		blocked = DefaultBlocked
	}
	b := make([]string, 0, len(blocked))
	for _, d := range blocked {
		if d = ratelimit.Normalize(d); d != "" {
			b = append(b, d)
		}
	}
	return &Discovery{sources: sources, blocked: b}
}

func (d *Discovery) Sources() []string {
	out := make([]string, len(d.sources))
	for i, s := range d.sources {
		out[i] = s.Name()
	}
	return out
}

// Blocked reports whether host is, or is a subdomain of, a blocked domain.
func (d *Discovery) Blocked(host string) bool {
	host = ratelimit.Normalize(host)
	for _, b := range d.blocked {
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

// Discover starts a new pass. Base URLs in known are treated as already seen.
func (d *Discovery) Discover(ctx context.Context, known []string) *Pass {
	return &Pass{d: d, ctx: ctx, known: known}
}

// Pass is one finite discovery run. Sources are queried only as iteration reaches them.
type Pass struct {
	d     *Discovery
	ctx   context.Context
	known []string

	mu     sync.Mutex
	report []SourceStatus
}

// All yields deduplicated candidates. Each call re-queries the sources.
func (p *Pass) All() iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		seen := make(map[string]bool, len(p.known))
		for _, k := range p.known {
			if base, _, err := NormalizeBaseURL(k); err == nil {
				seen[base] = true
			}
		}
		p.mu.Lock()
		p.report = p.report[:0]
		p.mu.Unlock()

		for _, src := range p.d.sources {
			if p.ctx.Err() != nil {
				p.record(SourceStatus{Source: src.Name(), Err: p.ctx.Err()})
				return
			}
			st, cont := p.drain(src, seen, yield)
			p.record(st)
			if !cont {
				return
			}
		}
	}
}

func (p *Pass) drain(src Source, seen map[string]bool, yield func(Candidate) bool) (SourceStatus, bool) {
	st := SourceStatus{Source: src.Name()}
	start := time.Now()
	cands, err := src.ListCandidates(p.ctx)
	if err != nil {
		st.Err = err
		observability.ObserveDiscovery(src.Name(), "error", 0, time.Since(start))
		log.Warn().Err(err).Str("source", src.Name()).Msg("discovery source failed")
		// partial results from a failing source are still usable
	}
	for _, c := range cands {
		base, host, nerr := NormalizeBaseURL(c.BaseURL)
		if nerr != nil || p.d.Blocked(host) || seen[base] {
			continue
		}
		site, _ := SiteURL(c.BaseURL)
		seen[base] = true
		c.BaseURL, c.Domain = site, host
		if c.Source == "" {
			c.Source = src.Name()
		}
		if strings.TrimSpace(c.Name) == "" {
			c.Name = host
		}
		st.Candidates++
		if !yield(c) {
			return st, false
		}
	}
	if err == nil {
		observability.ObserveDiscovery(src.Name(), "ok", st.Candidates, time.Since(start))
	}
	return st, true
}

func (p *Pass) record(st SourceStatus) {
	p.mu.Lock()
	p.report = append(p.report, st)
	p.mu.Unlock()
}

// Report returns the per-source statuses of the most recent iteration.
func (p *Pass) Report() []SourceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SourceStatus(nil), p.report...)
}

// NormalizeBaseURL reduces a site URL to the dedupe key https://host, with the host
// lowercased and stripped of "www." and any port. It returns the key and the host.
func NormalizeBaseURL(raw string) (string, string, error) {
	_, host, err := parseSite(raw)
	if err != nil {
		return "", "", err
	}
	return "https://" + host, host, nil
}

// SiteURL keeps the scheme and port of a site URL and drops its path, query and fragment.
// It is the address the agency is fetched at.
func SiteURL(raw string) (string, error) {
	u, _, err := parseSite(raw)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + strings.ToLower(u.Host), nil
}

func parseSite(raw string) (*url.URL, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := ratelimit.Normalize(u.Host)
	if host == "" || !strings.Contains(host, ".") {
		return nil, "", fmt.Errorf("no host in %q", raw)
	}
	return u, host, nil
}
