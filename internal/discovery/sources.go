package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"tripscout/internal/domain"
)

// Seed is one hand-curated agency entry.
type Seed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type seedFile struct {
	Agencies    []Seed   `yaml:"agencies"`
	Directories []string `yaml:"directories"`
}

// SeedConfig is the parsed seeds file: static agencies plus directory pages to crawl.
type SeedConfig struct {
	Agencies    []Seed
	Directories []string
}

func LoadSeeds(path string) (SeedConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SeedConfig{}, err
	}
	return ParseSeeds(b)
}

func ParseSeeds(b []byte) (SeedConfig, error) {
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return SeedConfig{}, fmt.Errorf("parse seeds: %w", err)
	}
	return SeedConfig{Agencies: f.Agencies, Directories: f.Directories}, nil
}

// StaticSource serves a fixed seed list.
type StaticSource struct {
	seeds []Seed
}

func NewStaticSource(seeds []Seed) *StaticSource { return &StaticSource{seeds: seeds} }

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) ListCandidates(context.Context) ([]Candidate, error) {
	out := make([]Candidate, 0, len(s.seeds))
	for _, sd := range s.seeds {
		out = append(out, Candidate{Name: sd.Name, BaseURL: sd.URL, Source: s.Name()})
	}
	return out, nil
}

// SearchSource queries a JSON web-search API with a fixed set of queries. The response is
// expected to carry an "organic_results" array of {title, link}.
type SearchSource struct {
	hc       *http.Client
	endpoint string
	apiKey   string
	queries  []string
	perQuery int
}

func NewSearchSource(endpoint, apiKey string, queries []string, perQuery int, timeout time.Duration) *SearchSource {
	if perQuery <= 0 {
		perQuery = 10
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearchSource{
		hc:       &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
		queries:  queries,
		perQuery: perQuery,
	}
}

func (s *SearchSource) Name() string { return "search" }

type searchResponse struct {
	OrganicResults []struct {
		Title string `json:"title"`
		Link  string `json:"link"`
	} `json:"organic_results"`
}

// ListCandidates runs every query; a failing query is skipped and the first error is
// returned alongside whatever the others produced.
func (s *SearchSource) ListCandidates(ctx context.Context) ([]Candidate, error) {
	var (
		out      []Candidate
		firstErr error
	)
	for _, q := range s.queries {
		res, err := s.search(ctx, q)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		out = append(out, res...)
	}
	return out, firstErr
}

func (s *SearchSource) search(ctx context.Context, q string) ([]Candidate, error) {
	v := url.Values{}
	v.Set("q", q)
	v.Set("num", strconv.Itoa(s.perQuery))
	if s.apiKey != "" {
		v.Set("api_key", s.apiKey)
	}
	sep := "?"
	if strings.Contains(s.endpoint, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+sep+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search %q: %s: %s", q, resp.Status, strings.TrimSpace(string(b)))
	}
	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("search %q: decode: %w", q, err)
	}
	out := make([]Candidate, 0, len(body.OrganicResults))
	for i, r := range body.OrganicResults {
		if i >= s.perQuery {
			break
		}
		out = append(out, Candidate{Name: r.Title, BaseURL: r.Link, Source: s.Name()})
	}
	return out, nil
}

// PageFetcher is satisfied by the static fetch strategy.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, hints domain.RenderHints) (domain.Page, error)
}

var travelKeywords = []string{
	"travel", "tour", "holiday", "package", "tourism",
	"vacation", "trip", "agency", "operator",
}

const (
	minLinkText     = 5
	maxPerDirectory = 50
)

// DirectorySource reads outbound agency links from listing directory pages.
type DirectorySource struct {
	fetcher PageFetcher
	pages   []string
}

func NewDirectorySource(f PageFetcher, pages []string) *DirectorySource {
	return &DirectorySource{fetcher: f, pages: pages}
}

func (s *DirectorySource) Name() string { return "directory" }

func (s *DirectorySource) ListCandidates(ctx context.Context) ([]Candidate, error) {
	var (
		out      []Candidate
		firstErr error
	)
	for _, page := range s.pages {
		p, err := s.fetcher.Fetch(ctx, page, domain.RenderHints{})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("directory %s: %w", page, err)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		cands, err := directoryLinks(page, p.Body)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		for _, c := range cands {
			c.Source = s.Name()
			out = append(out, c)
		}
	}
	return out, firstErr
}

// directoryLinks returns absolute links whose text or href mentions a travel keyword.
// Links back into the directory's own host are skipped.
func directoryLinks(pageURL string, body []byte) ([]Candidate, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("directory %s: %w", pageURL, err)
	}
	seen := map[string]bool{}
	var out []Candidate
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.Join(strings.Fields(a.Text()), " ")
		href, _ := a.Attr("href")
		if len(text) < minLinkText || !hasTravelKeyword(text, href) {
			return true
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if (abs.Scheme != "http" && abs.Scheme != "https") || strings.EqualFold(abs.Host, base.Host) {
			return true
		}
		if seen[abs.Host] {
			return true
		}
		seen[abs.Host] = true
		out = append(out, Candidate{Name: text, BaseURL: abs.String()})
		return len(out) < maxPerDirectory
	})
	return out, nil
}

func hasTravelKeyword(text, href string) bool {
	t, h := strings.ToLower(text), strings.ToLower(href)
	for _, kw := range travelKeywords {
		if strings.Contains(t, kw) || strings.Contains(h, kw) {
			return true
		}
	}
	return false
}
