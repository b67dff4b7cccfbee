// Package fetch implements the static (plain HTTP) and rendered (headless browser)
// strategies for retrieving listing pages.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tripscout/internal/adapters/observability"
	"tripscout/internal/domain"
)

const maxBody = 8 << 20

type Static struct {
	hc        *http.Client
	userAgent string
}

func NewStatic(timeout time.Duration, userAgent string) *Static {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if userAgent == "" {
		userAgent = "tripscout/1.0"
	}
	return &Static{hc: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

func (s *Static) Name() domain.Strategy { return domain.StrategyStatic }

// Fetch performs one GET and classifies the outcome. Retrying is the caller's job:
// failures come back as *domain.TransientFetchError or *domain.PermanentFetchError.
func (s *Static) Fetch(ctx context.Context, rawURL string, _ domain.RenderHints) (domain.Page, error) {
	if err := validURL(rawURL); err != nil {
		return domain.Page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.Page{}, &domain.PermanentFetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("User-Agent", s.userAgent)

	start := time.Now()
	resp, err := s.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("static", hostOf(rawURL), 0, time.Since(start))
		// context cancellation is reported as-is so the scheduler can tell shutdown apart
		if ctx.Err() != nil {
			return domain.Page{}, ctx.Err()
		}
		return domain.Page{}, &domain.TransientFetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	observability.ObserveExternal("static", hostOf(rawURL), resp.StatusCode, time.Since(start))

	if err := classify(rawURL, resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.Page{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if ctx.Err() != nil {
			return domain.Page{}, ctx.Err()
		}
		return domain.Page{}, &domain.TransientFetchError{URL: rawURL, Status: resp.StatusCode, Err: err}
	}
	return domain.Page{
		URL:       resp.Request.URL.String(),
		Status:    resp.StatusCode,
		Body:      body,
		Strategy:  domain.StrategyStatic,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func classify(rawURL string, resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests,
		code == http.StatusTooEarly, code >= 500:
		return &domain.TransientFetchError{URL: rawURL, Status: code, RetryAfter: retryAfter(resp)}
	default:
		// 404/410 removed, 401/403/451 blocked, anything else in 4xx is not going to change
		return &domain.PermanentFetchError{URL: rawURL, Status: code}
	}
}

func validURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &domain.PermanentFetchError{URL: raw, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &domain.PermanentFetchError{URL: raw, Err: fmt.Errorf("malformed url")}
	}
	return nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	return u.Hostname()
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
