package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"tripscout/internal/adapters/observability"
	"tripscout/internal/domain"
)

type RenderedOptions struct {
	Headless  bool
	UserAgent string
	Timeout   time.Duration
	// ExecPath overrides the browser binary chromedp looks up.
	ExecPath string
	// ScrollPause is the wait between scroll steps when hints ask for scrolling.
	ScrollPause time.Duration
}

// Rendered loads pages in a shared headless Chrome, one tab per fetch.
type Rendered struct {
	opts RenderedOptions

	once        sync.Once
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelBrows context.CancelFunc
	startErr    error
}

func NewRendered(opts RenderedOptions) *Rendered {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.ScrollPause <= 0 {
		opts.ScrollPause = 700 * time.Millisecond
	}
	return &Rendered{opts: opts}
}

func (r *Rendered) Name() domain.Strategy { return domain.StrategyRendered }

func (r *Rendered) start() error {
	r.once.Do(func() {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", r.opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
		if r.opts.UserAgent != "" {
			allocOpts = append(allocOpts, chromedp.UserAgent(r.opts.UserAgent))
		}
		if r.opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(r.opts.ExecPath))
		}
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
		browserCtx, cancelBrows := chromedp.NewContext(allocCtx)
		// start the browser now so a missing binary surfaces once
		if err := chromedp.Run(browserCtx); err != nil {
			cancelBrows()
			cancelAlloc()
			r.startErr = err
			return
		}
		r.browserCtx, r.cancelAlloc, r.cancelBrows = browserCtx, cancelAlloc, cancelBrows
	})
	return r.startErr
}

// Fetch navigates a fresh tab, waits for the page to settle, optionally scrolls to
// trigger lazy listings, and returns the rendered DOM.
func (r *Rendered) Fetch(ctx context.Context, rawURL string, hints domain.RenderHints) (domain.Page, error) {
	if err := validURL(rawURL); err != nil {
		return domain.Page{}, err
	}
	if err := r.start(); err != nil {
		return domain.Page{}, &domain.TransientFetchError{URL: rawURL, Err: fmt.Errorf("browser start: %w", err)}
	}

	tab, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	tabCtx, cancel := context.WithTimeout(tab, r.opts.Timeout)
	defer cancel()
	// tie the tab to the caller's context as well
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	wait := "body"
	if hints.WaitSelector != "" {
		wait = hints.WaitSelector
	}
	actions := []chromedp.Action{
		chromedp.Navigate(rawURL),
		chromedp.WaitReady(wait, chromedp.ByQuery),
	}
	for i := 0; i < hints.ScrollSteps; i++ {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(r.opts.ScrollPause),
		)
		if hints.LoadMore != "" {
			actions = append(actions, chromedp.Evaluate(fmt.Sprintf(
				`(() => { const b = document.querySelector(%q); if (b) { b.click(); return true } return false })()`,
				hints.LoadMore), nil))
		}
	}
	if hints.Settle > 0 {
		actions = append(actions, chromedp.Sleep(hints.Settle))
	}
	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	start := time.Now()
	err := chromedp.Run(tabCtx, actions...)
	if err != nil {
		observability.ObserveExternal("rendered", hostOf(rawURL), 0, time.Since(start))
		if ctx.Err() != nil {
			return domain.Page{}, ctx.Err()
		}
		return domain.Page{}, &domain.TransientFetchError{URL: rawURL, Err: err}
	}
	observability.ObserveExternal("rendered", hostOf(rawURL), 200, time.Since(start))

	return domain.Page{
		URL:       rawURL,
		Status:    200,
		Body:      []byte(html),
		Strategy:  domain.StrategyRendered,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Close shuts the shared browser down.
func (r *Rendered) Close() {
	if r.cancelBrows != nil {
		r.cancelBrows()
	}
	if r.cancelAlloc != nil {
		r.cancelAlloc()
	}
}
