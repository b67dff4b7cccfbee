package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tripscout/internal/adapters/fetch"
	"tripscout/internal/domain"
)

func TestRendered_MalformedURLIsPermanent(t *testing.T) {
	r := fetch.NewRendered(fetch.RenderedOptions{ExecPath: filepath.Join(t.TempDir(), "no-chrome")})
	defer r.Close()

	for _, u := range []string{"ftp://tours.example", "not a url", "https://"} {
		_, err := r.Fetch(context.Background(), u, domain.RenderHints{})
		var pe *domain.PermanentFetchError
		if !errors.As(err, &pe) {
			t.Fatalf("%q: expected permanent error, got %v", u, err)
		}
	}
}

func TestRendered_BrowserStartFailureIsTransientAndSticky(t *testing.T) {
	r := fetch.NewRendered(fetch.RenderedOptions{Headless: true, ExecPath: filepath.Join(t.TempDir(), "no-chrome")})
	defer r.Close()

	for i := 0; i < 2; i++ {
		_, err := r.Fetch(context.Background(), "https://tours.example/packages", domain.RenderHints{})
		var te *domain.TransientFetchError
		if !errors.As(err, &te) {
			t.Fatalf("attempt %d: expected transient error, got %v", i, err)
		}
		if !strings.Contains(err.Error(), "browser start") {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
}

func findBrowser() string {
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

const lazyPage = `<html><body><ul id="list"><li>Ubud</li></ul>
<button id="more" onclick="document.getElementById('list').insertAdjacentHTML('beforeend','<li>Seminyak</li>')">more</button>
</body></html>`

func TestRendered_ScrollAndLoadMore(t *testing.T) {
	path := findBrowser()
	if path == "" {
		t.Skip("no chrome binary found")
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(lazyPage))
	}))
	defer ts.Close()

	r := fetch.NewRendered(fetch.RenderedOptions{Headless: true, ExecPath: path, ScrollPause: 10 * time.Millisecond, Timeout: 20 * time.Second})
	defer r.Close()

	page, err := r.Fetch(context.Background(), ts.URL, domain.RenderHints{WaitSelector: "#list", ScrollSteps: 1, LoadMore: "#more"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.Strategy != domain.StrategyRendered || !strings.Contains(string(page.Body), "Seminyak") {
		t.Fatalf("unexpected page: %s", page.Body)
	}
}
