package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"listingwatch/utils"
)

// DefaultUserAgent is a desktop browser user agent accepted by most
// listing sites.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxPageBytes = 8 << 20

// Fetcher returns the HTML of a listing page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// HTTPFetcher downloads pages with a plain GET.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-NZ,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("fetch %s: read body: %w", pageURL, err)
	}
	return string(body), nil
}

// BrowserFetcher renders pages in headless Chrome so content built by
// JavaScript is present in the returned HTML.
type BrowserFetcher struct {
	chromeBin string
	userAgent string
	timeout   time.Duration
	settle    time.Duration
	logger    *utils.Logger
}

// NewBrowserFetcher locates a Chrome binary (chromeBin wins when set) and
// returns a fetcher that starts a fresh browser per page.
func NewBrowserFetcher(chromeBin, userAgent string, timeout time.Duration, logger *utils.Logger) *BrowserFetcher {
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger.Info("[extract] Using browser binary: %s", chromeBin)
	return &BrowserFetcher{
		chromeBin: chromeBin,
		userAgent: userAgent,
		timeout:   timeout,
		settle:    3 * time.Second,
		logger:    logger,
	}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(f.userAgent),
	)
	if f.chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(f.chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	runCtx, cancelTimeout := context.WithTimeout(browserCtx, f.timeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.settle),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(f.settle/2),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}

	f.logger.Debug("[extract] Rendered %s (%d bytes)", pageURL, len(html))
	return html, nil
}

// findChromeBinary returns the path of an installed Chrome or Chromium,
// preferring CHROME_BIN, or "" to let chromedp use its own lookup.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
