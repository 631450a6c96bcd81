package bazos

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"
)

// collyLoader fetches the page with a plain HTTP GET through colly.
type collyLoader struct {
	collector *colly.Collector
}

func newCollyLoader(userAgent string, timeout time.Duration) *collyLoader {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(timeout)
	return &collyLoader{collector: c}
}

// Load performs one GET. Non-2xx responses are returned as errors by colly.
func (l *collyLoader) Load(_ context.Context, pageURL string) ([]byte, error) {
	c := l.collector.Clone()

	var body []byte
	var failure error
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		failure = fmt.Errorf("status %d: %w", r.StatusCode, err)
	})

	if err := c.Visit(pageURL); err != nil {
		if failure != nil {
			return nil, failure
		}
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}
	return body, nil
}

// browserLoader renders the page in headless Chrome and returns the final DOM.
// It is used when the plain HTML response is not enough.
type browserLoader struct {
	chromeBin string
	userAgent string
	timeout   time.Duration
}

func newBrowserLoader(chromeBin, userAgent string, timeout time.Duration) *browserLoader {
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	return &browserLoader{chromeBin: chromeBin, userAgent: userAgent, timeout: timeout}
}

func (l *browserLoader) Load(ctx context.Context, pageURL string) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(l.userAgent),
	)
	if l.chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(l.chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, l.timeout)
	defer cancelRun()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp: %w", err)
	}
	return []byte(html), nil
}

func findChromeBinary() string {
	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
