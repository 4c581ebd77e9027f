package scraper

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// renderWithChrome loads target in headless Chrome and returns the rendered
// document HTML. A remote browser is used when BrowserURL is set.
func (s *Scraper) renderWithChrome(ctx context.Context, target string) (string, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if s.config.BrowserURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, s.config.BrowserURL)
	} else {
		// Copy default options to avoid mutating the package-level slice.
		opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(opts, chromedp.DefaultExecAllocatorOptions[:])
		opts = append(opts,
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(s.config.UserAgent),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}
	defer allocCancel()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	tabCtx, cancel := context.WithTimeout(tabCtx, s.config.Timeout)
	defer cancel()

	s.logger.Debug("rendering in browser", "url", target, "remote", s.config.BrowserURL != "")

	var html string
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return "", fmt.Errorf("chromedp: %w", err)
	}
	return html, nil
}
