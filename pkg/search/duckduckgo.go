package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const duckDuckGoEndpoint = "https://lite.duckduckgo.com/lite/"

// DuckDuckGo scrapes the DuckDuckGo lite HTML page. It needs no API key.
type DuckDuckGo struct {
	*client
	endpoint string
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}

	form := url.Values{}
	form.Set("q", query)

	resp, err := d.do(ctx, d.Name(), func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: failed to parse response: %w", err)
	}

	results := d.limit(parseLiteResults(doc))
	d.logger.Debug("duckduckgo search completed", "query", query, "results", len(results))
	return results, nil
}

// parseLiteResults pairs each result-link anchor with the next result-snippet
// cell.
func parseLiteResults(doc *goquery.Document) []Result {
	var results []Result
	doc.Find("a.result-link, td.result-snippet").Each(func(_ int, sel *goquery.Selection) {
		if goquery.NodeName(sel) == "td" {
			if n := len(results); n > 0 && results[n-1].Snippet == "" {
				results[n-1].Snippet = strings.Join(strings.Fields(sel.Text()), " ")
			}
			return
		}

		href, _ := sel.Attr("href")
		target := unwrapRedirect(strings.TrimSpace(href))
		title := strings.TrimSpace(sel.Text())
		if target == "" || title == "" {
			return
		}
		results = append(results, Result{Title: title, URL: target})
	})
	return results
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg= redirect links.
func unwrapRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
