package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxSearchBodySize = 512 * 1024 // 512KB

// SearXNG searches the web through a self-hosted SearXNG instance.
type SearXNG struct {
	*client
	instanceURL string
}

func (s *SearXNG) Name() string { return "searxng" }

func (s *SearXNG) Search(ctx context.Context, query string) ([]Result, error) {
	resp, err := s.do(ctx, s.Name(), func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.instanceURL+"/search", nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		q := req.URL.Query()
		q.Set("q", query)
		q.Set("format", "json")
		q.Set("pageno", "1")
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	results := make([]Result, 0, len(payload.Results))
	for _, r := range payload.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}

	results = s.limit(results)
	s.logger.Debug("searxng search completed", "query", query, "results", len(results))
	return results, nil
}
