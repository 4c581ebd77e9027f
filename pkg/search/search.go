// Package search implements the web search backends used to enrich fetched
// content: DuckDuckGo lite, Brave, Tavily and SearXNG.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xhad/scribe/internal/types"
	"github.com/xhad/scribe/pkg/logger"
)

// Result is a single search hit.
type Result = types.SearchResult

// Provider is implemented by every backend.
type Provider = types.Searcher

type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string // endpoint override; required for searxng
	Depth      string // tavily search depth
	MaxResults int
	RateLimit  float64 // requests per second shared by all queries
	Timeout    time.Duration
	Logger     *slog.Logger
}

// New returns the backend named by config.Provider.
func New(config Config) (Provider, error) {
	base, err := newClient(config)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(config.Provider) {
	case "", "duckduckgo", "ddg":
		return &DuckDuckGo{client: base, endpoint: orDefault(config.BaseURL, duckDuckGoEndpoint)}, nil
	case "brave":
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, fmt.Errorf("brave: API key is missing")
		}
		return &Brave{client: base, apiKey: config.APIKey, endpoint: orDefault(config.BaseURL, braveEndpoint)}, nil
	case "tavily":
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, fmt.Errorf("tavily: API key is missing")
		}
		return &Tavily{client: base, apiKey: config.APIKey, depth: orDefault(config.Depth, "basic"), endpoint: orDefault(config.BaseURL, tavilyEndpoint)}, nil
	case "searxng":
		if config.BaseURL == "" {
			return nil, fmt.Errorf("searxng: instance URL is missing")
		}
		return &SearXNG{client: base, instanceURL: strings.TrimRight(config.BaseURL, "/")}, nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", config.Provider)
	}
}

// client holds what every backend shares: HTTP transport, pacing, result cap
// and the 429 back-off loop.
type client struct {
	http       *http.Client
	limiter    *rate.Limiter
	maxResults int
	logger     *slog.Logger
	maxBackoff time.Duration
	attempts   int
	sleep      func(ctx context.Context, d time.Duration) error
}

func newClient(config Config) (*client, error) {
	if config.MaxResults <= 0 {
		config.MaxResults = 5
	}
	if config.RateLimit == 0 {
		config.RateLimit = 1
	}
	if config.RateLimit < 0 {
		return nil, fmt.Errorf("invalid search rate limit %v", config.RateLimit)
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}

	return &client{
		http:       &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		maxResults: config.MaxResults,
		logger:     config.Logger,
		maxBackoff: 30 * time.Second,
		attempts:   5,
		sleep:      sleepContext,
	}, nil
}

// do sends the request built by newReq, backing off on 429 with a doubling
// delay (or the server's Retry-After) until attempts run out.
func (c *client) do(ctx context.Context, name string, newReq func() (*http.Request, error)) (*http.Response, error) {
	delay := time.Second
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		if attempt >= c.attempts {
			return nil, fmt.Errorf("%s: rate limited after %d attempts", name, attempt)
		}

		wait := retryAfter(resp.Header, delay)
		c.logger.Warn("search rate limited, backing off", "provider", name, "attempt", attempt, "wait", wait)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
		if delay < c.maxBackoff {
			delay *= 2
		}
	}
}

func (c *client) limit(results []Result) []Result {
	if len(results) > c.maxResults {
		return results[:c.maxResults]
	}
	return results
}

func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After"))); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
