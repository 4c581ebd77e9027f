package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, config Config) Provider {
	t.Helper()
	config.RateLimit = 1000
	p, err := New(config)
	require.NoError(t, err)
	return p
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		config  Config
		name    string
		wantErr bool
	}{
		{Config{}, "duckduckgo", false},
		{Config{Provider: "DuckDuckGo"}, "duckduckgo", false},
		{Config{Provider: "brave", APIKey: "k"}, "brave", false},
		{Config{Provider: "brave"}, "", true},
		{Config{Provider: "tavily", APIKey: "k"}, "tavily", false},
		{Config{Provider: "tavily"}, "", true},
		{Config{Provider: "searxng", BaseURL: "http://localhost:8888"}, "searxng", false},
		{Config{Provider: "searxng"}, "", true},
		{Config{Provider: "bing"}, "", true},
		{Config{RateLimit: -1}, "", true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.config.Provider, tt.wantErr), func(t *testing.T) {
			p, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, p.Name())
		})
	}
}

const liteHTML = `<html><body><table>
<tr><td><a rel="nofollow" href="https://example.com/one" class='result-link'>First result</a></td></tr>
<tr><td class='result-snippet'>The <b>first</b> snippet.</td></tr>
<tr><td><a rel="nofollow" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2Ftwo&rut=x" class='result-link'>Second result</a></td></tr>
<tr><td class='result-snippet'>Second snippet.</td></tr>
<tr><td><a href="https://example.net/three" class='result-link'>Third result</a></td></tr>
</table></body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query = r.PostForm.Get("q")
		w.Write([]byte(liteHTML))
	}))
	defer server.Close()

	p := newTestProvider(t, Config{Provider: "duckduckgo", BaseURL: server.URL, MaxResults: 2})

	results, err := p.Search(context.Background(), "golang generics")
	require.NoError(t, err)

	assert.Equal(t, "golang generics", query)
	require.Len(t, results, 2)
	assert.Equal(t, Result{Title: "First result", URL: "https://example.com/one", Snippet: "The first snippet."}, results[0])
	assert.Equal(t, "https://example.org/two", results[1].URL)
	assert.Equal(t, "Second snippet.", results[1].Snippet)

	_, err = p.Search(context.Background(), "  ")
	assert.Error(t, err)
}

func TestBraveSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "test query", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{
				"results": []map[string]string{
					{"title": "A", "url": "https://a.example", "description": "alpha"},
				},
			},
		})
	}))
	defer server.Close()

	p := newTestProvider(t, Config{Provider: "brave", APIKey: "secret", BaseURL: server.URL})

	results, err := p.Search(context.Background(), "test query")
	require.NoError(t, err)
	assert.Equal(t, []Result{{Title: "A", URL: "https://a.example", Snippet: "alpha"}}, results)
}

func TestTavilySearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "k", body["api_key"])
		assert.Equal(t, "advanced", body["search_depth"])
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "T1", "url": "https://t1.example", "content": "c1"},
				{"title": "T2", "url": "https://t2.example", "content": "c2"},
			},
		})
	}))
	defer server.Close()

	p := newTestProvider(t, Config{Provider: "tavily", APIKey: "k", Depth: "advanced", BaseURL: server.URL, MaxResults: 1})

	results, err := p.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []Result{{Title: "T1", URL: "https://t1.example", Snippet: "c1"}}, results)
}

func TestSearXNGSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`{"results":[{"title":"S","url":"https://s.example","content":"snippet","engine":"google"}]}`))
	}))
	defer server.Close()

	p := newTestProvider(t, Config{Provider: "searxng", BaseURL: server.URL + "/"})

	results, err := p.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []Result{{Title: "S", URL: "https://s.example", Snippet: "snippet"}}, results)
}

func TestSearchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newTestProvider(t, Config{Provider: "searxng", BaseURL: server.URL})
	_, err := p.Search(context.Background(), "q")
	assert.ErrorContains(t, err, "HTTP 500")
}

func TestBackoffOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	p := newTestProvider(t, Config{Provider: "searxng", BaseURL: server.URL})
	var waits []time.Duration
	p.(*SearXNG).sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	results, err := p.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, waits)
}

func TestBackoffGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := newTestProvider(t, Config{Provider: "brave", APIKey: "k", BaseURL: server.URL})
	var waits []time.Duration
	p.(*Brave).sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := p.Search(context.Background(), "q")
	assert.ErrorContains(t, err, "rate limited after 5 attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, waits)
}
