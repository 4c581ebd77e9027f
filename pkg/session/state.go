// Package session holds the values one pipeline run shares between stages.
package session

import (
	"fmt"
	"maps"
	"sync"
)

// Keys written by the pipeline stages.
const (
	OriginalURL           = "original_url"
	URLContent            = "url_content"
	SearchQueries         = "search_queries"
	FinalBlogPost         = "final_blog_post"
	BlogDescription       = "blog_description"
	TranslatedBlogPost    = "translated_blog_post"
	TranslatedDescription = "translated_description"
)

// SummaryKey returns the key of the summary for query slot i (1-based).
func SummaryKey(i int) string {
	return fmt.Sprintf("summary_%d", i)
}

// State is a concurrency-safe string store scoped to one run. Parallel
// branches each write their own key.
type State struct {
	mu     sync.RWMutex
	values map[string]string
}

func New() *State {
	return &State{values: make(map[string]string)}
}

func (s *State) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *State) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// MustGet returns the value for key or an error naming the missing key.
func (s *State) MustGet(key string) (string, error) {
	v, ok := s.Get(key)
	if !ok {
		return "", fmt.Errorf("session: %q has not been set", key)
	}
	return v, nil
}

// Snapshot returns a copy of every value.
func (s *State) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}
