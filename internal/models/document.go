package models

import (
	"strings"
	"time"
)

// Document is the text extracted from a single source (web page, video
// transcript or local file).
type Document struct {
	ID       string
	URL      string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// Summary is the condensed result of one search query. Index is 1-based and
// matches the query slot it was produced for.
type Summary struct {
	Index   int
	Query   string
	Text    string
	Sources []string
	Skipped bool
}

// RelatedPost is a previously published post that can be linked from a new
// one. URL is where the post itself lives; SourceURL is what it was written
// about.
type RelatedPost struct {
	ID          string
	URL         string
	SourceURL   string
	Title       string
	Description string
	Distance    float64
}

// Post is the finished output of one pipeline run.
type Post struct {
	ID          string
	SourceURL   string
	URL         string // published location, empty until written
	Title       string
	Body        string
	Description string
	Queries     []string
	Summaries   []Summary
	Related     []RelatedPost
	Translated  bool
	CreatedAt   time.Time
}

// SplitTitle returns the text of the first "#" heading in body and the body
// with that line removed. Title is empty when body has no heading.
func SplitTitle(body string) (title, rest string) {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") || len(trimmed) < 2 {
			continue
		}
		title = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		if title == "" {
			continue
		}
		lines = append(lines[:i:i], lines[i+1:]...)
		return title, strings.TrimLeft(strings.Join(lines, "\n"), "\n")
	}
	return "", body
}
