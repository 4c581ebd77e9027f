package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/xhad/scribe/internal/models"
)

// ErrYouTubeRateLimited is returned when YouTube answers with 429. Callers
// should stop rather than retry.
var ErrYouTubeRateLimited = errors.New("YouTube rate limit hit (429), wait and try again later")

var youtubeHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
	"youtu.be":        true,
}

func isYouTubeURL(u *url.URL) bool {
	return youtubeHosts[strings.ToLower(u.Hostname())]
}

// extractVideoID supports watch?v=, youtu.be/, /shorts/ and /embed/ forms.
func extractVideoID(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if host == "youtu.be" {
		return strings.Trim(u.Path, "/")
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
		if strings.HasPrefix(u.Path, prefix) {
			return strings.Trim(strings.TrimPrefix(u.Path, prefix), "/")
		}
	}
	return ""
}

type captionTrack struct {
	BaseURL        string `json:"baseUrl"`
	LanguageCode   string `json:"languageCode"`
	Kind           string `json:"kind"`
	IsTranslatable bool   `json:"isTranslatable"`
}

func (t captionTrack) generated() bool { return t.Kind == "asr" }

func (s *Scraper) fetchYouTube(ctx context.Context, u *url.URL) (*models.Document, error) {
	videoID := extractVideoID(u)
	if videoID == "" {
		return nil, fmt.Errorf("could not extract video ID from YouTube URL: %s", u)
	}

	page, err := s.youtubeGet(ctx, s.config.WatchURL+"?v="+url.QueryEscape(videoID))
	if err != nil {
		return nil, err
	}

	tracks, err := extractCaptionTracks(page)
	if err != nil {
		return nil, fmt.Errorf("video %s: %w", videoID, err)
	}
	sortTracks(tracks)

	var failures []string
	for _, track := range tracks {
		text, err := s.fetchTrack(ctx, track.BaseURL, "")
		if errors.Is(err, ErrYouTubeRateLimited) {
			return nil, err
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", track.LanguageCode, err))
			continue
		}
		if text != "" {
			return s.transcriptDocument(u, videoID, track.LanguageCode, text), nil
		}
	}

	for _, track := range tracks {
		if !track.generated() || !track.IsTranslatable {
			continue
		}
		text, err := s.fetchTrack(ctx, track.BaseURL, "en")
		if errors.Is(err, ErrYouTubeRateLimited) {
			return nil, err
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("translate %s: %v", track.LanguageCode, err))
			continue
		}
		if text != "" {
			return s.transcriptDocument(u, videoID, "en", text), nil
		}
	}

	return nil, fmt.Errorf("failed to fetch transcript for video %s: %s", videoID, strings.Join(failures, "; "))
}

func (s *Scraper) transcriptDocument(u *url.URL, videoID, lang, text string) *models.Document {
	return &models.Document{
		ID:      videoID,
		URL:     u.String(),
		Content: text,
		Metadata: map[string]interface{}{
			"time":     time.Now(),
			"source":   "youtube",
			"language": lang,
		},
	}
}

func (s *Scraper) fetchTrack(ctx context.Context, baseURL, translateTo string) (string, error) {
	trackURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("bad caption URL: %w", err)
	}
	if !trackURL.IsAbs() {
		watch, err := url.Parse(s.config.WatchURL)
		if err != nil {
			return "", err
		}
		trackURL = watch.ResolveReference(trackURL)
	}

	q := trackURL.Query()
	q.Set("fmt", "json3")
	if translateTo != "" {
		q.Set("tlang", translateTo)
	}
	trackURL.RawQuery = q.Encode()

	body, err := s.youtubeGet(ctx, trackURL.String())
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "WEBVTT") {
		return ParseVTT(trimmed), nil
	}
	return ParseJSON3(trimmed)
}

func (s *Scraper) youtubeGet(ctx context.Context, target string) (string, error) {
	resp, err := s.get(ctx, target)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrYouTubeRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, target)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// extractCaptionTracks pulls the captionTracks array out of the player
// response embedded in a watch page.
func extractCaptionTracks(page string) ([]captionTrack, error) {
	const marker = `"captionTracks":`
	idx := strings.Index(page, marker)
	if idx < 0 {
		return nil, errors.New("no captions available")
	}

	var tracks []captionTrack
	dec := json.NewDecoder(strings.NewReader(page[idx+len(marker):]))
	if err := dec.Decode(&tracks); err != nil {
		return nil, fmt.Errorf("failed to decode caption tracks: %w", err)
	}
	if len(tracks) == 0 {
		return nil, errors.New("no captions available")
	}
	return tracks, nil
}

// sortTracks orders manual tracks before generated ones, English first.
func sortTracks(tracks []captionTrack) {
	rank := func(t captionTrack) int {
		r := 0
		if t.generated() {
			r += 2
		}
		if !strings.HasPrefix(t.LanguageCode, "en") {
			r++
		}
		return r
	}
	sort.SliceStable(tracks, func(i, j int) bool {
		return rank(tracks[i]) < rank(tracks[j])
	})
}

// ParseJSON3 extracts the caption text from a json3 subtitle document.
func ParseJSON3(content string) (string, error) {
	var doc struct {
		Events []struct {
			Segs []struct {
				UTF8 *string `json:"utf8"`
			} `json:"segs"`
		} `json:"events"`
	}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return "", fmt.Errorf("failed to parse json3 captions: %w", err)
	}

	var parts []string
	for _, event := range doc.Events {
		for _, seg := range event.Segs {
			if seg.UTF8 != nil {
				parts = append(parts, *seg.UTF8)
			}
		}
	}
	text := strings.ReplaceAll(strings.Join(parts, " "), "\n", " ")
	return strings.Join(strings.Fields(text), " "), nil
}

// ParseVTT extracts the caption text from a WebVTT document, dropping
// headers, cue timings and consecutive duplicate lines.
func ParseVTT(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" ||
			line == "WEBVTT" ||
			strings.Contains(line, "-->") ||
			strings.HasPrefix(line, "Kind:") ||
			strings.HasPrefix(line, "Language:") {
			continue
		}
		if len(lines) > 0 && lines[len(lines)-1] == line {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, " ")
}
