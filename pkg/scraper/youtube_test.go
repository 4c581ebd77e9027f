package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsYouTubeURLAndVideoID(t *testing.T) {
	tests := []struct {
		url     string
		youtube bool
		id      string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true, "dQw4w9WgXcQ"},
		{"https://youtube.com/watch?v=abc&t=10", true, "abc"},
		{"https://m.youtube.com/watch?v=mobile", true, "mobile"},
		{"https://youtu.be/short1", true, "short1"},
		{"https://www.youtube.com/shorts/clip2", true, "clip2"},
		{"https://www.youtube.com/channel/xyz", true, ""},
		{"https://vimeo.com/123", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.youtube, isYouTubeURL(u))
			if tt.youtube {
				assert.Equal(t, tt.id, extractVideoID(u))
			}
		})
	}
}

func TestParseVTT(t *testing.T) {
	vtt := "WEBVTT\nKind: captions\nLanguage: en\n\n00:00:00.000 --> 00:00:02.000\nHello there\n\n00:00:02.000 --> 00:00:04.000\nHello there\ngeneral Kenobi\n"
	assert.Equal(t, "Hello there general Kenobi", ParseVTT(vtt))
}

func TestParseJSON3(t *testing.T) {
	text, err := ParseJSON3(`{"events":[{"segs":[{"utf8":"Hello"},{"utf8":"\n"}]},{"tStartMs":10},{"segs":[{"utf8":"world"}]}]}`)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)

	_, err = ParseJSON3("not json")
	assert.Error(t, err)
}

func TestExtractCaptionTracks(t *testing.T) {
	page := `<script>var ytInitialPlayerResponse = {"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[{"baseUrl":"https://example.com/t?a=1&b=2","languageCode":"de","kind":"asr"},{"baseUrl":"/t2","languageCode":"en"}],"audioTracks":[]}}};</script>`

	tracks, err := extractCaptionTracks(page)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "https://example.com/t?a=1&b=2", tracks[0].BaseURL)
	assert.True(t, tracks[0].generated())

	sortTracks(tracks)
	assert.Equal(t, "en", tracks[0].LanguageCode)

	_, err = extractCaptionTracks("<html>no captions</html>")
	assert.Error(t, err)
}

func TestSortTracksPrefersManualEnglish(t *testing.T) {
	tracks := []captionTrack{
		{LanguageCode: "fr", Kind: "asr"},
		{LanguageCode: "en", Kind: "asr"},
		{LanguageCode: "fr"},
		{LanguageCode: "en-GB"},
	}
	sortTracks(tracks)

	var order []string
	for _, tr := range tracks {
		order = append(order, tr.LanguageCode+"/"+tr.Kind)
	}
	assert.Equal(t, []string{"en-GB/", "fr/", "en/asr", "fr/asr"}, order)
}

func newYouTubeServer(t *testing.T, captions http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<script>{"captionTracks":[{"baseUrl":"%s/captions?lang=es","languageCode":"es","kind":"asr","isTranslatable":true}]}</script>`, server.URL)
	})
	mux.HandleFunc("/captions", captions)
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchYouTubeTranscript(t *testing.T) {
	var query url.Values
	server := newYouTubeServer(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(`{"events":[{"segs":[{"utf8":"hola"},{"utf8":"mundo"}]}]}`))
	})

	s := newTestScraper(t, ScraperConfig{WatchURL: server.URL + "/watch"})
	doc, err := s.Fetch(context.Background(), "https://youtu.be/vid123")
	require.NoError(t, err)

	assert.Equal(t, "vid123", doc.ID)
	assert.Equal(t, "hola mundo", doc.Content)
	assert.Equal(t, "youtube", doc.Metadata["source"])
	assert.Equal(t, "json3", query.Get("fmt"))
	assert.Equal(t, "es", query.Get("lang"))
}

func TestFetchYouTubeFallsBackToTranslation(t *testing.T) {
	server := newYouTubeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tlang") == "en" {
			w.Write([]byte("WEBVTT\n\n00:00.000 --> 00:01.000\nhello world\n"))
			return
		}
		w.Write([]byte(`{"events":[]}`))
	})

	s := newTestScraper(t, ScraperConfig{WatchURL: server.URL + "/watch"})
	doc, err := s.Fetch(context.Background(), "https://www.youtube.com/watch?v=vid")
	require.NoError(t, err)

	assert.Equal(t, "hello world", doc.Content)
	assert.Equal(t, "en", doc.Metadata["language"])
}

func TestFetchYouTubeRateLimited(t *testing.T) {
	server := newYouTubeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	s := newTestScraper(t, ScraperConfig{WatchURL: server.URL + "/watch"})
	_, err := s.Fetch(context.Background(), "https://www.youtube.com/watch?v=vid")
	assert.ErrorIs(t, err, ErrYouTubeRateLimited)
}

func TestFetchYouTubeWithoutVideoID(t *testing.T) {
	s := newTestScraper(t, ScraperConfig{})
	_, err := s.Fetch(context.Background(), "https://www.youtube.com/channel/xyz")
	assert.ErrorContains(t, err, "could not extract video ID")
}
