package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/xhad/scribe/internal/models"
	"github.com/xhad/scribe/pkg/logger"
)

// ErrUnsupportedDocument is returned for inputs the scraper cannot turn into text.
var ErrUnsupportedDocument = errors.New("unsupported document type")

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type ScraperConfig struct {
	Timeout     time.Duration
	RateLimit   float64 // requests per second
	Selector    string  // CSS selector narrowing the extracted content
	IgnoreLinks bool
	Heavy       bool   // render pages in headless Chrome first
	BrowserURL  string // remote CDP endpoint for heavy mode
	UserAgent   string
	// WatchURL is the YouTube watch page prefix, "?v=<id>" is appended.
	WatchURL string
	Logger   *slog.Logger
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	render  func(ctx context.Context, target string) (string, error)
	logger  *slog.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.RateLimit < 0 {
		return nil, fmt.Errorf("invalid rate limit %v", config.RateLimit)
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.WatchURL == "" {
		config.WatchURL = "https://www.youtube.com/watch"
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}

	s := &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:  config.Logger,
	}
	s.render = s.renderWithChrome
	return s, nil
}

// Fetch returns the text content of target, which may be a web page, a
// YouTube video or a local file.
func (s *Scraper) Fetch(ctx context.Context, target string) (*models.Document, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("empty target")
	}

	if path, ok := localPath(target); ok {
		return s.fetchFile(path)
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("malformed URL %q: %w", target, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("malformed URL %q: expected an http(s) URL", target)
	}

	if isYouTubeURL(parsed) {
		return s.fetchYouTube(ctx, parsed)
	}
	if s.config.Heavy {
		return s.fetchRendered(ctx, parsed)
	}
	return s.fetchPage(ctx, parsed)
}

func (s *Scraper) fetchPage(ctx context.Context, target *url.URL) (*models.Document, error) {
	resp, err := s.get(ctx, target.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, target)
	}

	contentType := resp.Header.Get("Content-Type")
	if isPDF(contentType, nil) {
		data, err := readPDF(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", target, err)
		}
		return pdfDocument(target.String(), pathTitle(target.Path), data)
	}

	if !strings.Contains(contentType, "html") && contentType != "" {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", target, err)
		}
		if isPDF("", body) {
			return pdfDocument(target.String(), pathTitle(target.Path), body)
		}
		return &models.Document{
			URL:     target.String(),
			Content: string(body),
			Metadata: map[string]interface{}{
				"time":        time.Now(),
				"contentType": contentType,
			},
		}, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML from %s: %w", target, err)
	}

	document := s.documentFromHTML(doc, target)
	document.Metadata["contentType"] = contentType
	document.Metadata["lastModified"] = resp.Header.Get("Last-Modified")
	return document, nil
}

func (s *Scraper) fetchRendered(ctx context.Context, target *url.URL) (*models.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	html, err := s.render(ctx, target.String())
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", target, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered HTML from %s: %w", target, err)
	}

	document := s.documentFromHTML(doc, target)
	document.Metadata["rendered"] = true
	return document, nil
}

func (s *Scraper) documentFromHTML(doc *goquery.Document, target *url.URL) *models.Document {
	return &models.Document{
		URL:     target.String(),
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		Content: s.extractMainContent(doc, target),
		Metadata: map[string]interface{}{
			"time": time.Now(),
		},
	}
}

func (s *Scraper) fetchFile(path string) (*models.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if ext == ".pdf" {
		doc, err := pdfDocument("file://"+path, pathTitle(path), data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		doc.Metadata["path"] = path
		return doc, nil
	}

	doc := &models.Document{
		URL:   "file://" + path,
		Title: strings.TrimSuffix(filepath.Base(path), ext),
		Metadata: map[string]interface{}{
			"time": time.Now(),
			"path": path,
		},
	}

	if ext == ".html" || ext == ".htm" {
		parsed, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML from %s: %w", path, err)
		}
		if title := strings.TrimSpace(parsed.Find("title").First().Text()); title != "" {
			doc.Title = title
		}
		doc.Content = s.extractMainContent(parsed, nil)
		return doc, nil
	}

	doc.Content = string(data)
	return doc, nil
}

func pdfDocument(source, title string, data []byte) (*models.Document, error) {
	text, err := pdfText(data)
	if err != nil {
		return nil, err
	}
	return &models.Document{
		URL:     source,
		Title:   title,
		Content: text,
		Metadata: map[string]interface{}{
			"time":        time.Now(),
			"contentType": "application/pdf",
		},
	}, nil
}

// pathTitle names a document after the last element of its path.
func pathTitle(p string) string {
	base := filepath.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *Scraper) get(ctx context.Context, target string) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	s.logger.Debug("fetching", "url", target)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	return resp, nil
}

// localPath reports whether target names a local file.
func localPath(target string) (string, bool) {
	if strings.HasPrefix(target, "file://") {
		return strings.TrimPrefix(target, "file://"), true
	}
	if strings.Contains(target, "://") {
		return "", false
	}
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		return target, true
	}
	return "", false
}

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td"

var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

func (s *Scraper) extractMainContent(doc *goquery.Document, base *url.URL) string {
	doc.Find("script, style, noscript, nav, footer, header, aside, form, iframe, svg").Remove()

	var root *goquery.Selection
	if s.config.Selector != "" {
		if selected := doc.Find(s.config.Selector); selected.Length() > 0 {
			root = selected
		}
	}
	if root == nil {
		// Try to find main content area
		for _, selector := range []string{
			"main",
			"article",
			".content",
			"#content",
			".post",
			".entry-content",
		} {
			if selected := doc.Find(selector); selected.Length() > 0 {
				root = selected.First()
				break
			}
		}
	}
	if root == nil {
		root = doc.Find("body")
	}

	s.rewriteLinks(root, base)

	var blocks []string
	root.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		// Nested blocks are emitted by their outermost ancestor.
		if sel.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		text := cleanContent(sel.Text())
		if text == "" {
			return
		}
		if tag := goquery.NodeName(sel); len(tag) == 2 && tag[0] == 'h' {
			text = strings.Repeat("#", int(tag[1]-'0')) + " " + text
		}
		blocks = append(blocks, text)
	})

	if len(blocks) == 0 {
		return cleanContent(root.Text())
	}
	return strings.Join(blocks, "\n\n")
}

// rewriteLinks inlines absolute link targets after the anchor text, or leaves
// only the text when links are ignored.
func (s *Scraper) rewriteLinks(root *goquery.Selection, base *url.URL) {
	root.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		text := strings.TrimSpace(a.Text())
		href, _ := a.Attr("href")
		if s.config.IgnoreLinks || text == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			a.SetText(text)
			return
		}

		link, err := url.Parse(href)
		if err != nil {
			s.logger.Debug("skipping malformed link", "href", href, "error", err)
			a.SetText(text)
			return
		}
		if !link.IsAbs() && base != nil {
			link = base.ResolveReference(link)
		}
		a.SetText(fmt.Sprintf("%s (%s)", text, link))
	})
}

func cleanContent(content string) string {
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
