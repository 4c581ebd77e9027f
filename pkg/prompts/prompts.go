// Package prompts renders the instruction text sent with each LLM call.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/xhad/scribe/internal/models"
	"github.com/xhad/scribe/internal/types"
)

//go:embed templates/*.tmpl
var bundled embed.FS

const (
	URLStorage      = "url_storage.tmpl"
	QueryGenerator  = "query_generator.tmpl"
	SearchSummarize = "search_summarize.tmpl"
	BlogWriter      = "blog_writer.tmpl"
	LinkEnhancer    = "link_enhancer.tmpl"
	Description     = "description.tmpl"
	Translator      = "translator.tmpl"
)

var funcs = template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"join": strings.Join,
}

type QueryData struct {
	Content    string
	MaxQueries int
}

type SearchData struct {
	Index   int
	Query   string
	Content string
	Results []types.SearchResult
}

type WriterData struct {
	Content   string
	Summaries []models.Summary
	Style     string // style reference post; empty selects the built-in style guide
	Custom    string
}

type LinkData struct {
	Post        string
	OriginalURL string
	Summaries   []models.Summary
	Related     []models.RelatedPost
}

type DescriptionData struct {
	Post string
}

type TranslatorData struct {
	Kind string // "blog post" or "description"
	Text string
}

// Set is the parsed prompt collection.
type Set struct {
	tmpl *template.Template
}

// Load parses the bundled templates.
func Load() (*Set, error) {
	tmpl, err := template.New("prompts").Funcs(funcs).ParseFS(bundled, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}
	return &Set{tmpl: tmpl}, nil
}

// MustLoad is Load for package initialisation; the templates are compiled in,
// so a failure is a programming error.
func MustLoad() *Set {
	s, err := Load()
	if err != nil {
		panic(err)
	}
	return s
}

// Render executes the named template with data.
func (s *Set) Render(name string, data any) (string, error) {
	var b strings.Builder
	if err := s.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func (s *Set) URLStorage() (string, error) {
	return s.Render(URLStorage, nil)
}

func (s *Set) QueryGenerator(data QueryData) (string, error) {
	if data.MaxQueries <= 0 {
		data.MaxQueries = 3
	}
	return s.Render(QueryGenerator, data)
}

func (s *Set) SearchSummarize(data SearchData) (string, error) {
	return s.Render(SearchSummarize, data)
}

func (s *Set) BlogWriter(data WriterData) (string, error) {
	data.Style = strings.TrimSpace(data.Style)
	data.Custom = strings.TrimSpace(data.Custom)
	return s.Render(BlogWriter, data)
}

func (s *Set) LinkEnhancer(data LinkData) (string, error) {
	return s.Render(LinkEnhancer, data)
}

func (s *Set) Description(data DescriptionData) (string, error) {
	return s.Render(Description, data)
}

func (s *Set) Translator(data TranslatorData) (string, error) {
	return s.Render(Translator, data)
}
