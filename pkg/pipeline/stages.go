package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xhad/scribe/internal/models"
	"github.com/xhad/scribe/pkg/prompts"
	"github.com/xhad/scribe/pkg/session"
)

var (
	reURL         = regexp.MustCompile(`https?://[^\s<>"'\x60]+`)
	reOriginalURL = regexp.MustCompile(`(?i)ORIGINAL_URL:\s*(\S+)\s*$`)
	reNumbered    = regexp.MustCompile(`^(?:\d+[.)]|[-*•])\s+`)
	reQueryLabel  = regexp.MustCompile(`(?i)^(?:search\s+)?query\s*\d*\s*:\s*`)
)

// resolve stores the target URL. A URL already present in the input, or a
// local file path, skips the LLM call.
func (r *run) resolve(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return errors.New("no URL given")
	}

	if isLocalPath(input) {
		r.state.Set(session.OriginalURL, input)
		return nil
	}

	target := extractURL(input)
	if target == "" {
		system, err := r.deps.Prompts.URLStorage()
		if err != nil {
			return err
		}
		out, err := r.deps.LLM.Generate(ctx, r.config.FastModel, system,
			"Fetch content from this URL and write a blog post: "+input)
		if err != nil {
			return err
		}
		target = parseOriginalURL(out)
	}

	if err := validateURL(target); err != nil {
		return err
	}
	r.state.Set(session.OriginalURL, target)
	return nil
}

func (r *run) fetch(ctx context.Context) error {
	target, err := r.state.MustGet(session.OriginalURL)
	if err != nil {
		return err
	}

	doc, err := r.deps.Fetcher.Fetch(ctx, target)
	if err != nil {
		return err
	}

	content := r.deps.Processor.Process(doc.Content)
	if content == "" {
		return fmt.Errorf("no content found at %s", target)
	}
	if doc.Title != "" && !strings.Contains(content, doc.Title) {
		content = doc.Title + "\n\n" + content
	}

	r.state.Set(session.URLContent, content)
	r.logger.Debug("fetched content", "run", r.id, "url", target, "chars", len(content))
	return nil
}

func (r *run) generateQueries(ctx context.Context) error {
	content, err := r.state.MustGet(session.URLContent)
	if err != nil {
		return err
	}

	system, err := r.deps.Prompts.QueryGenerator(prompts.QueryData{
		Content:    content,
		MaxQueries: r.config.MaxQueries,
	})
	if err != nil {
		return err
	}

	out, err := r.deps.LLM.Generate(ctx, r.config.FastModel, system, "Generate the search queries now.")
	if err != nil {
		return err
	}

	queries := ParseQueries(out, r.config.MaxQueries)
	var b strings.Builder
	for i, q := range queries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	r.state.Set(session.SearchQueries, strings.TrimSpace(b.String()))
	r.logger.Info("generated queries", "run", r.id, "queries", queries)
	return nil
}

// queries returns the numbered list stored by generateQueries.
func (r *run) queries() []string {
	listed, ok := r.state.Get(session.SearchQueries)
	if !ok || listed == "" {
		return nil
	}
	return ParseQueries(listed, r.config.MaxQueries)
}

// summaries returns the search summaries with their text read back from
// the summary_N keys.
func (r *run) summaries() []models.Summary {
	out := make([]models.Summary, len(r.summary))
	for i, s := range r.summary {
		if text, ok := r.state.Get(session.SummaryKey(s.Index)); ok {
			s.Text = text
		}
		out[i] = s
	}
	return out
}

// searchAndSummarize runs one branch per query slot. Every slot produces a
// summary; only LLM failures abort the stage.
func (r *run) searchAndSummarize(ctx context.Context) error {
	content, err := r.state.MustGet(session.URLContent)
	if err != nil {
		return err
	}

	queries := r.queries()
	summaries := make([]models.Summary, SearchSlots)
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= SearchSlots; i++ {
		i := i
		g.Go(func() error {
			s, err := r.summarizeSlot(gctx, i, queries, content)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			summaries[i-1] = s
			r.state.Set(session.SummaryKey(i), s.Text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.summary = summaries
	return nil
}

func (r *run) summarizeSlot(ctx context.Context, i int, queries []string, content string) (models.Summary, error) {
	if i > len(queries) {
		return models.Summary{
			Index:   i,
			Text:    fmt.Sprintf("No query %d available. Skipping this search.", i),
			Skipped: true,
		}, nil
	}

	query := queries[i-1]
	noResults := models.Summary{
		Index:   i,
		Query:   query,
		Text:    fmt.Sprintf("No relevant information found for query %d.", i),
		Skipped: true,
	}

	results, err := r.deps.Searcher.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return models.Summary{}, ctx.Err()
		}
		r.logger.Warn("search failed", "run", r.id, "provider", r.deps.Searcher.Name(), "query", query, "error", err)
		return noResults, nil
	}
	if len(results) == 0 {
		return noResults, nil
	}

	system, err := r.deps.Prompts.SearchSummarize(prompts.SearchData{
		Index:   i,
		Query:   query,
		Content: content,
		Results: results,
	})
	if err != nil {
		return models.Summary{}, err
	}

	text, err := r.deps.LLM.Generate(ctx, r.config.FastModel, system, "Summarize the search results now.")
	if err != nil {
		return models.Summary{}, err
	}

	sources := make([]string, 0, len(results))
	for _, res := range results {
		if res.URL != "" {
			sources = append(sources, res.URL)
		}
	}
	return models.Summary{Index: i, Query: query, Text: text, Sources: sources}, nil
}

func (r *run) compose(ctx context.Context) error {
	content, err := r.state.MustGet(session.URLContent)
	if err != nil {
		return err
	}

	system, err := r.deps.Prompts.BlogWriter(prompts.WriterData{
		Content:   content,
		Summaries: r.summaries(),
		Style:     r.opts.Style,
		Custom:    r.opts.Custom,
	})
	if err != nil {
		return err
	}

	draft, err := r.deps.LLM.Generate(ctx, r.config.WriterModel, system, "Write the blog post now.")
	if err != nil {
		return err
	}
	if strings.TrimSpace(draft) == "" {
		return errors.New("writer returned an empty post")
	}

	r.state.Set(session.FinalBlogPost, draft)
	return nil
}

// finalize enhances links and writes the description concurrently from the
// same draft.
func (r *run) finalize(ctx context.Context) error {
	draft, err := r.state.MustGet(session.FinalBlogPost)
	if err != nil {
		return err
	}
	original, err := r.state.MustGet(session.OriginalURL)
	if err != nil {
		return err
	}

	r.related = r.lookupRelated(ctx, draft)

	linkPrompt, err := r.deps.Prompts.LinkEnhancer(prompts.LinkData{
		Post:        draft,
		OriginalURL: original,
		Summaries:   r.summaries(),
		Related:     r.related,
	})
	if err != nil {
		return err
	}
	descPrompt, err := r.deps.Prompts.Description(prompts.DescriptionData{Post: draft})
	if err != nil {
		return err
	}

	var enhanced, description string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := r.deps.LLM.Generate(gctx, r.config.WriterModel, linkPrompt, "Add the links now.")
		if err != nil {
			return fmt.Errorf("link enhancer: %w", err)
		}
		enhanced = out
		return nil
	})
	g.Go(func() error {
		out, err := r.deps.LLM.Generate(gctx, r.config.FastModel, descPrompt, "Write the description now.")
		if err != nil {
			return fmt.Errorf("description: %w", err)
		}
		description = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if strings.TrimSpace(enhanced) == "" {
		r.logger.Warn("link enhancer returned nothing, keeping draft", "run", r.id)
		enhanced = draft
	}
	r.state.Set(session.FinalBlogPost, enhanced)
	r.state.Set(session.BlogDescription, strings.TrimSpace(description))
	return nil
}

func (r *run) lookupRelated(ctx context.Context, draft string) []models.RelatedPost {
	if r.deps.Archive == nil {
		return nil
	}
	title, _ := models.SplitTitle(draft)
	if title == "" {
		title = draft
	}
	related, err := r.deps.Archive.Related(ctx, title, r.config.RelatedLimit)
	if err != nil {
		r.logger.Warn("related post lookup failed", "run", r.id, "error", err)
		return nil
	}
	return related
}

// translate renders the post and description in English in parallel.
func (r *run) translate(ctx context.Context) error {
	post, err := r.state.MustGet(session.FinalBlogPost)
	if err != nil {
		return err
	}
	description, _ := r.state.Get(session.BlogDescription)

	var translatedPost, translatedDesc string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := r.translateText(gctx, r.config.WriterModel, "blog post", post)
		translatedPost = out
		return err
	})
	g.Go(func() error {
		if description == "" {
			return nil
		}
		out, err := r.translateText(gctx, r.config.FastModel, "description", description)
		translatedDesc = out
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if strings.TrimSpace(translatedPost) == "" {
		translatedPost = post
	}
	if strings.TrimSpace(translatedDesc) == "" {
		translatedDesc = description
	}
	r.state.Set(session.TranslatedBlogPost, translatedPost)
	r.state.Set(session.TranslatedDescription, strings.TrimSpace(translatedDesc))
	return nil
}

func (r *run) translateText(ctx context.Context, model, kind, text string) (string, error) {
	system, err := r.deps.Prompts.Translator(prompts.TranslatorData{Kind: kind, Text: text})
	if err != nil {
		return "", err
	}
	out, err := r.deps.LLM.Generate(ctx, model, system, "Translate now.")
	if err != nil {
		return "", fmt.Errorf("translate %s: %w", kind, err)
	}
	return out, nil
}

// ParseQueries extracts at most limit search queries from an LLM response.
// Numbered or bulleted lines are preferred; otherwise every non-empty line
// is a query.
func ParseQueries(text string, limit int) []string {
	if limit <= 0 || limit > SearchSlots {
		limit = SearchSlots
	}

	var numbered, plain []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		isListItem := reNumbered.MatchString(line)
		line = reNumbered.ReplaceAllString(line, "")
		line = reQueryLabel.ReplaceAllString(line, "")
		line = strings.Trim(line, "*\"'` ")
		if line == "" {
			continue
		}
		if isListItem {
			numbered = append(numbered, line)
		} else if !strings.HasSuffix(line, ":") {
			plain = append(plain, line)
		}
	}

	candidates := plain
	if len(numbered) > 0 {
		candidates = numbered
	}

	seen := make(map[string]bool)
	var queries []string
	for _, q := range candidates {
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, q)
		if len(queries) == limit {
			break
		}
	}
	return queries
}

func extractURL(input string) string {
	return trimURL(reURL.FindString(input))
}

var closers = map[byte]byte{')': '(', ']': '[', '}': '{'}

// trimURL drops trailing punctuation picked up from prose. A closing
// bracket is kept while the URL holds a matching opener.
func trimURL(u string) string {
	for u != "" {
		last := u[len(u)-1]
		if strings.IndexByte(".,;:!?", last) >= 0 {
			u = u[:len(u)-1]
			continue
		}
		open, ok := closers[last]
		if ok && strings.Count(u, string(last)) > strings.Count(u, string(open)) {
			u = u[:len(u)-1]
			continue
		}
		break
	}
	return u
}

func parseOriginalURL(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if m := reOriginalURL.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			u := strings.TrimLeft(strings.Trim(m[1], `"'<>`), "[")
			return trimURL(u)
		}
	}
	return extractURL(out)
}

func validateURL(target string) error {
	if target == "" {
		return errors.New("malformed URL: no URL found in input")
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("malformed URL %q: %w", target, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("malformed URL %q", target)
	}
	return nil
}

func isLocalPath(input string) bool {
	if strings.HasPrefix(input, "file://") {
		return true
	}
	if strings.ContainsAny(input, "\n") || strings.Contains(input, "://") {
		return false
	}
	info, err := os.Stat(input)
	return err == nil && !info.IsDir()
}
