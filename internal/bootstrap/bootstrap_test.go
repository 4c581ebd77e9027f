package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/scribe/internal/models"
	"github.com/xhad/scribe/internal/types"
	"github.com/xhad/scribe/pkg/config"
	"github.com/xhad/scribe/pkg/logger"
	"github.com/xhad/scribe/pkg/output"
	"github.com/xhad/scribe/pkg/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		LLM: config.LLMConfig{Provider: "ollama", BaseURL: "http://localhost:11434"},
	}
	cfg.Refresh()
	cfg.Database.URL = ""
	cfg.Output.Dir = t.TempDir()
	return cfg
}

func TestNewBuildsPipeline(t *testing.T) {
	app, err := New(context.Background(), testConfig(t), logger.Discard())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Pipeline)
	assert.NotNil(t, app.Writer)
	assert.Nil(t, app.Archive)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.Provider = "altavista"

	_, err := New(context.Background(), cfg, logger.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.provider")
}

func TestLoadStyle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "style.md")
	require.NoError(t, os.WriteFile(path, []byte("# Example\n\nShort sentences."), 0o644))

	assert.Equal(t, "# Example\n\nShort sentences.", LoadStyle(path, logger.Discard()))
	assert.Empty(t, LoadStyle(filepath.Join(dir, "missing.md"), logger.Discard()))
	assert.Empty(t, LoadStyle("", logger.Discard()))
}

func TestOptionsPrefersArguments(t *testing.T) {
	cfg := testConfig(t)
	cfg.Writer.CustomInstruction = "from config"
	cfg.Writer.StyleFile = filepath.Join(t.TempDir(), "none.md")

	app := &App{Config: cfg, Logger: logger.Discard()}

	opts := app.Options("", "", false)
	assert.Equal(t, "from config", opts.Custom)
	assert.Empty(t, opts.Style)
	assert.False(t, opts.Translate)

	opts = app.Options("from flag", "", true)
	assert.Equal(t, "from flag", opts.Custom)
	assert.True(t, opts.Translate)
}

func TestPreviousPostWithoutArchive(t *testing.T) {
	app := &App{Logger: logger.Discard()}
	assert.Nil(t, app.PreviousPost(context.Background(), "https://example.com"))
}

type cannedLLM struct{}

func (cannedLLM) Generate(ctx context.Context, model, system, user string) (string, error) {
	if strings.Contains(system, "search query generator") {
		return "1. go generics", nil
	}
	return "# Generics\n\nBody.", nil
}

type staticFetcher struct{}

func (staticFetcher) Fetch(ctx context.Context, target string) (*models.Document, error) {
	return &models.Document{URL: target, Title: "Generics", Content: "Go 1.18 added generics."}, nil
}

type emptySearcher struct{}

func (emptySearcher) Name() string { return "empty" }

func (emptySearcher) Search(ctx context.Context, query string) ([]types.SearchResult, error) {
	return nil, nil
}

type passProcessor struct{}

func (passProcessor) Process(text string) string { return text }

type recordingArchive struct{ saved []*models.Post }

func (a *recordingArchive) Related(ctx context.Context, text string, limit int) ([]models.RelatedPost, error) {
	return nil, nil
}

func (a *recordingArchive) Save(ctx context.Context, post *models.Post) error {
	a.saved = append(a.saved, post)
	return nil
}

func newGenerateApp(t *testing.T, writerConfig output.WriterConfig, archive types.Archive) *App {
	t.Helper()
	p, err := pipeline.New(pipeline.Config{}, pipeline.Deps{
		LLM:       cannedLLM{},
		Fetcher:   staticFetcher{},
		Searcher:  emptySearcher{},
		Processor: passProcessor{},
		Archive:   archive,
	})
	require.NoError(t, err)
	w, err := output.NewWithConfig(writerConfig)
	require.NoError(t, err)
	return &App{Logger: logger.Discard(), Pipeline: p, Writer: w}
}

func TestGenerateArchivesWrittenPost(t *testing.T) {
	archive := &recordingArchive{}
	app := newGenerateApp(t, output.WriterConfig{Dir: t.TempDir(), Format: output.FormatMD, BaseURL: "https://blog.example/"}, archive)

	var stages []pipeline.Stage
	opts := pipeline.Options{Observer: func(e pipeline.Event) { stages = append(stages, e.Stage) }}
	post, path, err := app.Generate(context.Background(), "https://example.com/generics", opts)
	require.NoError(t, err)
	require.FileExists(t, path)

	require.Len(t, archive.saved, 1)
	assert.Same(t, post, archive.saved[0])
	name := strings.TrimSuffix(filepath.Base(path), ".md")
	assert.Equal(t, "https://blog.example/"+name+".html", archive.saved[0].URL)
	assert.Equal(t, pipeline.StageArchive, stages[len(stages)-1])
}

func TestGenerateSkipsArchiveWhenWriteFails(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	archive := &recordingArchive{}
	app := newGenerateApp(t, output.WriterConfig{Dir: filepath.Join(blocker, "posts")}, archive)

	post, path, err := app.Generate(context.Background(), "https://example.com/generics", pipeline.Options{})
	require.Error(t, err)
	assert.NotNil(t, post)
	assert.Empty(t, path)
	assert.Empty(t, archive.saved)
}
