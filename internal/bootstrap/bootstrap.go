// Package bootstrap assembles the pipeline and its collaborators from a
// loaded configuration. Both binaries share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/xhad/scribe/internal/models"
	"github.com/xhad/scribe/internal/types"
	"github.com/xhad/scribe/pkg/config"
	"github.com/xhad/scribe/pkg/llm"
	"github.com/xhad/scribe/pkg/output"
	"github.com/xhad/scribe/pkg/pipeline"
	"github.com/xhad/scribe/pkg/processor"
	"github.com/xhad/scribe/pkg/prompts"
	"github.com/xhad/scribe/pkg/scraper"
	"github.com/xhad/scribe/pkg/search"
	"github.com/xhad/scribe/pkg/store"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Engine   *llm.ChatEngine
	Pipeline *pipeline.Pipeline
	Writer   *output.Writer
	// Archive is nil when no database is configured.
	Archive *store.PostArchive
}

// New builds every component described by cfg. The caller owns the
// returned App and must Close it.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(validationErrors(errs)...))
	}

	chatConfig := llm.ChatConfig{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.FastModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.SamplingTemperature(),
		MaxTokens:      cfg.LLM.MaxTokens,
		Retry: llm.RetryPolicy{
			Attempts:     cfg.Retry.Attempts,
			InitialDelay: cfg.Retry.InitialDelay,
			ExpBase:      cfg.Retry.ExpBase,
			MaxDelay:     cfg.Retry.MaxDelay,
			StatusCodes:  cfg.Retry.StatusCodes,
		},
		Breaker: llm.BreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     cfg.Breaker.Timeout,
			Interval:    cfg.Breaker.Interval,
		},
	}

	engine, err := llm.NewWithConfig(ctx, chatConfig, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	fetcher, err := scraper.NewWithConfig(scraper.ScraperConfig{
		Timeout:     cfg.Scraper.Timeout,
		RateLimit:   cfg.Scraper.RateLimit,
		Selector:    cfg.Scraper.Selector,
		IgnoreLinks: cfg.Scraper.IgnoreLinks,
		Heavy:       cfg.Scraper.Heavy,
		BrowserURL:  cfg.Scraper.BrowserURL,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	searcher, err := search.New(search.Config{
		Provider:   cfg.Search.Provider,
		APIKey:     cfg.Search.APIKey,
		BaseURL:    cfg.Search.BaseURL,
		Depth:      cfg.Search.Depth,
		MaxResults: cfg.Search.MaxResults,
		RateLimit:  cfg.Search.RateLimit,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize search: %w", err)
	}

	writer, err := output.NewWithConfig(output.WriterConfig{
		Dir:        cfg.Output.Dir,
		BaseURL:    cfg.Output.BaseURL,
		Format:     cfg.Output.Format,
		Author:     cfg.Output.Author,
		Categories: cfg.Output.Categories,
		Image:      cfg.Output.Image,
	})
	if err != nil {
		return nil, err
	}

	promptSet, err := prompts.Load()
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Logger: log,
		Engine: engine,
		Writer: writer,
	}

	textProcessor := processor.NewWithConfig(processor.ProcessorConfig{
		MaxTokens: cfg.Scraper.MaxContentTokens,
	})

	deps := pipeline.Deps{
		LLM:       engine,
		Fetcher:   fetcher,
		Searcher:  searcher,
		Processor: textProcessor,
		Prompts:   promptSet,
	}

	if cfg.Database.URL != "" {
		archive, err := openArchive(ctx, cfg, chatConfig, log)
		if err != nil {
			// Posts can still be written without history.
			log.Warn("post archive disabled", "error", err)
		} else {
			app.Archive = archive
			deps.Archive = archive
		}
	}

	p, err := pipeline.New(pipeline.Config{
		FastModel:    cfg.LLM.FastModel,
		WriterModel:  cfg.LLM.WriterModel,
		MaxQueries:   cfg.Writer.MaxQueries,
		RelatedLimit: cfg.Database.RelatedLimit,
		Logger:       log,
	}, deps)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Pipeline = p

	return app, nil
}

func openArchive(ctx context.Context, cfg *config.Config, chatConfig llm.ChatConfig, log *slog.Logger) (*store.PostArchive, error) {
	embedder, err := llm.NewEmbedderWithConfig(ctx, chatConfig)
	if err != nil {
		return nil, err
	}
	return store.NewWithConfig(ctx, store.ArchiveConfig{
		ConnString:  cfg.Database.URL,
		TableName:   cfg.Database.TableName,
		VectorDim:   cfg.Database.VectorDim,
		SearchLimit: cfg.Database.RelatedLimit,
		Logger:      log,
	}, embedder)
}

// Options builds pipeline options from the writer section of the config,
// letting non-empty arguments override it.
func (a *App) Options(custom, stylePath string, english bool) pipeline.Options {
	if custom == "" {
		custom = a.Config.Writer.CustomInstruction
	}
	if stylePath == "" {
		stylePath = a.Config.Writer.StyleFile
	}
	return pipeline.Options{
		Custom:    custom,
		Style:     LoadStyle(stylePath, a.Logger),
		Translate: english || a.Config.Writer.English,
	}
}

// PreviousPost returns the latest archived post written from source, if an
// archive is configured and has one.
func (a *App) PreviousPost(ctx context.Context, source string) *models.Post {
	if a.Archive == nil {
		return nil
	}
	post, err := a.Archive.FindBySource(ctx, source)
	if err != nil {
		a.Logger.Warn("archive lookup failed", "source", source, "error", err)
		return nil
	}
	return post
}

// Generate runs the pipeline, writes the post to the output directory and
// then archives it. A post that could not be written is never archived.
func (a *App) Generate(ctx context.Context, input string, opts pipeline.Options) (*models.Post, string, error) {
	post, err := a.Pipeline.Run(ctx, input, opts)
	if err != nil {
		return nil, "", err
	}
	path, err := a.Writer.Write(post)
	if err != nil {
		return post, "", err
	}
	post.URL = a.Writer.PostURL(path)
	a.Logger.Info("post saved", "run", post.ID, "path", path)

	// An archive failure only loses history.
	if err := a.Pipeline.Archive(ctx, post, opts.Observer); err != nil {
		a.Logger.Warn("failed to archive post", "run", post.ID, "error", err)
	}
	return post, path, nil
}

func (a *App) Close() {
	if a.Archive != nil {
		a.Archive.Close()
	}
}

// LoadStyle reads a style reference post. A missing or empty file yields ""
// so the writer falls back to its built-in style instructions.
func LoadStyle(path string, log *slog.Logger) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("style reference not found, using default style", "path", path)
		} else {
			log.Warn("failed to read style reference", "path", path, "error", err)
		}
		return ""
	}
	return string(data)
}

func validationErrors(errs []config.ValidationError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

var _ types.Archive = (*store.PostArchive)(nil)
