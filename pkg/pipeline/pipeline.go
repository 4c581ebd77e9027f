// Package pipeline turns a URL into a finished blog post: resolve, fetch,
// generate queries, search and summarize in parallel, compose, then enhance
// links and describe in parallel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/xhad/scribe/internal/models"
	"github.com/xhad/scribe/internal/types"
	"github.com/xhad/scribe/pkg/logger"
	"github.com/xhad/scribe/pkg/prompts"
	"github.com/xhad/scribe/pkg/session"
	"github.com/xhad/scribe/pkg/tracer"
)

// SearchSlots is the fixed number of parallel search branches.
const SearchSlots = 3

type Config struct {
	FastModel    string // url resolution, queries, summaries, description
	WriterModel  string // compose, link enhancement, translation
	MaxQueries   int
	RelatedLimit int
	Logger       *slog.Logger
}

// Deps are the collaborators a pipeline calls out to. Archive is optional.
type Deps struct {
	LLM       types.Generator
	Fetcher   types.Fetcher
	Searcher  types.Searcher
	Processor types.TextProcessor
	Archive   types.Archive
	Prompts   *prompts.Set
}

type Options struct {
	Custom    string // extra writer instruction
	Style     string // style reference post
	Translate bool   // translate post and description into English
	Observer  Observer
}

type Pipeline struct {
	config Config
	deps   Deps
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

func New(config Config, deps Deps) (*Pipeline, error) {
	if deps.LLM == nil || deps.Fetcher == nil || deps.Searcher == nil {
		return nil, errors.New("pipeline: LLM, fetcher and searcher are required")
	}
	if deps.Processor == nil {
		return nil, errors.New("pipeline: text processor is required")
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.MustLoad()
	}
	if config.MaxQueries <= 0 || config.MaxQueries > SearchSlots {
		config.MaxQueries = SearchSlots
	}
	if config.RelatedLimit <= 0 {
		config.RelatedLimit = 3
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}

	return &Pipeline{
		config: config,
		deps:   deps,
		logger: config.Logger,
		newID:  func() string { return ulid.Make().String() },
		now:    time.Now,
	}, nil
}

// run carries the per-invocation state through the stages. Text handed
// from one stage to the next lives in state; summary keeps where each
// summary came from.
type run struct {
	*Pipeline
	id      string
	opts    Options
	state   *session.State
	summary []models.Summary
	related []models.RelatedPost
}

type step struct {
	stage Stage
	fn    func(context.Context) error
}

// Run executes every stage for input, which may be a URL, free text
// containing a URL, or a local file path.
func (p *Pipeline) Run(ctx context.Context, input string, opts Options) (*models.Post, error) {
	r := &run{
		Pipeline: p,
		id:       p.newID(),
		opts:     opts,
		state:    session.New(),
	}

	ctx, span := tracer.StartSpan(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("run.id", r.id))

	log := p.logger.With("run", r.id)
	log.Info("starting run", "input", input)
	started := p.now()

	stages := []step{
		{StageResolve, func(ctx context.Context) error { return r.resolve(ctx, input) }},
		{StageFetch, r.fetch},
		{StageQueries, r.generateQueries},
		{StageSearch, r.searchAndSummarize},
		{StageCompose, r.compose},
		{StageFinalize, r.finalize},
	}
	if opts.Translate {
		stages = append(stages, step{StageTranslate, r.translate})
	}

	for _, s := range stages {
		if err := r.stage(ctx, s.stage, s.fn); err != nil {
			tracer.RecordError(span, err)
			log.Debug("run state at failure", "stage", s.stage, "state", stateSizes(r.state.Snapshot()))
			return nil, err
		}
	}

	post := r.post()
	span.SetAttributes(
		tracer.IntAttr("post.queries", len(post.Queries)),
		tracer.IntAttr("post.chars", len(post.Body)),
	)
	tracer.SetOK(span)
	log.Info("run finished", "title", post.Title, "elapsed", p.now().Sub(started))
	return post, nil
}

// Archive records a post that has been written so later runs can link to
// it. It does nothing when no archive is configured.
func (p *Pipeline) Archive(ctx context.Context, post *models.Post, observer Observer) error {
	if p.deps.Archive == nil {
		return nil
	}
	r := &run{Pipeline: p, id: post.ID, opts: Options{Observer: observer}}
	return r.stage(ctx, StageArchive, func(ctx context.Context) error {
		return p.deps.Archive.Save(ctx, post)
	})
}

func (r *run) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := tracer.StartSpan(ctx, "pipeline."+string(stage))
	defer span.End()

	start := r.now()
	r.emit(Event{Stage: stage, Kind: EventStarted})
	r.logger.Debug("stage started", "run", r.id, "stage", stage)

	if err := fn(ctx); err != nil {
		err = fmt.Errorf("%s: %w", stage, err)
		tracer.RecordError(span, err)
		r.emit(Event{Stage: stage, Kind: EventFailed, Err: err, Elapsed: r.now().Sub(start)})
		return err
	}

	tracer.SetOK(span)
	elapsed := r.now().Sub(start)
	r.emit(Event{Stage: stage, Kind: EventFinished, Elapsed: elapsed})
	r.logger.Info("stage finished", "run", r.id, "stage", stage, "elapsed", elapsed)
	return nil
}

// stateSizes maps each state key to the length of its value.
func stateSizes(values map[string]string) map[string]int {
	sizes := make(map[string]int, len(values))
	for k, v := range values {
		sizes[k] = len(v)
	}
	return sizes
}

func (r *run) emit(e Event) {
	if r.opts.Observer == nil {
		return
	}
	e.RunID = r.id
	r.opts.Observer(e)
}

func (r *run) post() *models.Post {
	body, _ := r.state.Get(session.FinalBlogPost)
	description, _ := r.state.Get(session.BlogDescription)
	if r.opts.Translate {
		body, _ = r.state.Get(session.TranslatedBlogPost)
		description, _ = r.state.Get(session.TranslatedDescription)
	}
	source, _ := r.state.Get(session.OriginalURL)

	title, _ := models.SplitTitle(body)
	return &models.Post{
		ID:          r.id,
		SourceURL:   source,
		Title:       title,
		Body:        strings.TrimSpace(body),
		Description: strings.TrimSpace(description),
		Queries:     r.queries(),
		Summaries:   r.summaries(),
		Related:     r.related,
		Translated:  r.opts.Translate,
		CreatedAt:   r.now(),
	}
}
