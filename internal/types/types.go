package types

import (
	"context"

	"github.com/xhad/scribe/internal/models"
)

// Core interfaces
type Fetcher interface {
	Fetch(ctx context.Context, target string) (*models.Document, error)
}

type Generator interface {
	Generate(ctx context.Context, model, system, user string) (string, error)
}

type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type Archive interface {
	Related(ctx context.Context, text string, limit int) ([]models.RelatedPost, error)
	Save(ctx context.Context, post *models.Post) error
}

type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
	Name() string
}

// TextProcessor normalizes fetched text and fits it to the prompt budget.
type TextProcessor interface {
	Process(text string) string
}
