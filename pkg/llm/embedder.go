package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/xhad/scribe/internal/types"
)

// Embedder turns text into vectors with the provider's embedding model.
type Embedder struct {
	Config ChatConfig
	Embed  types.Embedder
}

// NewEmbedderWithConfig builds an embedding client for config.Provider using
// config.EmbeddingModel.
func NewEmbedderWithConfig(ctx context.Context, config ChatConfig) (*Embedder, error) {
	if config.EmbeddingModel == "" {
		return nil, errors.New("llm: embedding model is required")
	}

	model := config.Model
	if config.Provider == "ollama" {
		// Ollama embeds with whatever model the client was created for.
		model = config.EmbeddingModel
	}

	provider, err := newProvider(ctx, config, model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	emb, ok := provider.(types.Embedder)
	if !ok {
		return nil, fmt.Errorf("provider %q cannot create embeddings", config.Provider)
	}

	return &Embedder{Config: config, Embed: emb}, nil
}

// EmbedText returns the embedding of a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("embedding response is empty")
	}
	return vectors[0], nil
}
