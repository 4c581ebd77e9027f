package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sony/gobreaker/v2"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/scribe/pkg/logger"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider       string // googleai, ollama or openai
	APIKey         string
	BaseURL        string
	Model          string // used when Generate is called without a model
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int
	Retry          RetryPolicy
	Breaker        BreakerConfig
}

// ChatEngine sends prompts to an LLM provider through the retry policy and
// circuit breaker.
type ChatEngine struct {
	config  ChatConfig
	llm     llms.Model
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewWithConfig builds the provider client described by config.
func NewWithConfig(ctx context.Context, config ChatConfig, log *slog.Logger) (*ChatEngine, error) {
	if err := normalize(&config); err != nil {
		return nil, err
	}

	model, err := newProvider(ctx, config, config.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return newEngine(model, config, log), nil
}

// New wraps an existing langchaingo model. A nil logger discards output.
func New(model llms.Model, config ChatConfig, log *slog.Logger) (*ChatEngine, error) {
	if model == nil {
		return nil, errors.New("llm: model is nil")
	}
	if err := normalize(&config); err != nil {
		return nil, err
	}
	return newEngine(model, config, log), nil
}

func newEngine(model llms.Model, config ChatConfig, log *slog.Logger) *ChatEngine {
	if log == nil {
		log = logger.Discard()
	}
	name := config.Provider
	if name == "" {
		name = "custom"
	}
	return &ChatEngine{
		config:  config,
		llm:     model,
		breaker: newBreaker(name, config.Breaker, log),
		logger:  log,
	}
}

func normalize(config *ChatConfig) error {
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 8192
	}
	if config.Retry.Attempts == 0 {
		config.Retry = DefaultRetryPolicy()
	}
	return nil
}

func newProvider(ctx context.Context, config ChatConfig, model string) (llms.Model, error) {
	switch config.Provider {
	case "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		return ollama.New(ollama.WithModel(model), ollama.WithServerURL(config.BaseURL))
	case "openai":
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithModel(model),
		}
		if config.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(config.EmbeddingModel))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		return openai.New(opts...)
	case "googleai", "":
		opts := []googleai.Option{
			googleai.WithAPIKey(config.APIKey),
			googleai.WithDefaultModel(model),
		}
		if config.EmbeddingModel != "" {
			opts = append(opts, googleai.WithDefaultEmbeddingModel(config.EmbeddingModel))
		}
		return googleai.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}
}

// Generate sends a system instruction and a user message to model and
// returns the text of the first choice.
func (ce *ChatEngine) Generate(ctx context.Context, model, system, user string) (string, error) {
	if model == "" {
		model = ce.config.Model
	}

	var content []llms.MessageContent
	if system != "" {
		content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, system))
	}
	content = append(content, llms.TextParts(schema.ChatMessageTypeHuman, user))

	opts := []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}

	var text string
	attempt := 0
	err := ce.config.Retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		out, err := ce.breaker.Execute(func() (string, error) {
			return ce.generateOnce(ctx, content, opts)
		})
		if err != nil {
			err = breakerError(err)
			ce.logger.Warn("llm call failed",
				"model", model,
				"attempt", attempt,
				"status", StatusFromError(err),
				"error", err,
			)
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}

	ce.logger.Debug("llm call completed", "model", model, "attempts", attempt, "chars", len(text))
	return text, nil
}

func (ce *ChatEngine) generateOnce(ctx context.Context, content []llms.MessageContent, opts []llms.CallOption) (string, error) {
	resp, err := ce.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", errors.New("no response from LLM")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// State reports the circuit breaker state for status endpoints.
func (ce *ChatEngine) State() string {
	return ce.breaker.State().String()
}
