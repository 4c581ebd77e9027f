package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	llmProviders    = []string{"googleai", "ollama", "openai"}
	searchProviders = []string{"duckduckgo", "brave", "tavily", "searxng"}
	outputFormats   = []string{"qmd", "md"}
)

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if !oneOf(c.LLM.Provider, llmProviders) {
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q (want one of %s)", c.LLM.Provider, strings.Join(llmProviders, ", ")),
		})
	}

	if c.LLM.Provider == "ollama" && c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid base URL",
			})
		}
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 65536 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 65536",
		})
	}

	if t := c.LLM.SamplingTemperature(); t < 0 || t > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Validate retry policy
	if c.Retry.Attempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.attempts",
			Message: "attempts must be positive",
		})
	}

	if c.Retry.ExpBase < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.exp_base",
			Message: "exp_base must be at least 1",
		})
	}

	for _, code := range c.Retry.StatusCodes {
		if code < 100 || code > 599 {
			errors = append(errors, ValidationError{
				Field:   "retry.status_codes",
				Message: fmt.Sprintf("invalid HTTP status code: %d", code),
			})
		}
	}

	// Validate search config
	if !oneOf(c.Search.Provider, searchProviders) {
		errors = append(errors, ValidationError{
			Field:   "search.provider",
			Message: fmt.Sprintf("unknown provider %q (want one of %s)", c.Search.Provider, strings.Join(searchProviders, ", ")),
		})
	}

	if (c.Search.Provider == "brave" || c.Search.Provider == "tavily") && c.Search.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "search.api_key",
			Message: fmt.Sprintf("%s search requires an API key", c.Search.Provider),
		})
	}

	if c.Search.Provider == "searxng" && c.Search.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "search.base_url",
			Message: "searxng search requires an instance URL",
		})
	}

	if c.Search.MaxResults < 1 {
		errors = append(errors, ValidationError{
			Field:   "search.max_results",
			Message: "max_results must be positive",
		})
	}

	if c.Search.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "search.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate Scraper config
	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Scraper.MaxContentTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "scraper.max_content_tokens",
			Message: "max_content_tokens must be positive",
		})
	}

	// Validate writer and output
	if c.Writer.MaxQueries < 1 || c.Writer.MaxQueries > 3 {
		errors = append(errors, ValidationError{
			Field:   "writer.max_queries",
			Message: "max_queries must be between 1 and 3",
		})
	}

	if !oneOf(c.Output.Format, outputFormats) {
		errors = append(errors, ValidationError{
			Field:   "output.format",
			Message: fmt.Sprintf("unknown format %q (want qmd or md)", c.Output.Format),
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	return errors
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}
