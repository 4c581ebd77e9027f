package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider       string   `yaml:"provider"`
	APIKey         string   `yaml:"api_key"`
	BaseURL        string   `yaml:"base_url"`
	FastModel      string   `yaml:"fast_model"`
	WriterModel    string   `yaml:"writer_model"`
	EmbeddingModel string   `yaml:"embedding_model"`
	MaxTokens      int      `yaml:"max_tokens"`
	Temperature    *float64 `yaml:"temperature"` // nil means DefaultTemperature
}

const DefaultTemperature = 0.7

// SamplingTemperature returns the configured temperature. An explicit 0 is
// kept.
func (c LLMConfig) SamplingTemperature() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

type RetryConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	ExpBase      float64       `yaml:"exp_base"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	StatusCodes  []int         `yaml:"status_codes"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

type SearchConfig struct {
	Provider   string  `yaml:"provider"`
	APIKey     string  `yaml:"api_key"`
	BaseURL    string  `yaml:"base_url"`
	Depth      string  `yaml:"depth"`
	MaxResults int     `yaml:"max_results"`
	RateLimit  float64 `yaml:"rate_limit"`
}

type ScraperConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	RateLimit        float64       `yaml:"rate_limit"`
	Selector         string        `yaml:"selector"`
	IgnoreLinks      bool          `yaml:"ignore_links"`
	Heavy            bool          `yaml:"heavy"`
	BrowserURL       string        `yaml:"browser_url"`
	MaxContentTokens int           `yaml:"max_content_tokens"`
}

type WriterConfig struct {
	StyleFile         string `yaml:"style_file"`
	CustomInstruction string `yaml:"custom_instruction"`
	English           bool   `yaml:"english"`
	MaxQueries        int    `yaml:"max_queries"`
}

type OutputConfig struct {
	Dir        string   `yaml:"dir"`
	BaseURL    string   `yaml:"base_url"`
	Format     string   `yaml:"format"`
	Author     string   `yaml:"author"`
	Categories []string `yaml:"categories"`
	Image      string   `yaml:"image"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	TableName    string `yaml:"table_name"`
	VectorDim    int    `yaml:"vector_dim"`
	RelatedLimit int    `yaml:"related_limit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Search   SearchConfig   `yaml:"search"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Writer   WriterConfig   `yaml:"writer"`
	Output   OutputConfig   `yaml:"output"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Server   ServerConfig   `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/scribe/config.yaml"),
			"/etc/scribe/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "googleai"
	}
	if config.LLM.FastModel == "" {
		switch config.LLM.Provider {
		case "ollama":
			config.LLM.FastModel = "mistral"
		case "openai":
			config.LLM.FastModel = "gpt-4o-mini"
		default:
			config.LLM.FastModel = "gemini-2.5-flash-lite"
		}
	}
	if config.LLM.WriterModel == "" {
		switch config.LLM.Provider {
		case "ollama":
			config.LLM.WriterModel = config.LLM.FastModel
		case "openai":
			config.LLM.WriterModel = "gpt-4o"
		default:
			config.LLM.WriterModel = "gemini-3-pro-preview"
		}
	}
	if config.LLM.EmbeddingModel == "" {
		switch config.LLM.Provider {
		case "ollama":
			config.LLM.EmbeddingModel = "nomic-embed-text:latest"
		case "openai":
			config.LLM.EmbeddingModel = "text-embedding-3-small"
		default:
			config.LLM.EmbeddingModel = "text-embedding-004"
		}
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 8192
	}
	if config.LLM.Temperature == nil {
		t := DefaultTemperature
		config.LLM.Temperature = &t
	}

	if config.Retry.Attempts == 0 {
		config.Retry.Attempts = 5
	}
	if config.Retry.InitialDelay == 0 {
		config.Retry.InitialDelay = time.Second
	}
	if config.Retry.ExpBase == 0 {
		config.Retry.ExpBase = 7
	}
	if config.Retry.MaxDelay == 0 {
		config.Retry.MaxDelay = 60 * time.Second
	}
	if len(config.Retry.StatusCodes) == 0 {
		config.Retry.StatusCodes = []int{429, 500, 503, 504}
	}

	if config.Breaker.MaxFailures == 0 {
		config.Breaker.MaxFailures = 10
	}
	if config.Breaker.Timeout == 0 {
		config.Breaker.Timeout = 30 * time.Second
	}
	if config.Breaker.Interval == 0 {
		config.Breaker.Interval = 60 * time.Second
	}

	if config.Search.Provider == "" {
		config.Search.Provider = "duckduckgo"
	}
	if config.Search.Depth == "" {
		config.Search.Depth = "basic"
	}
	if config.Search.MaxResults == 0 {
		config.Search.MaxResults = 5
	}
	if config.Search.RateLimit == 0 {
		config.Search.RateLimit = 1.0
	}

	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.MaxContentTokens == 0 {
		config.Scraper.MaxContentTokens = 30000
	}

	if config.Writer.StyleFile == "" {
		config.Writer.StyleFile = "style_reference.md"
	}
	if config.Writer.MaxQueries == 0 {
		config.Writer.MaxQueries = 3
	}

	if config.Output.Dir == "" {
		config.Output.Dir = "output"
	}
	if config.Output.Format == "" {
		config.Output.Format = "qmd"
	}
	if len(config.Output.Categories) == 0 {
		config.Output.Categories = []string{"LLM", "AI", "Podcast"}
	}
	if config.Output.Image == "" {
		config.Output.Image = "https://picsum.photos/id/92/200"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "posts"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = embeddingDim(config.LLM.Provider, config.LLM.EmbeddingModel)
	}
	if config.Database.RelatedLimit == 0 {
		config.Database.RelatedLimit = 3
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stderr"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

// embeddingDims lists the vector sizes of common embedding models.
var embeddingDims = map[string]int{
	"text-embedding-004":      768,
	"nomic-embed-text":        768,
	"nomic-embed-text:latest": 768,
	"mxbai-embed-large":       1024,
	"text-embedding-3-small":  1536,
	"text-embedding-3-large":  3072,
	"text-embedding-ada-002":  1536,
}

func embeddingDim(provider, model string) int {
	if dim, ok := embeddingDims[model]; ok {
		return dim
	}
	if provider == "openai" {
		return 1536
	}
	return 768
}

func mergeWithEnv(config *Config) {
	if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" && config.LLM.APIKey == "" {
		if config.LLM.Provider == "" || config.LLM.Provider == "googleai" {
			config.LLM.APIKey = apiKey
		}
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.LLM.APIKey == "" && config.LLM.Provider == "openai" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if config.Search.APIKey == "" {
		switch config.Search.Provider {
		case "brave":
			config.Search.APIKey = os.Getenv("BRAVE_API_KEY")
		case "tavily":
			config.Search.APIKey = os.Getenv("TAVILY_API_KEY")
		}
	}
	if searxURL := os.Getenv("SEARXNG_URL"); searxURL != "" && config.Search.BaseURL == "" {
		config.Search.BaseURL = searxURL
	}
}

// Refresh re-reads provider-dependent environment variables and defaults
// after command line flags changed the provider selection.
func (c *Config) Refresh() {
	mergeWithEnv(c)
	applyDefaults(c)
}

// SetLLMProvider switches the LLM provider and drops the model defaults
// that belonged to the previous one.
func (c *Config) SetLLMProvider(provider string) {
	if provider == "" || provider == c.LLM.Provider {
		return
	}
	c.LLM.Provider = provider
	c.LLM.FastModel = ""
	c.LLM.WriterModel = ""
	c.LLM.EmbeddingModel = ""
	c.Database.VectorDim = 0
	c.LLM.BaseURL = ""
	c.LLM.APIKey = ""
	c.Refresh()
}

// SetSearchProvider switches the search backend.
func (c *Config) SetSearchProvider(provider string) {
	if provider == "" || provider == c.Search.Provider {
		return
	}
	c.Search.Provider = provider
	c.Search.APIKey = ""
	c.Refresh()
}

// NeedsAPIKey reports whether the configured LLM provider requires a key.
func (c *Config) NeedsAPIKey() bool {
	return c.LLM.Provider == "googleai" || c.LLM.Provider == "openai"
}
