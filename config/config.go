// Package config provides configuration types and loading for the assistant service.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION TYPES
// ============================================================================

// Config is the root configuration for the service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Embedder      EmbedderConfig      `yaml:"embedder"`
	Qdrant        QdrantConfig        `yaml:"qdrant"`
	VCell         VCellConfig         `yaml:"vcell"`
	KnowledgeBase KnowledgeBaseConfig `yaml:"knowledge_base"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LLMConfig configures the chat-completion provider.
// When APIVersion is set the provider speaks the Azure OpenAI dialect
// (deployment path plus api-key header); otherwise plain OpenAI.
type LLMConfig struct {
	Host        string  `yaml:"host"`
	APIKey      string  `yaml:"api_key"`
	APIVersion  string  `yaml:"api_version"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     int     `yaml:"timeout"` // seconds
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Host       string `yaml:"host"`
	APIKey     string `yaml:"api_key"`
	APIVersion string `yaml:"api_version"`
	Model      string `yaml:"model"`
	Dimension  int    `yaml:"dimension"`
	Timeout    int    `yaml:"timeout"` // seconds
}

// QdrantConfig configures the qdrant vector database connection.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// VCellConfig configures the VCell database API client.
type VCellConfig struct {
	BaseURL     string `yaml:"base_url"`
	Timeout     int    `yaml:"timeout"`      // seconds, default fetches
	FileTimeout int    `yaml:"file_timeout"` // seconds, definition file fetches
	MaxRetries  int    `yaml:"max_retries"`
	RetryDelay  int    `yaml:"retry_delay"` // milliseconds, base backoff delay
}

// KnowledgeBaseConfig configures document ingestion and retrieval.
type KnowledgeBaseConfig struct {
	Collection   string `yaml:"collection"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	DefaultLimit int    `yaml:"default_limit"`
}

// ============================================================================
// DEFAULTS AND VALIDATION
// ============================================================================

// SetDefaults fills in zero-valued fields across all sections.
func (c *Config) SetDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}

	if c.LLM.Host == "" {
		c.LLM.Host = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120
	}

	if c.Embedder.Host == "" {
		c.Embedder.Host = c.LLM.Host
	}
	if c.Embedder.APIKey == "" {
		c.Embedder.APIKey = c.LLM.APIKey
	}
	if c.Embedder.APIVersion == "" {
		c.Embedder.APIVersion = c.LLM.APIVersion
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "text-embedding-3-small"
	}
	if c.Embedder.Dimension == 0 {
		c.Embedder.Dimension = 1536
	}
	if c.Embedder.Timeout == 0 {
		c.Embedder.Timeout = 30
	}

	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}

	if c.VCell.BaseURL == "" {
		c.VCell.BaseURL = "https://vcell.cam.uchc.edu/api/v0"
	}
	if c.VCell.Timeout == 0 {
		c.VCell.Timeout = 30
	}
	if c.VCell.FileTimeout == 0 {
		c.VCell.FileTimeout = 120
	}
	if c.VCell.MaxRetries == 0 {
		c.VCell.MaxRetries = 3
	}
	if c.VCell.RetryDelay == 0 {
		c.VCell.RetryDelay = 500
	}

	if c.KnowledgeBase.Collection == "" {
		c.KnowledgeBase.Collection = "knowledge_base"
	}
	if c.KnowledgeBase.ChunkSize == 0 {
		c.KnowledgeBase.ChunkSize = 1000
	}
	if c.KnowledgeBase.ChunkOverlap == 0 {
		c.KnowledgeBase.ChunkOverlap = 200
	}
	if c.KnowledgeBase.DefaultLimit == 0 {
		c.KnowledgeBase.DefaultLimit = 10
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm: api_key is required")
	}
	if c.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedder: dimension must be positive")
	}
	if c.KnowledgeBase.ChunkOverlap >= c.KnowledgeBase.ChunkSize {
		return fmt.Errorf("knowledge_base: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.KnowledgeBase.ChunkOverlap, c.KnowledgeBase.ChunkSize)
	}
	if c.KnowledgeBase.DefaultLimit < 1 || c.KnowledgeBase.DefaultLimit > 100 {
		return fmt.Errorf("knowledge_base: default_limit must be between 1 and 100")
	}
	return nil
}

// RetryDelayDuration returns the base backoff delay as a duration.
func (c *VCellConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Millisecond
}

// ============================================================================
// LOADING
// ============================================================================

// Load reads a YAML config file, expands environment variable references,
// applies defaults and validates. An empty path yields an env-only config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides fills well-known settings from the environment when the
// config file left them empty. This keeps a bare .env deployment working
// without any YAML file.
func (c *Config) applyEnvOverrides() {
	setIfEmpty(&c.LLM.APIKey, "OPENAI_API_KEY", "AZURE_API_KEY")
	setIfEmpty(&c.LLM.Host, "OPENAI_BASE_URL", "AZURE_ENDPOINT")
	setIfEmpty(&c.LLM.APIVersion, "AZURE_API_VERSION")
	setIfEmpty(&c.LLM.Model, "OPENAI_MODEL", "AZURE_DEPLOYMENT_NAME")
	setIfEmpty(&c.Embedder.Model, "EMBEDDING_MODEL", "AZURE_EMBEDDING_DEPLOYMENT_NAME")
	setIfEmpty(&c.Qdrant.Host, "QDRANT_HOST")
	setIfEmpty(&c.VCell.BaseURL, "VCELL_API_BASE_URL")
}

func setIfEmpty(dst *string, envVars ...string) {
	if *dst != "" {
		return
	}
	for _, name := range envVars {
		if val := os.Getenv(name); val != "" {
			*dst = val
			return
		}
	}
}
