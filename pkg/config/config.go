package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xhad/ragingest/pkg/batch"
	"github.com/xhad/ragingest/pkg/chunker"
	"github.com/xhad/ragingest/pkg/extract"
	"github.com/xhad/ragingest/pkg/loader"
)

type Config struct {
	LLM struct {
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Embedder struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		Workers int    `yaml:"workers"`
	} `yaml:"embedder"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Pipeline struct {
		MaxConcurrent    int     `yaml:"max_concurrent"`
		ChunkSize        int     `yaml:"chunk_size"`
		ChunkOverlap     int     `yaml:"chunk_overlap"`
		MinContentLength int     `yaml:"min_content_length"`
		RateLimit        float64 `yaml:"rate_limit"`
	} `yaml:"pipeline"`

	Web struct {
		Timeout            time.Duration `yaml:"timeout"`
		UserAgent          string        `yaml:"user_agent"`
		Accept             string        `yaml:"accept"`
		AcceptLanguage     string        `yaml:"accept_language"`
		InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
		MaxBodyBytes       int64         `yaml:"max_body_bytes"`
	} `yaml:"web"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr              string   `yaml:"addr"`
		AllowedOrigins    []string `yaml:"allowed_origins"`
		AllowLocalSources bool     `yaml:"allow_local_sources"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"ragingest.yaml",
			"ragingest.yml",
			filepath.Join(os.Getenv("HOME"), ".config/ragingest/config.yaml"),
			"/etc/ragingest/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	applyDefaults(&config)
	mergeWithEnv(&config)

	return &config, nil
}

// Default returns the built-in configuration with environment overrides applied.
func Default() *Config {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}
	if config.Embedder.Workers == 0 {
		config.Embedder.Workers = 4
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Pipeline.MaxConcurrent == 0 {
		config.Pipeline.MaxConcurrent = batch.DefaultMaxConcurrent
	}
	if config.Pipeline.ChunkSize == 0 {
		config.Pipeline.ChunkSize = chunker.DefaultChunkSize
	}
	if config.Pipeline.ChunkOverlap == 0 {
		config.Pipeline.ChunkOverlap = chunker.DefaultChunkOverlap
	}
	if config.Pipeline.MinContentLength == 0 {
		config.Pipeline.MinContentLength = extract.DefaultMinContentLength
	}

	if config.Web.Timeout == 0 {
		config.Web.Timeout = loader.DefaultWebTimeout
	}
	if config.Web.UserAgent == "" {
		config.Web.UserAgent = loader.DefaultUserAgent
	}
	if config.Web.Accept == "" {
		config.Web.Accept = loader.DefaultAccept
	}
	if config.Web.AcceptLanguage == "" {
		config.Web.AcceptLanguage = loader.DefaultAcceptLanguage
	}
	if config.Web.MaxBodyBytes == 0 {
		config.Web.MaxBodyBytes = loader.DefaultMaxBodyBytes
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if v := os.Getenv("RAGINGEST_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Pipeline.MaxConcurrent = n
		}
	}
}

// EmbedderURL falls back to the chat server when no separate embedder is set.
func (c *Config) EmbedderURL() string {
	if c.Embedder.BaseURL != "" {
		return c.Embedder.BaseURL
	}
	return c.LLM.BaseURL
}

func (c *Config) WebConfig() loader.WebConfig {
	return loader.WebConfig{
		Timeout:            c.Web.Timeout,
		UserAgent:          c.Web.UserAgent,
		Accept:             c.Web.Accept,
		AcceptLanguage:     c.Web.AcceptLanguage,
		InsecureSkipVerify: c.Web.InsecureSkipVerify,
		MaxBodyBytes:       c.Web.MaxBodyBytes,
	}
}

func (c *Config) ExtractConfig() extract.Config {
	return extract.Config{MinContentLength: c.Pipeline.MinContentLength}
}
