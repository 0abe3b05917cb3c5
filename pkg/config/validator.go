package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if !isHTTPURL(c.LLM.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Embedder.BaseURL != "" && !isHTTPURL(c.Embedder.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "invalid embedder base URL",
		})
	}

	if c.Embedder.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.workers",
			Message: "workers must be positive",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		u, err := url.Parse(c.Database.URL)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
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

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Pipeline config
	if c.Pipeline.MaxConcurrent < 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.max_concurrent",
			Message: "max_concurrent must be positive",
		})
	}

	if c.Pipeline.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Pipeline.ChunkOverlap < 0 || c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "pipeline.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Pipeline.MinContentLength < 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.min_content_length",
			Message: "min_content_length must not be negative",
		})
	}

	if c.Pipeline.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.rate_limit",
			Message: "rate_limit must not be negative",
		})
	}

	// Validate Web config
	if c.Web.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "web.timeout",
			Message: "timeout must be positive",
		})
	}

	if c.Web.MaxBodyBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "web.max_body_bytes",
			Message: "max_body_bytes must be positive",
		})
	}

	if !logLevels[c.Log.Level] {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unknown log level: %s", c.Log.Level),
		})
	}

	return errors
}

func isHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
