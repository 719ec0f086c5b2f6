// Package rag maps a biochemical name to a PubChem CID through a three-stage
// pipeline: vector retrieval of candidate CIDs, parallel annotation fetch,
// and LLM arbitration over the candidates.
package rag

import (
	"fmt"
	"os"
)

// Defaults for optional configuration keys.
const (
	DefaultTopK           = 10
	DefaultScoreThreshold = 0.5
	DefaultMaxConcurrent  = 5
	DefaultMaxTokens      = 500
	DefaultTemperature    = 0.1
	DefaultBatchSize      = 50
	DefaultTimeoutSeconds = 120
)

// Config holds the pipeline configuration. Zero values for optional fields
// take the documented defaults; required fields missing at construction time
// are a configuration error, surfaced before any request runs.
type Config struct {
	VectorHost           string  `mapstructure:"vector_host" yaml:"vector_host"`
	VectorPort           int     `mapstructure:"vector_port" yaml:"vector_port"`
	VectorCollection     string  `mapstructure:"vector_collection" yaml:"vector_collection"`
	VectorAPIKey         string  `mapstructure:"vector_api_key" yaml:"vector_api_key"`
	VectorTopK           int     `mapstructure:"vector_top_k" yaml:"vector_top_k"`
	VectorScoreThreshold float64 `mapstructure:"vector_score_threshold" yaml:"vector_score_threshold"`

	AnnotationMaxConcurrent int `mapstructure:"annotation_max_concurrent_requests" yaml:"annotation_max_concurrent_requests"`

	LLMModelName   string  `mapstructure:"llm_model_name" yaml:"llm_model_name"`
	LLMAPIKey      string  `mapstructure:"llm_api_key" yaml:"llm_api_key"`
	LLMMaxTokens   int     `mapstructure:"llm_max_tokens" yaml:"llm_max_tokens"`
	LLMTemperature float64 `mapstructure:"llm_temperature" yaml:"llm_temperature"`

	PipelineBatchSize      int `mapstructure:"pipeline_batch_size" yaml:"pipeline_batch_size"`
	PipelineTimeoutSeconds int `mapstructure:"pipeline_timeout_seconds" yaml:"pipeline_timeout_seconds"`
}

// ConfigError marks a missing or malformed configuration value. Fatal at
// construction time.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rag config: %s: %s", e.Key, e.Reason)
}

// normalize applies defaults and validates required keys. Env var
// ANTHROPIC_API_KEY takes precedence over the configured llm_api_key.
func (c *Config) normalize() error {
	if c.VectorHost == "" {
		return &ConfigError{Key: "vector_host", Reason: "required"}
	}
	if c.VectorCollection == "" {
		return &ConfigError{Key: "vector_collection", Reason: "required"}
	}
	if c.VectorPort <= 0 {
		c.VectorPort = 6333
	}
	if c.VectorTopK <= 0 {
		c.VectorTopK = DefaultTopK
	}
	if c.VectorScoreThreshold <= 0 {
		c.VectorScoreThreshold = DefaultScoreThreshold
	}
	if c.VectorScoreThreshold > 1 {
		return &ConfigError{Key: "vector_score_threshold", Reason: "must be in (0,1]"}
	}
	if c.AnnotationMaxConcurrent <= 0 {
		c.AnnotationMaxConcurrent = DefaultMaxConcurrent
	}
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		c.LLMAPIKey = envKey
	}
	if c.LLMAPIKey == "" {
		return &ConfigError{Key: "llm_api_key", Reason: "required (or set ANTHROPIC_API_KEY)"}
	}
	if c.LLMMaxTokens <= 0 {
		c.LLMMaxTokens = DefaultMaxTokens
	}
	if c.LLMTemperature <= 0 {
		c.LLMTemperature = DefaultTemperature
	}
	if c.PipelineBatchSize <= 0 {
		c.PipelineBatchSize = DefaultBatchSize
	}
	if c.PipelineTimeoutSeconds <= 0 {
		c.PipelineTimeoutSeconds = DefaultTimeoutSeconds
	}
	return nil
}
