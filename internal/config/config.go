package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/utils"
)

// PipelineConfig controls the ETL orchestrator policy.
type PipelineConfig struct {
	MaxRetries        int  `yaml:"max_retries"`
	RetryDelaySecs    int  `yaml:"retry_delay_secs"`
	StaleJobSecs      int  `yaml:"stale_job_secs"`
	FallbackDocuments bool `yaml:"fallback_documents"`
	EmbedBatchSize    int  `yaml:"embed_batch_size"`
}

func (c PipelineConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

func (c PipelineConfig) StaleJobWindow() time.Duration {
	return time.Duration(c.StaleJobSecs) * time.Second
}

// CacheConfig sizes the process-local document cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
	TTLSecs  int `yaml:"ttl_secs"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// EmbeddingConfig configures the OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// RetrievalConfig holds the search defaults applied when a caller passes zero values.
type RetrievalConfig struct {
	DefaultLimit        int     `yaml:"default_limit"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Cache     CacheConfig     `yaml:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

func defaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			MaxRetries:        3,
			RetryDelaySecs:    60,
			StaleJobSecs:      300,
			FallbackDocuments: true,
			EmbedBatchSize:    64,
		},
		Cache: CacheConfig{
			Capacity: 1000,
			TTLSecs:  300,
		},
		Embedding: EmbeddingConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "text-embedding-3-small",
			Dimension:   768,
			TimeoutSecs: 30,
			MaxRetries:  3,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:        10,
			SimilarityThreshold: 0.3,
		},
	}
}

// Load reads the pipeline config from path, falling back to defaults when the
// file does not exist. Environment variables override file values.
func Load(path string, log *logger.Logger) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if log != nil {
			log.Debug("Config file not found, using defaults", "path", path)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnvOverrides(cfg, log)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, log *logger.Logger) {
	cfg.Pipeline.MaxRetries = utils.GetEnvAsInt("ETL_MAX_RETRIES", cfg.Pipeline.MaxRetries, log)
	cfg.Pipeline.RetryDelaySecs = utils.GetEnvAsInt("ETL_RETRY_DELAY_SECS", cfg.Pipeline.RetryDelaySecs, log)
	cfg.Pipeline.StaleJobSecs = utils.GetEnvAsInt("ETL_STALE_JOB_SECS", cfg.Pipeline.StaleJobSecs, log)
	cfg.Pipeline.FallbackDocuments = utils.GetEnvAsBool("ETL_FALLBACK_DOCUMENTS", cfg.Pipeline.FallbackDocuments, log)
	cfg.Cache.Capacity = utils.GetEnvAsInt("DOCUMENT_CACHE_CAPACITY", cfg.Cache.Capacity, log)
	cfg.Cache.TTLSecs = utils.GetEnvAsInt("DOCUMENT_CACHE_TTL_SECS", cfg.Cache.TTLSecs, log)
	cfg.Embedding.BaseURL = utils.GetEnv("OPENAI_BASE_URL", cfg.Embedding.BaseURL, log)
	cfg.Embedding.Model = utils.GetEnv("OPENAI_EMBED_MODEL", cfg.Embedding.Model, log)
	cfg.Embedding.Dimension = utils.GetEnvAsInt("OPENAI_EMBED_DIMENSION", cfg.Embedding.Dimension, log)
}

func (c *Config) validate() error {
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be > 0")
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be within [0,1]")
	}
	return nil
}
