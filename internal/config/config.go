package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Providers    []ProviderConfig   `json:"providers"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Database     DatabaseConfig     `json:"database"`
	Embedding    EmbeddingConfig    `json:"embedding"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Endpoint string   `json:"endpoint"`
	APIKey   string   `json:"api_key"`
	Models   []string `json:"models,omitempty"`
}

// OrchestratorConfig tunes the workflow engine.
type OrchestratorConfig struct {
	MaxConcurrency     int    `json:"max_concurrency"`
	TaskTimeoutSeconds int    `json:"task_timeout_seconds"`
	MaxRetries         int    `json:"max_retries"`
	QueueSize          int    `json:"queue_size"`
	DefaultStrategy    string `json:"default_strategy"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references
// and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3020
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Orchestrator.MaxConcurrency <= 0 {
		c.Orchestrator.MaxConcurrency = 4
	}
	if c.Orchestrator.TaskTimeoutSeconds <= 0 {
		c.Orchestrator.TaskTimeoutSeconds = 300
	}
	if c.Orchestrator.MaxRetries <= 0 {
		c.Orchestrator.MaxRetries = 3
	}
	if c.Orchestrator.QueueSize <= 0 {
		c.Orchestrator.QueueSize = 64
	}
	if c.Orchestrator.DefaultStrategy == "" {
		c.Orchestrator.DefaultStrategy = "adaptive"
	}
	if c.Embedding.Dimension <= 0 {
		c.Embedding.Dimension = 768
	}
}
