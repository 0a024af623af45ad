// Package config provides configuration loading and structs for kenkyu.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kenkyu/internal/models"
)

// EnvOpenAIAPIKey overrides embedding.api_key when set.
const EnvOpenAIAPIKey = "OPENAI_API_KEY"

// Embedding providers.
const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the document registry and vector collections.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	VectorDir    string `yaml:"vector_dir"`
}

// VectorConfig selects the vector engine and names the collection.
type VectorConfig struct {
	Engine      string `yaml:"engine"`
	Collection  string `yaml:"collection"`
	Description string `yaml:"description"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	CacheSize         int     `yaml:"cache_size"`
	APIKey            string  `yaml:"api_key,omitempty"`
	BaseURL           string  `yaml:"base_url,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ChunkingConfig holds chunker settings.
type ChunkingConfig struct {
	ChunkSize    int  `yaml:"chunk_size"`
	ChunkOverlap *int `yaml:"chunk_overlap"`
}

// OverlapOrDefault returns the configured overlap, or -1 (chunker default) when unset.
func (c *ChunkingConfig) OverlapOrDefault() int {
	if c.ChunkOverlap != nil {
		return *c.ChunkOverlap
	}
	return -1
}

// RetrievalConfig holds query-time defaults.
type RetrievalConfig struct {
	DefaultMaxResults int     `yaml:"default_max_results"`
	DefaultThreshold  float64 `yaml:"default_threshold"`
	TrackMetrics      bool    `yaml:"track_metrics"`
	HybridSearch      bool    `yaml:"hybrid_search"`
}

// Load reads and parses the config file at path, applies the environment override,
// applies defaults, and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorDir = expandPath(cfg.Storage.VectorDir, configDir)

	return &cfg, nil
}

// ApplyEnv applies environment overrides.
func ApplyEnv(cfg *Config) {
	if key := os.Getenv(EnvOpenAIAPIKey); key != "" {
		cfg.Embedding.APIKey = key
	}
}

// Validate checks settings that would otherwise fail deep inside a constructor.
func (c *Config) Validate() error {
	switch c.Vector.Engine {
	case "memory", "sqlite":
	case "pgvector":
		if c.Vector.PostgresDSN == "" {
			return fmt.Errorf("%w: vector.postgres_dsn is required for the pgvector engine", models.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown vector.engine %q", models.ErrConfiguration, c.Vector.Engine)
	}
	switch c.Embedding.Provider {
	case ProviderMock:
	case ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("%w: embedding.api_key or %s is required for the openai provider",
				models.ErrConfiguration, EnvOpenAIAPIKey)
		}
	default:
		return fmt.Errorf("%w: unknown embedding.provider %q", models.ErrConfiguration, c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding.dimensions must be positive", models.ErrConfiguration)
	}
	if c.Retrieval.DefaultThreshold < 0 || c.Retrieval.DefaultThreshold > 1 {
		return fmt.Errorf("%w: retrieval.default_threshold must be in [0,1]", models.ErrConfiguration)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be in [0,65535], got %d", models.ErrConfiguration, c.Server.Port)
	}
	return nil
}

// Save writes the config to path. The API key is never written.
func Save(path string, cfg *Config) error {
	out := *cfg
	out.Embedding.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
