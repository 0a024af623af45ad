package config

const (
	defaultOpenAIModel      = "text-embedding-3-small"
	defaultOpenAIDimensions = 1536
	defaultMockDimensions   = 384
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kenkyu/data/db/documents.db"
	}
	if cfg.Storage.VectorDir == "" {
		cfg.Storage.VectorDir = "/usr/local/var/kenkyu/data/vectors"
	}
	if cfg.Vector.Engine == "" {
		cfg.Vector.Engine = "sqlite"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "research"
	}
	if cfg.Vector.Description == "" {
		cfg.Vector.Description = "Research document segments"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderMock
		if cfg.Embedding.APIKey != "" {
			cfg.Embedding.Provider = ProviderOpenAI
		}
	}
	if cfg.Embedding.Provider == ProviderOpenAI {
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = defaultOpenAIModel
		}
		if cfg.Embedding.Dimensions == 0 {
			cfg.Embedding.Dimensions = defaultOpenAIDimensions
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaultMockDimensions
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 5
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Retrieval.DefaultMaxResults == 0 {
		cfg.Retrieval.DefaultMaxResults = 5
	}
}
