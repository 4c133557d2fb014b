package config

import (
	"fmt"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Pinecone  PineconeConfig
	Queue     QueueConfig
	Sync      SyncConfig
	API       APIConfig
	Bots      []BotConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	Model      string
	Dimensions int
}

// PineconeConfig selects the remote index backend. When Host is empty
// chunks stay in the local SQLite store.
type PineconeConfig struct {
	Host   string
	APIKey string
}

type QueueConfig struct {
	MaxAttempts int
}

type SyncConfig struct {
	MaxChunkSize int
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Queue: QueueConfig{
			MaxAttempts: 3,
		},
		Sync: SyncConfig{
			MaxChunkSize: 1000,
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/ingestd/config.json with INGESTD_* environment
// variables overriding file values. Secrets (API keys, the bearer
// token) come from the environment only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	bots, err := loadBots(b)
	if err != nil {
		return Config{}, err
	}
	cfg.Bots = bots

	if cfg.Embedding.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: embedding API key. Set it via environment variable INGESTD_EMBEDDING_API_KEY")
	}
	if cfg.API.Token == "" {
		return Config{}, fmt.Errorf("missing required config: API bearer token. Set it via environment variable INGESTD_API_TOKEN")
	}
	if cfg.Pinecone.Host != "" && cfg.Pinecone.APIKey == "" {
		return Config{}, fmt.Errorf("pinecone.host is set but the API key is missing. Set it via environment variable INGESTD_PINECONE_API_KEY")
	}

	return cfg, nil
}
