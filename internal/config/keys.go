package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INGESTD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "INGESTD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INGESTD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "embedding.provider", typ: kString, env: "INGESTD_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "INGESTD_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dimensions", typ: kInt, env: "INGESTD_EMBEDDING_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimensions },
	},
	{
		key: "embedding.api_key", typ: kString, env: "INGESTD_EMBEDDING_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.APIKey },
	},
	{
		key: "pinecone.host", typ: kString, env: "INGESTD_PINECONE_HOST",
		apply:   func(cfg *Config, v any) { cfg.Pinecone.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Pinecone.Host },
	},
	{
		key: "pinecone.api_key", typ: kString, env: "INGESTD_PINECONE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Pinecone.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Pinecone.APIKey },
	},
	{
		key: "queue.max_attempts", typ: kInt, env: "INGESTD_QUEUE_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Queue.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.MaxAttempts },
	},
	{
		key: "sync.max_chunk_size", typ: kInt, env: "INGESTD_SYNC_MAX_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Sync.MaxChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.MaxChunkSize },
	},
	{
		key: "api.token", typ: kString, env: "INGESTD_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
