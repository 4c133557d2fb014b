package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// BotConfig overrides embedding settings for one bot. Unset fields
// fall back to the top-level embedding config. The bot ID doubles as
// the content-store namespace.
type BotConfig struct {
	ID         string `json:"id"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// loadBots reads the bot list: the "bots" config key holds a JSON
// array, and INGESTD_BOTS overrides it. Per-bot API keys normally ride
// along in INGESTD_BOTS so they stay out of the config file.
func loadBots(b ConfigBackend) ([]BotConfig, error) {
	raw, _, err := b.GetString("bots")
	if err != nil {
		return nil, fmt.Errorf("reading bots: %w", err)
	}
	if env := os.Getenv("INGESTD_BOTS"); env != "" {
		raw = env
	}
	if raw == "" {
		return nil, nil
	}

	var bots []BotConfig
	if err := json.Unmarshal([]byte(raw), &bots); err != nil {
		return nil, fmt.Errorf("parsing bots config: %w", err)
	}
	for i, bot := range bots {
		if bot.ID == "" {
			return nil, fmt.Errorf("bots[%d]: id is required", i)
		}
	}
	return bots, nil
}

// Bot resolves the effective embedding settings for a bot ID. The
// "default" bot (and any unknown ID) resolves to the top-level
// embedding config.
func (c Config) Bot(id string) BotConfig {
	resolved := BotConfig{
		ID:         id,
		Provider:   c.Embedding.Provider,
		Model:      c.Embedding.Model,
		APIKey:     c.Embedding.APIKey,
		Dimensions: c.Embedding.Dimensions,
	}
	for _, bot := range c.Bots {
		if bot.ID != id {
			continue
		}
		if bot.Provider != "" {
			resolved.Provider = bot.Provider
		}
		if bot.Model != "" {
			resolved.Model = bot.Model
		}
		if bot.APIKey != "" {
			resolved.APIKey = bot.APIKey
		}
		if bot.Dimensions != 0 {
			resolved.Dimensions = bot.Dimensions
		}
		break
	}
	return resolved
}
