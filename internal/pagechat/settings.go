package pagechat

import (
	"context"
	"encoding/json"
	"fmt"

	"pagechat/internal/config"
	"pagechat/internal/envelope"
	"pagechat/internal/kvstore"
	"pagechat/internal/trigger"
)

const settingsKey = "user_settings"

// Settings are the user preferences every turn consults.
type Settings struct {
	TriggerMode         trigger.Mode `json:"triggerMode"`
	ModelName           string       `json:"modelName"`
	Temperature         float64      `json:"temperature"`
	WebSearchEnabled    bool         `json:"webSearchEnabled"`
	PageScrapingEnabled bool         `json:"pageScrapingEnabled"`
}

// SettingsStore is the preference get/set contract.
type SettingsStore interface {
	Settings(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

func defaultSettings() Settings {
	return Settings{
		TriggerMode:         trigger.ModeManual,
		Temperature:         0.7,
		WebSearchEnabled:    true,
		PageScrapingEnabled: true,
	}
}

// SettingsFromConfig seeds runtime settings from the static config file.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		TriggerMode:         trigger.Mode(cfg.Trigger.Mode),
		ModelName:           cfg.Provider.Model,
		Temperature:         cfg.Chat.Temperature,
		WebSearchEnabled:    cfg.Chat.WebSearchEnabled,
		PageScrapingEnabled: cfg.Chat.PageScrapingEnabled,
	}
}

// KVSettings persists settings in the shared key-value store so they
// survive restarts. Reads fall back to the seed when nothing is stored
// yet.
type KVSettings struct {
	kv   kvstore.Store
	seed Settings
}

func NewKVSettings(kv kvstore.Store, seed Settings) *KVSettings {
	return &KVSettings{kv: kv, seed: seed}
}

func (s *KVSettings) Settings(ctx context.Context) (Settings, error) {
	data, ok, err := s.kv.Get(ctx, settingsKey)
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return s.seed, nil
	}
	out := s.seed
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return out, nil
}

func (s *KVSettings) Save(ctx context.Context, settings Settings) error {
	data, err := json.Marshal(&settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.kv.Set(ctx, settingsKey, data)
}

// settingsFromPayload overlays an incoming update on the current
// settings; empty strings keep the previous value.
func settingsFromPayload(cur Settings, sc envelope.SettingsChanged) Settings {
	next := cur
	if sc.TriggerMode != "" {
		next.TriggerMode = trigger.Mode(sc.TriggerMode)
	}
	if sc.ModelName != "" {
		next.ModelName = sc.ModelName
	}
	if sc.Temperature > 0 {
		next.Temperature = sc.Temperature
	}
	next.WebSearchEnabled = sc.WebSearchEnabled
	next.PageScrapingEnabled = sc.PageScrapingEnabled
	return next
}

func settingsPayload(s Settings) envelope.SettingsChanged {
	return envelope.SettingsChanged{
		TriggerMode:         string(s.TriggerMode),
		ModelName:           s.ModelName,
		Temperature:         s.Temperature,
		WebSearchEnabled:    s.WebSearchEnabled,
		PageScrapingEnabled: s.PageScrapingEnabled,
	}
}
