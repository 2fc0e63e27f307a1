package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ProviderConfig struct {
	// Format 选择线协议：structured（分段输入/输出）或 legacy（role/content）。
	// Format selects the wire protocol: structured (typed segments) or legacy (role/content).
	Format    string `json:"format"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

type ChatConfig struct {
	Temperature         float64 `json:"temperature"`
	WebSearchEnabled    bool    `json:"web_search_enabled"`
	PageScrapingEnabled bool    `json:"page_scraping_enabled"`
}

type TriggerConfig struct {
	// Mode 取值 auto / manual / disabled。
	// Mode is one of auto / manual / disabled.
	Mode string `json:"mode"`
}

type StorageConfig struct {
	// Driver 选择会话存储后端：sqlite 或 memory。
	// Driver selects the session store backend: sqlite or memory.
	Driver  string `json:"driver"`
	BaseDir string `json:"base_dir"`
}

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Chat     ChatConfig     `json:"chat"`
	Trigger  TriggerConfig  `json:"trigger"`
	Storage  StorageConfig  `json:"storage"`
}

type fileChatConfig struct {
	Temperature         *float64 `json:"temperature"`
	WebSearchEnabled    *bool    `json:"web_search_enabled"`
	PageScrapingEnabled *bool    `json:"page_scraping_enabled"`
}

type fileConfig struct {
	Provider *ProviderConfig `json:"provider"`
	Chat     *fileChatConfig `json:"chat"`
	Trigger  *TriggerConfig  `json:"trigger"`
	Storage  *StorageConfig  `json:"storage"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Format:    "structured",
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			TimeoutMS: 120000,
		},
		Chat: ChatConfig{
			Temperature:         0.7,
			WebSearchEnabled:    true,
			PageScrapingEnabled: true,
		},
		Trigger: TriggerConfig{Mode: "manual"},
		Storage: StorageConfig{
			Driver:  "sqlite",
			BaseDir: "~/.pagechat",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("PAGECHAT_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func findConfigPath() string {
	candidates := []string{"pagechat.config.json"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pagechat", "config.json"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var fileCfg fileConfig
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Chat != nil {
		if fc.Chat.Temperature != nil {
			cfg.Chat.Temperature = *fc.Chat.Temperature
		}
		if fc.Chat.WebSearchEnabled != nil {
			cfg.Chat.WebSearchEnabled = *fc.Chat.WebSearchEnabled
		}
		if fc.Chat.PageScrapingEnabled != nil {
			cfg.Chat.PageScrapingEnabled = *fc.Chat.PageScrapingEnabled
		}
	}
	if fc.Trigger != nil && strings.TrimSpace(fc.Trigger.Mode) != "" {
		cfg.Trigger.Mode = fc.Trigger.Mode
	}
	if fc.Storage != nil {
		if strings.TrimSpace(fc.Storage.Driver) != "" {
			cfg.Storage.Driver = fc.Storage.Driver
		}
		if strings.TrimSpace(fc.Storage.BaseDir) != "" {
			cfg.Storage.BaseDir = fc.Storage.BaseDir
		}
	}
}

func mergeProvider(base ProviderConfig, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.Format) != "" {
		base.Format = override.Format
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PAGECHAT_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PAGECHAT_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("PAGECHAT_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PAGECHAT_FORMAT")); v != "" {
		cfg.Provider.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("PAGECHAT_TRIGGER_MODE")); v != "" {
		cfg.Trigger.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("PAGECHAT_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Provider.TimeoutMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PAGECHAT_DATA_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}
}

func normalize(cfg *Config) error {
	def := Default()

	switch cfg.Provider.Format {
	case "structured", "legacy":
	case "":
		cfg.Provider.Format = def.Provider.Format
	default:
		return fmt.Errorf("unknown provider format %q (want structured or legacy)", cfg.Provider.Format)
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}

	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		cfg.Chat.Temperature = def.Chat.Temperature
	}

	switch cfg.Trigger.Mode {
	case "auto", "manual", "disabled":
	case "":
		cfg.Trigger.Mode = def.Trigger.Mode
	default:
		return fmt.Errorf("unknown trigger mode %q (want auto, manual or disabled)", cfg.Trigger.Mode)
	}

	switch cfg.Storage.Driver {
	case "sqlite", "memory":
	case "":
		cfg.Storage.Driver = def.Storage.Driver
	default:
		return fmt.Errorf("unknown storage driver %q (want sqlite or memory)", cfg.Storage.Driver)
	}
	dir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	if dir == "" {
		dir, err = expandPath(def.Storage.BaseDir)
		if err != nil {
			return err
		}
	}
	cfg.Storage.BaseDir = dir

	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}
