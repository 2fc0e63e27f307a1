package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	t.Setenv("PAGECHAT_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.json"))
	t.Setenv("PAGECHAT_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Format != "structured" {
		t.Fatalf("default format = %q", cfg.Provider.Format)
	}
	if cfg.Trigger.Mode != "manual" {
		t.Fatalf("default trigger mode = %q", cfg.Trigger.Mode)
	}
	if !cfg.Chat.WebSearchEnabled || !cfg.Chat.PageScrapingEnabled {
		t.Fatal("chat feature toggles should default on")
	}
}

func TestLoadMergesFile(t *testing.T) {
	path := writeConfig(t, `{
  "provider": {"format": "legacy", "model": "gpt-4o", "timeout_ms": 5000},
  "chat": {"web_search_enabled": false},
  "trigger": {"mode": "auto"},
  "storage": {"driver": "memory"}
}`)
	t.Setenv("PAGECHAT_CONFIG_PATH", path)
	t.Setenv("PAGECHAT_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Format != "legacy" || cfg.Provider.Model != "gpt-4o" || cfg.Provider.TimeoutMS != 5000 {
		t.Fatalf("provider not merged: %+v", cfg.Provider)
	}
	if cfg.Chat.WebSearchEnabled {
		t.Fatal("web_search_enabled=false lost in merge")
	}
	if !cfg.Chat.PageScrapingEnabled {
		t.Fatal("unset page_scraping_enabled should keep default true")
	}
	if cfg.Trigger.Mode != "auto" || cfg.Storage.Driver != "memory" {
		t.Fatalf("trigger/storage not merged: %+v %+v", cfg.Trigger, cfg.Storage)
	}
	if cfg.Provider.APIKey != "sk-test" {
		t.Fatalf("env api key not applied: %q", cfg.Provider.APIKey)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"provider": {"model": "from-file"}}`)
	t.Setenv("PAGECHAT_CONFIG_PATH", path)
	t.Setenv("PAGECHAT_MODEL", "from-env")
	t.Setenv("PAGECHAT_TRIGGER_MODE", "disabled")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Model != "from-env" {
		t.Fatalf("model = %q, want env value", cfg.Provider.Model)
	}
	if cfg.Trigger.Mode != "disabled" {
		t.Fatalf("trigger mode = %q", cfg.Trigger.Mode)
	}
}

func TestLoadRejectsBadEnums(t *testing.T) {
	for _, body := range []string{
		`{"provider": {"format": "grpc"}}`,
		`{"trigger": {"mode": "sometimes"}}`,
		`{"storage": {"driver": "duckdb"}}`,
	} {
		t.Setenv("PAGECHAT_CONFIG_PATH", writeConfig(t, body))
		if _, err := Load(""); err == nil {
			t.Fatalf("config %s should be rejected", body)
		}
	}
}
