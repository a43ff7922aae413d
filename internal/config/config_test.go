package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if cfg.Provider != ProviderNone {
		t.Errorf("expected default provider none, got %s", cfg.Provider)
	}
	if cfg.Retrieval != RetrievalKeyword {
		t.Errorf("expected default retrieval keyword, got %s", cfg.Retrieval)
	}
	if cfg.LowConfidence <= 0 || cfg.LowConfidence >= 1 {
		t.Errorf("low confidence threshold out of range: %f", cfg.LowConfidence)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"openai provider", func(c *Config) { c.Provider = ProviderOpenAI }, false},
		{"unknown provider", func(c *Config) { c.Provider = "grok" }, true},
		{"empty provider", func(c *Config) { c.Provider = "" }, true},
		{"unknown retrieval", func(c *Config) { c.Retrieval = "hybrid" }, true},
		{"vector without embedder", func(c *Config) {
			c.Retrieval = RetrievalVector
			c.EmbeddingProvider = ProviderNone
		}, true},
		{"vector with embedder", func(c *Config) {
			c.Retrieval = RetrievalVector
			c.EmbeddingProvider = ProviderOpenAI
		}, false},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, true},
		{"threshold above one", func(c *Config) { c.LowConfidence = 1.5 }, true},
		{"negative retries", func(c *Config) { c.ReasonerRetries = -1 }, true},
		{"zero top k", func(c *Config) { c.RetrievalTopK = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultConfig().Port {
		t.Errorf("expected default port, got %d", cfg.Port)
	}
}

func TestLoadFileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".triage.yml")
	yaml := "provider: openai\nmodel: gpt-4o\nport: 9090\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	t.Setenv("TRIAGE_MODEL", "gpt-4o-mini")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != ProviderOpenAI {
		t.Errorf("expected provider openai, got %s", cfg.Provider)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("env override not applied, got model %s", cfg.Model)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".triage.yml")

	cfg := DefaultConfig()
	cfg.Provider = ProviderOpenAI
	cfg.LowConfidence = 0.6
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Provider != ProviderOpenAI {
		t.Errorf("expected provider openai, got %s", loaded.Provider)
	}
	if loaded.LowConfidence != 0.6 {
		t.Errorf("expected low_confidence 0.6, got %f", loaded.LowConfidence)
	}
}
