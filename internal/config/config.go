package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (TRIAGE_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// Overlay environment variables: TRIAGE_PROVIDER -> provider, etc.
	if err := k.Load(env.Provider("TRIAGE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "TRIAGE_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validProviders is the set of recognized provider values.
var validProviders = map[ProviderType]bool{
	ProviderOpenAI: true,
	ProviderOllama: true,
	ProviderNone:   true,
}

// validRetrievalModes is the set of recognized retrieval strategy values.
var validRetrievalModes = map[RetrievalMode]bool{
	RetrievalKeyword: true,
	RetrievalVector:  true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q: must be one of openai, ollama, none", c.Provider)
	}

	if c.EmbeddingProvider != "" && !validProviders[c.EmbeddingProvider] {
		return fmt.Errorf("invalid embedding_provider %q", c.EmbeddingProvider)
	}

	if c.Retrieval != "" && !validRetrievalModes[c.Retrieval] {
		return fmt.Errorf("invalid retrieval %q: must be one of keyword, vector", c.Retrieval)
	}

	if c.Retrieval == RetrievalVector && c.EmbeddingProvider == ProviderNone {
		return fmt.Errorf("retrieval \"vector\" requires an embedding_provider")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.LowConfidence < 0 || c.LowConfidence > 1 {
		return fmt.Errorf("low_confidence must be in [0,1]")
	}

	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("retrieval_top_k must be positive")
	}

	if c.ReasonerRetries < 0 {
		return fmt.Errorf("reasoner_retries must be non-negative")
	}

	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}
