package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .triage.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to triage! Let's configure the engine.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Reasoning provider.
	providerPrompt := promptui.Select{
		Label: "Select reasoning provider (\"none\" runs deterministic rule mode)",
		Items: []string{"none", "openai", "ollama"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Provider = ProviderType(providerStr)

	if cfg.Provider == ProviderOpenAI {
		modelPrompt := promptui.Prompt{
			Label:   "Chat model",
			Default: "gpt-4o-mini",
		}
		if cfg.Model, err = modelPrompt.Run(); err != nil {
			return nil, fmt.Errorf("model: %w", err)
		}
	}

	// 2. Retrieval strategy.
	retrievalPrompt := promptui.Select{
		Label: "Select knowledge-base retrieval strategy",
		Items: []string{
			"keyword (deterministic word-overlap ranking, no credentials)",
			"vector (embedding similarity via chromem)",
		},
	}
	retrievalIdx, _, err := retrievalPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("retrieval selection: %w", err)
	}
	if retrievalIdx == 1 {
		cfg.Retrieval = RetrievalVector
		cfg.EmbeddingProvider = ProviderOpenAI
	}

	// 3. Data directory.
	dataPrompt := promptui.Prompt{
		Label:   "Data directory (SQLite DB, vector store)",
		Default: cfg.DataDir,
	}
	if cfg.DataDir, err = dataPrompt.Run(); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	// 4. Low-confidence threshold.
	thresholdPrompt := promptui.Prompt{
		Label:   "Low-confidence threshold (0..1)",
		Default: strconv.FormatFloat(cfg.LowConfidence, 'f', 2, 64),
		Validate: func(s string) error {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil || v < 0 || v > 1 {
				return fmt.Errorf("enter a number between 0 and 1")
			}
			return nil
		},
	}
	thresholdStr, err := thresholdPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("threshold: %w", err)
	}
	cfg.LowConfidence, _ = strconv.ParseFloat(thresholdStr, 64)

	// Check for API key.
	if envVar := APIKeyEnvVar(cfg.Provider); envVar != "" {
		if os.Getenv(envVar) == "" {
			fmt.Printf("\nNote: Set %s in your environment before running triage serve.\n", envVar)
		}
	}

	configPath := ".triage.yml"
	if err := cfg.Save(configPath); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", configPath)
	return cfg, nil
}
