package config

// DefaultConfig returns a Config with sensible defaults. The default
// provider is "none" so a fresh checkout runs fully deterministic without
// any credentials.
func DefaultConfig() *Config {
	return &Config{
		Provider:               ProviderNone,
		Model:                  "gpt-4o-mini",
		EmbeddingProvider:      ProviderNone,
		EmbeddingModel:         "text-embedding-3-small",
		Retrieval:              RetrievalKeyword,
		RetrievalTopK:          5,
		DataDir:                "data",
		Port:                   8080,
		LowConfidence:          0.45,
		ReasonerTimeoutSeconds: 30,
		ReasonerRetries:        2,
		RequestsPerMinute:      60,
		MaxBodyBytes:           20000,
	}
}
