package config

// ProviderType identifies an LLM or embedding provider.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
	// ProviderNone disables model-backed reasoning entirely; the engine
	// runs in deterministic rule mode.
	ProviderNone ProviderType = "none"
)

// RetrievalMode selects the knowledge-base retrieval strategy.
type RetrievalMode string

const (
	RetrievalKeyword RetrievalMode = "keyword"
	RetrievalVector  RetrievalMode = "vector"
)

// Config is the top-level triage configuration, corresponding to .triage.yml.
type Config struct {
	Provider          ProviderType  `yaml:"provider" koanf:"provider"`
	Model             string        `yaml:"model" koanf:"model"`
	EmbeddingProvider ProviderType  `yaml:"embedding_provider" koanf:"embedding_provider"`
	EmbeddingModel    string        `yaml:"embedding_model" koanf:"embedding_model"`
	Retrieval         RetrievalMode `yaml:"retrieval" koanf:"retrieval"`
	RetrievalTopK     int           `yaml:"retrieval_top_k" koanf:"retrieval_top_k"`
	DataDir           string        `yaml:"data_dir" koanf:"data_dir"`
	Port              int           `yaml:"port" koanf:"port"`

	// LowConfidence is the threshold below which a trace step is treated
	// as low confidence. Steps with no evidence are clamped to it.
	LowConfidence float64 `yaml:"low_confidence" koanf:"low_confidence"`

	// ReasonerTimeoutSeconds bounds each model-backed call; ReasonerRetries
	// is the retry budget before falling back to the rule engine.
	ReasonerTimeoutSeconds int `yaml:"reasoner_timeout_seconds" koanf:"reasoner_timeout_seconds"`
	ReasonerRetries        int `yaml:"reasoner_retries" koanf:"reasoner_retries"`

	// RequestsPerMinute rate-limits the LLM provider. 0 disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute" koanf:"requests_per_minute"`

	// MaxBodyBytes caps inbound email bodies; longer bodies are truncated.
	MaxBodyBytes int `yaml:"max_body_bytes" koanf:"max_body_bytes"`
}
