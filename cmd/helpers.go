package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inboundops/triage/internal/config"
	"github.com/inboundops/triage/internal/db"
	"github.com/inboundops/triage/internal/embeddings"
	"github.com/inboundops/triage/internal/evidence"
	"github.com/inboundops/triage/internal/guardrail"
	"github.com/inboundops/triage/internal/kb"
	"github.com/inboundops/triage/internal/llm"
	"github.com/inboundops/triage/internal/pipeline"
	"github.com/inboundops/triage/internal/reasoner"
	"github.com/inboundops/triage/internal/session"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `triage init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openDatabase opens the SQLite database under the configured data dir,
// creating the directory if needed.
func openDatabase(cfg *config.Config) (*db.DB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return db.Open(filepath.Join(cfg.DataDir, "triage.db"))
}

// createEmbedderFromConfig creates an embeddings.Embedder based on config.
// Shared by the ingest and serve commands when retrieval is set to vector.
func createEmbedderFromConfig(cfg *config.Config) (embeddings.Embedder, error) {
	provider := cfg.EmbeddingProvider
	if provider == "" || provider == config.ProviderNone {
		provider = cfg.Provider
	}
	if provider == config.ProviderNone {
		return nil, fmt.Errorf("vector retrieval requires an embedding provider; set embedding_provider to openai or ollama")
	}
	return embeddings.NewEmbedder(string(provider), cfg.EmbeddingModel)
}

// createRetrieverFromConfig builds the knowledge base retriever for the
// configured retrieval mode. Vector mode loads any previously persisted
// index from the data dir.
func createRetrieverFromConfig(cfg *config.Config, database *db.DB) (kb.Retriever, *kb.VectorRetriever, error) {
	if cfg.Retrieval != config.RetrievalVector {
		return kb.NewKeywordRetriever(database), nil, nil
	}

	embedder, err := createEmbedderFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	vector, err := kb.NewVectorRetriever(embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("creating vector retriever: %w", err)
	}
	vectorDir := filepath.Join(cfg.DataDir, "vectordb")
	if err := vector.Load(vectorDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load vector index from %s: %v\n", vectorDir, err)
		fmt.Fprintf(os.Stderr, "Retrieval will be empty until `triage ingest` runs.\n")
	}
	return vector, vector, nil
}

// createReasonerFromConfig builds the reasoner stack. Provider "none"
// yields the deterministic rule engine; otherwise the model-backed
// reasoner wraps the rule engine as its fallback, with retries and rate
// limiting applied to the underlying provider.
func createReasonerFromConfig(cfg *config.Config, guard *guardrail.Validator) (reasoner.Reasoner, *reasoner.RuleReasoner, error) {
	rules := reasoner.NewRuleReasoner(cfg.LowConfidence)
	if cfg.Provider == config.ProviderNone {
		return rules, rules, nil
	}

	provider, err := llm.NewProvider(string(cfg.Provider), cfg.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	var wrapped llm.Provider = llm.NewRetryProvider(provider, cfg.ReasonerRetries, time.Duration(cfg.ReasonerTimeoutSeconds)*time.Second)
	if cfg.RequestsPerMinute > 0 {
		wrapped = llm.NewRateLimitedProvider(wrapped, cfg.RequestsPerMinute)
	}
	return reasoner.NewLLMReasoner(wrapped, guard, rules), rules, nil
}

// buildEngine wires the full triage stack from config: evidence store,
// retriever, reasoner, pipeline and session store.
func buildEngine(cfg *config.Config, database *db.DB) (*pipeline.Pipeline, *session.Store, *kb.Ingestor, error) {
	guard := guardrail.NewValidator(cfg.MaxBodyBytes)
	retriever, vector, err := createRetrieverFromConfig(cfg, database)
	if err != nil {
		return nil, nil, nil, err
	}
	reason, _, err := createReasonerFromConfig(cfg, guard)
	if err != nil {
		return nil, nil, nil, err
	}

	pipe := pipeline.New(
		evidence.NewStore(database),
		retriever,
		reason,
		guard,
		pipeline.NewAuditor(database),
		pipeline.Options{LowConfidence: cfg.LowConfidence, TopK: cfg.RetrievalTopK},
	)
	sessions := session.NewStore(database, retriever, reason)
	ingestor := kb.NewIngestor(database, vector)
	return pipe, sessions, ingestor, nil
}
