package embeddings

import (
	"fmt"
	"os"
)

// NewEmbedder constructs an embedder for the given provider and model.
// Supported providers are "openai" and "ollama".
func NewEmbedder(provider, model string) (Embedder, error) {
	switch provider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		if model == "" {
			model = string(ModelTextEmbedding3Small)
		}
		return NewOpenAIEmbedder(apiKey, OpenAIModel(model)), nil
	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaEmbedder(model, 768, os.Getenv("OLLAMA_HOST")), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
	}
}
