package kb

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/inboundops/triage/internal/embeddings"
)

const collectionName = "knowledge_base"

// VectorRetriever ranks chunks by embedding similarity using an
// in-memory chromem collection.
type VectorRetriever struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedFunc  chromem.EmbeddingFunc
}

// NewVectorRetriever creates a vector retriever backed by the given
// embedder.
func NewVectorRetriever(embedder embeddings.Embedder) (*VectorRetriever, error) {
	cdb := chromem.NewDB()
	ef := embeddings.ToChromemFunc(embedder)

	col, err := cdb.GetOrCreateCollection(collectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &VectorRetriever{db: cdb, collection: col, embedFunc: ef}, nil
}

// Add stores chunks in the collection. IDs must be unique per chunk.
func (r *VectorRetriever) Add(ctx context.Context, ids, texts []string, source string) error {
	if len(ids) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(ids))
	for i := range ids {
		docs[i] = chromem.Document{
			ID:       ids[i],
			Content:  texts[i],
			Metadata: map[string]string{"source": source},
		}
	}
	return r.collection.AddDocuments(ctx, docs, 1)
}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = 5
	}

	// chromem-go requires nResults <= collection size.
	count := r.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := r.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	passages := make([]Passage, len(results))
	for i, res := range results {
		passages[i] = Passage{
			Text:   res.Content,
			Source: res.Metadata["source"],
			Score:  float64(res.Similarity),
		}
	}
	return passages, nil
}

// Persist writes the collection to dir for reuse across restarts.
func (r *VectorRetriever) Persist(dir string) error {
	return r.db.ExportToFile(dir+"/chromem.gob.gz", true, "")
}

// Load restores a previously persisted collection from dir.
func (r *VectorRetriever) Load(dir string) error {
	if err := r.db.ImportFromFile(dir+"/chromem.gob.gz", ""); err != nil {
		return fmt.Errorf("import from file: %w", err)
	}

	// Re-acquire collection reference after import.
	col := r.db.GetCollection(collectionName, r.embedFunc)
	if col == nil {
		return fmt.Errorf("collection %q not found after import", collectionName)
	}
	r.collection = col
	return nil
}

// Count reports how many chunks the collection holds.
func (r *VectorRetriever) Count() int {
	return r.collection.Count()
}
