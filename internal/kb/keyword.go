package kb

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/inboundops/triage/internal/db"
)

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// KeywordRetriever ranks stored chunks by word overlap with the
// query. It is the deterministic no-credential strategy; identical
// queries always rank identically.
type KeywordRetriever struct {
	db *db.DB
}

// NewKeywordRetriever creates a keyword retriever over stored chunks.
func NewKeywordRetriever(database *db.DB) *KeywordRetriever {
	return &KeywordRetriever{db: database}
}

func (r *KeywordRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = 5
	}

	queryWords := tokenize(query)
	if len(queryWords) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT c.chunk_text, d.filename FROM kb_chunks c JOIN kb_documents d ON d.doc_id = c.doc_id`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		var text, filename string
		if err := rows.Scan(&text, &filename); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}

		chunkWords := tokenize(text)
		overlap := 0
		for w := range queryWords {
			if _, ok := chunkWords[w]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		passages = append(passages, Passage{
			Text:   text,
			Source: filename,
			Score:  float64(overlap) / float64(len(queryWords)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })
	if len(passages) > topK {
		passages = passages[:topK]
	}
	return passages, nil
}

func tokenize(s string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		if len(w) < 2 {
			continue
		}
		words[w] = struct{}{}
	}
	return words
}
