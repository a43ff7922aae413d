package kb

import "context"

// Passage is one retrieved knowledge-base excerpt.
type Passage struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Retriever returns the passages most relevant to a query, ordered by
// descending score. The pipeline does not know which strategy backs
// it; that is decided once at startup.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}
