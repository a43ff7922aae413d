package kb

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"

	"github.com/inboundops/triage/internal/db"
)

const (
	maxChunkChars = 2200
	chunkOverlap  = 250
)

// IngestStats reports what ingesting one document did.
type IngestStats struct {
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
	Chunks   int    `json:"chunks"`
	Embedded int    `json:"embedded"`
}

// Ingestor brings documents into the knowledge base. Chunks are always
// stored in SQLite for the keyword strategy; when a vector retriever
// is attached they are embedded into the chromem collection as well.
type Ingestor struct {
	db     *db.DB
	vector *VectorRetriever
}

// NewIngestor creates an ingestor. vector may be nil in keyword-only
// mode.
func NewIngestor(database *db.DB, vector *VectorRetriever) *Ingestor {
	return &Ingestor{db: database, vector: vector}
}

// PersistVector writes the attached vector index to dir. It is a no-op
// in keyword-only mode.
func (ing *Ingestor) PersistVector(dir string) error {
	if ing.vector == nil {
		return nil
	}
	return ing.vector.Persist(dir)
}

// IngestFile ingests a single document. Markdown files have their
// formatting stripped first; anything else is treated as plain text.
// Re-ingesting a filename replaces its previous chunks.
func (ing *Ingestor) IngestFile(ctx context.Context, filename string, content []byte) (IngestStats, error) {
	text := string(content)
	if ext := strings.ToLower(filepath.Ext(filename)); ext == ".md" || ext == ".markdown" {
		text = markdownToText(content)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return IngestStats{}, fmt.Errorf("document %s has no extractable text", filename)
	}

	pages := strings.Count(text, "\f") + 1
	chunks := chunkText(text, maxChunkChars, chunkOverlap)

	docID := uuid.NewString()
	base := filepath.Base(filename)

	tx, err := ing.db.BeginTx(ctx, nil)
	if err != nil {
		return IngestStats{}, err
	}
	defer tx.Rollback()

	// Replace any earlier ingest of the same file.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kb_documents WHERE filename = ?`, base); err != nil {
		return IngestStats{}, fmt.Errorf("removing prior document: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kb_documents (doc_id, filename, pages) VALUES (?, ?, ?)`,
		docID, base, pages); err != nil {
		return IngestStats{}, fmt.Errorf("inserting document: %w", err)
	}

	embed := ing.vector != nil
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = fmt.Sprintf("%s-c%d", docID, i)
		embedded := 0
		if embed {
			embedded = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kb_chunks (chunk_id, doc_id, chunk_index, chunk_text, embedded) VALUES (?, ?, ?, ?, ?)`,
			ids[i], docID, i, chunk, embedded); err != nil {
			return IngestStats{}, fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return IngestStats{}, err
	}

	stats := IngestStats{Filename: base, Pages: pages, Chunks: len(chunks)}
	if embed {
		if err := ing.vector.Add(ctx, ids, chunks, base); err != nil {
			return stats, fmt.Errorf("embedding chunks: %w", err)
		}
		stats.Embedded = len(chunks)
	}
	return stats, nil
}

// chunkText splits text into overlapping windows.
func chunkText(s string, maxChars, overlap int) []string {
	if len(s) <= maxChars {
		return []string{s}
	}
	step := maxChars - overlap
	var chunks []string
	for start := 0; start < len(s); start += step {
		end := start + maxChars
		if end >= len(s) {
			chunks = append(chunks, s[start:])
			break
		}
		chunks = append(chunks, s[start:end])
	}
	return chunks
}

// markdownToText strips markdown formatting, keeping prose and code
// block contents.
func markdownToText(src []byte) string {
	doc := goldmark.New().Parser().Parse(gtext.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteString("\n")
			}
		case *ast.FencedCodeBlock:
			writeLines(&b, node, src)
		case *ast.CodeBlock:
			writeLines(&b, node, src)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func writeLines(b *strings.Builder, n ast.Node, src []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
}
