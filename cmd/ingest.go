package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/inboundops/triage/internal/config"
	"github.com/inboundops/triage/internal/progress"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <glob>...",
	Short: "Ingest knowledge base documents",
	Long: `Chunks and indexes markdown or text documents into the knowledge base.
Globs support ** for recursive matching, e.g. "docs/**/*.md". With
vector retrieval configured, chunks are embedded and the index is
persisted under the data dir.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		_, _, ingestor, err := buildEngine(cfg, database)
		if err != nil {
			return err
		}

		files, err := expandGlobs(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no files matched the given patterns")
		}

		reporter := progress.NewReporter()
		reporter.Start(len(files), "Ingesting documents")

		totalChunks, totalEmbedded := 0, 0
		for i, path := range files {
			content, err := os.ReadFile(path)
			if err != nil {
				reporter.Finish()
				return fmt.Errorf("reading %s: %w", path, err)
			}
			stats, err := ingestor.IngestFile(cmd.Context(), filepath.Base(path), content)
			if err != nil {
				reporter.Finish()
				return fmt.Errorf("ingesting %s: %w", path, err)
			}
			totalChunks += stats.Chunks
			totalEmbedded += stats.Embedded
			reporter.Update(i+1, filepath.Base(path))
		}
		reporter.Finish()

		if cfg.Retrieval == config.RetrievalVector {
			if err := ingestor.PersistVector(filepath.Join(cfg.DataDir, "vectordb")); err != nil {
				return fmt.Errorf("persisting vector index: %w", err)
			}
			fmt.Printf("Ingested %d documents (%d chunks, %d embedded)\n", len(files), totalChunks, totalEmbedded)
		} else {
			fmt.Printf("Ingested %d documents (%d chunks)\n", len(files), totalChunks)
		}
		return nil
	},
}

// expandGlobs resolves doublestar patterns into a sorted, deduplicated
// file list. Literal paths pass through untouched.
func expandGlobs(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
