package evidence

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// csvTables maps reference tables to the CSV files that seed them.
var csvTables = []struct {
	table string
	file  string
}{
	{"customers", "customers.csv"},
	{"products", "products.csv"},
	{"subscriptions", "subscriptions.csv"},
	{"orders", "orders.csv"},
	{"pricing_policies", "pricing_policies.csv"},
	{"refund_policies", "refund_policies.csv"},
	{"tickets", "tickets.csv"},
}

// LoadStats reports what one table load did.
type LoadStats struct {
	Table string
	Rows  int
	Cols  int
}

// LoadCSVDir loads reference data from CSV files in dir into the
// evidence tables. Each table is cleared first so repeated loads stay
// deterministic. Files that do not exist are skipped. The CSV header
// row names the columns to insert. The report callback, if non-nil, is
// invoked after each table finishes loading.
func (s *Store) LoadCSVDir(ctx context.Context, dir string, report func(done, total int, table string)) ([]LoadStats, error) {
	var present []struct{ table, path string }
	for _, ct := range csvTables {
		path := filepath.Join(dir, ct.file)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		present = append(present, struct{ table, path string }{ct.table, path})
	}

	var stats []LoadStats
	for i, ct := range present {
		st, err := s.loadCSVFile(ctx, ct.table, ct.path)
		if err != nil {
			return stats, fmt.Errorf("loading %s: %w", filepath.Base(ct.path), err)
		}
		stats = append(stats, st)
		if report != nil {
			report(i+1, len(present), ct.table)
		}
	}

	return stats, nil
}

func (s *Store) loadCSVFile(ctx context.Context, table, path string) (LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadStats{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return LoadStats{}, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LoadStats{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return LoadStats{}, fmt.Errorf("clearing table: %w", err)
	}

	cols := make([]string, len(header))
	for i, c := range header {
		cols[i] = `"` + c + `"`
	}
	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return LoadStats{}, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	rows := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return LoadStats{}, fmt.Errorf("reading row %d: %w", rows+1, err)
		}

		args := make([]any, len(record))
		for i, v := range record {
			if v == "" {
				args[i] = nil
			} else {
				args[i] = v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return LoadStats{}, fmt.Errorf("inserting row %d: %w", rows+1, err)
		}
		rows++
	}

	if err := tx.Commit(); err != nil {
		return LoadStats{}, err
	}

	return LoadStats{Table: table, Rows: rows, Cols: len(header)}, nil
}
