package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/inboundops/triage/internal/db"
)

// Auditor persists every trace step to the agent_runs table so a
// completed run can be replayed from storage.
type Auditor struct {
	db *db.DB
}

// NewAuditor creates an auditor over the given database.
func NewAuditor(database *db.DB) *Auditor {
	return &Auditor{db: database}
}

// Record writes one trace step for a run.
func (a *Auditor) Record(ctx context.Context, runID string, step TraceStep) error {
	evidence, err := json.Marshal(step.Evidence)
	if err != nil {
		evidence = []byte("[]")
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO agent_runs (run_id, step_name, reasoning, confidence, evidence_json) VALUES (?, ?, ?, ?, ?)`,
		runID, step.StepName, step.Reasoning, step.Confidence, string(evidence))
	if err != nil {
		return fmt.Errorf("recording step %s: %w", step.StepName, err)
	}
	return nil
}

// Steps returns the recorded trace for a run, in execution order.
func (a *Auditor) Steps(ctx context.Context, runID string) ([]TraceStep, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT step_name, reasoning, confidence, evidence_json FROM agent_runs WHERE run_id = ? ORDER BY id ASC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("querying run steps: %w", err)
	}
	defer rows.Close()

	var steps []TraceStep
	for rows.Next() {
		var step TraceStep
		var evidence string
		if err := rows.Scan(&step.StepName, &step.Reasoning, &step.Confidence, &evidence); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		if err := json.Unmarshal([]byte(evidence), &step.Evidence); err != nil {
			step.Evidence = nil
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
