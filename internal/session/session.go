package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inboundops/triage/internal/db"
	"github.com/inboundops/triage/internal/guardrail"
	"github.com/inboundops/triage/internal/kb"
	"github.com/inboundops/triage/internal/pipeline"
	"github.com/inboundops/triage/internal/reasoner"
)

// ErrNotFound indicates a follow-up referenced an unknown
// conversation. It is surfaced to the caller; no state is written.
var ErrNotFound = errors.New("conversation not found")

// Snapshot is the stored grounding for a conversation: the original
// email and the most recent successful decision.
type Snapshot struct {
	ConversationID string            `json:"conversation_id"`
	Email          pipeline.Email    `json:"email"`
	Decision       pipeline.Decision `json:"decision"`
}

// Message is one stored conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds conversation sessions in SQLite. Follow-ups on the same
// conversation serialize through a per-conversation lock so reads of
// the stored decision never interleave with updates.
type Store struct {
	db        *db.DB
	retriever kb.Retriever
	reason    reasoner.Reasoner

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a session store.
func NewStore(database *db.DB, retriever kb.Retriever, reason reasoner.Reasoner) *Store {
	return &Store{
		db:        database,
		retriever: retriever,
		reason:    reason,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Store) lock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[conversationID]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[conversationID] = lk
	}
	return lk
}

// Start persists a new conversation for a completed run. Callers only
// invoke it after the pipeline produced a decision, so a failed run
// never creates or overwrites a session.
func (s *Store) Start(ctx context.Context, email pipeline.Email, decision *pipeline.Decision) (string, error) {
	emailJSON, err := json.Marshal(email)
	if err != nil {
		return "", fmt.Errorf("encoding email: %w", err)
	}
	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return "", fmt.Errorf("encoding decision: %w", err)
	}

	conversationID := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, run_id, email_json, decision_json) VALUES (?, ?, ?, ?)`,
		conversationID, decision.RunID, string(emailJSON), string(decisionJSON))
	if err != nil {
		return "", fmt.Errorf("inserting conversation: %w", err)
	}

	if err := s.addMessage(ctx, conversationID, "assistant", decision.AssistantMessage); err != nil {
		return "", err
	}
	return conversationID, nil
}

// Get loads the stored snapshot for a conversation.
func (s *Store) Get(ctx context.Context, conversationID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT email_json, decision_json FROM conversations WHERE conversation_id = ?`,
		conversationID)

	var emailJSON, decisionJSON string
	err := row.Scan(&emailJSON, &decisionJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	snap := &Snapshot{ConversationID: conversationID}
	if err := json.Unmarshal([]byte(emailJSON), &snap.Email); err != nil {
		return nil, fmt.Errorf("decoding stored email: %w", err)
	}
	if err := json.Unmarshal([]byte(decisionJSON), &snap.Decision); err != nil {
		return nil, fmt.Errorf("decoding stored decision: %w", err)
	}
	return snap, nil
}

// Continue answers a follow-up turn. The stored decision and original
// email ground a single reasoner call; the stored decision's trace is
// never modified. Unknown conversation IDs return ErrNotFound with
// nothing written.
func (s *Store) Continue(ctx context.Context, conversationID, message string) (string, error) {
	lk := s.lock(conversationID)
	lk.Lock()
	defer lk.Unlock()

	snap, err := s.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}

	grounding := []string{
		fmt.Sprintf("category=%s route=%s intent=%s", snap.Decision.Category, snap.Decision.Route, snap.Decision.Intent),
		"summary: " + snap.Decision.Summary,
	}
	if snap.Decision.DraftedEmail != "" {
		grounding = append(grounding, "drafted reply: "+snap.Decision.DraftedEmail)
	}
	if snap.Decision.CRMOpportunity != nil {
		grounding = append(grounding, fmt.Sprintf("pending escalation %s: %s",
			snap.Decision.CRMOpportunity.OpportunityID, snap.Decision.CRMOpportunity.Reason))
	}

	passages, err := s.retriever.Retrieve(ctx, snap.Email.Subject+"\n"+message, 4)
	if err == nil {
		for _, passage := range passages {
			grounding = append(grounding, fmt.Sprintf("[%s] %s", passage.Source, passage.Text))
		}
	}

	out, err := s.reason.Judge(ctx, reasoner.JudgeRequest{
		Step:        "conversation_followup",
		Instruction: "Answer the representative's follow-up message grounded on the prior analysis and context. Follow-up message: " + message,
		Email: reasoner.EmailInput{
			Sender:  snap.Email.SenderEmail,
			Subject: snap.Email.Subject,
			Body:    snap.Email.Body,
		},
		Context: grounding,
		Schema:  guardrail.Schema{Required: []string{"reply"}},
	})
	if err != nil {
		return "", fmt.Errorf("follow-up reasoning: %w", err)
	}
	reply, _ := out["reply"].(string)
	if reply == "" {
		return "", fmt.Errorf("follow-up reasoning returned no reply")
	}

	if err := s.addMessage(ctx, conversationID, "user", message); err != nil {
		return "", err
	}
	if err := s.addMessage(ctx, conversationID, "assistant", reply); err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = datetime('now') WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return "", fmt.Errorf("touching conversation: %w", err)
	}
	return reply, nil
}

func (s *Store) addMessage(ctx context.Context, conversationID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (conversation_id, role, content) VALUES (?, ?, ?)`,
		conversationID, role, content)
	if err != nil {
		return fmt.Errorf("inserting %s message: %w", role, err)
	}
	return nil
}

// Messages returns a conversation's turns, oldest first.
func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE conversation_id = ?`, conversationID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM conversation_messages WHERE conversation_id = ? ORDER BY id ASC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
