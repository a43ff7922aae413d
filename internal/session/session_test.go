package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/inboundops/triage/internal/db"
	"github.com/inboundops/triage/internal/kb"
	"github.com/inboundops/triage/internal/pipeline"
	"github.com/inboundops/triage/internal/reasoner"
)

func newTestStore(t *testing.T) (*Store, *db.DB) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := NewStore(database, kb.NewKeywordRetriever(database), reasoner.NewRuleReasoner(0.45))
	return store, database
}

func testDecision() *pipeline.Decision {
	return &pipeline.Decision{
		RunID:            "run-1",
		Category:         reasoner.CategorySales,
		Route:            pipeline.RoutePricingBundling,
		Intent:           reasoner.IntentPricingBundling,
		Summary:          "Prepared pricing options.",
		AssistantMessage: "Classified as Sales and routed to pricing_bundling.",
	}
}

func TestStartAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	email := pipeline.Email{SenderEmail: "alice@example.com", Subject: "Pricing", Body: "Discount?"}
	cid, err := store.Start(ctx, email, testDecision())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if cid == "" {
		t.Fatal("empty conversation id")
	}

	snap, err := store.Get(ctx, cid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Email != email {
		t.Errorf("stored email = %+v, want %+v", snap.Email, email)
	}
	if snap.Decision.Route != pipeline.RoutePricingBundling {
		t.Errorf("stored route = %q", snap.Decision.Route)
	}
}

func TestGetUnknownConversation(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestContinueUnknownConversationWritesNothing(t *testing.T) {
	store, database := newTestStore(t)

	_, err := store.Continue(context.Background(), "no-such-id", "any update?")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM conversation_messages`).Scan(&count); err != nil {
		t.Fatalf("counting messages: %v", err)
	}
	if count != 0 {
		t.Errorf("messages = %d, want 0 after failed lookup", count)
	}
}

func TestContinueAppendsMessages(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	email := pipeline.Email{SenderEmail: "alice@example.com", Subject: "Pricing", Body: "Discount?"}
	cid, err := store.Start(ctx, email, testDecision())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	reply, err := store.Continue(ctx, cid, "The customer wants 60 seats, does that change the price?")
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if reply == "" {
		t.Fatal("empty reply")
	}

	messages, err := store.Messages(ctx, cid, 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	// Initial assistant message plus the follow-up pair.
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(messages))
	}
	if messages[1].Role != "user" || messages[2].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", messages[1].Role, messages[2].Role)
	}
}

func TestContinueDoesNotMutateStoredDecision(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	email := pipeline.Email{SenderEmail: "alice@example.com", Subject: "Pricing", Body: "Discount?"}
	cid, err := store.Start(ctx, email, testDecision())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	before, err := store.Get(ctx, cid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if _, err := store.Continue(ctx, cid, "More details please."); err != nil {
		t.Fatalf("Continue: %v", err)
	}

	after, err := store.Get(ctx, cid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(after.Decision.Trace) != len(before.Decision.Trace) {
		t.Error("follow-up modified the stored decision trace")
	}
	if after.Decision.Summary != before.Decision.Summary {
		t.Error("follow-up modified the stored decision summary")
	}
}

func TestConcurrentFollowupsSerialize(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	email := pipeline.Email{SenderEmail: "alice@example.com", Subject: "Pricing", Body: "Discount?"}
	cid, err := store.Start(ctx, email, testDecision())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	const turns = 8
	var wg sync.WaitGroup
	errs := make(chan error, turns)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Continue(ctx, cid, "another follow-up"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Continue: %v", err)
	}

	messages, err := store.Messages(ctx, cid, 100)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 1+2*turns {
		t.Errorf("messages = %d, want %d", len(messages), 1+2*turns)
	}
}

func TestMessagesUnknownConversation(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Messages(context.Background(), "no-such-id", 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
