package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/inboundops/triage/internal/db"
	"github.com/inboundops/triage/internal/evidence"
	"github.com/inboundops/triage/internal/guardrail"
	"github.com/inboundops/triage/internal/kb"
	"github.com/inboundops/triage/internal/pipeline"
	"github.com/inboundops/triage/internal/reasoner"
	"github.com/inboundops/triage/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	seed := []string{
		`INSERT INTO customers (customer_id, name, email, company, tier) VALUES
			('C-1', 'Alice Meyer', 'alice@example.com', 'Acme', 'Gold')`,
		`INSERT INTO products (product_id, name, description, category, base_price, is_refundable) VALUES
			('P-1', 'Analytics Suite', 'dashboards and reporting', 'analytics', 1200, 1)`,
		`INSERT INTO pricing_policies (policy_id, policy_name, customer_tier, max_discount_percent, approval_threshold, active) VALUES
			('PP-1', 'Gold tier discounts', 'Gold', 20, 15, 1)`,
	}
	for _, stmt := range seed {
		if _, err := database.Exec(stmt); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	retriever := kb.NewKeywordRetriever(database)
	rules := reasoner.NewRuleReasoner(0.45)
	pipe := pipeline.New(
		evidence.NewStore(database),
		retriever,
		rules,
		guardrail.NewValidator(0),
		pipeline.NewAuditor(database),
		pipeline.Options{LowConfidence: 0.45},
	)
	sessions := session.NewStore(database, retriever, rules)
	ingestor := kb.NewIngestor(database, nil)

	srv := New(Config{Port: 0}, pipe, sessions, ingestor)
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestTriageEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/triage", triageRequest{
		SenderEmail: "alice@example.com",
		Subject:     "Pricing for a bundle",
		Body:        "What discount can you offer on a bundle of your products?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out triageResponse
	decodeBody(t, resp, &out)

	if out.ConversationID == "" {
		t.Error("conversation_id is empty")
	}
	if out.Decision == nil {
		t.Fatal("decision is nil")
	}
	if out.Decision.Category != reasoner.CategorySales {
		t.Errorf("category = %q, want %q", out.Decision.Category, reasoner.CategorySales)
	}
	if len(out.Decision.Trace) == 0 {
		t.Error("decision has no trace steps")
	}
}

func TestTriageRejectsInvalidEmail(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/triage", triageRequest{
		SenderEmail: "not-an-address",
		Subject:     "Hello",
		Body:        "Some body",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var out map[string]string
	decodeBody(t, resp, &out)
	if out["error"] == "" {
		t.Error("expected error message in body")
	}
}

func TestConversationMessageEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/triage", triageRequest{
		SenderEmail: "alice@example.com",
		Subject:     "Order status",
		Body:        "Where is my order ORD-1001?",
	})
	var triaged triageResponse
	decodeBody(t, resp, &triaged)

	resp = postJSON(t, ts.URL+"/api/conversation/message", messageRequest{
		ConversationID: triaged.ConversationID,
		Message:        "Can you share the tracking number?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out messageResponse
	decodeBody(t, resp, &out)
	if out.Reply == "" {
		t.Error("reply is empty")
	}

	resp, err := http.Get(ts.URL + "/api/conversation/" + triaged.ConversationID + "/messages")
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var listing struct {
		Messages []session.Message `json:"messages"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Messages) != 3 {
		t.Errorf("got %d messages, want 3", len(listing.Messages))
	}
}

func TestConversationMessageUnknownID(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/conversation/message", messageRequest{
		ConversationID: "no-such-conversation",
		Message:        "hello",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestKBUploadEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "refund-policy.md")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	fw.Write([]byte("# Refund policy\n\nRefunds are available within 30 days of purchase.\n"))
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/kb/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /api/kb/upload: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var stats kb.IngestStats
	decodeBody(t, resp, &stats)
	if stats.Chunks == 0 {
		t.Error("expected at least one chunk ingested")
	}
}

func TestWebSocketChat(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/triage", triageRequest{
		SenderEmail: "alice@example.com",
		Subject:     "Pricing question",
		Body:        "What is the price of the Analytics Suite?",
	})
	var triaged triageResponse
	decodeBody(t, resp, &triaged)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(chatRequest{
		Type:           "message",
		ConversationID: triaged.ConversationID,
		Content:        "Do you offer annual billing?",
	}); err != nil {
		t.Fatalf("writing websocket message: %v", err)
	}
	var reply chatResponse
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("reading websocket reply: %v", err)
	}
	if reply.Type != "reply" {
		t.Errorf("type = %q, want %q", reply.Type, "reply")
	}
	if reply.Content == "" {
		t.Error("reply content is empty")
	}

	if err := conn.WriteJSON(chatRequest{Type: "message", ConversationID: "missing", Content: "hi"}); err != nil {
		t.Fatalf("writing websocket message: %v", err)
	}
	var errReply chatResponse
	if err := conn.ReadJSON(&errReply); err != nil {
		t.Fatalf("reading websocket reply: %v", err)
	}
	if errReply.Type != "error" {
		t.Errorf("type = %q, want %q", errReply.Type, "error")
	}
}
