package evidence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/inboundops/triage/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	seed := []string{
		`INSERT INTO customers (customer_id, name, email, company, tier) VALUES
			('C-1', 'Alice Meyer', 'alice@example.com', 'Acme', 'Gold'),
			('C-2', 'Bob Osei', 'bob@example.com', 'Globex', 'Standard')`,
		`INSERT INTO products (product_id, name, description, category, base_price, is_refundable) VALUES
			('P-1', 'Analytics Suite', 'dashboards and reporting', 'analytics', 1200, 1),
			('P-2', 'Data Pipeline', 'managed ingestion', 'infrastructure', 800, 0)`,
		`INSERT INTO subscriptions (subscription_id, customer_id, product_id, status, seats) VALUES
			('S-1', 'C-1', 'P-1', 'ACTIVE', 25),
			('S-2', 'C-1', 'P-2', 'CANCELLED', 5)`,
		`INSERT INTO orders (order_id, order_number, customer_id, product_id, status, total_amount, tracking_number, created_at) VALUES
			('O-1', 'ORD-1001', 'C-1', 'P-1', 'SHIPPED', 1200, 'TRK-9', datetime('now', '-3 days'))`,
		`INSERT INTO pricing_policies (policy_id, policy_name, customer_tier, max_discount_percent, approval_threshold, active) VALUES
			('PP-1', 'Gold tier discounts', 'Gold', 20, 15, 1)`,
		`INSERT INTO refund_policies (policy_id, product_id, refund_window_days, refund_percentage, requires_approval, active) VALUES
			('RP-1', 'P-1', 30, 80, 1, 1)`,
	}
	for _, stmt := range seed {
		if _, err := database.Exec(stmt); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	return NewStore(database)
}

func TestCustomerByEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cust, err := store.CustomerByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("CustomerByEmail: %v", err)
	}
	if cust == nil || cust.CustomerID != "C-1" || cust.Tier != "Gold" {
		t.Errorf("got %+v, want customer C-1 with Gold tier", cust)
	}

	missing, err := store.CustomerByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("CustomerByEmail: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown email, got %+v", missing)
	}
}

func TestOrdersByCustomer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	orders, err := store.OrdersByCustomer(ctx, "C-1")
	if err != nil {
		t.Fatalf("OrdersByCustomer: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderNumber != "ORD-1001" {
		t.Errorf("got %+v, want one order ORD-1001", orders)
	}

	empty, err := store.OrdersByCustomer(ctx, "C-2")
	if err != nil {
		t.Fatalf("OrdersByCustomer: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no orders for C-2, got %d", len(empty))
	}
}

func TestOrderByNumber(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order, err := store.OrderByNumber(ctx, "ORD-1001", "C-1")
	if err != nil {
		t.Fatalf("OrderByNumber: %v", err)
	}
	if order == nil || order.Status != "SHIPPED" {
		t.Errorf("got %+v, want shipped order", order)
	}

	// Wrong customer scoping must not match.
	wrong, err := store.OrderByNumber(ctx, "ORD-1001", "C-2")
	if err != nil {
		t.Fatalf("OrderByNumber: %v", err)
	}
	if wrong != nil {
		t.Errorf("expected nil for mismatched customer, got %+v", wrong)
	}
}

func TestActiveSubscriptions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subs, err := store.ActiveSubscriptions(ctx, "C-1")
	if err != nil {
		t.Fatalf("ActiveSubscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].ProductID != "P-1" {
		t.Errorf("got %+v, want one active subscription to P-1", subs)
	}
}

func TestPricingPolicyByTier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	policy, err := store.PricingPolicyByTier(ctx, "Gold")
	if err != nil {
		t.Fatalf("PricingPolicyByTier: %v", err)
	}
	if policy == nil || policy.MaxDiscountPercent != 20 {
		t.Errorf("got %+v, want Gold policy with 20%% max discount", policy)
	}

	none, err := store.PricingPolicyByTier(ctx, "Platinum")
	if err != nil {
		t.Fatalf("PricingPolicyByTier: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for unknown tier, got %+v", none)
	}
}

func TestRefundPolicyByProduct(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	policy, err := store.RefundPolicyByProduct(ctx, "P-1")
	if err != nil {
		t.Fatalf("RefundPolicyByProduct: %v", err)
	}
	if policy == nil || policy.RefundWindowDays != 30 || !policy.RequiresApproval {
		t.Errorf("got %+v, want 30-day policy requiring approval", policy)
	}
}

func TestCreateTicket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ticket, err := store.CreateTicket(ctx, "alice@example.com", "Refund please", "I want a refund", "Support")
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if ticket.Status != "OPEN" {
		t.Errorf("status = %q, want OPEN", ticket.Status)
	}
	if !strings.HasPrefix(ticket.TicketNumber, "TCK-") {
		t.Errorf("ticket number = %q, want TCK- prefix", ticket.TicketNumber)
	}
}

func TestLoadCSVDir(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dir := t.TempDir()
	csvData := "customer_id,name,email,company,tier\nC-9,Zoe Lang,zoe@example.com,Initech,Gold\n"
	if err := os.WriteFile(filepath.Join(dir, "customers.csv"), []byte(csvData), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	var reported []string
	stats, err := store.LoadCSVDir(ctx, dir, func(done, total int, table string) {
		reported = append(reported, table)
	})
	if err != nil {
		t.Fatalf("LoadCSVDir: %v", err)
	}
	if len(stats) != 1 || stats[0].Table != "customers" || stats[0].Rows != 1 {
		t.Errorf("stats = %+v, want one customers row", stats)
	}
	if len(reported) != 1 || reported[0] != "customers" {
		t.Errorf("reported tables = %v, want [customers]", reported)
	}

	// Loading clears prior rows, so only the CSV customer remains.
	cust, err := store.CustomerByEmail(ctx, "zoe@example.com")
	if err != nil {
		t.Fatalf("CustomerByEmail: %v", err)
	}
	if cust == nil || cust.CustomerID != "C-9" {
		t.Errorf("got %+v, want loaded customer C-9", cust)
	}
	old, err := store.CustomerByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("CustomerByEmail: %v", err)
	}
	if old != nil {
		t.Errorf("expected prior row cleared, got %+v", old)
	}
}
