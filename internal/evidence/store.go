package evidence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inboundops/triage/internal/db"
)

// Store gives the pipeline uniform read access to structured records.
// Lookups return empty slices or nil, never an error, when nothing
// matches; absent evidence is a low-confidence case, not a failure.
type Store struct {
	db *db.DB
}

// NewStore creates a store over the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Customer is a row from the customers table.
type Customer struct {
	CustomerID string
	Name       string
	Email      string
	Company    string
	Tier       string
}

// Product is a row from the products table.
type Product struct {
	ProductID    string
	Name         string
	Description  string
	Category     string
	BasePrice    float64
	IsRefundable bool
}

// Subscription is a row from the subscriptions table.
type Subscription struct {
	SubscriptionID string
	CustomerID     string
	ProductID      string
	Status         string
	Seats          int
}

// Order is a row from the orders table.
type Order struct {
	OrderID        string
	OrderNumber    string
	CustomerID     string
	ProductID      string
	Status         string
	TotalAmount    float64
	TrackingNumber string
	CreatedAt      time.Time
}

// PricingPolicy is a row from the pricing_policies table.
type PricingPolicy struct {
	PolicyID           string
	PolicyName         string
	CustomerTier       string
	MaxDiscountPercent float64
	ApprovalThreshold  float64
}

// RefundPolicy is a row from the refund_policies table.
type RefundPolicy struct {
	PolicyID         string
	ProductID        string
	RefundWindowDays int
	RefundPercentage float64
	RequiresApproval bool
}

// Ticket is a row from the tickets table.
type Ticket struct {
	TicketID      string
	TicketNumber  string
	CustomerEmail string
	Subject       string
	Category      string
	Status        string
	Priority      string
}

// CustomerByEmail looks up a customer by email address. Returns nil
// when no customer matches.
func (s *Store) CustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT customer_id, name, email, company, tier FROM customers WHERE email = ? LIMIT 1`,
		strings.ToLower(strings.TrimSpace(email)))

	var c Customer
	err := row.Scan(&c.CustomerID, &c.Name, &c.Email, &c.Company, &c.Tier)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}
	return &c, nil
}

// Products returns the full product catalog.
func (s *Store) Products(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, name, description, category, base_price, is_refundable FROM products ORDER BY base_price DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		var refundable int
		if err := rows.Scan(&p.ProductID, &p.Name, &p.Description, &p.Category, &p.BasePrice, &refundable); err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		p.IsRefundable = refundable != 0
		products = append(products, p)
	}
	return products, rows.Err()
}

// ProductByID looks up a single product. Returns nil when absent.
func (s *Store) ProductByID(ctx context.Context, productID string) (*Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT product_id, name, description, category, base_price, is_refundable FROM products WHERE product_id = ? LIMIT 1`,
		productID)

	var p Product
	var refundable int
	err := row.Scan(&p.ProductID, &p.Name, &p.Description, &p.Category, &p.BasePrice, &refundable)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying product: %w", err)
	}
	p.IsRefundable = refundable != 0
	return &p, nil
}

// OrdersByCustomer returns all orders for a customer, newest first.
func (s *Store) OrdersByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, order_number, customer_id, product_id, status, total_amount, tracking_number, created_at
		 FROM orders WHERE customer_id = ? ORDER BY created_at DESC`,
		customerID)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// OrderByNumber looks up an order by its order number, optionally
// scoped to a customer. Returns nil when absent.
func (s *Store) OrderByNumber(ctx context.Context, orderNumber, customerID string) (*Order, error) {
	query := `SELECT order_id, order_number, customer_id, product_id, status, total_amount, tracking_number, created_at
	          FROM orders WHERE order_number = ?`
	args := []any{orderNumber}
	if customerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, customerID)
	}
	query += ` LIMIT 1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying order: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.OrderID, &o.OrderNumber, &o.CustomerID, &o.ProductID, &o.Status, &o.TotalAmount, &o.TrackingNumber, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ActiveSubscriptions returns a customer's ACTIVE subscriptions.
func (s *Store) ActiveSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscription_id, customer_id, product_id, status, seats
		 FROM subscriptions WHERE customer_id = ? AND status = 'ACTIVE'`,
		customerID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.SubscriptionID, &sub.CustomerID, &sub.ProductID, &sub.Status, &sub.Seats); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// PricingPolicyByTier returns the active pricing policy for a customer
// tier. Returns nil when the tier has no active policy.
func (s *Store) PricingPolicyByTier(ctx context.Context, tier string) (*PricingPolicy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT policy_id, policy_name, customer_tier, max_discount_percent, approval_threshold
		 FROM pricing_policies WHERE customer_tier = ? AND active = 1 LIMIT 1`,
		tier)

	var p PricingPolicy
	err := row.Scan(&p.PolicyID, &p.PolicyName, &p.CustomerTier, &p.MaxDiscountPercent, &p.ApprovalThreshold)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying pricing policy: %w", err)
	}
	return &p, nil
}

// RefundPolicyByProduct returns the active refund policy for a
// product. Returns nil when the product has no active policy.
func (s *Store) RefundPolicyByProduct(ctx context.Context, productID string) (*RefundPolicy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT policy_id, product_id, refund_window_days, refund_percentage, requires_approval
		 FROM refund_policies WHERE product_id = ? AND active = 1 LIMIT 1`,
		productID)

	var p RefundPolicy
	var approval int
	err := row.Scan(&p.PolicyID, &p.ProductID, &p.RefundWindowDays, &p.RefundPercentage, &approval)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying refund policy: %w", err)
	}
	p.RequiresApproval = approval != 0
	return &p, nil
}

// CreateTicket files a new OPEN ticket and returns it. This is the
// store's only write path exposed to the pipeline.
func (s *Store) CreateTicket(ctx context.Context, customerEmail, subject, body, category string) (*Ticket, error) {
	t := &Ticket{
		TicketID:      uuid.NewString(),
		TicketNumber:  "TCK-" + strings.ToUpper(uuid.NewString()[:8]),
		CustomerEmail: customerEmail,
		Subject:       subject,
		Category:      category,
		Status:        "OPEN",
		Priority:      "MEDIUM",
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (ticket_id, ticket_number, customer_email, email_subject, email_content, category, status, priority)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TicketID, t.TicketNumber, t.CustomerEmail, t.Subject, body, t.Category, t.Status, t.Priority)
	if err != nil {
		return nil, fmt.Errorf("inserting ticket: %w", err)
	}
	return t, nil
}
