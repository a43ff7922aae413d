package reasoner

import (
	"context"
	"errors"

	"github.com/inboundops/triage/internal/guardrail"
)

// ErrUnavailable indicates the model backend could not produce usable
// output. Callers fall back to the deterministic engine; the error is
// logged, never surfaced to the end user.
var ErrUnavailable = errors.New("reasoner unavailable")

// Category labels for inbound email classification.
const (
	CategorySales   = "Sales"
	CategorySupport = "Support"
)

// Support intents. The deterministic engine and the model-backed
// engine both restrict themselves to these values.
const (
	IntentAccessIssue     = "Access issue around product"
	IntentRefundRequest   = "Refund request"
	IntentTechnicalIssue  = "Technical issue"
	IntentAccountVerify   = "Account verification"
	IntentNeedMoreInfo    = "Need more info from customer"
	IntentOtherSupport    = "Other support"
	IntentProductInquiry  = "Specific product related inquiry"
	IntentRequirements    = "Customer requirement possible products"
	IntentPricingBundling = "Best price offer and bundling related query"
	IntentOrderQuery      = "Order related query"
	IntentOtherSales      = "Other sales"
)

// SupportIntents lists every intent routed to the support branch.
var SupportIntents = []string{
	IntentAccessIssue,
	IntentRefundRequest,
	IntentTechnicalIssue,
	IntentAccountVerify,
	IntentNeedMoreInfo,
	IntentOtherSupport,
}

// SalesIntents lists every intent routed to the sales branch.
var SalesIntents = []string{
	IntentProductInquiry,
	IntentRequirements,
	IntentPricingBundling,
	IntentOrderQuery,
	IntentNeedMoreInfo,
	IntentOtherSales,
}

// EmailInput is the email content a reasoner works from.
type EmailInput struct {
	Sender  string
	Subject string
	Body    string
}

// Classification is the structured judgment produced for an email.
type Classification struct {
	Category   string
	Intent     string
	Confidence float64
	Reasoning  string
}

// JudgeRequest asks for a structured judgment on one pipeline step.
// Context carries the literal evidence and retrieved passages the
// judgment must be grounded on.
type JudgeRequest struct {
	Step        string
	Instruction string
	Email       EmailInput
	Context     []string
	Schema      guardrail.Schema
}

// Reasoner produces structured judgments. Implementations must emit
// output passing the same guardrail schemas regardless of strategy.
type Reasoner interface {
	Classify(ctx context.Context, email EmailInput) (*Classification, error)
	Judge(ctx context.Context, req JudgeRequest) (map[string]any, error)
}

// ClassifySchema is the guardrail contract for classification output.
func ClassifySchema() guardrail.Schema {
	allowed := make([]string, 0, len(SupportIntents)+len(SalesIntents))
	allowed = append(allowed, SupportIntents...)
	allowed = append(allowed, SalesIntents...)
	return guardrail.Schema{
		Required: []string{"intent", "confidence"},
		Enums:    map[string][]string{"intent": allowed},
		Ranges:   map[string]guardrail.Range{"confidence": {Min: 0, Max: 1}},
	}
}

// CategoryForIntent maps an intent to its category. Unknown intents
// land in Support so a human reviews them.
func CategoryForIntent(intent string) string {
	for _, s := range SalesIntents {
		if s == intent {
			return CategorySales
		}
	}
	return CategorySupport
}
