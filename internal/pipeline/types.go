package pipeline

// Email is the immutable triage input. It is validated before any
// step runs.
type Email struct {
	SenderEmail string `json:"sender_email"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// TraceStep is one recorded unit of reasoning. Steps are append-only
// and ordered; together they form the audit trail for a decision.
type TraceStep struct {
	StepName   string   `json:"step_name"`
	Reasoning  string   `json:"reasoning"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

// Recommendation is one ranked product suggestion.
type Recommendation struct {
	ProductID string  `json:"product_id,omitempty"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Purpose   string  `json:"purpose"`
	Reasoning string  `json:"reasoning"`
}

// Offer is one priced bundling option. Non-compliant offers are kept
// in the output with the reason they failed policy.
type Offer struct {
	OptionName      string   `json:"option_name"`
	TotalPrice      float64  `json:"total_price"`
	DiscountPercent float64  `json:"discount_percent"`
	Compliant       bool     `json:"compliant"`
	Reason          string   `json:"reason,omitempty"`
	Evidence        []string `json:"evidence,omitempty"`
}

// CRMOpportunity is an escalation record routed to human approval.
type CRMOpportunity struct {
	OpportunityID string  `json:"opportunity_id"`
	CustomerEmail string  `json:"customer_email"`
	ProductName   string  `json:"product_name,omitempty"`
	OrderNumber   string  `json:"order_number,omitempty"`
	RefundAmount  float64 `json:"refund_amount,omitempty"`
	Reason        string  `json:"reason"`
	Status        string  `json:"status"`
}

// Decision is the final routed output of one run. It is built
// incrementally while the graph executes and immutable once returned.
type Decision struct {
	RunID            string           `json:"run_id"`
	Category         string           `json:"category"`
	Route            string           `json:"route"`
	Intent           string           `json:"intent"`
	Trace            []TraceStep      `json:"trace"`
	Summary          string           `json:"summary"`
	Recommendations  []Recommendation `json:"recommendations,omitempty"`
	Offers           []Offer          `json:"offers,omitempty"`
	DraftedEmail     string           `json:"drafted_email,omitempty"`
	CRMOpportunity   *CRMOpportunity  `json:"crm_opportunity,omitempty"`
	AssistantMessage string           `json:"assistant_message"`
	NeedsHumanReview bool             `json:"needs_human_review"`
	AvgConfidence    float64          `json:"avg_confidence"`
}

// Branch names reachable from the sales and support routers.
const (
	RouteProductInquiry      = "product_inquiry"
	RouteRequirements        = "requirements_recommendation"
	RoutePricingBundling     = "pricing_bundling"
	RouteOrderStatus         = "order_status"
	RouteMissingInfo         = "missing_info"
	RouteNeedsClarification  = "needs_clarification"
	RouteAccountVerification = "account_verification"
	RouteAccessCheck         = "access_check"
	RouteRefundEligibility   = "refund_eligibility"
	RouteTechnicalIssue      = "technical_issue"
)

// SalesRoutes lists every branch valid for the Sales category.
var SalesRoutes = []string{
	RouteProductInquiry,
	RouteRequirements,
	RoutePricingBundling,
	RouteOrderStatus,
	RouteMissingInfo,
	RouteNeedsClarification,
}

// SupportRoutes lists every branch valid for the Support category.
var SupportRoutes = []string{
	RouteAccountVerification,
	RouteAccessCheck,
	RouteRefundEligibility,
	RouteTechnicalIssue,
	RouteNeedsClarification,
}
