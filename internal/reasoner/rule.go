package reasoner

import (
	"context"
	"strings"
)

// RuleReasoner is the deterministic engine. It matches keyword
// heuristics against the email text, never calls out, and never
// errors; it is the fallback of record when no model credential is
// configured or the model path fails.
type RuleReasoner struct {
	lowConfidence float64
}

// NewRuleReasoner creates a rule engine. lowConfidence caps the score
// reported when no heuristic matches.
func NewRuleReasoner(lowConfidence float64) *RuleReasoner {
	if lowConfidence <= 0 || lowConfidence > 1 {
		lowConfidence = 0.45
	}
	return &RuleReasoner{lowConfidence: lowConfidence}
}

type intentRule struct {
	intent     string
	category   string
	confidence float64
	reasoning  string
	keywords   []string
}

// intentRules are evaluated in order; the first matching rule wins.
// Support signals are checked before sales so a refund mention beats
// an incidental pricing word.
var intentRules = []intentRule{
	{
		intent: IntentRefundRequest, category: CategorySupport, confidence: 0.78,
		reasoning: "Refund-related keywords detected.",
		keywords:  []string{"refund", "return", "chargeback", "unused credits", "damaged"},
	},
	{
		intent: IntentAccessIssue, category: CategorySupport, confidence: 0.76,
		reasoning: "Access/licensing keywords detected.",
		keywords:  []string{"access", "login", "license", "licence", "subscription", "activate"},
	},
	{
		intent: IntentAccountVerify, category: CategorySupport, confidence: 0.68,
		reasoning: "Verification keywords detected.",
		keywords:  []string{"verify", "authenticate", "who am i", "identity"},
	},
	{
		intent: IntentTechnicalIssue, category: CategorySupport, confidence: 0.70,
		reasoning: "Technical-problem keywords detected.",
		keywords:  []string{"error", "issue", "problem", "bug", "not working"},
	},
	{
		intent: IntentPricingBundling, category: CategorySales, confidence: 0.76,
		reasoning: "Pricing/bundling keywords detected.",
		keywords:  []string{"price", "pricing", "discount", "offer", "bundle", "bundling", "quote"},
	},
	{
		intent: IntentRequirements, category: CategorySales, confidence: 0.70,
		reasoning: "Requirement/recommendation phrasing detected.",
		keywords:  []string{"recommend", "suggest", "suitable", "requirement"},
	},
	{
		intent: IntentProductInquiry, category: CategorySales, confidence: 0.68,
		reasoning: "Product-specific keywords detected.",
		keywords:  []string{"product", "feature", "spec", "model"},
	},
	{
		intent: IntentOtherSales, category: CategorySales, confidence: 0.55,
		reasoning: "Purchase keywords detected.",
		keywords:  []string{"buy", "purchase", "order"},
	},
}

func (r *RuleReasoner) Classify(ctx context.Context, email EmailInput) (*Classification, error) {
	text := strings.ToLower(email.Subject + " " + email.Body)

	// Order tracking outranks the generic purchase bucket.
	if strings.Contains(text, "order") && containsAny(text, "where", "status", "track") {
		return &Classification{
			Category:   CategorySales,
			Intent:     IntentOrderQuery,
			Confidence: 0.78,
			Reasoning:  "Order tracking keywords detected.",
		}, nil
	}

	for _, rule := range intentRules {
		if containsAny(text, rule.keywords...) {
			return &Classification{
				Category:   rule.category,
				Intent:     rule.intent,
				Confidence: rule.confidence,
				Reasoning:  rule.reasoning,
			}, nil
		}
	}

	// No heuristic matched: route to support for clarification, never
	// claiming more confidence than the evidence supports.
	return &Classification{
		Category:   CategorySupport,
		Intent:     IntentOtherSupport,
		Confidence: r.lowConfidence,
		Reasoning:  "No routing keywords matched; needs clarification.",
	}, nil
}

// Judge fills the requested schema deterministically. String fields
// get a canned next-steps reply; numeric fields get a midline score.
// Used for follow-up turns and as the terminal fallback when the
// model path is unavailable.
func (r *RuleReasoner) Judge(ctx context.Context, req JudgeRequest) (map[string]any, error) {
	out := make(map[string]any)
	for _, field := range req.Schema.Required {
		if _, isRange := req.Schema.Ranges[field]; isRange {
			out[field] = 0.5
			continue
		}
		if allowed, isEnum := req.Schema.Enums[field]; isEnum && len(allowed) > 0 {
			out[field] = allowed[len(allowed)-1]
			continue
		}
		out[field] = fallbackReply
	}
	return out, nil
}

const fallbackReply = "I've noted the additional information. Based on what we have so far, " +
	"I can confirm the intent and the next best action, and draft a reply to the customer. " +
	"To proceed, could you share any missing specifics such as product name, order number, " +
	"quantity, desired budget, or timeline?"

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
