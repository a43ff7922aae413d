package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inboundops/triage/internal/evidence"
)

var orderNumberPattern = regexp.MustCompile(`(?i)\b(ORD-[A-Z0-9-]+)\b`)

// stepAccountVerification checks whether the sender exists in the
// customer registry. An absent record is empty evidence: the step
// reports low confidence and routes to human review instead of
// vouching for the sender.
func (p *Pipeline) stepAccountVerification(run *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		d := run.decision

		cust, err := p.store.CustomerByEmail(ctx, run.email.SenderEmail)
		if err != nil {
			return err
		}
		if cust == nil {
			d.Summary = "Sender email not found in the customer registry; requested additional verification."
			d.DraftedEmail = verificationDraft(run.email.Subject)
			d.NeedsHumanReview = true
			p.addStep(ctx, run, TraceStep{
				StepName:   RouteAccountVerification,
				Reasoning:  d.Summary,
				Confidence: p.lowConfidence,
			})
			return nil
		}

		d.Summary = fmt.Sprintf("Verified %s (%s tier, %s) against the customer registry.", cust.Name, cust.Tier, cust.Company)
		p.addStep(ctx, run, TraceStep{
			StepName:   RouteAccountVerification,
			Reasoning:  d.Summary,
			Confidence: 0.85,
			Evidence:   []string{fmt.Sprintf("customer_id=%s email=%s tier=%s", cust.CustomerID, cust.Email, cust.Tier)},
		})
		return nil
	}
}

// stepAccessCheck verifies the sender and then inspects their active
// subscriptions.
func (p *Pipeline) stepAccessCheck(run *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		d := run.decision

		cust, err := p.store.CustomerByEmail(ctx, run.email.SenderEmail)
		if err != nil {
			return err
		}
		if cust == nil {
			d.Summary = "Sender email not found in the customer registry; access cannot be assessed."
			d.DraftedEmail = verificationDraft(run.email.Subject)
			d.NeedsHumanReview = true
			p.addStep(ctx, run, TraceStep{
				StepName:   RouteAccessCheck,
				Reasoning:  d.Summary,
				Confidence: p.lowConfidence,
			})
			return nil
		}

		subs, err := p.store.ActiveSubscriptions(ctx, cust.CustomerID)
		if err != nil {
			return err
		}

		evidence := []string{fmt.Sprintf("customer_id=%s", cust.CustomerID)}
		var confidence float64
		if len(subs) == 0 {
			d.Summary = "No active subscription found; access cannot be granted. Route to sales for renewal."
			evidence = append(evidence, "subscriptions: 0 active")
			confidence = 0.8
		} else {
			productName := subs[0].ProductID
			if product, err := p.store.ProductByID(ctx, subs[0].ProductID); err == nil && product != nil {
				productName = product.Name
			}
			d.Summary = fmt.Sprintf("Active subscription found for %s (%d seat(s)); verify license period before restoring access.",
				productName, subs[0].Seats)
			evidence = append(evidence, fmt.Sprintf("subscriptions: %d active", len(subs)),
				fmt.Sprintf("subscription_id=%s product_id=%s seats=%d", subs[0].SubscriptionID, subs[0].ProductID, subs[0].Seats))
			confidence = 0.78
		}

		p.addStep(ctx, run, TraceStep{
			StepName:   RouteAccessCheck,
			Reasoning:  d.Summary,
			Confidence: confidence,
			Evidence:   evidence,
		})
		return nil
	}
}

// stepRefundEligibility gathers the order and refund-policy evidence
// for a refund request. Ambiguous eligibility or a policy requiring
// approval produces a CRM escalation for human authorization; the
// pipeline never auto-approves a refund.
func (p *Pipeline) stepRefundEligibility(run *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		d := run.decision
		text := strings.ToLower(run.email.Subject + " " + run.email.Body)

		cust, err := p.store.CustomerByEmail(ctx, run.email.SenderEmail)
		if err != nil {
			return err
		}
		if cust == nil {
			d.Summary = "Sender email not found in the customer registry; refund cannot be assessed."
			d.DraftedEmail = verificationDraft(run.email.Subject)
			d.NeedsHumanReview = true
			p.addStep(ctx, run, TraceStep{
				StepName:   RouteRefundEligibility,
				Reasoning:  d.Summary,
				Confidence: p.lowConfidence,
			})
			return nil
		}

		ev := []string{fmt.Sprintf("customer_id=%s tier=%s", cust.CustomerID, cust.Tier)}

		// Detail extraction: order number from the email text, product
		// by catalog name match.
		var order *evidence.Order
		if m := orderNumberPattern.FindString(run.email.Subject + " " + run.email.Body); m != "" {
			order, err = p.store.OrderByNumber(ctx, strings.ToUpper(m), cust.CustomerID)
			if err != nil {
				return err
			}
			if order != nil {
				ev = append(ev, fmt.Sprintf("order_number=%s status=%s total=%.2f created_at=%s",
					order.OrderNumber, order.Status, order.TotalAmount, order.CreatedAt.Format("2006-01-02")))
			} else {
				ev = append(ev, fmt.Sprintf("order %s not found for this customer", strings.ToUpper(m)))
			}
		}

		var product *evidence.Product
		if order != nil {
			product, err = p.store.ProductByID(ctx, order.ProductID)
			if err != nil {
				return err
			}
		} else {
			products, err := p.store.Products(ctx)
			if err != nil {
				return err
			}
			for i := range products {
				if strings.Contains(text, strings.ToLower(products[i].Name)) {
					product = &products[i]
					break
				}
			}
		}
		if product != nil {
			ev = append(ev, fmt.Sprintf("product=%s refundable=%v", product.ProductID, product.IsRefundable))
		}

		switch {
		case order != nil && product != nil:
			p.assessRefund(ctx, run, cust, order, product, ev)
		case product != nil:
			// Product known but no order identified: escalate rather
			// than decide on partial evidence.
			policy, err := p.store.RefundPolicyByProduct(ctx, product.ProductID)
			if err != nil {
				return err
			}
			if policy != nil {
				ev = append(ev, fmt.Sprintf("refund_policy=%s window=%dd percentage=%.0f requires_approval=%v",
					policy.PolicyID, policy.RefundWindowDays, policy.RefundPercentage, policy.RequiresApproval))
			}
			d.CRMOpportunity = p.newEscalation(run, product.Name, "", 0,
				"refund requested but no order could be identified; human review required")
			d.NeedsHumanReview = true
			d.Summary = fmt.Sprintf("Refund request for %s could not be tied to an order; escalated for human review.", product.Name)
			p.addStep(ctx, run, TraceStep{
				StepName:   RouteRefundEligibility,
				Reasoning:  d.Summary,
				Confidence: 0.65,
				Evidence:   ev,
			})
		default:
			d.Summary = "Could not identify the product or order for the refund; asked the customer for details."
			d.DraftedEmail = refundDetailsDraft(run.email.Subject)
			p.addStep(ctx, run, TraceStep{
				StepName:   RouteRefundEligibility,
				Reasoning:  d.Summary,
				Confidence: 0.65,
				Evidence:   ev,
			})
		}
		return nil
	}
}

// assessRefund applies the refund policy to a fully identified order.
func (p *Pipeline) assessRefund(ctx context.Context, run *runState, cust *evidence.Customer, order *evidence.Order, product *evidence.Product, ev []string) {
	d := run.decision

	if strings.EqualFold(order.Status, "CANCELLED") || !product.IsRefundable {
		d.Summary = fmt.Sprintf("Order %s is not eligible for a refund (status %s, refundable=%v).",
			order.OrderNumber, order.Status, product.IsRefundable)
		p.addStep(ctx, run, TraceStep{
			StepName:   RouteRefundEligibility,
			Reasoning:  d.Summary,
			Confidence: 0.8,
			Evidence:   ev,
		})
		return
	}

	policy, err := p.store.RefundPolicyByProduct(ctx, product.ProductID)
	if err != nil || policy == nil {
		d.Summary = fmt.Sprintf("No active refund policy found for %s; likely not eligible. Evidence prepared for a human decision.", product.Name)
		d.NeedsHumanReview = true
		p.addStep(ctx, run, TraceStep{
			StepName:   RouteRefundEligibility,
			Reasoning:  d.Summary,
			Confidence: 0.7,
			Evidence:   append(ev, "refund_policies: none"),
		})
		return
	}

	ev = append(ev, fmt.Sprintf("refund_policy=%s window=%dd percentage=%.0f requires_approval=%v",
		policy.PolicyID, policy.RefundWindowDays, policy.RefundPercentage, policy.RequiresApproval))

	daysSinceOrder := int(time.Since(order.CreatedAt).Hours() / 24)
	ev = append(ev, fmt.Sprintf("days_since_order=%d", daysSinceOrder))

	if daysSinceOrder > policy.RefundWindowDays {
		d.Summary = fmt.Sprintf("Refund window of %d days has passed (order placed %d days ago); not eligible.",
			policy.RefundWindowDays, daysSinceOrder)
		p.addStep(ctx, run, TraceStep{
			StepName:   RouteRefundEligibility,
			Reasoning:  d.Summary,
			Confidence: 0.85,
			Evidence:   ev,
		})
		return
	}

	amount := round2(order.TotalAmount * policy.RefundPercentage / 100.0)
	ev = append(ev, fmt.Sprintf("refund_amount=%.2f", amount))

	if policy.RequiresApproval || run.checked.InjectionFlagged || d.NeedsHumanReview {
		d.CRMOpportunity = p.newEscalation(run, product.Name, order.OrderNumber, amount,
			"refund requires human approval per policy")
		d.NeedsHumanReview = true
		d.Summary = fmt.Sprintf("Refund of %.2f for order %s is within the %d-day window; escalated for human approval.",
			amount, order.OrderNumber, policy.RefundWindowDays)
		p.addStep(ctx, run, TraceStep{
			StepName:   RouteRefundEligibility,
			Reasoning:  d.Summary,
			Confidence: 0.76,
			Evidence:   ev,
		})
		return
	}

	d.Summary = fmt.Sprintf("Order %s is eligible for a %.0f%% refund of %.2f within the %d-day window.",
		order.OrderNumber, policy.RefundPercentage, amount, policy.RefundWindowDays)
	p.addStep(ctx, run, TraceStep{
		StepName:   RouteRefundEligibility,
		Reasoning:  d.Summary,
		Confidence: 0.85,
		Evidence:   ev,
	})
}

func (p *Pipeline) newEscalation(run *runState, productName, orderNumber string, amount float64, reason string) *CRMOpportunity {
	return &CRMOpportunity{
		OpportunityID: uuid.NewString(),
		CustomerEmail: run.email.SenderEmail,
		ProductName:   productName,
		OrderNumber:   orderNumber,
		RefundAmount:  amount,
		Reason:        reason,
		Status:        "PENDING_APPROVAL",
	}
}

// stepTechnicalIssue grounds a troubleshooting reply on the retrieved
// knowledge-base passages.
func (p *Pipeline) stepTechnicalIssue(run *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		d := run.decision

		if len(run.passages) == 0 {
			d.Summary = "No knowledge-base guidance matched the reported issue; asked the customer for details."
			d.DraftedEmail = technicalDraft(run.email.Subject)
			p.addStep(ctx, run, TraceStep{
				StepName:   RouteTechnicalIssue,
				Reasoning:  d.Summary,
				Confidence: p.lowConfidence,
			})
			return nil
		}

		d.Summary = fmt.Sprintf("Matched %d knowledge-base passage(s) to the reported issue; drafted a grounded reply.", len(run.passages))
		d.DraftedEmail = technicalDraft(run.email.Subject)
		p.addStep(ctx, run, TraceStep{
			StepName:   RouteTechnicalIssue,
			Reasoning:  d.Summary,
			Confidence: 0.7,
			Evidence:   passageEvidence(run.passages),
		})
		return nil
	}
}

func verificationDraft(subject string) string {
	return fmt.Sprintf(`Subject: Re: %s

Hi,

For security, we couldn't validate your account with the email address used. Please reply with:
- Registered email / customer ID
- Company name
- Last invoice / order number (if available)

Once verified, we will proceed with your request.

Regards,
Support Team
`, subject)
}

func refundDetailsDraft(subject string) string {
	return fmt.Sprintf(`Subject: Re: %s

Hi,

Thanks for contacting support about a refund. To assess eligibility, please share:
- The product name
- Your order number
- The reason for the refund

Regards,
Support Team
`, subject)
}

func technicalDraft(subject string) string {
	return fmt.Sprintf(`Subject: Re: %s

Hi,

Thanks for contacting support. To help quickly, please share:
- Product name
- Steps to reproduce / exact error message
- Screenshot (if available)
- Your environment (OS/browser/app version)

Regards,
Support Team
`, subject)
}
