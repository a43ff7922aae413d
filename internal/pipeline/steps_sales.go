package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// stepOrderStatus looks up the sender's orders and reports the most
// recent one.
func (p *Pipeline) stepOrderStatus(run *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		d := run.decision

		cust, err := p.store.CustomerByEmail(ctx, run.email.SenderEmail)
		if err != nil {
			return err
		}
		if cust == nil {
			d.Summary = "Sender not found in the customer registry; cannot look up orders."
			d.DraftedEmail = verificationDraft(run.email.Subject)
			d.NeedsHumanReview = true
			p.addStep(ctx, run, TraceStep{
				StepName:   RouteOrderStatus,
				Reasoning:  d.Summary,
				Confidence: p.lowConfidence,
			})
			return nil
		}

		orders, err := p.store.OrdersByCustomer(ctx, cust.CustomerID)
		if err != nil {
			return err
		}

		evidence := []string{fmt.Sprintf("customer_id=%s tier=%s", cust.CustomerID, cust.Tier)}
		confidence := 0.5
		if len(orders) > 0 {
			top := orders[0]
			d.Summary = fmt.Sprintf("Found order %s with status %s (tracking %s).", top.OrderNumber, top.Status, top.TrackingNumber)
			evidence = append(evidence, fmt.Sprintf("order_number=%s status=%s tracking=%s total=%.2f",
				top.OrderNumber, top.Status, top.TrackingNumber, top.TotalAmount))
			confidence = 0.8
		} else {
			d.Summary = "No orders found for this customer."
			evidence = append(evidence, "orders: 0 rows")
		}

		p.addStep(ctx, run, TraceStep{
			StepName:   RouteOrderStatus,
			Reasoning:  d.Summary,
			Confidence: confidence,
			Evidence:   evidence,
		})
		return nil
	}
}

// stepPricingBundling builds tier-priced offers from the catalog and
// checks each against the discount policy. Offers that fail the
// policy are kept with the reason; they are never silently dropped.
func (p *Pipeline) stepPricingBundling(run *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		d := run.decision

		tier := "Standard"
		cust, err := p.store.CustomerByEmail(ctx, run.email.SenderEmail)
		if err != nil {
			return err
		}
		if cust != nil {
			tier = cust.Tier
		}

		maxDiscount, approvalThreshold := 10.0, 15.0
		evidence := []string{fmt.Sprintf("customer tier: %s", tier)}
		policy, err := p.store.PricingPolicyByTier(ctx, tier)
		if err != nil {
			return err
		}
		if policy != nil {
			maxDiscount = policy.MaxDiscountPercent
			approvalThreshold = policy.ApprovalThreshold
			evidence = append(evidence, fmt.Sprintf("pricing_policy=%s max_discount=%.1f approval_threshold=%.1f",
				policy.PolicyName, maxDiscount, approvalThreshold))
		}

		products, err := p.store.Products(ctx)
		if err != nil {
			return err
		}
		if len(products) > 5 {
			products = products[:5]
		}

		discount := 0.8 * maxDiscount
		for _, product := range products {
			total := product.BasePrice * (1.0 - discount/100.0)
			offer := Offer{
				OptionName:      product.Name + " (bundle-ready)",
				TotalPrice:      round2(total),
				DiscountPercent: round2(discount),
				Compliant:       discount <= maxDiscount && discount < approvalThreshold,
				Evidence: []string{
					fmt.Sprintf("base_price=%.2f", product.BasePrice),
					fmt.Sprintf("tier=%s", tier),
					fmt.Sprintf("max_discount=%.1f", maxDiscount),
					fmt.Sprintf("approval_threshold=%.1f", approvalThreshold),
				},
			}
			if !offer.Compliant {
				offer.Reason = fmt.Sprintf("discount %.1f%% meets or exceeds the approval threshold %.1f%%; route to human approval",
					discount, approvalThreshold)
			}
			d.Offers = append(d.Offers, offer)
		}

		d.Summary = fmt.Sprintf("Prepared %d pricing/bundling option(s) honoring the %s tier discount policy.", len(d.Offers), tier)
		p.addStep(ctx, run, TraceStep{
			StepName:   RoutePricingBundling,
			Reasoning:  d.Summary,
			Confidence: 0.77,
			Evidence:   evidence,
		})
		return nil
	}
}

// stepRecommendations scores catalog products by keyword overlap with
// the email. withDraft adds a requirements-gathering reply when the
// customer is describing needs rather than a specific product.
func (p *Pipeline) stepRecommendations(run *runState, withDraft bool) func(context.Context) error {
	return func(ctx context.Context) error {
		d := run.decision
		text := strings.ToLower(run.email.Subject + " " + run.email.Body)

		products, err := p.store.Products(ctx)
		if err != nil {
			return err
		}

		queryWords := strings.Fields(text)
		querySet := make(map[string]struct{}, len(queryWords))
		for _, w := range queryWords {
			querySet[w] = struct{}{}
		}

		type scored struct {
			score   float64
			index   int
			matched []string
		}
		var ranked []scored
		for i, product := range products {
			words := strings.Fields(strings.ToLower(product.Name + " " + product.Description + " " + product.Category))
			var matched []string
			for _, w := range words {
				if _, ok := querySet[w]; ok {
					matched = append(matched, w)
				}
			}
			if len(matched) == 0 {
				continue
			}
			score := float64(len(matched)) / float64(max(1, len(queryWords)))
			ranked = append(ranked, scored{score: score, index: i, matched: matched})
		}
		for i := 0; i < len(ranked); i++ {
			for j := i + 1; j < len(ranked); j++ {
				if ranked[j].score > ranked[i].score {
					ranked[i], ranked[j] = ranked[j], ranked[i]
				}
			}
		}
		if len(ranked) > 5 {
			ranked = ranked[:5]
		}

		var evidence []string
		for _, r := range ranked {
			product := products[r.index]
			d.Recommendations = append(d.Recommendations, Recommendation{
				ProductID: product.ProductID,
				Name:      product.Name,
				Score:     min(1.0, r.score*3),
				Purpose:   fmt.Sprintf("Matches category %s", product.Category),
				Reasoning: "Keyword match between the email and product metadata.",
			})
			evidence = append(evidence, fmt.Sprintf("product=%s matched=%s", product.ProductID, strings.Join(r.matched, ",")))
		}

		confidence := 0.5
		if len(d.Recommendations) > 0 {
			confidence = 0.7
			d.Summary = fmt.Sprintf("Recommended %d product(s) based on the customer ask and catalog evidence.", len(d.Recommendations))
		} else {
			d.Summary = "No catalog products matched the request; more detail is needed."
		}

		if withDraft || strings.Contains(text, "need") || strings.Contains(text, "requirement") {
			d.DraftedEmail = requirementsDraft(run.email.Subject)
		}

		p.addStep(ctx, run, TraceStep{
			StepName:   stepNameForRecommendations(withDraft),
			Reasoning:  d.Summary,
			Confidence: confidence,
			Evidence:   evidence,
		})
		return nil
	}
}

func stepNameForRecommendations(withDraft bool) string {
	if withDraft {
		return RouteRequirements
	}
	return RouteProductInquiry
}

// stepMissingInfo drafts a reply asking the customer for the details
// needed to proceed.
func (p *Pipeline) stepMissingInfo(run *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		d := run.decision
		d.Summary = "The email lacks the details needed to act; drafted a reply requesting them."
		d.DraftedEmail = requirementsDraft(run.email.Subject)
		p.addStep(ctx, run, TraceStep{
			StepName:   RouteMissingInfo,
			Reasoning:  d.Summary,
			Confidence: p.lowConfidence,
		})
		return nil
	}
}

// stepNeedsClarification is the default branch for unrecognized
// intents in either category.
func (p *Pipeline) stepNeedsClarification(run *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		d := run.decision
		d.Summary = "The request did not match a known branch; drafted a clarification reply."
		d.DraftedEmail = clarificationDraft(run.email.Subject)
		p.addStep(ctx, run, TraceStep{
			StepName:   RouteNeedsClarification,
			Reasoning:  d.Summary,
			Confidence: p.lowConfidence,
		})
		return nil
	}
}

func requirementsDraft(subject string) string {
	return fmt.Sprintf(`Subject: Re: %s

Hi,

Thanks for reaching out. To recommend the best-fit options, could you share:
1) Target use case / key requirements (top 3)
2) Expected users / seats
3) Desired contract duration
4) Budget range (if any)
5) Must-have integrations / compliance needs

Once I have this, I will propose the most suitable product(s) with pricing and bundling options.

Regards,
Sales Team
`, subject)
}

func clarificationDraft(subject string) string {
	return fmt.Sprintf(`Subject: Re: %s

Hi,

Thanks for contacting us. To route your request to the right team, could you share:
- What product or service this concerns
- What outcome you are looking for
- Any order or account reference you have

Regards,
Customer Team
`, subject)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
