package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/inboundops/triage/internal/evidence"
	"github.com/inboundops/triage/internal/guardrail"
	"github.com/inboundops/triage/internal/kb"
	"github.com/inboundops/triage/internal/reasoner"
)

// graphState tracks where a run is in the step sequence. Done is
// terminal; a completed run is never re-entered.
type graphState int

const (
	stateClassifying graphState = iota
	stateSalesRouting
	stateSupportRouting
	stateFinalizing
	stateDone
)

// Options tunes pipeline behavior.
type Options struct {
	// LowConfidence is the ceiling reported by steps with no grounded
	// evidence. Defaults to 0.45.
	LowConfidence float64
	// TopK bounds knowledge-base retrieval. Defaults to 5.
	TopK int
}

// Pipeline turns a raw email into a routed decision with a full
// step-by-step trace. A Pipeline is stateless across runs and safe
// for concurrent use.
type Pipeline struct {
	store         *evidence.Store
	retriever     kb.Retriever
	reason        reasoner.Reasoner
	rules         *reasoner.RuleReasoner
	guard         *guardrail.Validator
	audit         *Auditor
	lowConfidence float64
	topK          int
}

// New creates a pipeline. audit may be nil to skip run persistence.
func New(store *evidence.Store, retriever kb.Retriever, reason reasoner.Reasoner, guard *guardrail.Validator, audit *Auditor, opts Options) *Pipeline {
	if opts.LowConfidence <= 0 || opts.LowConfidence > 1 {
		opts.LowConfidence = 0.45
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Pipeline{
		store:         store,
		retriever:     retriever,
		reason:        reason,
		rules:         reasoner.NewRuleReasoner(opts.LowConfidence),
		guard:         guard,
		audit:         audit,
		lowConfidence: opts.LowConfidence,
		topK:          opts.TopK,
	}
}

// runState carries per-run working data between steps.
type runState struct {
	email    Email
	checked  guardrail.CheckedEmail
	decision *Decision
	passages []kb.Passage
}

// Run executes the full graph for one email. Input validation
// failures return the guardrail violation and no decision; once
// classification starts, a decision is always produced.
func (p *Pipeline) Run(ctx context.Context, email Email) (*Decision, error) {
	checked, violation := p.guard.ValidateEmail(email.SenderEmail, email.Subject, email.Body)
	if violation != nil {
		return nil, fmt.Errorf("invalid email: %w", violation)
	}

	run := &runState{
		email:    Email{SenderEmail: checked.Sender, Subject: checked.Subject, Body: checked.Body},
		checked:  checked,
		decision: &Decision{RunID: uuid.NewString()},
	}

	if checked.InjectionFlagged {
		run.decision.NeedsHumanReview = true
		p.addStep(ctx, run, TraceStep{
			StepName: "input_guardrail",
			Reasoning: "Possible prompt-injection patterns detected; proceeding with the deterministic " +
				"engine only and requiring human review for sensitive actions.",
			Confidence: p.lowConfidence,
			Evidence:   checked.InjectionPatterns,
		})
	}
	if checked.Truncated {
		p.addStep(ctx, run, TraceStep{
			StepName:   "input_guardrail",
			Reasoning:  "Email body exceeded the size cap and was truncated.",
			Confidence: 0.9,
			Evidence:   []string{fmt.Sprintf("body truncated to %d bytes", len(run.email.Body))},
		})
	}

	for state := stateClassifying; state != stateDone; {
		switch state {
		case stateClassifying:
			state = p.classifyAndRoute(ctx, run)
		case stateSalesRouting:
			state = p.runSales(ctx, run)
		case stateSupportRouting:
			state = p.runSupport(ctx, run)
		case stateFinalizing:
			p.finalize(ctx, run)
			state = stateDone
		}
	}

	return run.decision, nil
}

// classifyAndRoute runs the classification step and maps the intent
// onto a branch. Classification never fails the run: a reasoner error
// falls back to the minimal keyword classifier.
func (p *Pipeline) classifyAndRoute(ctx context.Context, run *runState) graphState {
	engine := p.reason
	if run.checked.InjectionFlagged {
		// A flagged email never reaches the model backend.
		engine = reasoner.Reasoner(p.rules)
	}

	input := reasoner.EmailInput{Sender: run.email.SenderEmail, Subject: run.email.Subject, Body: run.email.Body}
	c, err := engine.Classify(ctx, input)
	if err != nil {
		log.Printf("pipeline: classification error, using keyword fallback: %v", err)
		c, _ = p.rules.Classify(ctx, input)
	}

	d := run.decision
	d.Category = c.Category
	d.Intent = c.Intent
	d.Route = routeForIntent(c.Category, c.Intent)

	p.addStep(ctx, run, TraceStep{
		StepName:   "classify",
		Reasoning:  c.Reasoning,
		Confidence: c.Confidence,
		Evidence:   []string{fmt.Sprintf("email text: %s", excerpt(run.email.Subject+" "+run.email.Body, 200))},
	})
	p.addStep(ctx, run, TraceStep{
		StepName:   "route",
		Reasoning:  fmt.Sprintf("Mapped intent %q to branch %q.", c.Intent, d.Route),
		Confidence: 0.9,
		Evidence:   []string{fmt.Sprintf("%s -> %s", c.Category, d.Route)},
	})

	if !p.retrieveKB(ctx, run) {
		return stateFinalizing
	}
	if !p.logTicket(ctx, run) {
		return stateFinalizing
	}

	if d.Category == reasoner.CategorySales {
		return stateSalesRouting
	}
	return stateSupportRouting
}

// retrieveKB pulls the top passages for the email and records them as
// evidence. No passages is a low-confidence outcome, not a failure.
func (p *Pipeline) retrieveKB(ctx context.Context, run *runState) bool {
	return p.execStep(ctx, run, "kb_retrieve", func(ctx context.Context) error {
		query := run.email.Subject + "\n" + run.email.Body
		passages, err := p.retriever.Retrieve(ctx, query, p.topK)
		if err != nil {
			return err
		}
		run.passages = passages

		confidence := 0.35
		if len(passages) > 0 {
			confidence = 0.75
		}
		p.addStep(ctx, run, TraceStep{
			StepName:   "kb_retrieve",
			Reasoning:  fmt.Sprintf("Retrieved %d knowledge-base passage(s) for grounding.", len(passages)),
			Confidence: confidence,
			Evidence:   passageEvidence(passages),
		})
		return nil
	})
}

// logTicket files an OPEN ticket for every routed run.
func (p *Pipeline) logTicket(ctx context.Context, run *runState) bool {
	return p.execStep(ctx, run, "ticket_log", func(ctx context.Context) error {
		ticket, err := p.store.CreateTicket(ctx, run.email.SenderEmail, run.email.Subject, run.email.Body, run.decision.Category)
		if err != nil {
			return err
		}
		p.addStep(ctx, run, TraceStep{
			StepName:   "ticket_log",
			Reasoning:  fmt.Sprintf("Filed ticket %s (%s, %s).", ticket.TicketNumber, ticket.Status, ticket.Priority),
			Confidence: 0.85,
			Evidence:   []string{fmt.Sprintf("ticket_number=%s", ticket.TicketNumber)},
		})
		return nil
	})
}

// runSales dispatches to exactly one sales branch.
func (p *Pipeline) runSales(ctx context.Context, run *runState) graphState {
	switch run.decision.Route {
	case RouteOrderStatus:
		p.execStep(ctx, run, RouteOrderStatus, p.stepOrderStatus(run))
	case RoutePricingBundling:
		p.execStep(ctx, run, RoutePricingBundling, p.stepPricingBundling(run))
	case RouteRequirements:
		p.execStep(ctx, run, RouteRequirements, p.stepRecommendations(run, true))
	case RouteProductInquiry:
		p.execStep(ctx, run, RouteProductInquiry, p.stepRecommendations(run, false))
	case RouteMissingInfo:
		p.execStep(ctx, run, RouteMissingInfo, p.stepMissingInfo(run))
	default:
		p.execStep(ctx, run, RouteNeedsClarification, p.stepNeedsClarification(run))
	}
	return stateFinalizing
}

// runSupport dispatches to exactly one support branch.
func (p *Pipeline) runSupport(ctx context.Context, run *runState) graphState {
	switch run.decision.Route {
	case RouteAccountVerification:
		p.execStep(ctx, run, RouteAccountVerification, p.stepAccountVerification(run))
	case RouteAccessCheck:
		p.execStep(ctx, run, RouteAccessCheck, p.stepAccessCheck(run))
	case RouteRefundEligibility:
		p.execStep(ctx, run, RouteRefundEligibility, p.stepRefundEligibility(run))
	case RouteTechnicalIssue:
		p.execStep(ctx, run, RouteTechnicalIssue, p.stepTechnicalIssue(run))
	default:
		p.execStep(ctx, run, RouteNeedsClarification, p.stepNeedsClarification(run))
	}
	return stateFinalizing
}

// finalize assembles the summary and assistant message and records
// the closing step.
func (p *Pipeline) finalize(ctx context.Context, run *runState) {
	d := run.decision

	if d.Summary == "" {
		d.Summary = "Logged for manual triage; more detail is needed to act."
	}

	var total float64
	for _, step := range d.Trace {
		total += step.Confidence
	}
	if len(d.Trace) > 0 {
		d.AvgConfidence = total / float64(len(d.Trace))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Classified as %s and routed to %s (intent: %s). ", d.Category, d.Route, d.Intent)
	b.WriteString(d.Summary)
	if d.DraftedEmail != "" {
		b.WriteString(" A draft reply is attached for review.")
	}
	if d.CRMOpportunity != nil {
		fmt.Fprintf(&b, " Escalation %s is awaiting approval.", d.CRMOpportunity.OpportunityID)
	}
	if d.NeedsHumanReview {
		b.WriteString(" This case requires human review before any action is taken.")
	}
	d.AssistantMessage = b.String()

	p.addStep(ctx, run, TraceStep{
		StepName:   "finalize",
		Reasoning:  "Consolidated the run into a summary and assistant message.",
		Confidence: 0.9,
		Evidence: []string{
			fmt.Sprintf("steps=%d", len(d.Trace)),
			fmt.Sprintf("avg_confidence=%.2f", d.AvgConfidence),
		},
	})
}

// execStep runs one step with panic recovery. A failed step becomes a
// terminal low-confidence trace entry flagged for human review; the
// caller then proceeds to Finalizing. The graph never aborts without
// a decision once classification has succeeded.
func (p *Pipeline) execStep(ctx context.Context, run *runState, name string, fn func(context.Context) error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: step %s panicked: %v", name, r)
			p.failStep(ctx, run, name, fmt.Sprintf("step panicked: %v", r))
			ok = false
		}
	}()

	if err := fn(ctx); err != nil {
		log.Printf("pipeline: step %s failed: %v", name, err)
		p.failStep(ctx, run, name, fmt.Sprintf("step failed: %v", err))
		return false
	}
	return true
}

func (p *Pipeline) failStep(ctx context.Context, run *runState, name, reason string) {
	run.decision.NeedsHumanReview = true
	p.addStep(ctx, run, TraceStep{
		StepName:   name,
		Reasoning:  reason + "; needs human review.",
		Confidence: p.lowConfidence,
	})
}

// addStep appends a trace step, clamping confidence to [0,1] and
// capping it at the low threshold when the step cites no evidence.
func (p *Pipeline) addStep(ctx context.Context, run *runState, step TraceStep) {
	if step.Confidence < 0 {
		step.Confidence = 0
	}
	if step.Confidence > 1 {
		step.Confidence = 1
	}
	if len(step.Evidence) == 0 && step.Confidence > p.lowConfidence {
		step.Confidence = p.lowConfidence
	}

	run.decision.Trace = append(run.decision.Trace, step)

	if p.audit != nil {
		if err := p.audit.Record(ctx, run.decision.RunID, step); err != nil {
			log.Printf("pipeline: audit write failed: %v", err)
		}
	}
}

// routeForIntent maps a classified intent onto a branch name. The
// mapping is fixed and exhaustive; unrecognized intents land in the
// clarification branch.
func routeForIntent(category, intent string) string {
	if category == reasoner.CategorySales {
		switch intent {
		case reasoner.IntentProductInquiry:
			return RouteProductInquiry
		case reasoner.IntentRequirements:
			return RouteRequirements
		case reasoner.IntentPricingBundling:
			return RoutePricingBundling
		case reasoner.IntentOrderQuery:
			return RouteOrderStatus
		case reasoner.IntentNeedMoreInfo:
			return RouteMissingInfo
		default:
			return RouteNeedsClarification
		}
	}
	switch intent {
	case reasoner.IntentAccountVerify:
		return RouteAccountVerification
	case reasoner.IntentAccessIssue:
		return RouteAccessCheck
	case reasoner.IntentRefundRequest:
		return RouteRefundEligibility
	case reasoner.IntentTechnicalIssue:
		return RouteTechnicalIssue
	default:
		return RouteNeedsClarification
	}
}

func passageEvidence(passages []kb.Passage) []string {
	evidence := make([]string, 0, len(passages))
	for _, passage := range passages {
		evidence = append(evidence, fmt.Sprintf("[%s score=%.2f] %s", passage.Source, passage.Score, excerpt(passage.Text, 300)))
	}
	return evidence
}

func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
