package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"sourceline/internal/award"
	"sourceline/internal/checklist"
	"sourceline/internal/domain"
	"sourceline/internal/events"
	"sourceline/internal/followup"
	"sourceline/internal/metrics"
	"sourceline/internal/outcome"
)

const defaultVariantKey = "pilot"

func (e Engine) outcomeBuilder() outcome.Builder {
	return outcome.Builder{LLM: e.LLM, Now: e.now}
}

// GenerateOutcomePlan builds should-cost, variants and the structured RFQ in
// one pass and refreshes the KPI snapshot.
func (e Engine) GenerateOutcomePlan(ctx context.Context, projectID, variantKey, actorID string) (domain.Project, error) {
	if variantKey == "" {
		variantKey = defaultVariantKey
	}
	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	plan := e.outcomeBuilder().Plan(ctx, &current, variantKey)
	return e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		sc, rfq := plan.ShouldCost, plan.StructuredRFQ
		p.Outcome.ShouldCost = &sc
		p.Outcome.Variants = plan.Variants
		p.Outcome.StructuredRFQ = &rfq
		p.Outcome.LastPlanAt = e.ts()
		snapshot := metrics.Outcome(p, e.now())
		p.Outcome.KPISnapshot = &snapshot
		return projectChange(events.StructuredRFQBuilt, p.ID, events.Payload{
			"variant_key": variantKey,
			"rfq_id":      rfq.RFQID,
			"plan":        true,
		}), nil
	})
}

func (e Engine) BuildShouldCost(ctx context.Context, projectID, actorID string) (domain.ShouldCost, error) {
	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.ShouldCost{}, err
	}
	sc := e.outcomeBuilder().ShouldCost(ctx, &current)
	_, err = e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		stored := sc
		p.Outcome.ShouldCost = &stored
		return projectChange(events.ShouldCostBuilt, p.ID, events.Payload{
			"profile":          sc.Profile,
			"landed_unit_cost": sc.CostBreakdown.LandedUnitCostUSD,
		}), nil
	})
	if err != nil {
		return domain.ShouldCost{}, err
	}
	return sc, nil
}

// BuildVariants derives manufacturing paths from the stored should-cost
// model, building one first when none exists.
func (e Engine) BuildVariants(ctx context.Context, projectID, actorID string) ([]domain.Variant, error) {
	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	b := e.outcomeBuilder()
	sc := current.Outcome.ShouldCost
	if sc == nil {
		built := b.ShouldCost(ctx, &current)
		sc = &built
	}
	variants := b.Variants(ctx, &current, sc)
	_, err = e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		if p.Outcome.ShouldCost == nil {
			p.Outcome.ShouldCost = sc
		}
		p.Outcome.Variants = variants
		return projectChange(events.VariantsBuilt, p.ID, events.Payload{"variants": len(variants)}), nil
	})
	if err != nil {
		return nil, err
	}
	return variants, nil
}

// BuildStructuredRFQ writes the RFQ contract for variantKey (default pilot).
func (e Engine) BuildStructuredRFQ(ctx context.Context, projectID, variantKey, actorID string) (domain.StructuredRFQ, error) {
	if variantKey == "" {
		variantKey = defaultVariantKey
	}
	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.StructuredRFQ{}, err
	}
	b := e.outcomeBuilder()
	sc := current.Outcome.ShouldCost
	if sc == nil {
		fallback := outcome.FallbackShouldCost(&current)
		sc = &fallback
	}
	variants := current.Outcome.Variants
	if len(variants) == 0 {
		variants = outcome.FallbackVariants(sc)
	}
	rfq := b.StructuredRFQ(ctx, &current, sc, variants, variantKey)
	_, err = e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		stored := rfq
		p.Outcome.StructuredRFQ = &stored
		return projectChange(events.StructuredRFQBuilt, p.ID, events.Payload{
			"variant_key": variantKey,
			"rfq_id":      rfq.RFQID,
		}), nil
	})
	if err != nil {
		return domain.StructuredRFQ{}, err
	}
	return rfq, nil
}

type AwardInput struct {
	Weights    award.WeightOverrides
	AutoSelect bool
}

// RunAwardGate ranks the manufacturing suppliers and stores the decision.
// With AutoSelect the recommended supplier becomes the selected one.
func (e Engine) RunAwardGate(ctx context.Context, projectID string, in AwardInput, actorID string) (domain.AwardDecision, domain.Project, error) {
	var decision domain.AwardDecision
	p, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		weights := in.Weights.Apply(e.config().AwardWeights())
		d, err := award.Rank(p, weights, e.now())
		if errors.Is(err, award.ErrNoSuppliers) {
			return change{}, PreconditionError{Reason: err.Error()}
		}
		if err != nil {
			return change{}, err
		}
		decision = d
		p.Outcome.AwardDecision = &d
		now := e.now()
		if in.AutoSelect {
			for i := range p.Suppliers {
				s := &p.Suppliers[i]
				s.Selected = s.ID == d.RecommendedSupplierID
				if s.Selected && s.Status != domain.SupplierFinalized {
					s.Status = domain.SupplierSelected
					s.UpdatedAt = e.ts()
				}
			}
		}
		top, _ := d.Recommended()
		checklist.SetItem(p, checklist.KeyManufacturerSelection, domain.ChecklistInProgress,
			fmt.Sprintf("Award gate recommends %s (score %.2f).", top.SupplierName, top.TotalScore),
			"Issue the sample PO and finalize the supplier", now)
		snapshot := metrics.Outcome(p, now)
		p.Outcome.KPISnapshot = &snapshot
		return projectChange(events.AwardGateRun, p.ID, events.Payload{
			"recommended_supplier_id": d.RecommendedSupplierID,
			"auto_select":             in.AutoSelect,
			"ranked":                  len(d.Ranking),
		}), nil
	})
	if err != nil {
		return domain.AwardDecision{}, domain.Project{}, err
	}
	return decision, p, nil
}

func (e Engine) storedDecision(ctx context.Context, projectID string) (domain.Project, domain.AwardDecision, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, domain.AwardDecision{}, err
	}
	if p.Outcome.AwardDecision == nil {
		return domain.Project{}, domain.AwardDecision{}, precondition("Run the award gate first")
	}
	return p, *p.Outcome.AwardDecision, nil
}

// AwardPacketPDF renders the stored decision's sample PO packet.
func (e Engine) AwardPacketPDF(ctx context.Context, projectID string, w io.Writer) error {
	p, d, err := e.storedDecision(ctx, projectID)
	if err != nil {
		return err
	}
	return award.WritePacketPDF(w, p.ProductName(), d)
}

// AwardRankingXLSX renders the stored ranking as a workbook.
func (e Engine) AwardRankingXLSX(ctx context.Context, projectID string, w io.Writer) error {
	_, d, err := e.storedDecision(ctx, projectID)
	if err != nil {
		return err
	}
	return award.WriteRankingXLSX(w, d)
}

// ComputeMetrics stores and returns the outcome KPI snapshot.
func (e Engine) ComputeMetrics(ctx context.Context, projectID, actorID string) (domain.OutcomeMetrics, error) {
	var m domain.OutcomeMetrics
	_, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		m = metrics.Outcome(p, e.now())
		p.Outcome.KPISnapshot = &m
		return projectChange(events.MetricsComputed, p.ID, events.Payload{"lifecycle": domain.LifecycleManufacturing}), nil
	})
	if err != nil {
		return domain.OutcomeMetrics{}, err
	}
	return m, nil
}

type FollowUpPolicyInput struct {
	ResponseSLAHours *float64
	CadenceHours     *float64
	MaxFollowUps     *int
}

func (in FollowUpPolicyInput) apply(base domain.FollowUpPolicy) (domain.FollowUpPolicy, error) {
	out := base
	if in.ResponseSLAHours != nil {
		if *in.ResponseSLAHours < 0 {
			return out, invalid("response_sla_hours", "must not be negative")
		}
		out.ResponseSLAHours = *in.ResponseSLAHours
	}
	if in.CadenceHours != nil {
		if *in.CadenceHours < 0 {
			return out, invalid("cadence_hours", "must not be negative")
		}
		out.CadenceHours = *in.CadenceHours
	}
	if in.MaxFollowUps != nil {
		if *in.MaxFollowUps < 0 {
			return out, invalid("max_follow_ups", "must not be negative")
		}
		out.MaxFollowUps = *in.MaxFollowUps
	}
	return out, nil
}

func (e Engine) projectPolicy(p *domain.Project) domain.FollowUpPolicy {
	if p.Outcome.FollowUpPolicy == (domain.FollowUpPolicy{}) {
		return e.config().FollowUpPolicy()
	}
	return p.Outcome.FollowUpPolicy
}

// UpdateFollowUpPolicy stores the project's follow-up cadence.
func (e Engine) UpdateFollowUpPolicy(ctx context.Context, projectID string, in FollowUpPolicyInput, actorID string) (domain.Project, error) {
	return e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		policy, err := in.apply(e.projectPolicy(p))
		if err != nil {
			return change{}, err
		}
		p.Outcome.FollowUpPolicy = policy
		return projectChange(events.FollowUpPolicySet, p.ID, events.Payload{
			"response_sla_hours": policy.ResponseSLAHours,
			"cadence_hours":      policy.CadenceHours,
			"max_follow_ups":     policy.MaxFollowUps,
		}), nil
	})
}

type FollowUpResult struct {
	Project       domain.Project        `json:"project"`
	Policy        domain.FollowUpPolicy `json:"policy"`
	EligibleCount int                   `json:"eligible_count"`
	Sent          []domain.Conversation `json:"sent"`
	Failures      []followup.Failure    `json:"failures"`
}

// RunFollowUps emails a reminder to every supplier past its response
// window. The policy comes from the request, then the project, then config.
func (e Engine) RunFollowUps(ctx context.Context, projectID string, in FollowUpPolicyInput, actorID string) (FollowUpResult, error) {
	unlock := workflowLocks.Lock(followUpKey(projectID))
	defer unlock()

	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return FollowUpResult{}, err
	}
	policy, err := in.apply(e.projectPolicy(&current))
	if err != nil {
		return FollowUpResult{}, err
	}
	sender := followup.Sender{
		Mailer:      e.mailer(),
		Concurrency: e.config().FollowUp.Concurrency,
		Logger:      e.logger().With(zap.String("component", "followup")),
		Now:         e.now,
	}
	res, err := sender.Run(ctx, &current, policy)
	if errors.Is(err, followup.ErrMailerUnconfigured) {
		return FollowUpResult{}, ConfigError{Dependency: "SMTP", Message: err.Error()}
	}
	if err != nil {
		return FollowUpResult{}, err
	}

	p, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		if res.EligibleCount == 0 && p.Outcome.FollowUpPolicy == policy {
			return change{}, nil
		}
		now := e.ts()
		for _, c := range res.SentConversations {
			p.PrependConversation(c)
			if s := p.Supplier(c.SupplierID); s != nil {
				s.FollowUpsSent = followup.Count(&p.Lifecycle, s.ID)
				if s.Status != domain.SupplierResponded {
					s.Status = domain.SupplierContacted
				}
				s.UpdatedAt = now
			}
		}
		p.Outcome.FollowUpPolicy = policy
		snapshot := metrics.Outcome(p, e.now())
		p.Outcome.KPISnapshot = &snapshot
		return projectChange(events.FollowUpsRun, p.ID, events.Payload{
			"eligible": res.EligibleCount,
			"sent":     len(res.SentConversations),
			"failed":   len(res.Failures),
		}), nil
	})
	if err != nil {
		return FollowUpResult{}, err
	}
	return FollowUpResult{
		Project:       p,
		Policy:        policy,
		EligibleCount: res.EligibleCount,
		Sent:          res.SentConversations,
		Failures:      res.Failures,
	}, nil
}

type SweepResult struct {
	Projects int `json:"projects"`
	Eligible int `json:"eligible"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
}

// SweepFollowUps runs follow-ups for every project. A project that fails is
// logged and skipped; an unconfigured mailer stops the sweep.
func (e Engine) SweepFollowUps(ctx context.Context, actorID string) (SweepResult, error) {
	ids, err := e.Repo.ListProjectIDs(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	var out SweepResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := e.RunFollowUps(ctx, id, FollowUpPolicyInput{}, actorID)
		var cfgErr ConfigError
		if errors.As(err, &cfgErr) {
			return out, err
		}
		if err != nil {
			e.logger().Warn("follow-up sweep failed for project", zap.String("project_id", id), zap.Error(err))
			continue
		}
		out.Projects++
		out.Eligible += res.EligibleCount
		out.Sent += len(res.Sent)
		out.Failed += len(res.Failures)
	}
	return out, nil
}
