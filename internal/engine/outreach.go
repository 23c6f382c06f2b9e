package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sourceline/internal/checklist"
	"sourceline/internal/domain"
	"sourceline/internal/events"
	"sourceline/internal/outreach"
	"sourceline/internal/transport"
)

const (
	sourcingSendLimit    = 25
	sourcingSendCooldown = 12 * time.Hour
)

type OutreachResult struct {
	Project  domain.Project        `json:"project"`
	Sent     []domain.Conversation `json:"sent"`
	Failures []outreach.Failure    `json:"failures"`
}

// PrepareOutreach drafts an RFQ email for each supplier in supplierIDs, or
// for every supplier when the list is empty.
func (e Engine) PrepareOutreach(ctx context.Context, projectID string, supplierIDs []string, actorID string) (domain.Project, error) {
	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if len(current.Suppliers) == 0 {
		return domain.Project{}, precondition("Run supplier discovery first")
	}
	drafts := outreach.Drafter{LLM: e.LLM, Now: e.now}.Drafts(ctx, &current, supplierIDs)
	if len(drafts) == 0 {
		return domain.Project{}, precondition("No matching suppliers to draft outreach for")
	}

	return e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		var kept []domain.OutreachDraft
		for _, d := range drafts {
			if p.Supplier(d.SupplierID) != nil {
				kept = append(kept, d)
			}
		}
		p.OutreachDrafts = kept
		checklist.SetModuleStatus(&p.Lifecycle, checklist.ModuleOutreach, domain.ChecklistInProgress)
		checklist.SetItem(p, checklist.KeyOutreachRFQ, domain.ChecklistInProgress,
			fmt.Sprintf("Prepared %d outreach drafts.", len(kept)), "Review drafts and send RFQs", e.now())
		return projectChange(events.OutreachPrepared, p.ID, events.Payload{
			"lifecycle": domain.LifecycleManufacturing,
			"drafts":    len(kept),
		}), nil
	})
}

// SendOutreach emails every unsent draft. Delivery failures are collected per
// supplier.
func (e Engine) SendOutreach(ctx context.Context, projectID, actorID string) (OutreachResult, error) {
	unlock := workflowLocks.Lock(sendKey(projectID, domain.LifecycleManufacturing))
	defer unlock()

	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return OutreachResult{}, err
	}
	drafts := unsent(current.OutreachDrafts)
	if len(drafts) == 0 {
		return OutreachResult{}, precondition("No drafts prepared")
	}
	mock := e.config().Negotiation.MockSend
	if !mock && !transport.Configured(e.Mailer) {
		return OutreachResult{}, ConfigError{Dependency: "SMTP", Message: "SMTP is not configured. Set SMTP credentials before sending outreach."}
	}
	res := e.outreachSender(domain.SourceOutreach, 0, 0).Send(ctx, &current.Lifecycle, projectID, drafts)

	p, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		now := e.now()
		applyOutreach(&p.Lifecycle, res, now)
		outreach.MarkDrafts(p.OutreachDrafts, res, now)
		if len(res.SentConversations) > 0 {
			checklist.SetModuleStatus(&p.Lifecycle, checklist.ModuleOutreach, domain.ChecklistValidated)
			checklist.SetModuleStatus(&p.Lifecycle, checklist.ModuleResponses, domain.ChecklistInProgress)
			checklist.SetItem(p, checklist.KeyOutreachRFQ, domain.ChecklistValidated,
				fmt.Sprintf("Sent %d RFQ messages.", len(res.SentConversations)), "Wait for supplier replies", now)
		} else {
			checklist.SetModuleStatus(&p.Lifecycle, checklist.ModuleOutreach, domain.ChecklistBlocked)
			checklist.SetItem(p, checklist.KeyOutreachRFQ, domain.ChecklistBlocked,
				"No outreach emails were sent due to delivery failures.", "Fix SMTP or supplier emails and retry outreach.", now)
		}
		return projectChange(events.OutreachSent, p.ID, events.Payload{
			"lifecycle": domain.LifecycleManufacturing,
			"sent":      len(res.SentConversations),
			"failed":    len(res.Failures),
		}), nil
	})
	if err != nil {
		return OutreachResult{}, err
	}
	return OutreachResult{Project: p, Sent: res.SentConversations, Failures: res.Failures}, nil
}

func (e Engine) outreachSender(source string, limit int, cooldown time.Duration) outreach.Sender {
	return outreach.Sender{
		Mailer:      e.mailer(),
		Messenger:   e.messenger(),
		MockSend:    e.config().Negotiation.MockSend,
		Source:      source,
		Limit:       limit,
		Cooldown:    cooldown,
		Concurrency: e.config().FollowUp.Concurrency,
		Logger:      e.logger().With(zap.String("component", "outreach")),
		Now:         e.now,
	}
}

// applyOutreach records sent conversations and moves supplier statuses.
// Suppliers that already replied keep their status.
func applyOutreach(l *domain.Lifecycle, res outreach.Result, now time.Time) {
	ts := now.UTC().Format(time.RFC3339)
	for _, c := range res.SentConversations {
		l.PrependConversation(c)
		s := l.Supplier(c.SupplierID)
		if s == nil {
			continue
		}
		if s.Status == domain.SupplierIdentified || s.Status == domain.SupplierOutreachFailed || s.Status == "" {
			s.Status = domain.SupplierContacted
		}
		s.UpdatedAt = ts
	}
	for _, f := range res.Failures {
		s := l.Supplier(f.SupplierID)
		if s == nil {
			continue
		}
		if s.Status == domain.SupplierIdentified || s.Status == "" {
			s.Status = domain.SupplierOutreachFailed
			s.UpdatedAt = ts
		}
	}
}

func unsent(drafts []domain.OutreachDraft) []domain.OutreachDraft {
	var out []domain.OutreachDraft
	for _, d := range drafts {
		if d.Status != outreach.StatusSent {
			out = append(out, d)
		}
	}
	return out
}
