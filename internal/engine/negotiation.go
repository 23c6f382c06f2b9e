package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sourceline/internal/checklist"
	"sourceline/internal/domain"
	"sourceline/internal/events"
	"sourceline/internal/llm"
	"sourceline/internal/negotiation"
	"sourceline/internal/parsing"
)

type NegotiateInput struct {
	ProjectID   string
	Lifecycle   string
	SupplierID  string
	Target      negotiation.Target
	SendMessage bool
	Channel     string
	ActorID     string
}

type NegotiationResult struct {
	Project domain.Project `json:"project"`
	negotiation.Result
}

// Negotiate runs one automated round with a supplier. Rounds for the same
// supplier are serialized.
func (e Engine) Negotiate(ctx context.Context, in NegotiateInput) (NegotiationResult, error) {
	kind := lifecycleName(in.Lifecycle)
	channel := strings.ToLower(strings.TrimSpace(in.Channel))
	if channel == "" {
		channel = e.config().Negotiation.DefaultChannel
	}
	if channel != domain.ChannelEmail && channel != domain.ChannelWhatsApp {
		return NegotiationResult{}, invalid("channel", "channel must be email or whatsapp")
	}

	current, err := e.Repo.GetProject(ctx, in.ProjectID)
	if err != nil {
		return NegotiationResult{}, err
	}
	l, err := lifecycleOf(&current, kind)
	if err != nil {
		return NegotiationResult{}, err
	}
	target, err := negotiationSupplier(l, in.SupplierID, kind)
	if err != nil {
		return NegotiationResult{}, err
	}

	unlock := workflowLocks.Lock(supplierKey(in.ProjectID, kind, target.ID))
	defer unlock()

	// Reload so the round count includes any round that finished while waiting.
	current, err = e.Repo.GetProject(ctx, in.ProjectID)
	if err != nil {
		return NegotiationResult{}, err
	}
	l, _ = lifecycleOf(&current, kind)
	s, err := supplierOf(l, target.ID)
	if err != nil {
		return NegotiationResult{}, err
	}
	cfg := e.config().Negotiation
	runner := negotiation.Runner{
		Mailer:    e.mailer(),
		Messenger: e.messenger(),
		MockSend:  cfg.MockSend,
		MaxRounds: cfg.MaxAutomatedRounds,
		Logger:    e.logger().With(zap.String("component", "negotiation")),
		Now:       e.now,
	}
	// A stopped round is recorded but never delivered.
	if in.SendMessage && !cfg.MockSend && !runner.Decide(l, *s, in.Target).Stop {
		if err := requireAddress(*s, channel); err != nil {
			return NegotiationResult{}, err
		}
	}

	res := runner.Run(ctx, negotiation.Request{
		Lifecycle:   l,
		Supplier:    *s,
		Target:      in.Target,
		SendMessage: in.SendMessage,
		Channel:     channel,
		Compose: func(counter domain.CounterOffer) (string, string) {
			if kind == domain.LifecycleSourcing {
				return negotiation.Subject(&current, kind), negotiation.SourcingMessage(&current, *s, counter)
			}
			body := e.LLM.Text(ctx, negotiationDraftRequest(&current, *s, counter), func() string {
				return negotiation.ManufacturingMessage(&current, *s, counter)
			})
			return negotiation.Subject(&current, kind), body
		},
	})
	res.Conversation.ProjectID = in.ProjectID

	p, err := e.patch(ctx, in.ProjectID, in.ActorID, func(p *domain.Project) (change, error) {
		fresh, _ := p.LifecycleFor(kind)
		fs, err := supplierOf(fresh, s.ID)
		if err != nil {
			return change{}, err
		}
		fresh.PrependConversation(res.Conversation)
		applyRound(p, fresh, fs, kind, res, e.now())
		return supplierChange(events.NegotiationRound, fs.ID, events.Payload{
			"lifecycle":   kind,
			"round":       res.Round,
			"stop":        res.StopDecision.Stop,
			"stop_reason": res.StopDecision.Reason,
			"delivery":    res.Delivery.Status,
		}), nil
	})
	if err != nil {
		return NegotiationResult{}, err
	}
	return NegotiationResult{Project: p, Result: res}, nil
}

// negotiationSupplier resolves the requested supplier. Without one it falls
// back to the selected supplier (manufacturing) or the first responder
// (sourcing), then to the first supplier.
func negotiationSupplier(l *domain.Lifecycle, supplierID, kind string) (*domain.Supplier, error) {
	if len(l.Suppliers) == 0 {
		return nil, precondition("No suppliers available for negotiation")
	}
	if supplierID != "" {
		return supplierOf(l, supplierID)
	}
	for i := range l.Suppliers {
		s := &l.Suppliers[i]
		if kind == domain.LifecycleSourcing && s.Status == domain.SupplierResponded {
			return s, nil
		}
		if kind != domain.LifecycleSourcing && s.Selected {
			return s, nil
		}
	}
	return &l.Suppliers[0], nil
}

const negotiationSystem = "You negotiate professionally with suppliers. Be precise, respectful, and anchor terms clearly."

// negotiationDraftRequest asks the model for the follow-up email anchored on
// the computed counter offer.
func negotiationDraftRequest(p *domain.Project, s domain.Supplier, counter domain.CounterOffer) llm.Request {
	quoteJSON, _ := json.Marshal(map[string]*float64{
		"unitPrice":    s.Pricing.UnitPrice,
		"moq":          s.MOQ,
		"leadTimeDays": s.LeadTimeDays,
		"toolingCost":  s.ToolingCost,
	})
	counterJSON, _ := json.Marshal(counter)
	productJSON, _ := json.Marshal(p.ProductDefinition)
	return llm.Request{
		System: negotiationSystem,
		Prompt: strings.Join([]string{
			"Draft a negotiation follow-up email.",
			"Must focus on MOQ, price, and lead time.",
			"Keep under 220 words.",
			"Supplier quote context: " + string(quoteJSON),
			"Target terms: " + string(counterJSON),
			"Project context: " + string(productJSON),
		}, "\n\n"),
	}
}

func requireAddress(s domain.Supplier, channel string) error {
	if channel == domain.ChannelEmail && parsing.NormalizeEmail(s.Email) == "" {
		return precondition("Supplier %s has no email address", s.Name)
	}
	if channel == domain.ChannelWhatsApp && s.WhatsAppNumber == "" && s.Phone == "" {
		return precondition("Supplier %s has no WhatsApp number", s.Name)
	}
	return nil
}

func applyRound(p *domain.Project, l *domain.Lifecycle, s *domain.Supplier, kind string, res negotiation.Result, now time.Time) {
	sent := res.Delivery.Status == negotiation.DeliverySent || res.Delivery.Status == negotiation.DeliveryQueued
	switch {
	case res.StopDecision.Reason == negotiation.ReasonTargetReached:
		if s.Status != domain.SupplierSelected && s.Status != domain.SupplierFinalized {
			s.Status = domain.SupplierShortlisted
		}
	case sent:
		s.Status = domain.SupplierNegotiating
	}
	s.UpdatedAt = now.UTC().Format(time.RFC3339)

	if kind == domain.LifecycleSourcing {
		status := domain.ChecklistInProgress
		if res.StopDecision.Stop {
			status = domain.ChecklistValidated
		}
		l.SetModuleStatus(checklist.ModuleNegotiation, status)
		return
	}
	checklist.SetModuleStatus(l, checklist.ModuleNegotiation, domain.ChecklistInProgress)
	checklist.SetItem(p, checklist.KeyNegotiation, domain.ChecklistInProgress,
		fmt.Sprintf("Negotiation round %d prepared for %s.", res.Round, s.Name), "Review supplier counter-response", now)
	if itemStatus(p, checklist.KeyManufacturerSelection) == domain.ChecklistPending {
		checklist.SetItem(p, checklist.KeyManufacturerSelection, domain.ChecklistInProgress,
			"Negotiation round started. Review final terms before locking supplier.", "Finalize supplier when terms are agreed", now)
	}
	checklist.SetModuleStatus(l, checklist.ModuleSuccess, domain.ChecklistInProgress)
}

func itemStatus(p *domain.Project, key string) string {
	for _, item := range p.Checklist {
		if item.Key == key {
			return item.Status
		}
	}
	return ""
}
