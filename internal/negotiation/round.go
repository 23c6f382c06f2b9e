package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sourceline/internal/domain"
	"sourceline/internal/parsing"
	"sourceline/internal/transport"
)

// Delivery statuses recorded on negotiation conversations.
const (
	DeliveryDraftOnly = domain.DefaultDeliveryDraftOnly
	DeliverySent      = "sent"
	DeliveryQueued    = "queued"
	DeliveryFailed    = "failed"
)

var errSupplierEmailMissing = errors.New("Supplier email missing")

type Delivery struct {
	Status            string `json:"status"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Request describes one negotiation round. Compose renders the subject and
// body from the computed counter offer.
type Request struct {
	Lifecycle   *domain.Lifecycle
	Supplier    domain.Supplier
	Target      Target
	SendMessage bool
	Channel     string
	Compose     func(counter domain.CounterOffer) (subject, body string)
}

type Result struct {
	Round        int                 `json:"round"`
	Subject      string              `json:"subject"`
	Body         string              `json:"body"`
	Counter      domain.CounterOffer `json:"counter"`
	StopDecision StopDecision        `json:"stop_decision"`
	Delivery     Delivery            `json:"delivery"`
	Conversation domain.Conversation `json:"conversation"`
}

// Runner executes rounds. It never fails: delivery problems are recorded on
// the resulting conversation.
type Runner struct {
	Mailer    transport.Mailer
	Messenger transport.Messenger
	MockSend  bool
	MaxRounds int
	Logger    *zap.Logger
	Now       func() time.Time
}

func (r Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Decide evaluates the stop rules for the supplier's next round.
func (r Runner) Decide(l *domain.Lifecycle, s domain.Supplier, target Target) StopDecision {
	var latest *domain.ParsedReply
	if c := LatestInbound(l, s.ID); c != nil {
		latest = c.Parsed
	}
	return EvaluateStop(s, target, CountRounds(l, s.ID), r.MaxRounds, latest)
}

func (r Runner) Run(ctx context.Context, req Request) Result {
	channel := req.Channel
	if channel == "" {
		channel = domain.ChannelWhatsApp
	}
	rounds := CountRounds(req.Lifecycle, req.Supplier.ID)
	stop := r.Decide(req.Lifecycle, req.Supplier, req.Target)
	counter := ResolveCounter(req.Supplier, req.Target)
	subject, body := req.Compose(counter)

	delivery := Delivery{Status: DeliveryDraftOnly}
	if req.SendMessage && !stop.Stop {
		delivery = r.deliver(ctx, channel, req.Supplier, subject, body, rounds+1)
	}
	if delivery.Status == DeliveryFailed {
		r.logger().Warn("negotiation delivery failed",
			zap.String("supplier_id", req.Supplier.ID),
			zap.String("channel", channel),
			zap.String("error", delivery.Error))
	}

	conv := domain.Conversation{
		ID:         uuid.NewString(),
		SupplierID: req.Supplier.ID,
		Direction:  domain.DirectionOutbound,
		Channel:    channel,
		Message:    body,
		Metadata: domain.ConversationMetadata{
			Source:            domain.SourceNegotiation,
			Round:             rounds + 1,
			StopReason:        stop.Reason,
			Status:            delivery.Status,
			Error:             delivery.Error,
			ProviderMessageID: delivery.ProviderMessageID,
			Counter:           &counter,
		},
		CreatedAt: r.now().UTC().Format(time.RFC3339),
	}
	if channel == domain.ChannelEmail {
		conv.Subject = subject
	}
	return Result{
		Round:        rounds + 1,
		Subject:      subject,
		Body:         body,
		Counter:      counter,
		StopDecision: stop,
		Delivery:     delivery,
		Conversation: conv,
	}
}

func (r Runner) deliver(ctx context.Context, channel string, s domain.Supplier, subject, body string, round int) Delivery {
	if r.MockSend {
		return Delivery{Status: DeliverySent, ProviderMessageID: fmt.Sprintf("mock-negotiation-%s-%d", s.ID, round)}
	}
	failed := func(err error) Delivery {
		return Delivery{Status: DeliveryFailed, Error: err.Error()}
	}
	if channel == domain.ChannelEmail {
		to := parsing.NormalizeEmail(s.Email)
		if to == "" {
			return failed(errSupplierEmailMissing)
		}
		mailer := r.Mailer
		if mailer == nil {
			mailer = transport.Unconfigured{}
		}
		sent, err := mailer.SendEmail(ctx, transport.Email{To: to, Subject: subject, Text: body})
		if err != nil {
			return failed(err)
		}
		return Delivery{Status: DeliverySent, ProviderMessageID: sent.MessageID}
	}
	to := s.WhatsAppNumber
	if to == "" {
		to = s.Phone
	}
	messenger := r.Messenger
	if messenger == nil {
		messenger = transport.Unconfigured{}
	}
	sent, err := messenger.SendMessage(ctx, transport.Message{To: to, Body: body})
	if err != nil {
		return failed(err)
	}
	status := sent.Status
	if status == "" {
		status = DeliveryQueued
	}
	return Delivery{Status: status, ProviderMessageID: sent.ID}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func greeting(s domain.Supplier) string {
	name := s.ContactPerson
	if name == "" {
		name = s.Name
	}
	if name == "" {
		name = "team"
	}
	return fmt.Sprintf("Hi %s,", name)
}

// SourcingMessage renders the ingredient negotiation message in INR/kg.
func SourcingMessage(p *domain.Project, s domain.Supplier, counter domain.CounterOffer) string {
	brief := p.Sourcing.Brief
	lines := []string{
		greeting(s),
		"",
		"Thank you for sharing your quotation. We are finalizing an initial prototype batch and would like to align on final pilot terms:",
		"",
	}
	if v, ok := domain.Value(counter.UnitPrice); ok && v != 0 {
		lines = append(lines, fmt.Sprintf("- Unit price target: INR %s/kg", formatNumber(v)))
	} else {
		lines = append(lines, "- Unit price: please share your best final INR/kg for this first batch")
	}
	if v, ok := domain.Value(counter.MOQ); ok && v != 0 {
		lines = append(lines, fmt.Sprintf("- MOQ target: %s kg", formatNumber(v)))
	} else {
		lines = append(lines, "- MOQ: request lowest possible initial quantity")
	}
	if v, ok := domain.Value(counter.LeadTimeDays); ok && v != 0 {
		lines = append(lines, fmt.Sprintf("- Lead time target: %s days", formatNumber(v)))
	} else {
		lines = append(lines, "- Lead time: request fastest achievable dispatch timeline")
	}
	term := brief.SearchTerm
	if term == "" {
		term = p.Idea
	}
	spec := brief.Spec
	if spec == "" {
		spec = "Food grade requirement"
	}
	lines = append(lines,
		"",
		"Ingredient brief: "+term,
		"Specification: "+spec,
		"",
		"Please confirm if these terms are workable. If close, share your best possible revised offer and payment terms.",
		"",
		"Regards,",
		p.Name,
	)
	return strings.Join(lines, "\n")
}

// ManufacturingMessage is the deterministic negotiation email for product
// suppliers, quoting current terms next to each target.
func ManufacturingMessage(p *domain.Project, s domain.Supplier, counter domain.CounterOffer) string {
	currency := s.Pricing.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	current := func(v *float64) string {
		if v == nil {
			return "N/A"
		}
		return formatNumber(*v)
	}
	lines := []string{
		greeting(s),
		"",
		"Thanks for sharing your quotation.",
		"",
		"We are interested in moving forward and would like to align on pilot terms:",
	}
	if v, ok := domain.Value(counter.UnitPrice); ok {
		lines = append(lines, fmt.Sprintf("- Unit price target: %s %s (currently %s)", formatNumber(v), currency, current(s.Pricing.UnitPrice)))
	} else {
		lines = append(lines, "- Unit price: please confirm your best pilot quote")
	}
	if v, ok := domain.Value(counter.MOQ); ok {
		lines = append(lines, fmt.Sprintf("- MOQ target: %s units (currently %s)", formatNumber(v), current(s.MOQ)))
	} else {
		lines = append(lines, "- MOQ: please share lowest viable initial quantity")
	}
	if v, ok := domain.Value(counter.LeadTimeDays); ok {
		lines = append(lines, fmt.Sprintf("- Lead time target: %s days (currently %s)", formatNumber(v), current(s.LeadTimeDays)))
	} else {
		lines = append(lines, "- Lead time: please share fastest sample + production schedule")
	}
	lines = append(lines,
		"",
		"If aligned, we can proceed quickly with sample confirmation.",
		"",
		"Best regards,",
		p.Name,
	)
	return strings.Join(lines, "\n")
}

// Subject is "Negotiation Update: <subject>".
func Subject(p *domain.Project, lifecycle string) string {
	if lifecycle == domain.LifecycleSourcing && p.Sourcing.Brief.SearchTerm != "" {
		return "Negotiation Update: " + p.Sourcing.Brief.SearchTerm
	}
	if lifecycle == domain.LifecycleSourcing {
		return "Negotiation Update: " + p.Name
	}
	return "Negotiation Update: " + p.ProductName()
}
