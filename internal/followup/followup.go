package followup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sourceline/internal/domain"
	"sourceline/internal/parsing"
	"sourceline/internal/transport"
)

// ErrMailerUnconfigured is returned before any supplier is considered.
var ErrMailerUnconfigured = errors.New("SMTP is not configured. Set SMTP credentials before running follow-ups.")

const defaultConcurrency = 4

// Candidate is a supplier due for its next reminder.
type Candidate struct {
	Supplier      domain.Supplier
	FollowUpIndex int
	Subject       string
	Body          string
}

type Failure struct {
	SupplierID string `json:"supplier_id"`
	Reason     string `json:"reason"`
}

type Result struct {
	EligibleCount     int                   `json:"eligible_count"`
	SentConversations []domain.Conversation `json:"sent_conversations"`
	Failures          []Failure             `json:"failures"`
}

func eligibleStatus(status string) bool {
	switch status {
	case domain.SupplierContacted, domain.SupplierIdentified, domain.SupplierOutreachFailed:
		return true
	}
	return false
}

func hoursSince(ts string, now time.Time) float64 {
	at, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return math.Inf(1)
	}
	return now.Sub(at).Hours()
}

// Count returns the number of follow-ups already sent to a supplier.
func Count(l *domain.Lifecycle, supplierID string) int {
	n := 0
	for _, c := range l.Conversations {
		if c.SupplierID == supplierID && c.Direction == domain.DirectionOutbound && c.Metadata.Source == domain.SourceFollowUp {
			n++
		}
	}
	return n
}

// Eligible lists suppliers that were contacted, have not replied and have
// waited past the SLA plus one cadence per follow-up already sent.
func Eligible(p *domain.Project, policy domain.FollowUpPolicy, now time.Time) []Candidate {
	var out []Candidate
	for _, s := range p.Suppliers {
		if parsing.NormalizeEmail(s.Email) == "" || !eligibleStatus(s.Status) {
			continue
		}
		var lastOutbound *domain.Conversation
		var lastAt time.Time
		replied := false
		for i := range p.Conversations {
			c := &p.Conversations[i]
			if c.SupplierID != s.ID {
				continue
			}
			if c.Direction == domain.DirectionInbound {
				replied = true
				break
			}
			at, _ := time.Parse(time.RFC3339, c.CreatedAt)
			if lastOutbound == nil || at.After(lastAt) {
				lastOutbound, lastAt = c, at
			}
		}
		if replied || lastOutbound == nil {
			continue
		}
		sent := Count(&p.Lifecycle, s.ID)
		if sent >= policy.MaxFollowUps {
			continue
		}
		threshold := policy.ResponseSLAHours + float64(sent)*policy.CadenceHours
		if hoursSince(lastOutbound.CreatedAt, now) < threshold {
			continue
		}
		index := sent + 1
		out = append(out, Candidate{
			Supplier:      s,
			FollowUpIndex: index,
			Subject:       fmt.Sprintf("Follow-up #%d: RFQ %s", index, p.ProductName()),
			Body:          Body(p, s, index),
		})
	}
	return out
}

// Body renders the reminder email.
func Body(p *domain.Project, s domain.Supplier, index int) string {
	contact := s.ContactPerson
	if contact == "" {
		contact = "team"
	}
	moq := p.Constraints.MOQTolerance
	if moq == "" {
		moq = "as discussed"
	}
	return strings.Join([]string{
		fmt.Sprintf("Hi %s,", contact),
		"",
		fmt.Sprintf("Quick follow-up on our RFQ for %s.", p.ProductName()),
		"",
		"Could you please share:",
		"- Unit pricing (with MOQ tiers)",
		"- MOQ and sample feasibility",
		"- Sample + production lead times",
		"- Tooling / NRE (if any)",
		"",
		fmt.Sprintf("Our target MOQ range is %s.", moq),
		fmt.Sprintf("This is follow-up #%d.", index),
		"",
		"If helpful, we can confirm requirements in a short call this week.",
		"",
		"Best regards,",
		p.Name,
	}, "\n")
}

// Sender delivers one reminder per eligible supplier.
type Sender struct {
	Mailer      transport.Mailer
	Concurrency int
	Logger      *zap.Logger
	Now         func() time.Time
}

func (s Sender) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run sends reminders concurrently. A failed send is recorded and does not
// stop the batch.
func (s Sender) Run(ctx context.Context, p *domain.Project, policy domain.FollowUpPolicy) (Result, error) {
	if !transport.Configured(s.Mailer) {
		return Result{}, ErrMailerUnconfigured
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := s.now()
	candidates := Eligible(p, policy, now)

	sent := make([]*domain.Conversation, len(candidates))
	failed := make([]*Failure, len(candidates))
	limit := s.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range candidates {
		g.Go(func() error {
			receipt, err := s.Mailer.SendEmail(gctx, transport.Email{To: c.Supplier.Email, Subject: c.Subject, Text: c.Body})
			if err != nil {
				logger.Warn("follow-up send failed", zap.String("supplier_id", c.Supplier.ID), zap.Error(err))
				failed[i] = &Failure{SupplierID: c.Supplier.ID, Reason: err.Error()}
				return nil
			}
			sent[i] = &domain.Conversation{
				ID:         uuid.NewString(),
				ProjectID:  p.ID,
				SupplierID: c.Supplier.ID,
				Direction:  domain.DirectionOutbound,
				Channel:    domain.ChannelEmail,
				Subject:    c.Subject,
				Message:    c.Body,
				Metadata: domain.ConversationMetadata{
					Source:            domain.SourceFollowUp,
					FollowUpIndex:     c.FollowUpIndex,
					To:                c.Supplier.Email,
					Provider:          "smtp",
					ProviderMessageID: receipt.MessageID,
					Status:            "sent",
				},
				CreatedAt: now.UTC().Format(time.RFC3339),
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{EligibleCount: len(candidates), SentConversations: []domain.Conversation{}, Failures: []Failure{}}
	for i := range candidates {
		if sent[i] != nil {
			res.SentConversations = append(res.SentConversations, *sent[i])
		}
		if failed[i] != nil {
			res.Failures = append(res.Failures, *failed[i])
		}
	}
	return res, nil
}
