package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sourceline/internal/domain"
	"sourceline/internal/parsing"
	"sourceline/internal/transport"
)

const defaultConcurrency = 4

var errSupplierNotFound = errors.New("Supplier not found")

type Failure struct {
	SupplierID string `json:"supplier_id"`
	DraftID    string `json:"draft_id,omitempty"`
	Reason     string `json:"reason"`
}

type Result struct {
	SentConversations []domain.Conversation `json:"sent_conversations"`
	Failures          []Failure             `json:"failures"`
	SentDraftIDs      []string              `json:"sent_draft_ids"`
}

// Sender delivers drafts over their channel. Limit caps the drafts sent per
// run and Cooldown suppresses repeat messages on the same channel.
type Sender struct {
	Mailer      transport.Mailer
	Messenger   transport.Messenger
	MockSend    bool
	Source      string
	Limit       int
	Cooldown    time.Duration
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

// Send delivers drafts and returns the resulting outbound conversations in
// draft order. Per-draft failures never abort the batch.
func (s Sender) Send(ctx context.Context, l *domain.Lifecycle, projectID string, drafts []domain.OutreachDraft) Result {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := s.now()
	if s.Limit > 0 && len(drafts) > s.Limit {
		drafts = drafts[:s.Limit]
	}

	res := Result{SentConversations: []domain.Conversation{}, Failures: []Failure{}, SentDraftIDs: []string{}}
	sent := make([]*domain.Conversation, len(drafts))
	failed := make([]*Failure, len(drafts))

	limit := s.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, d := range drafts {
		supplier := l.Supplier(d.SupplierID)
		if supplier == nil {
			failed[i] = &Failure{SupplierID: d.SupplierID, DraftID: d.ID, Reason: errSupplierNotFound.Error()}
			continue
		}
		if reason := s.cooldownReason(l, d, now); reason != "" {
			failed[i] = &Failure{SupplierID: d.SupplierID, DraftID: d.ID, Reason: reason}
			continue
		}
		g.Go(func() error {
			meta, err := s.deliver(gctx, d)
			if err != nil {
				logger.Warn("outreach send failed",
					zap.String("supplier_id", d.SupplierID),
					zap.String("channel", d.Channel),
					zap.Error(err))
				failed[i] = &Failure{SupplierID: d.SupplierID, DraftID: d.ID, Reason: err.Error()}
				return nil
			}
			meta.Source = s.Source
			meta.To = d.To
			subject := d.Subject
			if d.Channel != domain.ChannelEmail {
				subject = ""
			}
			sent[i] = &domain.Conversation{
				ID:         uuid.NewString(),
				ProjectID:  projectID,
				SupplierID: d.SupplierID,
				Direction:  domain.DirectionOutbound,
				Channel:    d.Channel,
				Subject:    subject,
				Message:    d.Body,
				Metadata:   meta,
				CreatedAt:  now.UTC().Format(time.RFC3339),
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, d := range drafts {
		if sent[i] != nil {
			res.SentConversations = append(res.SentConversations, *sent[i])
			res.SentDraftIDs = append(res.SentDraftIDs, d.ID)
		}
		if failed[i] != nil {
			res.Failures = append(res.Failures, *failed[i])
		}
	}
	return res
}

func (s Sender) cooldownReason(l *domain.Lifecycle, d domain.OutreachDraft, now time.Time) string {
	if s.Cooldown <= 0 {
		return ""
	}
	cutoff := now.Add(-s.Cooldown)
	hours := int(s.Cooldown.Hours())
	body := parsing.NormalizeText(d.Body)
	var last time.Time
	for _, c := range l.Conversations {
		if c.SupplierID != d.SupplierID || c.Direction != domain.DirectionOutbound || c.Channel != d.Channel {
			continue
		}
		at, err := time.Parse(time.RFC3339, c.CreatedAt)
		if err != nil {
			continue
		}
		if !at.Before(cutoff) && parsing.NormalizeText(c.Message) == body {
			return fmt.Sprintf("Duplicate outbound within %dh cooldown", hours)
		}
		if at.After(last) {
			last = at
		}
	}
	if !last.IsZero() && now.Sub(last) < s.Cooldown {
		return fmt.Sprintf("Cooldown active for %dh", hours)
	}
	return ""
}

func (s Sender) deliver(ctx context.Context, d domain.OutreachDraft) (domain.ConversationMetadata, error) {
	if s.MockSend {
		provider := "smtp_mock"
		if d.Channel == domain.ChannelWhatsApp {
			provider = "twilio_whatsapp_mock"
		}
		return domain.ConversationMetadata{
			Provider:          provider,
			Status:            StatusSent,
			ProviderMessageID: fmt.Sprintf("mock-%s-%s", d.Channel, d.SupplierID),
		}, nil
	}
	if d.Channel == domain.ChannelWhatsApp {
		messenger := s.Messenger
		if messenger == nil {
			messenger = transport.Unconfigured{}
		}
		receipt, err := messenger.SendMessage(ctx, transport.Message{To: d.To, Body: d.Body})
		if err != nil {
			return domain.ConversationMetadata{}, err
		}
		return domain.ConversationMetadata{Provider: "twilio_whatsapp", Status: receipt.Status, ProviderMessageID: receipt.ID}, nil
	}
	mailer := s.Mailer
	if mailer == nil {
		mailer = transport.Unconfigured{}
	}
	receipt, err := mailer.SendEmail(ctx, transport.Email{To: d.To, Subject: d.Subject, Text: d.Body})
	if err != nil {
		return domain.ConversationMetadata{}, err
	}
	return domain.ConversationMetadata{Provider: "smtp", Status: StatusSent, ProviderMessageID: receipt.MessageID}, nil
}

// MarkDrafts stamps the outcome of a send onto the stored drafts.
func MarkDrafts(drafts []domain.OutreachDraft, res Result, now time.Time) {
	sent := map[string]bool{}
	for _, id := range res.SentDraftIDs {
		sent[id] = true
	}
	failed := map[string]string{}
	for _, f := range res.Failures {
		if f.DraftID != "" {
			failed[f.DraftID] = f.Reason
		}
	}
	for i := range drafts {
		d := &drafts[i]
		if sent[d.ID] {
			d.Status = StatusSent
			d.Error = ""
			d.SentAt = now.UTC().Format(time.RFC3339)
		} else if reason, ok := failed[d.ID]; ok {
			d.Status = StatusFailed
			d.Error = reason
		}
	}
}
