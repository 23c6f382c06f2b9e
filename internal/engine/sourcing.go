package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sourceline/internal/domain"
	"sourceline/internal/events"
	"sourceline/internal/metrics"
	"sourceline/internal/outreach"
	"sourceline/internal/parsing"
	"sourceline/internal/transport"
)

const (
	sourcingFetchLimit = 200
	inboxQueueCap      = 200
)

type SourcingBriefInput struct {
	SearchTerm       string
	Spec             string
	QuantityTargetKg *float64
	MaxBudgetINRKg   *float64
	Location         string
	Country          string
	Currency         string
}

// UpdateSourcingBrief enables ingredient sourcing and restarts its lifecycle.
func (e Engine) UpdateSourcingBrief(ctx context.Context, projectID string, in SourcingBriefInput, actorID string) (domain.Project, error) {
	term := strings.TrimSpace(in.SearchTerm)
	if term == "" {
		return domain.Project{}, invalid("search_term", "search term is required")
	}
	return e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		s := &p.Sourcing
		s.Enabled = true
		s.Brief = domain.SourcingBrief{
			Country:          strings.TrimSpace(in.Country),
			Currency:         strings.ToUpper(strings.TrimSpace(in.Currency)),
			SearchTerm:       term,
			Spec:             strings.TrimSpace(in.Spec),
			QuantityTargetKg: in.QuantityTargetKg,
			MaxBudgetINRKg:   in.MaxBudgetINRKg,
			Location:         strings.TrimSpace(in.Location),
		}
		s.ModuleStatus = nil
		s.Normalize()
		return projectChange(events.SourcingBriefUpdated, p.ID, events.Payload{"search_term": term}), nil
	})
}

// PrepareSourcingOutreach drafts quotation requests on the requested
// channels. An empty channel list drafts both email and WhatsApp.
func (e Engine) PrepareSourcingOutreach(ctx context.Context, projectID string, supplierIDs, channels []string, actorID string) (domain.Project, error) {
	return e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		l, _ := p.LifecycleFor(domain.LifecycleSourcing)
		if len(l.Suppliers) == 0 {
			return change{}, precondition("Add sourcing suppliers first")
		}
		drafts := outreach.SourcingDrafts(p, supplierIDs, channels, e.now())
		l.OutreachDrafts = drafts
		status := domain.ChecklistInProgress
		if len(drafts) == 0 {
			status = domain.ChecklistBlocked
		}
		l.SetModuleStatus("outreach", status)
		return projectChange(events.OutreachPrepared, p.ID, events.Payload{
			"lifecycle": domain.LifecycleSourcing,
			"drafts":    len(drafts),
		}), nil
	})
}

// SendSourcingOutreach delivers up to 25 drafts per run. A supplier messaged
// on the same channel within the last 12 hours is skipped.
func (e Engine) SendSourcingOutreach(ctx context.Context, projectID, actorID string) (OutreachResult, error) {
	unlock := workflowLocks.Lock(sendKey(projectID, domain.LifecycleSourcing))
	defer unlock()

	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return OutreachResult{}, err
	}
	l, _ := current.LifecycleFor(domain.LifecycleSourcing)
	drafts := unsent(l.OutreachDrafts)
	if len(drafts) == 0 {
		return OutreachResult{}, precondition("No drafts prepared")
	}
	if !e.config().Negotiation.MockSend && !transport.Configured(e.Mailer) && !transport.Configured(e.Messenger) {
		return OutreachResult{}, ConfigError{Dependency: "SMTP/WhatsApp", Message: "No outbound channel is configured. Set SMTP or WhatsApp credentials before sending outreach."}
	}
	res := e.outreachSender(domain.SourceSourcingOutreach, sourcingSendLimit, sourcingSendCooldown).Send(ctx, l, projectID, drafts)

	p, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		now := e.now()
		fresh, _ := p.LifecycleFor(domain.LifecycleSourcing)
		applyOutreach(fresh, res, now)
		outreach.MarkDrafts(fresh.OutreachDrafts, res, now)
		if len(res.SentConversations) > 0 {
			fresh.SetModuleStatus("outreach", domain.ChecklistValidated)
			fresh.SetModuleStatus("responses", domain.ChecklistInProgress)
		} else {
			fresh.SetModuleStatus("outreach", domain.ChecklistBlocked)
		}
		return projectChange(events.OutreachSent, p.ID, events.Payload{
			"lifecycle": domain.LifecycleSourcing,
			"sent":      len(res.SentConversations),
			"failed":    len(res.Failures),
		}), nil
	})
	if err != nil {
		return OutreachResult{}, err
	}
	return OutreachResult{Project: p, Sent: res.SentConversations, Failures: res.Failures}, nil
}

// IngestSourcingReply parses an ingredient quote pasted by the user.
func (e Engine) IngestSourcingReply(ctx context.Context, projectID, supplierID, text, channel, actorID string) (ReplyResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ReplyResult{}, invalid("reply_text", "reply text is required")
	}
	ch, err := replyChannel(channel)
	if err != nil {
		return ReplyResult{}, err
	}
	var ingested []IngestedReply
	p, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		l, _ := p.LifecycleFor(domain.LifecycleSourcing)
		if _, err := supplierOf(l, supplierID); err != nil {
			return change{}, err
		}
		now := e.now()
		r := inboundReply{
			SupplierID: supplierID,
			Channel:    ch,
			Text:       text,
			Parsed:     parsing.ParseIngredient(text),
			Metadata: domain.ConversationMetadata{
				Source:    domain.SourceSourcingIngest,
				Signature: fmt.Sprintf("manual:%s:%d", supplierID, now.UnixMilli()),
			},
		}
		ingested = applySourcingReplies(p, []inboundReply{r}, now)
		return projectChange(events.ReplyIngested, p.ID, events.Payload{
			"lifecycle": domain.LifecycleSourcing,
			"ingested":  len(ingested),
		}), nil
	})
	if err != nil {
		return ReplyResult{}, err
	}
	return ReplyResult{Project: p, Ingested: ingested}, nil
}

// InboundWhatsApp is a message delivered by the messaging webhook.
type InboundWhatsApp struct {
	From       string
	To         string
	Body       string
	MessageSID string
}

// QueueInboundMessage stores a webhook message on the project whose sourcing
// supplier owns the sender number. Redelivered messages are ignored.
func (e Engine) QueueInboundMessage(ctx context.Context, in InboundWhatsApp, actorID string) (domain.Project, bool, error) {
	from := parsing.NormalizePhone(strings.TrimPrefix(in.From, "whatsapp:"))
	if from == "" {
		return domain.Project{}, false, invalid("from", "sender number is required")
	}
	projects, err := e.Repo.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, false, err
	}
	projectID, supplierID := "", ""
	for _, p := range projects {
		if s := matchPhone(p.Sourcing.Suppliers, from); s != nil {
			projectID, supplierID = p.ID, s.ID
			break
		}
	}
	if projectID == "" {
		return domain.Project{}, false, fmt.Errorf("%w: no sourcing supplier uses %s", ErrSupplierNotFound, from)
	}

	queued := false
	p, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		queued = false
		for _, q := range p.Sourcing.InboxQueue {
			if in.MessageSID != "" && q.MessageSID == in.MessageSID {
				return change{}, nil
			}
		}
		msg := domain.QueuedMessage{
			ID:         "twilio:" + in.MessageSID,
			SupplierID: supplierID,
			Channel:    domain.ChannelWhatsApp,
			From:       from,
			To:         parsing.NormalizePhone(strings.TrimPrefix(in.To, "whatsapp:")),
			Body:       strings.TrimSpace(in.Body),
			MessageSID: in.MessageSID,
			ReceivedAt: e.ts(),
		}
		if in.MessageSID == "" {
			msg.ID = fmt.Sprintf("twilio:%s:%d", from, e.now().UnixMilli())
		}
		queue := append([]domain.QueuedMessage{msg}, p.Sourcing.InboxQueue...)
		if len(queue) > inboxQueueCap {
			queue = queue[:inboxQueueCap]
		}
		p.Sourcing.InboxQueue = queue
		queued = true
		return supplierChange(events.SourcingMessageQueued, supplierID, events.Payload{"message_sid": in.MessageSID}), nil
	})
	if err != nil {
		return domain.Project{}, false, err
	}
	return p, queued, nil
}

// SyncSourcingReplies ingests queued WhatsApp messages and, when a mailbox is
// configured, new ingredient quotes received by email.
func (e Engine) SyncSourcingReplies(ctx context.Context, projectID, actorID string) (SyncResult, error) {
	unlock := workflowLocks.Lock(syncKey(projectID, domain.LifecycleSourcing))
	defer unlock()

	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return SyncResult{}, err
	}
	l, _ := current.LifecycleFor(domain.LifecycleSourcing)
	var msgs []transport.InboundMessage
	if transport.Configured(e.Inbox) {
		since := syncSince(current.Sourcing.LastReplySyncAt, current.CreatedAt)
		msgs, err = e.inbox().FetchMessages(ctx, since, sourcingFetchLimit)
		if err != nil && !errors.Is(err, transport.ErrNotConfigured) {
			e.logger().Warn("sourcing inbox fetch failed", zap.String("project_id", projectID), zap.Error(err))
			msgs = nil
		}
	}

	res := SyncResult{Fetched: len(msgs)}
	var emailReplies []inboundReply
	for _, m := range msgs {
		s := matchSupplier(l.Suppliers, m.From)
		if s == nil {
			continue
		}
		res.Matched++
		emailReplies = append(emailReplies, inboundReply{
			SupplierID: s.ID,
			Channel:    domain.ChannelEmail,
			Subject:    m.Subject,
			Text:       m.Text,
			Parsed:     parsing.ParseIngredient(m.Text),
			Metadata: domain.ConversationMetadata{
				Source:           domain.SourceSourcingInboxSync,
				From:             m.From,
				InboundMessageID: m.MessageID,
				IMAPUID:          m.UID,
				Signature:        imapSignature(m),
			},
			At: messageTime(m.Date),
		})
	}

	var ingested []IngestedReply
	p, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		fresh, _ := p.LifecycleFor(domain.LifecycleSourcing)
		replies := append([]inboundReply{}, emailReplies...)
		for _, q := range p.Sourcing.InboxQueue {
			s := fresh.Supplier(q.SupplierID)
			if s == nil {
				s = matchPhone(fresh.Suppliers, q.From)
			}
			if s == nil {
				continue
			}
			replies = append(replies, inboundReply{
				SupplierID: s.ID,
				Channel:    domain.ChannelWhatsApp,
				Text:       q.Body,
				Parsed:     parsing.ParseIngredient(q.Body),
				Metadata: domain.ConversationMetadata{
					Source:     domain.SourceSourcingWhatsApp,
					From:       q.From,
					MessageSID: q.MessageSID,
					Signature:  queueSignature(q),
				},
				At: q.ReceivedAt,
			})
		}
		ingested = applySourcingReplies(p, replies, e.now())
		p.Sourcing.InboxQueue = []domain.QueuedMessage{}
		p.Sourcing.LastReplySyncAt = e.ts()
		return projectChange(events.RepliesSynced, p.ID, events.Payload{
			"lifecycle": domain.LifecycleSourcing,
			"ingested":  len(ingested),
		}), nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	res.Project = p
	res.Ingested = ingested
	res.Skipped = res.Matched - countChannel(ingested, p.Sourcing.Conversations, domain.ChannelEmail)
	return res, nil
}

// applySourcingReplies records new ingredient replies and returns those
// ingested. Replies with an already stored signature are skipped.
func applySourcingReplies(p *domain.Project, replies []inboundReply, now time.Time) []IngestedReply {
	l, _ := p.LifecycleFor(domain.LifecycleSourcing)
	seen := seenSignatures(l)
	ingested := []IngestedReply{}
	ts := now.UTC().Format(time.RFC3339)
	for _, r := range replies {
		if r.Metadata.Signature != "" && seen[r.Metadata.Signature] {
			continue
		}
		s := l.Supplier(r.SupplierID)
		if s == nil {
			continue
		}
		seen[r.Metadata.Signature] = true
		conv := inboundConversation(p.ID, r, now)
		l.PrependConversation(conv)

		parsed := r.Parsed
		if parsed.UnitPriceINRPerKg != nil {
			s.PriceINRPerKg = parsed.UnitPriceINRPerKg
			s.Pricing = domain.Pricing{UnitPrice: parsed.UnitPriceINRPerKg, Currency: domain.DefaultSourcingCurrency}
		}
		if parsed.MOQKg != nil {
			s.MOQKg = parsed.MOQKg
			s.MOQ = parsed.MOQKg
		}
		if parsed.LeadTimeDays != nil {
			s.LeadTimeDays = parsed.LeadTimeDays
		}
		s.ConfidenceScore = parsed.Confidence
		s.RiskFlags = append([]string{}, parsed.Uncertainties...)
		markResponded(s)
		s.UpdatedAt = ts
		ingested = append(ingested, IngestedReply{
			SupplierID:     s.ID,
			ConversationID: conv.ID,
			Parsed:         parsed,
			Intervention:   parsing.ClassifyIntervention(parsed, r.Text),
		})
	}
	if len(ingested) > 0 {
		l.SetModuleStatus("responses", domain.ChecklistValidated)
		l.SetModuleStatus("negotiation", domain.ChecklistInProgress)
	}
	return ingested
}

// ComputeSourcingMetrics stores and returns the ingredient sourcing KPIs.
func (e Engine) ComputeSourcingMetrics(ctx context.Context, projectID, actorID string) (domain.SourcingMetrics, error) {
	var m domain.SourcingMetrics
	_, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		m = metrics.Sourcing(p, e.now())
		p.Sourcing.Metrics = &m
		return projectChange(events.MetricsComputed, p.ID, events.Payload{"lifecycle": domain.LifecycleSourcing}), nil
	})
	if err != nil {
		return domain.SourcingMetrics{}, err
	}
	return m, nil
}

func matchPhone(suppliers []domain.Supplier, phone string) *domain.Supplier {
	if phone == "" {
		return nil
	}
	for i := range suppliers {
		s := &suppliers[i]
		if parsing.NormalizePhone(s.WhatsAppNumber) == phone || parsing.NormalizePhone(s.Phone) == phone {
			return s
		}
	}
	return nil
}

func queueSignature(q domain.QueuedMessage) string {
	if q.MessageSID != "" {
		return "twilio:" + q.MessageSID
	}
	return q.ID
}

func countChannel(ingested []IngestedReply, convs []domain.Conversation, channel string) int {
	byID := map[string]string{}
	for _, c := range convs {
		byID[c.ID] = c.Channel
	}
	n := 0
	for _, r := range ingested {
		if byID[r.ConversationID] == channel {
			n++
		}
	}
	return n
}
