package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sourceline/internal/checklist"
	"sourceline/internal/domain"
	"sourceline/internal/events"
	"sourceline/internal/parsing"
	"sourceline/internal/simulation"
	"sourceline/internal/transport"
)

const inboxFetchLimit = 300

// inboundReply is a parsed supplier message waiting to be recorded.
type inboundReply struct {
	SupplierID string
	Channel    string
	Subject    string
	Text       string
	Parsed     domain.ParsedReply
	Metadata   domain.ConversationMetadata
	At         string
}

type IngestedReply struct {
	SupplierID     string               `json:"supplier_id"`
	ConversationID string               `json:"conversation_id"`
	Parsed         domain.ParsedReply   `json:"parsed"`
	Intervention   parsing.Intervention `json:"intervention"`
}

type ReplyResult struct {
	Project  domain.Project  `json:"project"`
	Ingested []IngestedReply `json:"ingested"`
}

type SyncResult struct {
	Project  domain.Project  `json:"project"`
	Fetched  int             `json:"fetched"`
	Matched  int             `json:"matched"`
	Skipped  int             `json:"skipped"`
	Ingested []IngestedReply `json:"ingested"`
}

type IngestReplyInput struct {
	ProjectID  string
	SupplierID string
	Text       string
	Subject    string
	Channel    string
	ActorID    string
}

// IngestReply parses a pasted supplier reply and records it.
func (e Engine) IngestReply(ctx context.Context, in IngestReplyInput) (ReplyResult, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return ReplyResult{}, invalid("reply_text", "reply text is required")
	}
	channel, err := replyChannel(in.Channel)
	if err != nil {
		return ReplyResult{}, err
	}
	current, err := e.Repo.GetProject(ctx, in.ProjectID)
	if err != nil {
		return ReplyResult{}, err
	}
	s, err := supplierOf(&current.Lifecycle, in.SupplierID)
	if err != nil {
		return ReplyResult{}, err
	}
	reply := inboundReply{
		SupplierID: s.ID,
		Channel:    channel,
		Subject:    in.Subject,
		Text:       text,
		Parsed:     e.extractor().Parse(ctx, current.ProductDefinition, *s, text),
		Metadata:   domain.ConversationMetadata{Source: domain.SourceManualIngest},
	}
	return e.recordReplies(ctx, in.ProjectID, in.ActorID, events.ReplyIngested, []inboundReply{reply}, "manual ingest", nil)
}

// SimulateReplies generates reproducible quotes for the given suppliers and
// ingests them like real replies.
func (e Engine) SimulateReplies(ctx context.Context, projectID string, supplierIDs []string, actorID string) (ReplyResult, error) {
	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return ReplyResult{}, err
	}
	if len(current.Suppliers) == 0 {
		return ReplyResult{}, precondition("Run supplier discovery first")
	}
	var replies []inboundReply
	for _, r := range simulation.Replies(&current, supplierIDs) {
		s := current.Supplier(r.SupplierID)
		replies = append(replies, inboundReply{
			SupplierID: r.SupplierID,
			Channel:    domain.ChannelEmail,
			Subject:    r.Subject,
			Text:       r.Text,
			Parsed:     e.extractor().Parse(ctx, current.ProductDefinition, *s, r.Text),
			Metadata:   domain.ConversationMetadata{Source: domain.SourceSimulation},
		})
	}
	if len(replies) == 0 {
		return ReplyResult{}, precondition("No matching suppliers to simulate replies for")
	}
	return e.recordReplies(ctx, projectID, actorID, events.ReplyIngested, replies, "simulation", nil)
}

// SyncInbox pulls new messages from the mailbox, matches them to suppliers by
// sender address then domain, and ingests those not seen before.
func (e Engine) SyncInbox(ctx context.Context, projectID, actorID string) (SyncResult, error) {
	unlock := workflowLocks.Lock(syncKey(projectID, domain.LifecycleManufacturing))
	defer unlock()

	current, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return SyncResult{}, err
	}
	since := syncSince(current.LastReplySyncAt, current.CreatedAt)
	msgs, err := e.inbox().FetchMessages(ctx, since, inboxFetchLimit)
	if errors.Is(err, transport.ErrNotConfigured) {
		return SyncResult{}, ConfigError{Dependency: "IMAP", Message: "IMAP is not configured. Set IMAP credentials before syncing replies."}
	}
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch inbox: %w", err)
	}

	seen := seenSignatures(&current.Lifecycle)
	res := SyncResult{Fetched: len(msgs)}
	var replies []inboundReply
	for _, m := range msgs {
		s := matchSupplier(current.Suppliers, m.From)
		if s == nil {
			continue
		}
		res.Matched++
		sig := imapSignature(m)
		if seen[sig] {
			res.Skipped++
			continue
		}
		seen[sig] = true
		replies = append(replies, inboundReply{
			SupplierID: s.ID,
			Channel:    domain.ChannelEmail,
			Subject:    m.Subject,
			Text:       m.Text,
			Parsed:     e.extractor().Parse(ctx, current.ProductDefinition, *s, m.Text),
			Metadata: domain.ConversationMetadata{
				Source:           domain.SourceInboxSync,
				From:             m.From,
				InboundMessageID: m.MessageID,
				IMAPUID:          m.UID,
				Signature:        sig,
			},
			At: messageTime(m.Date),
		})
	}

	rr, err := e.recordReplies(ctx, projectID, actorID, events.RepliesSynced, replies, "inbox", func(p *domain.Project) {
		p.LastReplySyncAt = e.ts()
	})
	if err != nil {
		return SyncResult{}, err
	}
	res.Project = rr.Project
	res.Ingested = rr.Ingested
	res.Skipped += len(replies) - len(rr.Ingested)
	return res, nil
}

func (e Engine) extractor() parsing.Extractor {
	return parsing.Extractor{LLM: e.LLM}
}

// recordReplies appends inbound conversations, updates supplier terms and
// advances the response-analysis step. Replies whose signature is already
// stored are dropped. after runs inside the same patch.
func (e Engine) recordReplies(ctx context.Context, projectID, actorID, evtType string, replies []inboundReply, origin string, after func(p *domain.Project)) (ReplyResult, error) {
	var ingested []IngestedReply
	p, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		ingested = ingested[:0]
		now := e.now()
		seen := seenSignatures(&p.Lifecycle)
		humanNeeded := false
		for _, r := range replies {
			if r.Metadata.Signature != "" && seen[r.Metadata.Signature] {
				continue
			}
			s := p.Supplier(r.SupplierID)
			if s == nil {
				continue
			}
			conv := inboundConversation(p.ID, r, now)
			p.PrependConversation(conv)
			applyManufacturingTerms(s, r.Parsed, now)
			iv := parsing.ClassifyIntervention(r.Parsed, r.Text)
			humanNeeded = humanNeeded || iv.RequiresHuman
			ingested = append(ingested, IngestedReply{
				SupplierID:     s.ID,
				ConversationID: conv.ID,
				Parsed:         r.Parsed,
				Intervention:   iv,
			})
		}
		if after != nil {
			after(p)
		}
		if len(ingested) == 0 {
			if after == nil {
				return change{}, nil
			}
			return projectChange(evtType, p.ID, events.Payload{"source": origin, "ingested": 0}), nil
		}
		advanceResponses(p, len(ingested), humanNeeded, origin, now)
		return projectChange(evtType, p.ID, events.Payload{
			"source":         origin,
			"ingested":       len(ingested),
			"requires_human": humanNeeded,
		}), nil
	})
	if err != nil {
		return ReplyResult{}, err
	}
	if ingested == nil {
		ingested = []IngestedReply{}
	}
	return ReplyResult{Project: p, Ingested: ingested}, nil
}

func inboundConversation(projectID string, r inboundReply, now time.Time) domain.Conversation {
	parsed := r.Parsed
	at := r.At
	if at == "" {
		at = now.UTC().Format(time.RFC3339)
	}
	return domain.Conversation{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		SupplierID: r.SupplierID,
		Direction:  domain.DirectionInbound,
		Channel:    r.Channel,
		Subject:    r.Subject,
		Message:    r.Text,
		Parsed:     &parsed,
		Metadata:   r.Metadata,
		CreatedAt:  at,
	}
}

// applyManufacturingTerms copies extracted terms onto the supplier. Terms
// missing from this reply keep the previously quoted value.
func applyManufacturingTerms(s *domain.Supplier, parsed domain.ParsedReply, now time.Time) {
	if parsed.UnitPrice != nil {
		s.Pricing.UnitPrice = parsed.UnitPrice
	}
	s.Pricing.Currency = parsed.Currency
	if s.Pricing.Currency == "" {
		s.Pricing.Currency = domain.DefaultCurrency
	}
	if parsed.MOQ != nil {
		s.MOQ = parsed.MOQ
	}
	if parsed.LeadTimeDays != nil {
		s.LeadTimeDays = parsed.LeadTimeDays
	}
	if parsed.ToolingCost != nil {
		s.ToolingCost = parsed.ToolingCost
	}
	s.ConfidenceScore = parsed.Confidence
	s.RiskFlags = append([]string{}, parsed.Uncertainties...)
	markResponded(s)
	s.UpdatedAt = now.UTC().Format(time.RFC3339)
}

func markResponded(s *domain.Supplier) {
	switch s.Status {
	case domain.SupplierSelected, domain.SupplierFinalized, domain.SupplierShortlisted:
	default:
		s.Status = domain.SupplierResponded
	}
}

func advanceResponses(p *domain.Project, n int, humanNeeded bool, origin string, now time.Time) {
	if humanNeeded {
		checklist.SetModuleStatus(&p.Lifecycle, checklist.ModuleResponses, domain.ChecklistInProgress)
		checklist.SetItem(p, checklist.KeyResponseAnalysis, domain.ChecklistInProgress,
			"Some supplier replies require human review.", "Review flagged replies for constraints and legal terms.", now)
		return
	}
	checklist.SetModuleStatus(&p.Lifecycle, checklist.ModuleResponses, domain.ChecklistValidated)
	checklist.SetItem(p, checklist.KeyResponseAnalysis, domain.ChecklistValidated,
		fmt.Sprintf("Parsed %d supplier replies from %s.", n, origin), "Start negotiation with the strongest quotes", now)
	checklist.SetModuleStatus(&p.Lifecycle, checklist.ModuleNegotiation, domain.ChecklistInProgress)
	checklist.SetItem(p, checklist.KeyNegotiation, domain.ChecklistInProgress,
		"Supplier responses are ready for negotiation.", "Run a negotiation round", now)
}

// matchSupplier finds the supplier by exact sender address, then by domain.
func matchSupplier(suppliers []domain.Supplier, from string) *domain.Supplier {
	email := parsing.NormalizeEmail(from)
	if email == "" {
		return nil
	}
	for i := range suppliers {
		if parsing.NormalizeEmail(suppliers[i].Email) == email {
			return &suppliers[i]
		}
	}
	fromDomain := parsing.EmailDomain(email)
	if fromDomain == "" {
		return nil
	}
	for i := range suppliers {
		if parsing.EmailDomain(suppliers[i].Email) == fromDomain {
			return &suppliers[i]
		}
	}
	return nil
}

func seenSignatures(l *domain.Lifecycle) map[string]bool {
	seen := map[string]bool{}
	for _, c := range l.Conversations {
		if c.Direction != domain.DirectionInbound {
			continue
		}
		if c.Metadata.Signature != "" {
			seen[c.Metadata.Signature] = true
		}
		if c.Metadata.InboundMessageID != "" || c.Metadata.IMAPUID != 0 {
			seen[fmt.Sprintf("imap:%s:%d", c.Metadata.InboundMessageID, c.Metadata.IMAPUID)] = true
		}
		if c.Metadata.MessageSID != "" {
			seen["twilio:"+c.Metadata.MessageSID] = true
		}
	}
	return seen
}

func imapSignature(m transport.InboundMessage) string {
	return fmt.Sprintf("imap:%s:%d", m.MessageID, m.UID)
}

func syncSince(lastSync, createdAt string) time.Time {
	for _, v := range []string{lastSync, createdAt} {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func messageTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func replyChannel(channel string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case "", domain.ChannelEmail:
		return domain.ChannelEmail, nil
	case domain.ChannelWhatsApp:
		return domain.ChannelWhatsApp, nil
	}
	return "", invalid("channel", "channel must be email or whatsapp")
}
