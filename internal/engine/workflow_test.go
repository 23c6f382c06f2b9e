package engine_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sourceline/internal/award"
	"sourceline/internal/checklist"
	"sourceline/internal/domain"
	"sourceline/internal/engine"
	"sourceline/internal/llm"
	"sourceline/internal/negotiation"
	"sourceline/internal/transport"
)

const fullReply = "Unit price is $12.40, MOQ 1200 units, lead time 5 weeks, tooling is $3200."

func floatIs(p *float64, want float64) bool {
	return p != nil && *p == want
}

func TestOutreachPrepareAndSend(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	if _, err := env.Engine.PrepareOutreach(env.Ctx, p.ID, nil, "tester"); err == nil {
		t.Fatalf("expected precondition without suppliers")
	}
	a := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})
	b := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Bolt Factory", Email: "info@bolt.io"})
	env.Mailer.fail["info@bolt.io"] = errors.New("mailbox unavailable")

	p, err := env.Engine.PrepareOutreach(env.Ctx, p.ID, nil, "tester")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(p.OutreachDrafts) != 2 || p.OutreachDrafts[0].Subject != "RFQ Request: "+p.ProductName() {
		t.Fatalf("unexpected drafts %+v", p.OutreachDrafts)
	}
	if p.ModuleStatus[checklist.ModuleOutreach] != domain.ChecklistInProgress {
		t.Fatalf("expected outreach in progress")
	}

	res, err := env.Engine.SendOutreach(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(res.Sent) != 1 || len(res.Failures) != 1 || res.Failures[0].SupplierID != b.ID {
		t.Fatalf("expected one sent and one failure, got %+v", res)
	}
	p = res.Project
	if p.Supplier(a.ID).Status != domain.SupplierContacted || p.Supplier(b.ID).Status != domain.SupplierOutreachFailed {
		t.Fatalf("unexpected statuses %s / %s", p.Supplier(a.ID).Status, p.Supplier(b.ID).Status)
	}
	if p.ModuleStatus[checklist.ModuleOutreach] != domain.ChecklistValidated || p.ModuleStatus[checklist.ModuleResponses] != domain.ChecklistInProgress {
		t.Fatalf("unexpected modules %v", p.ModuleStatus)
	}
	if len(p.Conversations) != 1 || p.Conversations[0].Metadata.Source != domain.SourceOutreach {
		t.Fatalf("expected one outbound conversation, got %+v", p.Conversations)
	}
	if findItem(p, checklist.KeyOutreachRFQ).Evidence != "Sent 1 RFQ messages." {
		t.Fatalf("unexpected evidence %q", findItem(p, checklist.KeyOutreachRFQ).Evidence)
	}
}

func TestSendOutreachAllFailedBlocks(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})
	env.Mailer.fail["sales@acme.com"] = errors.New("relay denied")
	if _, err := env.Engine.PrepareOutreach(env.Ctx, p.ID, nil, "tester"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.SendOutreach(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Project.ModuleStatus[checklist.ModuleOutreach] != domain.ChecklistBlocked {
		t.Fatalf("expected outreach blocked")
	}
	if got := findItem(res.Project, checklist.KeyOutreachRFQ).NextAction; got != "Fix SMTP or supplier emails and retry outreach." {
		t.Fatalf("unexpected next action %q", got)
	}
}

func TestSendOutreachRequiresMailer(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Mailer = transport.Unconfigured{}
	p := env.createProject(t)
	if _, err := env.Engine.SendOutreach(env.Ctx, p.ID, "tester"); err == nil {
		t.Fatalf("expected no drafts error")
	}
	env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})
	if _, err := env.Engine.PrepareOutreach(env.Ctx, p.ID, nil, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SendOutreach(env.Ctx, p.ID, "tester")
	var cfgErr engine.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Dependency != "SMTP" {
		t.Fatalf("expected SMTP config error, got %v", err)
	}
}

func TestIngestReplyUpdatesSupplier(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	s := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})

	res, err := env.Engine.IngestReply(env.Ctx, engine.IngestReplyInput{ProjectID: p.ID, SupplierID: s.ID, Text: fullReply, ActorID: "tester"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got := res.Project.Supplier(s.ID)
	if !floatIs(got.Pricing.UnitPrice, 12.4) || !floatIs(got.MOQ, 1200) || !floatIs(got.LeadTimeDays, 35) || !floatIs(got.ToolingCost, 3200) {
		t.Fatalf("unexpected supplier terms %+v", got)
	}
	if got.Status != domain.SupplierResponded || got.ConfidenceScore != 1 || len(got.RiskFlags) != 0 {
		t.Fatalf("unexpected supplier state %+v", got)
	}
	if len(res.Ingested) != 1 || res.Ingested[0].Intervention.RequiresHuman {
		t.Fatalf("clean reply should not need review: %+v", res.Ingested)
	}
	p = res.Project
	if p.ModuleStatus[checklist.ModuleResponses] != domain.ChecklistValidated || p.ModuleStatus[checklist.ModuleNegotiation] != domain.ChecklistInProgress {
		t.Fatalf("unexpected modules %v", p.ModuleStatus)
	}
	if findItem(p, checklist.KeyResponseAnalysis).Evidence != "Parsed 1 supplier replies from manual ingest." {
		t.Fatalf("unexpected evidence %q", findItem(p, checklist.KeyResponseAnalysis).Evidence)
	}
	if c := p.Conversations[0]; c.Direction != domain.DirectionInbound || c.Parsed == nil || c.Metadata.Source != domain.SourceManualIngest {
		t.Fatalf("unexpected conversation %+v", c)
	}
}

func TestIngestReplyFlagsHumanReview(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	s := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works"})
	res, err := env.Engine.IngestReply(env.Ctx, engine.IngestReplyInput{ProjectID: p.ID, SupplierID: s.ID, Text: "We need an exclusive contract. MOQ 500.", ActorID: "tester"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Ingested[0].Intervention.RequiresHuman {
		t.Fatalf("expected human review")
	}
	if res.Project.ModuleStatus[checklist.ModuleResponses] != domain.ChecklistInProgress {
		t.Fatalf("expected responses in progress, got %v", res.Project.ModuleStatus)
	}
	if _, err := env.Engine.IngestReply(env.Ctx, engine.IngestReplyInput{ProjectID: p.ID, SupplierID: "nope", Text: "hi"}); !errors.Is(err, engine.ErrSupplierNotFound) {
		t.Fatalf("expected supplier not found, got %v", err)
	}
}

func TestSyncInboxMatchesAndDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	a := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})
	b := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Bolt Factory", Email: "info@bolt.io"})
	env.Inbox.messages = []transport.InboundMessage{
		{UID: 1, MessageID: "<m1@acme.com>", From: "Sales <sales@acme.com>", Subject: "RE: RFQ", Text: fullReply, Date: start.Add(time.Hour)},
		{UID: 2, MessageID: "<m2@bolt.io>", From: "ops@bolt.io", Subject: "Quote", Text: "MOQ 800 units, lead time 20 days", Date: start.Add(2 * time.Hour)},
		{UID: 3, MessageID: "<m3@spam.biz>", From: "promo@spam.biz", Text: "Buy now"},
	}

	res, err := env.Engine.SyncInbox(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Fetched != 3 || res.Matched != 2 || len(res.Ingested) != 2 {
		t.Fatalf("unexpected sync counts %+v", res)
	}
	if res.Project.Supplier(a.ID).Status != domain.SupplierResponded || !floatIs(res.Project.Supplier(b.ID).MOQ, 800) {
		t.Fatalf("suppliers not updated: %+v", res.Project.Suppliers)
	}
	if res.Project.LastReplySyncAt == "" {
		t.Fatalf("expected last sync timestamp")
	}

	again, err := env.Engine.SyncInbox(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(again.Ingested) != 0 || again.Skipped != 2 {
		t.Fatalf("expected duplicates to be skipped, got %+v", again)
	}
	if len(again.Project.Conversations) != 2 {
		t.Fatalf("expected two conversations, got %d", len(again.Project.Conversations))
	}
}

func TestSyncInboxRequiresMailbox(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Inbox = transport.Unconfigured{}
	p := env.createProject(t)
	_, err := env.Engine.SyncInbox(env.Ctx, p.ID, "tester")
	var cfgErr engine.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Dependency != "IMAP" {
		t.Fatalf("expected IMAP config error, got %v", err)
	}
}

func TestSimulateRepliesIsReproducible(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	s := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Country: "China"})
	var prices []float64
	for i := 0; i < 2; i++ {
		res, err := env.Engine.SimulateReplies(env.Ctx, p.ID, nil, "tester")
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		got := res.Project.Supplier(s.ID)
		if got.Pricing.UnitPrice == nil || got.Status != domain.SupplierResponded {
			t.Fatalf("simulated reply not applied: %+v", got)
		}
		if res.Project.Conversations[0].Metadata.Source != domain.SourceSimulation {
			t.Fatalf("expected simulation source")
		}
		prices = append(prices, *got.Pricing.UnitPrice)
	}
	if prices[0] != prices[1] {
		t.Fatalf("simulation must be deterministic, got %v", prices)
	}
}

func TestNegotiationStopsAfterMaxRounds(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Negotiation.MockSend = true
	p := env.createProject(t)
	s := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})
	if _, err := env.Engine.IngestReply(env.Ctx, engine.IngestReplyInput{ProjectID: p.ID, SupplierID: s.ID, Text: fullReply}); err != nil {
		t.Fatal(err)
	}

	var last engine.NegotiationResult
	for round := 1; round <= 3; round++ {
		res, err := env.Engine.Negotiate(env.Ctx, engine.NegotiateInput{
			ProjectID:   p.ID,
			SupplierID:  s.ID,
			SendMessage: true,
			Channel:     domain.ChannelEmail,
			ActorID:     "tester",
		})
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if res.Round != round {
			t.Fatalf("expected round %d, got %d", round, res.Round)
		}
		last = res
	}
	if !last.StopDecision.Stop || last.StopDecision.Reason != "Max automated negotiation rounds reached" {
		t.Fatalf("expected max rounds stop, got %+v", last.StopDecision)
	}
	if last.Delivery.Status != negotiation.DeliveryDraftOnly {
		t.Fatalf("a stopped round must not be delivered, got %s", last.Delivery.Status)
	}
	p = last.Project
	if p.Supplier(s.ID).Status != domain.SupplierNegotiating {
		t.Fatalf("expected negotiating, got %s", p.Supplier(s.ID).Status)
	}
	if negotiation.CountRounds(&p.Lifecycle, s.ID) != 3 {
		t.Fatalf("every round must be recorded")
	}
	if got := findItem(p, checklist.KeyManufacturerSelection); got.Status != domain.ChecklistInProgress {
		t.Fatalf("expected manufacturer selection in progress, got %+v", got)
	}
	if counter := last.Counter; counter.UnitPrice == nil || *counter.UnitPrice < 12.4*0.82 {
		t.Fatalf("counter below floor: %+v", counter)
	}
}

func TestNegotiationTargetReachedShortlists(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	s := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})
	if _, err := env.Engine.IngestReply(env.Ctx, engine.IngestReplyInput{ProjectID: p.ID, SupplierID: s.ID, Text: fullReply}); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Negotiate(env.Ctx, engine.NegotiateInput{
		ProjectID: p.ID,
		Target: negotiation.Target{
			UnitPrice:    domain.Float(13),
			MOQ:          domain.Float(1500),
			LeadTimeDays: domain.Float(40),
		},
	})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if res.StopDecision.Reason != negotiation.ReasonTargetReached {
		t.Fatalf("expected target reached, got %+v", res.StopDecision)
	}
	if res.Project.Supplier(s.ID).Status != domain.SupplierShortlisted {
		t.Fatalf("expected shortlisted, got %s", res.Project.Supplier(s.ID).Status)
	}
}

func TestNegotiationRequiresContactAddress(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	if _, err := env.Engine.Negotiate(env.Ctx, engine.NegotiateInput{ProjectID: p.ID}); err == nil {
		t.Fatalf("expected precondition without suppliers")
	}
	env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works"})
	_, err := env.Engine.Negotiate(env.Ctx, engine.NegotiateInput{ProjectID: p.ID, SendMessage: true, Channel: domain.ChannelEmail})
	var pre engine.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestNegotiationStoppedRoundSkipsAddressCheck(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	s := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "No Address Co"})
	if _, err := env.Engine.IngestReply(env.Ctx, engine.IngestReplyInput{ProjectID: p.ID, SupplierID: s.ID, Text: fullReply}); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Negotiate(env.Ctx, engine.NegotiateInput{
		ProjectID:   p.ID,
		SupplierID:  s.ID,
		SendMessage: true,
		Channel:     domain.ChannelEmail,
		Target: negotiation.Target{
			UnitPrice:    domain.Float(13),
			MOQ:          domain.Float(1500),
			LeadTimeDays: domain.Float(40),
		},
	})
	if err != nil {
		t.Fatalf("stopped round must be recorded, got %v", err)
	}
	if !res.StopDecision.Stop || res.Delivery.Status != negotiation.DeliveryDraftOnly {
		t.Fatalf("expected undelivered stop, got %+v %+v", res.StopDecision, res.Delivery)
	}
	if negotiation.CountRounds(&res.Project.Lifecycle, s.ID) != 1 {
		t.Fatalf("expected one outbound negotiation conversation")
	}
	if len(env.Mailer.sent) != 0 {
		t.Fatalf("nothing should be sent, got %d", len(env.Mailer.sent))
	}
}

type cannedLLM struct{ text string }

func (c cannedLLM) GenerateText(context.Context, llm.Request) (string, error) { return c.text, nil }

func (cannedLLM) GenerateJSON(context.Context, llm.Request) ([]byte, error) {
	return nil, llm.ErrUnconfigured
}

func TestNegotiationDraftUsesModel(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	s := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})
	if _, err := env.Engine.IngestReply(env.Ctx, engine.IngestReplyInput{ProjectID: p.ID, SupplierID: s.ID, Text: fullReply}); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.Negotiate(env.Ctx, engine.NegotiateInput{ProjectID: p.ID, SupplierID: s.ID})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Body, "Unit price target") {
		t.Fatalf("expected template body without a model, got %q", res.Body)
	}

	env.Engine.LLM = llm.Helper{Client: cannedLLM{text: "Could we meet at 10.20 per unit?"}}
	res, err = env.Engine.Negotiate(env.Ctx, engine.NegotiateInput{ProjectID: p.ID, SupplierID: s.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Body != "Could we meet at 10.20 per unit?" || res.Conversation.Message != res.Body {
		t.Fatalf("expected model draft, got %q", res.Body)
	}
}

func TestAwardGate(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	if _, _, err := env.Engine.RunAwardGate(env.Ctx, p.ID, engine.AwardInput{}, "tester"); err == nil {
		t.Fatalf("expected no suppliers error")
	} else {
		var pre engine.PreconditionError
		if !errors.As(err, &pre) || pre.Reason != award.ErrNoSuppliers.Error() {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if err := env.Engine.AwardPacketPDF(env.Ctx, p.ID, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected export to require a decision")
	}

	cn := env.addSupplier(t, p.ID, engine.SupplierInput{
		Name: "Shenzhen Metal", Country: "China", DistanceComplexity: "high",
		UnitPrice: domain.Float(8.9), MOQ: domain.Float(1000), LeadTimeDays: domain.Float(28), ConfidenceScore: domain.Float(0.7),
	})
	us := env.addSupplier(t, p.ID, engine.SupplierInput{
		Name: "Ohio Fab", Country: "United States", DistanceComplexity: "low",
		UnitPrice: domain.Float(10.6), MOQ: domain.Float(300), LeadTimeDays: domain.Float(16), ConfidenceScore: domain.Float(0.8),
	})

	d, p, err := env.Engine.RunAwardGate(env.Ctx, p.ID, engine.AwardInput{AutoSelect: true}, "tester")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if len(d.Ranking) != 2 || d.Ranking[0].TotalScore < d.Ranking[1].TotalScore {
		t.Fatalf("ranking must be sorted by score: %+v", d.Ranking)
	}
	rec := p.Supplier(d.RecommendedSupplierID)
	if rec == nil || !rec.Selected || rec.Status != domain.SupplierSelected {
		t.Fatalf("expected auto-selected recommendation, got %+v", rec)
	}
	other := cn.ID
	if rec.ID == cn.ID {
		other = us.ID
	}
	if p.Supplier(other).Selected {
		t.Fatalf("only the recommended supplier may be selected")
	}
	if p.Outcome.AwardDecision == nil || p.Outcome.KPISnapshot == nil || !p.Outcome.KPISnapshot.Funnel.AwardRecommended {
		t.Fatalf("expected stored decision and snapshot")
	}

	again, _, err := env.Engine.RunAwardGate(env.Ctx, p.ID, engine.AwardInput{}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	for i := range d.Ranking {
		if again.Ranking[i].SupplierID != d.Ranking[i].SupplierID {
			t.Fatalf("rerun must reproduce the ranking")
		}
	}

	var pdf, xlsx bytes.Buffer
	if err := env.Engine.AwardPacketPDF(env.Ctx, p.ID, &pdf); err != nil || !bytes.HasPrefix(pdf.Bytes(), []byte("%PDF")) {
		t.Fatalf("pdf export failed: %v", err)
	}
	if err := env.Engine.AwardRankingXLSX(env.Ctx, p.ID, &xlsx); err != nil || !bytes.HasPrefix(xlsx.Bytes(), []byte("PK")) {
		t.Fatalf("xlsx export failed: %v", err)
	}
}

func TestOutcomePlanFallbacks(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	p, err := env.Engine.GenerateOutcomePlan(env.Ctx, p.ID, "", "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	o := p.Outcome
	if o.ShouldCost == nil || len(o.Variants) != 3 || o.StructuredRFQ == nil || o.KPISnapshot == nil {
		t.Fatalf("incomplete outcome plan %+v", o)
	}
	if o.StructuredRFQ.VariantKey != "pilot" {
		t.Fatalf("expected pilot variant, got %s", o.StructuredRFQ.VariantKey)
	}
	if !o.KPISnapshot.Status.HasShouldCost || !o.KPISnapshot.Status.HasStructuredRFQ {
		t.Fatalf("snapshot should reflect the plan: %+v", o.KPISnapshot.Status)
	}

	rfq, err := env.Engine.BuildStructuredRFQ(env.Ctx, p.ID, "scale", "tester")
	if err != nil || rfq.VariantKey != "scale" {
		t.Fatalf("expected scale rfq, got %+v (%v)", rfq.VariantKey, err)
	}
	variants, err := env.Engine.BuildVariants(env.Ctx, p.ID, "tester")
	if err != nil || len(variants) != 3 {
		t.Fatalf("expected three variants, got %d (%v)", len(variants), err)
	}
	sc, err := env.Engine.BuildShouldCost(env.Ctx, p.ID, "tester")
	if err != nil || sc.CostBreakdown.LandedUnitCostUSD <= 0 {
		t.Fatalf("expected a landed cost, got %+v (%v)", sc.CostBreakdown, err)
	}
}

func TestFollowUpsRespectCadence(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	s := env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})
	if _, err := env.Engine.PrepareOutreach(env.Ctx, p.ID, nil, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendOutreach(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatal(err)
	}

	early, err := env.Engine.RunFollowUps(env.Ctx, p.ID, engine.FollowUpPolicyInput{}, "tester")
	if err != nil || early.EligibleCount != 0 {
		t.Fatalf("nothing is due inside the SLA, got %+v (%v)", early, err)
	}

	env.Clock.Advance(25 * time.Hour)
	res, err := env.Engine.RunFollowUps(env.Ctx, p.ID, engine.FollowUpPolicyInput{}, "tester")
	if err != nil {
		t.Fatalf("follow-ups: %v", err)
	}
	if len(res.Sent) != 1 || res.Project.Supplier(s.ID).FollowUpsSent != 1 {
		t.Fatalf("expected one follow-up, got %+v", res)
	}
	if res.Project.Outcome.KPISnapshot == nil || res.Project.Outcome.KPISnapshot.Funnel.FollowUpsSent != 1 {
		t.Fatalf("expected snapshot to count follow-ups")
	}

	again, err := env.Engine.RunFollowUps(env.Ctx, p.ID, engine.FollowUpPolicyInput{}, "tester")
	if err != nil || again.EligibleCount != 0 {
		t.Fatalf("second follow-up waits a full cadence, got %+v (%v)", again, err)
	}

	zero := 0
	if _, err := env.Engine.UpdateFollowUpPolicy(env.Ctx, p.ID, engine.FollowUpPolicyInput{MaxFollowUps: &zero}, "tester"); err != nil {
		t.Fatalf("update policy: %v", err)
	}
	env.Clock.Advance(100 * time.Hour)
	capped, err := env.Engine.RunFollowUps(env.Ctx, p.ID, engine.FollowUpPolicyInput{}, "tester")
	if err != nil || capped.EligibleCount != 0 || capped.Policy.MaxFollowUps != 0 {
		t.Fatalf("stored policy must cap follow-ups, got %+v (%v)", capped, err)
	}
	negative := -1
	if _, err := env.Engine.UpdateFollowUpPolicy(env.Ctx, p.ID, engine.FollowUpPolicyInput{MaxFollowUps: &negative}, "tester"); err == nil {
		t.Fatalf("expected negative policy to be rejected")
	}
}

func TestSweepFollowUps(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 2; i++ {
		p := env.createProject(t)
		env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com"})
		if _, err := env.Engine.PrepareOutreach(env.Ctx, p.ID, nil, "tester"); err != nil {
			t.Fatal(err)
		}
		if _, err := env.Engine.SendOutreach(env.Ctx, p.ID, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	env.Clock.Advance(30 * time.Hour)
	res, err := env.Engine.SweepFollowUps(env.Ctx, "scheduler")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Projects != 2 || res.Sent != 2 {
		t.Fatalf("unexpected sweep %+v", res)
	}

	env.Engine.Mailer = transport.Unconfigured{}
	if _, err := env.Engine.SweepFollowUps(env.Ctx, "scheduler"); err == nil {
		t.Fatalf("expected config error without a mailer")
	}
}

func TestRunAutopilot(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Negotiation.MockSend = true
	p := env.createProject(t)
	env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Acme Works", Email: "sales@acme.com", Country: "China"})
	env.addSupplier(t, p.ID, engine.SupplierInput{Name: "Ohio Fab", Email: "rfq@ohiofab.com", Country: "United States"})

	res, err := env.Engine.RunAutopilot(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("autopilot: %v", err)
	}
	if len(res.Steps) != 4 || res.Negotiation == nil {
		t.Fatalf("unexpected steps %+v", res.Steps)
	}
	if res.Negotiation.Round != 1 {
		t.Fatalf("expected first round, got %d", res.Negotiation.Round)
	}
}
