package engine_test

import (
	"errors"
	"testing"

	"sourceline/internal/domain"
	"sourceline/internal/engine"
)

const ingredientReply = "Price: INR 120/kg,  MOQ: 2 tons, delivery in 10 days, payment 30% advance and 70% before shipment. FSSAI certified."

func (env testEnv) sourcingProject(t *testing.T) (domain.Project, domain.Supplier) {
	t.Helper()
	p := env.createProject(t)
	p, err := env.Engine.UpdateSourcingBrief(env.Ctx, p.ID, engine.SourcingBriefInput{
		SearchTerm:       "turmeric powder",
		Spec:             "curcumin 3%",
		QuantityTargetKg: domain.Float(500),
		Location:         "Erode",
	}, "tester")
	if err != nil {
		t.Fatalf("brief: %v", err)
	}
	s := env.addSupplier(t, p.ID, engine.SupplierInput{
		Lifecycle: domain.LifecycleSourcing,
		Name:      "Erode Spices",
		Email:     "trade@erodespices.in",
		Phone:     "9876543210",
	})
	return p, s
}

func TestUpdateSourcingBrief(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	_, err := env.Engine.UpdateSourcingBrief(env.Ctx, p.ID, engine.SourcingBriefInput{SearchTerm: "  "}, "tester")
	var bad engine.InvalidInputError
	if !errors.As(err, &bad) || bad.Field != "search_term" {
		t.Fatalf("expected search term error, got %v", err)
	}

	p, s := env.sourcingProject(t)
	p, err = env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Sourcing.Enabled || p.Sourcing.Brief.Country != "India" || p.Sourcing.Brief.Currency != "INR" {
		t.Fatalf("unexpected brief %+v", p.Sourcing.Brief)
	}
	if s.Phone != "+919876543210" {
		t.Fatalf("expected normalized phone, got %q", s.Phone)
	}
	if len(p.Suppliers) != 0 || len(p.Sourcing.Suppliers) != 1 {
		t.Fatalf("sourcing suppliers must stay in their own lifecycle")
	}
	if p.Sourcing.ModuleStatus["discovery"] != domain.ChecklistValidated {
		t.Fatalf("expected discovery validated, got %v", p.Sourcing.ModuleStatus)
	}
}

func TestSourcingOutreach(t *testing.T) {
	env := newTestEnv(t)
	p, s := env.sourcingProject(t)

	p, err := env.Engine.PrepareSourcingOutreach(env.Ctx, p.ID, nil, []string{domain.ChannelEmail}, "tester")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(p.Sourcing.OutreachDrafts) != 1 || p.Sourcing.OutreachDrafts[0].Channel != domain.ChannelEmail {
		t.Fatalf("unexpected drafts %+v", p.Sourcing.OutreachDrafts)
	}
	res, err := env.Engine.SendSourcingOutreach(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(res.Sent) != 1 || env.Mailer.count() != 1 {
		t.Fatalf("expected one email, got %+v", res)
	}
	if res.Project.Sourcing.Supplier(s.ID).Status != domain.SupplierContacted {
		t.Fatalf("expected contacted")
	}
	if res.Project.Sourcing.ModuleStatus["outreach"] != domain.ChecklistValidated {
		t.Fatalf("expected outreach validated")
	}
	if len(res.Project.Conversations) != 0 {
		t.Fatalf("manufacturing log must stay empty")
	}
}

func TestIngestSourcingReply(t *testing.T) {
	env := newTestEnv(t)
	p, s := env.sourcingProject(t)
	res, err := env.Engine.IngestSourcingReply(env.Ctx, p.ID, s.ID, ingredientReply, "", "tester")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got := res.Project.Sourcing.Supplier(s.ID)
	if !floatIs(got.PriceINRPerKg, 120) || !floatIs(got.MOQKg, 2000) || !floatIs(got.LeadTimeDays, 10) {
		t.Fatalf("unexpected terms %+v", got)
	}
	if got.Status != domain.SupplierResponded || got.Pricing.Currency != "INR" {
		t.Fatalf("unexpected supplier %+v", got)
	}
	if res.Project.Sourcing.ModuleStatus["responses"] != domain.ChecklistValidated {
		t.Fatalf("expected responses validated")
	}
	if res.Ingested[0].Parsed.PaymentTerms == "" {
		t.Fatalf("expected payment terms")
	}
	if _, err := env.Engine.IngestSourcingReply(env.Ctx, p.ID, "missing", ingredientReply, "", "tester"); !errors.Is(err, engine.ErrSupplierNotFound) {
		t.Fatalf("expected supplier not found, got %v", err)
	}
}

func TestQueueAndSyncWhatsApp(t *testing.T) {
	env := newTestEnv(t)
	p, s := env.sourcingProject(t)
	in := engine.InboundWhatsApp{
		From:       "whatsapp:+919876543210",
		To:         "whatsapp:+14155238886",
		Body:       ingredientReply,
		MessageSID: "SM123",
	}

	got, queued, err := env.Engine.QueueInboundMessage(env.Ctx, in, "webhook")
	if err != nil || !queued {
		t.Fatalf("queue: %v (queued=%v)", err, queued)
	}
	if got.ID != p.ID || len(got.Sourcing.InboxQueue) != 1 || got.Sourcing.InboxQueue[0].SupplierID != s.ID {
		t.Fatalf("unexpected queue %+v", got.Sourcing.InboxQueue)
	}
	if _, queued, err := env.Engine.QueueInboundMessage(env.Ctx, in, "webhook"); err != nil || queued {
		t.Fatalf("redelivery must not queue twice: %v", err)
	}
	unknown := in
	unknown.From = "whatsapp:+15550001111"
	if _, _, err := env.Engine.QueueInboundMessage(env.Ctx, unknown, "webhook"); !errors.Is(err, engine.ErrSupplierNotFound) {
		t.Fatalf("expected unknown sender error, got %v", err)
	}

	res, err := env.Engine.SyncSourcingReplies(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(res.Ingested) != 1 || len(res.Project.Sourcing.InboxQueue) != 0 {
		t.Fatalf("expected queue drained into one reply, got %+v", res.Ingested)
	}
	conv := res.Project.Sourcing.Conversations[0]
	if conv.Channel != domain.ChannelWhatsApp || conv.Metadata.MessageSID != "SM123" {
		t.Fatalf("unexpected conversation %+v", conv)
	}
	if res.Project.Sourcing.LastReplySyncAt == "" {
		t.Fatalf("expected sync timestamp")
	}

	// The same SID redelivered after ingestion is recognised by its signature.
	if _, _, err := env.Engine.QueueInboundMessage(env.Ctx, in, "webhook"); err != nil {
		t.Fatal(err)
	}
	again, err := env.Engine.SyncSourcingReplies(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(again.Ingested) != 0 || len(again.Project.Sourcing.Conversations) != 1 {
		t.Fatalf("duplicate message ingested again: %+v", again.Ingested)
	}
}

func TestSourcingMetrics(t *testing.T) {
	env := newTestEnv(t)
	p, s := env.sourcingProject(t)
	other := env.addSupplier(t, p.ID, engine.SupplierInput{Lifecycle: domain.LifecycleSourcing, Name: "Salem Agro", Phone: "9876500000"})
	if _, err := env.Engine.IngestSourcingReply(env.Ctx, p.ID, s.ID, ingredientReply, "", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.IngestSourcingReply(env.Ctx, p.ID, other.ID, "Rate INR 140/kg, MOQ 500 kg, dispatch in 7 days", "whatsapp", "tester"); err != nil {
		t.Fatal(err)
	}
	m, err := env.Engine.ComputeSourcingMetrics(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Funnel.SuppliersIdentified != 2 || m.Funnel.SuppliersResponded != 2 {
		t.Fatalf("unexpected funnel %+v", m.Funnel)
	}
	if !floatIs(m.Economics.MinUnitPriceINRPerKg, 120) || !floatIs(m.Economics.MedianUnitPriceINRPerKg, 130) {
		t.Fatalf("unexpected economics %+v", m.Economics)
	}
	if m.Communications.Inbound != 2 {
		t.Fatalf("expected two inbound messages, got %d", m.Communications.Inbound)
	}
	stored, err := env.Engine.GetProject(env.Ctx, p.ID)
	if err != nil || stored.Sourcing.Metrics == nil {
		t.Fatalf("metrics must be stored: %v", err)
	}
}
