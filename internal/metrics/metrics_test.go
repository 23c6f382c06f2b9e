package metrics_test

import (
	"testing"
	"time"

	"sourceline/internal/domain"
	"sourceline/internal/metrics"
)

var created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(h int) string {
	return created.Add(time.Duration(h) * time.Hour).Format(time.RFC3339)
}

func TestOutcomeToleratesEmptyProject(t *testing.T) {
	m := metrics.Outcome(&domain.Project{}, created)
	if m.LeadTime.ProjectAgeHours != nil || m.LeadTime.TimeToFirstQuoteHours != nil {
		t.Fatalf("expected nil lead times, got %+v", m.LeadTime)
	}
	e := m.Economics
	if e.MinQuoteUnitCost != nil || e.MedianQuoteUnitCost != nil || e.ExpectedLandedUnitCost != nil || e.SavingsVsShouldCost != nil {
		t.Fatalf("expected nil economics, got %+v", e)
	}
	if m.Funnel.SuppliersIdentified != 0 || m.Status.HasAwardDecision {
		t.Fatalf("unexpected funnel/status: %+v %+v", m.Funnel, m.Status)
	}
}

func TestOutcomeSnapshot(t *testing.T) {
	p := &domain.Project{
		CreatedAt:   at(0),
		Constraints: domain.Constraints{BudgetRange: "$9-12 per unit", MOQTolerance: "up to 800"},
	}
	p.Suppliers = []domain.Supplier{
		{ID: "a", Status: domain.SupplierResponded, CreatedAt: at(2), Pricing: domain.Pricing{UnitPrice: domain.Float(10)}, MOQ: domain.Float(500), LeadTimeDays: domain.Float(30)},
		{ID: "b", Status: domain.SupplierContacted, CreatedAt: at(1), Pricing: domain.Pricing{UnitPrice: domain.Float(8)}},
		{ID: "c", Status: domain.SupplierIdentified, CreatedAt: at(3), Pricing: domain.Pricing{UnitPrice: domain.Float(13)}},
		{ID: "d", Status: domain.SupplierIdentified, CreatedAt: at(3)},
	}
	p.Conversations = []domain.Conversation{
		{Direction: domain.DirectionInbound, Channel: domain.ChannelEmail, CreatedAt: at(30)},
		{Direction: domain.DirectionOutbound, Channel: domain.ChannelEmail, CreatedAt: at(26), Metadata: domain.ConversationMetadata{Source: domain.SourceFollowUp}},
		{Direction: domain.DirectionOutbound, Channel: domain.ChannelEmail, CreatedAt: at(5), Metadata: domain.ConversationMetadata{Source: domain.SourceOutreach}},
	}
	p.Outcome.ShouldCost = &domain.ShouldCost{CostBreakdown: domain.CostBreakdown{LandedUnitCostUSD: 12.5}}
	p.Outcome.AwardDecision = &domain.AwardDecision{
		GeneratedAt:           at(48),
		RecommendedSupplierID: "a",
		Ranking:               []domain.RankedSupplier{{SupplierID: "a", LandedUnitCostUSD: 10.8}},
	}

	m := metrics.Outcome(p, created.Add(72*time.Hour))

	checks := map[string]*float64{
		"age":           m.LeadTime.ProjectAgeHours,
		"firstSupplier": m.LeadTime.TimeToFirstSupplierHours,
		"firstOutreach": m.LeadTime.TimeToFirstOutreachHours,
		"firstQuote":    m.LeadTime.TimeToFirstQuoteHours,
		"award":         m.LeadTime.TimeToAwardHours,
		"min":           m.Economics.MinQuoteUnitCost,
		"median":        m.Economics.MedianQuoteUnitCost,
		"max":           m.Economics.MaxQuoteUnitCost,
		"expected":      m.Economics.ExpectedLandedUnitCost,
		"shouldCost":    m.Economics.ShouldCostLandedUnitCost,
		"target":        m.Economics.TargetUnitCost,
		"targetMOQ":     m.Economics.TargetMOQ,
		"savings":       m.Economics.SavingsVsShouldCost,
	}
	want := map[string]float64{
		"age": 72, "firstSupplier": 1, "firstOutreach": 5, "firstQuote": 30, "award": 48,
		"min": 8, "median": 10, "max": 13, "expected": 10.8, "shouldCost": 12.5,
		"target": 9, "targetMOQ": 800, "savings": 1.7,
	}
	for name, got := range checks {
		if got == nil || *got != want[name] {
			t.Fatalf("%s: expected %v, got %v", name, want[name], got)
		}
	}

	f := m.Funnel
	if f.SuppliersIdentified != 4 || f.SuppliersContacted != 2 || f.SuppliersResponded != 1 || f.QuotesComparable != 1 || f.FollowUpsSent != 1 || !f.AwardRecommended {
		t.Fatalf("unexpected funnel: %+v", f)
	}
	if !m.Status.HasShouldCost || m.Status.HasVariants || !m.Status.HasAwardDecision {
		t.Fatalf("unexpected status: %+v", m.Status)
	}
}

func TestExpectedLandedFallsBackToSelectedQuote(t *testing.T) {
	p := &domain.Project{}
	p.Suppliers = []domain.Supplier{{ID: "a", Selected: true, Pricing: domain.Pricing{UnitPrice: domain.Float(7.25)}}}
	m := metrics.Outcome(p, created)
	if m.Economics.ExpectedLandedUnitCost == nil || *m.Economics.ExpectedLandedUnitCost != 7.25 {
		t.Fatalf("expected selected quote, got %v", m.Economics.ExpectedLandedUnitCost)
	}
	if m.Economics.SavingsVsShouldCost != nil {
		t.Fatalf("savings need a should-cost baseline")
	}
}

func TestMedian(t *testing.T) {
	if metrics.Median(nil) != nil {
		t.Fatalf("expected nil median")
	}
	if got := *metrics.Median([]float64{3, 1, 2}); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	if got := *metrics.Median([]float64{4, 1, 2, 3.333}); got != 2.67 {
		t.Fatalf("expected 2.67, got %v", got)
	}
}

func TestSourcingMetrics(t *testing.T) {
	p := &domain.Project{}
	p.Sourcing.Suppliers = []domain.Supplier{
		{ID: "a", Status: domain.SupplierNegotiating, PriceINRPerKg: domain.Float(120), MOQKg: domain.Float(2000), LeadTimeDays: domain.Float(10)},
		{ID: "b", Status: domain.SupplierContacted, PriceINRPerKg: domain.Float(100), MOQKg: domain.Float(500)},
		{ID: "c", Status: domain.SupplierIdentified},
	}
	p.Sourcing.Conversations = []domain.Conversation{
		{Direction: domain.DirectionOutbound, Channel: domain.ChannelWhatsApp, Metadata: domain.ConversationMetadata{Source: domain.SourceNegotiation}},
		{Direction: domain.DirectionInbound, Channel: domain.ChannelWhatsApp},
		{Direction: domain.DirectionOutbound, Channel: domain.ChannelEmail, Metadata: domain.ConversationMetadata{Source: domain.SourceOutreach}},
	}

	m := metrics.Sourcing(p, created)
	if m.Funnel != (domain.SourcingFunnel{SuppliersIdentified: 3, SuppliersContacted: 2, SuppliersResponded: 1, NegotiationsSent: 1}) {
		t.Fatalf("unexpected funnel: %+v", m.Funnel)
	}
	if *m.Economics.MinUnitPriceINRPerKg != 100 || *m.Economics.MedianUnitPriceINRPerKg != 110 || *m.Economics.BestMOQKg != 500 || *m.Economics.BestLeadTimeDays != 10 {
		t.Fatalf("unexpected economics: %+v", m.Economics)
	}
	if m.Communications != (domain.SourcingCommunications{Outbound: 2, Inbound: 1, WhatsAppOutbound: 1, EmailOutbound: 1}) {
		t.Fatalf("unexpected communications: %+v", m.Communications)
	}
}
