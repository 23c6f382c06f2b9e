// Package metrics derives KPI snapshots from a project's supplier and
// conversation history. Metrics without enough signal are nil.
package metrics

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"sourceline/internal/domain"
)

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Outcome computes the manufacturing KPI snapshot at now.
func Outcome(p *domain.Project, now time.Time) domain.OutcomeMetrics {
	created, hasCreated := parseTime(p.CreatedAt)
	suppliers := p.Suppliers

	var quotes []float64
	var firstSupplier *time.Time
	contacted, responded, comparable := 0, 0, 0
	var selected *domain.Supplier
	for i := range suppliers {
		s := &suppliers[i]
		if v, ok := domain.Value(s.Pricing.UnitPrice); ok {
			quotes = append(quotes, v)
		}
		if at, ok := parseTime(s.CreatedAt); ok && (firstSupplier == nil || at.Before(*firstSupplier)) {
			firstSupplier = &at
		}
		switch s.Status {
		case domain.SupplierContacted, domain.SupplierFinalized:
			contacted++
		case domain.SupplierResponded:
			contacted++
			responded++
		}
		if s.Pricing.UnitPrice != nil && s.MOQ != nil && s.LeadTimeDays != nil {
			comparable++
		}
		if s.Selected && selected == nil {
			selected = s
		}
	}

	var firstOutreach, firstReply *time.Time
	followUps := 0
	for _, c := range p.Conversations {
		at, ok := parseTime(c.CreatedAt)
		switch c.Direction {
		case domain.DirectionOutbound:
			if c.Metadata.Source == domain.SourceFollowUp {
				followUps++
			}
			if ok && c.Channel == domain.ChannelEmail && (firstOutreach == nil || at.Before(*firstOutreach)) {
				firstOutreach = &at
			}
		case domain.DirectionInbound:
			if ok && (firstReply == nil || at.Before(*firstReply)) {
				firstReply = &at
			}
		}
	}

	decision := p.Outcome.AwardDecision
	shouldCost := shouldCostLanded(p)
	expected := expectedLanded(p, decision, selected, shouldCost)

	m := domain.OutcomeMetrics{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Funnel: domain.FunnelMetrics{
			SuppliersIdentified: len(suppliers),
			SuppliersContacted:  contacted,
			SuppliersResponded:  responded,
			QuotesComparable:    comparable,
			FollowUpsSent:       followUps,
			AwardRecommended:    decision != nil && decision.RecommendedSupplierID != "",
		},
		Economics: domain.EconomicsMetrics{
			MinQuoteUnitCost:         minOf(quotes),
			MedianQuoteUnitCost:      Median(quotes),
			MaxQuoteUnitCost:         maxOf(quotes),
			ExpectedLandedUnitCost:   expected,
			ShouldCostLandedUnitCost: shouldCost,
			TargetUnitCost:           firstNumber(p.Constraints.BudgetRange),
			TargetMOQ:                firstNumber(p.Constraints.MOQTolerance),
		},
		Status: domain.OutcomeStatus{
			HasShouldCost:    p.Outcome.ShouldCost != nil,
			HasVariants:      len(p.Outcome.Variants) > 0,
			HasStructuredRFQ: p.Outcome.StructuredRFQ != nil,
			HasAwardDecision: decision != nil,
		},
	}
	if expected != nil && shouldCost != nil {
		m.Economics.SavingsVsShouldCost = domain.Float(round2(*shouldCost - *expected))
	}

	if hasCreated {
		m.LeadTime.ProjectAgeHours = hoursBetween(created, &now)
		m.LeadTime.TimeToFirstSupplierHours = hoursBetween(created, firstSupplier)
		m.LeadTime.TimeToFirstOutreachHours = hoursBetween(created, firstOutreach)
		m.LeadTime.TimeToFirstQuoteHours = hoursBetween(created, firstReply)
		if decision != nil {
			if at, ok := parseTime(decision.GeneratedAt); ok {
				m.LeadTime.TimeToAwardHours = hoursBetween(created, &at)
			}
		}
	}
	return m
}

// expectedLanded prefers the award recommendation, then the recommended or
// selected supplier's quote, then the should-cost baseline.
func expectedLanded(p *domain.Project, d *domain.AwardDecision, selected *domain.Supplier, shouldCost *float64) *float64 {
	if d != nil {
		if rec, ok := d.Recommended(); ok && rec.LandedUnitCostUSD > 0 {
			return domain.Float(rec.LandedUnitCostUSD)
		}
		if s := p.Supplier(d.RecommendedSupplierID); s != nil && s.Pricing.UnitPrice != nil {
			return domain.Float(*s.Pricing.UnitPrice)
		}
	}
	if selected != nil && selected.Pricing.UnitPrice != nil {
		return domain.Float(*selected.Pricing.UnitPrice)
	}
	return shouldCost
}

func shouldCostLanded(p *domain.Project) *float64 {
	if sc := p.Outcome.ShouldCost; sc != nil {
		return domain.Float(sc.CostBreakdown.LandedUnitCostUSD)
	}
	return nil
}

// Sourcing computes the ingredient-sourcing KPI snapshot at now.
func Sourcing(p *domain.Project, now time.Time) domain.SourcingMetrics {
	l, _ := p.LifecycleFor(domain.LifecycleSourcing)

	var prices, moqs, leads []float64
	contacted, responded := 0, 0
	for _, s := range l.Suppliers {
		if v, ok := domain.Value(s.PriceINRPerKg); ok {
			prices = append(prices, v)
		}
		if v, ok := domain.Value(s.MOQKg); ok {
			moqs = append(moqs, v)
		}
		if v, ok := domain.Value(s.LeadTimeDays); ok {
			leads = append(leads, v)
		}
		switch s.Status {
		case domain.SupplierContacted:
			contacted++
		case domain.SupplierResponded, domain.SupplierNegotiating, domain.SupplierShortlisted:
			contacted++
			responded++
		}
	}

	m := domain.SourcingMetrics{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Funnel: domain.SourcingFunnel{
			SuppliersIdentified: len(l.Suppliers),
			SuppliersContacted:  contacted,
			SuppliersResponded:  responded,
		},
		Economics: domain.SourcingEconomics{
			MinUnitPriceINRPerKg:    minOf(prices),
			MedianUnitPriceINRPerKg: Median(prices),
			BestMOQKg:               minOf(moqs),
			BestLeadTimeDays:        minOf(leads),
		},
	}
	for _, c := range l.Conversations {
		if c.Direction == domain.DirectionInbound {
			m.Communications.Inbound++
			continue
		}
		m.Communications.Outbound++
		switch c.Channel {
		case domain.ChannelWhatsApp:
			m.Communications.WhatsAppOutbound++
		case domain.ChannelEmail:
			m.Communications.EmailOutbound++
		}
		if c.Metadata.Source == domain.SourceNegotiation {
			m.Funnel.NegotiationsSent++
		}
	}
	return m
}

// Median returns the middle value, averaging the two middle values of an even set.
func Median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return domain.Float(sorted[mid])
	}
	return domain.Float(round2((sorted[mid-1] + sorted[mid]) / 2))
}

func minOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := values[0]
	for _, x := range values[1:] {
		v = math.Min(v, x)
	}
	return &v
}

func maxOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := values[0]
	for _, x := range values[1:] {
		v = math.Max(v, x)
	}
	return &v
}

func firstNumber(raw string) *float64 {
	m := numberPattern.FindString(raw)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

func hoursBetween(start time.Time, end *time.Time) *float64 {
	if end == nil {
		return nil
	}
	return domain.Float(round2(end.Sub(start).Hours()))
}

func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
