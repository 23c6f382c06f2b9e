// Package award ranks a project's suppliers and drafts the sample purchase order
// for the recommended one.
package award

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sourceline/internal/domain"
)

var ErrNoSuppliers = errors.New("No suppliers available for award decision.")

const (
	defaultTargetMOQ      = 500
	defaultShouldCost     = 12
	defaultLeadTimeDays   = 45
	sampleShare           = 0.1
	minSampleQuantity     = 20
	maxSampleQuantity     = 200
	objective             = "Minimize landed cost + delay while keeping supplier execution risk bounded."
	defaultSampleIncoterm = "EXW"
	defaultSampleTerms    = "30% deposit / 70% before shipment"
)

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// WeightOverrides replaces individual default weights. Nil fields keep the base value.
type WeightOverrides struct {
	Cost       *float64 `json:"cost,omitempty"`
	Lead       *float64 `json:"lead,omitempty"`
	MOQ        *float64 `json:"moq,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Risk       *float64 `json:"risk,omitempty"`
}

func (o WeightOverrides) Apply(base domain.AwardWeights) domain.AwardWeights {
	pick := func(v *float64, fallback float64) float64 {
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fallback
		}
		return *v
	}
	return domain.AwardWeights{
		Cost:       pick(o.Cost, base.Cost),
		Lead:       pick(o.Lead, base.Lead),
		MOQ:        pick(o.MOQ, base.MOQ),
		Confidence: pick(o.Confidence, base.Confidence),
		Risk:       pick(o.Risk, base.Risk),
	}
}

// TargetMOQ reads the first number of the project's MOQ tolerance, defaulting to 500.
func TargetMOQ(p *domain.Project) float64 {
	m := numberPattern.FindString(p.Constraints.MOQTolerance)
	if m == "" {
		return defaultTargetMOQ
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return defaultTargetMOQ
	}
	return v
}

// ShouldCostLanded is the should-cost landed unit cost, or 12 when none was built.
func ShouldCostLanded(p *domain.Project) float64 {
	if sc := p.Outcome.ShouldCost; sc != nil && !math.IsNaN(sc.CostBreakdown.LandedUnitCostUSD) {
		return sc.CostBreakdown.LandedUnitCostUSD
	}
	return defaultShouldCost
}

// ImportMultiplier returns 1.08 for a domestic supplier, otherwise a factor by distance tier.
func ImportMultiplier(s domain.Supplier, projectCountry string) float64 {
	supplierCountry := strings.ToLower(strings.TrimSpace(s.Country))
	target := strings.ToLower(strings.TrimSpace(projectCountry))
	if supplierCountry != "" && target != "" && supplierCountry == target {
		return 1.08
	}
	switch strings.ToLower(s.DistanceComplexity) {
	case "low":
		return 1.1
	case "medium":
		return 1.16
	}
	return 1.24
}

func RiskScore(flags []string) float64 {
	return clamp(1-float64(len(flags))*0.12, 0.15, 1)
}

// Rank scores every manufacturing supplier of p and recommends the highest total.
// Equal totals keep their input order.
func Rank(p *domain.Project, weights domain.AwardWeights, now time.Time) (domain.AwardDecision, error) {
	suppliers := p.Suppliers
	if len(suppliers) == 0 {
		return domain.AwardDecision{}, ErrNoSuppliers
	}

	shouldCost := ShouldCostLanded(p)
	targetMOQ := TargetMOQ(p)
	country := p.Constraints.Country
	if strings.TrimSpace(country) == "" {
		country = domain.DefaultCountry
	}

	rows := make([]domain.RankedSupplier, 0, len(suppliers))
	for _, s := range suppliers {
		multiplier := ImportMultiplier(s, country)
		base := shouldCost
		reason := "Used should-cost fallback for missing quote."
		var quoted *float64
		if v, ok := domain.Value(s.Pricing.UnitPrice); ok {
			base = v
			quoted = domain.Float(v)
			reason = "Supplier provided explicit unit quote."
		}
		lead := float64(defaultLeadTimeDays)
		if v, ok := domain.Value(s.LeadTimeDays); ok {
			lead = v
		}
		moq := targetMOQ * 2
		if v, ok := domain.Value(s.MOQ); ok {
			moq = v
		}
		var tooling *float64
		if v, ok := domain.Value(s.ToolingCost); ok {
			tooling = domain.Float(v)
		}
		rows = append(rows, domain.RankedSupplier{
			SupplierID:        s.ID,
			SupplierName:      s.Name,
			LandedUnitCostUSD: round(base*multiplier, 4),
			QuotedUnitCostUSD: quoted,
			ToolingCostUSD:    tooling,
			LeadTimeDays:      lead,
			MOQ:               moq,
			Confidence:        s.ConfidenceScore,
			RiskScore:         RiskScore(s.RiskFlags),
			Reasons: []string{
				reason,
				fmt.Sprintf("Import factor applied: %.2fx", multiplier),
			},
		})
	}

	minCost, maxCost := rows[0].LandedUnitCostUSD, rows[0].LandedUnitCostUSD
	for _, r := range rows[1:] {
		minCost = math.Min(minCost, r.LandedUnitCostUSD)
		maxCost = math.Max(maxCost, r.LandedUnitCostUSD)
	}

	for i := range rows {
		r := &rows[i]
		costScore := 1.0
		if maxCost != minCost {
			costScore = 1 - (r.LandedUnitCostUSD-minCost)/(maxCost-minCost)
		}
		leadScore := clamp((60-r.LeadTimeDays)/45, 0, 1)
		moqScore := clamp(1-math.Max(0, r.MOQ-targetMOQ)/math.Max(targetMOQ, 1), 0, 1)
		total := costScore*weights.Cost +
			leadScore*weights.Lead +
			moqScore*weights.MOQ +
			r.Confidence*weights.Confidence +
			r.RiskScore*weights.Risk
		r.ScoreBreakdown = domain.ScoreBreakdown{
			CostScore:       round(costScore, 4),
			LeadScore:       round(leadScore, 4),
			MOQScore:        round(moqScore, 4),
			ConfidenceScore: round(r.Confidence, 4),
			RiskScore:       round(r.RiskScore, 4),
		}
		r.TotalScore = round(total*100, 2)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TotalScore > rows[j].TotalScore
	})

	top := rows[0]
	winner := suppliers[0]
	for _, s := range suppliers {
		if s.ID == top.SupplierID {
			winner = s
			break
		}
	}

	return domain.AwardDecision{
		GeneratedAt:           now.UTC().Format(time.RFC3339),
		Objective:             objective,
		Weights:               weights,
		TargetMOQ:             targetMOQ,
		RecommendedSupplierID: top.SupplierID,
		Ranking:               rows,
		SamplePO:              SamplePO(winner, top, targetMOQ, now),
		Rationale: []string{
			"Award gate ranks suppliers with weighted landed cost, lead-time, MOQ, confidence, and risk.",
			"Ranking is deterministic and reproducible for audit.",
			"Sample PO packet is generated to reduce idea-to-order delay.",
		},
	}, nil
}

// SamplePO drafts the sample order: 10% of the target MOQ, clamped to [20, 200] units.
func SamplePO(s domain.Supplier, entry domain.RankedSupplier, targetMOQ float64, now time.Time) domain.SamplePO {
	qty := int(math.Max(minSampleQuantity, math.Min(maxSampleQuantity, math.Round(targetMOQ*sampleShare))))
	unit := entry.LandedUnitCostUSD
	if v, ok := domain.Value(s.Pricing.UnitPrice); ok {
		unit = v
	}
	tooling, _ := domain.Value(s.ToolingCost)
	currency := s.Pricing.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return domain.SamplePO{
		POID:           "SAMPLE-" + strings.ToUpper(uuid.NewString()[:8]),
		SupplierID:     s.ID,
		SupplierName:   s.Name,
		IssueDate:      now.UTC().Format(time.RFC3339),
		Quantity:       qty,
		UnitPrice:      round(unit, 2),
		ToolingCost:    round(tooling, 2),
		EstimatedTotal: round(float64(qty)*unit+tooling, 2),
		Currency:       currency,
		Incoterm:       defaultSampleIncoterm,
		PaymentTerms:   defaultSampleTerms,
		RequiredDocs: []string{
			"Proforma invoice",
			"BOM revision list",
			"QC test report format",
			"Packaging spec confirmation",
		},
		AcceptanceCriteria: []string{
			"Functional pass rate >= 98% on agreed test plan",
			"Critical dimensions within tolerance",
			"No unresolved cosmetic defects on A-surface",
		},
		NextActions: []string{
			"Confirm quote validity and lead time in writing",
			"Approve sample build start date",
			"Lock communication channel and owner on supplier side",
		},
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
