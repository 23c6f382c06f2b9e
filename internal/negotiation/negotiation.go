package negotiation

import (
	"math"
	"regexp"
	"time"

	"sourceline/internal/domain"
)

// MaxAutomatedRounds bounds automated rounds per supplier.
const MaxAutomatedRounds = 2

const (
	ReasonMaxRounds     = "Max automated negotiation rounds reached"
	ReasonTargetReached = "Target terms reached"
	ReasonHumanReview   = "Ambiguous legal/commercial term detected, requires human review"
	ReasonShortlisted   = "Supplier already shortlisted"
	ReasonContinue      = "continue"
)

// floorRatio is the lowest share of the current quote a counter may propose.
const floorRatio = 0.82

var humanReviewRe = regexp.MustCompile(`(?i)legal|exclusive|advance payment|non-cancelable`)

// Target holds the buyer's desired terms. Unset fields are never satisfied.
type Target struct {
	UnitPrice    *float64 `json:"unit_price,omitempty"`
	MOQ          *float64 `json:"moq,omitempty"`
	LeadTimeDays *float64 `json:"lead_time_days,omitempty"`
}

type StopDecision struct {
	Stop   bool   `json:"stop"`
	Reason string `json:"reason"`
}

func atMost(got, limit *float64) bool {
	if got == nil || limit == nil {
		return false
	}
	return *got <= *limit
}

// EvaluateStop decides whether automated negotiation with a supplier ends
// before the next round.
func EvaluateStop(s domain.Supplier, target Target, rounds, maxRounds int, latest *domain.ParsedReply) StopDecision {
	if maxRounds <= 0 {
		maxRounds = MaxAutomatedRounds
	}
	if rounds >= maxRounds {
		return StopDecision{Stop: true, Reason: ReasonMaxRounds}
	}
	if latest != nil {
		priceOk := atMost(latest.Price(), target.UnitPrice)
		moqOk := atMost(latest.Quantity(), target.MOQ)
		leadOk := atMost(latest.LeadTimeDays, target.LeadTimeDays)
		if priceOk && moqOk && leadOk {
			return StopDecision{Stop: true, Reason: ReasonTargetReached}
		}
		for _, u := range latest.Uncertainties {
			if humanReviewRe.MatchString(u) {
				return StopDecision{Stop: true, Reason: ReasonHumanReview}
			}
		}
	}
	if s.Status == domain.SupplierShortlisted {
		return StopDecision{Stop: true, Reason: ReasonShortlisted}
	}
	return StopDecision{Reason: ReasonContinue}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ceilCents rounds v up to whole cents; the result is never below v.
func ceilCents(v float64) float64 {
	cents := math.Ceil(v * 100)
	if cents/100 < v {
		cents++
	}
	return cents / 100
}

// ResolveCounter proposes the next terms. The unit price never goes below
// 82% of the supplier's current quote.
func ResolveCounter(s domain.Supplier, target Target) domain.CounterOffer {
	var out domain.CounterOffer
	current := s.CurrentPrice()
	requested := target.UnitPrice

	switch {
	case current != nil:
		floor := ceilCents(*current * floorRatio)
		baseline := *current
		if requested != nil && *requested < baseline {
			baseline = *requested
		}
		out.FloorGuardrail = domain.Float(floor)
		out.UnitPrice = domain.Float(math.Max(floor, round2(baseline)))
	case requested != nil:
		out.FloorGuardrail = domain.Float(*requested)
		out.UnitPrice = domain.Float(round2(*requested))
	}

	switch moq := s.CurrentMOQ(); {
	case target.MOQ != nil:
		out.MOQ = domain.Float(*target.MOQ)
	case moq != nil:
		out.MOQ = domain.Float(math.Max(25, math.Round(*moq*0.75)))
	}

	switch {
	case target.LeadTimeDays != nil:
		out.LeadTimeDays = domain.Float(*target.LeadTimeDays)
	case s.LeadTimeDays != nil:
		out.LeadTimeDays = domain.Float(math.Max(3, math.Round(*s.LeadTimeDays*0.85)))
	}
	return out
}

// CountRounds counts outbound negotiation messages already sent to a supplier.
func CountRounds(l *domain.Lifecycle, supplierID string) int {
	n := 0
	for _, c := range l.Conversations {
		if c.SupplierID == supplierID && c.Direction == domain.DirectionOutbound && c.Metadata.Source == domain.SourceNegotiation {
			n++
		}
	}
	return n
}

// LatestInbound returns the newest inbound conversation for a supplier.
func LatestInbound(l *domain.Lifecycle, supplierID string) *domain.Conversation {
	var latest *domain.Conversation
	var latestAt time.Time
	for i := range l.Conversations {
		c := &l.Conversations[i]
		if c.SupplierID != supplierID || c.Direction != domain.DirectionInbound {
			continue
		}
		at, _ := time.Parse(time.RFC3339, c.CreatedAt)
		if latest == nil || at.After(latestAt) {
			latest, latestAt = c, at
		}
	}
	return latest
}
