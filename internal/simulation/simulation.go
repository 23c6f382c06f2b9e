// Package simulation produces reproducible synthetic supplier quotes for demos.
// Every value is a pure function of the project, supplier and idea.
package simulation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"sourceline/internal/domain"
)

// Quote is a synthetic supplier offer.
type Quote struct {
	UnitPrice    float64 `json:"unit_price"`
	Currency     string  `json:"currency"`
	MOQ          float64 `json:"moq"`
	LeadTimeDays float64 `json:"lead_time_days"`
	ToolingCost  float64 `json:"tooling_cost"`
}

// Reply is a rendered synthetic reply ready for ingestion.
type Reply struct {
	SupplierID string `json:"supplier_id"`
	Subject    string `json:"subject"`
	Text       string `json:"reply_text"`
	Quote      Quote  `json:"quote"`
}

// HashSeed folds the UTF-16 code units of input into a non-negative 32-bit hash.
func HashSeed(input string) int64 {
	var h int32
	for _, c := range utf16.Encode([]rune(input)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

// SeededValue maps seed onto [min, max] through a sine curve.
func SeededValue(seed float64, min, max float64) float64 {
	return min + (math.Sin(seed)+1)/2*(max-min)
}

func categoryBasePrice(category string) float64 {
	text := strings.ToLower(category)
	switch {
	case strings.Contains(text, "electronics"):
		return 18
	case strings.Contains(text, "food"):
		return 6.5
	case strings.Contains(text, "soft"):
		return 11
	case strings.Contains(text, "home"):
		return 14
	}
	return 9.5
}

func countryMultiplier(country string) float64 {
	text := strings.ToLower(country)
	switch {
	case strings.Contains(text, "united states"):
		return 1.35
	case strings.Contains(text, "china"):
		return 0.84
	case strings.Contains(text, "vietnam"):
		return 0.8
	case strings.Contains(text, "malaysia"):
		return 0.9
	case strings.Contains(text, "mexico"):
		return 0.95
	}
	return 1
}

// SyntheticQuote derives a quote for s on project p.
func SyntheticQuote(p *domain.Project, s domain.Supplier) Quote {
	seed := float64(HashSeed(p.ID + ":" + s.ID + ":" + p.Idea))
	base := categoryBasePrice(p.ProductDefinition.ManufacturingCategory)
	return Quote{
		UnitPrice:    math.Round(base*countryMultiplier(s.Country)*SeededValue(seed*1.07, 0.85, 1.22)*100) / 100,
		Currency:     domain.DefaultCurrency,
		MOQ:          math.Round(SeededValue(seed*1.23, 320, 2800)/10) * 10,
		LeadTimeDays: math.Round(SeededValue(seed*1.47, 16, 56)),
		ToolingCost:  math.Round(SeededValue(seed*1.91, 700, 6800)/50) * 50,
	}
}

// ReplyText renders q as a supplier email the reply parser understands.
func ReplyText(s domain.Supplier, q Quote) string {
	contact := s.ContactPerson
	signature := contact
	if contact == "" {
		contact = "our sales team"
		signature = "Sales Team"
	}
	return strings.Join([]string{
		fmt.Sprintf("Hi team, this is %s from %s.", contact, s.Name),
		"",
		"Thanks for your RFQ. Here is our initial offer:",
		fmt.Sprintf("- Unit price: $%s %s", num(q.UnitPrice), q.Currency),
		fmt.Sprintf("- MOQ: %s units", num(q.MOQ)),
		fmt.Sprintf("- Lead time: %s days after artwork confirmation", num(q.LeadTimeDays)),
		fmt.Sprintf("- Tooling/setup cost: $%s", num(q.ToolingCost)),
		"",
		"We can discuss adjustments based on target volume and forecast commitment.",
		"Best regards,",
		signature,
	}, "\n")
}

// Replies simulates a reply from each supplier in ids, or from all suppliers when ids is empty.
func Replies(p *domain.Project, ids []string) []Reply {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []Reply
	for _, s := range p.Suppliers {
		if len(want) > 0 && !want[s.ID] {
			continue
		}
		q := SyntheticQuote(p, s)
		out = append(out, Reply{
			SupplierID: s.ID,
			Subject:    "RE: RFQ " + p.ProductName(),
			Text:       ReplyText(s, q),
			Quote:      q,
		})
	}
	return out
}

// PickBest returns the supplier with the best quick-look score, favouring low
// price, MOQ and lead time and high confidence. Missing terms score as poor.
func PickBest(suppliers []domain.Supplier) *domain.Supplier {
	var best *domain.Supplier
	bestScore := math.Inf(-1)
	for i := range suppliers {
		s := &suppliers[i]
		price := valueOr(s.Pricing.UnitPrice, 999)
		moq := valueOr(s.MOQ, 99999)
		lead := valueOr(s.LeadTimeDays, 999)
		score := 38/price + 2600/math.Max(1, moq) + 42/math.Max(1, lead) + s.ConfidenceScore*12
		if score > bestScore {
			bestScore = score
			best = s
		}
	}
	return best
}

func valueOr(p *float64, fallback float64) float64 {
	if v, ok := domain.Value(p); ok {
		return v
	}
	return fallback
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
