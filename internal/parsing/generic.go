package parsing

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"sourceline/internal/domain"
)

var (
	scopedPriceRe = regexp.MustCompile(`(?i)(?:price|unit cost|cost)\D{0,20}(\$?\d+(?:\.\d+)?)`)
	dollarRe      = regexp.MustCompile(`\$(\d+(?:\.\d+)?)`)
	scopedMOQRe   = regexp.MustCompile(`(?i)(?:moq|minimum order|minimum quantity)\D{0,20}(\d+)`)
	toolingRe     = regexp.MustCompile(`(?i)(?:tooling|mold|setup)\D{0,20}(\$?\d+(?:\.\d+)?)`)
	leadTimeRe    = regexp.MustCompile(`(?i)(\d+)\s*(day|days|week|weeks)`)
)

func number(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimPrefix(s, "$"), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ExtractPrice prefers a keyword-scoped figure over the first dollar amount.
func ExtractPrice(text string) *float64 {
	if m := scopedPriceRe.FindStringSubmatch(text); m != nil {
		return number(m[1])
	}
	if m := dollarRe.FindStringSubmatch(text); m != nil {
		return number(m[1])
	}
	return nil
}

func ExtractMOQ(text string) *float64 {
	if m := scopedMOQRe.FindStringSubmatch(text); m != nil {
		return number(m[1])
	}
	return nil
}

func ExtractToolingCost(text string) *float64 {
	if m := toolingRe.FindStringSubmatch(text); m != nil {
		return number(m[1])
	}
	return nil
}

// ExtractLeadTimeDays converts weeks to days.
func ExtractLeadTimeDays(text string) *float64 {
	m := leadTimeRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v := number(m[1])
	if v == nil {
		return nil
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "week") {
		*v *= 7
	}
	return v
}

// Parse is the deterministic supplier-reply parser. Confidence is the share
// of the four fields it could extract.
func Parse(text string) domain.ParsedReply {
	out := domain.ParsedReply{
		UnitPrice:     ExtractPrice(text),
		Currency:      domain.DefaultCurrency,
		MOQ:           ExtractMOQ(text),
		LeadTimeDays:  ExtractLeadTimeDays(text),
		ToolingCost:   ExtractToolingCost(text),
		Uncertainties: []string{},
	}
	extracted := 0
	for _, v := range []*float64{out.UnitPrice, out.MOQ, out.LeadTimeDays, out.ToolingCost} {
		if v != nil {
			extracted++
		}
	}
	if out.UnitPrice == nil {
		out.Uncertainties = append(out.Uncertainties, "Unit price missing")
	}
	if out.MOQ == nil {
		out.Uncertainties = append(out.Uncertainties, "MOQ missing")
	}
	if out.LeadTimeDays == nil {
		out.Uncertainties = append(out.Uncertainties, "Lead time missing")
	}
	out.FollowUpQuestions = followUpQuestions(out.Uncertainties)
	out.Confidence = Round2(float64(extracted) / 4)
	return out
}

func followUpQuestions(uncertainties []string) []string {
	questions := make([]string, 0, len(uncertainties))
	for _, u := range uncertainties {
		questions = append(questions, fmt.Sprintf("Can you clarify: %s?", strings.ToLower(u)))
	}
	return questions
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
