package parsing

import (
	"math"
	"regexp"
	"strings"

	"sourceline/internal/domain"
)

const massUnits = `kg|kgs|kilogram|kilograms|ton|tons|tonne|tonnes|quintal|quintals`

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	inrStrictRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:inr|rs\.?|₹)\s*(\d+(?:\.\d+)?)\s*/?\s*(` + massUnits + `)`),
		regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:inr|rs\.?|₹)\s*/?\s*(` + massUnits + `)`),
		regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*/?\s*(` + massUnits + `)\s*(?:inr|rs\.?|₹)`),
	}
	inrLooseRe     = regexp.MustCompile(`(?i)(?:inr|rs\.?|₹)\s*(\d+(?:\.\d+)?)`)
	moqExplicitRe  = regexp.MustCompile(`(?i)(?:moq|minimum order(?: quantity)?|min\.?(?:imum)?\s*order)\s*[:\-]?\s*(\d+(?:\.\d+)?)\s*(` + massUnits + `)?`)
	moqHintRe      = regexp.MustCompile(`(?i)moq|min(?:imum)?\s*order|order quantity|first order`)
	valueUnitRe    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(` + massUnits + `)?`)
	leadDaysRe     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(day|days)`)
	leadWeeksRe    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(week|weeks)`)
	paymentTermsRe = regexp.MustCompile(`(?i)((?:\d{1,3}%\s*(?:advance|deposit).{0,40}\d{1,3}%\s*(?:before shipment|against dispatch|after delivery))|(?:net\s*\d+))`)
	complianceRe   = regexp.MustCompile(`(?i)food\s*grade|fssai|iso|haccp`)
)

// NormalizeText collapses whitespace runs and trims.
func NormalizeText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func toKg(v float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case "ton", "tons", "tonne", "tonnes":
		return v * 1000
	case "quintal", "quintals":
		return v * 100
	}
	return v
}

func toPerKg(v float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case "ton", "tons", "tonne", "tonnes":
		return v / 1000
	case "quintal", "quintals":
		return v / 100
	}
	return v
}

// ExtractPriceINRPerKg normalizes ton and quintal prices to per-kg.
func ExtractPriceINRPerKg(text string) *float64 {
	s := NormalizeText(text)
	if s == "" {
		return nil
	}
	for _, re := range inrStrictRes {
		if m := re.FindStringSubmatch(s); m != nil {
			if v := number(m[1]); v != nil {
				return domain.Float(Round2(toPerKg(*v, m[2])))
			}
		}
	}
	if m := inrLooseRe.FindStringSubmatch(s); m != nil {
		if v := number(m[1]); v != nil {
			return domain.Float(Round2(*v))
		}
	}
	return nil
}

func ExtractMOQKg(text string) *float64 {
	s := strings.ToLower(NormalizeText(text))
	if s == "" {
		return nil
	}
	if m := moqExplicitRe.FindStringSubmatch(s); m != nil {
		if v := number(m[1]); v != nil {
			return domain.Float(math.Round(toKg(*v, m[2])))
		}
	}
	if !moqHintRe.MatchString(s) {
		return nil
	}
	if m := valueUnitRe.FindStringSubmatch(s); m != nil {
		if v := number(m[1]); v != nil {
			return domain.Float(math.Round(toKg(*v, m[2])))
		}
	}
	return nil
}

// ExtractIngredientLeadTimeDays prefers days over weeks.
func ExtractIngredientLeadTimeDays(text string) *float64 {
	s := strings.ToLower(NormalizeText(text))
	if s == "" {
		return nil
	}
	if m := leadDaysRe.FindStringSubmatch(s); m != nil {
		if v := number(m[1]); v != nil {
			return domain.Float(math.Round(*v))
		}
	}
	if m := leadWeeksRe.FindStringSubmatch(s); m != nil {
		if v := number(m[1]); v != nil {
			return domain.Float(math.Round(*v * 7))
		}
	}
	return nil
}

func ExtractPaymentTerms(text string) string {
	s := NormalizeText(text)
	if m := paymentTermsRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// ParseIngredient parses bulk ingredient quotes priced in INR per kg.
func ParseIngredient(text string) domain.ParsedReply {
	out := domain.ParsedReply{
		UnitPriceINRPerKg: ExtractPriceINRPerKg(text),
		Currency:          domain.DefaultSourcingCurrency,
		MOQKg:             ExtractMOQKg(text),
		LeadTimeDays:      ExtractIngredientLeadTimeDays(text),
		PaymentTerms:      ExtractPaymentTerms(text),
		Uncertainties:     []string{},
	}
	extracted := 0
	for _, v := range []*float64{out.UnitPriceINRPerKg, out.MOQKg, out.LeadTimeDays} {
		if v != nil {
			extracted++
		}
	}
	if out.PaymentTerms != "" {
		extracted++
	}
	if out.UnitPriceINRPerKg == nil {
		out.Uncertainties = append(out.Uncertainties, "Unit price missing")
	}
	if out.MOQKg == nil {
		out.Uncertainties = append(out.Uncertainties, "MOQ missing")
	}
	if out.LeadTimeDays == nil {
		out.Uncertainties = append(out.Uncertainties, "Lead time missing")
	}
	if !complianceRe.MatchString(text) {
		out.Uncertainties = append(out.Uncertainties, "Food-grade/compliance proof not mentioned")
	}
	out.Confidence = Round2(math.Min(1, float64(extracted)/4))
	return out
}
