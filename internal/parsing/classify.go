package parsing

import (
	"regexp"

	"sourceline/internal/domain"
)

var (
	legalUncertaintyRe = regexp.MustCompile(`(?i)legal|compliance`)
	nonStandardTermsRe = regexp.MustCompile(`(?i)exclusive|non-cancelable|advance payment`)
)

const humanReviewThreshold = 0.6

type Intervention struct {
	RequiresHuman bool   `json:"requires_human"`
	Reason        string `json:"reason"`
}

// ClassifyIntervention decides whether a parsed reply needs human review.
func ClassifyIntervention(parsed domain.ParsedReply, replyText string) Intervention {
	legalRisk := false
	for _, u := range parsed.Uncertainties {
		if legalUncertaintyRe.MatchString(u) {
			legalRisk = true
			break
		}
	}
	if legalRisk || nonStandardTermsRe.MatchString(replyText) {
		return Intervention{RequiresHuman: true, Reason: "Legal or non-standard terms detected"}
	}
	if parsed.Confidence < humanReviewThreshold || len(parsed.Uncertainties) > 0 {
		return Intervention{RequiresHuman: true, Reason: "Low confidence or missing supplier details"}
	}
	return Intervention{Reason: "Confidence threshold met"}
}
