// Package ideation turns a free-text product idea into a manufacturing
// definition.
package ideation

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"sourceline/internal/domain"
	"sourceline/internal/llm"
)

const (
	maxSummary = 220
	maxName    = 60
)

var (
	sentenceRe   = regexp.MustCompile(`[.!?]`)
	spaceRe      = regexp.MustCompile(`\s+`)
	highRe       = regexp.MustCompile(`(?i)electronic|battery|sensor|compliance`)
	mediumRe     = regexp.MustCompile(`(?i)custom|precision|tooling`)
	categoryRule = []struct {
		re       *regexp.Regexp
		category string
	}{
		{regexp.MustCompile(`charger|battery|sensor|wearable|device|electronic`), "Consumer Electronics"},
		{regexp.MustCompile(`bottle|cup|kitchen|food|drink`), "Food Contact Consumer Goods"},
		{regexp.MustCompile(`bag|wallet|shoe|fashion|apparel`), "Soft Goods"},
		{regexp.MustCompile(`furniture|chair|table|lamp`), "Home Goods"},
	}
)

// Category guesses the manufacturing category from the idea text.
func Category(idea string) string {
	text := strings.ToLower(idea)
	for _, r := range categoryRule {
		if r.re.MatchString(text) {
			return r.category
		}
	}
	return "General Consumer Product"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

// Fallback derives a definition without the model.
func Fallback(idea string, c domain.Constraints) domain.ProductDefinition {
	concise := truncate(strings.TrimSpace(idea), maxSummary)
	name := sentenceRe.Split(concise, 2)[0]
	name = truncate(strings.TrimSpace(spaceRe.ReplaceAllString(name, " ")), maxName)
	if name == "" {
		name = "Manufacture Concept"
	}
	complexity := "low"
	switch {
	case highRe.MatchString(idea + " " + c.ComplianceRequirements):
		complexity = "high"
	case mediumRe.MatchString(idea):
		complexity = "medium"
	}
	var materials []string
	for _, part := range strings.Split(c.MaterialsPreferences, ",") {
		if part = strings.TrimSpace(part); part != "" {
			materials = append(materials, part)
		}
	}
	if len(materials) == 0 {
		materials = []string{"Material to be validated during supplier discovery"}
	}
	return domain.ProductDefinition{
		ProductName:           name,
		Summary:               concise,
		ManufacturingCategory: Category(idea),
		FunctionalRequirements: []string{
			"Meet intended user function and durability expectations",
			"Be feasible within early-stage pilot manufacturing",
			"Allow iterative sample testing before first production batch",
		},
		KeyMaterials:    materials,
		ComplexityLevel: complexity,
		Risks: []string{
			"Supplier capability mismatch",
			"Compliance documentation gaps",
			"Unexpected tooling and sampling costs",
		},
		Assumptions: []string{
			"Prototype-first approach before volume production",
			"Initial suppliers are open to sampling and negotiation",
		},
	}
}

type definitionCandidate struct {
	ProductName            *string  `json:"productName"`
	Summary                *string  `json:"summary"`
	ManufacturingCategory  *string  `json:"manufacturingCategory"`
	FunctionalRequirements []string `json:"functionalRequirements"`
	KeyMaterials           []string `json:"keyMaterials"`
	ComplexityLevel        *string  `json:"complexityLevel"`
	Risks                  []string `json:"risks"`
	Assumptions            []string `json:"assumptions"`
}

// Normalize overlays usable model fields on the fallback definition.
func Normalize(raw []byte, fallback domain.ProductDefinition) domain.ProductDefinition {
	var c definitionCandidate
	if len(raw) == 0 || json.Unmarshal(raw, &c) != nil {
		return fallback
	}
	out := fallback
	str := func(v *string, dst *string) {
		if v != nil && strings.TrimSpace(*v) != "" {
			*dst = strings.TrimSpace(*v)
		}
	}
	list := func(v []string, dst *[]string) {
		var clean []string
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				clean = append(clean, s)
			}
		}
		if len(clean) > 0 {
			*dst = clean
		}
	}
	str(c.ProductName, &out.ProductName)
	str(c.Summary, &out.Summary)
	str(c.ManufacturingCategory, &out.ManufacturingCategory)
	if c.ComplexityLevel != nil {
		switch lvl := strings.ToLower(strings.TrimSpace(*c.ComplexityLevel)); lvl {
		case "low", "medium", "high":
			out.ComplexityLevel = lvl
		}
	}
	list(c.FunctionalRequirements, &out.FunctionalRequirements)
	list(c.KeyMaterials, &out.KeyMaterials)
	list(c.Risks, &out.Risks)
	list(c.Assumptions, &out.Assumptions)
	return out
}

// Define asks the model for a definition and normalizes it over the fallback.
func Define(ctx context.Context, h llm.Helper, idea string, c domain.Constraints) domain.ProductDefinition {
	constraintsJSON, _ := json.Marshal(c)
	prompt := strings.Join([]string{
		"Analyze this physical product idea for pre-manufacturing execution.",
		"Return strict JSON with keys:",
		"productName, summary, manufacturingCategory, functionalRequirements (array), keyMaterials (array), complexityLevel (low|medium|high), risks (array), assumptions (array)",
		"Idea: " + idea,
		"Constraints: " + string(constraintsJSON),
	}, "\n\n")
	return Normalize(h.JSON(ctx, llm.Request{Prompt: prompt}), Fallback(idea, c))
}
