package outcome

import (
	"context"
	"encoding/json"
	"strings"

	"sourceline/internal/domain"
	"sourceline/internal/llm"
)

const (
	VariantPrototype = "prototype"
	VariantPilot     = "pilot"
	VariantScale     = "scale"
)

// FallbackVariants scales the should-cost landed and tooling figures per path.
func FallbackVariants(sc *domain.ShouldCost) []domain.Variant {
	landed, tooling := 10.0, 4000.0
	if sc != nil {
		if sc.CostBreakdown.LandedUnitCostUSD != 0 {
			landed = sc.CostBreakdown.LandedUnitCostUSD
		}
		if sc.CostBreakdown.ToolingUSD != 0 {
			tooling = sc.CostBreakdown.ToolingUSD
		}
	}
	return []domain.Variant{
		{
			Key:               VariantPrototype,
			Name:              "Prototype Sprint",
			Description:       "Fastest path to first physical sample with minimal upfront tooling.",
			TargetVolumeRange: "10-100 units",
			ProcessStrategy:   "Off-the-shelf components + rapid fabrication (3D print/CNC/manual assembly).",
			Tooling:           domain.VariantTooling{Type: "No hard tooling", CostUSD: round(tooling*0.08, 2), LeadTimeDays: 5},
			UnitEconomics:     domain.UnitEconomics{ExWorksUnitCostUSD: round(landed*1.55, 2), LandedUnitCostUSD: round(landed*1.75, 2)},
			Timeline:          domain.VariantTimeline{SampleDays: 7, ProductionDays: 14},
			Pros:              []string{"Fast validation cycle", "Low commitment risk"},
			Cons:              []string{"Highest per-unit cost", "Not suitable for scale launch"},
			WhenToUse:         "Use when speed-to-first-demo is the priority.",
		},
		{
			Key:               VariantPilot,
			Name:              "Pilot Economics",
			Description:       "Balanced path between speed and unit economics for early market tests.",
			TargetVolumeRange: "100-2,000 units",
			ProcessStrategy:   "Semi-custom parts + light tooling + standardized QA.",
			Tooling:           domain.VariantTooling{Type: "Soft tooling / fixture set", CostUSD: round(tooling*0.45, 2), LeadTimeDays: 14},
			UnitEconomics:     domain.UnitEconomics{ExWorksUnitCostUSD: round(landed*1.1, 2), LandedUnitCostUSD: round(landed*1.22, 2)},
			Timeline:          domain.VariantTimeline{SampleDays: 14, ProductionDays: 21},
			Pros:              []string{"Good cost-to-speed balance", "Production-like quality signal"},
			Cons:              []string{"Still higher than full-scale costs"},
			WhenToUse:         "Use for first sellable batch and channel validation.",
		},
		{
			Key:               VariantScale,
			Name:              "Scale Optimization",
			Description:       "Lowest long-run unit cost with high upfront tooling commitment.",
			TargetVolumeRange: "2,000+ units",
			ProcessStrategy:   "Custom components + hard tooling + automated assembly where possible.",
			Tooling:           domain.VariantTooling{Type: "Hard production tooling", CostUSD: round(tooling*1.35, 2), LeadTimeDays: 35},
			UnitEconomics:     domain.UnitEconomics{ExWorksUnitCostUSD: round(landed*0.82, 2), LandedUnitCostUSD: round(landed*0.92, 2)},
			Timeline:          domain.VariantTimeline{SampleDays: 28, ProductionDays: 35},
			Pros:              []string{"Best landed unit cost", "Most defensible gross margin at volume"},
			Cons:              []string{"Highest capex and setup delay"},
			WhenToUse:         "Use after demand confidence and stable specs.",
		},
	}
}

type variantCandidate struct {
	Key               string `json:"key"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	TargetVolumeRange string `json:"targetVolumeRange"`
	ProcessStrategy   string `json:"processStrategy"`
	Tooling           struct {
		Type         string   `json:"type"`
		CostUSD      *float64 `json:"costUsd"`
		LeadTimeDays *float64 `json:"leadTimeDays"`
	} `json:"tooling"`
	UnitEconomics struct {
		ExWorksUnitCostUSD *float64 `json:"exWorksUnitCostUsd"`
		LandedUnitCostUSD  *float64 `json:"landedUnitCostUsd"`
	} `json:"unitEconomics"`
	Timeline struct {
		SampleDays     *float64 `json:"sampleDays"`
		ProductionDays *float64 `json:"productionDays"`
	} `json:"timeline"`
	Pros      []string `json:"pros"`
	Cons      []string `json:"cons"`
	WhenToUse string   `json:"whenToUse"`
}

func decodeVariants(raw []byte) []variantCandidate {
	if len(raw) == 0 {
		return nil
	}
	var list []variantCandidate
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var wrapped struct {
		Variants []variantCandidate `json:"variants"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Variants
	}
	return nil
}

// NormalizeVariants always returns the prototype, pilot and scale paths in
// that order. Each is merged field by field over its fallback.
func NormalizeVariants(raw []byte, fallback []domain.Variant) []domain.Variant {
	keyed := map[string]variantCandidate{}
	for _, c := range decodeVariants(raw) {
		keyed[strings.ToLower(strings.TrimSpace(c.Key))] = c
	}
	out := make([]domain.Variant, 0, len(fallback))
	for _, fb := range fallback {
		c, ok := keyed[fb.Key]
		if !ok {
			out = append(out, fb)
			continue
		}
		v := fb
		v.Name = orString(c.Name, fb.Name)
		v.Description = orString(c.Description, fb.Description)
		v.TargetVolumeRange = orString(c.TargetVolumeRange, fb.TargetVolumeRange)
		v.ProcessStrategy = orString(c.ProcessStrategy, fb.ProcessStrategy)
		v.Tooling.Type = orString(c.Tooling.Type, fb.Tooling.Type)
		v.Tooling.CostUSD = orFloat(c.Tooling.CostUSD, fb.Tooling.CostUSD)
		v.Tooling.LeadTimeDays = orFloat(c.Tooling.LeadTimeDays, fb.Tooling.LeadTimeDays)
		v.UnitEconomics.ExWorksUnitCostUSD = orFloat(c.UnitEconomics.ExWorksUnitCostUSD, fb.UnitEconomics.ExWorksUnitCostUSD)
		v.UnitEconomics.LandedUnitCostUSD = orFloat(c.UnitEconomics.LandedUnitCostUSD, fb.UnitEconomics.LandedUnitCostUSD)
		v.Timeline.SampleDays = orFloat(c.Timeline.SampleDays, fb.Timeline.SampleDays)
		v.Timeline.ProductionDays = orFloat(c.Timeline.ProductionDays, fb.Timeline.ProductionDays)
		v.Pros = nonEmpty(c.Pros, fb.Pros)
		v.Cons = nonEmpty(c.Cons, fb.Cons)
		v.WhenToUse = orString(c.WhenToUse, fb.WhenToUse)
		out = append(out, v)
	}
	return out
}

// Variants builds the three manufacturing paths from a should-cost model.
func (b Builder) Variants(ctx context.Context, p *domain.Project, sc *domain.ShouldCost) []domain.Variant {
	fallback := FallbackVariants(sc)
	prompt := strings.Join([]string{
		"Generate exactly three manufacturing path variants for this product: prototype, pilot, scale.",
		"Return strict JSON as array with keys: key, name, description, targetVolumeRange, processStrategy, tooling, unitEconomics, timeline, pros, cons, whenToUse.",
		"tooling keys: type, costUsd, leadTimeDays.",
		"unitEconomics keys: exWorksUnitCostUsd, landedUnitCostUsd.",
		"timeline keys: sampleDays, productionDays.",
		"Each variant key must be one of: prototype, pilot, scale.",
		"Project idea: " + p.Idea,
		"Product definition: " + mustJSON(p.ProductDefinition),
		"Should-cost model: " + mustJSON(sc),
	}, "\n\n")
	return NormalizeVariants(b.LLM.JSON(ctx, llm.Request{Prompt: prompt, MaxOutputTokens: 1300}), fallback)
}

// FindVariant returns the variant with key, else the first one.
func FindVariant(variants []domain.Variant, key string) *domain.Variant {
	for i := range variants {
		if variants[i].Key == key {
			return &variants[i]
		}
	}
	if len(variants) > 0 {
		return &variants[0]
	}
	return nil
}

func orFloat(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
