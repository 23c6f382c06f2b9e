// Package outcome builds the should-cost model, manufacturing variants,
// structured RFQ and compliance pre-check for a project. Model output is
// decoded over a deterministic fallback; fields that are missing or invalid
// keep the fallback value.
package outcome

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"

	"sourceline/internal/domain"
	"sourceline/internal/llm"
)

const (
	ProfileElectronics     = "electronics"
	ProfileFoodContact     = "food_contact"
	ProfileSoftGoods       = "soft_goods"
	ProfileGeneralConsumer = "general_consumer"
)

var (
	electronicsPattern = regexp.MustCompile(`arduino|pcb|electronic|sensor|battery|speaker|\bmic\b|firmware|robot|\bbots?\b`)
	foodContactPattern = regexp.MustCompile(`bottle|kitchen|food|cup|container`)
	softGoodsPattern   = regexp.MustCompile(`bag|apparel|textile|fabric|shoe`)
)

// Builder generates outcome artifacts, using the model when configured.
type Builder struct {
	LLM llm.Helper
	Now func() time.Time
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// InferProfile classifies the product from its idea, category and materials.
func InferProfile(p *domain.Project) string {
	parts := append([]string{p.Idea, p.ProductDefinition.ManufacturingCategory}, p.ProductDefinition.KeyMaterials...)
	text := strings.ToLower(strings.Join(parts, " "))
	switch {
	case electronicsPattern.MatchString(text):
		return ProfileElectronics
	case foodContactPattern.MatchString(text):
		return ProfileFoodContact
	case softGoodsPattern.MatchString(text):
		return ProfileSoftGoods
	}
	return ProfileGeneralConsumer
}

func alt(option, supplierType string, cost float64, note string) domain.BOMAlternative {
	return domain.BOMAlternative{Option: option, SupplierType: supplierType, UnitCostUSD: cost, Note: note}
}

func electronicsBOM() []domain.BOMLine {
	return []domain.BOMLine{
		{Component: "Control board (Arduino-compatible MCU)", SpecIntent: "Main logic, IO, and firmware runtime", QtyPerUnit: 1, UnitCostUSD: 5.5, CostDriver: "MCU selection and board form factor",
			Alternates: []domain.BOMAlternative{alt("A", "Distributor", 5.5, "Branded board, faster validation"), alt("B", "EMS custom PCB", 3.2, "Cheaper at pilot volumes")}},
		{Component: "Audio output subsystem", SpecIntent: "Voice playback amp + speaker", QtyPerUnit: 1, UnitCostUSD: 2.2, CostDriver: "Acoustic output quality target",
			Alternates: []domain.BOMAlternative{alt("A", "Module vendor", 2.2, "Integrated amplifier module"), alt("B", "Discrete BOM", 1.6, "Lower cost but more assembly effort")}},
		{Component: "Mic input subsystem", SpecIntent: "Voice capture front-end", QtyPerUnit: 1, UnitCostUSD: 1.4, CostDriver: "Noise floor requirements",
			Alternates: []domain.BOMAlternative{alt("A", "MEMS vendor", 1.4, "Higher SNR MEMS"), alt("B", "Electret solution", 0.8, "Cheaper, lower consistency")}},
		{Component: "Power system", SpecIntent: "Battery/adapter, charging, protection", QtyPerUnit: 1, UnitCostUSD: 3.1, CostDriver: "Runtime and safety certification scope",
			Alternates: []domain.BOMAlternative{alt("A", "Battery pack OEM", 3.1, "Integrated protection board"), alt("B", "Adapter-only", 1.5, "No onboard battery")}},
		{Component: "Enclosure (cover + cosmetic parts)", SpecIntent: "Mechanical protection and aesthetics", QtyPerUnit: 1, UnitCostUSD: 2.9, CostDriver: "Tooling strategy and finish quality",
			Alternates: []domain.BOMAlternative{alt("A", "3D print/CNC", 8.2, "Fast prototype, high unit cost"), alt("B", "Injection molded", 2.9, "Needs tooling for scale")}},
		{Component: "Final assembly + functional test", SpecIntent: "Build, flash firmware, QA smoke test", QtyPerUnit: 1, UnitCostUSD: 2.3, CostDriver: "Process maturity and automation",
			Alternates: []domain.BOMAlternative{alt("A", "Turnkey EMS", 2.3, "Lower coordination overhead"), alt("B", "Split vendors", 1.7, "Cheaper but slower orchestration")}},
		{Component: "Packaging + inserts", SpecIntent: "Retail-safe pack with quickstart guide", QtyPerUnit: 1, UnitCostUSD: 0.9, CostDriver: "Branding and unboxing requirements",
			Alternates: []domain.BOMAlternative{alt("A", "Custom printed pack", 0.9, "Brand-ready"), alt("B", "Plain carton", 0.45, "Cheapest path for pilot")}},
	}
}

func generalBOM() []domain.BOMLine {
	return []domain.BOMLine{
		{Component: "Primary material set", SpecIntent: "Core product body material", QtyPerUnit: 1, UnitCostUSD: 3.2, CostDriver: "Material grade and finish",
			Alternates: []domain.BOMAlternative{alt("A", "Domestic material supplier", 3.2, "Lower logistics risk"), alt("B", "Offshore supplier", 2.5, "Lower cost, higher lead uncertainty")}},
		{Component: "Secondary components", SpecIntent: "Fasteners, inserts, utility parts", QtyPerUnit: 1, UnitCostUSD: 1.1, CostDriver: "Part count and tolerance stack",
			Alternates: []domain.BOMAlternative{alt("A", "Catalog parts", 1.1, "Fast procurement"), alt("B", "Custom parts", 0.8, "Cheaper at volume")}},
		{Component: "Conversion process", SpecIntent: "Primary manufacturing operation", QtyPerUnit: 1, UnitCostUSD: 2.4, CostDriver: "Tooling and cycle time",
			Alternates: []domain.BOMAlternative{alt("A", "Prototype process", 4.6, "Fast setup, expensive unit economics"), alt("B", "Production process", 2.4, "Tooling-dependent, cheaper per unit")}},
		{Component: "Assembly + QC", SpecIntent: "Final build and inspection", QtyPerUnit: 1, UnitCostUSD: 1.6, CostDriver: "Labor minutes per unit",
			Alternates: []domain.BOMAlternative{alt("A", "Manual line", 1.6, "Flexible but variable throughput"), alt("B", "Semi-automated line", 1.2, "Lower unit labor at scale")}},
		{Component: "Packaging + logistics prep", SpecIntent: "Ship-ready packaging and labels", QtyPerUnit: 1, UnitCostUSD: 0.8, CostDriver: "Packaging complexity",
			Alternates: []domain.BOMAlternative{alt("A", "Custom packaging", 0.8, "Market-ready look"), alt("B", "Generic packaging", 0.45, "Lower cost for early runs")}},
	}
}

func withExtCost(l domain.BOMLine) domain.BOMLine {
	l.ExtCostUSD = domain.Float(round(l.QtyPerUnit*l.UnitCostUSD, 4))
	if l.Alternates == nil {
		l.Alternates = []domain.BOMAlternative{}
	}
	return l
}

func extSum(lines []domain.BOMLine) float64 {
	var sum float64
	for _, l := range lines {
		if l.ExtCostUSD != nil {
			sum += *l.ExtCostUSD
		}
	}
	return round(sum, 4)
}

// FallbackShouldCost derives the baseline from a profile BOM. The last two BOM
// lines are assembly and packaging; everything before is materials.
func FallbackShouldCost(p *domain.Project) domain.ShouldCost {
	profile := InferProfile(p)
	raw := generalBOM()
	tooling := 3200.0
	if profile == ProfileElectronics {
		raw = electronicsBOM()
		tooling = 4500
	}
	bom := make([]domain.BOMLine, len(raw))
	for i, l := range raw {
		bom[i] = withExtCost(l)
	}
	n := len(bom)
	materials := extSum(bom[:max(1, n-2)])
	assembly := extSum(bom[n-2 : n-1])
	packaging := extSum(bom[n-1:])
	quality := round(materials*0.04, 4)
	logistics := round(materials*0.1, 4)
	duty := round(materials*0.05, 4)
	landed := round(materials+assembly+packaging+quality+logistics+duty, 4)

	return domain.ShouldCost{
		Currency:          domain.DefaultCurrency,
		TargetVolumeUnits: 500,
		Profile:           profile,
		BOM:               bom,
		CostBreakdown: domain.CostBreakdown{
			MaterialsUSD:        materials,
			AssemblyUSD:         assembly,
			ToolingUSD:          tooling,
			QualityUSD:          quality,
			PackagingUSD:        packaging,
			LogisticsUSD:        logistics,
			DutyUSD:             duty,
			LandedUnitCostUSD:   landed,
			FirstArticleCostUSD: round(tooling+landed*50, 2),
		},
		Assumptions: []string{
			"Landed cost includes freight + import duties as modeled assumptions.",
			"No custom certification test lab costs included in unit economics.",
			"Supplier payment terms assumed net 30 after initial deposit.",
		},
		CostLevers: []string{
			"Reduce part count and simplify assembly sequence.",
			"Bundle PCB assembly + final assembly with a single EMS vendor.",
			"Use prototype process first; move to tooling only after demand signal.",
		},
	}
}

type alternateCandidate struct {
	Option       string   `json:"option"`
	SupplierType string   `json:"supplierType"`
	UnitCostUSD  *float64 `json:"unitCostUsd"`
	Note         string   `json:"note"`
}

type bomLineCandidate struct {
	Component   string               `json:"component"`
	SpecIntent  string               `json:"specIntent"`
	QtyPerUnit  *float64             `json:"qtyPerUnit"`
	UnitCostUSD *float64             `json:"unitCostUsd"`
	Alternates  []alternateCandidate `json:"alternates"`
	CostDriver  string               `json:"costDriver"`
}

type costBreakdownCandidate struct {
	AssemblyUSD         *float64 `json:"assemblyUsd"`
	ToolingUSD          *float64 `json:"toolingUsd"`
	QualityUSD          *float64 `json:"qualityUsd"`
	PackagingUSD        *float64 `json:"packagingUsd"`
	LogisticsUSD        *float64 `json:"logisticsUsd"`
	DutyUSD             *float64 `json:"dutyUsd"`
	LandedUnitCostUSD   *float64 `json:"landedUnitCostUsd"`
	FirstArticleCostUSD *float64 `json:"firstArticleCostUsd"`
}

type shouldCostCandidate struct {
	Currency          string                 `json:"currency"`
	TargetVolumeUnits *float64               `json:"targetVolumeUnits"`
	Profile           string                 `json:"profile"`
	BOM               []bomLineCandidate     `json:"bom"`
	CostBreakdown     costBreakdownCandidate `json:"costBreakdown"`
	Assumptions       []string               `json:"assumptions"`
	CostLevers        []string               `json:"costLevers"`
}

// NormalizeShouldCost decodes model output over fallback. A document without
// BOM lines yields the fallback unchanged.
func NormalizeShouldCost(raw []byte, fallback domain.ShouldCost) domain.ShouldCost {
	var c shouldCostCandidate
	if len(raw) == 0 || json.Unmarshal(raw, &c) != nil {
		return fallback
	}

	bom := make([]domain.BOMLine, 0, len(c.BOM))
	for _, line := range c.BOM {
		l := domain.BOMLine{
			Component:  line.Component,
			SpecIntent: line.SpecIntent,
			CostDriver: line.CostDriver,
			QtyPerUnit: 1,
			Alternates: []domain.BOMAlternative{},
		}
		if l.Component == "" {
			l.Component = "Component"
		}
		if line.QtyPerUnit != nil {
			l.QtyPerUnit = *line.QtyPerUnit
		}
		if line.UnitCostUSD != nil {
			l.UnitCostUSD = *line.UnitCostUSD
		}
		if line.QtyPerUnit != nil && line.UnitCostUSD != nil {
			l.ExtCostUSD = domain.Float(round(*line.QtyPerUnit**line.UnitCostUSD, 4))
		}
		for _, a := range line.Alternates {
			cost, _ := domain.Value(a.UnitCostUSD)
			l.Alternates = append(l.Alternates, alt(a.Option, a.SupplierType, cost, a.Note))
		}
		bom = append(bom, l)
	}
	if len(bom) == 0 {
		return fallback
	}

	materials := extSum(bom)
	pc := c.CostBreakdown
	pick := func(v *float64, computed float64) float64 {
		if v == nil {
			return computed
		}
		return *v
	}
	assembly := pick(pc.AssemblyUSD, round(materials*0.18, 4))
	packaging := pick(pc.PackagingUSD, round(materials*0.07, 4))
	quality := pick(pc.QualityUSD, round(materials*0.04, 4))
	logistics := pick(pc.LogisticsUSD, round(materials*0.1, 4))
	duty := pick(pc.DutyUSD, round(materials*0.05, 4))
	tooling := pick(pc.ToolingUSD, fallback.CostBreakdown.ToolingUSD)
	landed := round(pick(pc.LandedUnitCostUSD, materials+assembly+packaging+quality+logistics+duty), 4)

	out := domain.ShouldCost{
		Currency:          c.Currency,
		TargetVolumeUnits: pick(c.TargetVolumeUnits, fallback.TargetVolumeUnits),
		Profile:           c.Profile,
		BOM:               bom,
		CostBreakdown: domain.CostBreakdown{
			MaterialsUSD:        materials,
			AssemblyUSD:         assembly,
			ToolingUSD:          tooling,
			QualityUSD:          quality,
			PackagingUSD:        packaging,
			LogisticsUSD:        logistics,
			DutyUSD:             duty,
			LandedUnitCostUSD:   landed,
			FirstArticleCostUSD: pick(pc.FirstArticleCostUSD, round(tooling+landed*50, 2)),
		},
		Assumptions: nonEmpty(c.Assumptions, fallback.Assumptions),
		CostLevers:  nonEmpty(c.CostLevers, fallback.CostLevers),
	}
	if out.Currency == "" {
		out.Currency = domain.DefaultCurrency
	}
	if out.Profile == "" {
		out.Profile = fallback.Profile
	}
	return out
}

// ShouldCost builds the should-cost model for p.
func (b Builder) ShouldCost(ctx context.Context, p *domain.Project) domain.ShouldCost {
	fallback := FallbackShouldCost(p)
	prompt := strings.Join([]string{
		"Build a should-cost model for a physical product pre-manufacturing stage.",
		"Return strict JSON with keys: currency, targetVolumeUnits, profile, bom, costBreakdown, assumptions, costLevers.",
		"bom must be an array of line items with keys: component, specIntent, qtyPerUnit, unitCostUsd, alternates (array), costDriver.",
		"alternates items must include: option, supplierType, unitCostUsd, note.",
		"costBreakdown keys: materialsUsd, assemblyUsd, toolingUsd, qualityUsd, packagingUsd, logisticsUsd, dutyUsd, landedUnitCostUsd, firstArticleCostUsd.",
		"Keep numbers realistic and conservative. Currency must be USD.",
		"Project idea: " + p.Idea,
		"Product definition: " + mustJSON(p.ProductDefinition),
		"Constraints: " + mustJSON(p.Constraints),
	}, "\n\n")

	sc := NormalizeShouldCost(b.LLM.JSON(ctx, llm.Request{Prompt: prompt, MaxOutputTokens: 1400}), fallback)
	sc.GeneratedAt = b.now().UTC().Format(time.RFC3339)
	return sc
}

func nonEmpty(v, fallback []string) []string {
	if len(v) == 0 {
		return fallback
	}
	return v
}

func orString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
