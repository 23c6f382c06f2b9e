package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sourceline/internal/domain"
	"sourceline/internal/llm"
)

const responseWindow = 72 * time.Hour

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

func firstNumber(raw string) (float64, bool) {
	m := numberPattern.FindString(raw)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	return v, err == nil
}

// FallbackRFQ drafts the RFQ contract from constraints, should-cost and the chosen variant.
func FallbackRFQ(p *domain.Project, sc *domain.ShouldCost, v *domain.Variant, now time.Time) domain.StructuredRFQ {
	targetPrice, ok := firstNumber(p.Constraints.BudgetRange)
	if !ok || targetPrice == 0 {
		landed := 10.0
		if sc != nil && sc.CostBreakdown.LandedUnitCostUSD != 0 {
			landed = sc.CostBreakdown.LandedUnitCostUSD
		}
		targetPrice = round(landed, 2)
	}
	targetMOQ, ok := firstNumber(p.Constraints.MOQTolerance)
	if !ok {
		targetMOQ = 500
	}
	lead := 30.0
	variantKey := VariantPilot
	if v != nil {
		if v.Timeline.ProductionDays != 0 {
			lead = v.Timeline.ProductionDays
		}
		variantKey = v.Key
	}

	var compliance []string
	for _, part := range strings.Split(p.Constraints.ComplianceRequirements, ",") {
		if part = strings.TrimSpace(part); part != "" {
			compliance = append(compliance, part)
		}
	}
	compliance = append(compliance, "Material declarations for restricted substances where applicable")

	materials := p.ProductDefinition.KeyMaterials
	if materials == nil {
		materials = []string{}
	}

	return domain.StructuredRFQ{
		RFQID:            uuid.NewString(),
		IssueDate:        now.UTC().Format(time.RFC3339),
		ResponseDeadline: now.Add(responseWindow).UTC().Format(time.RFC3339),
		Product: domain.RFQProduct{
			Name:         p.ProductName(),
			Summary:      orString(p.ProductDefinition.Summary, p.Idea),
			Category:     orString(p.ProductDefinition.ManufacturingCategory, "General Consumer Product"),
			KeyMaterials: materials,
		},
		VariantKey: variantKey,
		CommercialTerms: domain.RFQCommercialTerms{
			Currency:           domain.DefaultCurrency,
			TargetUnitPriceUSD: targetPrice,
			TargetMOQ:          targetMOQ,
			TargetLeadTimeDays: lead,
			SampleLeadTimeDays: math.Max(7, math.Round(lead*0.4)),
			Incoterm:           "EXW",
			PaymentTerms:       "30% deposit, 70% before shipment",
		},
		Deliverables: []string{
			"Pilot/sample units with functional test report",
			"Final BOM with manufacturer part numbers",
			"Process flow summary and QC checkpoints",
			"Packing configuration and carton dimensions",
		},
		QualityPlan: domain.RFQQualityPlan{
			AQLLevel: "Critical 0 / Major 2.5 / Minor 4.0",
			CriticalChecks: []string{
				"Dimensional fit and assembly integrity",
				"Functional operation over 30-minute continuous run",
				"Visual/cosmetic defect screening",
			},
		},
		ComplianceRequirements: compliance,
		QuoteTemplateFields: []string{
			"Unit price by MOQ tiers (EXW)",
			"Tooling/NRE cost and amortization options",
			"Sample lead time and mass production lead time",
			"Packaging cost and carton specs",
			"Payment terms and validity period",
		},
		AttachmentsRequired: []string{
			"Capability statement and relevant past projects",
			"Factory location and export ports",
			"Proposed production timeline (Gantt or milestone list)",
		},
		SupplierQuestions: []string{
			"What is your minimum engineering change turnaround time?",
			"Can you support alternate part sourcing if one component is constrained?",
			"What in-line QC checks are standard at your line?",
		},
		NegotiationGuardrails: []string{
			"No non-cancelable blanket POs before sample validation",
			"All changes to MOQ/lead-time must be written and versioned",
			"Explicit definition of defect handling and rework responsibility",
		},
	}
}

type rfqCandidate struct {
	RFQID            string `json:"rfqId"`
	IssueDate        string `json:"issueDate"`
	ResponseDeadline string `json:"responseDeadline"`
	Product          struct {
		Name         string   `json:"name"`
		Summary      string   `json:"summary"`
		Category     string   `json:"category"`
		KeyMaterials []string `json:"keyMaterials"`
	} `json:"product"`
	VariantKey      string `json:"variantKey"`
	CommercialTerms struct {
		Currency           string   `json:"currency"`
		TargetUnitPriceUSD *float64 `json:"targetUnitPriceUsd"`
		TargetMOQ          *float64 `json:"targetMoq"`
		TargetLeadTimeDays *float64 `json:"targetLeadTimeDays"`
		SampleLeadTimeDays *float64 `json:"sampleLeadTimeDays"`
		Incoterm           string   `json:"incoterm"`
		PaymentTerms       string   `json:"paymentTerms"`
	} `json:"commercialTerms"`
	Deliverables []string `json:"deliverables"`
	QualityPlan  struct {
		AQLLevel       string   `json:"aqlLevel"`
		CriticalChecks []string `json:"criticalChecks"`
	} `json:"qualityPlan"`
	ComplianceRequirements []string `json:"complianceRequirements"`
	QuoteTemplateFields    []string `json:"quoteTemplateFields"`
	AttachmentsRequired    []string `json:"attachmentsRequired"`
	SupplierQuestions      []string `json:"supplierQuestions"`
	NegotiationGuardrails  []string `json:"negotiationGuardrails"`
}

// NormalizeRFQ decodes model output over fallback.
func NormalizeRFQ(raw []byte, fallback domain.StructuredRFQ) domain.StructuredRFQ {
	var c rfqCandidate
	if len(raw) == 0 || json.Unmarshal(raw, &c) != nil {
		return fallback
	}
	r := fallback
	r.RFQID = orString(c.RFQID, fallback.RFQID)
	r.IssueDate = orString(c.IssueDate, fallback.IssueDate)
	r.ResponseDeadline = orString(c.ResponseDeadline, fallback.ResponseDeadline)
	r.Product = domain.RFQProduct{
		Name:         orString(c.Product.Name, fallback.Product.Name),
		Summary:      orString(c.Product.Summary, fallback.Product.Summary),
		Category:     orString(c.Product.Category, fallback.Product.Category),
		KeyMaterials: nonEmpty(c.Product.KeyMaterials, fallback.Product.KeyMaterials),
	}
	r.VariantKey = orString(c.VariantKey, fallback.VariantKey)
	ct, fct := c.CommercialTerms, fallback.CommercialTerms
	r.CommercialTerms = domain.RFQCommercialTerms{
		Currency:           orString(ct.Currency, fct.Currency),
		TargetUnitPriceUSD: orFloat(ct.TargetUnitPriceUSD, fct.TargetUnitPriceUSD),
		TargetMOQ:          orFloat(ct.TargetMOQ, fct.TargetMOQ),
		TargetLeadTimeDays: orFloat(ct.TargetLeadTimeDays, fct.TargetLeadTimeDays),
		SampleLeadTimeDays: orFloat(ct.SampleLeadTimeDays, fct.SampleLeadTimeDays),
		Incoterm:           orString(ct.Incoterm, fct.Incoterm),
		PaymentTerms:       orString(ct.PaymentTerms, fct.PaymentTerms),
	}
	r.Deliverables = nonEmpty(c.Deliverables, fallback.Deliverables)
	r.QualityPlan = domain.RFQQualityPlan{
		AQLLevel:       orString(c.QualityPlan.AQLLevel, fallback.QualityPlan.AQLLevel),
		CriticalChecks: nonEmpty(c.QualityPlan.CriticalChecks, fallback.QualityPlan.CriticalChecks),
	}
	r.ComplianceRequirements = nonEmpty(c.ComplianceRequirements, fallback.ComplianceRequirements)
	r.QuoteTemplateFields = nonEmpty(c.QuoteTemplateFields, fallback.QuoteTemplateFields)
	r.AttachmentsRequired = nonEmpty(c.AttachmentsRequired, fallback.AttachmentsRequired)
	r.SupplierQuestions = nonEmpty(c.SupplierQuestions, fallback.SupplierQuestions)
	r.NegotiationGuardrails = nonEmpty(c.NegotiationGuardrails, fallback.NegotiationGuardrails)
	return r
}

// StructuredRFQ builds the RFQ contract for the variant with variantKey.
func (b Builder) StructuredRFQ(ctx context.Context, p *domain.Project, sc *domain.ShouldCost, variants []domain.Variant, variantKey string) domain.StructuredRFQ {
	v := FindVariant(variants, variantKey)
	fallback := FallbackRFQ(p, sc, v, b.now())
	prompt := strings.Join([]string{
		"Create a structured RFQ contract packet for a manufacturer.",
		"Return strict JSON with keys: rfqId, issueDate, responseDeadline, product, variantKey, commercialTerms, deliverables, qualityPlan, complianceRequirements, quoteTemplateFields, attachmentsRequired, supplierQuestions, negotiationGuardrails.",
		"product keys: name, summary, category, keyMaterials (array).",
		"commercialTerms keys: currency, targetUnitPriceUsd, targetMoq, targetLeadTimeDays, sampleLeadTimeDays, incoterm, paymentTerms.",
		"qualityPlan keys: aqlLevel, criticalChecks.",
		"Be explicit and execution-oriented, no prose outside JSON.",
		"Project: " + mustJSON(p.ProductDefinition),
		"Constraints: " + mustJSON(p.Constraints),
		"Should-cost: " + mustJSON(sc),
		"Variant selected: " + mustJSON(v),
	}, "\n\n")
	return NormalizeRFQ(b.LLM.JSON(ctx, llm.Request{Prompt: prompt, MaxOutputTokens: 1300}), fallback)
}

// RenderRFQText renders the contract as plain text for an outreach email.
func RenderRFQText(r domain.StructuredRFQ) string {
	ct := r.CommercialTerms
	lines := []string{
		"RFQ ID: " + r.RFQID,
		"Issue Date: " + r.IssueDate,
		"Response Deadline: " + r.ResponseDeadline,
		"",
		"Product: " + r.Product.Name,
		r.Product.Summary,
		"",
		"Commercial Terms:",
		fmt.Sprintf("- Target Unit Price (%s): %s", ct.Currency, formatNumber(ct.TargetUnitPriceUSD)),
		"- Target MOQ: " + formatNumber(ct.TargetMOQ),
		"- Target Lead Time (days): " + formatNumber(ct.TargetLeadTimeDays),
		"- Sample Lead Time (days): " + formatNumber(ct.SampleLeadTimeDays),
		"- Incoterm: " + ct.Incoterm,
		"- Payment Terms: " + ct.PaymentTerms,
		"",
		"Required Deliverables:",
	}
	for _, d := range r.Deliverables {
		lines = append(lines, "- "+d)
	}
	lines = append(lines, "", "Quote Template Fields:")
	for _, f := range r.QuoteTemplateFields {
		lines = append(lines, "- "+f)
	}
	return strings.Join(lines, "\n")
}

// Plan is the full outcome plan generated in one pass.
type Plan struct {
	ShouldCost    domain.ShouldCost    `json:"should_cost"`
	Variants      []domain.Variant     `json:"variants"`
	StructuredRFQ domain.StructuredRFQ `json:"structured_rfq"`
}

// Plan builds should-cost, variants and the RFQ for variantKey in sequence.
func (b Builder) Plan(ctx context.Context, p *domain.Project, variantKey string) Plan {
	sc := b.ShouldCost(ctx, p)
	variants := b.Variants(ctx, p, &sc)
	return Plan{
		ShouldCost:    sc,
		Variants:      variants,
		StructuredRFQ: b.StructuredRFQ(ctx, p, &sc, variants, variantKey),
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
