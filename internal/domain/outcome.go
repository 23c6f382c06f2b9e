package domain

// OutcomeState holds the generated artifacts of the outcome engine.
type OutcomeState struct {
	ShouldCost     *ShouldCost     `json:"should_cost,omitempty"`
	Variants       []Variant       `json:"variants,omitempty"`
	StructuredRFQ  *StructuredRFQ  `json:"structured_rfq,omitempty"`
	AwardDecision  *AwardDecision  `json:"award_decision,omitempty"`
	KPISnapshot    *OutcomeMetrics `json:"kpi_snapshot,omitempty"`
	FollowUpPolicy FollowUpPolicy  `json:"follow_up_policy"`
	LastPlanAt     string          `json:"last_plan_at,omitempty" format:"date-time"`
}

type FollowUpPolicy struct {
	ResponseSLAHours float64 `json:"response_sla_hours"`
	CadenceHours     float64 `json:"cadence_hours"`
	MaxFollowUps     int     `json:"max_follow_ups"`
}

// DefaultFollowUpPolicy is {24, 24, 2}.
func DefaultFollowUpPolicy() FollowUpPolicy {
	return FollowUpPolicy{ResponseSLAHours: 24, CadenceHours: 24, MaxFollowUps: 2}
}

type BOMAlternative struct {
	Option       string  `json:"option"`
	SupplierType string  `json:"supplier_type"`
	UnitCostUSD  float64 `json:"unit_cost_usd"`
	Note         string  `json:"note,omitempty"`
}

type BOMLine struct {
	Component   string           `json:"component"`
	SpecIntent  string           `json:"spec_intent,omitempty"`
	QtyPerUnit  float64          `json:"qty_per_unit"`
	UnitCostUSD float64          `json:"unit_cost_usd"`
	ExtCostUSD  *float64         `json:"ext_cost_usd"`
	Alternates  []BOMAlternative `json:"alternates"`
	CostDriver  string           `json:"cost_driver,omitempty"`
}

type CostBreakdown struct {
	MaterialsUSD        float64 `json:"materials_usd"`
	AssemblyUSD         float64 `json:"assembly_usd"`
	ToolingUSD          float64 `json:"tooling_usd"`
	QualityUSD          float64 `json:"quality_usd"`
	PackagingUSD        float64 `json:"packaging_usd"`
	LogisticsUSD        float64 `json:"logistics_usd"`
	DutyUSD             float64 `json:"duty_usd"`
	LandedUnitCostUSD   float64 `json:"landed_unit_cost_usd"`
	FirstArticleCostUSD float64 `json:"first_article_cost_usd"`
}

// ShouldCost is the independently estimated cost baseline for a product.
type ShouldCost struct {
	GeneratedAt       string        `json:"generated_at,omitempty" format:"date-time"`
	Currency          string        `json:"currency"`
	TargetVolumeUnits float64       `json:"target_volume_units"`
	Profile           string        `json:"profile" enum:"electronics,food_contact,soft_goods,general_consumer"`
	BOM               []BOMLine     `json:"bom"`
	CostBreakdown     CostBreakdown `json:"cost_breakdown"`
	Assumptions       []string      `json:"assumptions"`
	CostLevers        []string      `json:"cost_levers"`
}

type VariantTooling struct {
	Type         string  `json:"type"`
	CostUSD      float64 `json:"cost_usd"`
	LeadTimeDays float64 `json:"lead_time_days"`
}

type UnitEconomics struct {
	ExWorksUnitCostUSD float64 `json:"ex_works_unit_cost_usd"`
	LandedUnitCostUSD  float64 `json:"landed_unit_cost_usd"`
}

type VariantTimeline struct {
	SampleDays     float64 `json:"sample_days"`
	ProductionDays float64 `json:"production_days"`
}

// Variant is one manufacturing path: prototype, pilot or scale.
type Variant struct {
	Key               string          `json:"key" enum:"prototype,pilot,scale"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	TargetVolumeRange string          `json:"target_volume_range"`
	ProcessStrategy   string          `json:"process_strategy"`
	Tooling           VariantTooling  `json:"tooling"`
	UnitEconomics     UnitEconomics   `json:"unit_economics"`
	Timeline          VariantTimeline `json:"timeline"`
	Pros              []string        `json:"pros"`
	Cons              []string        `json:"cons"`
	WhenToUse         string          `json:"when_to_use"`
}

type RFQProduct struct {
	Name         string   `json:"name"`
	Summary      string   `json:"summary"`
	Category     string   `json:"category"`
	KeyMaterials []string `json:"key_materials"`
}

type RFQCommercialTerms struct {
	Currency           string  `json:"currency"`
	TargetUnitPriceUSD float64 `json:"target_unit_price_usd"`
	TargetMOQ          float64 `json:"target_moq"`
	TargetLeadTimeDays float64 `json:"target_lead_time_days"`
	SampleLeadTimeDays float64 `json:"sample_lead_time_days"`
	Incoterm           string  `json:"incoterm"`
	PaymentTerms       string  `json:"payment_terms"`
}

type RFQQualityPlan struct {
	AQLLevel       string   `json:"aql_level"`
	CriticalChecks []string `json:"critical_checks"`
}

// StructuredRFQ is the request-for-quotation contract sent to manufacturers.
type StructuredRFQ struct {
	RFQID                  string             `json:"rfq_id"`
	IssueDate              string             `json:"issue_date" format:"date-time"`
	ResponseDeadline       string             `json:"response_deadline" format:"date-time"`
	Product                RFQProduct         `json:"product"`
	VariantKey             string             `json:"variant_key"`
	CommercialTerms        RFQCommercialTerms `json:"commercial_terms"`
	Deliverables           []string           `json:"deliverables"`
	QualityPlan            RFQQualityPlan     `json:"quality_plan"`
	ComplianceRequirements []string           `json:"compliance_requirements"`
	QuoteTemplateFields    []string           `json:"quote_template_fields"`
	AttachmentsRequired    []string           `json:"attachments_required"`
	SupplierQuestions      []string           `json:"supplier_questions"`
	NegotiationGuardrails  []string           `json:"negotiation_guardrails"`
}

type AwardWeights struct {
	Cost       float64 `json:"cost"`
	Lead       float64 `json:"lead"`
	MOQ        float64 `json:"moq"`
	Confidence float64 `json:"confidence"`
	Risk       float64 `json:"risk"`
}

// DefaultAwardWeights are 0.45/0.20/0.15/0.10/0.10.
func DefaultAwardWeights() AwardWeights {
	return AwardWeights{Cost: 0.45, Lead: 0.2, MOQ: 0.15, Confidence: 0.1, Risk: 0.1}
}

type ScoreBreakdown struct {
	CostScore       float64 `json:"cost_score"`
	LeadScore       float64 `json:"lead_score"`
	MOQScore        float64 `json:"moq_score"`
	ConfidenceScore float64 `json:"confidence_score"`
	RiskScore       float64 `json:"risk_score"`
}

type RankedSupplier struct {
	SupplierID        string         `json:"supplier_id"`
	SupplierName      string         `json:"supplier_name"`
	LandedUnitCostUSD float64        `json:"landed_unit_cost_usd"`
	QuotedUnitCostUSD *float64       `json:"quoted_unit_cost_usd"`
	ToolingCostUSD    *float64       `json:"tooling_cost_usd"`
	LeadTimeDays      float64        `json:"lead_time_days"`
	MOQ               float64        `json:"moq"`
	Confidence        float64        `json:"confidence"`
	RiskScore         float64        `json:"risk_score"`
	ScoreBreakdown    ScoreBreakdown `json:"score_breakdown"`
	TotalScore        float64        `json:"total_score"`
	Reasons           []string       `json:"reasons"`
}

type SamplePO struct {
	POID               string   `json:"po_id"`
	SupplierID         string   `json:"supplier_id"`
	SupplierName       string   `json:"supplier_name"`
	IssueDate          string   `json:"issue_date"`
	Quantity           int      `json:"quantity"`
	UnitPrice          float64  `json:"unit_price"`
	ToolingCost        float64  `json:"tooling_cost"`
	EstimatedTotal     float64  `json:"estimated_total"`
	Currency           string   `json:"currency"`
	Incoterm           string   `json:"incoterm"`
	PaymentTerms       string   `json:"payment_terms"`
	RequiredDocs       []string `json:"required_docs"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	NextActions        []string `json:"next_actions"`
}

type AwardDecision struct {
	GeneratedAt           string           `json:"generated_at" format:"date-time"`
	Objective             string           `json:"objective"`
	Weights               AwardWeights     `json:"weights"`
	TargetMOQ             float64          `json:"target_moq"`
	RecommendedSupplierID string           `json:"recommended_supplier_id"`
	Ranking               []RankedSupplier `json:"ranking"`
	SamplePO              SamplePO         `json:"sample_po"`
	Rationale             []string         `json:"rationale"`
}

// Recommended returns the top-ranked entry.
func (d AwardDecision) Recommended() (RankedSupplier, bool) {
	for _, r := range d.Ranking {
		if r.SupplierID == d.RecommendedSupplierID {
			return r, true
		}
	}
	return RankedSupplier{}, false
}

type LeadTimeMetrics struct {
	ProjectAgeHours          *float64 `json:"project_age_hours"`
	TimeToFirstSupplierHours *float64 `json:"time_to_first_supplier_hours"`
	TimeToFirstOutreachHours *float64 `json:"time_to_first_outreach_hours"`
	TimeToFirstQuoteHours    *float64 `json:"time_to_first_quote_hours"`
	TimeToAwardHours         *float64 `json:"time_to_award_hours"`
}

type FunnelMetrics struct {
	SuppliersIdentified int  `json:"suppliers_identified"`
	SuppliersContacted  int  `json:"suppliers_contacted"`
	SuppliersResponded  int  `json:"suppliers_responded"`
	QuotesComparable    int  `json:"quotes_comparable"`
	FollowUpsSent       int  `json:"follow_ups_sent"`
	AwardRecommended    bool `json:"award_recommended"`
}

type EconomicsMetrics struct {
	MinQuoteUnitCost         *float64 `json:"min_quote_unit_cost"`
	MedianQuoteUnitCost      *float64 `json:"median_quote_unit_cost"`
	MaxQuoteUnitCost         *float64 `json:"max_quote_unit_cost"`
	ExpectedLandedUnitCost   *float64 `json:"expected_landed_unit_cost"`
	ShouldCostLandedUnitCost *float64 `json:"should_cost_landed_unit_cost"`
	TargetUnitCost           *float64 `json:"target_unit_cost"`
	TargetMOQ                *float64 `json:"target_moq"`
	SavingsVsShouldCost      *float64 `json:"savings_vs_should_cost"`
}

type OutcomeStatus struct {
	HasShouldCost    bool `json:"has_should_cost"`
	HasVariants      bool `json:"has_variants"`
	HasStructuredRFQ bool `json:"has_structured_rfq"`
	HasAwardDecision bool `json:"has_award_decision"`
}

// OutcomeMetrics is a point-in-time KPI snapshot.
type OutcomeMetrics struct {
	GeneratedAt string           `json:"generated_at" format:"date-time"`
	LeadTime    LeadTimeMetrics  `json:"lead_time"`
	Funnel      FunnelMetrics    `json:"funnel"`
	Economics   EconomicsMetrics `json:"economics"`
	Status      OutcomeStatus    `json:"status"`
}
