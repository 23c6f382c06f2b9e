package domain

import "strings"

const (
	ChecklistPending    = "pending"
	ChecklistInProgress = "in_progress"
	ChecklistValidated  = "validated"
	ChecklistBlocked    = "blocked"
)

const (
	SupplierIdentified     = "identified"
	SupplierContacted      = "contacted"
	SupplierResponded      = "responded"
	SupplierNegotiating    = "negotiating"
	SupplierShortlisted    = "shortlisted"
	SupplierOutreachFailed = "outreach_failed"
	SupplierSelected       = "selected"
	SupplierFinalized      = "finalized"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// Lifecycle kinds. Each owns an independent module-status map.
const (
	LifecycleManufacturing = "manufacturing"
	LifecycleSourcing      = "sourcing"
)

// Conversation metadata sources.
const (
	SourceManualIngest       = "manual_ingest"
	SourceInboxSync          = "imap_sync"
	SourceSimulation         = "simulation"
	SourceOutreach           = "outreach"
	SourceFollowUp           = "followup"
	SourceNegotiation        = "sourcing_negotiation"
	SourceSourcingOutreach   = "sourcing_outreach"
	SourceSourcingIngest     = "sourcing_manual_ingest"
	SourceSourcingInboxSync  = "sourcing_imap_sync"
	SourceSourcingWhatsApp   = "sourcing_twilio_sync"
	DefaultCountry           = "United States"
	DefaultCurrency          = "USD"
	DefaultConfidenceScore   = 0.5
	DefaultSourcingCountry   = "India"
	DefaultSourcingCurrency  = "INR"
	DefaultDeliveryDraftOnly = "draft_only"
)

// Project is the root aggregate. It is persisted as a single JSON document.
type Project struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Idea              string            `json:"idea"`
	ProductDefinition ProductDefinition `json:"product_definition"`
	Constraints       Constraints       `json:"constraints"`
	Checklist         []ChecklistItem   `json:"checklist"`
	Lifecycle
	Compliance      *ComplianceAssessment `json:"compliance,omitempty"`
	Outcome         OutcomeState          `json:"outcome"`
	Sourcing        SourcingState         `json:"sourcing"`
	LastReplySyncAt string                `json:"last_reply_sync_at,omitempty"`
	Version         int64                 `json:"version"`
	CreatedAt       string                `json:"created_at" format:"date-time"`
	UpdatedAt       string                `json:"updated_at" format:"date-time"`
}

// Lifecycle groups the state a sourcing domain tracks independently.
type Lifecycle struct {
	ModuleStatus   map[string]string `json:"module_status"`
	Suppliers      []Supplier        `json:"suppliers"`
	Conversations  []Conversation    `json:"conversations"`
	OutreachDrafts []OutreachDraft   `json:"outreach_drafts"`
}

type ProductDefinition struct {
	ProductName            string   `json:"product_name,omitempty"`
	Summary                string   `json:"summary,omitempty"`
	ManufacturingCategory  string   `json:"manufacturing_category,omitempty"`
	KeyMaterials           []string `json:"key_materials,omitempty"`
	FunctionalRequirements []string `json:"functional_requirements,omitempty"`
	ComplexityLevel        string   `json:"complexity_level,omitempty" enum:"low,medium,high"`
	Risks                  []string `json:"risks,omitempty"`
	Assumptions            []string `json:"assumptions,omitempty"`
}

type Constraints struct {
	Country                string `json:"country"`
	BudgetRange            string `json:"budget_range,omitempty"`
	MOQTolerance           string `json:"moq_tolerance,omitempty"`
	MaterialsPreferences   string `json:"materials_preferences,omitempty"`
	ComplianceRequirements string `json:"compliance_requirements,omitempty"`
}

type ChecklistItem struct {
	Key         string   `json:"key"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Module      string   `json:"module"`
	DependsOn   []string `json:"depends_on"`
	Status      string   `json:"status" enum:"pending,in_progress,validated,blocked"`
	Evidence    string   `json:"evidence,omitempty"`
	NextAction  string   `json:"next_action,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty" format:"date-time"`
}

type Pricing struct {
	UnitPrice *float64 `json:"unit_price"`
	Currency  string   `json:"currency"`
}

type Supplier struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Email              string   `json:"email,omitempty"`
	ContactPerson      string   `json:"contact_person,omitempty"`
	Location           string   `json:"location,omitempty"`
	Country            string   `json:"country,omitempty"`
	Website            string   `json:"website,omitempty"`
	Phone              string   `json:"phone,omitempty"`
	WhatsAppNumber     string   `json:"whatsapp_number,omitempty"`
	DistanceComplexity string   `json:"distance_complexity,omitempty" enum:"low,medium,high"`
	Pricing            Pricing  `json:"pricing"`
	MOQ                *float64 `json:"moq"`
	MOQKg              *float64 `json:"moq_kg,omitempty"`
	PriceINRPerKg      *float64 `json:"price_inr_per_kg,omitempty"`
	LeadTimeDays       *float64 `json:"lead_time_days"`
	ToolingCost        *float64 `json:"tooling_cost"`
	ConfidenceScore    float64  `json:"confidence_score"`
	RiskFlags          []string `json:"risk_flags"`
	FollowUpsSent      int      `json:"follow_ups_sent"`
	Selected           bool     `json:"selected"`
	Status             string   `json:"status"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at,omitempty" format:"date-time"`
}

// CurrentPrice prefers the INR/kg quote used by ingredient sourcing.
func (s Supplier) CurrentPrice() *float64 {
	if s.PriceINRPerKg != nil {
		return s.PriceINRPerKg
	}
	return s.Pricing.UnitPrice
}

func (s Supplier) CurrentMOQ() *float64 {
	if s.MOQKg != nil {
		return s.MOQKg
	}
	return s.MOQ
}

// Conversation is an immutable log entry.
type Conversation struct {
	ID         string               `json:"id"`
	ProjectID  string               `json:"project_id,omitempty"`
	SupplierID string               `json:"supplier_id"`
	Direction  string               `json:"direction" enum:"inbound,outbound"`
	Channel    string               `json:"channel" enum:"email,whatsapp"`
	Subject    string               `json:"subject,omitempty"`
	Message    string               `json:"message"`
	Parsed     *ParsedReply         `json:"parsed,omitempty"`
	Metadata   ConversationMetadata `json:"metadata"`
	CreatedAt  string               `json:"created_at" format:"date-time"`
}

type ConversationMetadata struct {
	Source            string        `json:"source,omitempty"`
	Round             int           `json:"round,omitempty"`
	StopReason        string        `json:"stop_reason,omitempty"`
	Status            string        `json:"status,omitempty"`
	Error             string        `json:"error,omitempty"`
	Provider          string        `json:"provider,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	FollowUpIndex     int           `json:"follow_up_index,omitempty"`
	To                string        `json:"to,omitempty"`
	From              string        `json:"from,omitempty"`
	InboundMessageID  string        `json:"inbound_message_id,omitempty"`
	IMAPUID           uint32        `json:"imap_uid,omitempty"`
	MessageSID        string        `json:"message_sid,omitempty"`
	Signature         string        `json:"signature,omitempty"`
	Counter           *CounterOffer `json:"counter,omitempty"`
}

// ParsedReply is derived per inbound message and never stored on its own.
type ParsedReply struct {
	UnitPrice         *float64 `json:"unit_price"`
	Currency          string   `json:"currency"`
	MOQ               *float64 `json:"moq"`
	LeadTimeDays      *float64 `json:"lead_time_days"`
	ToolingCost       *float64 `json:"tooling_cost"`
	UnitPriceINRPerKg *float64 `json:"unit_price_inr_per_kg,omitempty"`
	MOQKg             *float64 `json:"moq_kg,omitempty"`
	PaymentTerms      string   `json:"payment_terms,omitempty"`
	Uncertainties     []string `json:"uncertainties"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
	Confidence        float64  `json:"confidence"`
}

func (p ParsedReply) Price() *float64 {
	if p.UnitPriceINRPerKg != nil {
		return p.UnitPriceINRPerKg
	}
	return p.UnitPrice
}

func (p ParsedReply) Quantity() *float64 {
	if p.MOQKg != nil {
		return p.MOQKg
	}
	return p.MOQ
}

// CounterOffer is the negotiated target proposed in one round.
type CounterOffer struct {
	UnitPrice      *float64 `json:"unit_price"`
	MOQ            *float64 `json:"moq"`
	LeadTimeDays   *float64 `json:"lead_time_days"`
	FloorGuardrail *float64 `json:"floor_guardrail"`
}

type OutreachDraft struct {
	ID           string `json:"id"`
	SupplierID   string `json:"supplier_id"`
	SupplierName string `json:"supplier_name"`
	Channel      string `json:"channel" enum:"email,whatsapp"`
	To           string `json:"to,omitempty"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	Status       string `json:"status" enum:"draft,sent,failed"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	SentAt       string `json:"sent_at,omitempty" format:"date-time"`
}

type ComplianceAssessment struct {
	ImportFeasibility string   `json:"import_feasibility" enum:"High,Medium,Low"`
	RequiredChecks    []string `json:"required_checks"`
	RedFlags          []string `json:"red_flags"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	LastUsedAt string `json:"last_used_at,omitempty" format:"date-time"`
}

// LifecycleFor returns the state tracked for the given lifecycle kind.
func (p *Project) LifecycleFor(kind string) (*Lifecycle, bool) {
	switch kind {
	case "", LifecycleManufacturing:
		return &p.Lifecycle, true
	case LifecycleSourcing:
		p.Sourcing.Normalize()
		return &p.Sourcing.Lifecycle, true
	}
	return nil, false
}

// ProductName falls back to the project name.
func (p *Project) ProductName() string {
	if name := strings.TrimSpace(p.ProductDefinition.ProductName); name != "" {
		return name
	}
	return p.Name
}

func (l *Lifecycle) Supplier(id string) *Supplier {
	for i := range l.Suppliers {
		if l.Suppliers[i].ID == id {
			return &l.Suppliers[i]
		}
	}
	return nil
}

// PrependConversation keeps the newest entry first.
func (l *Lifecycle) PrependConversation(c Conversation) {
	l.Conversations = append([]Conversation{c}, l.Conversations...)
}

func (l *Lifecycle) SetModuleStatus(module, status string) {
	if l.ModuleStatus == nil {
		l.ModuleStatus = map[string]string{}
	}
	l.ModuleStatus[module] = status
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Value dereferences p, reporting whether it was set.
func Value(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}
