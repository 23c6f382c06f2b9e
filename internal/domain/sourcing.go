package domain

// SourcingState tracks the local-ingredient sourcing lifecycle.
type SourcingState struct {
	Enabled bool          `json:"enabled"`
	Brief   SourcingBrief `json:"brief"`
	Lifecycle
	InboxQueue      []QueuedMessage  `json:"inbox_queue"`
	LastReplySyncAt string           `json:"last_reply_sync_at,omitempty"`
	Metrics         *SourcingMetrics `json:"metrics,omitempty"`
}

type SourcingBrief struct {
	Country          string   `json:"country"`
	Currency         string   `json:"currency"`
	SearchTerm       string   `json:"search_term,omitempty"`
	Spec             string   `json:"spec,omitempty"`
	QuantityTargetKg *float64 `json:"quantity_target_kg"`
	MaxBudgetINRKg   *float64 `json:"max_budget_inr_per_kg"`
	Location         string   `json:"location,omitempty"`
}

// QueuedMessage is an inbound message received by webhook and not yet ingested.
type QueuedMessage struct {
	ID         string `json:"id"`
	SupplierID string `json:"supplier_id,omitempty"`
	Channel    string `json:"channel"`
	From       string `json:"from"`
	To         string `json:"to,omitempty"`
	Body       string `json:"body"`
	MessageSID string `json:"message_sid,omitempty"`
	ReceivedAt string `json:"received_at" format:"date-time"`
}

type SourcingFunnel struct {
	SuppliersIdentified int `json:"suppliers_identified"`
	SuppliersContacted  int `json:"suppliers_contacted"`
	SuppliersResponded  int `json:"suppliers_responded"`
	NegotiationsSent    int `json:"negotiations_sent"`
}

type SourcingEconomics struct {
	MinUnitPriceINRPerKg    *float64 `json:"min_unit_price_inr_per_kg"`
	MedianUnitPriceINRPerKg *float64 `json:"median_unit_price_inr_per_kg"`
	BestMOQKg               *float64 `json:"best_moq_kg"`
	BestLeadTimeDays        *float64 `json:"best_lead_time_days"`
}

type SourcingCommunications struct {
	Outbound         int `json:"outbound"`
	Inbound          int `json:"inbound"`
	WhatsAppOutbound int `json:"whatsapp_outbound"`
	EmailOutbound    int `json:"email_outbound"`
}

type SourcingMetrics struct {
	GeneratedAt    string                 `json:"generated_at" format:"date-time"`
	Funnel         SourcingFunnel         `json:"funnel"`
	Economics      SourcingEconomics      `json:"economics"`
	Communications SourcingCommunications `json:"communications"`
}

// Sourcing module names.
var SourcingModules = []string{"discovery", "outreach", "responses", "negotiation"}

// Normalize fills brief defaults and the module-status map.
func (s *SourcingState) Normalize() {
	if s.Brief.Country == "" {
		s.Brief.Country = DefaultSourcingCountry
	}
	if s.Brief.Currency == "" {
		s.Brief.Currency = DefaultSourcingCurrency
	}
	if s.ModuleStatus == nil {
		s.ModuleStatus = map[string]string{}
	}
	for _, m := range SourcingModules {
		if _, ok := s.ModuleStatus[m]; !ok {
			s.ModuleStatus[m] = ChecklistPending
		}
	}
}
