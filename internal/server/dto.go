package server

import (
	"sourceline/internal/award"
	"sourceline/internal/domain"
	"sourceline/internal/engine"
	"sourceline/internal/negotiation"
)

type ConstraintsRequest struct {
	Country                string `json:"country,omitempty" example:"United States"`
	BudgetRange            string `json:"budget_range,omitempty"`
	MOQTolerance           string `json:"moq_tolerance,omitempty"`
	MaterialsPreferences   string `json:"materials_preferences,omitempty"`
	ComplianceRequirements string `json:"compliance_requirements,omitempty"`
}

type CreateProjectRequest struct {
	Name        string              `json:"name,omitempty"`
	Idea        string              `json:"idea" minLength:"1" example:"Insulated steel water bottle"`
	Constraints *ConstraintsRequest `json:"constraints,omitempty"`
}

func (r CreateProjectRequest) input(actorID string) engine.CreateProjectInput {
	in := engine.CreateProjectInput{Name: r.Name, Idea: r.Idea, ActorID: actorID}
	if c := r.Constraints; c != nil {
		in.Constraints = domain.Constraints{
			Country:                c.Country,
			BudgetRange:            c.BudgetRange,
			MOQTolerance:           c.MOQTolerance,
			MaterialsPreferences:   c.MaterialsPreferences,
			ComplianceRequirements: c.ComplianceRequirements,
		}
	}
	return in
}

type ChecklistItemRequest struct {
	Status     string `json:"status" enum:"pending,in_progress,validated,blocked"`
	Evidence   string `json:"evidence,omitempty"`
	NextAction string `json:"next_action,omitempty"`
}

type ValidateChecklistRequest struct {
	Evidence string `json:"evidence,omitempty"`
}

type ChecklistValidationResponse struct {
	Status  string         `json:"status"`
	Project domain.Project `json:"project"`
}

type ModuleStatusRequest struct {
	Lifecycle string `json:"lifecycle,omitempty" enum:"manufacturing,sourcing"`
	Status    string `json:"status" enum:"pending,in_progress,validated,blocked"`
}

type SupplierRequest struct {
	Lifecycle          string   `json:"lifecycle,omitempty" enum:"manufacturing,sourcing"`
	Name               string   `json:"name" minLength:"1"`
	Email              string   `json:"email,omitempty"`
	ContactPerson      string   `json:"contact_person,omitempty"`
	Location           string   `json:"location,omitempty"`
	Country            string   `json:"country,omitempty"`
	Website            string   `json:"website,omitempty"`
	Phone              string   `json:"phone,omitempty"`
	WhatsAppNumber     string   `json:"whatsapp_number,omitempty"`
	DistanceComplexity string   `json:"distance_complexity,omitempty" enum:"low,medium,high"`
	ConfidenceScore    *float64 `json:"confidence_score,omitempty" minimum:"0" maximum:"1"`
	UnitPrice          *float64 `json:"unit_price,omitempty"`
	Currency           string   `json:"currency,omitempty"`
	MOQ                *float64 `json:"moq,omitempty"`
	LeadTimeDays       *float64 `json:"lead_time_days,omitempty"`
	ToolingCost        *float64 `json:"tooling_cost,omitempty"`
}

func (r SupplierRequest) input() engine.SupplierInput {
	return engine.SupplierInput{
		Lifecycle:          r.Lifecycle,
		Name:               r.Name,
		Email:              r.Email,
		ContactPerson:      r.ContactPerson,
		Location:           r.Location,
		Country:            r.Country,
		Website:            r.Website,
		Phone:              r.Phone,
		WhatsAppNumber:     r.WhatsAppNumber,
		DistanceComplexity: r.DistanceComplexity,
		ConfidenceScore:    r.ConfidenceScore,
		UnitPrice:          r.UnitPrice,
		Currency:           r.Currency,
		MOQ:                r.MOQ,
		LeadTimeDays:       r.LeadTimeDays,
		ToolingCost:        r.ToolingCost,
	}
}

type SupplierResponse struct {
	Supplier domain.Supplier `json:"supplier"`
	Project  domain.Project  `json:"project"`
}

// SupplierIDsRequest scopes a bulk operation. Empty means every supplier.
type SupplierIDsRequest struct {
	SupplierIDs []string `json:"supplier_ids,omitempty"`
}

type SourcingOutreachRequest struct {
	SupplierIDs []string `json:"supplier_ids,omitempty"`
	Channels    []string `json:"channels,omitempty" example:"[\"whatsapp\",\"email\"]"`
}

type IngestReplyRequest struct {
	SupplierID string `json:"supplier_id" minLength:"1"`
	Text       string `json:"text" minLength:"1"`
	Subject    string `json:"subject,omitempty"`
	Channel    string `json:"channel,omitempty" enum:"email,whatsapp"`
}

type NegotiateRequest struct {
	SupplierID   string   `json:"supplier_id" minLength:"1"`
	Lifecycle    string   `json:"lifecycle,omitempty" enum:"manufacturing,sourcing"`
	UnitPrice    *float64 `json:"target_unit_price,omitempty"`
	MOQ          *float64 `json:"target_moq,omitempty"`
	LeadTimeDays *float64 `json:"target_lead_time_days,omitempty"`
	SendMessage  bool     `json:"send_message,omitempty"`
	Channel      string   `json:"channel,omitempty" enum:"email,whatsapp"`
}

func (r NegotiateRequest) input(projectID, actorID string) engine.NegotiateInput {
	return engine.NegotiateInput{
		ProjectID:  projectID,
		Lifecycle:  r.Lifecycle,
		SupplierID: r.SupplierID,
		Target: negotiation.Target{
			UnitPrice:    r.UnitPrice,
			MOQ:          r.MOQ,
			LeadTimeDays: r.LeadTimeDays,
		},
		SendMessage: r.SendMessage,
		Channel:     r.Channel,
		ActorID:     actorID,
	}
}

type FollowUpPolicyRequest struct {
	ResponseSLAHours *float64 `json:"response_sla_hours,omitempty"`
	CadenceHours     *float64 `json:"cadence_hours,omitempty"`
	MaxFollowUps     *int     `json:"max_follow_ups,omitempty"`
}

func (r FollowUpPolicyRequest) input() engine.FollowUpPolicyInput {
	return engine.FollowUpPolicyInput{
		ResponseSLAHours: r.ResponseSLAHours,
		CadenceHours:     r.CadenceHours,
		MaxFollowUps:     r.MaxFollowUps,
	}
}

type VariantRequest struct {
	VariantKey string `json:"variant_key,omitempty" example:"pilot"`
}

type AwardRequest struct {
	Weights    *award.WeightOverrides `json:"weights,omitempty"`
	AutoSelect bool                   `json:"auto_select,omitempty"`
}

func (r AwardRequest) input() engine.AwardInput {
	in := engine.AwardInput{AutoSelect: r.AutoSelect}
	if r.Weights != nil {
		in.Weights = *r.Weights
	}
	return in
}

type AwardResponse struct {
	Decision domain.AwardDecision `json:"decision"`
	Project  domain.Project       `json:"project"`
}

type SourcingBriefRequest struct {
	SearchTerm       string   `json:"search_term" minLength:"1" example:"turmeric powder"`
	Spec             string   `json:"spec,omitempty"`
	QuantityTargetKg *float64 `json:"quantity_target_kg,omitempty"`
	MaxBudgetINRKg   *float64 `json:"max_budget_inr_per_kg,omitempty"`
	Location         string   `json:"location,omitempty"`
	Country          string   `json:"country,omitempty"`
	Currency         string   `json:"currency,omitempty"`
}

func (r SourcingBriefRequest) input() engine.SourcingBriefInput {
	return engine.SourcingBriefInput{
		SearchTerm:       r.SearchTerm,
		Spec:             r.Spec,
		QuantityTargetKg: r.QuantityTargetKg,
		MaxBudgetINRKg:   r.MaxBudgetINRKg,
		Location:         r.Location,
		Country:          r.Country,
		Currency:         r.Currency,
	}
}

type SourcingReplyRequest struct {
	SupplierID string `json:"supplier_id" minLength:"1"`
	Text       string `json:"text" minLength:"1"`
	Channel    string `json:"channel,omitempty" enum:"email,whatsapp"`
}

type EventPage struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	Name       string `json:"name,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	LastUsedAt string `json:"last_used_at,omitempty" format:"date-time"`
}

type APIKeyCreatedResponse struct {
	APIKeyResponse
	// Key is shown once.
	Key string `json:"key"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt, LastUsedAt: k.LastUsedAt}
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source" enum:"jwt,api_key,actor_header"`
}

type DevLoginRequest struct {
	ActorID    string `json:"actor_id" minLength:"1"`
	TTLMinutes int    `json:"ttl_minutes,omitempty" minimum:"0"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}
