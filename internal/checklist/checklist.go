package checklist

import (
	"encoding/json"
	"strings"
	"time"

	"sourceline/internal/domain"
)

const (
	KeyDefineProduct         = "define-product"
	KeyProcessAndMaterials   = "process-and-materials"
	KeyCompliancePrecheck    = "compliance-precheck"
	KeySupplierDiscovery     = "supplier-discovery"
	KeyOutreachRFQ           = "outreach-rfq"
	KeyResponseAnalysis      = "response-analysis"
	KeyNegotiation           = "negotiation"
	KeyManufacturerSelection = "manufacturer-selection"
)

const (
	ModuleIdeation    = "ideation"
	ModuleChecklist   = "checklist"
	ModuleDiscovery   = "discovery"
	ModuleOutreach    = "outreach"
	ModuleResponses   = "responses"
	ModuleNegotiation = "negotiation"
	ModuleSuccess     = "success"
)

// Modules lists the manufacturing lifecycle modules in workflow order.
var Modules = []string{
	ModuleIdeation,
	ModuleChecklist,
	ModuleDiscovery,
	ModuleOutreach,
	ModuleResponses,
	ModuleNegotiation,
	ModuleSuccess,
}

// Candidate is an externally proposed checklist entry. Only presentation
// fields are taken from it; keys and dependencies are fixed.
type Candidate struct {
	Key         string   `json:"key"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Module      string   `json:"module"`
	DependsOn   []string `json:"dependsOn"`
}

func fallback() []Candidate {
	return []Candidate{
		{KeyDefineProduct, "Lock Product Definition", "Confirm intended function, user requirements, and quality expectations.", ModuleIdeation, nil},
		{KeyProcessAndMaterials, "Select Process & Materials", "Map feasible manufacturing methods and candidate materials.", ModuleChecklist, []string{KeyDefineProduct}},
		{KeyCompliancePrecheck, "Run Compliance Pre-check", "Identify import and category compliance checks before RFQ.", ModuleChecklist, []string{KeyProcessAndMaterials}},
		{KeySupplierDiscovery, "Discover Supplier Shortlist", "Find and score relevant manufacturers with export fit.", ModuleDiscovery, []string{KeyCompliancePrecheck}},
		{KeyOutreachRFQ, "Send RFQs", "Generate and dispatch personalized RFQ outreach to shortlisted suppliers.", ModuleOutreach, []string{KeySupplierDiscovery}},
		{KeyResponseAnalysis, "Parse Supplier Responses", "Extract pricing, MOQ, lead times, and missing data from replies.", ModuleResponses, []string{KeyOutreachRFQ}},
		{KeyNegotiation, "Negotiate Commercial Terms", "Negotiate MOQ, pricing, and lead times with selected suppliers.", ModuleNegotiation, []string{KeyResponseAnalysis}},
		{KeyManufacturerSelection, "Finalize Factory-ready Brief", "Select supplier and package all validated requirements for production handoff.", ModuleSuccess, []string{KeyNegotiation}},
	}
}

func allowedModule(m string) bool {
	for _, name := range Modules {
		if name == m {
			return true
		}
	}
	return false
}

// Build returns the eight-item checklist, taking titles, descriptions and
// modules from candidates by position when they are usable. The first item
// starts validated.
func Build(candidates []Candidate, now time.Time) []domain.ChecklistItem {
	ts := now.UTC().Format(time.RFC3339)
	base := fallback()
	items := make([]domain.ChecklistItem, 0, len(base))
	for i, b := range base {
		var c Candidate
		if i < len(candidates) {
			c = candidates[i]
		}
		item := domain.ChecklistItem{
			Key:         b.Key,
			Title:       b.Title,
			Description: b.Description,
			Module:      b.Module,
			DependsOn:   append([]string{}, b.DependsOn...),
			Status:      domain.ChecklistPending,
			UpdatedAt:   ts,
		}
		if t := strings.TrimSpace(c.Title); t != "" {
			item.Title = t
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			item.Description = d
		}
		if m := strings.TrimSpace(c.Module); allowedModule(m) {
			item.Module = m
		}
		switch i {
		case 0:
			item.Status = domain.ChecklistValidated
			item.Evidence = "Product intent captured."
		case 1:
			item.NextAction = "Validate material/process assumptions"
		}
		items = append(items, item)
	}
	return items
}

// DecodeCandidates accepts either a JSON array or an object wrapping one.
func DecodeCandidates(raw []byte) []Candidate {
	var list []Candidate
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	for _, key := range []string{"checklist", "items", "steps", "pre-manufacturing-checklist", "preManufacturingChecklist", "manufacturingChecklist", "data"} {
		if v, ok := obj[key]; ok {
			if err := json.Unmarshal(v, &list); err == nil {
				return list
			}
		}
	}
	for _, v := range obj {
		if err := json.Unmarshal(v, &list); err == nil {
			return list
		}
	}
	return nil
}

// DefaultModuleStatus marks every module pending except ideation.
func DefaultModuleStatus() map[string]string {
	status := make(map[string]string, len(Modules))
	for _, m := range Modules {
		status[m] = domain.ChecklistPending
	}
	status[ModuleIdeation] = domain.ChecklistValidated
	return status
}

// SetModuleStatus overwrites a module's status without any validation.
func SetModuleStatus(l *domain.Lifecycle, module, status string) {
	l.SetModuleStatus(module, status)
}

// SetItem overwrites an item's status and notes. Dependencies are not
// checked. Unknown keys are ignored. An empty evidence keeps the previous one.
func SetItem(p *domain.Project, key, status, evidence, nextAction string, now time.Time) {
	for i := range p.Checklist {
		item := &p.Checklist[i]
		if item.Key != key {
			continue
		}
		item.Status = status
		if evidence != "" {
			item.Evidence = evidence
		}
		item.NextAction = nextAction
		item.UpdatedAt = now.UTC().Format(time.RFC3339)
		return
	}
}

// ValidateIfReady marks the item validated only when every dependency is
// validated, otherwise in_progress. It reports the resulting status, or ""
// when the key is unknown.
func ValidateIfReady(p *domain.Project, key, evidence string, now time.Time) string {
	idx := -1
	for i := range p.Checklist {
		if p.Checklist[i].Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ""
	}
	item := &p.Checklist[idx]
	status := domain.ChecklistValidated
	for _, dep := range item.DependsOn {
		if !isValidated(p.Checklist, dep) {
			status = domain.ChecklistInProgress
			break
		}
	}
	item.Status = status
	if evidence != "" {
		item.Evidence = evidence
	}
	item.UpdatedAt = now.UTC().Format(time.RFC3339)
	return status
}

func isValidated(items []domain.ChecklistItem, key string) bool {
	for _, it := range items {
		if it.Key == key {
			return it.Status == domain.ChecklistValidated
		}
	}
	return false
}

// ValidStatus reports whether s is a checklist or module status.
func ValidStatus(s string) bool {
	switch s {
	case domain.ChecklistPending, domain.ChecklistInProgress, domain.ChecklistValidated, domain.ChecklistBlocked:
		return true
	}
	return false
}
