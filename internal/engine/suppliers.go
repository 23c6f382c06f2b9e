package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"sourceline/internal/checklist"
	"sourceline/internal/domain"
	"sourceline/internal/events"
	"sourceline/internal/parsing"
)

// SupplierInput is a manually entered supplier. Lifecycle selects the
// manufacturing (default) or ingredient sourcing shortlist.
type SupplierInput struct {
	Lifecycle          string
	Name               string
	Email              string
	ContactPerson      string
	Location           string
	Country            string
	Website            string
	Phone              string
	WhatsAppNumber     string
	DistanceComplexity string
	ConfidenceScore    *float64
	UnitPrice          *float64
	Currency           string
	MOQ                *float64
	LeadTimeDays       *float64
	ToolingCost        *float64
}

func (e Engine) AddSupplier(ctx context.Context, projectID string, in SupplierInput, actorID string) (domain.Supplier, domain.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Supplier{}, domain.Project{}, invalid("name", "supplier name is required")
	}
	switch in.DistanceComplexity {
	case "":
		in.DistanceComplexity = "medium"
	case "low", "medium", "high":
	default:
		return domain.Supplier{}, domain.Project{}, invalid("distance_complexity", "must be low, medium or high")
	}
	confidence := domain.DefaultConfidenceScore
	if v, ok := domain.Value(in.ConfidenceScore); ok {
		confidence = clamp01(v)
	}

	var added domain.Supplier
	p, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		l, err := lifecycleOf(p, in.Lifecycle)
		if err != nil {
			return change{}, err
		}
		currency := in.Currency
		if currency == "" {
			currency = domain.DefaultCurrency
			if in.Lifecycle == domain.LifecycleSourcing {
				currency = p.Sourcing.Brief.Currency
			}
		}
		added = domain.Supplier{
			ID:                 uuid.NewString(),
			Name:               name,
			Email:              parsing.NormalizeEmail(in.Email),
			ContactPerson:      strings.TrimSpace(in.ContactPerson),
			Location:           strings.TrimSpace(in.Location),
			Country:            strings.TrimSpace(in.Country),
			Website:            strings.TrimSpace(in.Website),
			Phone:              parsing.NormalizePhone(in.Phone),
			WhatsAppNumber:     parsing.NormalizePhone(in.WhatsAppNumber),
			DistanceComplexity: in.DistanceComplexity,
			Pricing:            domain.Pricing{UnitPrice: in.UnitPrice, Currency: currency},
			MOQ:                in.MOQ,
			LeadTimeDays:       in.LeadTimeDays,
			ToolingCost:        in.ToolingCost,
			ConfidenceScore:    confidence,
			RiskFlags:          []string{},
			Status:             domain.SupplierIdentified,
			CreatedAt:          e.ts(),
		}
		if in.Lifecycle == domain.LifecycleSourcing {
			added.PriceINRPerKg = in.UnitPrice
			added.MOQKg = in.MOQ
		}
		l.Suppliers = append(l.Suppliers, added)
		checklist.SetModuleStatus(l, checklist.ModuleDiscovery, domain.ChecklistValidated)
		if in.Lifecycle != domain.LifecycleSourcing {
			checklist.SetItem(p, checklist.KeySupplierDiscovery, domain.ChecklistValidated,
				fmt.Sprintf("%d suppliers in shortlist.", len(l.Suppliers)), "Prepare RFQ outreach", e.now())
		}
		return supplierChange(events.SupplierAdded, added.ID, events.Payload{
			"lifecycle": lifecycleName(in.Lifecycle),
			"name":      added.Name,
		}), nil
	})
	if err != nil {
		return domain.Supplier{}, domain.Project{}, err
	}
	return added, p, nil
}

// SelectSupplier marks supplierID as the single front-runner.
func (e Engine) SelectSupplier(ctx context.Context, projectID, supplierID, actorID string) (domain.Project, error) {
	return e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		s, err := supplierOf(&p.Lifecycle, supplierID)
		if err != nil {
			return change{}, err
		}
		for i := range p.Suppliers {
			p.Suppliers[i].Selected = p.Suppliers[i].ID == supplierID
		}
		checklist.SetItem(p, checklist.KeyManufacturerSelection, domain.ChecklistInProgress,
			fmt.Sprintf("User selected %s as current front-runner.", s.Name), "Finalize supplier when terms are agreed", e.now())
		return supplierChange(events.SupplierSelected, supplierID, events.Payload{"name": s.Name}), nil
	})
}

// FinalizeSupplier locks the manufacturer. An empty supplierID finalizes the
// currently selected supplier.
func (e Engine) FinalizeSupplier(ctx context.Context, projectID, supplierID, actorID string) (domain.Project, error) {
	return e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		id := supplierID
		if id == "" {
			for _, s := range p.Suppliers {
				if s.Selected {
					id = s.ID
					break
				}
			}
			if id == "" {
				return change{}, precondition("Select a supplier before finalizing")
			}
		}
		s, err := supplierOf(&p.Lifecycle, id)
		if err != nil {
			return change{}, err
		}
		now := e.now()
		for i := range p.Suppliers {
			p.Suppliers[i].Selected = p.Suppliers[i].ID == id
		}
		s.Status = domain.SupplierFinalized
		s.UpdatedAt = e.ts()
		status := checklist.ValidateIfReady(p, checklist.KeyManufacturerSelection,
			fmt.Sprintf("%s finalized as selected manufacturer.", s.Name), now)
		checklist.SetModuleStatus(&p.Lifecycle, checklist.ModuleSuccess, domain.ChecklistValidated)
		return supplierChange(events.SupplierFinalized, id, events.Payload{
			"name":             s.Name,
			"checklist_status": status,
		}), nil
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
