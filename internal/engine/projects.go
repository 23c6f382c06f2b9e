package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sourceline/internal/checklist"
	"sourceline/internal/domain"
	"sourceline/internal/events"
	"sourceline/internal/ideation"
	"sourceline/internal/llm"
	"sourceline/internal/outcome"
)

type CreateProjectInput struct {
	Name        string
	Idea        string
	Constraints domain.Constraints
	ActorID     string
}

// CreateProject turns an idea into a project with a product definition,
// checklist and compliance pre-check.
func (e Engine) CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error) {
	idea := strings.TrimSpace(in.Idea)
	if idea == "" {
		return domain.Project{}, invalid("idea", "idea is required")
	}
	c := in.Constraints
	if strings.TrimSpace(c.Country) == "" {
		c.Country = e.config().Project.DefaultCountry
	}
	if strings.TrimSpace(c.Country) == "" {
		c.Country = domain.DefaultCountry
	}

	def := ideation.Define(ctx, e.LLM, idea, c)
	now := e.now()
	items := checklist.Build(e.checklistCandidates(ctx, def, c), now)

	p := domain.Project{
		ID:                uuid.NewString(),
		Name:              strings.TrimSpace(in.Name),
		Idea:              idea,
		ProductDefinition: def,
		Constraints:       c,
		Checklist:         items,
		Lifecycle: domain.Lifecycle{
			ModuleStatus:   checklist.DefaultModuleStatus(),
			Suppliers:      []domain.Supplier{},
			Conversations:  []domain.Conversation{},
			OutreachDrafts: []domain.OutreachDraft{},
		},
		Outcome: domain.OutcomeState{FollowUpPolicy: e.config().FollowUpPolicy()},
		Sourcing: domain.SourcingState{
			Lifecycle: domain.Lifecycle{
				Suppliers:      []domain.Supplier{},
				Conversations:  []domain.Conversation{},
				OutreachDrafts: []domain.OutreachDraft{},
			},
			InboxQueue: []domain.QueuedMessage{},
		},
		CreatedAt: now.UTC().Format(time.RFC3339),
		UpdatedAt: now.UTC().Format(time.RFC3339),
	}
	if p.Name == "" {
		p.Name = def.ProductName
	}
	compliance := outcome.AssessCompliance(c.Country, def.ManufacturingCategory, def.KeyMaterials)
	p.Compliance = &compliance
	p.Sourcing.Normalize()
	checklist.SetModuleStatus(&p.Lifecycle, checklist.ModuleChecklist, domain.ChecklistValidated)
	checklist.SetItem(&p, checklist.KeyDefineProduct, domain.ChecklistValidated,
		"Idea converted to structured manufacturing definition.", "", now)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, &p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	evt, err := e.writer().Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, in.ActorID, events.Payload{
		"name":     p.Name,
		"category": def.ManufacturingCategory,
	})
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.publish(evt)
	return p, nil
}

func (e Engine) checklistCandidates(ctx context.Context, def domain.ProductDefinition, c domain.Constraints) []checklist.Candidate {
	defJSON, _ := json.Marshal(def)
	constraintsJSON, _ := json.Marshal(c)
	prompt := strings.Join([]string{
		"Create a pre-manufacturing checklist for this product.",
		"Return a strict JSON array of 8 items with keys: key, title, description, module, dependsOn.",
		"Modules must be one of: " + strings.Join(checklist.Modules, ", "),
		"Product: " + string(defJSON),
		"Constraints: " + string(constraintsJSON),
	}, "\n\n")
	raw := e.LLM.JSON(ctx, llm.Request{Prompt: prompt})
	if raw == nil {
		return nil
	}
	return checklist.DecodeCandidates(raw)
}

// SetChecklistItem overwrites an item without checking its dependencies.
// Unknown keys leave the project unchanged.
func (e Engine) SetChecklistItem(ctx context.Context, projectID, key, status, evidence, nextAction, actorID string) (domain.Project, error) {
	if !checklist.ValidStatus(status) {
		return domain.Project{}, invalid("status", fmt.Sprintf("invalid status %q", status))
	}
	return e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		if itemStatus(p, key) == "" {
			return change{}, nil
		}
		checklist.SetItem(p, key, status, evidence, nextAction, e.now())
		return change{
			Type:       events.ChecklistUpdated,
			EntityKind: "checklist_item",
			EntityID:   key,
			Payload:    events.Payload{"status": status, "gated": false},
		}, nil
	})
}

// ValidateChecklistItem validates an item only when all of its dependencies
// are validated and reports the resulting status.
func (e Engine) ValidateChecklistItem(ctx context.Context, projectID, key, evidence, actorID string) (domain.Project, string, error) {
	var status string
	p, err := e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		status = checklist.ValidateIfReady(p, key, evidence, e.now())
		if status == "" {
			return change{}, invalid("key", fmt.Sprintf("unknown checklist item %q", key))
		}
		return change{
			Type:       events.ChecklistUpdated,
			EntityKind: "checklist_item",
			EntityID:   key,
			Payload:    events.Payload{"status": status, "gated": true},
		}, nil
	})
	if err != nil {
		return domain.Project{}, "", err
	}
	return p, status, nil
}

// SetModuleStatus overwrites a module's status on the given lifecycle.
func (e Engine) SetModuleStatus(ctx context.Context, projectID, lifecycle, module, status, actorID string) (domain.Project, error) {
	if !checklist.ValidStatus(status) {
		return domain.Project{}, invalid("status", fmt.Sprintf("invalid status %q", status))
	}
	if strings.TrimSpace(module) == "" {
		return domain.Project{}, invalid("module", "module is required")
	}
	return e.patch(ctx, projectID, actorID, func(p *domain.Project) (change, error) {
		l, err := lifecycleOf(p, lifecycle)
		if err != nil {
			return change{}, err
		}
		checklist.SetModuleStatus(l, module, status)
		return change{
			Type:       events.ModuleStatusSet,
			EntityKind: "module",
			EntityID:   module,
			Payload:    events.Payload{"lifecycle": lifecycleName(lifecycle), "status": status},
		}, nil
	})
}

func lifecycleName(kind string) string {
	if kind == "" {
		return domain.LifecycleManufacturing
	}
	return kind
}
