package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sourceline/internal/domain"
)

// Event types appended by the engine.
const (
	ProjectCreated        = "project.created"
	ProjectDeleted        = "project.deleted"
	ChecklistUpdated      = "checklist.updated"
	ModuleStatusSet       = "module.status_set"
	SupplierAdded         = "supplier.added"
	SupplierSelected      = "supplier.selected"
	SupplierFinalized     = "supplier.finalized"
	OutreachPrepared      = "outreach.prepared"
	OutreachSent          = "outreach.sent"
	ReplyIngested         = "reply.ingested"
	RepliesSynced         = "reply.synced"
	NegotiationRound      = "negotiation.round"
	FollowUpsRun          = "followup.run"
	FollowUpPolicySet     = "followup.policy_set"
	ShouldCostBuilt       = "outcome.should_cost"
	VariantsBuilt         = "outcome.variants"
	StructuredRFQBuilt    = "outcome.structured_rfq"
	AwardGateRun          = "award.run"
	MetricsComputed       = "metrics.computed"
	SourcingBriefUpdated  = "sourcing.brief_updated"
	SourcingMessageQueued = "sourcing.message_queued"
	APIKeyCreated         = "api_key.created"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Append inserts an event inside tx and returns it with its assigned id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload Payload) (domain.Event, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt := domain.Event{
		TS:         now().UTC().Format(time.RFC3339),
		Type:       evtType,
		ProjectID:  projectID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		evt.TS, evt.Type, nullable(projectID), entityKind, nullable(entityID), actorID, evt.Payload)
	if err != nil {
		return domain.Event{}, err
	}
	if id, err := res.LastInsertId(); err == nil {
		evt.ID = id
	}
	return evt, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
