package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"sourceline/internal/domain"
	"sourceline/internal/engine"
)

var sendErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
}

func registerSuppliers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-supplier",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/suppliers",
		Summary:       "Add a supplier",
		Tags:          []string{"suppliers"},
		DefaultStatus: http.StatusCreated,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      SupplierRequest `json:"body"`
	}) (*output[SupplierResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, p, err := e.AddSupplier(ctx, input.ProjectID, input.Body.input(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(SupplierResponse{Supplier: s, Project: p}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-suppliers",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/suppliers",
		Summary:     "List suppliers of a lifecycle",
		Tags:        []string{"suppliers"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Lifecycle string `query:"lifecycle" enum:"manufacturing,sourcing" default:"manufacturing"`
	}) (*output[[]domain.Supplier], error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		l, found := p.LifecycleFor(input.Lifecycle)
		if !found {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown lifecycle %q", input.Lifecycle), nil)
		}
		return respond(nonNil(l.Suppliers)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-supplier",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/suppliers/{supplier_id}/select",
		Summary:     "Mark a supplier as selected",
		Tags:        []string{"suppliers"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *supplierPath) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SelectSupplier(ctx, input.ProjectID, input.SupplierID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-supplier",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/suppliers/{supplier_id}/finalize",
		Summary:     "Finalize the supplier and close the sourcing checklist",
		Tags:        []string{"suppliers"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *supplierPath) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.FinalizeSupplier(ctx, input.ProjectID, input.SupplierID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})
}

type supplierPath struct {
	ProjectID  string `path:"project_id"`
	SupplierID string `path:"supplier_id"`
}

func registerOutreach(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "prepare-outreach",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/outreach/prepare",
		Summary:     "Draft RFQ emails",
		Tags:        []string{"outreach"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      SupplierIDsRequest `json:"body" required:"false"`
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.PrepareOutreach(ctx, input.ProjectID, input.Body.SupplierIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-outreach",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/outreach/send",
		Summary:     "Send every drafted RFQ email",
		Tags:        []string{"outreach"},
		Errors:      sendErrors,
	}, func(ctx context.Context, input *projectPath) (*output[engine.OutreachResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SendOutreach(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})
}

func registerReplies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-reply",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/replies",
		Summary:     "Parse and record a pasted supplier reply",
		Tags:        []string{"replies"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      IngestReplyRequest `json:"body"`
	}) (*output[engine.ReplyResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.IngestReply(ctx, engine.IngestReplyInput{
			ProjectID:  input.ProjectID,
			SupplierID: input.Body.SupplierID,
			Text:       input.Body.Text,
			Subject:    input.Body.Subject,
			Channel:    input.Body.Channel,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "simulate-replies",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/replies/simulate",
		Summary:     "Generate deterministic mock replies",
		Tags:        []string{"replies"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      SupplierIDsRequest `json:"body" required:"false"`
	}) (*output[engine.ReplyResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SimulateReplies(ctx, input.ProjectID, input.Body.SupplierIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-inbox",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/replies/sync",
		Summary:     "Fetch supplier replies from the mailbox",
		Tags:        []string{"replies"},
		Errors:      sendErrors,
	}, func(ctx context.Context, input *projectPath) (*output[engine.SyncResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SyncInbox(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})
}

func registerNegotiation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "negotiate",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/negotiations",
		Summary:     "Run one automated negotiation round",
		Description: "Rounds past the configured maximum, or after the target is met, are recorded as draft_only.",
		Tags:        []string{"negotiation"},
		Errors:      sendErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      NegotiateRequest `json:"body"`
	}) (*output[engine.NegotiationResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Negotiate(ctx, input.Body.input(input.ProjectID, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})
}

func registerFollowUps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-follow-up-policy",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/followups/policy",
		Summary:     "Store the project's follow-up policy",
		Tags:        []string{"followups"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      FollowUpPolicyRequest `json:"body"`
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateFollowUpPolicy(ctx, input.ProjectID, input.Body.input(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-follow-ups",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/followups/run",
		Summary:     "Email reminders to suppliers past their response window",
		Tags:        []string{"followups"},
		Errors:      sendErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      FollowUpPolicyRequest `json:"body" required:"false"`
	}) (*output[engine.FollowUpResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RunFollowUps(ctx, input.ProjectID, input.Body.input(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})
}
