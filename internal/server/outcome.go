package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sourceline/internal/domain"
	"sourceline/internal/engine"
)

func registerOutcome(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-outcome-plan",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/outcome/plan",
		Summary:     "Build should-cost, variants and RFQ in one pass",
		Tags:        []string{"outcome"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      VariantRequest `json:"body" required:"false"`
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GenerateOutcomePlan(ctx, input.ProjectID, input.Body.VariantKey, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "build-should-cost",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/outcome/should-cost",
		Summary:     "Estimate the landed should-cost",
		Tags:        []string{"outcome"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *projectPath) (*output[domain.ShouldCost], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sc, err := e.BuildShouldCost(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(sc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "build-variants",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/outcome/variants",
		Summary:     "Build prototype, pilot and scale variants",
		Tags:        []string{"outcome"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Variant], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		vs, err := e.BuildVariants(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNil(vs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "build-structured-rfq",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/outcome/rfq",
		Summary:     "Build the structured RFQ for a variant",
		Tags:        []string{"outcome"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      VariantRequest `json:"body" required:"false"`
	}) (*output[domain.StructuredRFQ], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rfq, err := e.BuildStructuredRFQ(ctx, input.ProjectID, input.Body.VariantKey, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(rfq), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "compute-metrics",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/metrics",
		Summary:     "Compute and store a KPI snapshot",
		Tags:        []string{"outcome"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[domain.OutcomeMetrics], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ComputeMetrics(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(m), nil
	})
}

func registerAward(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-award-gate",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/award",
		Summary:     "Rank suppliers and recommend an award",
		Tags:        []string{"award"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string       `path:"project_id"`
		Body      AwardRequest `json:"body" required:"false"`
	}) (*output[AwardResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		decision, p, err := e.RunAwardGate(ctx, input.ProjectID, input.Body.input(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(AwardResponse{Decision: decision, Project: p}), nil
	})
}

// registerExports serves binary award artifacts outside huma.
func registerExports(r chi.Router, basePath string, e engine.Engine, logger *zap.Logger) {
	type render func(ctx context.Context, projectID string, w io.Writer) error
	serve := func(contentType, filename string, fn render) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			projectID := chi.URLParam(req, "project_id")
			var buf bytes.Buffer
			if err := fn(req.Context(), projectID, &buf); err != nil {
				logger.Debug("export failed", zap.String("project_id", projectID), zap.String("file", filename), zap.Error(err))
				respondStatusError(w, handleError(err))
				return
			}
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("Content-Disposition", `attachment; filename="`+projectID+"-"+filename+`"`)
			w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
			_, _ = w.Write(buf.Bytes())
		}
	}
	prefix := path.Join(basePath, "projects/{project_id}/award")
	r.Get(prefix+"/packet.pdf", serve("application/pdf", "award-packet.pdf", e.AwardPacketPDF))
	r.Get(prefix+"/ranking.xlsx", serve("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "award-ranking.xlsx", e.AwardRankingXLSX))
}
