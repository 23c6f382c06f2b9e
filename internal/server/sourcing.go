package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sourceline/internal/domain"
	"sourceline/internal/engine"
	"sourceline/internal/transport"
)

const (
	whatsAppWebhookPath = "webhooks/twilio/whatsapp"
	webhookActorID      = "twilio"
	emptyTwiML          = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

func registerSourcing(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-sourcing-brief",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/sourcing/brief",
		Summary:     "Set the ingredient brief and restart the sourcing lifecycle",
		Tags:        []string{"sourcing"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      SourcingBriefRequest `json:"body"`
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateSourcingBrief(ctx, input.ProjectID, input.Body.input(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "prepare-sourcing-outreach",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sourcing/outreach/prepare",
		Summary:     "Draft WhatsApp and email quote requests",
		Tags:        []string{"sourcing"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      SourcingOutreachRequest `json:"body" required:"false"`
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.PrepareSourcingOutreach(ctx, input.ProjectID, input.Body.SupplierIDs, input.Body.Channels, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-sourcing-outreach",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sourcing/outreach/send",
		Summary:     "Send every drafted quote request",
		Tags:        []string{"sourcing"},
		Errors:      sendErrors,
	}, func(ctx context.Context, input *projectPath) (*output[engine.OutreachResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SendSourcingOutreach(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ingest-sourcing-reply",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sourcing/replies",
		Summary:     "Parse and record an ingredient quote",
		Tags:        []string{"sourcing"},
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      SourcingReplyRequest `json:"body"`
	}) (*output[engine.ReplyResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.IngestSourcingReply(ctx, input.ProjectID, input.Body.SupplierID, input.Body.Text, input.Body.Channel, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-sourcing-replies",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sourcing/replies/sync",
		Summary:     "Ingest queued WhatsApp messages and mailbox quotes",
		Tags:        []string{"sourcing"},
		Errors:      sendErrors,
	}, func(ctx context.Context, input *projectPath) (*output[engine.SyncResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SyncSourcingReplies(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "compute-sourcing-metrics",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sourcing/metrics",
		Summary:     "Compute the ingredient sourcing funnel and price spread",
		Tags:        []string{"sourcing"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[domain.SourcingMetrics], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ComputeSourcingMetrics(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(m), nil
	})
}

// registerWhatsAppWebhook accepts Twilio's form-encoded inbound callback and
// queues the message on the project whose supplier sent it. Twilio retries
// on non-2xx, so unmatched senders are acknowledged.
func registerWhatsAppWebhook(r chi.Router, basePath string, e engine.Engine, twilio transport.TwilioConfig, logger *zap.Logger) {
	r.Post(path.Join(basePath, whatsAppWebhookPath), func(w http.ResponseWriter, req *http.Request) {
		twiml := func(status int) {
			w.Header().Set("Content-Type", "text/xml")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, emptyTwiML)
		}
		if err := req.ParseForm(); err != nil {
			twiml(http.StatusBadRequest)
			return
		}
		token := req.Header.Get("X-Webhook-Token")
		if token == "" {
			token = req.PostForm.Get("token")
		}
		if token == "" {
			token = req.PostForm.Get("verifyToken")
		}
		if !twilio.VerifyWebhookToken(token) {
			logger.Warn("whatsapp webhook token rejected", zap.String("remote", req.RemoteAddr))
			twiml(http.StatusUnauthorized)
			return
		}
		if !twilio.Configured() {
			twiml(http.StatusOK)
			return
		}
		in := engine.InboundWhatsApp{
			From:       strings.TrimSpace(req.PostForm.Get("From")),
			To:         strings.TrimSpace(req.PostForm.Get("To")),
			Body:       strings.TrimSpace(req.PostForm.Get("Body")),
			MessageSID: strings.TrimSpace(req.PostForm.Get("MessageSid")),
		}
		if in.From == "" || in.Body == "" {
			twiml(http.StatusOK)
			return
		}
		p, queued, err := e.QueueInboundMessage(req.Context(), in, webhookActorID)
		switch {
		case errors.Is(err, engine.ErrSupplierNotFound):
			logger.Info("whatsapp message from unknown sender", zap.String("from", in.From))
		case err != nil:
			var ie engine.InvalidInputError
			if errors.As(err, &ie) {
				twiml(http.StatusOK)
				return
			}
			logger.Error("queue whatsapp message", zap.String("message_sid", in.MessageSID), zap.Error(err))
			twiml(http.StatusInternalServerError)
			return
		default:
			logger.Info("whatsapp message received",
				zap.String("project_id", p.ID),
				zap.String("message_sid", in.MessageSID),
				zap.Bool("queued", queued))
		}
		twiml(http.StatusOK)
	})
}
