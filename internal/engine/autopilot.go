package engine

import (
	"context"
	"errors"

	"sourceline/internal/domain"
	"sourceline/internal/simulation"
)

// AutopilotStep records what one stage of the demo pipeline did.
type AutopilotStep struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type AutopilotResult struct {
	Project     domain.Project     `json:"project"`
	Steps       []AutopilotStep    `json:"steps"`
	Negotiation *NegotiationResult `json:"negotiation,omitempty"`
}

// RunAutopilot drafts and sends outreach, simulates replies and opens
// negotiation with the strongest quote. Suppliers must already exist.
// Sending is skipped when no transport is available.
func (e Engine) RunAutopilot(ctx context.Context, projectID, actorID string) (AutopilotResult, error) {
	var out AutopilotResult
	step := func(name, status, msg string) {
		out.Steps = append(out.Steps, AutopilotStep{Step: name, Status: status, Message: msg})
	}

	if _, err := e.PrepareOutreach(ctx, projectID, nil, actorID); err != nil {
		return out, err
	}
	step("outreach_prepare", "done", "")

	sent, err := e.SendOutreach(ctx, projectID, actorID)
	var cfgErr ConfigError
	switch {
	case errors.As(err, &cfgErr):
		step("outreach_send", "skipped", cfgErr.Error())
	case err != nil:
		return out, err
	default:
		step("outreach_send", "done", "")
		out.Project = sent.Project
	}

	replies, err := e.SimulateReplies(ctx, projectID, nil, actorID)
	if err != nil {
		return out, err
	}
	step("replies_simulate", "done", "")
	out.Project = replies.Project

	best := simulation.PickBest(replies.Project.Suppliers)
	if best == nil {
		step("negotiation", "skipped", "no supplier quotes")
		return out, nil
	}
	neg, err := e.Negotiate(ctx, NegotiateInput{
		ProjectID:   projectID,
		Lifecycle:   domain.LifecycleManufacturing,
		SupplierID:  best.ID,
		SendMessage: e.config().Negotiation.MockSend,
		Channel:     domain.ChannelEmail,
		ActorID:     actorID,
	})
	if err != nil {
		return out, err
	}
	step("negotiation", "done", neg.StopDecision.Reason)
	out.Project = neg.Project
	out.Negotiation = &neg
	return out, nil
}
