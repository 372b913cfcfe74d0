package engine

import (
	"context"

	"kaldor-iiot/backend/internal/identity/domain"
)

// Control actions evaluated by the device-control policy.
const (
	ActionCommand = "command"
	ActionConfig  = "config"
	ActionOTA     = "ota"
)

// ControlRequest is one attempt to send a control message to an entity.
type ControlRequest struct {
	Subject  domain.Identity
	Action   string
	EntityID string
}

// Decision is the policy outcome. Reason is set when Allow is false.
type Decision struct {
	Allow  bool
	Reason string
}

// Evaluator decides whether a subject may send a control message.
type Evaluator interface {
	EvaluateControl(ctx context.Context, req ControlRequest) (Decision, error)
}
