package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/logging"
)

const policyQuery = "data.kaldor.device_control"

// DefaultPolicy mirrors the route guards: commands need perimeter 2 or better,
// configuration additionally needs admin or operator, OTA needs an admin in
// perimeter 1.
const DefaultPolicy = `package kaldor.device_control

default allow := false

default reason := "action not permitted"

allow if {
	input.action == "command"
	input.subject.perimeter <= 2
}

allow if {
	input.action == "config"
	input.subject.perimeter <= 2
	some role in input.subject.roles
	role in {"admin", "operator"}
}

allow if {
	input.action == "ota"
	input.subject.perimeter == 1
	"admin" in input.subject.roles
}

reason := "" if {
	allow
}

reason := "unknown action" if {
	not input.action in {"command", "config", "ota"}
}
`

// OPAEvaluator evaluates the device-control policy with OPA Rego. The policy
// is compiled once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
	log   *zap.Logger
}

// NewOPAEvaluator compiles modules (file name to Rego source) into an
// evaluator for package kaldor.device_control. With no modules the
// DefaultPolicy is used.
func NewOPAEvaluator(ctx context.Context, modules map[string]string, log *zap.Logger) (*OPAEvaluator, error) {
	if len(modules) == 0 {
		modules = map[string]string{"device_control.rego": DefaultPolicy}
	}
	opts := []func(*rego.Rego){rego.Query(policyQuery)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}
	pq, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	return &OPAEvaluator{query: pq, log: logging.OrNop(log)}, nil
}

// EvaluateControl evaluates req. Any evaluation failure denies and returns the error.
func (e *OPAEvaluator) EvaluateControl(ctx context.Context, req ControlRequest) (Decision, error) {
	roles := req.Subject.Roles
	if roles == nil {
		roles = []string{}
	}
	input := map[string]interface{}{
		"action": req.Action,
		"entity": map[string]interface{}{"id": req.EntityID},
		"subject": map[string]interface{}{
			"id":        req.Subject.SubjectID,
			"roles":     roles,
			"perimeter": req.Subject.Perimeter,
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		e.log.Error("policy: evaluation failed", zap.String("action", req.Action), zap.Error(err))
		return Decision{Reason: "policy evaluation failed"}, fmt.Errorf("eval policy: %w", err)
	}
	d, err := decode(rs)
	if err != nil {
		e.log.Error("policy: unexpected result", zap.String("action", req.Action), zap.Error(err))
		return Decision{Reason: "policy evaluation failed"}, err
	}
	return d, nil
}

// HealthCheck evaluates a fixed request against the compiled policy.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluateControl(ctx, ControlRequest{Action: ActionCommand, EntityID: "health"})
	return err
}

func decode(rs rego.ResultSet) (Decision, error) {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, errors.New("policy query returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy document has type %T", rs[0].Expressions[0].Value)
	}
	allow, _ := doc["allow"].(bool)
	reason, _ := doc["reason"].(string)
	if allow {
		reason = ""
	} else if reason == "" {
		reason = "action not permitted"
	}
	return Decision{Allow: allow, Reason: reason}, nil
}
