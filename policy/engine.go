package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine that gates administrative commands.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Request is the input evaluated by the admin policy.
type Request struct {
	Command string `json:"command"`
	UserID  int64  `json:"user_id"`
	AdminID int64  `json:"admin_id"`
	Amount  int    `json:"amount,omitempty"`
}

// Decision is the verdict of the admin policy.
type Decision struct {
	Allow  bool
	Reason string
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.admin_policy.decision"),
		rego.Module("admin_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Authorize evaluates the policy for one command invocation.
// Anything the policy does not explicitly allow is denied.
func (e *Engine) Authorize(ctx context.Context, req Request) (Decision, error) {
	input := map[string]interface{}{
		"command":  req.Command,
		"user_id":  req.UserID,
		"admin_id": req.AdminID,
		"amount":   req.Amount,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: false, Reason: "no decision"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{Allow: false, Reason: "unexpected return type"}, nil
	}
	allow, _ := obj["allow"].(bool)
	reason, _ := obj["reason"].(string)
	return Decision{Allow: allow, Reason: reason}, nil
}

// MaxGrant bounds a single manual balance grant.
const MaxGrant = 1000

// DefaultPolicy is the default policy content.
var DefaultPolicy = fmt.Sprintf(`
package admin_policy

commands := {"refund", "pause", "resume", "queue", "addbalance"}

default decision = {"allow": false, "reason": "not an administrator"}

is_admin {
	input.admin_id != 0
	input.user_id == input.admin_id
}

amount_ok {
	input.amount > 0
	input.amount <= %d
}

decision = {"allow": false, "reason": "unknown command"} {
	is_admin
	not commands[input.command]
}

decision = {"allow": true, "reason": "administrator"} {
	is_admin
	commands[input.command]
	input.command != "addbalance"
}

decision = {"allow": true, "reason": "administrator"} {
	is_admin
	input.command == "addbalance"
	amount_ok
}

decision = {"allow": false, "reason": "amount out of range"} {
	is_admin
	input.command == "addbalance"
	not amount_ok
}
`, MaxGrant)
