package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	userdomain "identity-service/backend/internal/user/domain"
)

const editQuery = "data.identity.edit.allow"

// Default Rego policy: only password accounts own editable profile fields; social accounts
// are refreshed from their provider on every login.
const defaultRegoPolicy = `package identity.edit

default allow := false

allow if {
	input.caller.id != ""
	input.caller.method == "PASSWORD"
}
`

// OPAEvaluator evaluates the profile-edit rule with OPA Rego. The query is prepared once.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy, or the default policy when policy is empty.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = defaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"edit.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(editQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// HealthCheck evaluates the prepared query against a denied caller. Returns nil when the
// engine answers.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(nil)))
	if err != nil {
		return fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// AllowEdit evaluates the policy for caller. Any evaluation failure denies.
func (e *OPAEvaluator) AllowEdit(ctx context.Context, caller *userdomain.Profile) (bool, error) {
	if caller == nil {
		return false, nil
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(caller)))
	if err != nil {
		log.Printf("policy: edit evaluation failed: %v", err)
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}

func buildInput(caller *userdomain.Profile) map[string]interface{} {
	c := map[string]interface{}{
		"id":         "",
		"method":     "",
		"permission": "",
	}
	if caller != nil {
		c["id"] = caller.ID
		c["method"] = string(caller.Method)
		c["permission"] = string(caller.Permission)
	}
	return map[string]interface{}{"caller": c}
}
