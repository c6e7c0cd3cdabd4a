package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/open-policy-agent/opa/rego"
)

const regoQuery = "data.daosign.authz.allow"

// DefaultRegoModule reproduces SelfService as a rego policy. Deployments replace it with
// ACCESS_POLICY_FILE.
const DefaultRegoModule = `package daosign.authz

default allow = false

allow {
	input.caller == input.owner
}

allow {
	input.operation == "storeAgreement"
}

allow {
	input.operation != "storeAgreement"
	input.caller == input.actor
	input.caller != "0x0000000000000000000000000000000000000000"
}
`

// Rego evaluates an OPA module. The module must define data.daosign.authz.allow; the input
// document is {caller, owner, operation, actor, fileCID} with lowercase hex addresses.
type Rego struct {
	owner common.Address
	query rego.PreparedEvalQuery
}

// NewRego compiles module and prepares the allow query.
func NewRego(ctx context.Context, owner common.Address, module string) (*Rego, error) {
	if strings.TrimSpace(module) == "" {
		return nil, errors.New("rego module is empty")
	}
	r := rego.New(
		rego.Query(regoQuery),
		rego.Module("daosign_authz.rego", module),
		rego.StrictBuiltinErrors(true),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile access policy: %w", err)
	}
	return &Rego{owner: owner, query: prepared}, nil
}

// NewRegoFromFile loads the module from path, or DefaultRegoModule when path is empty.
func NewRegoFromFile(ctx context.Context, owner common.Address, path string) (*Rego, error) {
	if path == "" {
		return NewRego(ctx, owner, DefaultRegoModule)
	}
	module, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read access policy: %w", err)
	}
	return NewRego(ctx, owner, string(module))
}

func (p *Rego) Authorize(ctx context.Context, req Request) error {
	input := map[string]interface{}{
		"caller":    lowerHex(req.Caller),
		"owner":     lowerHex(p.owner),
		"operation": string(req.Operation),
		"actor":     lowerHex(req.Actor),
		"fileCID":   req.FileCID,
	}
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("evaluate access policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return ErrCallerNotOwner
	}
	if allowed, ok := results[0].Expressions[0].Value.(bool); ok && allowed {
		return nil
	}
	return ErrCallerNotOwner
}

func lowerHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// New builds the policy named by kind: "owner", "self" or "rego".
func New(ctx context.Context, kind string, owner common.Address, regoFile string) (Policy, error) {
	// Anonymous callers carry the zero address.
	if owner == (common.Address{}) {
		return nil, errors.New("policy owner must not be the zero address")
	}
	switch strings.ToLower(kind) {
	case "", "owner":
		return OwnerOnly{Owner: owner}, nil
	case "self", "selfservice":
		return SelfService{Owner: owner}, nil
	case "rego", "opa":
		return NewRegoFromFile(ctx, owner, regoFile)
	default:
		return nil, fmt.Errorf("unknown access policy %q", kind)
	}
}
