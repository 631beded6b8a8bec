package ceremony

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"
)

// Gate is a policy with its CEL rule compiled.
type Gate struct {
	policy  Policy
	program cel.Program
}

// Compile validates p and compiles its rule. Rules see asset, identity,
// proof, trust_class (strings) and hold_ms, attested (ints), and must return a bool.
func Compile(p Policy) (*Gate, error) {
	g := &Gate{policy: p}
	if p.Rule == "" {
		return g, nil
	}

	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("asset", types.StringType),
			decls.NewVariable("identity", types.StringType),
			decls.NewVariable("proof", types.StringType),
			decls.NewVariable("trust_class", types.StringType),
			decls.NewVariable("hold_ms", types.IntType),
			decls.NewVariable("attested", types.IntType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(p.Rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("ceremony rule compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(types.BoolType) {
		return nil, fmt.Errorf("ceremony rule must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program construction failed: %w", err)
	}
	g.program = prg
	return g, nil
}

// Policy returns the gate's policy.
func (g *Gate) Policy() Policy { return g.policy }

// Domain returns the domain separation prefix.
func (g *Gate) Domain() string { return g.policy.DomainSeparation }

// Admit returns nil when req satisfies the policy and its rule, and an
// ErrPolicyDenied error otherwise. Rule evaluation errors deny.
func (g *Gate) Admit(req Request) error {
	if err := g.policy.Validate(req).Err(); err != nil {
		return err
	}
	if g.program == nil {
		return nil
	}

	out, _, err := g.program.Eval(map[string]any{
		"asset":       string(req.Asset),
		"identity":    req.IdentityHandle,
		"proof":       req.SecondFactorProof,
		"trust_class": string(req.TrustClass),
		"hold_ms":     req.HoldMs,
		"attested":    int64(req.Attested),
	})
	if err != nil {
		return Result{Reason: fmt.Sprintf("rule evaluation error: %v", err)}.Err()
	}
	if allowed, ok := out.Value().(bool); !ok || !allowed {
		return Result{Reason: fmt.Sprintf("denied by rule %q", g.policy.Rule)}.Err()
	}
	return nil
}
