package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/Mindburn-Labs/verdict/pkg/contracts"
)

// guardCache compiles per-user CEL guard expressions and caches the compiled
// program keyed by source. Guard expressions are an optional extra gate
// admins can attach to a config; they run after the fixed rule checks and
// must evaluate to true for the action to pass. Any compile or evaluation
// error fails closed.
type guardCache struct {
	mu       sync.RWMutex
	env      *cel.Env
	envErr   error
	once     sync.Once
	programs map[string]cel.Program
}

func newGuardCache() *guardCache {
	return &guardCache{programs: make(map[string]cel.Program)}
}

func (g *guardCache) environment() (*cel.Env, error) {
	g.once.Do(func() {
		g.env, g.envErr = cel.NewEnv(
			cel.VariableDecls(
				decls.NewVariable("action", types.StringType),
				decls.NewVariable("asset", types.StringType),
				decls.NewVariable("amount", types.DoubleType),
				decls.NewVariable("price", types.DoubleType),
				decls.NewVariable("address", types.StringType),
				decls.NewVariable("risk", types.DoubleType),
			),
		)
	})
	return g.env, g.envErr
}

func (g *guardCache) program(source string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.programs[source]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := g.environment()
	if err != nil {
		return nil, fmt.Errorf("guard env: %w", err)
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("guard compilation failed: %w", issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("guard program construction failed: %w", err)
	}

	g.mu.Lock()
	g.programs[source] = prg
	g.mu.Unlock()
	return prg, nil
}

// checkGuard evaluates the config's guard expression against the action.
func (e *Engine) checkGuard(cfg *Config, action contracts.ProposedAction) Check {
	prg, err := e.guards.program(cfg.GuardExpression)
	if err != nil {
		return Check{Name: CheckGuardExpression, Message: err.Error()}
	}

	price := 0.0
	if action.Price != nil {
		price = action.Price.InexactFloat64()
	}
	risk := cfg.RiskTolerance.InexactFloat64()

	out, _, err := prg.Eval(map[string]any{
		"action":  action.Type,
		"asset":   action.Asset,
		"amount":  action.Amount.InexactFloat64(),
		"price":   price,
		"address": action.TargetAddress,
		"risk":    risk,
	})
	if err != nil {
		// Fail closed.
		return Check{Name: CheckGuardExpression, Message: fmt.Sprintf("guard evaluation error: %v", err)}
	}

	if allowed, ok := out.Value().(bool); ok && allowed {
		return Check{Name: CheckGuardExpression, Passed: true}
	}
	return Check{Name: CheckGuardExpression, Message: "Denied by guard expression"}
}
