package cel

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

// Action is the outcome a matching rule produces.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Rule is one call filter rule.
type Rule struct {
	// Name is a human-readable name, reported in deny reasons.
	Name string
	// Priority determines evaluation order (lower = higher priority).
	Priority int
	// Match is a glob pattern over "Interface.Method" (e.g. "Init.*").
	// Empty matches every call.
	Match string
	// Condition is a CEL expression that must evaluate to true for the rule
	// to apply. Empty means always.
	Condition string
	Action    Action
}

type compiledRule struct {
	Rule
	program cel.Program
}

// Policy evaluates inbound calls against an ordered rule list. The first
// matching rule decides; when none matches the default action applies.
type Policy struct {
	eval          *Evaluator
	rules         []compiledRule
	defaultAction Action
}

var _ proxy.CallPolicy = (*Policy)(nil)

// NewPolicy compiles rules. defaultAction is used when no rule matches.
func NewPolicy(rules []Rule, defaultAction Action) (*Policy, error) {
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}
	if err := validateAction(defaultAction); err != nil {
		return nil, fmt.Errorf("default action: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if err := validateAction(r.Action); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if r.Match != "" {
			if _, err := filepath.Match(r.Match, ""); err != nil {
				return nil, fmt.Errorf("rule %q: bad match pattern: %w", r.Name, err)
			}
		}
		cr := compiledRule{Rule: r}
		if r.Condition != "" {
			prg, err := eval.Compile(r.Condition)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			cr.program = prg
		}
		compiled = append(compiled, cr)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority < compiled[j].Priority
	})

	return &Policy{eval: eval, rules: compiled, defaultAction: defaultAction}, nil
}

// Evaluate implements proxy.CallPolicy.
func (p *Policy) Evaluate(ctx context.Context, call proxy.CallContext) (proxy.Decision, error) {
	name := call.Interface + "." + call.Method
	for _, r := range p.rules {
		if r.Match != "" {
			if ok, _ := filepath.Match(r.Match, name); !ok {
				continue
			}
		}
		if r.program != nil {
			ok, err := p.eval.Evaluate(ctx, r.program, call)
			if err != nil {
				return proxy.Decision{}, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			if !ok {
				continue
			}
		}
		return decide(r.Action, "rule "+r.Name), nil
	}
	return decide(p.defaultAction, "default action"), nil
}

func decide(a Action, reason string) proxy.Decision {
	return proxy.Decision{Allowed: a == ActionAllow, Reason: reason}
}

func validateAction(a Action) error {
	switch a {
	case ActionAllow, ActionDeny:
		return nil
	default:
		return fmt.Errorf("unknown action %q", a)
	}
}
