package workflow

import (
	"fmt"
	"strconv"
)

// Op is the closed set of guard comparison kinds. Guards are compiled ahead
// of time into predicates; there is no general expression interpreter.
type Op string

const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpIn     Op = "in"     // membership in Values
	OpExists Op = "exists" // variable is present in state
)

// Guard is a boolean condition on a workflow edge over a named state variable.
type Guard struct {
	Var    string `yaml:"var" json:"var"`
	Op     Op     `yaml:"op" json:"op"`
	Value  any    `yaml:"value,omitempty" json:"value,omitempty"`
	Values []any  `yaml:"values,omitempty" json:"values,omitempty"` // for op "in"
}

// Predicate is a compiled guard evaluated against the execution state map.
type Predicate func(state map[string]any) bool

// Compile validates the guard and returns its predicate.
func (g *Guard) Compile() (Predicate, error) {
	if g.Var == "" {
		return nil, fmt.Errorf("guard: empty variable name")
	}

	switch g.Op {
	case OpExists:
		name := g.Var
		return func(state map[string]any) bool {
			_, ok := state[name]
			return ok
		}, nil

	case OpEq, OpNeq:
		name, want, negate := g.Var, g.Value, g.Op == OpNeq
		return func(state map[string]any) bool {
			got, ok := state[name]
			if !ok {
				return false
			}
			return looseEqual(got, want) != negate
		}, nil

	case OpGt, OpGte, OpLt, OpLte:
		want, ok := toFloat(g.Value)
		if !ok {
			return nil, fmt.Errorf("guard %s %s: value %v is not numeric", g.Var, g.Op, g.Value)
		}
		name, op := g.Var, g.Op
		return func(state map[string]any) bool {
			raw, ok := state[name]
			if !ok {
				return false
			}
			got, ok := toFloat(raw)
			if !ok {
				return false
			}
			switch op {
			case OpGt:
				return got > want
			case OpGte:
				return got >= want
			case OpLt:
				return got < want
			default:
				return got <= want
			}
		}, nil

	case OpIn:
		if len(g.Values) == 0 {
			return nil, fmt.Errorf("guard %s in: empty value set", g.Var)
		}
		name, members := g.Var, g.Values
		return func(state map[string]any) bool {
			got, ok := state[name]
			if !ok {
				return false
			}
			for _, m := range members {
				if looseEqual(got, m) {
					return true
				}
			}
			return false
		}, nil

	default:
		return nil, fmt.Errorf("guard %s: unknown op %q", g.Var, g.Op)
	}
}

// looseEqual compares two state values, treating numerically equal values of
// different Go types (YAML int vs JSON float64) as equal.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
