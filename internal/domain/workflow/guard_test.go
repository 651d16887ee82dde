package workflow

import "testing"

func compile(t *testing.T, g Guard) Predicate {
	t.Helper()
	pred, err := g.Compile()
	if err != nil {
		t.Fatalf("compile guard %+v: %v", g, err)
	}
	return pred
}

func TestGuardEq(t *testing.T) {
	pred := compile(t, Guard{Var: "status", Op: OpEq, Value: "approved"})

	if !pred(map[string]any{"status": "approved"}) {
		t.Error("eq should match equal string")
	}
	if pred(map[string]any{"status": "rejected"}) {
		t.Error("eq should not match different string")
	}
	if pred(map[string]any{}) {
		t.Error("eq should not match missing variable")
	}
}

func TestGuardEqNumericCoercion(t *testing.T) {
	// YAML decodes "3" as int, execution state may carry float64.
	pred := compile(t, Guard{Var: "retries", Op: OpEq, Value: 3})
	if !pred(map[string]any{"retries": float64(3)}) {
		t.Error("eq should treat int 3 and float64 3 as equal")
	}
}

func TestGuardNeq(t *testing.T) {
	pred := compile(t, Guard{Var: "status", Op: OpNeq, Value: "failed"})
	if !pred(map[string]any{"status": "ok"}) {
		t.Error("neq should match different value")
	}
	if pred(map[string]any{"status": "failed"}) {
		t.Error("neq should not match equal value")
	}
	if pred(map[string]any{}) {
		t.Error("neq should not match missing variable")
	}
}

func TestGuardNumericComparisons(t *testing.T) {
	cases := []struct {
		op    Op
		state float64
		want  bool
	}{
		{OpGt, 6, true},
		{OpGt, 5, false},
		{OpGte, 5, true},
		{OpLt, 4, true},
		{OpLt, 5, false},
		{OpLte, 5, true},
	}
	for _, tc := range cases {
		pred := compile(t, Guard{Var: "score", Op: tc.op, Value: 5})
		got := pred(map[string]any{"score": tc.state})
		if got != tc.want {
			t.Errorf("score=%g %s 5: got %v, want %v", tc.state, tc.op, got, tc.want)
		}
	}
}

func TestGuardNumericRejectsNonNumericValue(t *testing.T) {
	if _, err := (&Guard{Var: "score", Op: OpGt, Value: "high"}).Compile(); err == nil {
		t.Fatal("expected compile error for non-numeric comparison value")
	}
}

func TestGuardIn(t *testing.T) {
	pred := compile(t, Guard{Var: "lane", Op: OpIn, Values: []any{"fast", "slow"}})
	if !pred(map[string]any{"lane": "fast"}) {
		t.Error("in should match member")
	}
	if pred(map[string]any{"lane": "other"}) {
		t.Error("in should not match non-member")
	}

	if _, err := (&Guard{Var: "lane", Op: OpIn}).Compile(); err == nil {
		t.Fatal("expected compile error for empty value set")
	}
}

func TestGuardExists(t *testing.T) {
	pred := compile(t, Guard{Var: "result", Op: OpExists})
	if !pred(map[string]any{"result": nil}) {
		t.Error("exists should match present key even with nil value")
	}
	if pred(map[string]any{}) {
		t.Error("exists should not match absent key")
	}
}

func TestGuardUnknownOp(t *testing.T) {
	if _, err := (&Guard{Var: "x", Op: Op("matches")}).Compile(); err == nil {
		t.Fatal("expected compile error for unknown op")
	}
	if _, err := (&Guard{Op: OpEq, Value: 1}).Compile(); err == nil {
		t.Fatal("expected compile error for empty variable name")
	}
}
