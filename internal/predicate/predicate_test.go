package predicate

import (
	"errors"
	"testing"
)

func TestEvaluate(t *testing.T) {
	env := MapEnv{
		"severity": "high",
		"count":    float64(7),
		"enabled":  true,
		"tags":     []any{"ransomware", "x"},
		"hosts":    []string{"ws-01", "ws-02"},
		"data": map[string]any{
			"category": "malware",
			"score":    42,
		},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"eq match", `severity == 'high'`, true},
		{"eq no match", `severity == 'low'`, false},
		{"neq", `severity != 'low'`, true},
		{"double quotes", `severity == "high"`, true},
		{"numeric eq", `count == 7`, true},
		{"numeric neq", `count != 8`, true},
		{"int vs float", `count == 7.0`, true},
		{"bool literal", `enabled == true`, true},
		{"bool mismatch", `enabled == false`, false},
		{"contains hit", `tags.contains('ransomware')`, true},
		{"contains miss", `tags.contains('worm')`, false},
		{"contains string slice", `hosts.contains('ws-02')`, true},
		{"nested path", `data.category == 'malware'`, true},
		{"nested number", `data.score == 42`, true},
		{"and both", `severity == 'high' && count == 7`, true},
		{"and short circuit", `severity == 'low' && count == 7`, false},
		{"or first", `severity == 'high' || count == 99`, true},
		{"or second", `severity == 'low' || count == 7`, true},
		{"or neither", `severity == 'low' || count == 99`, false},
		{"parens", `(severity == 'low' || severity == 'high') && enabled == true`, true},
		{"precedence and over or", `severity == 'low' && count == 7 || enabled == true`, true},
		{"missing field is non-match", `missing == 'x'`, false},
		{"missing field neq is non-match", `missing != 'x'`, false},
		{"missing nested", `data.absent == 1`, false},
		{"missing contains", `absent.contains('x')`, false},
		{"string no numeric coercion", `severity == 1`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expr, env)
			if err != nil {
				t.Fatalf("Evaluate(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	exprs := []string{
		``,
		`severity =`,
		`severity = 'high'`,
		`severity == `,
		`== 'high'`,
		`severity == 'high`,
		`severity == 'high' &&`,
		`severity == 'high' & count == 7`,
		`severity == 'high' |`,
		`(severity == 'high'`,
		`severity == 'high')`,
		`tags.contains('x'`,
		`tags.contains(foo.bar)`,
		`severity.uppercase('x')`,
		`contains('x')`,
		`severity.. == 'high'`,
		`severity == 'high' extra`,
		`severity @ 'high'`,
	}

	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want syntax error", expr)
			}
			var synErr *SyntaxError
			if !errors.As(err, &synErr) {
				t.Errorf("Parse(%q) error type = %T, want *SyntaxError", expr, err)
			}
		})
	}
}

func TestEval_TypeMisuse(t *testing.T) {
	env := MapEnv{"severity": "high"}

	prog, err := Parse(`severity.contains('h')`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ok, err := prog.Eval(env)
	if ok {
		t.Error("contains on scalar should not match")
	}
	var evalErr *EvalError
	if !errors.As(err, &evalErr) {
		t.Errorf("error type = %T, want *EvalError", err)
	}

	// Match treats evaluation errors as non-matches.
	if prog.Match(env) {
		t.Error("Match should report false on evaluation error")
	}
}

func TestProgram_Reuse(t *testing.T) {
	prog, err := Parse(`severity == 'critical'`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !prog.Match(MapEnv{"severity": "critical"}) {
		t.Error("expected match")
	}
	if prog.Match(MapEnv{"severity": "low"}) {
		t.Error("expected no match")
	}
	if prog.Source() != `severity == 'critical'` {
		t.Errorf("Source() = %q", prog.Source())
	}
}
