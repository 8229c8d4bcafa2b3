package cel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

func testCall(method string, args ...any) proxy.CallContext {
	return proxy.CallContext{
		Interface:   "Init",
		Method:      method,
		Cap:         0,
		Args:        args,
		Role:        "server",
		ConnID:      "conn-1",
		RequestTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	tests := []struct {
		name string
		expr string
		call proxy.CallContext
		want bool
	}{
		{"method equality", `method == "Ping"`, testCall("Ping"), true},
		{"method mismatch", `method == "Ping"`, testCall("Add", 1.0, 2.0), false},
		{"glob", `glob("Init.*", interface + "." + method)`, testCall("Ping"), true},
		{"glob miss", `glob("Counter.*", interface + "." + method)`, testCall("Ping"), false},
		{"args size", `size(args) == 2`, testCall("Add", 1.0, 2.0), true},
		{"numeric arg vs int", `args[0] > 100`, testCall("Add", 250.0, 2.0), true},
		{"arg_contains", `arg_contains(args, "secret")`, testCall("Pass", "my-secret-value"), true},
		{"arg_contains ignores non strings", `arg_contains(args, "1")`, testCall("Add", 1.0), false},
		{"cap and role", `cap == 0 && role == "server"`, testCall("Ping"), true},
		{"request time", `request_time.getFullYear() == 2026`, testCall("Ping"), true},
		{"strings ext", `method.lowerAscii() == "ping"`, testCall("Ping"), true},
		{"nil args", `size(args) == 0`, proxy.CallContext{Interface: "Init", Method: "Ping"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prg, err := eval.Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile(%q) error = %v", tt.expr, err)
			}
			got, err := eval.Evaluate(context.Background(), prg, tt.call)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluator_NonBoolResult(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	if _, err := eval.Compile(`method + "x"`); err == nil || !strings.Contains(err.Error(), "want bool") {
		t.Fatalf("Compile(string result) error = %v, want a bool type error", err)
	}

	// Dynamic results are only known at evaluation time.
	prg, err := eval.Compile(`args[0]`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := eval.Evaluate(context.Background(), prg, testCall("Ping", "x")); err == nil {
		t.Fatal("expected error for non-boolean result")
	}
}

func TestEvaluator_ValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{"valid", `method == "Ping"`, ""},
		{"empty", "", "empty"},
		{"too long", `method == "` + strings.Repeat("a", maxExpressionLength) + `"`, "too long"},
		{"too deep", strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1), "nesting"},
		{"unknown variable", `tool_name == "x"`, "invalid CEL expression"},
		{"syntax error", `method ==`, "invalid CEL expression"},
		{"not a bool", `cap + 1`, "want bool"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateExpression() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateExpression() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
