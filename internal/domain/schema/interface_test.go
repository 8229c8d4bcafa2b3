package schema

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type calculator interface {
	Add(ctx context.Context, a, b int) (int, error)
	Reset()
	Pair(name string) (string, int)
	Tags(ctx context.Context) ([]string, error)
}

type badCtx interface {
	Do(a int, ctx context.Context) error
}

type badErr interface {
	Do() (error, int)
}

type variadic interface {
	Sum(xs ...int) int
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	iface, err := For[calculator]("Calculator")
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if iface.Name != "Calculator" {
		t.Errorf("Name = %q, want Calculator", iface.Name)
	}
	if len(iface.Methods) != 4 {
		t.Fatalf("len(Methods) = %d, want 4", len(iface.Methods))
	}

	add, ok := iface.Method("Add")
	if !ok {
		t.Fatal("Add not described")
	}
	if !add.HasCtx || !add.HasErr {
		t.Errorf("Add HasCtx=%v HasErr=%v, want both true", add.HasCtx, add.HasErr)
	}
	if len(add.Params) != 2 || len(add.Results) != 1 {
		t.Errorf("Add params=%d results=%d, want 2 and 1", len(add.Params), len(add.Results))
	}
	if got, want := add.Signature(), "Add(context.Context, int, int) (int, error)"; got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}

	reset, _ := iface.Method("Reset")
	if got := reset.Signature(); got != "Reset()" {
		t.Errorf("Signature() = %q, want Reset()", got)
	}
	pair, _ := iface.Method("Pair")
	if got := pair.Signature(); got != "Pair(string) (string, int)" {
		t.Errorf("Signature() = %q", got)
	}

	if _, ok := iface.Method("Missing"); ok {
		t.Error("Method(Missing) found")
	}
}

func TestDescribe_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		typ  reflect.Type
	}{
		{name: "struct", typ: reflect.TypeFor[struct{}]()},
		{name: "context not first", typ: reflect.TypeFor[badCtx]()},
		{name: "error not last", typ: reflect.TypeFor[badErr]()},
		{name: "variadic", typ: reflect.TypeFor[variadic]()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Describe("X", tt.typ); err == nil {
				t.Error("Describe() succeeded, want error")
			}
		})
	}

	if _, err := Describe("X", reflect.TypeFor[int]()); !errors.Is(err, ErrNotInterface) {
		t.Errorf("Describe(int) error = %v, want ErrNotInterface", err)
	}
	if _, err := Describe("", reflect.TypeFor[calculator]()); err == nil {
		t.Error("Describe with empty name succeeded")
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a, _ := For[calculator]("Calculator")
	b, _ := For[calculator]("Calculator")
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint is not deterministic")
	}

	renamed, _ := For[calculator]("Calc")
	if a.Fingerprint() == renamed.Fingerprint() {
		t.Error("fingerprint ignores the interface name")
	}

	other, _ := For[variadicFree]("Calculator")
	if a.Fingerprint() == other.Fingerprint() {
		t.Error("fingerprint ignores method signatures")
	}
	if a.FingerprintHex() == "" {
		t.Error("FingerprintHex() is empty")
	}
}

type variadicFree interface {
	Add(ctx context.Context, a, b int64) (int64, error)
}
