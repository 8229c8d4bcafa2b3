package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewProvider_None(t *testing.T) {
	t.Parallel()

	p, err := NewProvider("ipc-gate", OutputNone, 1)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if _, ok := p.TracerProvider.(noop.TracerProvider); !ok {
		t.Errorf("TracerProvider = %T, want noop", p.TracerProvider)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewProvider_UnknownOutput(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider("ipc-gate", "jaeger", 1); err == nil {
		t.Fatal("expected error for unknown output")
	}
}

func TestWriterProvider_ExportsSpans(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p, err := newWriterProvider("ipc-gate-test", &buf, 1)
	if err != nil {
		t.Fatalf("newWriterProvider() error = %v", err)
	}

	_, span := p.Tracer("test").Start(context.Background(), "Init.Ping")
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Init.Ping") {
		t.Errorf("exported spans missing span name: %s", out)
	}
	if !strings.Contains(out, "ipc-gate-test") {
		t.Errorf("exported spans missing service name: %s", out)
	}
}

func TestWriterProvider_ZeroRatioDropsSpans(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p, err := newWriterProvider("ipc-gate-test", &buf, 0)
	if err != nil {
		t.Fatalf("newWriterProvider() error = %v", err)
	}
	_, span := p.Tracer("test").Start(context.Background(), "Init.Ping")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no spans, got %s", buf.String())
	}
}
