// Package tracing builds the OpenTelemetry tracer provider connections
// report call spans to.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Output values accepted by NewProvider.
const (
	OutputNone    = ""
	OutputStderr  = "stderr"
	OutputStdout  = "stdout"
	OutputDiscard = "discard"
)

// Provider is a tracer provider together with its shutdown function.
type Provider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// NewProvider returns a provider exporting spans as JSON to output. An empty
// output yields a no-op provider. sampleRatio is clamped to [0, 1].
func NewProvider(serviceName, output string, sampleRatio float64) (*Provider, error) {
	var w io.Writer
	switch output {
	case OutputNone:
		return &Provider{TracerProvider: noop.NewTracerProvider()}, nil
	case OutputStderr:
		w = os.Stderr
	case OutputStdout:
		w = os.Stdout
	case OutputDiscard:
		w = io.Discard
	default:
		return nil, fmt.Errorf("unknown tracing output %q", output)
	}
	return newWriterProvider(serviceName, w, sampleRatio)
}

func newWriterProvider(serviceName string, w io.Writer, sampleRatio float64) (*Provider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	sampleRatio = min(max(sampleRatio, 0), 1)

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)
	return &Provider{TracerProvider: tp, shutdown: tp.Shutdown}, nil
}
