package observability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/config"
)

// recordingExporter keeps span names across Shutdown.
type recordingExporter struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range spans {
		r.names = append(r.names, s.Name())
	}
	return nil
}

func (r *recordingExporter) Shutdown(context.Context) error { return nil }

func (r *recordingExporter) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func preserveGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	prevExp, prevRes := newExporter, newResource
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		newExporter, newResource = prevExp, prevRes
	})
}

func TestSetup_Disabled_NoOp(t *testing.T) {
	preserveGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), config.OTELConfig{Enabled: false}, "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.Equal(t, before, otel.GetTracerProvider())
}

func TestSetup_Enabled_InstallsProvider(t *testing.T) {
	preserveGlobals(t)
	exp := &recordingExporter{}
	newExporter = func(context.Context, otlptrace.Client) (sdktrace.SpanExporter, error) { return exp, nil }

	shutdown, err := Setup(context.Background(), config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: "chat-test",
		SampleRatio: 1,
	}, "v0.0.0")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	require.Equal(t, []string{"op"}, exp.Names())
}

func TestSetup_ResourceError(t *testing.T) {
	preserveGlobals(t)
	newExporter = func(context.Context, otlptrace.Client) (sdktrace.SpanExporter, error) {
		return &recordingExporter{}, nil
	}
	newResource = func(context.Context, string, string) (*resource.Resource, error) {
		return nil, errors.New("boom")
	}

	_, err := Setup(context.Background(), config.OTELConfig{Enabled: true, Insecure: true}, "v")
	require.Error(t, err)
}
