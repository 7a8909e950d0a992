package observability

import (
	"context"
	"errors"
	"testing"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder routes spans to an in-memory recorder for the test.
func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := tracer
	tracer = tp.Tracer("test")
	t.Cleanup(func() {
		tracer = prev
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestStartSpan(t *testing.T) {
	tests := []struct {
		name     string
		spanName string
		data     map[string]any
		wantAttr int
	}{
		{name: "nil data", spanName: "chat.submit", data: nil, wantAttr: 0},
		{name: "string data", spanName: "chat.turn", data: map[string]any{"thread_id": "t1"}, wantAttr: 1},
		{
			name:     "mixed types",
			spanName: "runpoller.wait",
			data: map[string]any{
				"run_id":   "r1",
				"attempts": 3,
				"waited":   1.5,
				"ok":       true,
				"slice":    []string{"a"},
			},
			wantAttr: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := useRecorder(t)

			_, span := StartSpan(context.Background(), tt.spanName, tt.data)
			if span.Name() != tt.spanName {
				t.Errorf("span.Name() = %v, want %v", span.Name(), tt.spanName)
			}
			span.End()

			ended := sr.Ended()
			if len(ended) != 1 {
				t.Fatalf("ended spans = %d, want 1", len(ended))
			}
			if got := len(ended[0].Attributes()); got != tt.wantAttr {
				t.Errorf("attributes = %d, want %d", got, tt.wantAttr)
			}
		})
	}
}

func TestSpan_EndIsIdempotent(t *testing.T) {
	sr := useRecorder(t)

	_, span := StartSpan(context.Background(), "chat.turn", nil)
	span.End()
	span.End()

	if !span.IsEnded() {
		t.Error("span should report ended")
	}
	if len(sr.Ended()) != 1 {
		t.Errorf("ended spans = %d, want 1", len(sr.Ended()))
	}
}

func TestSpan_ZeroValue(t *testing.T) {
	var span Span
	// None of these may panic on a zero value.
	span.SetAttribute("k", "v")
	span.SetError(errors.New("boom"))
	span.End()
}

func TestSpan_SetError(t *testing.T) {
	sr := useRecorder(t)

	_, span := StartSpan(context.Background(), "chat.turn", nil)
	span.SetError(errors.New("run failed"))
	span.End()

	got := sr.Ended()[0]
	if got.Status().Code != otelcodes.Error {
		t.Errorf("status = %v, want Error", got.Status().Code)
	}
	if len(got.Events()) != 1 {
		t.Errorf("events = %d, want 1 recorded error", len(got.Events()))
	}
}

func TestStartSpan_ChildOfParent(t *testing.T) {
	sr := useRecorder(t)

	ctx, parent := StartSpan(context.Background(), "chat.submit", nil)
	_, child := StartSpan(ctx, "chat.turn", nil)
	child.End()
	parent.End()

	ended := sr.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	if ended[0].Parent().SpanID() != ended[1].SpanContext().SpanID() {
		t.Error("child span is not parented to chat.submit")
	}
}

func TestInit_Disabled(t *testing.T) {
	if err := Init(Config{Enabled: false}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := Init(Config{Enabled: true, ExporterType: "none"}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if err := Init(Config{Enabled: true, ExporterType: "zipkin"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{in: "", want: nil},
		{in: "Authorization=Basic abc", want: map[string]string{"Authorization": "Basic abc"}},
		{in: "a=1, b=2,broken", want: map[string]string{"a": "1", "b": "2"}},
	}

	for _, tt := range tests {
		got := parseHeaders(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("parseHeaders(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("parseHeaders(%q)[%q] = %q, want %q", tt.in, k, got[k], v)
			}
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("OTEL_SERVICE_NAME", "")

	cfg := ConfigFromEnv(Config{})
	if cfg.ExporterType != "stdout" {
		t.Errorf("ExporterType = %q, want stdout", cfg.ExporterType)
	}
	if cfg.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, DefaultServiceName)
	}

	explicit := ConfigFromEnv(Config{ExporterType: "otlp"})
	if explicit.ExporterType != "otlp" {
		t.Errorf("explicit ExporterType overridden: %q", explicit.ExporterType)
	}
}
