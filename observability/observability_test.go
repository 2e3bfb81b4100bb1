package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRecordInvocation(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())
	m.RecordInvocation("action", "answer", "success", 10*time.Millisecond)
	m.RecordInvocation("action", "answer", "success", 20*time.Millisecond)
	m.RecordInvocation("action", "answer", "error", time.Millisecond)

	if got := testutil.ToFloat64(m.Invocations.WithLabelValues("action", "answer", "success")); got != 2 {
		t.Errorf("expected 2 successful invocations, got %v", got)
	}
	if got := testutil.ToFloat64(m.Invocations.WithLabelValues("action", "answer", "error")); got != 1 {
		t.Errorf("expected 1 failed invocation, got %v", got)
	}
	if n := testutil.CollectAndCount(m.InvocationDuration); n != 1 {
		t.Errorf("expected 1 histogram series, got %d", n)
	}
}

func TestProvidersAndViolations(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())
	m.SetProviders("action", 3)
	m.RecordViolation("action", "dynamic")

	if got := testutil.ToFloat64(m.Providers.WithLabelValues("action")); got != 3 {
		t.Errorf("expected 3 providers, got %v", got)
	}
	if got := testutil.ToFloat64(m.ContractViolations.WithLabelValues("action", "dynamic")); got != 1 {
		t.Errorf("expected 1 violation, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordInvocation("action", "x", "success", time.Second)
	m.SetProviders("action", 1)
	m.SetTotalProviders(1)
	m.RecordViolation("action", "static")
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
	if m.Path() != "/metrics" {
		t.Errorf("unexpected default path %q", m.Path())
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())
	m.RecordInvocation("action", "answer", "success", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "nodehost_capability_invocations_total") {
		t.Errorf("expected invocation counter in output, got:\n%s", body)
	}
}

func TestTracerRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tr := NewTracer(tp.Tracer(TracerName))

	_, span := tr.StartInvocation(context.Background(), "action", "answer")
	tr.End(span, nil)
	_, span = tr.StartInvocation(context.Background(), "action", "broken")
	tr.End(span, errors.New("boom"))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "capability.invoke.action" || spans[0].Status.Code != codes.Ok {
		t.Errorf("unexpected first span %s %v", spans[0].Name, spans[0].Status)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "boom" {
		t.Errorf("unexpected second span status %v", spans[1].Status)
	}
}

func TestNewTracerDefaultsToGlobal(t *testing.T) {
	tr := NewTracer(nil)
	_, span := tr.StartInvocation(context.Background(), "action", "answer")
	tr.End(span, nil)
}
