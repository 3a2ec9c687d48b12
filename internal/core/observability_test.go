package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"roundcore/internal/core"
)

func TestExpvarRecorderAggregatesOutcomes(t *testing.T) {
	rec := core.NewExpvarMetricsRecorder("")
	ctx := context.Background()

	rec.Observe(ctx, "activate", true, 20*time.Millisecond)
	rec.Observe(ctx, "activate", true, 30*time.Millisecond)
	rec.Observe(ctx, "activate", false, 5*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	snapshot := rec.Snapshot()
	if snapshot.Results["activate"]["success"] != 2 {
		t.Fatalf("expected 2 successes, got %d", snapshot.Results["activate"]["success"])
	}
	if snapshot.Results["activate"]["error"] != 1 {
		t.Fatalf("expected 1 error, got %d", snapshot.Results["activate"]["error"])
	}
	if got := snapshot.DurationsMS["activate"]; got != 55 {
		t.Fatalf("expected 55ms accumulated, got %g", got)
	}
	if len(snapshot.Results) != 1 {
		t.Fatalf("empty operation names must be ignored: %+v", snapshot.Results)
	}
}

func TestJSONTracerRecordsServiceOperations(t *testing.T) {
	var buf bytes.Buffer
	tracer := core.NewJSONTracer(&buf)
	svc := core.NewInMemoryService(core.DefaultRulesEngine(), core.WithTracer(tracer))
	ctx := context.Background()
	experiment, _ := buildExperiment(t, svc, 5, 0, roundSpec{sequence: 1})

	if _, err := svc.Invoke(ctx, experiment.ID, core.ActionActivate, "admin"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	entries := tracer.Entries()
	found := false
	for _, e := range entries {
		if e.Operation == "invoke_activate" && e.Status == "success" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an invoke_activate span, got %+v", entries)
	}

	dec := json.NewDecoder(&buf)
	lines := 0
	for dec.More() {
		var entry core.JSONTraceEntry
		if err := dec.Decode(&entry); err != nil {
			t.Fatalf("decode trace line: %v", err)
		}
		lines++
	}
	if lines != len(entries) {
		t.Fatalf("writer received %d lines, retained %d entries", lines, len(entries))
	}
}

func TestPrometheusRecorderCountsResults(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		t.Fatalf("build recorder: %v", err)
	}
	ctx := context.Background()

	rec.Observe(ctx, "set_value", true, 2*time.Millisecond)
	rec.Observe(ctx, "set_value", false, time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "roundcore_service_operation_results_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var status string
			for _, label := range m.GetLabel() {
				if label.GetName() == "status" {
					status = label.GetValue()
				}
			}
			counts[status] = m.GetCounter().GetValue()
		}
	}
	if counts["success"] != 1 || counts["error"] != 1 {
		t.Fatalf("unexpected result counts: %+v", counts)
	}

	// Double registration of the same collectors must be rejected.
	if _, err := core.NewPrometheusMetricsRecorder(registry); err == nil {
		t.Fatalf("second registration should fail")
	}
}
