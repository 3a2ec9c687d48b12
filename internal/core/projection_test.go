package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"roundcore/internal/core"
	"roundcore/pkg/domain"
)

func TestToDictProjectsExperimentState(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, _ := buildExperiment(t, svc, 3, 5, roundSpec{sequence: 1})

	if _, _, err := svc.Activate(ctx, experiment.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	dict, err := svc.ToDict(ctx, experiment.ID)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if dict["id"] != experiment.ID || dict["status"] != string(domain.StatusActive) {
		t.Fatalf("unexpected head: %+v", dict)
	}
	if dict["participant_count"] != 5 {
		t.Fatalf("expected 5 participants, got %v", dict["participant_count"])
	}
	groups, ok := dict["groups"].([]map[string]any)
	if !ok || len(groups) != 2 {
		t.Fatalf("expected 2 projected groups, got %v", dict["groups"])
	}
	if groups[0]["number"] != 1 || groups[0]["max_size"] != 3 {
		t.Fatalf("group projection mangled: %+v", groups[0])
	}
	rounds, ok := dict["round_data"].([]map[string]any)
	if !ok || len(rounds) != 1 {
		t.Fatalf("expected 1 projected round, got %v", dict["round_data"])
	}
	if rounds[0]["sequence_number"] != 1 || rounds[0]["round_type"] != "regular" {
		t.Fatalf("round projection missing configuration fields: %+v", rounds[0])
	}
}

func TestToDictAttributeFilter(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, _ := buildExperiment(t, svc, 3, 0, roundSpec{sequence: 1})

	dict, err := svc.ToDict(ctx, experiment.ID, "name", "status", "no_such_key")
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(dict) != 2 {
		t.Fatalf("filter should keep only known requested keys, got %+v", dict)
	}
	if dict["name"] != "test experiment" || dict["status"] != string(domain.StatusInactive) {
		t.Fatalf("unexpected filtered projection: %+v", dict)
	}
}

func TestToJSONAndMissingExperiment(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, _ := buildExperiment(t, svc, 3, 0, roundSpec{sequence: 1})

	raw, err := svc.ToJSON(ctx, experiment.ID, "id", "experiment_type")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["experiment_type"] != "testkind" {
		t.Fatalf("unexpected JSON projection: %+v", decoded)
	}

	var notFound core.ErrNotFound
	if _, err := svc.ToDict(ctx, "missing"); !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
