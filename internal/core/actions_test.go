package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"roundcore/internal/core"
	"roundcore/internal/infra/persistence/memory"
	"roundcore/pkg/domain"
)

type captureSink struct {
	keys     []string
	payloads [][]byte
}

func (c *captureSink) Put(_ context.Context, key string, payload []byte) error {
	c.keys = append(c.keys, key)
	c.payloads = append(c.payloads, payload)
	return nil
}

func TestInvokeUnknownAction(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, _ := buildExperiment(t, svc, 5, 0, roundSpec{sequence: 1})

	var invalid domain.InvalidActionError
	if _, err := svc.Invoke(ctx, experiment.ID, "detonate", "admin"); !errors.As(err, &invalid) {
		t.Fatalf("unknown action should fail with InvalidActionError, got %v", err)
	}
	if invalid.Action != "detonate" {
		t.Fatalf("error should name the action, got %q", invalid.Action)
	}
}

func TestInvokeActivateAndComplete(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, _ := buildExperiment(t, svc, 5, 0, roundSpec{sequence: 1})

	result, err := svc.Invoke(ctx, experiment.ID, core.ActionActivate, "admin")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !result.Changed || result.Actor != "admin" {
		t.Fatalf("unexpected result: %+v", result)
	}

	result, err = svc.Invoke(ctx, experiment.ID, core.ActionComplete, "admin")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !result.Changed {
		t.Fatalf("completing an active experiment should report a change")
	}

	// Completing twice is benign.
	result, err = svc.Invoke(ctx, experiment.ID, core.ActionComplete, "admin")
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if result.Changed {
		t.Fatalf("repeat completion should be a no-op")
	}

	updated, _ := svc.GetExperiment(ctx, experiment.ID)
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", updated.Status)
	}
}

func TestArchiveWritesExportAndFlipsStatus(t *testing.T) {
	sink := &captureSink{}
	svc := core.NewService(memory.NewStore(core.DefaultRulesEngine()), core.WithArchiveSink(sink))
	ctx := context.Background()
	experiment, _ := buildExperiment(t, svc, 5, 4, roundSpec{sequence: 1})

	// Archiving before any run is rejected.
	var invalid domain.InvalidActionError
	if _, err := svc.Invoke(ctx, experiment.ID, core.ActionArchive, "admin"); !errors.As(err, &invalid) {
		t.Fatalf("archiving an inactive experiment should fail, got %v", err)
	}

	if _, err := svc.Invoke(ctx, experiment.ID, core.ActionActivate, "admin"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := svc.Invoke(ctx, experiment.ID, core.ActionComplete, "admin"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.Invoke(ctx, experiment.ID, core.ActionArchive, "admin"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	updated, _ := svc.GetExperiment(ctx, experiment.ID)
	if updated.Status != domain.StatusArchived {
		t.Fatalf("expected ARCHIVED, got %s", updated.Status)
	}

	if len(sink.keys) != 1 {
		t.Fatalf("expected one export blob, got %d", len(sink.keys))
	}
	if !strings.HasPrefix(sink.keys[0], "experiments/"+experiment.ID+"/") {
		t.Fatalf("unexpected export key %q", sink.keys[0])
	}
	var export map[string]json.RawMessage
	if err := json.Unmarshal(sink.payloads[0], &export); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	for _, field := range []string{"experiment", "round_data", "participants", "groups"} {
		if _, ok := export[field]; !ok {
			t.Fatalf("export missing %q", field)
		}
	}

	// Archiving again is benign and must not write a second blob.
	result, err := svc.Invoke(ctx, experiment.ID, core.ActionArchive, "admin")
	if err != nil {
		t.Fatalf("repeat archive: %v", err)
	}
	if result.Changed || len(sink.keys) != 1 {
		t.Fatalf("repeat archive should be a no-op, keys=%v", sink.keys)
	}
}

func TestCloneCopiesConfigurationNotState(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, _ := buildExperiment(t, svc, 5, 3, roundSpec{sequence: 1})

	if _, err := svc.Invoke(ctx, experiment.ID, core.ActionActivate, "admin"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := svc.Invoke(ctx, experiment.ID, core.ActionClone, "admin"); err != nil {
		t.Fatalf("clone: %v", err)
	}

	experiments := svc.ListExperiments(ctx)
	if len(experiments) != 2 {
		t.Fatalf("expected 2 experiments after clone, got %d", len(experiments))
	}
	var clone core.Experiment
	for _, e := range experiments {
		if e.ID != experiment.ID {
			clone = e
		}
	}
	if clone.ConfigurationID != experiment.ConfigurationID {
		t.Fatalf("clone should share the configuration")
	}
	if clone.Status != domain.StatusInactive {
		t.Fatalf("clone must start INACTIVE, got %s", clone.Status)
	}
	if clone.Name != experiment.Name+" (clone)" {
		t.Fatalf("unexpected clone name %q", clone.Name)
	}
	if len(svc.ListParticipants(ctx, clone.ID)) != 0 {
		t.Fatalf("clone must not inherit participants")
	}
	if len(svc.ListRoundData(ctx, clone.ID)) != 0 {
		t.Fatalf("clone must not inherit round data")
	}
}

func TestClearParticipantsOnlyWhileInactive(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, _ := buildExperiment(t, svc, 5, 3, roundSpec{sequence: 1})

	result, err := svc.Invoke(ctx, experiment.ID, core.ActionClearParticipants, "admin")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !result.Changed {
		t.Fatalf("clearing enrolled participants should report a change")
	}
	if remaining := svc.ListParticipants(ctx, experiment.ID); len(remaining) != 0 {
		t.Fatalf("%d participants left after clear", len(remaining))
	}

	for i := 0; i < 2; i++ {
		if _, _, err := svc.AddParticipant(ctx, core.Participant{
			ExperimentID: experiment.ID,
			Identifier:   participantName(i),
		}); err != nil {
			t.Fatalf("re-enroll: %v", err)
		}
	}
	if _, err := svc.Invoke(ctx, experiment.ID, core.ActionActivate, "admin"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	var invalid domain.InvalidActionError
	if _, err := svc.Invoke(ctx, experiment.ID, core.ActionClearParticipants, "admin"); !errors.As(err, &invalid) {
		t.Fatalf("clearing an active experiment should fail, got %v", err)
	}
	if len(svc.ListParticipants(ctx, experiment.ID)) != 2 {
		t.Fatalf("failed clear must leave participants in place")
	}
}
