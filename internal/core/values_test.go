package core_test

import (
	"context"
	"errors"
	"testing"

	"roundcore/internal/core"
	"roundcore/pkg/domain"
)

// valueFixture activates a two-round experiment and registers the parameters
// the value tests read and write.
func valueFixture(t *testing.T) (*core.Service, core.Experiment, []core.RoundData, []core.Participant) {
	t.Helper()
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, _ := buildExperiment(t, svc, 5, 2,
		roundSpec{sequence: 1},
		roundSpec{sequence: 2},
	)

	parameters := []core.Parameter{
		{Name: "score", ExperimentType: "testkind", Scope: domain.ScopeParticipant, Type: domain.TypeInt},
		{Name: "pot", ExperimentType: "testkind", Scope: domain.ScopeExperiment, Type: domain.TypeFloat, DefaultValue: domain.FloatScalar(50)},
		{Name: "phase", ExperimentType: "testkind", Scope: domain.ScopeRound, Type: domain.TypeString},
		{Name: "chat", ExperimentType: "testkind", Scope: domain.ScopeGroup, Type: domain.TypeString, MultiValued: true},
	}
	for _, p := range parameters {
		if _, _, err := svc.DefineParameter(ctx, p); err != nil {
			t.Fatalf("define %s: %v", p.Name, err)
		}
	}

	if _, _, err := svc.Activate(ctx, experiment.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, _, err := svc.AdvanceToNextRound(ctx, experiment.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	rounds := svc.ListRoundData(ctx, experiment.ID)
	if len(rounds) != 2 {
		t.Fatalf("expected 2 round data rows, got %d", len(rounds))
	}
	return svc, experiment, rounds, svc.ListParticipants(ctx, experiment.ID)
}

func TestGetValueFallbackNeverWritesRows(t *testing.T) {
	svc, _, rounds, participants := valueFixture(t)
	ctx := context.Background()
	ref := core.ValueRef{
		ExperimentType: "testkind",
		ParameterName:  "score",
		Scope:          domain.ScopeParticipant,
		EntityID:       participants[0].ID,
		RoundDataID:    rounds[0].ID,
	}

	fallback := domain.IntScalar(23)
	value, err := svc.GetValue(ctx, ref, &fallback)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value.Persisted() {
		t.Fatalf("missing slot should yield a non-persisted default")
	}
	if value.Int() != 23 {
		t.Fatalf("fallback should win, got %d", value.Int())
	}

	rows, err := svc.ListValues(ctx, ref)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("lookup must not create rows, found %d", len(rows))
	}

	// Without a fallback the parameter's declared default is used.
	pot, err := svc.GetValue(ctx, core.ValueRef{
		ExperimentType: "testkind",
		ParameterName:  "pot",
		Scope:          domain.ScopeExperiment,
		EntityID:       ref.EntityID,
	}, nil)
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}
	if pot.Persisted() || pot.Float() != 50 {
		t.Fatalf("expected declared default 50, got persisted=%v value=%g", pot.Persisted(), pot.Float())
	}
}

func TestSetValueRejectsUnregisteredParameter(t *testing.T) {
	svc, _, rounds, participants := valueFixture(t)
	ctx := context.Background()
	ref := core.ValueRef{
		ExperimentType: "testkind",
		ParameterName:  "no-such-parameter",
		Scope:          domain.ScopeParticipant,
		EntityID:       participants[0].ID,
		RoundDataID:    rounds[0].ID,
	}

	var notFound domain.ParameterNotFoundError
	if _, _, err := svc.SetValue(ctx, ref, domain.IntScalar(1)); !errors.As(err, &notFound) {
		t.Fatalf("expected ParameterNotFoundError, got %v", err)
	}

	ref.ParameterName = "score"
	rows, err := svc.ListValues(ctx, ref)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("failed set must leave the store unchanged, found %d rows", len(rows))
	}
}

func TestSetValueUpdatesSingleValuedInPlace(t *testing.T) {
	svc, _, rounds, participants := valueFixture(t)
	ctx := context.Background()
	ref := core.ValueRef{
		ExperimentType: "testkind",
		ParameterName:  "score",
		Scope:          domain.ScopeParticipant,
		EntityID:       participants[0].ID,
		RoundDataID:    rounds[0].ID,
	}

	first, _, err := svc.SetValue(ctx, ref, domain.IntScalar(10))
	if err != nil {
		t.Fatalf("first set: %v", err)
	}
	second, _, err := svc.SetValue(ctx, ref, domain.IntScalar(40))
	if err != nil {
		t.Fatalf("second set: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("single-valued write should update in place, got new row %s", second.ID)
	}

	rows, err := svc.ListValues(ctx, ref)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].Int() != 40 {
		t.Fatalf("expected one row holding 40, got %+v", rows)
	}
}

func TestSetValueAccumulatesMultiValued(t *testing.T) {
	svc, experiment, rounds, _ := valueFixture(t)
	ctx := context.Background()
	groups := svc.ListGroups(ctx, experiment.ID)
	if len(groups) == 0 {
		t.Fatalf("fixture should have allocated groups")
	}
	ref := core.ValueRef{
		ExperimentType: "testkind",
		ParameterName:  "chat",
		Scope:          domain.ScopeGroup,
		EntityID:       groups[0].ID,
		RoundDataID:    rounds[0].ID,
	}

	for _, line := range []string{"hello", "let's harvest 3", "agreed"} {
		if _, _, err := svc.SetValue(ctx, ref, domain.StringScalar(line)); err != nil {
			t.Fatalf("append %q: %v", line, err)
		}
	}
	rows, err := svc.ListValues(ctx, ref)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 chat rows, got %d", len(rows))
	}
	if rows[0].Str() != "hello" || rows[2].Str() != "agreed" {
		t.Fatalf("rows out of order: %+v", rows)
	}
}

func TestSetValueTypeMismatch(t *testing.T) {
	svc, _, rounds, participants := valueFixture(t)
	ctx := context.Background()
	ref := core.ValueRef{
		ExperimentType: "testkind",
		ParameterName:  "score",
		Scope:          domain.ScopeParticipant,
		EntityID:       participants[0].ID,
		RoundDataID:    rounds[0].ID,
	}

	var mismatch domain.TypeMismatchError
	if _, _, err := svc.SetValue(ctx, ref, domain.StringScalar("ten")); !errors.As(err, &mismatch) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}
	if mismatch.Want != domain.TypeInt {
		t.Fatalf("mismatch should name the declared type, got %s", mismatch.Want)
	}
}

func TestExperimentScopeValueSpansRounds(t *testing.T) {
	svc, experiment, _, _ := valueFixture(t)
	ctx := context.Background()

	// Experiment-scope writes are round-unbound; a read from any point in the
	// traversal sees the latest write.
	ref := core.ValueRef{
		ExperimentType: "testkind",
		ParameterName:  "pot",
		Scope:          domain.ScopeExperiment,
		EntityID:       experiment.ID,
	}
	if _, _, err := svc.SetValue(ctx, ref, domain.FloatScalar(75.5)); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := svc.GetValue(ctx, ref, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !value.Persisted() || value.Float() != 75.5 {
		t.Fatalf("expected persisted 75.5, got persisted=%v value=%g", value.Persisted(), value.Float())
	}
}

func TestCopyToNextRoundPreservesExistingTarget(t *testing.T) {
	svc, experiment, rounds, participants := valueFixture(t)
	ctx := context.Background()
	ref := core.ValueRef{
		ExperimentType: "testkind",
		ParameterName:  "score",
		Scope:          domain.ScopeParticipant,
		EntityID:       participants[0].ID,
		RoundDataID:    rounds[0].ID,
	}

	source, _, err := svc.SetValue(ctx, ref, domain.IntScalar(12))
	if err != nil {
		t.Fatalf("set source: %v", err)
	}

	copied, _, err := svc.CopyToNextRound(ctx, experiment.ID, source)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if copied.RoundDataID != rounds[1].ID || copied.Int() != 12 {
		t.Fatalf("unexpected copy target: %+v", copied)
	}

	// Overwrite the target, then copy again: the existing value must win.
	target := ref
	target.RoundDataID = rounds[1].ID
	if _, _, err := svc.SetValue(ctx, target, domain.IntScalar(99)); err != nil {
		t.Fatalf("set target: %v", err)
	}
	again, _, err := svc.CopyToNextRound(ctx, experiment.ID, source)
	if err != nil {
		t.Fatalf("second copy: %v", err)
	}
	if again.Int() != 99 {
		t.Fatalf("existing target value should win, got %d", again.Int())
	}

	// Copying from the final round has nothing to do.
	last, _, err := svc.CopyToNextRound(ctx, experiment.ID, again)
	if err != nil {
		t.Fatalf("copy from last round: %v", err)
	}
	if last.ID != again.ID {
		t.Fatalf("copy from the final round should return the source unchanged")
	}
}
