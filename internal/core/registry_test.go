package core_test

import (
	"context"
	"errors"
	"testing"

	"roundcore/internal/core"
	"roundcore/pkg/domain"
)

func TestDefineAndLookupParameter(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()

	defined, _, err := svc.DefineParameter(ctx, core.Parameter{
		Name:           "endowment",
		ExperimentType: "goods",
		Scope:          domain.ScopeParticipant,
		Type:           domain.TypeInt,
		DefaultValue:   domain.IntScalar(20),
		DisplayName:    "Initial endowment",
	})
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	if defined.ID == "" {
		t.Fatalf("definition should assign an id")
	}

	found, err := svc.LookupParameter(ctx, "goods", "endowment", domain.ScopeParticipant)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found.ID != defined.ID || found.DefaultValue.Int != 20 {
		t.Fatalf("lookup returned wrong parameter: %+v", found)
	}

	// Same name under a different scope is a distinct parameter.
	var notFound domain.ParameterNotFoundError
	if _, err := svc.LookupParameter(ctx, "goods", "endowment", domain.ScopeGroup); !errors.As(err, &notFound) {
		t.Fatalf("scope should be part of the identity tuple, got %v", err)
	}
	if notFound.Name != "endowment" || notFound.Scope != domain.ScopeGroup {
		t.Fatalf("error should carry the missing tuple: %+v", notFound)
	}
}

func TestDefineParameterRejectsDuplicateTuple(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()

	parameter := core.Parameter{
		Name:           "contribution",
		ExperimentType: "goods",
		Scope:          domain.ScopeParticipant,
		Type:           domain.TypeInt,
	}
	if _, _, err := svc.DefineParameter(ctx, parameter); err != nil {
		t.Fatalf("first define: %v", err)
	}
	if _, _, err := svc.DefineParameter(ctx, parameter); err == nil {
		t.Fatalf("second define with the same tuple should fail")
	}
}

func TestUpdateParameterMetadataInvalidatesCache(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()

	defined, _, err := svc.DefineParameter(ctx, core.Parameter{
		Name:           "tax_rate",
		ExperimentType: "goods",
		Scope:          domain.ScopeExperiment,
		Type:           domain.TypeFloat,
		DefaultValue:   domain.FloatScalar(0.2),
	})
	if err != nil {
		t.Fatalf("define: %v", err)
	}

	// Warm the cache, then update metadata and check the cache was dropped.
	if _, err := svc.LookupParameter(ctx, "goods", "tax_rate", domain.ScopeExperiment); err != nil {
		t.Fatalf("warm lookup: %v", err)
	}
	if _, _, err := svc.UpdateParameterMetadata(ctx, defined.ID, func(p *core.Parameter) error {
		p.DisplayName = "Tax rate"
		p.Description = "applied at payout"
		return nil
	}); err != nil {
		t.Fatalf("update metadata: %v", err)
	}

	found, err := svc.LookupParameter(ctx, "goods", "tax_rate", domain.ScopeExperiment)
	if err != nil {
		t.Fatalf("lookup after update: %v", err)
	}
	if found.DisplayName != "Tax rate" || found.Description != "applied at payout" {
		t.Fatalf("stale cached metadata: %+v", found)
	}

	// Identity and type fields stay immutable through the metadata path.
	if _, _, err := svc.UpdateParameterMetadata(ctx, defined.ID, func(p *core.Parameter) error {
		p.DefaultValue = domain.FloatScalar(0.9)
		return nil
	}); err != nil {
		t.Fatalf("update metadata: %v", err)
	}
	found, err = svc.LookupParameter(ctx, "goods", "tax_rate", domain.ScopeExperiment)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found.DefaultValue.Float != 0.2 {
		t.Fatalf("default should be immutable, got %g", found.DefaultValue.Float)
	}
}

func TestListParametersFiltersByExperimentType(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()

	for _, p := range []core.Parameter{
		{Name: "a", ExperimentType: "goods", Scope: domain.ScopeParticipant, Type: domain.TypeInt},
		{Name: "b", ExperimentType: "goods", Scope: domain.ScopeGroup, Type: domain.TypeString},
		{Name: "c", ExperimentType: "auction", Scope: domain.ScopeParticipant, Type: domain.TypeInt},
	} {
		if _, _, err := svc.DefineParameter(ctx, p); err != nil {
			t.Fatalf("define %s: %v", p.Name, err)
		}
	}

	goods, err := svc.ListParameters(ctx, "goods")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(goods) != 2 {
		t.Fatalf("expected 2 goods parameters, got %d", len(goods))
	}
	for _, p := range goods {
		if p.ExperimentType != "goods" {
			t.Fatalf("foreign parameter in listing: %+v", p)
		}
	}
}
