// Package forestry implements the forestry experiment type: groups share a
// forest whose resource level is harvested each round and regrows between
// rounds. It demonstrates the plugin surface an experiment variant uses to
// contribute parameters, a commit-time rule, and lifecycle handlers.
package forestry

import (
	"context"

	"roundcore/internal/core"
	"roundcore/pkg/domain"
)

const (
	// ExperimentType is the registry namespace for forestry parameters.
	ExperimentType = "forestry"

	// ParamResourceLevel is the per-group standing forest size.
	ParamResourceLevel = "resource_level"
	// ParamHarvestDecision is a participant's per-round harvest.
	ParamHarvestDecision = "harvest_decision"
	// ParamRegrowthRate is the experiment-wide regrowth multiplier.
	ParamRegrowthRate = "regrowth_rate"
	// ParamChatMessage is the append-only per-group chat transcript.
	ParamChatMessage = "chat_message"

	initialResourceLevel = 100
)

// Plugin wires forestry behavior into a core service.
type Plugin struct {
	svc *core.Service
}

// New constructs a forestry plugin bound to the service it will be installed
// on; the lifecycle handlers read and write values through it.
func New(svc *core.Service) *Plugin {
	return &Plugin{svc: svc}
}

// Name returns the plugin identifier, doubling as the experiment type.
func (*Plugin) Name() string { return ExperimentType }

// Version returns the plugin semantic version.
func (*Plugin) Version() string { return "0.1.0" }

// Register contributes the forestry parameters, the negative-value guard
// rule, and the regrowth carry-forward handler.
func (p *Plugin) Register(registry *core.PluginRegistry) error {
	registry.RegisterParameter(core.Parameter{
		Name:         ParamResourceLevel,
		Scope:        domain.ScopeGroup,
		Type:         domain.TypeInt,
		DefaultValue: domain.IntScalar(initialResourceLevel),
		DisplayName:  "Resource level",
		Description:  "Trees standing in the group's shared forest",
	})
	registry.RegisterParameter(core.Parameter{
		Name:         ParamHarvestDecision,
		Scope:        domain.ScopeParticipant,
		Type:         domain.TypeInt,
		DefaultValue: domain.IntScalar(0),
		DisplayName:  "Harvest decision",
	})
	registry.RegisterParameter(core.Parameter{
		Name:         ParamRegrowthRate,
		Scope:        domain.ScopeExperiment,
		Type:         domain.TypeFloat,
		DefaultValue: domain.FloatScalar(0.1),
		DisplayName:  "Regrowth rate",
		Description:  "Fraction of the standing forest regrown between rounds",
	})
	registry.RegisterParameter(core.Parameter{
		Name:        ParamChatMessage,
		Scope:       domain.ScopeGroup,
		Type:        domain.TypeString,
		MultiValued: true,
		DisplayName: "Chat message",
	})

	registry.RegisterRule(negativeValueRule{})
	registry.RegisterHandler(domain.EventRoundStarted, "forestry_regrowth", p.carryResourcesForward)
	return nil
}

// carryResourcesForward runs when a round starts: each group's resource level
// from the previous round is regrown and written into the new round, so
// per-round logic always finds the current standing forest.
func (p *Plugin) carryResourcesForward(ctx context.Context, event core.LifecycleEvent) error {
	rounds := p.svc.ListRoundData(ctx, event.ExperimentID)
	previous := ""
	for i, rd := range rounds {
		if rd.ID == event.RoundDataID && i > 0 {
			previous = rounds[i-1].ID
			break
		}
	}
	if previous == "" {
		return nil
	}

	rate, err := p.svc.GetValue(ctx, core.ValueRef{
		ExperimentType: ExperimentType,
		ParameterName:  ParamRegrowthRate,
		Scope:          domain.ScopeExperiment,
		EntityID:       event.ExperimentID,
	}, nil)
	if err != nil {
		return err
	}

	for _, group := range p.svc.ListGroups(ctx, event.ExperimentID) {
		if !group.Active {
			continue
		}
		level, err := p.svc.GetValue(ctx, core.ValueRef{
			ExperimentType: ExperimentType,
			ParameterName:  ParamResourceLevel,
			Scope:          domain.ScopeGroup,
			EntityID:       group.ID,
			RoundDataID:    previous,
		}, nil)
		if err != nil {
			return err
		}
		regrown := level.Int() + int64(float64(level.Int())*rate.Float())
		_, _, err = p.svc.SetValue(ctx, core.ValueRef{
			ExperimentType: ExperimentType,
			ParameterName:  ParamResourceLevel,
			Scope:          domain.ScopeGroup,
			EntityID:       group.ID,
			RoundDataID:    event.RoundDataID,
		}, domain.IntScalar(regrown))
		if err != nil {
			return err
		}
	}
	return nil
}

// negativeValueRule flags integer values written below zero; harvests and
// resource levels never go negative in a well-behaved round.
type negativeValueRule struct{}

func (negativeValueRule) Name() string { return "forestry_negative_value" }

func (negativeValueRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityDataValue {
			continue
		}
		value, ok := change.After.(domain.DataValue)
		if !ok {
			continue
		}
		if value.Scalar.Kind == domain.TypeInt && value.Scalar.Int < 0 {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "forestry_negative_value",
				Severity: domain.SeverityWarn,
				Message:  "integer value written below zero",
				Entity:   domain.EntityDataValue,
				EntityID: value.ID,
			})
		}
	}
	return result, nil
}
