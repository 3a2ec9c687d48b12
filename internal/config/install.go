package config

import (
	"context"
	"fmt"

	"roundcore/internal/core"
	"roundcore/pkg/domain"
)

// Install persists a validated document through the service: the experiment
// configuration, its rounds, and its parameter definitions.
func Install(ctx context.Context, svc *core.Service, doc Document) (domain.ExperimentConfiguration, error) {
	if err := doc.Validate(); err != nil {
		return domain.ExperimentConfiguration{}, err
	}

	configuration, _, err := svc.CreateExperimentConfiguration(ctx, doc.Configuration())
	if err != nil {
		return domain.ExperimentConfiguration{}, fmt.Errorf("install %s: create configuration: %w", doc.Name, err)
	}
	for _, round := range doc.RoundConfigurations() {
		round.ConfigurationID = configuration.ID
		if _, _, err := svc.CreateRoundConfiguration(ctx, round); err != nil {
			return domain.ExperimentConfiguration{}, fmt.Errorf("install %s: round %d: %w", doc.Name, round.SequenceNumber, err)
		}
	}

	parameters, err := doc.DomainParameters()
	if err != nil {
		return domain.ExperimentConfiguration{}, err
	}
	for _, parameter := range parameters {
		if _, _, err := svc.DefineParameter(ctx, parameter); err != nil {
			return domain.ExperimentConfiguration{}, fmt.Errorf("install %s: parameter %s: %w", doc.Name, parameter.Name, err)
		}
	}
	return configuration, nil
}
