package core

import (
	"context"
	"fmt"

	"roundcore/pkg/domain"
)

// NewRoundBudgetRule returns the default in-transaction rule verifying round
// data rows stay within their configuration's repeat budget and reference a
// round belonging to the experiment's configuration.
func NewRoundBudgetRule() domain.Rule {
	return roundBudgetRule{}
}

type roundBudgetRule struct{}

func (roundBudgetRule) Name() string { return "round_budget" }

func (roundBudgetRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, experiment := range view.ListExperiments() {
		for _, rd := range view.ListRoundData(experiment.ID) {
			round, ok := view.FindRoundConfiguration(rd.RoundConfigurationID)
			if !ok {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "round_budget",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("round data %s references unknown round configuration %s", rd.ID, rd.RoundConfigurationID),
					Entity:   domain.EntityRoundData,
					EntityID: rd.ID,
				})
				continue
			}
			if round.ConfigurationID != experiment.ConfigurationID {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "round_budget",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("round data %s belongs to configuration %s, experiment uses %s", rd.ID, round.ConfigurationID, experiment.ConfigurationID),
					Entity:   domain.EntityRoundData,
					EntityID: rd.ID,
				})
			}
			if rd.RepeatingRoundSequenceNumber > round.Repeat {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "round_budget",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("round %d repeat %d exceeds budget %d", round.SequenceNumber, rd.RepeatingRoundSequenceNumber, round.Repeat),
					Entity:   domain.EntityRoundData,
					EntityID: rd.ID,
				})
			}
		}
	}
	return res, nil
}
