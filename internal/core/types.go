package core

import "roundcore/pkg/domain"

type (
	// Parameter aliases domain.Parameter for service-level operations.
	Parameter = domain.Parameter
	// ExperimentConfiguration aliases domain.ExperimentConfiguration.
	ExperimentConfiguration = domain.ExperimentConfiguration
	// RoundConfiguration aliases domain.RoundConfiguration.
	RoundConfiguration = domain.RoundConfiguration
	// Experiment aliases domain.Experiment.
	Experiment = domain.Experiment
	// RoundData aliases domain.RoundData.
	RoundData = domain.RoundData
	// Participant aliases domain.Participant.
	Participant = domain.Participant
	// Group aliases domain.Group.
	Group = domain.Group
	// GroupMembership aliases domain.GroupMembership.
	GroupMembership = domain.GroupMembership
	// DataValue aliases domain.DataValue.
	DataValue = domain.DataValue
	// Scalar aliases domain.Scalar.
	Scalar = domain.Scalar
	// Value aliases the common read interface over persisted and default values.
	Value = domain.Value
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore.
	PersistentStore = domain.PersistentStore
	// LifecycleEvent aliases domain.LifecycleEvent.
	LifecycleEvent = domain.LifecycleEvent
	// ErrNotFound aliases the shared missing-entity error.
	ErrNotFound = domain.ErrNotFound
)
