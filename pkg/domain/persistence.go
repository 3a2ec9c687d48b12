package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Either every mutation performed through
// a transaction is visible after commit, or none is.
type Transaction interface {
	Snapshot() TransactionView

	CreateParameter(Parameter) (Parameter, error)
	UpdateParameter(id string, mutator func(*Parameter) error) (Parameter, error)

	CreateExperimentConfiguration(ExperimentConfiguration) (ExperimentConfiguration, error)
	CreateRoundConfiguration(RoundConfiguration) (RoundConfiguration, error)

	CreateExperiment(Experiment) (Experiment, error)
	UpdateExperiment(id string, mutator func(*Experiment) error) (Experiment, error)

	// CreateRoundData enforces the uniqueness of
	// (experiment, round configuration, repeating round sequence number);
	// the loser of a duplicate race receives RoundDataExistsError.
	CreateRoundData(RoundData) (RoundData, error)
	UpdateRoundData(id string, mutator func(*RoundData) error) (RoundData, error)

	CreateParticipant(Participant) (Participant, error)
	DeleteParticipant(id string) error

	CreateGroup(Group) (Group, error)
	UpdateGroup(id string, mutator func(*Group) error) (Group, error)
	DeleteGroup(id string) error

	CreateGroupMembership(GroupMembership) (GroupMembership, error)
	UpdateGroupMembership(id string, mutator func(*GroupMembership) error) (GroupMembership, error)
	DeleteGroupMembership(id string) error

	CreateDataValue(DataValue) (DataValue, error)
	UpdateDataValue(id string, mutator func(*DataValue) error) (DataValue, error)

	FindParameter(experimentType, name string, scope ParameterScope) (Parameter, bool)
	FindExperiment(id string) (Experiment, bool)
	FindExperimentConfiguration(id string) (ExperimentConfiguration, bool)
	FindRoundConfiguration(id string) (RoundConfiguration, bool)
	FindRoundData(experimentID, roundConfigurationID string, repeat int) (RoundData, bool)
	FindDataValue(scope ParameterScope, entityID, parameterID, roundDataID string) (DataValue, bool)
	ListRoundConfigurations(configurationID string) []RoundConfiguration
	ListParticipants(experimentID string) []Participant
	ListGroups(experimentID string) []Group
	ListGroupMemberships(groupID string) []GroupMembership
	ListDataValues(scope ParameterScope, entityID, parameterID, roundDataID string) []DataValue
}

// TransactionView provides read-only access to snapshot data for rules and
// projections.
type TransactionView interface {
	RuleView
	ListParameters(experimentType string) []Parameter
	ListRoundDataForExperiment(experimentID string) []RoundData
	FindParameter(experimentType, name string, scope ParameterScope) (Parameter, bool)
	FindRoundData(experimentID, roundConfigurationID string, repeat int) (RoundData, bool)
	FindDataValue(scope ParameterScope, entityID, parameterID, roundDataID string) (DataValue, bool)
	ListDataValues(scope ParameterScope, entityID, parameterID, roundDataID string) []DataValue
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetExperiment(id string) (Experiment, bool)
	ListExperiments() []Experiment
	GetRoundConfiguration(id string) (RoundConfiguration, bool)
	ListRoundConfigurations(configurationID string) []RoundConfiguration
	ListParticipants(experimentID string) []Participant
	ListGroups(experimentID string) []Group
	ListGroupMemberships(groupID string) []GroupMembership
	ListRoundData(experimentID string) []RoundData
}
