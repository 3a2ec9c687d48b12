package memory

import (
	"sort"

	"roundcore/pkg/domain"
)

var _ domain.TransactionView = transactionView{}

// ListExperiments returns all experiments within the snapshot.
func (v transactionView) ListExperiments() []Experiment {
	out := make([]Experiment, 0, len(v.state.experiments))
	for _, e := range v.state.experiments {
		out = append(out, cloneExperiment(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListRoundConfigurations returns a configuration's rounds ordered by sequence number.
func (v transactionView) ListRoundConfigurations(configurationID string) []RoundConfiguration {
	return listRoundConfigurations(v.state, configurationID)
}

// ListRoundData returns an experiment's round executions in traversal order.
func (v transactionView) ListRoundData(experimentID string) []RoundData {
	return listRoundData(v.state, experimentID)
}

// ListRoundDataForExperiment aliases ListRoundData for the projection interface.
func (v transactionView) ListRoundDataForExperiment(experimentID string) []RoundData {
	return listRoundData(v.state, experimentID)
}

// ListParticipants returns participants in join order.
func (v transactionView) ListParticipants(experimentID string) []Participant {
	return listParticipants(v.state, experimentID)
}

// ListGroups returns an experiment's groups ordered by number.
func (v transactionView) ListGroups(experimentID string) []Group {
	return listGroups(v.state, experimentID)
}

// ListGroupMemberships returns a group's memberships ordered by participant number.
func (v transactionView) ListGroupMemberships(groupID string) []GroupMembership {
	return listGroupMemberships(v.state, groupID)
}

// ListParameters returns all parameters registered for an experiment type.
func (v transactionView) ListParameters(experimentType string) []Parameter {
	var out []Parameter
	for _, p := range v.state.parameters {
		if p.ExperimentType == experimentType {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FindExperiment retrieves an experiment by ID from the snapshot.
func (v transactionView) FindExperiment(id string) (Experiment, bool) {
	e, ok := v.state.experiments[id]
	if !ok {
		return Experiment{}, false
	}
	return cloneExperiment(e), true
}

// FindExperimentConfiguration retrieves a configuration by ID.
func (v transactionView) FindExperimentConfiguration(id string) (ExperimentConfiguration, bool) {
	c, ok := v.state.configurations[id]
	return c, ok
}

// FindRoundConfiguration retrieves a round configuration by ID.
func (v transactionView) FindRoundConfiguration(id string) (RoundConfiguration, bool) {
	rc, ok := v.state.rounds[id]
	return rc, ok
}

// FindGroup retrieves a group by ID.
func (v transactionView) FindGroup(id string) (Group, bool) {
	g, ok := v.state.groups[id]
	return g, ok
}

// FindParameter retrieves a parameter by its uniqueness tuple.
func (v transactionView) FindParameter(experimentType, name string, scope domain.ParameterScope) (Parameter, bool) {
	return findParameter(v.state, experimentType, name, scope)
}

// FindRoundData retrieves one round execution by its uniqueness tuple.
func (v transactionView) FindRoundData(experimentID, roundConfigurationID string, repeat int) (RoundData, bool) {
	return findRoundData(v.state, experimentID, roundConfigurationID, repeat)
}

// FindDataValue retrieves the latest value row for the key tuple.
func (v transactionView) FindDataValue(scope domain.ParameterScope, entityID, parameterID, roundDataID string) (DataValue, bool) {
	return findDataValue(v.state, scope, entityID, parameterID, roundDataID)
}

// ListDataValues retrieves all value rows for the key tuple ordered by
// modification time.
func (v transactionView) ListDataValues(scope domain.ParameterScope, entityID, parameterID, roundDataID string) []DataValue {
	return listDataValues(v.state, scope, entityID, parameterID, roundDataID)
}
