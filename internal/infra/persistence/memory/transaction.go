package memory

import (
	"fmt"
	"time"

	"roundcore/pkg/domain"
)

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

var _ domain.Transaction = (*transaction)(nil)

// transactionView exposes a read-only snapshot of the transactional state to
// rules and projections.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateParameter stores a new parameter definition, enforcing the
// (name, experiment type, scope) uniqueness constraint.
func (tx *transaction) CreateParameter(p Parameter) (Parameter, error) {
	if !p.Scope.Valid() {
		return Parameter{}, fmt.Errorf("parameter %q has invalid scope %q", p.Name, p.Scope)
	}
	if !p.Type.Valid() {
		return Parameter{}, fmt.Errorf("parameter %q has invalid type %q", p.Name, p.Type)
	}
	if !p.DefaultValue.IsZero() && !p.DefaultValue.Matches(p.Type) {
		return Parameter{}, domain.TypeMismatchError{Parameter: p.Name, Want: p.Type, Got: string(p.DefaultValue.Kind)}
	}
	if existing, ok := findParameter(&tx.state, p.ExperimentType, p.Name, p.Scope); ok {
		return Parameter{}, fmt.Errorf("parameter %q (scope %s) already defined as %s", p.Name, p.Scope, existing.ID)
	}
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.parameters[p.ID]; exists {
		return Parameter{}, fmt.Errorf("parameter %q already exists", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.parameters[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityParameter, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdateParameter mutates display metadata only; name, scope, type and
// default are immutable after creation.
func (tx *transaction) UpdateParameter(id string, mutator func(*Parameter) error) (Parameter, error) {
	current, ok := tx.state.parameters[id]
	if !ok {
		return Parameter{}, domain.ErrNotFound{Entity: domain.EntityParameter, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Parameter{}, err
	}
	current.ID = before.ID
	current.Name = before.Name
	current.ExperimentType = before.ExperimentType
	current.Scope = before.Scope
	current.Type = before.Type
	current.DefaultValue = before.DefaultValue
	current.MultiValued = before.MultiValued
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.parameters[id] = current
	tx.recordChange(Change{Entity: domain.EntityParameter, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateExperimentConfiguration stores an authored configuration.
func (tx *transaction) CreateExperimentConfiguration(c ExperimentConfiguration) (ExperimentConfiguration, error) {
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.configurations[c.ID]; exists {
		return ExperimentConfiguration{}, fmt.Errorf("experiment configuration %q already exists", c.ID)
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.configurations[c.ID] = c
	tx.recordChange(Change{Entity: domain.EntityExperimentConfiguration, Action: domain.ActionCreate, After: c})
	return c, nil
}

// CreateRoundConfiguration stores one round template, enforcing sequence
// number uniqueness within the owning configuration.
func (tx *transaction) CreateRoundConfiguration(rc RoundConfiguration) (RoundConfiguration, error) {
	if _, ok := tx.state.configurations[rc.ConfigurationID]; !ok {
		return RoundConfiguration{}, domain.ErrNotFound{Entity: domain.EntityExperimentConfiguration, ID: rc.ConfigurationID}
	}
	if rc.Repeat < 0 {
		return RoundConfiguration{}, fmt.Errorf("round configuration repeat must be non-negative, got %d", rc.Repeat)
	}
	for _, existing := range tx.state.rounds {
		if existing.ConfigurationID == rc.ConfigurationID && existing.SequenceNumber == rc.SequenceNumber {
			return RoundConfiguration{}, fmt.Errorf("sequence number %d already used in configuration %q", rc.SequenceNumber, rc.ConfigurationID)
		}
	}
	if rc.ID == "" {
		rc.ID = tx.store.newID()
	}
	if _, exists := tx.state.rounds[rc.ID]; exists {
		return RoundConfiguration{}, fmt.Errorf("round configuration %q already exists", rc.ID)
	}
	rc.CreatedAt = tx.now
	rc.UpdatedAt = tx.now
	tx.state.rounds[rc.ID] = rc
	tx.recordChange(Change{Entity: domain.EntityRoundConfiguration, Action: domain.ActionCreate, After: rc})
	return rc, nil
}

// CreateExperiment stores a new experiment instance in INACTIVE state.
func (tx *transaction) CreateExperiment(e Experiment) (Experiment, error) {
	if _, ok := tx.state.configurations[e.ConfigurationID]; !ok {
		return Experiment{}, domain.ErrNotFound{Entity: domain.EntityExperimentConfiguration, ID: e.ConfigurationID}
	}
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.experiments[e.ID]; exists {
		return Experiment{}, fmt.Errorf("experiment %q already exists", e.ID)
	}
	if e.Status == "" {
		e.Status = domain.StatusInactive
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.experiments[e.ID] = cloneExperiment(e)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionCreate, After: cloneExperiment(e)})
	return cloneExperiment(e), nil
}

// UpdateExperiment mutates an experiment using the provided mutator function.
func (tx *transaction) UpdateExperiment(id string, mutator func(*Experiment) error) (Experiment, error) {
	current, ok := tx.state.experiments[id]
	if !ok {
		return Experiment{}, domain.ErrNotFound{Entity: domain.EntityExperiment, ID: id}
	}
	before := cloneExperiment(current)
	if err := mutator(&current); err != nil {
		return Experiment{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.experiments[id] = cloneExperiment(current)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionUpdate, Before: before, After: cloneExperiment(current)})
	return cloneExperiment(current), nil
}

// CreateRoundData stores one round execution. The uniqueness constraint on
// (experiment, round configuration, repeat) is the duplicate-trigger guard:
// the loser of a concurrent race gets RoundDataExistsError and no-ops.
func (tx *transaction) CreateRoundData(rd RoundData) (RoundData, error) {
	if _, ok := tx.state.experiments[rd.ExperimentID]; !ok {
		return RoundData{}, domain.ErrNotFound{Entity: domain.EntityExperiment, ID: rd.ExperimentID}
	}
	if _, ok := tx.state.rounds[rd.RoundConfigurationID]; !ok {
		return RoundData{}, domain.ErrNotFound{Entity: domain.EntityRoundConfiguration, ID: rd.RoundConfigurationID}
	}
	if _, exists := findRoundData(&tx.state, rd.ExperimentID, rd.RoundConfigurationID, rd.RepeatingRoundSequenceNumber); exists {
		return RoundData{}, domain.RoundDataExistsError{
			ExperimentID:         rd.ExperimentID,
			RoundConfigurationID: rd.RoundConfigurationID,
			Repeat:               rd.RepeatingRoundSequenceNumber,
		}
	}
	if rd.ID == "" {
		rd.ID = tx.store.newID()
	}
	if _, exists := tx.state.roundData[rd.ID]; exists {
		return RoundData{}, fmt.Errorf("round data %q already exists", rd.ID)
	}
	rd.CreatedAt = tx.now
	rd.UpdatedAt = tx.now
	tx.state.roundData[rd.ID] = rd
	tx.recordChange(Change{Entity: domain.EntityRoundData, Action: domain.ActionCreate, After: rd})
	return rd, nil
}

// UpdateRoundData mutates a round execution's bookkeeping fields.
func (tx *transaction) UpdateRoundData(id string, mutator func(*RoundData) error) (RoundData, error) {
	current, ok := tx.state.roundData[id]
	if !ok {
		return RoundData{}, domain.ErrNotFound{Entity: domain.EntityRoundData, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return RoundData{}, err
	}
	current.ID = id
	current.ExperimentID = before.ExperimentID
	current.RoundConfigurationID = before.RoundConfigurationID
	current.RepeatingRoundSequenceNumber = before.RepeatingRoundSequenceNumber
	current.UpdatedAt = tx.now
	tx.state.roundData[id] = current
	tx.recordChange(Change{Entity: domain.EntityRoundData, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateParticipant enrolls a participant; join order defaults to the next
// position in the experiment's natural creation order.
func (tx *transaction) CreateParticipant(p Participant) (Participant, error) {
	if _, ok := tx.state.experiments[p.ExperimentID]; !ok {
		return Participant{}, domain.ErrNotFound{Entity: domain.EntityExperiment, ID: p.ExperimentID}
	}
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.participants[p.ID]; exists {
		return Participant{}, fmt.Errorf("participant %q already exists", p.ID)
	}
	if p.JoinOrder == 0 {
		max := 0
		for _, existing := range tx.state.participants {
			if existing.ExperimentID == p.ExperimentID && existing.JoinOrder > max {
				max = existing.JoinOrder
			}
		}
		p.JoinOrder = max + 1
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.participants[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityParticipant, Action: domain.ActionCreate, After: p})
	return p, nil
}

// DeleteParticipant removes a participant and its memberships.
func (tx *transaction) DeleteParticipant(id string) error {
	current, ok := tx.state.participants[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityParticipant, ID: id}
	}
	for mid, m := range tx.state.memberships {
		if m.ParticipantID == id {
			delete(tx.state.memberships, mid)
			tx.recordChange(Change{Entity: domain.EntityGroupMembership, Action: domain.ActionDelete, Before: m})
		}
	}
	delete(tx.state.participants, id)
	tx.recordChange(Change{Entity: domain.EntityParticipant, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateGroup stores a group produced by the allocator.
func (tx *transaction) CreateGroup(g Group) (Group, error) {
	if _, ok := tx.state.experiments[g.ExperimentID]; !ok {
		return Group{}, domain.ErrNotFound{Entity: domain.EntityExperiment, ID: g.ExperimentID}
	}
	if g.MaxSize <= 0 {
		return Group{}, domain.AllocationConstraintError{ExperimentID: g.ExperimentID, Reason: fmt.Sprintf("group max size must be positive, got %d", g.MaxSize)}
	}
	if g.ID == "" {
		g.ID = tx.store.newID()
	}
	if _, exists := tx.state.groups[g.ID]; exists {
		return Group{}, fmt.Errorf("group %q already exists", g.ID)
	}
	g.CreatedAt = tx.now
	g.UpdatedAt = tx.now
	tx.state.groups[g.ID] = g
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionCreate, After: g})
	return g, nil
}

// UpdateGroup mutates a group's flags. MaxSize is immutable after creation.
func (tx *transaction) UpdateGroup(id string, mutator func(*Group) error) (Group, error) {
	current, ok := tx.state.groups[id]
	if !ok {
		return Group{}, domain.ErrNotFound{Entity: domain.EntityGroup, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Group{}, err
	}
	current.ID = id
	current.ExperimentID = before.ExperimentID
	current.MaxSize = before.MaxSize
	current.UpdatedAt = tx.now
	tx.state.groups[id] = current
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteGroup removes a group and its memberships.
func (tx *transaction) DeleteGroup(id string) error {
	current, ok := tx.state.groups[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityGroup, ID: id}
	}
	for mid, m := range tx.state.memberships {
		if m.GroupID == id {
			delete(tx.state.memberships, mid)
			tx.recordChange(Change{Entity: domain.EntityGroupMembership, Action: domain.ActionDelete, Before: m})
		}
	}
	delete(tx.state.groups, id)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateGroupMembership links a participant into a group, enforcing
// participant-number uniqueness and the group's capacity.
func (tx *transaction) CreateGroupMembership(m GroupMembership) (GroupMembership, error) {
	group, ok := tx.state.groups[m.GroupID]
	if !ok {
		return GroupMembership{}, domain.ErrNotFound{Entity: domain.EntityGroup, ID: m.GroupID}
	}
	if _, ok := tx.state.participants[m.ParticipantID]; !ok {
		return GroupMembership{}, domain.ErrNotFound{Entity: domain.EntityParticipant, ID: m.ParticipantID}
	}
	if m.ParticipantNumber < 1 || m.ParticipantNumber > group.MaxSize {
		return GroupMembership{}, domain.AllocationConstraintError{
			ExperimentID: group.ExperimentID,
			Reason:       fmt.Sprintf("participant number %d outside 1..%d", m.ParticipantNumber, group.MaxSize),
		}
	}
	active := 0
	for _, existing := range tx.state.memberships {
		if existing.GroupID != m.GroupID {
			continue
		}
		if existing.Active {
			active++
		}
		if existing.ParticipantNumber == m.ParticipantNumber && existing.Active && m.Active {
			return GroupMembership{}, domain.AllocationConstraintError{
				ExperimentID: group.ExperimentID,
				Reason:       fmt.Sprintf("participant number %d already taken in group %d", m.ParticipantNumber, group.Number),
			}
		}
	}
	if m.Active && active >= group.MaxSize {
		return GroupMembership{}, domain.AllocationConstraintError{
			ExperimentID: group.ExperimentID,
			Reason:       fmt.Sprintf("group %d already at capacity %d", group.Number, group.MaxSize),
		}
	}
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.state.memberships[m.ID]; exists {
		return GroupMembership{}, fmt.Errorf("group membership %q already exists", m.ID)
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.memberships[m.ID] = m
	tx.recordChange(Change{Entity: domain.EntityGroupMembership, Action: domain.ActionCreate, After: m})
	return m, nil
}

// UpdateGroupMembership mutates a membership's flags.
func (tx *transaction) UpdateGroupMembership(id string, mutator func(*GroupMembership) error) (GroupMembership, error) {
	current, ok := tx.state.memberships[id]
	if !ok {
		return GroupMembership{}, domain.ErrNotFound{Entity: domain.EntityGroupMembership, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return GroupMembership{}, err
	}
	current.ID = id
	current.GroupID = before.GroupID
	current.ParticipantID = before.ParticipantID
	current.UpdatedAt = tx.now
	tx.state.memberships[id] = current
	tx.recordChange(Change{Entity: domain.EntityGroupMembership, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteGroupMembership removes one membership row.
func (tx *transaction) DeleteGroupMembership(id string) error {
	current, ok := tx.state.memberships[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityGroupMembership, ID: id}
	}
	delete(tx.state.memberships, id)
	tx.recordChange(Change{Entity: domain.EntityGroupMembership, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateDataValue stores a data value row in the bucket selected by scope.
// Single-valued uniqueness is the caller's concern (the scoped value store
// performs a find-then-create-or-update inside the same transaction).
func (tx *transaction) CreateDataValue(v DataValue) (DataValue, error) {
	if !v.Scope.Valid() {
		return DataValue{}, fmt.Errorf("data value has invalid scope %q", v.Scope)
	}
	param, ok := tx.state.parameters[v.ParameterID]
	if !ok {
		return DataValue{}, domain.ErrNotFound{Entity: domain.EntityParameter, ID: v.ParameterID}
	}
	if !v.Scalar.Matches(param.Type) {
		return DataValue{}, domain.TypeMismatchError{Parameter: param.Name, Want: param.Type, Got: string(v.Scalar.Kind)}
	}
	if v.RoundDataID != "" {
		if _, ok := tx.state.roundData[v.RoundDataID]; !ok {
			return DataValue{}, domain.ErrNotFound{Entity: domain.EntityRoundData, ID: v.RoundDataID}
		}
	}
	if v.ID == "" {
		v.ID = tx.store.newID()
	}
	if _, exists := tx.state.values[v.Scope][v.ID]; exists {
		return DataValue{}, fmt.Errorf("data value %q already exists", v.ID)
	}
	v.CreatedAt = tx.now
	v.UpdatedAt = tx.now
	if v.LastModified.IsZero() {
		v.LastModified = tx.now
	}
	tx.state.values[v.Scope][v.ID] = v
	tx.recordChange(Change{Entity: domain.EntityDataValue, Action: domain.ActionCreate, After: v})
	return v, nil
}

// UpdateDataValue mutates a value row's scalar and touches LastModified.
func (tx *transaction) UpdateDataValue(id string, mutator func(*DataValue) error) (DataValue, error) {
	for scope, bucket := range tx.state.values {
		current, ok := bucket[id]
		if !ok {
			continue
		}
		before := current
		if err := mutator(&current); err != nil {
			return DataValue{}, err
		}
		current.ID = id
		current.Scope = before.Scope
		current.EntityID = before.EntityID
		current.ParameterID = before.ParameterID
		current.RoundDataID = before.RoundDataID
		if param, ok := tx.state.parameters[current.ParameterID]; ok && !current.Scalar.Matches(param.Type) {
			return DataValue{}, domain.TypeMismatchError{Parameter: param.Name, Want: param.Type, Got: string(current.Scalar.Kind)}
		}
		current.UpdatedAt = tx.now
		current.LastModified = tx.now
		tx.state.values[scope][id] = current
		tx.recordChange(Change{Entity: domain.EntityDataValue, Action: domain.ActionUpdate, Before: before, After: current})
		return current, nil
	}
	return DataValue{}, domain.ErrNotFound{Entity: domain.EntityDataValue, ID: id}
}

// Finders --------------------------------------------------------------------

func (tx *transaction) FindParameter(experimentType, name string, scope domain.ParameterScope) (Parameter, bool) {
	return findParameter(&tx.state, experimentType, name, scope)
}

func (tx *transaction) FindExperiment(id string) (Experiment, bool) {
	e, ok := tx.state.experiments[id]
	if !ok {
		return Experiment{}, false
	}
	return cloneExperiment(e), true
}

func (tx *transaction) FindExperimentConfiguration(id string) (ExperimentConfiguration, bool) {
	c, ok := tx.state.configurations[id]
	return c, ok
}

func (tx *transaction) FindRoundConfiguration(id string) (RoundConfiguration, bool) {
	rc, ok := tx.state.rounds[id]
	return rc, ok
}

func (tx *transaction) FindRoundData(experimentID, roundConfigurationID string, repeat int) (RoundData, bool) {
	return findRoundData(&tx.state, experimentID, roundConfigurationID, repeat)
}

func (tx *transaction) FindDataValue(scope domain.ParameterScope, entityID, parameterID, roundDataID string) (DataValue, bool) {
	return findDataValue(&tx.state, scope, entityID, parameterID, roundDataID)
}

func (tx *transaction) ListRoundConfigurations(configurationID string) []RoundConfiguration {
	return listRoundConfigurations(&tx.state, configurationID)
}

func (tx *transaction) ListParticipants(experimentID string) []Participant {
	return listParticipants(&tx.state, experimentID)
}

func (tx *transaction) ListGroups(experimentID string) []Group {
	return listGroups(&tx.state, experimentID)
}

func (tx *transaction) ListGroupMemberships(groupID string) []GroupMembership {
	return listGroupMemberships(&tx.state, groupID)
}

func (tx *transaction) ListDataValues(scope domain.ParameterScope, entityID, parameterID, roundDataID string) []DataValue {
	return listDataValues(&tx.state, scope, entityID, parameterID, roundDataID)
}
