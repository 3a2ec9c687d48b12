// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"roundcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Parameter aliases domain.Parameter for in-memory persistence operations.
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
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	parameters     map[string]Parameter
	configurations map[string]ExperimentConfiguration
	rounds         map[string]RoundConfiguration
	experiments    map[string]Experiment
	roundData      map[string]RoundData
	participants   map[string]Participant
	groups         map[string]Group
	memberships    map[string]GroupMembership
	values         map[domain.ParameterScope]map[string]DataValue
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Parameters        map[string]Parameter               `json:"parameters"`
	Configurations    map[string]ExperimentConfiguration `json:"configurations"`
	Rounds            map[string]RoundConfiguration      `json:"rounds"`
	Experiments       map[string]Experiment              `json:"experiments"`
	RoundData         map[string]RoundData               `json:"round_data"`
	Participants      map[string]Participant             `json:"participants"`
	Groups            map[string]Group                   `json:"groups"`
	Memberships       map[string]GroupMembership         `json:"memberships"`
	ExperimentValues  map[string]DataValue               `json:"experiment_values"`
	RoundValues       map[string]DataValue               `json:"round_values"`
	GroupValues       map[string]DataValue               `json:"group_values"`
	ParticipantValues map[string]DataValue               `json:"participant_values"`
}

var valueScopes = []domain.ParameterScope{
	domain.ScopeExperiment,
	domain.ScopeRound,
	domain.ScopeGroup,
	domain.ScopeParticipant,
}

func newMemoryState() memoryState {
	values := make(map[domain.ParameterScope]map[string]DataValue, len(valueScopes))
	for _, scope := range valueScopes {
		values[scope] = make(map[string]DataValue)
	}
	return memoryState{
		parameters:     make(map[string]Parameter),
		configurations: make(map[string]ExperimentConfiguration),
		rounds:         make(map[string]RoundConfiguration),
		experiments:    make(map[string]Experiment),
		roundData:      make(map[string]RoundData),
		participants:   make(map[string]Participant),
		groups:         make(map[string]Group),
		memberships:    make(map[string]GroupMembership),
		values:         values,
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.parameters {
		cloned.parameters[k] = v
	}
	for k, v := range s.configurations {
		cloned.configurations[k] = v
	}
	for k, v := range s.rounds {
		cloned.rounds[k] = v
	}
	for k, v := range s.experiments {
		cloned.experiments[k] = cloneExperiment(v)
	}
	for k, v := range s.roundData {
		cloned.roundData[k] = v
	}
	for k, v := range s.participants {
		cloned.participants[k] = v
	}
	for k, v := range s.groups {
		cloned.groups[k] = v
	}
	for k, v := range s.memberships {
		cloned.memberships[k] = v
	}
	for scope, bucket := range s.values {
		for k, v := range bucket {
			cloned.values[scope][k] = v
		}
	}
	return cloned
}

func cloneExperiment(e Experiment) Experiment {
	cp := e
	if e.CurrentRoundStartTime != nil {
		t := *e.CurrentRoundStartTime
		cp.CurrentRoundStartTime = &t
	}
	return cp
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Parameters:        make(map[string]Parameter, len(state.parameters)),
		Configurations:    make(map[string]ExperimentConfiguration, len(state.configurations)),
		Rounds:            make(map[string]RoundConfiguration, len(state.rounds)),
		Experiments:       make(map[string]Experiment, len(state.experiments)),
		RoundData:         make(map[string]RoundData, len(state.roundData)),
		Participants:      make(map[string]Participant, len(state.participants)),
		Groups:            make(map[string]Group, len(state.groups)),
		Memberships:       make(map[string]GroupMembership, len(state.memberships)),
		ExperimentValues:  make(map[string]DataValue, len(state.values[domain.ScopeExperiment])),
		RoundValues:       make(map[string]DataValue, len(state.values[domain.ScopeRound])),
		GroupValues:       make(map[string]DataValue, len(state.values[domain.ScopeGroup])),
		ParticipantValues: make(map[string]DataValue, len(state.values[domain.ScopeParticipant])),
	}
	for k, v := range state.parameters {
		s.Parameters[k] = v
	}
	for k, v := range state.configurations {
		s.Configurations[k] = v
	}
	for k, v := range state.rounds {
		s.Rounds[k] = v
	}
	for k, v := range state.experiments {
		s.Experiments[k] = cloneExperiment(v)
	}
	for k, v := range state.roundData {
		s.RoundData[k] = v
	}
	for k, v := range state.participants {
		s.Participants[k] = v
	}
	for k, v := range state.groups {
		s.Groups[k] = v
	}
	for k, v := range state.memberships {
		s.Memberships[k] = v
	}
	for k, v := range state.values[domain.ScopeExperiment] {
		s.ExperimentValues[k] = v
	}
	for k, v := range state.values[domain.ScopeRound] {
		s.RoundValues[k] = v
	}
	for k, v := range state.values[domain.ScopeGroup] {
		s.GroupValues[k] = v
	}
	for k, v := range state.values[domain.ScopeParticipant] {
		s.ParticipantValues[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Parameters {
		state.parameters[k] = v
	}
	for k, v := range s.Configurations {
		state.configurations[k] = v
	}
	for k, v := range s.Rounds {
		state.rounds[k] = v
	}
	for k, v := range s.Experiments {
		state.experiments[k] = cloneExperiment(v)
	}
	for k, v := range s.RoundData {
		state.roundData[k] = v
	}
	for k, v := range s.Participants {
		state.participants[k] = v
	}
	for k, v := range s.Groups {
		state.groups[k] = v
	}
	for k, v := range s.Memberships {
		state.memberships[k] = v
	}
	for k, v := range s.ExperimentValues {
		state.values[domain.ScopeExperiment][k] = v
	}
	for k, v := range s.RoundValues {
		state.values[domain.ScopeRound][k] = v
	}
	for k, v := range s.GroupValues {
		state.values[domain.ScopeGroup][k] = v
	}
	for k, v := range s.ParticipantValues {
		state.values[domain.ScopeParticipant][k] = v
	}
	return state
}

// migrateSnapshot normalizes nil buckets and drops rows whose owning
// entities are gone, so stale snapshots hydrate into a consistent state.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Parameters == nil {
		snapshot.Parameters = map[string]Parameter{}
	}
	if snapshot.Configurations == nil {
		snapshot.Configurations = map[string]ExperimentConfiguration{}
	}
	if snapshot.Rounds == nil {
		snapshot.Rounds = map[string]RoundConfiguration{}
	}
	if snapshot.Experiments == nil {
		snapshot.Experiments = map[string]Experiment{}
	}
	if snapshot.RoundData == nil {
		snapshot.RoundData = map[string]RoundData{}
	}
	if snapshot.Participants == nil {
		snapshot.Participants = map[string]Participant{}
	}
	if snapshot.Groups == nil {
		snapshot.Groups = map[string]Group{}
	}
	if snapshot.Memberships == nil {
		snapshot.Memberships = map[string]GroupMembership{}
	}
	if snapshot.ExperimentValues == nil {
		snapshot.ExperimentValues = map[string]DataValue{}
	}
	if snapshot.RoundValues == nil {
		snapshot.RoundValues = map[string]DataValue{}
	}
	if snapshot.GroupValues == nil {
		snapshot.GroupValues = map[string]DataValue{}
	}
	if snapshot.ParticipantValues == nil {
		snapshot.ParticipantValues = map[string]DataValue{}
	}

	experimentExists := func(id string) bool {
		_, ok := snapshot.Experiments[id]
		return ok
	}
	groupExists := func(id string) bool {
		_, ok := snapshot.Groups[id]
		return ok
	}
	participantExists := func(id string) bool {
		_, ok := snapshot.Participants[id]
		return ok
	}

	for id, rd := range snapshot.RoundData {
		if !experimentExists(rd.ExperimentID) {
			delete(snapshot.RoundData, id)
		}
	}
	for id, p := range snapshot.Participants {
		if !experimentExists(p.ExperimentID) {
			delete(snapshot.Participants, id)
		}
	}
	for id, g := range snapshot.Groups {
		if !experimentExists(g.ExperimentID) {
			delete(snapshot.Groups, id)
		}
	}
	for id, m := range snapshot.Memberships {
		if !groupExists(m.GroupID) || !participantExists(m.ParticipantID) {
			delete(snapshot.Memberships, id)
		}
	}
	return snapshot
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine for integration points like plugins.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider; tests use it for deterministic clocks.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// Read helpers ---------------------------------------------------------------

// GetExperiment retrieves an experiment by ID from committed state.
func (s *Store) GetExperiment(id string) (Experiment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.experiments[id]
	if !ok {
		return Experiment{}, false
	}
	return cloneExperiment(e), true
}

// ListExperiments returns all experiments from committed state.
func (s *Store) ListExperiments() []Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Experiment, 0, len(s.state.experiments))
	for _, e := range s.state.experiments {
		out = append(out, cloneExperiment(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetRoundConfiguration retrieves a round configuration by ID.
func (s *Store) GetRoundConfiguration(id string) (RoundConfiguration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.state.rounds[id]
	return rc, ok
}

// ListRoundConfigurations returns a configuration's rounds ordered by sequence number.
func (s *Store) ListRoundConfigurations(configurationID string) []RoundConfiguration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRoundConfigurations(&s.state, configurationID)
}

// ListParticipants returns an experiment's participants in join order.
func (s *Store) ListParticipants(experimentID string) []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listParticipants(&s.state, experimentID)
}

// ListGroups returns an experiment's groups ordered by number.
func (s *Store) ListGroups(experimentID string) []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listGroups(&s.state, experimentID)
}

// ListGroupMemberships returns a group's memberships ordered by participant number.
func (s *Store) ListGroupMemberships(groupID string) []GroupMembership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listGroupMemberships(&s.state, groupID)
}

// ListRoundData returns an experiment's round executions in traversal order.
func (s *Store) ListRoundData(experimentID string) []RoundData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRoundData(&s.state, experimentID)
}

// shared list helpers used by committed-state reads, transactions and views.

func listRoundConfigurations(state *memoryState, configurationID string) []RoundConfiguration {
	var out []RoundConfiguration
	for _, rc := range state.rounds {
		if rc.ConfigurationID == configurationID {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

func listParticipants(state *memoryState, experimentID string) []Participant {
	var out []Participant
	for _, p := range state.participants {
		if p.ExperimentID == experimentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out
}

func listGroups(state *memoryState, experimentID string) []Group {
	var out []Group
	for _, g := range state.groups {
		if g.ExperimentID == experimentID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func listGroupMemberships(state *memoryState, groupID string) []GroupMembership {
	var out []GroupMembership
	for _, m := range state.memberships {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantNumber < out[j].ParticipantNumber })
	return out
}

func listRoundData(state *memoryState, experimentID string) []RoundData {
	var out []RoundData
	for _, rd := range state.roundData {
		if rd.ExperimentID == experimentID {
			out = append(out, rd)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si := roundSequence(state, out[i].RoundConfigurationID)
		sj := roundSequence(state, out[j].RoundConfigurationID)
		if si != sj {
			return si < sj
		}
		return out[i].RepeatingRoundSequenceNumber < out[j].RepeatingRoundSequenceNumber
	})
	return out
}

func roundSequence(state *memoryState, roundConfigurationID string) int {
	if rc, ok := state.rounds[roundConfigurationID]; ok {
		return rc.SequenceNumber
	}
	return 0
}

func findParameter(state *memoryState, experimentType, name string, scope domain.ParameterScope) (Parameter, bool) {
	for _, p := range state.parameters {
		if p.ExperimentType == experimentType && p.Name == name && p.Scope == scope {
			return p, true
		}
	}
	return Parameter{}, false
}

func findRoundData(state *memoryState, experimentID, roundConfigurationID string, repeat int) (RoundData, bool) {
	for _, rd := range state.roundData {
		if rd.ExperimentID == experimentID && rd.RoundConfigurationID == roundConfigurationID && rd.RepeatingRoundSequenceNumber == repeat {
			return rd, true
		}
	}
	return RoundData{}, false
}

func findDataValue(state *memoryState, scope domain.ParameterScope, entityID, parameterID, roundDataID string) (DataValue, bool) {
	var (
		latest DataValue
		found  bool
	)
	for _, v := range state.values[scope] {
		if v.EntityID != entityID || v.ParameterID != parameterID {
			continue
		}
		// Empty roundDataID matches any round; latest write wins.
		if roundDataID != "" && v.RoundDataID != roundDataID {
			continue
		}
		if !found || v.LastModified.After(latest.LastModified) {
			latest = v
			found = true
		}
	}
	return latest, found
}

func listDataValues(state *memoryState, scope domain.ParameterScope, entityID, parameterID, roundDataID string) []DataValue {
	var out []DataValue
	for _, v := range state.values[scope] {
		if v.EntityID != entityID || v.ParameterID != parameterID {
			continue
		}
		if roundDataID != "" && v.RoundDataID != roundDataID {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.Before(out[j].LastModified)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
