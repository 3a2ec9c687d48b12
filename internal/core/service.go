package core

import (
	"context"
	"fmt"

	"roundcore/internal/infra/persistence/memory"
	"roundcore/pkg/domain"
)

// Service exposes higher-level transactional operations for the round engine:
// parameter registration, experiment lifecycle, group allocation, and scoped
// value access. All mutating operations run inside a store transaction so the
// rules engine can veto invalid state.
type Service struct {
	store   PersistentStore
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	signals  *SignalBus
	registry *parameterCache
	archive  ArchiveSink
	plugins  map[string]PluginMetadata
	actions  map[string]actionFunc
}

// Option customizes service construction.
type Option func(*Service)

// WithLogger installs a structured logger. A nil logger is ignored.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics installs a metrics recorder. A nil recorder is ignored.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer installs a tracer. A nil tracer is ignored.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   noopLogger{},
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
		signals:  NewSignalBus(),
		registry: newParameterCache(),
		plugins:  make(map[string]PluginMetadata),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.actions = s.buildActionTable()
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Signals returns the lifecycle signal bus.
func (s *Service) Signals() *SignalBus {
	return s.signals
}

// DefineParameter registers a parameter definition for an experiment type. The
// scope/type/default combination is validated inside the transaction; a
// duplicate (experiment type, name, scope) tuple is rejected there as well.
func (s *Service) DefineParameter(ctx context.Context, parameter Parameter) (Parameter, Result, error) {
	var created Parameter
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateParameter(parameter)
		return err
	})
	if err == nil {
		s.registry.invalidate(created)
	}
	return created, res, err
}

// UpdateParameterMetadata mutates a parameter's display metadata. Identity
// fields and the type/default are immutable after registration.
func (s *Service) UpdateParameterMetadata(ctx context.Context, id string, mutator func(*Parameter) error) (Parameter, Result, error) {
	var updated Parameter
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateParameter(id, mutator)
		return err
	})
	if err == nil {
		s.registry.invalidate(updated)
	}
	return updated, res, err
}

// LookupParameter resolves a parameter definition by its identity tuple,
// consulting the registry cache first.
func (s *Service) LookupParameter(ctx context.Context, experimentType, name string, scope domain.ParameterScope) (Parameter, error) {
	return s.resolveParameter(ctx, experimentType, name, scope)
}

// ListParameters returns all parameter definitions registered for an
// experiment type, ordered by scope then name.
func (s *Service) ListParameters(ctx context.Context, experimentType string) ([]Parameter, error) {
	var out []Parameter
	err := s.store.View(ctx, func(view TransactionView) error {
		out = view.ListParameters(experimentType)
		return nil
	})
	return out, err
}

// CreateExperimentConfiguration persists a reusable experiment template.
func (s *Service) CreateExperimentConfiguration(ctx context.Context, configuration ExperimentConfiguration) (ExperimentConfiguration, Result, error) {
	var created ExperimentConfiguration
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateExperimentConfiguration(configuration)
		return err
	})
	return created, res, err
}

// CreateRoundConfiguration appends a round definition to an experiment
// configuration. Sequence numbers must be unique within the configuration.
func (s *Service) CreateRoundConfiguration(ctx context.Context, round RoundConfiguration) (RoundConfiguration, Result, error) {
	var created RoundConfiguration
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateRoundConfiguration(round)
		return err
	})
	return created, res, err
}

// CreateExperiment instantiates an experiment from a configuration. New
// experiments start inactive with no current round.
func (s *Service) CreateExperiment(ctx context.Context, experiment Experiment) (Experiment, Result, error) {
	var created Experiment
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		if experiment.ConfigurationID != "" {
			if _, ok := tx.FindExperimentConfiguration(experiment.ConfigurationID); !ok {
				return ErrNotFound{Entity: domain.EntityExperimentConfiguration, ID: experiment.ConfigurationID}
			}
		}
		var err error
		created, err = tx.CreateExperiment(experiment)
		return err
	})
	return created, res, err
}

// GetExperiment fetches an experiment by ID from committed state.
func (s *Service) GetExperiment(_ context.Context, id string) (Experiment, bool) {
	return s.store.GetExperiment(id)
}

// ListExperiments returns all experiments in committed state.
func (s *Service) ListExperiments(_ context.Context) []Experiment {
	return s.store.ListExperiments()
}

// AddParticipant registers a participant on an experiment. Join order is
// assigned monotonically within the experiment.
func (s *Service) AddParticipant(ctx context.Context, participant Participant) (Participant, Result, error) {
	var created Participant
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, ok := tx.FindExperiment(participant.ExperimentID); !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: participant.ExperimentID}
		}
		var err error
		created, err = tx.CreateParticipant(participant)
		return err
	})
	return created, res, err
}

// RemoveParticipant deletes a participant and its group memberships.
func (s *Service) RemoveParticipant(ctx context.Context, id string) (Result, error) {
	return s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteParticipant(id)
	})
}

// ClearParticipants removes every participant from an experiment along with
// their memberships. Only inactive experiments may be cleared.
func (s *Service) ClearParticipants(ctx context.Context, experimentID string) (Result, error) {
	return s.store.RunInTransaction(ctx, func(tx Transaction) error {
		experiment, ok := tx.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}
		if experiment.Status != domain.StatusInactive {
			return domain.InvalidActionError{
				Action: ActionClearParticipants,
				Status: experiment.Status,
				Reason: "participants can only be cleared before activation",
			}
		}
		for _, participant := range tx.ListParticipants(experimentID) {
			if err := tx.DeleteParticipant(participant.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListParticipants returns the participants of an experiment in join order.
func (s *Service) ListParticipants(_ context.Context, experimentID string) []Participant {
	return s.store.ListParticipants(experimentID)
}

// ListGroups returns the groups of an experiment.
func (s *Service) ListGroups(_ context.Context, experimentID string) []Group {
	return s.store.ListGroups(experimentID)
}

// ListGroupMemberships returns the memberships of a group.
func (s *Service) ListGroupMemberships(_ context.Context, groupID string) []GroupMembership {
	return s.store.ListGroupMemberships(groupID)
}

// ListRoundData returns the round data rows of an experiment in round order.
func (s *Service) ListRoundData(_ context.Context, experimentID string) []RoundData {
	return s.store.ListRoundData(experimentID)
}

// AnnotateRoundData records experimenter notes on a round data row.
func (s *Service) AnnotateRoundData(ctx context.Context, id, notes string) (RoundData, Result, error) {
	var updated RoundData
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateRoundData(id, func(rd *RoundData) error {
			rd.ExperimenterNotes = notes
			return nil
		})
		return err
	})
	return updated, res, err
}

func (s *Service) currentRoundConfiguration(view TransactionView, experiment Experiment) (RoundConfiguration, error) {
	rounds := view.ListRoundConfigurations(experiment.ConfigurationID)
	for _, round := range rounds {
		if round.SequenceNumber == experiment.CurrentRoundSequenceNumber {
			return round, nil
		}
	}
	return RoundConfiguration{}, fmt.Errorf("experiment %s: no round configuration with sequence %d", experiment.ID, experiment.CurrentRoundSequenceNumber)
}
