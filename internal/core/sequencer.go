package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"roundcore/pkg/domain"
)

// Activate transitions an experiment from INACTIVE to ACTIVE: the first
// configured round becomes current, the repeat index resets, the initial
// round data row is created, and a push auth token is issued. Activating an
// experiment that already left INACTIVE is a benign no-op returning false.
// Groups are allocated for the first round when participants are present.
func (s *Service) Activate(ctx context.Context, experimentID string) (bool, Result, error) {
	changed := false
	var event *LifecycleEvent
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		experiment, ok := tx.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}
		if experiment.Status != domain.StatusInactive {
			return nil
		}

		rounds := tx.ListRoundConfigurations(experiment.ConfigurationID)
		if len(rounds) == 0 {
			return domain.InvalidActionError{
				Action: ActionActivate,
				Status: experiment.Status,
				Reason: "experiment configuration has no rounds",
			}
		}
		first := rounds[0]
		now := time.Now().UTC()

		experiment, err := tx.UpdateExperiment(experimentID, func(e *Experiment) error {
			e.Status = domain.StatusActive
			e.CurrentRoundSequenceNumber = first.SequenceNumber
			e.CurrentRepeatedRoundSequenceNumber = 0
			e.CurrentRoundStartTime = &now
			e.AuthToken = uuid.NewString()
			return nil
		})
		if err != nil {
			return err
		}

		if len(tx.ListParticipants(experimentID)) > 0 {
			if _, err := s.allocateGroupsTx(tx, experiment, first); err != nil {
				return err
			}
		}

		roundData, err := s.ensureRoundData(tx, experiment, first)
		if err != nil {
			return err
		}
		changed = true
		event = &LifecycleEvent{
			Type:                 domain.EventRoundStarted,
			ExperimentID:         experimentID,
			RoundConfigurationID: first.ID,
			RoundDataID:          roundData.ID,
			Timestamp:            now,
		}
		return nil
	})
	if err == nil && event != nil {
		s.broadcast(ctx, *event)
	}
	return changed, res, err
}

// StartRound begins the current round. The call is idempotent: when the
// experiment is ACTIVE and the current round data is already in progress it
// returns false without side effects, guarding against duplicate triggers.
func (s *Service) StartRound(ctx context.Context, experimentID string) (bool, Result, error) {
	changed := false
	var event *LifecycleEvent
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		experiment, ok := tx.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}
		if experiment.Status != domain.StatusActive {
			return domain.InvalidActionError{
				Action: ActionStartRound,
				Status: experiment.Status,
				Reason: "only active experiments run rounds",
			}
		}
		round, err := s.currentRoundConfiguration(tx.Snapshot(), experiment)
		if err != nil {
			return err
		}
		if _, ok := tx.FindRoundData(experimentID, round.ID, experiment.CurrentRepeatedRoundSequenceNumber); ok && experiment.CurrentRoundStartTime != nil {
			return nil
		}

		now := time.Now().UTC()
		if _, err := tx.UpdateExperiment(experimentID, func(e *Experiment) error {
			e.CurrentRoundStartTime = &now
			return nil
		}); err != nil {
			return err
		}
		roundData, err := s.ensureRoundData(tx, experiment, round)
		if err != nil {
			return err
		}
		changed = true
		event = &LifecycleEvent{
			Type:                 domain.EventRoundStarted,
			ExperimentID:         experimentID,
			RoundConfigurationID: round.ID,
			RoundDataID:          roundData.ID,
			Timestamp:            now,
		}
		return nil
	})
	if err == nil && event != nil {
		s.broadcast(ctx, *event)
	}
	return changed, res, err
}

// EndRound finalizes elapsed-time bookkeeping for the current round data and
// marks the round no longer in progress.
func (s *Service) EndRound(ctx context.Context, experimentID string) (Result, error) {
	var event *LifecycleEvent
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		experiment, ok := tx.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}
		if experiment.Status != domain.StatusActive {
			return domain.InvalidActionError{
				Action: ActionEndRound,
				Status: experiment.Status,
				Reason: "only active experiments run rounds",
			}
		}
		round, err := s.currentRoundConfiguration(tx.Snapshot(), experiment)
		if err != nil {
			return err
		}
		roundData, ok := tx.FindRoundData(experimentID, round.ID, experiment.CurrentRepeatedRoundSequenceNumber)
		if !ok {
			return ErrNotFound{Entity: domain.EntityRoundData, ID: round.ID}
		}

		now := time.Now().UTC()
		elapsed := int64(0)
		if experiment.CurrentRoundStartTime != nil {
			elapsed = int64(now.Sub(*experiment.CurrentRoundStartTime).Seconds())
		}
		if _, err := tx.UpdateRoundData(roundData.ID, func(rd *RoundData) error {
			rd.ElapsedSeconds += elapsed
			return nil
		}); err != nil {
			return err
		}
		if _, err := tx.UpdateExperiment(experimentID, func(e *Experiment) error {
			e.CurrentRoundStartTime = nil
			return nil
		}); err != nil {
			return err
		}
		event = &LifecycleEvent{
			Type:                 domain.EventRoundEnded,
			ExperimentID:         experimentID,
			RoundConfigurationID: round.ID,
			RoundDataID:          roundData.ID,
			Timestamp:            now,
		}
		return nil
	})
	if err == nil && event != nil {
		s.broadcast(ctx, *event)
	}
	return res, err
}

// HasNextRound reports whether the experiment has another round execution
// ahead: either repeat budget left on the current round configuration or a
// configuration with a higher sequence number.
func (s *Service) HasNextRound(ctx context.Context, experimentID string) (bool, error) {
	var next bool
	err := s.store.View(ctx, func(view TransactionView) error {
		experiment, ok := view.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}
		round, err := s.currentRoundConfiguration(view, experiment)
		if err != nil {
			return err
		}
		if experiment.CurrentRepeatedRoundSequenceNumber < round.Repeat {
			next = true
			return nil
		}
		_, ok = nextRoundConfiguration(view, experiment.ConfigurationID, round.SequenceNumber)
		next = ok
		return nil
	})
	return next, err
}

// AdvanceToNextRound moves the experiment to its next round execution. While
// the current round configuration has repeat budget left, only the repeat
// index advances and a fresh round data row is created for it. Otherwise the
// next configuration by sequence number becomes current, with groups
// reallocated when its flags request regrouping. When no execution remains
// the experiment transitions to COMPLETED. A duplicate trigger that finds the
// target round data already created no-ops and returns false.
func (s *Service) AdvanceToNextRound(ctx context.Context, experimentID string) (bool, Result, error) {
	changed := false
	var event *LifecycleEvent
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		experiment, ok := tx.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}
		if experiment.Status != domain.StatusActive {
			return domain.InvalidActionError{
				Action: ActionAdvance,
				Status: experiment.Status,
				Reason: "only active experiments advance",
			}
		}
		current, err := s.currentRoundConfiguration(tx.Snapshot(), experiment)
		if err != nil {
			return err
		}

		next := current
		nextRepeat := 0
		regroup := false
		if experiment.CurrentRepeatedRoundSequenceNumber < current.Repeat {
			nextRepeat = experiment.CurrentRepeatedRoundSequenceNumber + 1
		} else {
			following, ok := nextRoundConfiguration(tx.Snapshot(), experiment.ConfigurationID, current.SequenceNumber)
			if !ok {
				_, err := tx.UpdateExperiment(experimentID, func(e *Experiment) error {
					e.Status = domain.StatusCompleted
					e.CurrentRoundStartTime = nil
					return nil
				})
				if err != nil {
					return err
				}
				changed = true
				return nil
			}
			next = following
			regroup = following.RandomizeGroups || following.PreserveExistingGroups || following.SessionID != current.SessionID
		}

		now := time.Now().UTC()
		experiment, err = tx.UpdateExperiment(experimentID, func(e *Experiment) error {
			e.CurrentRoundSequenceNumber = next.SequenceNumber
			e.CurrentRepeatedRoundSequenceNumber = nextRepeat
			e.CurrentRoundStartTime = &now
			return nil
		})
		if err != nil {
			return err
		}

		if regroup && len(tx.ListParticipants(experimentID)) > 0 {
			if _, err := s.allocateGroupsTx(tx, experiment, next); err != nil {
				return err
			}
		}

		roundData, err := tx.CreateRoundData(RoundData{
			ExperimentID:                 experimentID,
			RoundConfigurationID:         next.ID,
			RepeatingRoundSequenceNumber: nextRepeat,
		})
		if err != nil {
			var exists domain.RoundDataExistsError
			if errors.As(err, &exists) {
				return nil
			}
			return err
		}
		if next.InitializeDataValues {
			if err := s.initializeRoundDefaults(tx, experiment, roundData); err != nil {
				return err
			}
		}
		changed = true
		event = &LifecycleEvent{
			Type:                 domain.EventRoundStarted,
			ExperimentID:         experimentID,
			RoundConfigurationID: next.ID,
			RoundDataID:          roundData.ID,
			Timestamp:            now,
		}
		return nil
	})
	if err == nil && event != nil {
		s.broadcast(ctx, *event)
	}
	return changed, res, err
}

// ensureRoundData fetches or creates the round data row for the experiment's
// current execution. A concurrent creator winning the race is treated as
// success.
func (s *Service) ensureRoundData(tx Transaction, experiment Experiment, round RoundConfiguration) (RoundData, error) {
	if existing, ok := tx.FindRoundData(experiment.ID, round.ID, experiment.CurrentRepeatedRoundSequenceNumber); ok {
		return existing, nil
	}
	created, err := tx.CreateRoundData(RoundData{
		ExperimentID:                 experiment.ID,
		RoundConfigurationID:         round.ID,
		RepeatingRoundSequenceNumber: experiment.CurrentRepeatedRoundSequenceNumber,
	})
	if err != nil {
		var exists domain.RoundDataExistsError
		if errors.As(err, &exists) {
			if existing, ok := tx.FindRoundData(experiment.ID, round.ID, experiment.CurrentRepeatedRoundSequenceNumber); ok {
				return existing, nil
			}
		}
		return RoundData{}, err
	}
	if round.InitializeDataValues {
		if err := s.initializeRoundDefaults(tx, experiment, created); err != nil {
			return RoundData{}, err
		}
	}
	return created, nil
}

// initializeRoundDefaults persists declared round-scope parameter defaults
// for a fresh round data row so per-round logic reads real rows instead of
// fallbacks.
func (s *Service) initializeRoundDefaults(tx Transaction, experiment Experiment, roundData RoundData) error {
	for _, parameter := range tx.Snapshot().ListParameters(experiment.ExperimentType) {
		if parameter.Scope != domain.ScopeRound || parameter.DefaultValue.IsZero() {
			continue
		}
		if _, ok := tx.FindDataValue(domain.ScopeRound, roundData.ID, parameter.ID, roundData.ID); ok {
			continue
		}
		_, err := tx.CreateDataValue(DataValue{
			Scope:       domain.ScopeRound,
			EntityID:    roundData.ID,
			ParameterID: parameter.ID,
			RoundDataID: roundData.ID,
			Scalar:      parameter.DefaultValue,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// broadcast delivers a lifecycle event after the owning transaction has
// committed. Handler failures are logged and never surface to the caller.
func (s *Service) broadcast(ctx context.Context, event LifecycleEvent) {
	for _, failure := range s.signals.Broadcast(ctx, event) {
		s.logger.Error("lifecycle handler failed",
			"handler", failure.Handler,
			"event", string(failure.Event),
			"experiment_id", event.ExperimentID,
			"error", failure.Err.Error(),
		)
	}
}

func nextRoundConfiguration(view TransactionView, configurationID string, sequence int) (RoundConfiguration, bool) {
	for _, round := range view.ListRoundConfigurations(configurationID) {
		if round.SequenceNumber > sequence {
			return round, true
		}
	}
	return RoundConfiguration{}, false
}
