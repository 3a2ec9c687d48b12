package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"roundcore/pkg/domain"
)

// Administrative action identifiers accepted by Invoke.
const (
	ActionActivate          = "activate"
	ActionStartRound        = "start_round"
	ActionEndRound          = "end_round"
	ActionAdvance           = "advance_to_next_round"
	ActionComplete          = "complete"
	ActionArchive           = "archive"
	ActionClearParticipants = "clear_participants"
	ActionClone             = "clone"
)

// ActionResult reports the outcome of one administrative action. Changed is
// false for benign duplicate triggers; Message carries a human-readable
// summary for the invoking UI.
type ActionResult struct {
	Action       string `json:"action"`
	ExperimentID string `json:"experiment_id"`
	Actor        string `json:"actor"`
	Changed      bool   `json:"changed"`
	Message      string `json:"message"`
}

type actionFunc func(ctx context.Context, experimentID string) (bool, string, error)

// ArchiveSink receives the exported snapshot of an archived experiment.
type ArchiveSink interface {
	Put(ctx context.Context, key string, payload []byte) error
}

// WithArchiveSink installs the destination for archive exports. Without a
// sink the archive action only flips the status.
func WithArchiveSink(sink ArchiveSink) Option {
	return func(s *Service) {
		s.archive = sink
	}
}

func (s *Service) buildActionTable() map[string]actionFunc {
	return map[string]actionFunc{
		ActionActivate: func(ctx context.Context, id string) (bool, string, error) {
			changed, _, err := s.Activate(ctx, id)
			return changed, "experiment activated", err
		},
		ActionStartRound: func(ctx context.Context, id string) (bool, string, error) {
			changed, _, err := s.StartRound(ctx, id)
			return changed, "round started", err
		},
		ActionEndRound: func(ctx context.Context, id string) (bool, string, error) {
			_, err := s.EndRound(ctx, id)
			return err == nil, "round ended", err
		},
		ActionAdvance: func(ctx context.Context, id string) (bool, string, error) {
			changed, _, err := s.AdvanceToNextRound(ctx, id)
			return changed, "advanced to next round", err
		},
		ActionComplete: func(ctx context.Context, id string) (bool, string, error) {
			changed, err := s.completeExperiment(ctx, id)
			return changed, "experiment completed", err
		},
		ActionArchive: func(ctx context.Context, id string) (bool, string, error) {
			changed, err := s.archiveExperiment(ctx, id)
			return changed, "experiment archived", err
		},
		ActionClearParticipants: func(ctx context.Context, id string) (bool, string, error) {
			_, err := s.ClearParticipants(ctx, id)
			return err == nil, "participants cleared", err
		},
		ActionClone: func(ctx context.Context, id string) (bool, string, error) {
			clone, err := s.cloneExperiment(ctx, id)
			return err == nil, fmt.Sprintf("cloned as %s", clone.ID), err
		},
	}
}

// Invoke dispatches a named administrative action against an experiment. The
// action set is a fixed registered map; an unknown name is a descriptive
// InvalidActionError rather than a crash, since it typically originates from
// a stale UI.
func (s *Service) Invoke(ctx context.Context, experimentID, actionName, actor string) (ActionResult, error) {
	result := ActionResult{
		Action:       actionName,
		ExperimentID: experimentID,
		Actor:        actor,
	}
	handler, ok := s.actions[actionName]
	if !ok {
		experiment, found := s.store.GetExperiment(experimentID)
		status := domain.ExperimentStatus("")
		if found {
			status = experiment.Status
		}
		return result, domain.InvalidActionError{
			Action: actionName,
			Status: status,
			Reason: "unknown action",
		}
	}

	err := s.instrument(ctx, "invoke_"+actionName, func(ctx context.Context) error {
		changed, message, err := handler(ctx, experimentID)
		if err != nil {
			return err
		}
		result.Changed = changed
		result.Message = message
		if !changed {
			result.Message = "nothing changed"
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("action failed",
			"action", actionName,
			"experiment_id", experimentID,
			"actor", actor,
			"error", err.Error(),
		)
		return result, err
	}
	s.logger.Info("action applied",
		"action", actionName,
		"experiment_id", experimentID,
		"actor", actor,
		"changed", result.Changed,
	)
	return result, nil
}

// completeExperiment force-finishes an active experiment without traversing
// the remaining rounds.
func (s *Service) completeExperiment(ctx context.Context, experimentID string) (bool, error) {
	changed := false
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		experiment, ok := tx.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}
		switch experiment.Status {
		case domain.StatusCompleted:
			return nil
		case domain.StatusActive:
		default:
			return domain.InvalidActionError{
				Action: ActionComplete,
				Status: experiment.Status,
				Reason: "only active experiments can be completed",
			}
		}
		_, err := tx.UpdateExperiment(experimentID, func(e *Experiment) error {
			e.Status = domain.StatusCompleted
			e.CurrentRoundStartTime = nil
			return nil
		})
		changed = err == nil
		return err
	})
	return changed, err
}

// archivedExperimentExport is the snapshot written to the archive sink.
type archivedExperimentExport struct {
	Experiment   Experiment        `json:"experiment"`
	RoundData    []RoundData       `json:"round_data"`
	Participants []Participant     `json:"participants"`
	Groups       []Group           `json:"groups"`
	Memberships  []GroupMembership `json:"memberships"`
	ArchivedAt   time.Time         `json:"archived_at"`
}

// archiveExperiment marks an experiment ARCHIVED and, when a sink is
// configured, exports its full state. Archival is terminal and only valid
// once an experiment has left INACTIVE.
func (s *Service) archiveExperiment(ctx context.Context, experimentID string) (bool, error) {
	changed := false
	var export archivedExperimentExport
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		experiment, ok := tx.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}
		switch experiment.Status {
		case domain.StatusArchived:
			return nil
		case domain.StatusInactive:
			return domain.InvalidActionError{
				Action: ActionArchive,
				Status: experiment.Status,
				Reason: "inactive experiments have no run to archive",
			}
		}
		experiment, err := tx.UpdateExperiment(experimentID, func(e *Experiment) error {
			e.Status = domain.StatusArchived
			e.CurrentRoundStartTime = nil
			return nil
		})
		if err != nil {
			return err
		}

		view := tx.Snapshot()
		export = archivedExperimentExport{
			Experiment:   experiment,
			RoundData:    view.ListRoundDataForExperiment(experimentID),
			Participants: tx.ListParticipants(experimentID),
			Groups:       tx.ListGroups(experimentID),
			ArchivedAt:   time.Now().UTC(),
		}
		for _, group := range export.Groups {
			export.Memberships = append(export.Memberships, tx.ListGroupMemberships(group.ID)...)
		}
		changed = true
		return nil
	})
	if err != nil || !changed {
		return changed, err
	}

	if s.archive != nil {
		payload, err := json.Marshal(export)
		if err != nil {
			return changed, fmt.Errorf("encode archive export: %w", err)
		}
		key := fmt.Sprintf("experiments/%s/%s.json", experimentID, uuid.NewString())
		if err := s.archive.Put(ctx, key, payload); err != nil {
			s.logger.Error("archive export failed",
				"experiment_id", experimentID,
				"key", key,
				"error", err.Error(),
			)
			return changed, fmt.Errorf("write archive export: %w", err)
		}
		s.logger.Info("archive export written", "experiment_id", experimentID, "key", key)
	}
	return changed, nil
}

// cloneExperiment creates a fresh INACTIVE experiment sharing the source's
// configuration. Runtime state never carries over.
func (s *Service) cloneExperiment(ctx context.Context, experimentID string) (Experiment, error) {
	var clone Experiment
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		source, ok := tx.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}
		var err error
		clone, err = tx.CreateExperiment(Experiment{
			Name:            source.Name + " (clone)",
			ConfigurationID: source.ConfigurationID,
			ExperimentType:  source.ExperimentType,
			Status:          domain.StatusInactive,
		})
		return err
	})
	return clone, err
}
