package core

import (
	"context"
	"encoding/json"

	"roundcore/pkg/domain"
)

// ToDict projects an experiment's state into the stable key-value shape the
// view layer consumes. When attrs are supplied only those keys are included;
// the full projection is returned otherwise. Key names are a compatibility
// contract and must not change casually.
func (s *Service) ToDict(ctx context.Context, experimentID string, attrs ...string) (map[string]any, error) {
	var out map[string]any
	err := s.store.View(ctx, func(view TransactionView) error {
		experiment, ok := view.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}

		participants := view.ListParticipants(experimentID)
		participantRows := make([]map[string]any, 0, len(participants))
		for _, p := range participants {
			participantRows = append(participantRows, map[string]any{
				"id":         p.ID,
				"identifier": p.Identifier,
				"join_order": p.JoinOrder,
			})
		}

		groups := view.ListGroups(experimentID)
		groupRows := make([]map[string]any, 0, len(groups))
		for _, g := range groups {
			members := view.ListGroupMemberships(g.ID)
			size := 0
			for _, m := range members {
				if m.Active {
					size++
				}
			}
			groupRows = append(groupRows, map[string]any{
				"id":         g.ID,
				"number":     g.Number,
				"size":       size,
				"max_size":   g.MaxSize,
				"session_id": g.SessionID,
				"cluster_id": g.ClusterID,
				"active":     g.Active,
			})
		}

		roundRows := make([]map[string]any, 0)
		for _, rd := range view.ListRoundDataForExperiment(experimentID) {
			row := map[string]any{
				"id":                 rd.ID,
				"repeat":             rd.RepeatingRoundSequenceNumber,
				"elapsed_seconds":    rd.ElapsedSeconds,
				"experimenter_notes": rd.ExperimenterNotes,
			}
			if round, ok := view.FindRoundConfiguration(rd.RoundConfigurationID); ok {
				row["sequence_number"] = round.SequenceNumber
				row["round_type"] = round.RoundType
			}
			roundRows = append(roundRows, row)
		}

		out = map[string]any{
			"id":                            experiment.ID,
			"name":                          experiment.Name,
			"experiment_type":               experiment.ExperimentType,
			"status":                        string(experiment.Status),
			"current_round_sequence_number": experiment.CurrentRoundSequenceNumber,
			"current_repeated_round_sequence_number": experiment.CurrentRepeatedRoundSequenceNumber,
			"current_round_start_time":               experiment.CurrentRoundStartTime,
			"participant_count":                      len(participants),
			"participants":                           participantRows,
			"groups":                                 groupRows,
			"round_data":                             roundRows,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return out, nil
	}
	filtered := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if v, ok := out[attr]; ok {
			filtered[attr] = v
		}
	}
	return filtered, nil
}

// ToJSON renders the ToDict projection as JSON.
func (s *Service) ToJSON(ctx context.Context, experimentID string, attrs ...string) ([]byte, error) {
	dict, err := s.ToDict(ctx, experimentID, attrs...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(dict)
}
