package core

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"roundcore/pkg/domain"
)

// AllocateGroups partitions an experiment's participants into fixed-capacity
// groups according to the round configuration's grouping flags. The whole
// reallocation commits atomically; a constraint failure leaves the prior
// group set untouched.
func (s *Service) AllocateGroups(ctx context.Context, experimentID, roundConfigurationID string) ([]Group, Result, error) {
	var groups []Group
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		experiment, ok := tx.FindExperiment(experimentID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityExperiment, ID: experimentID}
		}
		round, ok := tx.FindRoundConfiguration(roundConfigurationID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityRoundConfiguration, ID: roundConfigurationID}
		}
		var err error
		groups, err = s.allocateGroupsTx(tx, experiment, round)
		return err
	})
	return groups, res, err
}

// allocateGroupsTx performs one regrouping inside an open transaction.
// Participants join groups round-robin in join order, optionally shuffled
// first. When PreserveExistingGroups is set and an active group set already
// exists for the session, membership is carried forward unchanged into a
// fresh set and the prior set is archived rather than deleted, since
// historical payment reporting reads the old rows.
func (s *Service) allocateGroupsTx(tx Transaction, experiment Experiment, round RoundConfiguration) ([]Group, error) {
	configuration, ok := tx.FindExperimentConfiguration(experiment.ConfigurationID)
	if !ok {
		return nil, ErrNotFound{Entity: domain.EntityExperimentConfiguration, ID: experiment.ConfigurationID}
	}
	maxSize := configuration.MaxGroupSize
	if maxSize <= 0 {
		return nil, domain.AllocationConstraintError{
			ExperimentID: experiment.ID,
			Reason:       fmt.Sprintf("max group size must be positive, got %d", maxSize),
		}
	}

	prior := activeSessionGroups(tx, experiment.ID, round.SessionID)

	if round.PreserveExistingGroups && len(prior) > 0 {
		return s.carryGroupsForward(tx, experiment, round, prior)
	}

	participants := tx.ListParticipants(experiment.ID)
	if len(participants) == 0 {
		return nil, domain.AllocationConstraintError{
			ExperimentID: experiment.ID,
			Reason:       "no participants to allocate",
		}
	}
	if round.RandomizeGroups {
		shuffled := make([]Participant, len(participants))
		copy(shuffled, participants)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		participants = shuffled
	}

	if err := retireSessionGroups(tx, prior, round.PreserveExistingGroups); err != nil {
		return nil, err
	}

	groupCount := (len(participants) + maxSize - 1) / maxSize
	clusters := clusterIDs(groupCount, round.CreateGroupClusters)

	groups := make([]Group, 0, groupCount)
	for i := 0; i < groupCount; i++ {
		group, err := tx.CreateGroup(Group{
			ExperimentID: experiment.ID,
			Number:       i + 1,
			MaxSize:      maxSize,
			SessionID:    round.SessionID,
			ClusterID:    clusters[i],
			Active:       true,
		})
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	for i, participant := range participants {
		slot := i % groupCount
		_, err := tx.CreateGroupMembership(GroupMembership{
			GroupID:           groups[slot].ID,
			ParticipantID:     participant.ID,
			ParticipantNumber: i/groupCount + 1,
			RoundJoined:       experiment.CurrentRoundSequenceNumber,
			Active:            true,
		})
		if err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// carryGroupsForward archives the prior session group set and recreates it
// with identical membership, active from the current round.
func (s *Service) carryGroupsForward(tx Transaction, experiment Experiment, round RoundConfiguration, prior []Group) ([]Group, error) {
	groups := make([]Group, 0, len(prior))
	for _, old := range prior {
		memberships := tx.ListGroupMemberships(old.ID)

		fresh, err := tx.CreateGroup(Group{
			ExperimentID: experiment.ID,
			Number:       old.Number,
			MaxSize:      old.MaxSize,
			SessionID:    round.SessionID,
			ClusterID:    old.ClusterID,
			Active:       true,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range memberships {
			if !m.Active {
				continue
			}
			_, err := tx.CreateGroupMembership(GroupMembership{
				GroupID:           fresh.ID,
				ParticipantID:     m.ParticipantID,
				ParticipantNumber: m.ParticipantNumber,
				RoundJoined:       experiment.CurrentRoundSequenceNumber,
				Active:            true,
			})
			if err != nil {
				return nil, err
			}
		}
		if err := retireGroup(tx, old); err != nil {
			return nil, err
		}
		groups = append(groups, fresh)
	}
	return groups, nil
}

func activeSessionGroups(tx Transaction, experimentID, sessionID string) []Group {
	var out []Group
	for _, g := range tx.ListGroups(experimentID) {
		if g.Active && g.SessionID == sessionID {
			out = append(out, g)
		}
	}
	return out
}

// retireSessionGroups either archives or deletes the prior set. Deletion
// cascades to memberships; archival flags the group and its memberships
// inactive but keeps them queryable.
func retireSessionGroups(tx Transaction, prior []Group, preserve bool) error {
	for _, g := range prior {
		if preserve {
			if err := retireGroup(tx, g); err != nil {
				return err
			}
			continue
		}
		if err := tx.DeleteGroup(g.ID); err != nil {
			return err
		}
	}
	return nil
}

func retireGroup(tx Transaction, g Group) error {
	for _, m := range tx.ListGroupMemberships(g.ID) {
		if !m.Active {
			continue
		}
		_, err := tx.UpdateGroupMembership(m.ID, func(gm *GroupMembership) error {
			gm.Active = false
			return nil
		})
		if err != nil {
			return err
		}
	}
	_, err := tx.UpdateGroup(g.ID, func(group *Group) error {
		group.Active = false
		return nil
	})
	return err
}

// clusterIDs returns per-group cluster identifiers. Adjacent group pairs
// share one cluster so paired-group experiment types can address both halves.
func clusterIDs(groupCount int, clustered bool) []string {
	ids := make([]string, groupCount)
	if !clustered {
		return ids
	}
	for i := 0; i < groupCount; i += 2 {
		cluster := uuid.NewString()
		ids[i] = cluster
		if i+1 < groupCount {
			ids[i+1] = cluster
		}
	}
	return ids
}
