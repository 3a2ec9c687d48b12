package core_test

import (
	"context"
	"errors"
	"testing"

	"roundcore/internal/core"
	"roundcore/pkg/domain"
)

func TestAllocateDeterministicGroups(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, rounds := buildExperiment(t, svc, 5, 10, roundSpec{sequence: 1})

	groups, _, err := svc.AllocateGroups(ctx, experiment.ID, rounds[0].ID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups for 10 participants at max 5, got %d", len(groups))
	}

	participants := svc.ListParticipants(ctx, experiment.ID)
	seen := make(map[string]bool, len(participants))
	for gi, group := range groups {
		if group.Number != gi+1 {
			t.Fatalf("group %d has number %d", gi, group.Number)
		}
		if group.MaxSize != 5 {
			t.Fatalf("group %d has max size %d", gi, group.MaxSize)
		}
		if !group.Active {
			t.Fatalf("group %d is not active", gi)
		}
		members := svc.ListGroupMemberships(ctx, group.ID)
		if len(members) != 5 {
			t.Fatalf("group %d has %d members", gi, len(members))
		}
		numbers := make(map[int]bool, len(members))
		for _, m := range members {
			if m.ParticipantNumber < 1 || m.ParticipantNumber > 5 {
				t.Fatalf("participant number %d out of range", m.ParticipantNumber)
			}
			if numbers[m.ParticipantNumber] {
				t.Fatalf("duplicate participant number %d in group %d", m.ParticipantNumber, gi)
			}
			numbers[m.ParticipantNumber] = true
			if seen[m.ParticipantID] {
				t.Fatalf("participant %s allocated twice", m.ParticipantID)
			}
			seen[m.ParticipantID] = true
		}
	}
	if len(seen) != len(participants) {
		t.Fatalf("allocated %d participants, expected %d", len(seen), len(participants))
	}

	// Without randomization the join order maps straight onto groups.
	first := svc.ListGroupMemberships(ctx, groups[0].ID)
	if first[0].ParticipantID != participants[0].ID {
		t.Fatalf("first participant should land in the first group")
	}
}

func TestAllocateUnevenSplit(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, rounds := buildExperiment(t, svc, 4, 7, roundSpec{sequence: 1})

	groups, _, err := svc.AllocateGroups(ctx, experiment.ID, rounds[0].ID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected ceil(7/4)=2 groups, got %d", len(groups))
	}
	total := 0
	for _, group := range groups {
		members := svc.ListGroupMemberships(ctx, group.ID)
		if len(members) > group.MaxSize {
			t.Fatalf("group %d over capacity: %d > %d", group.Number, len(members), group.MaxSize)
		}
		total += len(members)
	}
	if total != 7 {
		t.Fatalf("membership total %d, expected 7", total)
	}
}

func TestAllocateRandomizedKeepsInvariants(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, rounds := buildExperiment(t, svc, 3, 9, roundSpec{sequence: 1})

	round, _, err := svc.CreateRoundConfiguration(ctx, core.RoundConfiguration{
		ConfigurationID: rounds[0].ConfigurationID,
		SequenceNumber:  2,
		RoundType:       "regular",
		RandomizeGroups: true,
	})
	if err != nil {
		t.Fatalf("create randomized round: %v", err)
	}

	groups, _, err := svc.AllocateGroups(ctx, experiment.ID, round.ID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	seen := make(map[string]bool)
	for _, group := range groups {
		members := svc.ListGroupMemberships(ctx, group.ID)
		if len(members) != 3 {
			t.Fatalf("group %d has %d members", group.Number, len(members))
		}
		for _, m := range members {
			if seen[m.ParticipantID] {
				t.Fatalf("participant %s allocated twice", m.ParticipantID)
			}
			seen[m.ParticipantID] = true
		}
	}
	if len(seen) != 9 {
		t.Fatalf("allocated %d participants, expected 9", len(seen))
	}
}

func TestAllocateRequiresCapacityAndParticipants(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()

	experiment, rounds := buildExperiment(t, svc, 0, 4, roundSpec{sequence: 1})
	var constraint domain.AllocationConstraintError
	if _, _, err := svc.AllocateGroups(ctx, experiment.ID, rounds[0].ID); !errors.As(err, &constraint) {
		t.Fatalf("zero max group size should fail with AllocationConstraintError, got %v", err)
	}

	empty, emptyRounds := buildExperiment(t, svc, 5, 0, roundSpec{sequence: 1})
	if _, _, err := svc.AllocateGroups(ctx, empty.ID, emptyRounds[0].ID); !errors.As(err, &constraint) {
		t.Fatalf("no participants should fail with AllocationConstraintError, got %v", err)
	}
}

func TestAllocatePreservesGroupsAcrossRounds(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, rounds := buildExperiment(t, svc, 3, 6, roundSpec{sequence: 1})

	first, _, err := svc.AllocateGroups(ctx, experiment.ID, rounds[0].ID)
	if err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	membership := make(map[string]int)
	for _, group := range first {
		for _, m := range svc.ListGroupMemberships(ctx, group.ID) {
			membership[m.ParticipantID] = group.Number
		}
	}

	preserving, _, err := svc.CreateRoundConfiguration(ctx, core.RoundConfiguration{
		ConfigurationID:        rounds[0].ConfigurationID,
		SequenceNumber:         2,
		RoundType:              "regular",
		PreserveExistingGroups: true,
	})
	if err != nil {
		t.Fatalf("create preserving round: %v", err)
	}

	second, _, err := svc.AllocateGroups(ctx, experiment.ID, preserving.ID)
	if err != nil {
		t.Fatalf("second allocation: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("preserving allocation changed group count: %d -> %d", len(first), len(second))
	}
	for _, group := range second {
		for _, m := range svc.ListGroupMemberships(ctx, group.ID) {
			if membership[m.ParticipantID] != group.Number {
				t.Fatalf("participant %s moved from group %d to %d",
					m.ParticipantID, membership[m.ParticipantID], group.Number)
			}
		}
	}

	// The carried-forward set replaces the old one; only the new groups stay active.
	active := 0
	for _, group := range svc.ListGroups(ctx, experiment.ID) {
		if group.Active {
			active++
		}
	}
	if active != len(second) {
		t.Fatalf("expected %d active groups after carry-forward, got %d", len(second), active)
	}
}

func TestAllocateClustersPairAdjacentGroups(t *testing.T) {
	svc := core.NewInMemoryService(core.DefaultRulesEngine())
	ctx := context.Background()
	experiment, rounds := buildExperiment(t, svc, 2, 8, roundSpec{sequence: 1})

	clustered, _, err := svc.CreateRoundConfiguration(ctx, core.RoundConfiguration{
		ConfigurationID:     rounds[0].ConfigurationID,
		SequenceNumber:      2,
		RoundType:           "regular",
		CreateGroupClusters: true,
	})
	if err != nil {
		t.Fatalf("create clustered round: %v", err)
	}

	groups, _, err := svc.AllocateGroups(ctx, experiment.ID, clustered.ID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(groups) != 4 {
		t.Fatalf("expected 4 groups, got %d", len(groups))
	}
	if groups[0].ClusterID == "" || groups[0].ClusterID != groups[1].ClusterID {
		t.Fatalf("groups 1 and 2 should share a cluster")
	}
	if groups[2].ClusterID == "" || groups[2].ClusterID != groups[3].ClusterID {
		t.Fatalf("groups 3 and 4 should share a cluster")
	}
	if groups[0].ClusterID == groups[2].ClusterID {
		t.Fatalf("distinct pairs must have distinct cluster ids")
	}
}
