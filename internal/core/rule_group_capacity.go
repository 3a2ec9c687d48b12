package core

import (
	"context"
	"fmt"

	"roundcore/pkg/domain"
)

// NewGroupCapacityRule returns the default in-transaction rule enforcing
// group size limits and participant-number uniqueness among active members.
func NewGroupCapacityRule() domain.Rule {
	return groupCapacityRule{}
}

type groupCapacityRule struct{}

func (groupCapacityRule) Name() string { return "group_capacity" }

func (groupCapacityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, experiment := range view.ListExperiments() {
		for _, group := range view.ListGroups(experiment.ID) {
			active := 0
			numbers := make(map[int]int)
			for _, membership := range view.ListGroupMemberships(group.ID) {
				if !membership.Active {
					continue
				}
				active++
				numbers[membership.ParticipantNumber]++
				if membership.ParticipantNumber < 1 || membership.ParticipantNumber > group.MaxSize {
					res.Violations = append(res.Violations, domain.Violation{
						Rule:     "group_capacity",
						Severity: domain.SeverityBlock,
						Message:  fmt.Sprintf("group %d participant number %d outside 1..%d", group.Number, membership.ParticipantNumber, group.MaxSize),
						Entity:   domain.EntityGroupMembership,
						EntityID: membership.ID,
					})
				}
			}
			if active > group.MaxSize {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "group_capacity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("group %d over capacity: %d/%d active members", group.Number, active, group.MaxSize),
					Entity:   domain.EntityGroup,
					EntityID: group.ID,
				})
			}
			for number, count := range numbers {
				if count > 1 {
					res.Violations = append(res.Violations, domain.Violation{
						Rule:     "group_capacity",
						Severity: domain.SeverityBlock,
						Message:  fmt.Sprintf("group %d reuses participant number %d", group.Number, number),
						Entity:   domain.EntityGroup,
						EntityID: group.ID,
					})
				}
			}
		}
	}
	return res, nil
}
