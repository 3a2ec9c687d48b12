package push_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"roundcore/internal/push"
	"roundcore/pkg/domain"
)

type fakePublisher struct {
	published map[string][][]byte
	fail      map[string]error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		published: make(map[string][][]byte),
		fail:      make(map[string]error),
	}
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if err := p.fail[channel]; err != nil {
		return err
	}
	p.published[channel] = append(p.published[channel], payload)
	return nil
}

type fakeState struct {
	experiments map[string]domain.Experiment
	groups      map[string][]domain.Group
}

func (s *fakeState) GetExperiment(id string) (domain.Experiment, bool) {
	e, ok := s.experiments[id]
	return e, ok
}

func (s *fakeState) ListGroups(experimentID string) []domain.Group {
	return s.groups[experimentID]
}

func testState() *fakeState {
	active := domain.Group{ExperimentID: "exp-1", Number: 1, Active: true}
	active.ID = "grp-1"
	retired := domain.Group{ExperimentID: "exp-1", Number: 1, Active: false}
	retired.ID = "grp-0"
	experiment := domain.Experiment{AuthToken: "secret-token"}
	experiment.ID = "exp-1"
	return &fakeState{
		experiments: map[string]domain.Experiment{"exp-1": experiment},
		groups:      map[string][]domain.Group{"exp-1": {retired, active}},
	}
}

func TestHandleEventFansOutToActiveGroupChannels(t *testing.T) {
	publisher := newFakePublisher()
	gateway := push.NewGateway(publisher, testState())

	event := domain.LifecycleEvent{
		Type:                 domain.EventRoundStarted,
		ExperimentID:         "exp-1",
		RoundConfigurationID: "rc-1",
		RoundDataID:          "rd-1",
		Timestamp:            time.Now().UTC(),
	}
	if err := gateway.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	experimentChannel := push.ExperimentChannel("exp-1")
	if len(publisher.published[experimentChannel]) != 1 {
		t.Fatalf("experiment channel got %d messages", len(publisher.published[experimentChannel]))
	}
	groupChannel := push.GroupChannel("exp-1", "grp-1")
	if len(publisher.published[groupChannel]) != 1 {
		t.Fatalf("active group channel got %d messages", len(publisher.published[groupChannel]))
	}
	if got := publisher.published[push.GroupChannel("exp-1", "grp-0")]; len(got) != 0 {
		t.Fatalf("retired group should receive nothing, got %d", len(got))
	}

	var envelope struct {
		Message   map[string]any `json:"message"`
		EventType string         `json:"event_type"`
	}
	if err := json.Unmarshal(publisher.published[experimentChannel][0], &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.EventType != "round_started" {
		t.Fatalf("unexpected event type %q", envelope.EventType)
	}
	if envelope.Message["experiment_id"] != "exp-1" || envelope.Message["round_data_id"] != "rd-1" {
		t.Fatalf("message payload mangled: %+v", envelope.Message)
	}
	if envelope.Message["id"] == "" {
		t.Fatalf("message should carry a unique id")
	}
}

func TestHandleEventContinuesPastFailedChannel(t *testing.T) {
	publisher := newFakePublisher()
	publisher.fail[push.ExperimentChannel("exp-1")] = errors.New("transport down")
	gateway := push.NewGateway(publisher, testState())

	err := gateway.HandleEvent(context.Background(), domain.LifecycleEvent{
		Type:         domain.EventRoundEnded,
		ExperimentID: "exp-1",
	})
	if err == nil {
		t.Fatalf("failed channel should be reported")
	}
	if got := publisher.published[push.GroupChannel("exp-1", "grp-1")]; len(got) != 1 {
		t.Fatalf("remaining channels should still be published, got %d", len(got))
	}
}

func TestAuthorize(t *testing.T) {
	gateway := push.NewGateway(newFakePublisher(), testState())

	if !gateway.Authorize("exp-1", "secret-token") {
		t.Fatalf("matching token should be admitted")
	}
	if gateway.Authorize("exp-1", "wrong") {
		t.Fatalf("wrong token must be rejected")
	}
	if gateway.Authorize("exp-1", "") {
		t.Fatalf("empty token must be rejected")
	}
	if gateway.Authorize("no-such-experiment", "secret-token") {
		t.Fatalf("unknown experiment must be rejected")
	}

	// An experiment that was never activated has no token and admits nobody.
	state := testState()
	inactive := domain.Experiment{}
	inactive.ID = "exp-2"
	state.experiments["exp-2"] = inactive
	gateway = push.NewGateway(newFakePublisher(), state)
	if gateway.Authorize("exp-2", "") {
		t.Fatalf("tokenless experiment must admit nobody")
	}
}
