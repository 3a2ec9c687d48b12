// Package push translates round lifecycle events into broadcast messages for
// the real-time transport. The wire transport itself (websocket server,
// message broker) lives outside this module; the gateway only produces
// envelopes on named channels and gates connecting clients by the
// experiment's server-issued auth token.
package push

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"roundcore/pkg/domain"
)

// Envelope is the wire format delivered on broadcast channels.
type Envelope struct {
	Message   any    `json:"message"`
	EventType string `json:"event_type"`
}

// Publisher delivers an encoded envelope on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// StateReader is the committed-state surface the gateway reads; the
// persistent stores satisfy it.
type StateReader interface {
	GetExperiment(id string) (domain.Experiment, bool)
	ListGroups(experimentID string) []domain.Group
}

// Gateway fans lifecycle events out to the per-experiment channel and each
// active group's channel.
type Gateway struct {
	publisher Publisher
	state     StateReader
}

// NewGateway constructs a gateway over the given transport and state reader.
func NewGateway(publisher Publisher, state StateReader) *Gateway {
	return &Gateway{publisher: publisher, state: state}
}

// ExperimentChannel names the broadcast channel for a whole experiment.
func ExperimentChannel(experimentID string) string {
	return "experiment." + experimentID
}

// GroupChannel names the broadcast channel for one group.
func GroupChannel(experimentID, groupID string) string {
	return "experiment." + experimentID + ".group." + groupID
}

// Authorize checks a connecting client's token against the experiment's
// server-issued one. Comparison is constant time; an experiment without a
// token (never activated) admits nobody.
func (g *Gateway) Authorize(experimentID, token string) bool {
	experiment, ok := g.state.GetExperiment(experimentID)
	if !ok || experiment.AuthToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(experiment.AuthToken), []byte(token)) == 1
}

type eventMessage struct {
	ID                   string    `json:"id"`
	ExperimentID         string    `json:"experiment_id"`
	RoundConfigurationID string    `json:"round_configuration_id"`
	RoundDataID          string    `json:"round_data_id"`
	Timestamp            time.Time `json:"timestamp"`
}

// HandleEvent is the lifecycle handler subscribed on the signal bus. Failures
// publishing to one channel do not stop the remaining channels; the first
// error is reported so the bus can log it.
func (g *Gateway) HandleEvent(ctx context.Context, event domain.LifecycleEvent) error {
	envelope := Envelope{
		EventType: string(event.Type),
		Message: eventMessage{
			ID:                   uuid.NewString(),
			ExperimentID:         event.ExperimentID,
			RoundConfigurationID: event.RoundConfigurationID,
			RoundDataID:          event.RoundDataID,
			Timestamp:            event.Timestamp,
		},
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode push envelope: %w", err)
	}

	channels := []string{ExperimentChannel(event.ExperimentID)}
	for _, group := range g.state.ListGroups(event.ExperimentID) {
		if group.Active {
			channels = append(channels, GroupChannel(event.ExperimentID, group.ID))
		}
	}

	var firstErr error
	for _, channel := range channels {
		if err := g.publisher.Publish(ctx, channel, payload); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish %s: %w", channel, err)
		}
	}
	return firstErr
}
