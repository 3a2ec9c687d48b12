package domain

import "time"

// EventType names a lifecycle signal fired by the round sequencer.
type EventType string

// Lifecycle events delivered to registered experiment-type handlers and the
// push collaborator.
const (
	// EventRoundStarted fires when a round's bookkeeping commits.
	EventRoundStarted EventType = "round_started"
	// EventRoundEnded fires when a round is finalized.
	EventRoundEnded EventType = "round_ended"
)

// LifecycleEvent carries the identifying tuple every signal handler and the
// push layer receive. Handlers get the event after the state machine's own
// bookkeeping has committed; their failures never roll the transition back.
type LifecycleEvent struct {
	Type                 EventType `json:"event_type"`
	ExperimentID         string    `json:"experiment_id"`
	RoundConfigurationID string    `json:"round_configuration_id"`
	RoundDataID          string    `json:"round_data_id"`
	Timestamp            time.Time `json:"timestamp"`
}
