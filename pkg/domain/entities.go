// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by roundcore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityParameter identifies a typed experiment parameter definition.
	EntityParameter EntityType = "parameter"
	// EntityExperimentConfiguration identifies an authored experiment configuration.
	EntityExperimentConfiguration EntityType = "experiment_configuration"
	// EntityRoundConfiguration identifies one authored round template.
	EntityRoundConfiguration EntityType = "round_configuration"
	// EntityExperiment identifies a running experiment instance.
	EntityExperiment EntityType = "experiment"
	// EntityRoundData identifies one concrete round execution.
	EntityRoundData EntityType = "round_data"
	// EntityParticipant identifies an enrolled participant.
	EntityParticipant EntityType = "participant"
	// EntityGroup identifies an allocated participant group.
	EntityGroup EntityType = "group"
	// EntityGroupMembership identifies a participant-to-group relationship.
	EntityGroupMembership EntityType = "group_membership"
	// EntityDataValue identifies a scope-qualified persisted data value.
	EntityDataValue EntityType = "data_value"
)

// ExperimentStatus represents the lifecycle state of a running experiment.
type ExperimentStatus string

// Canonical experiment lifecycle states owned by the round sequencer.
const (
	// StatusInactive indicates an experiment that has not been activated.
	StatusInactive ExperimentStatus = "INACTIVE"
	// StatusActive indicates an experiment currently executing rounds.
	StatusActive ExperimentStatus = "ACTIVE"
	// StatusCompleted indicates the round sequence has been exhausted.
	StatusCompleted ExperimentStatus = "COMPLETED"
	// StatusArchived is the terminal administrative state.
	StatusArchived ExperimentStatus = "ARCHIVED"
)

// ParameterScope enumerates the entity level a parameter's values attach to.
type ParameterScope string

// Parameter scopes, one per data-value bucket.
const (
	ScopeExperiment  ParameterScope = "experiment"
	ScopeRound       ParameterScope = "round"
	ScopeGroup       ParameterScope = "group"
	ScopeParticipant ParameterScope = "participant"
)

// Valid reports whether the scope is one of the four supported levels.
func (s ParameterScope) Valid() bool {
	switch s {
	case ScopeExperiment, ScopeRound, ScopeGroup, ScopeParticipant:
		return true
	}
	return false
}

// ParameterType enumerates the dynamic types a parameter value may carry.
type ParameterType string

// Supported parameter value types. The type determines which scalar variant
// is legal for values of a parameter; it is never inferred from naming.
const (
	TypeBool   ParameterType = "boolean"
	TypeInt    ParameterType = "int"
	TypeFloat  ParameterType = "float"
	TypeString ParameterType = "string"
)

// Valid reports whether the type is one of the supported variants.
func (t ParameterType) Valid() bool {
	switch t {
	case TypeBool, TypeInt, TypeFloat, TypeString:
		return true
	}
	return false
}

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Parameter defines a named, typed, scope-qualified slot for dynamic
// experiment data. (Name, ExperimentType, Scope) is unique. Parameters are
// created by experiment-type setup code and are immutable after creation
// except for display metadata.
type Parameter struct {
	Base
	Name           string         `json:"name"`
	ExperimentType string         `json:"experiment_type"`
	Scope          ParameterScope `json:"scope"`
	Type           ParameterType  `json:"type"`
	DefaultValue   Scalar         `json:"default_value"`
	MultiValued    bool           `json:"multi_valued"`
	DisplayName    string         `json:"display_name,omitempty"`
	Description    string         `json:"description,omitempty"`
}

// ExperimentConfiguration is the authored template an experiment instance
// runs from. It owns an ordered set of round configurations.
type ExperimentConfiguration struct {
	Base
	Name           string `json:"name"`
	ExperimentType string `json:"experiment_type"`
	MaxGroupSize   int    `json:"max_group_size"`
}

// RoundConfiguration is the authored template for one step of an experiment.
// Repeat counts extra repetitions beyond the first execution. Read-only
// during execution.
type RoundConfiguration struct {
	Base
	ConfigurationID        string `json:"configuration_id"`
	SequenceNumber         int    `json:"sequence_number"`
	RoundType              string `json:"round_type"`
	Repeat                 int    `json:"repeat"`
	DurationSeconds        int    `json:"duration_seconds"`
	RandomizeGroups        bool   `json:"randomize_groups"`
	PreserveExistingGroups bool   `json:"preserve_existing_groups"`
	CreateGroupClusters    bool   `json:"create_group_clusters"`
	SessionID              string `json:"session_id,omitempty"`
	InitializeDataValues   bool   `json:"initialize_data_values"`
}

// Experiment is one running instance of an experiment configuration. Its
// mutable round-position fields are owned exclusively by the round sequencer.
type Experiment struct {
	Base
	Name                               string           `json:"name"`
	ConfigurationID                    string           `json:"configuration_id"`
	ExperimentType                     string           `json:"experiment_type"`
	Status                             ExperimentStatus `json:"status"`
	CurrentRoundSequenceNumber         int              `json:"current_round_sequence_number"`
	CurrentRepeatedRoundSequenceNumber int              `json:"current_repeated_round_sequence_number"`
	CurrentRoundStartTime              *time.Time       `json:"current_round_start_time,omitempty"`
	AuthToken                          string           `json:"auth_token,omitempty"`
}

// RoundData is one concrete execution of a round configuration, keyed
// uniquely by (ExperimentID, RoundConfigurationID, RepeatingRoundSequenceNumber).
type RoundData struct {
	Base
	ExperimentID                 string `json:"experiment_id"`
	RoundConfigurationID         string `json:"round_configuration_id"`
	RepeatingRoundSequenceNumber int    `json:"repeating_round_sequence_number"`
	ExperimenterNotes            string `json:"experimenter_notes,omitempty"`
	ElapsedSeconds               int64  `json:"elapsed_seconds"`
}

// Participant is one enrolled subject. JoinOrder records natural creation
// order and drives deterministic group allocation.
type Participant struct {
	Base
	ExperimentID string `json:"experiment_id"`
	Identifier   string `json:"identifier"`
	JoinOrder    int    `json:"join_order"`
}

// Group is a fixed-capacity partition of participants created by the group
// allocator at a round boundary. Size is never mutated after creation;
// regrouping creates a new group set.
type Group struct {
	Base
	ExperimentID string `json:"experiment_id"`
	Number       int    `json:"number"`
	MaxSize      int    `json:"max_size"`
	SessionID    string `json:"session_id,omitempty"`
	ClusterID    string `json:"cluster_id,omitempty"`
	Active       bool   `json:"active"`
}

// GroupMembership links one participant to one group for a span of rounds
// starting at RoundJoined. ParticipantNumber is unique within the group.
type GroupMembership struct {
	Base
	GroupID           string `json:"group_id"`
	ParticipantID     string `json:"participant_id"`
	ParticipantNumber int    `json:"participant_number"`
	RoundJoined       int    `json:"round_joined"`
	Active            bool   `json:"active"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)
