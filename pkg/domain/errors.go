package domain

import "fmt"

// ErrNotFound is returned when a reference lookup fails within a transaction.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ParameterNotFoundError reports a lookup or write against an unregistered
// parameter name + scope. It is always surfaced, never silently defaulted.
type ParameterNotFoundError struct {
	ExperimentType string
	Name           string
	Scope          ParameterScope
}

func (e ParameterNotFoundError) Error() string {
	return fmt.Sprintf("parameter %q (scope %s) not registered for experiment type %q", e.Name, e.Scope, e.ExperimentType)
}

// TypeMismatchError reports a value whose dynamic type does not match the
// parameter's declared type.
type TypeMismatchError struct {
	Parameter string
	Want      ParameterType
	Got       string
}

func (e TypeMismatchError) Error() string {
	if e.Parameter == "" {
		return fmt.Sprintf("value of type %s does not match parameter type %s", e.Got, e.Want)
	}
	return fmt.Sprintf("parameter %q expects %s, got %s", e.Parameter, e.Want, e.Got)
}

// InvalidActionError reports an administrative action name that is unknown
// or not applicable to the experiment's current state. It is a recoverable,
// user-facing condition: stale UIs routinely produce it.
type InvalidActionError struct {
	Action string
	Status ExperimentStatus
	Reason string
}

func (e InvalidActionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("action %q not applicable (status %s): %s", e.Action, e.Status, e.Reason)
	}
	return fmt.Sprintf("unknown action %q", e.Action)
}

// RoundDataExistsError reports a duplicate attempt to create the round data
// row for an execution that already has one. Callers treating a transition
// as idempotent detect this and no-op.
type RoundDataExistsError struct {
	ExperimentID         string
	RoundConfigurationID string
	Repeat               int
}

func (e RoundDataExistsError) Error() string {
	return fmt.Sprintf("round data for experiment %s round %s repeat %d already exists", e.ExperimentID, e.RoundConfigurationID, e.Repeat)
}

// AllocationConstraintError indicates a misconfigured experiment (for
// example a non-positive max group size). It aborts the triggering
// transition and leaves prior state intact.
type AllocationConstraintError struct {
	ExperimentID string
	Reason       string
}

func (e AllocationConstraintError) Error() string {
	return fmt.Sprintf("group allocation for experiment %s violates constraints: %s", e.ExperimentID, e.Reason)
}
