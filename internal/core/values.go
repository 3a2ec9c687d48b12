package core

import (
	"context"

	"roundcore/pkg/domain"
)

// ValueRef identifies one scoped value slot: the parameter identity tuple plus
// the entity the value is recorded against and the round it belongs to. For
// round-scoped parameters EntityID is the round data ID itself. An empty
// RoundDataID matches any round with latest-write-wins semantics, which
// experiment-scope parameters use since they are not round-bound.
type ValueRef struct {
	ExperimentType string
	ParameterName  string
	Scope          domain.ParameterScope
	EntityID       string
	RoundDataID    string
}

// GetValue returns the persisted value for the slot, or a non-persisted
// default when no row exists. The fallback scalar takes precedence over the
// parameter's declared default; pass nil to use the declared default. A lookup
// never creates a row. An unregistered parameter yields
// ParameterNotFoundError.
func (s *Service) GetValue(ctx context.Context, ref ValueRef, fallback *Scalar) (Value, error) {
	parameter, err := s.resolveParameter(ctx, ref.ExperimentType, ref.ParameterName, ref.Scope)
	if err != nil {
		return nil, err
	}

	var found *DataValue
	err = s.store.View(ctx, func(view TransactionView) error {
		if dv, ok := view.FindDataValue(ref.Scope, ref.EntityID, parameter.ID, ref.RoundDataID); ok {
			found = &dv
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found != nil {
		return *found, nil
	}
	if fallback != nil {
		return domain.NewDefaultValue(*fallback), nil
	}
	return domain.NewDefaultValue(parameter.DefaultValue), nil
}

// SetValue writes a scalar to the slot. The scalar's kind must match the
// parameter's declared type. Single-valued parameters are updated in place;
// multi-valued parameters accumulate a new row per call. An unregistered
// parameter yields ParameterNotFoundError and leaves the store unchanged.
func (s *Service) SetValue(ctx context.Context, ref ValueRef, value Scalar) (DataValue, Result, error) {
	parameter, err := s.resolveParameter(ctx, ref.ExperimentType, ref.ParameterName, ref.Scope)
	if err != nil {
		return DataValue{}, Result{}, err
	}
	if !value.Matches(parameter.Type) {
		return DataValue{}, Result{}, domain.TypeMismatchError{
			Parameter: parameter.Name,
			Want:      parameter.Type,
			Got:       string(value.Kind),
		}
	}

	var written DataValue
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		existing, ok := tx.FindDataValue(ref.Scope, ref.EntityID, parameter.ID, ref.RoundDataID)
		if ok && !parameter.MultiValued {
			var err error
			written, err = tx.UpdateDataValue(existing.ID, func(dv *DataValue) error {
				dv.Scalar = value
				return nil
			})
			return err
		}
		var err error
		written, err = tx.CreateDataValue(DataValue{
			Scope:       ref.Scope,
			EntityID:    ref.EntityID,
			ParameterID: parameter.ID,
			RoundDataID: ref.RoundDataID,
			Scalar:      value,
		})
		return err
	})
	return written, res, err
}

// ListValues returns every persisted row for the slot ordered oldest first.
// Single-valued parameters yield at most one row per update history collapse;
// this accessor exists for multi-valued parameters such as chat transcripts.
func (s *Service) ListValues(ctx context.Context, ref ValueRef) ([]DataValue, error) {
	parameter, err := s.resolveParameter(ctx, ref.ExperimentType, ref.ParameterName, ref.Scope)
	if err != nil {
		return nil, err
	}
	var out []DataValue
	err = s.store.View(ctx, func(view TransactionView) error {
		out = view.ListDataValues(ref.Scope, ref.EntityID, parameter.ID, ref.RoundDataID)
		return nil
	})
	return out, err
}

// CopyToNextRound clones a persisted value into the round data immediately
// following the one it belongs to, carrying running totals forward across
// round boundaries. When the target round already holds a value for the same
// slot, the existing value wins and no row is written. Copying from the final
// round is a no-op.
func (s *Service) CopyToNextRound(ctx context.Context, experimentID string, value DataValue) (DataValue, Result, error) {
	var copied DataValue
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		rounds := tx.Snapshot().ListRoundDataForExperiment(experimentID)
		next := ""
		for i, rd := range rounds {
			if rd.ID == value.RoundDataID && i+1 < len(rounds) {
				next = rounds[i+1].ID
				break
			}
		}
		if next == "" {
			copied = value
			return nil
		}
		entityID := value.EntityID
		if value.Scope == domain.ScopeRound {
			entityID = next
		}
		if existing, ok := tx.FindDataValue(value.Scope, entityID, value.ParameterID, next); ok {
			copied = existing
			return nil
		}
		var err error
		copied, err = tx.CreateDataValue(DataValue{
			Scope:       value.Scope,
			EntityID:    entityID,
			ParameterID: value.ParameterID,
			RoundDataID: next,
			Scalar:      value.Scalar,
		})
		return err
	})
	return copied, res, err
}
