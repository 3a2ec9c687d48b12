package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Scalar is the fixed-shape variant record carried by parameters and data
// values. Exactly one payload field is meaningful, selected by Kind.
type Scalar struct {
	Kind  ParameterType `json:"kind"`
	Bool  bool          `json:"bool,omitempty"`
	Int   int64         `json:"int,omitempty"`
	Float float64       `json:"float,omitempty"`
	Str   string        `json:"str,omitempty"`
}

// BoolScalar wraps a boolean payload.
func BoolScalar(v bool) Scalar { return Scalar{Kind: TypeBool, Bool: v} }

// IntScalar wraps an integer payload.
func IntScalar(v int64) Scalar { return Scalar{Kind: TypeInt, Int: v} }

// FloatScalar wraps a float payload.
func FloatScalar(v float64) Scalar { return Scalar{Kind: TypeFloat, Float: v} }

// StringScalar wraps a string payload.
func StringScalar(v string) Scalar { return Scalar{Kind: TypeString, Str: v} }

// Matches reports whether the scalar's kind equals the parameter type t.
func (s Scalar) Matches(t ParameterType) bool { return s.Kind == t }

// IsZero reports whether the scalar carries no kind at all.
func (s Scalar) IsZero() bool { return s.Kind == "" }

// Equal compares kind and the payload selected by it.
func (s Scalar) Equal(other Scalar) bool {
	if s.Kind != other.Kind {
		return false
	}
	switch s.Kind {
	case TypeBool:
		return s.Bool == other.Bool
	case TypeInt:
		return s.Int == other.Int
	case TypeFloat:
		return s.Float == other.Float
	case TypeString:
		return s.Str == other.Str
	}
	return true
}

// Interface returns the payload as an untyped value for projections.
func (s Scalar) Interface() any {
	switch s.Kind {
	case TypeBool:
		return s.Bool
	case TypeInt:
		return s.Int
	case TypeFloat:
		return s.Float
	case TypeString:
		return s.Str
	}
	return nil
}

func (s Scalar) String() string {
	switch s.Kind {
	case TypeBool:
		return fmt.Sprintf("%t", s.Bool)
	case TypeInt:
		return fmt.Sprintf("%d", s.Int)
	case TypeFloat:
		return fmt.Sprintf("%g", s.Float)
	case TypeString:
		return s.Str
	}
	return ""
}

// ScalarFrom converts a dynamically typed value into a Scalar of the
// requested parameter type. Numeric widening (int -> float) is the only
// implicit conversion; everything else is a type mismatch.
func ScalarFrom(t ParameterType, value any) (Scalar, error) {
	switch t {
	case TypeBool:
		if b, ok := value.(bool); ok {
			return BoolScalar(b), nil
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
			return IntScalar(int64(v)), nil
		case int64:
			return IntScalar(v), nil
		}
	case TypeFloat:
		switch v := value.(type) {
		case float64:
			return FloatScalar(v), nil
		case int:
			return FloatScalar(float64(v)), nil
		case int64:
			return FloatScalar(float64(v)), nil
		}
	case TypeString:
		if s, ok := value.(string); ok {
			return StringScalar(s), nil
		}
	default:
		return Scalar{}, fmt.Errorf("unsupported parameter type %q", t)
	}
	return Scalar{}, TypeMismatchError{Want: t, Got: fmt.Sprintf("%T", value)}
}

// Value is the common read interface over persisted data values and
// non-persisted defaults. Callers never branch on which variant they hold.
type Value interface {
	Kind() ParameterType
	Bool() bool
	Int() int64
	Float() float64
	Str() string
	// Persisted reports whether the value is backed by a stored row.
	Persisted() bool
}

// DataValue is one persisted, scope-qualified value row. Scope selects the
// bucket the row lives in; EntityID references the scope entity.
type DataValue struct {
	Base
	Scope        ParameterScope `json:"scope"`
	EntityID     string         `json:"entity_id"`
	ParameterID  string         `json:"parameter_id"`
	RoundDataID  string         `json:"round_data_id"`
	Scalar       Scalar         `json:"scalar"`
	LastModified time.Time      `json:"last_modified"`
}

// Kind returns the scalar's parameter type.
func (v DataValue) Kind() ParameterType { return v.Scalar.Kind }

// Bool returns the boolean payload.
func (v DataValue) Bool() bool { return v.Scalar.Bool }

// Int returns the integer payload.
func (v DataValue) Int() int64 { return v.Scalar.Int }

// Float returns the float payload.
func (v DataValue) Float() float64 { return v.Scalar.Float }

// Str returns the string payload.
func (v DataValue) Str() string { return v.Scalar.Str }

// Persisted always reports true for a stored row.
func (v DataValue) Persisted() bool { return true }

// DefaultValue is the non-persisted stand-in returned on lookup miss. It is
// read-only and never written back implicitly.
type DefaultValue struct {
	scalar Scalar
}

// NewDefaultValue wraps a scalar in the read-only default variant.
func NewDefaultValue(s Scalar) DefaultValue { return DefaultValue{scalar: s} }

// Kind returns the wrapped scalar's type.
func (v DefaultValue) Kind() ParameterType { return v.scalar.Kind }

// Bool returns the boolean payload.
func (v DefaultValue) Bool() bool { return v.scalar.Bool }

// Int returns the integer payload.
func (v DefaultValue) Int() int64 { return v.scalar.Int }

// Float returns the float payload.
func (v DefaultValue) Float() float64 { return v.scalar.Float }

// Str returns the string payload.
func (v DefaultValue) Str() string { return v.scalar.Str }

// Persisted always reports false for a default.
func (v DefaultValue) Persisted() bool { return false }

// MarshalJSON serialises the wrapped scalar so projections treat defaults
// and persisted values uniformly.
func (v DefaultValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.scalar)
}

var (
	_ Value = DataValue{}
	_ Value = DefaultValue{}
)
