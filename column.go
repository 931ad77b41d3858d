package trino

import (
	"encoding/json"
	"fmt"
)

// Column represents metadata about a column in a query result.
type Column struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the full Trino/Presto data type as a string, e.g. "decimal(10,2)"
	Type string `json:"type"`

	// TypeSignature contains the structured type information
	TypeSignature TypeSignature `json:"typeSignature"`
}

// TypeSignature is the structured form of a column type: a raw type name
// plus its arguments. Composite types (array, map, row) carry nested
// signatures in their arguments; parameterized scalars (decimal, varchar,
// timestamp) carry numeric arguments.
type TypeSignature struct {
	// RawType is the base type name (e.g. "varchar", "bigint", "array")
	RawType string `json:"rawType"`

	// Arguments describe the type parameters, if any
	Arguments []TypeArgument `json:"arguments,omitempty"`
}

// TypeArgumentKind discriminates the payload of a TypeArgument.
type TypeArgumentKind string

const (
	// TypeArgKindType marks a nested type signature (array/map elements).
	TypeArgKindType TypeArgumentKind = "TYPE"
	// TypeArgKindNamedType marks a named nested signature (row fields).
	TypeArgKindNamedType TypeArgumentKind = "NAMED_TYPE"
	// TypeArgKindLong marks a numeric parameter (precision, scale, length).
	TypeArgKindLong TypeArgumentKind = "LONG"
	// TypeArgKindVariable marks an unresolved type variable.
	TypeArgKindVariable TypeArgumentKind = "VARIABLE"
)

// TypeArgument is one argument of a TypeSignature. The Kind field determines
// which of the decoded payloads is populated.
type TypeArgument struct {
	Kind  TypeArgumentKind `json:"kind"`
	Value json.RawMessage  `json:"value"`

	// Decoded payloads, populated by UnmarshalJSON according to Kind.
	typeSignature      TypeSignature
	namedTypeSignature NamedTypeSignature
	long               int64
}

// NamedTypeSignature is a row field: an optional field name plus the field's
// type signature.
type NamedTypeSignature struct {
	FieldName     *RowFieldName `json:"fieldName,omitempty"`
	TypeSignature TypeSignature `json:"typeSignature"`
}

// RowFieldName wraps the name of a row field.
type RowFieldName struct {
	Name string `json:"name"`
}

// UnmarshalJSON decodes the argument's value according to its kind.
func (a *TypeArgument) UnmarshalJSON(data []byte) error {
	type rawArgument TypeArgument
	var raw rawArgument
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = TypeArgument(raw)

	switch a.Kind {
	case TypeArgKindType:
		return json.Unmarshal(a.Value, &a.typeSignature)
	case TypeArgKindNamedType:
		return json.Unmarshal(a.Value, &a.namedTypeSignature)
	case TypeArgKindLong:
		return json.Unmarshal(a.Value, &a.long)
	}
	// VARIABLE and unknown kinds keep only the raw value.
	return nil
}

// MarshalJSON re-encodes the decoded payload so a signature round-trips.
func (a TypeArgument) MarshalJSON() ([]byte, error) {
	var payload any
	switch a.Kind {
	case TypeArgKindType:
		payload = a.typeSignature
	case TypeArgKindNamedType:
		payload = a.namedTypeSignature
	case TypeArgKindLong:
		payload = a.long
	default:
		payload = a.Value
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Kind  TypeArgumentKind `json:"kind"`
		Value json.RawMessage  `json:"value"`
	}{Kind: a.Kind, Value: value})
}

// TypeSignature returns the nested signature of a TYPE argument.
func (a *TypeArgument) TypeSignature() (TypeSignature, bool) {
	return a.typeSignature, a.Kind == TypeArgKindType
}

// NamedTypeSignature returns the payload of a NAMED_TYPE argument.
func (a *TypeArgument) NamedTypeSignature() (NamedTypeSignature, bool) {
	return a.namedTypeSignature, a.Kind == TypeArgKindNamedType
}

// Long returns the payload of a LONG argument.
func (a *TypeArgument) Long() (int64, bool) {
	return a.long, a.Kind == TypeArgKindLong
}

// LongArgument builds a LONG type argument.
func LongArgument(v int64) TypeArgument {
	return TypeArgument{Kind: TypeArgKindLong, long: v}
}

// TypeArg builds a TYPE argument wrapping a nested signature.
func TypeArg(sig TypeSignature) TypeArgument {
	return TypeArgument{Kind: TypeArgKindType, typeSignature: sig}
}

// NamedTypeArg builds a NAMED_TYPE argument for a row field.
func NamedTypeArg(name string, sig TypeSignature) TypeArgument {
	return TypeArgument{
		Kind: TypeArgKindNamedType,
		namedTypeSignature: NamedTypeSignature{
			FieldName:     &RowFieldName{Name: name},
			TypeSignature: sig,
		},
	}
}

// sameColumns reports whether two column lists carry identical metadata.
// A change between batches of the same query is a protocol violation.
func sameColumns(a, b []Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}

// precisionScale extracts the two LONG arguments of a decimal signature.
func precisionScale(sig TypeSignature) (precision, scale int64, err error) {
	if len(sig.Arguments) != 2 {
		return 0, 0, fmt.Errorf("decimal signature has %d arguments, want 2", len(sig.Arguments))
	}
	p, ok := sig.Arguments[0].Long()
	if !ok {
		return 0, 0, fmt.Errorf("decimal precision argument is %s, want LONG", sig.Arguments[0].Kind)
	}
	s, ok := sig.Arguments[1].Long()
	if !ok {
		return 0, 0, fmt.Errorf("decimal scale argument is %s, want LONG", sig.Arguments[1].Kind)
	}
	return p, s, nil
}
