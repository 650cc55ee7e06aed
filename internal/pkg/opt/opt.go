// Package opt provides a tri-state optional value for partial-update requests.
//
// A Field is either absent (not provided), set to a value, or explicitly
// cleared (null). Update operations need all three: "profile_id unchanged"
// and "profile_id not specified" lead to different outcomes.
package opt

import (
	"bytes"
	"encoding/json"
)

// Field holds an optional, nullable value.
type Field[T any] struct {
	set   bool
	null  bool
	value T
}

// Of returns a Field set to v.
func Of[T any](v T) Field[T] {
	return Field[T]{set: true, value: v}
}

// Null returns a Field that is present and explicitly cleared.
func Null[T any]() Field[T] {
	return Field[T]{set: true, null: true}
}

// IsSet reports whether the field was provided (including an explicit null).
func (f Field[T]) IsSet() bool { return f.set }

// IsNull reports whether the field was provided as an explicit null.
func (f Field[T]) IsNull() bool { return f.set && f.null }

// HasValue reports whether the field carries a non-null value.
func (f Field[T]) HasValue() bool { return f.set && !f.null }

// Get returns the value and whether it is present and non-null.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.HasValue()
}

// Value returns the value, or the zero value when absent or null.
func (f Field[T]) Value() T { return f.value }

// OrElse returns the value when present and non-null, def otherwise.
func (f Field[T]) OrElse(def T) T {
	if f.HasValue() {
		return f.value
	}
	return def
}

// UnmarshalJSON marks the field present; a JSON null marks it cleared.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.null = true
		var zero T
		f.value = zero
		return nil
	}
	f.null = false
	return json.Unmarshal(data, &f.value)
}

// MarshalJSON renders absent and null fields as null.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.HasValue() {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}
