// Package store defines the persistence contract used by the engine.
//
// Rows are JSON-shaped maps. Every implementation normalizes values through
// Normalize on write, so a row read back from memory looks exactly like a row
// read back from PostgreSQL: numbers are json.Number, timestamps are strings in
// TimeLayout, nested objects are map[string]any.
//
// Import Path: fleetd.io/fleetd/internal/store
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Table names.
const (
	TableProfiles        = "profiles"
	TablePolicies        = "policies"
	TableClusterPolicies = "cluster_policies"
	TableClusters        = "clusters"
	TableNodes           = "nodes"
	TableActions         = "actions"
	TableEvents          = "events"
	TableLocks           = "locks"
)

// Tables lists every table the engine uses, in creation order.
var Tables = []string{
	TableProfiles,
	TablePolicies,
	TableClusterPolicies,
	TableClusters,
	TableNodes,
	TableActions,
	TableEvents,
	TableLocks,
}

// Bookkeeping columns maintained by every implementation.
const (
	ColID        = "id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColDeletedAt = "deleted_at"
)

// TimeLayout is the fixed-width UTC layout used for stored timestamps.
// Fixed width keeps lexical order equal to chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

var (
	// ErrNotFound is returned by Get, Update and SoftDelete for a missing id.
	ErrNotFound = errors.New("store: row not found")
	// ErrDuplicate is returned by Create when the row id already exists.
	ErrDuplicate = errors.New("store: duplicate id")
	// ErrUnknownTable is returned for a table outside Tables.
	ErrUnknownTable = errors.New("store: unknown table")
)

// Row is a single persisted record.
type Row map[string]any

// ID returns the row id, or "" when absent.
func (r Row) ID() string {
	id, _ := r[ColID].(string)
	return id
}

// Deleted reports whether the row carries a deletion timestamp.
func (r Row) Deleted() bool {
	v, ok := r[ColDeletedAt]
	return ok && v != nil
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// Condition is a compare-and-set guard for Update: every field must hold the
// given value. A nil expected value matches a null or missing field.
type Condition map[string]any

// Query selects rows for List.
type Query struct {
	// Filters are exact-match field values, combined with AND. A field missing
	// from the row never matches.
	Filters map[string]any
	// IDPrefix restricts to ids starting with the prefix.
	IDPrefix string
	// ShowDeleted includes soft-deleted rows.
	ShowDeleted bool
}

// Store is the persistence contract. Implementations must make Update with a
// non-empty Condition atomic.
type Store interface {
	// Create inserts a row and returns its id. A row without an id gets a
	// fresh UUIDv7. created_at and updated_at are set by the store.
	Create(ctx context.Context, table string, row Row) (string, error)

	// Get returns a row by id, including soft-deleted rows.
	Get(ctx context.Context, table, id string) (Row, error)

	// Update merges fields into the row when cond holds. It returns false,
	// without error, when the row exists but cond does not hold.
	Update(ctx context.Context, table, id string, fields Row, cond Condition) (bool, error)

	// List returns the rows matching q in insertion order.
	List(ctx context.Context, table string, q Query) ([]Row, error)

	// SoftDelete stamps deleted_at on the row.
	SoftDelete(ctx context.Context, table, id string) error
}

// NewID returns a new time-ordered id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// ValidTable reports whether table is one of Tables.
func ValidTable(table string) bool {
	for _, t := range Tables {
		if t == table {
			return true
		}
	}
	return false
}

// Normalize converts v into its JSON-decoded form (json.Number for numbers,
// map[string]any for objects). time.Time values are rendered in TimeLayout.
func Normalize(v any) (any, error) {
	v = formatTimes(v)
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return Decode(data)
}

// NormalizeRow normalizes every value of r.
func NormalizeRow(r Row) (Row, error) {
	out := make(Row, len(r))
	for k, v := range r {
		nv, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

// Decode unmarshals JSON keeping numbers as json.Number.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// DecodeRow unmarshals a JSON object into a Row.
func DecodeRow(data []byte) (Row, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode row: expected object, got %T", v)
	}
	return Row(m), nil
}

func formatTimes(v any) any {
	switch t := v.(type) {
	case time.Time:
		return FormatTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return FormatTime(*t)
	case Row:
		return formatTimes(map[string]any(t))
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = formatTimes(vv)
		}
		return m
	default:
		return v
	}
}

// Equal compares two normalized values.
func Equal(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Matches reports whether the row satisfies every filter.
func Matches(row Row, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := row[k]
		if !ok {
			return false
		}
		if !Equal(got, want) {
			return false
		}
	}
	return true
}

// Holds reports whether the row satisfies cond.
func Holds(row Row, cond Condition) bool {
	for k, want := range cond {
		got, ok := row[k]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || !Equal(got, want) {
			return false
		}
	}
	return true
}
