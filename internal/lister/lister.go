// Package lister implements filtered, sorted, paginated listing over any
// store table.
//
// Import Path: fleetd.io/fleetd/internal/lister
package lister

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// DefaultSortKey orders by creation time.
const DefaultSortKey = store.ColCreatedAt

// sortKeys are the per-table sortable fields. Anything else is dropped.
var sortKeys = map[string][]string{
	store.TableProfiles:        {"name", "type", "permission", "created_at", "updated_at"},
	store.TablePolicies:        {"name", "type", "cooldown", "level", "created_at", "updated_at"},
	store.TableClusterPolicies: {"policy_name", "policy_type", "enabled", "level", "cooldown", "priority", "created_at"},
	store.TableClusters:        {"name", "status", "size", "profile_id", "created_at", "updated_at"},
	store.TableNodes:           {"name", "status", "index", "role", "cluster_id", "profile_id", "created_at", "updated_at"},
	store.TableActions:         {"name", "target", "action", "status", "cause", "created_at", "updated_at"},
	store.TableEvents:          {"timestamp", "obj_type", "obj_name", "action", "status", "level", "created_at"},
}

// Options controls a listing.
type Options struct {
	Filters  map[string]any
	SortKeys []string
	// SortDir is "asc" (default when empty) or "desc".
	SortDir string
	// Limit caps the result; nil means unbounded.
	Limit *int
	// Marker is the id after which results start.
	Marker      string
	ShowDeleted bool
	// ShowNested includes clusters with a parent. Ignored for other tables.
	ShowNested bool
}

// Limit is a helper for building Options.Limit.
func Limit(n int) *int { return &n }

// List returns the rows of table selected by opts.
//
// Rows are filtered, sorted by the effective keys with created_at and id as
// final tie breakers, cut to the rows strictly after Marker, then capped at
// Limit. A Marker absent from the filtered set yields an empty result.
func List(ctx context.Context, s store.Store, table string, opts Options) ([]store.Row, error) {
	desc, err := direction(opts.SortDir)
	if err != nil {
		return nil, err
	}
	if opts.Limit != nil && *opts.Limit < 0 {
		return nil, apperrors.ErrInvalidParameter("limit", *opts.Limit)
	}
	if opts.Limit != nil && *opts.Limit == 0 {
		return []store.Row{}, nil
	}

	rows, err := s.List(ctx, table, store.Query{
		Filters:     opts.Filters,
		ShowDeleted: opts.ShowDeleted,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}

	if table == store.TableClusters && !opts.ShowNested {
		rows = withoutNested(rows)
	}

	keys := EffectiveSortKeys(table, opts.SortKeys)
	sortRows(rows, keys, desc)

	if opts.Marker != "" {
		idx := -1
		for i, r := range rows {
			if r.ID() == opts.Marker {
				idx = i
				break
			}
		}
		if idx < 0 {
			return []store.Row{}, nil
		}
		rows = rows[idx+1:]
	}

	if opts.Limit != nil && len(rows) > *opts.Limit {
		rows = rows[:*opts.Limit]
	}
	if rows == nil {
		rows = []store.Row{}
	}
	return rows, nil
}

func direction(dir string) (bool, error) {
	switch strings.ToLower(dir) {
	case "", SortAsc:
		return false, nil
	case SortDesc:
		return true, nil
	default:
		return false, apperrors.ErrInvalidSortDir()
	}
}

// EffectiveSortKeys drops keys not sortable for table and falls back to
// DefaultSortKey when none remain.
func EffectiveSortKeys(table string, requested []string) []string {
	allowed := sortKeys[table]
	var keys []string
	for _, k := range requested {
		for _, a := range allowed {
			if k == a {
				keys = append(keys, k)
				break
			}
		}
	}
	if len(keys) == 0 {
		keys = []string{DefaultSortKey}
	}
	return keys
}

func withoutNested(rows []store.Row) []store.Row {
	out := rows[:0]
	for _, r := range rows {
		if p, ok := r["parent"]; ok && p != nil && p != "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

func sortRows(rows []store.Row, keys []string, desc bool) {
	order := make([]string, 0, len(keys)+2)
	order = append(order, keys...)
	order = append(order, store.ColCreatedAt, store.ColID)
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range order {
			c := compare(rows[i][k], rows[j][k])
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compare orders normalized values. nil sorts first; numbers compare
// numerically, strings and booleans in their natural order, anything else
// by its JSON encoding.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	switch av := a.(type) {
	case json.Number:
		if bv, ok := b.(json.Number); ok {
			af, aerr := av.Float64()
			bf, berr := bv.Float64()
			if aerr == nil && berr == nil {
				switch {
				case af < bf:
					return -1
				case af > bf:
					return 1
				}
				return 0
			}
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}

	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return strings.Compare(string(aj), string(bj))
}
