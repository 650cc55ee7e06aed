// Package resolver turns a user-supplied identity (full id, short id or
// name) into exactly one stored row.
//
// Import Path: fleetd.io/fleetd/internal/resolver
package resolver

import (
	"context"
	"errors"
	"fmt"

	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// MinShortIDLen is the shortest identity treated as an id prefix.
const MinShortIDLen = 4

// Resolve looks identity up in table, in order:
//
//  1. exact id (soft-deleted rows only when showDeleted)
//  2. unique id prefix among live rows
//  3. unique name among live rows
//
// It returns apperrors.ErrNotFound when nothing matches, and an error
// wrapping apperrors.ErrAmbiguous when a step matches more than one row.
// Short ids and names never resolve to soft-deleted rows.
func Resolve(ctx context.Context, s store.Store, table, identity string, showDeleted bool) (store.Row, error) {
	if identity == "" {
		return nil, apperrors.ErrNotFound
	}

	row, err := s.Get(ctx, table, identity)
	switch {
	case err == nil:
		if showDeleted || !row.Deleted() {
			return row, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("get %s %s: %w", table, identity, err)
	}

	if len(identity) >= MinShortIDLen {
		rows, err := s.List(ctx, table, store.Query{IDPrefix: identity})
		if err != nil {
			return nil, fmt.Errorf("resolve %s by short id: %w", table, err)
		}
		if row, err := single(rows, identity); row != nil || err != nil {
			return row, err
		}
	}

	rows, err := s.List(ctx, table, store.Query{Filters: map[string]any{"name": identity}})
	if err != nil {
		return nil, fmt.Errorf("resolve %s by name: %w", table, err)
	}
	if row, err := single(rows, identity); row != nil || err != nil {
		return row, err
	}
	return nil, apperrors.ErrNotFound
}

func single(rows []store.Row, identity string) (store.Row, error) {
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %d rows match %q", apperrors.ErrAmbiguous, len(rows), identity)
	}
}
