// Package lock provides per-target mutual exclusion across processes.
//
// A lock is a row in the locks table keyed by the target id. Its owner
// column is taken and released with conditional updates; there is no
// in-process mutex, since workers may live in different processes.
//
// Import Path: fleetd.io/fleetd/internal/lock
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetd.io/fleetd/internal/store"
)

// ErrBusy reports that the target is locked by another action. It is an
// internal retry condition and never reaches a façade caller.
var ErrBusy = errors.New("target is locked")

// Grant is the outcome of Take.
type Grant int

const (
	// Denied means another owner holds the lock.
	Denied Grant = iota
	// Taken means this call created or took over a free lock.
	Taken
	// Held means owner already held the lock before this call.
	Held
)

// Acquire takes the lock on targetID for owner. It returns false, without
// error, when someone else holds it. Re-acquiring a lock already held by
// owner succeeds.
func Acquire(ctx context.Context, s store.Store, targetID, owner string) (bool, error) {
	g, err := Take(ctx, s, targetID, owner)
	return g != Denied, err
}

// Take is Acquire reporting whether the lock was newly taken or already
// held by owner. Only a Taken lock may be released by a caller that then
// decides not to run.
func Take(ctx context.Context, s store.Store, targetID, owner string) (Grant, error) {
	now := time.Now()
	_, err := s.Create(ctx, store.TableLocks, store.Row{
		store.ColID:   targetID,
		"owner":       owner,
		"acquired_at": now,
	})
	if err == nil {
		return Taken, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return Denied, fmt.Errorf("create lock %s: %w", targetID, err)
	}

	ok, err := s.Update(ctx, store.TableLocks, targetID,
		store.Row{"owner": owner, "acquired_at": now},
		store.Condition{"owner": nil})
	if err != nil {
		return Denied, fmt.Errorf("take lock %s: %w", targetID, err)
	}
	if ok {
		return Taken, nil
	}

	holder, err := Holder(ctx, s, targetID)
	if err != nil {
		return Denied, err
	}
	if holder == owner {
		return Held, nil
	}
	return Denied, nil
}

// Release frees the lock if owner holds it. Releasing a lock held by
// someone else is a no-op and returns false.
func Release(ctx context.Context, s store.Store, targetID, owner string) (bool, error) {
	ok, err := s.Update(ctx, store.TableLocks, targetID,
		store.Row{"owner": nil, "acquired_at": nil},
		store.Condition{"owner": owner})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", targetID, err)
	}
	return ok, nil
}

// Holder returns the current owner of targetID, or "" when free.
func Holder(ctx context.Context, s store.Store, targetID string) (string, error) {
	row, err := s.Get(ctx, store.TableLocks, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lock %s: %w", targetID, err)
	}
	owner, _ := row["owner"].(string)
	return owner, nil
}
