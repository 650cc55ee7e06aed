// Package action implements the action state machine on top of the store.
//
// Every transition is a conditional update guarded by the expected current
// status, so concurrent workers and cancel requests cannot both win.
//
// Import Path: fleetd.io/fleetd/internal/action
package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

var transitions = map[domain.ActionStatus][]domain.ActionStatus{
	domain.ActionInit:    {domain.ActionReady, domain.ActionCancelled},
	domain.ActionReady:   {domain.ActionRunning, domain.ActionCancelled},
	domain.ActionRunning: {domain.ActionSucceeded, domain.ActionFailed, domain.ActionCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to domain.ActionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned when a transition is not allowed.
var ErrIllegalTransition = errors.New("illegal action transition")

// Spec describes an action to create.
type Spec struct {
	// Name defaults to domain.ActionName(Kind, Target).
	Name    string
	Kind    domain.ActionKind
	Target  string
	Cause   domain.Cause
	Inputs  map[string]any
	Timeout *int
}

// Create persists a new action in INIT and returns it.
func Create(ctx context.Context, s store.Store, spec Spec) (*domain.Action, error) {
	ident := domain.IdentityFrom(ctx)
	cause := spec.Cause
	if cause == "" {
		cause = domain.CauseRPC
	}
	inputs := spec.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	name := spec.Name
	if name == "" {
		name = domain.ActionName(spec.Kind, spec.Target)
	}
	a := &domain.Action{
		Name:    name,
		Target:  spec.Target,
		Kind:    spec.Kind,
		Cause:   cause,
		Status:  domain.ActionInit,
		Timeout: spec.Timeout,
		Inputs:  inputs,
		Outputs: map[string]any{},
		Project: ident.Project,
		User:    ident.User,
	}
	id, err := s.Create(ctx, store.TableActions, a.ToRow())
	if err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}
	return Get(ctx, s, id)
}

// Get loads an action by full id.
func Get(ctx context.Context, s store.Store, id string) (*domain.Action, error) {
	row, err := s.Get(ctx, store.TableActions, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ErrActionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get action %s: %w", id, err)
	}
	return domain.ActionFromRow(row)
}

// MarkReady moves an action INIT -> READY. It returns false when the
// action was no longer INIT.
func MarkReady(ctx context.Context, s store.Store, id string) (bool, error) {
	return move(ctx, s, id, domain.ActionInit, domain.ActionReady, store.Row{})
}

// Claim moves an action READY -> RUNNING and records owner. The first
// caller wins; later callers get false without error.
func Claim(ctx context.Context, s store.Store, id, owner string, now time.Time) (bool, error) {
	ok, err := s.Update(ctx, store.TableActions, id,
		store.Row{
			"status":     string(domain.ActionRunning),
			"owner":      owner,
			"start_time": now,
		},
		store.Condition{"status": string(domain.ActionReady), "owner": nil},
	)
	if errors.Is(err, store.ErrNotFound) {
		return false, apperrors.ErrActionNotFound(id)
	}
	return ok, err
}

// Finish moves a RUNNING action owned by owner to a terminal status.
func Finish(ctx context.Context, s store.Store, id, owner string, status domain.ActionStatus,
	reason string, outputs map[string]any, now time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: finish with %s", ErrIllegalTransition, status)
	}
	fields := store.Row{
		"status":        string(status),
		"status_reason": reason,
		"end_time":      now,
	}
	if outputs != nil {
		fields["outputs"] = outputs
	}
	ok, err := s.Update(ctx, store.TableActions, id, fields,
		store.Condition{"status": string(domain.ActionRunning), "owner": owner})
	if errors.Is(err, store.ErrNotFound) {
		return false, apperrors.ErrActionNotFound(id)
	}
	return ok, err
}

// CancelResult tells the caller what Cancel did.
type CancelResult string

const (
	// Cancelled means the action never ran and is now CANCELLED.
	Cancelled CancelResult = "cancelled"
	// Signalled means the action is running and was asked to stop.
	Signalled CancelResult = "signalled"
)

// Cancel stops an action. INIT and READY actions become CANCELLED
// directly. A RUNNING action gets control=CANCEL and stops at its next
// safe point. Terminal actions cannot be cancelled.
func Cancel(ctx context.Context, s store.Store, id string) (CancelResult, error) {
	for attempt := 0; attempt < 3; attempt++ {
		a, err := Get(ctx, s, id)
		if err != nil {
			return "", err
		}
		switch a.Status {
		case domain.ActionInit, domain.ActionReady:
			ok, err := move(ctx, s, id, a.Status, domain.ActionCancelled, store.Row{
				"status_reason": "cancelled before execution",
				"end_time":      time.Now(),
			})
			if err != nil {
				return "", err
			}
			if ok {
				return Cancelled, nil
			}
		case domain.ActionRunning:
			ok, err := s.Update(ctx, store.TableActions, id,
				store.Row{"control": string(domain.ControlCancel)},
				store.Condition{"status": string(domain.ActionRunning)})
			if err != nil {
				return "", fmt.Errorf("signal action %s: %w", id, err)
			}
			if ok {
				return Signalled, nil
			}
		default:
			return "", apperrors.ErrNotSupported(fmt.Sprintf("Cancelling a %s action", a.Status))
		}
		// The status moved under us; look again.
	}
	return "", fmt.Errorf("cancel action %s: status kept changing", id)
}

// CancelRequested reports whether a cancel was signalled for the action.
func CancelRequested(ctx context.Context, s store.Store, id string) (bool, error) {
	a, err := Get(ctx, s, id)
	if err != nil {
		return false, err
	}
	return a.Control == domain.ControlCancel, nil
}

func move(ctx context.Context, s store.Store, id string, from, to domain.ActionStatus, fields store.Row) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	fields["status"] = string(to)
	ok, err := s.Update(ctx, store.TableActions, id, fields, store.Condition{"status": string(from)})
	if errors.Is(err, store.ErrNotFound) {
		return false, apperrors.ErrActionNotFound(id)
	}
	if err != nil {
		return false, fmt.Errorf("move action %s %s -> %s: %w", id, from, to, err)
	}
	return ok, nil
}
