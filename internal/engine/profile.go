package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lister"
	"fleetd.io/fleetd/internal/pkg/logger"
	"fleetd.io/fleetd/internal/pkg/opt"
	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

// ProfileCreateParams describes a new profile.
type ProfileCreateParams struct {
	Name       string
	Type       string
	Spec       map[string]any
	Permission string
	Tags       map[string]string
}

// ProfileUpdateParams lists the profile fields to change. Setting Spec
// produces a new profile.
type ProfileUpdateParams struct {
	Name       opt.Field[string]
	Permission opt.Field[string]
	Tags       opt.Field[map[string]string]
	Spec       opt.Field[map[string]any]
}

// ProfileCreate validates the spec against its type and persists the profile.
func (e *Engine) ProfileCreate(ctx context.Context, params ProfileCreateParams) (*domain.Profile, error) {
	if err := e.validateProfileSpec(params.Type, params.Spec); err != nil {
		return nil, err
	}
	spec := params.Spec
	if spec == nil {
		spec = map[string]any{}
	}
	project, user := owner(ctx)
	p := &domain.Profile{
		Name:       params.Name,
		Type:       params.Type,
		Spec:       spec,
		Permission: params.Permission,
		Tags:       params.Tags,
		Project:    project,
		User:       user,
	}
	return e.insertProfile(ctx, p)
}

func (e *Engine) insertProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error) {
	id, err := e.store.Create(ctx, store.TableProfiles, p.ToRow())
	if err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	logger.Info("Profile created",
		zap.String("profile_id", id),
		zap.String("name", p.Name),
		zap.String("type", p.Type),
	)
	return e.profileByID(ctx, id)
}

func (e *Engine) validateProfileSpec(typeName string, spec map[string]any) error {
	typ, err := e.reg.Profile(typeName)
	if err != nil {
		return err
	}
	if err := typ.Schema().Validate(spec); err != nil {
		return apperrors.ErrSpecValidationFailed(err)
	}
	return nil
}

func (e *Engine) profileByID(ctx context.Context, id string) (*domain.Profile, error) {
	row, err := e.reload(ctx, store.TableProfiles, id)
	if err != nil {
		return nil, err
	}
	return domain.ProfileFromRow(row)
}

// ProfileGet returns the profile matching identity.
func (e *Engine) ProfileGet(ctx context.Context, identity string) (*domain.Profile, error) {
	return e.findProfile(ctx, identity, false)
}

// ProfileFind resolves identity; soft-deleted profiles match only by full
// id with showDeleted.
func (e *Engine) ProfileFind(ctx context.Context, identity string, showDeleted bool) (*domain.Profile, error) {
	return e.findProfile(ctx, identity, showDeleted)
}

// ProfileList lists profiles.
func (e *Engine) ProfileList(ctx context.Context, opts lister.Options) ([]*domain.Profile, error) {
	return list(ctx, e.store, store.TableProfiles, opts, domain.ProfileFromRow)
}

// ProfileUpdate changes a profile. Name, permission and tags are updated in
// place. A different spec creates a new profile carrying the other fields
// over; the original is left untouched.
func (e *Engine) ProfileUpdate(ctx context.Context, identity string, params ProfileUpdateParams) (*domain.Profile, error) {
	p, err := e.findProfile(ctx, identity, false)
	if err != nil {
		return nil, err
	}

	if spec, ok := params.Spec.Get(); ok && !sameJSON(spec, p.Spec) {
		if err := e.validateProfileSpec(p.Type, spec); err != nil {
			return nil, err
		}
		project, user := owner(ctx)
		next := &domain.Profile{
			Name:       params.Name.OrElse(p.Name),
			Type:       p.Type,
			Spec:       spec,
			Permission: params.Permission.OrElse(p.Permission),
			Tags:       p.Tags,
			Project:    project,
			User:       user,
		}
		if params.Tags.IsSet() {
			next.Tags = params.Tags.Value()
		}
		return e.insertProfile(ctx, next)
	}

	fields := store.Row{}
	if params.Name.IsSet() {
		fields["name"] = params.Name.Value()
	}
	if params.Permission.IsSet() {
		fields["permission"] = params.Permission.Value()
	}
	if params.Tags.IsSet() {
		fields["tags"] = params.Tags.Value()
	}
	if len(fields) == 0 {
		return p, nil
	}
	if _, err := e.store.Update(ctx, store.TableProfiles, p.ID, fields, nil); err != nil {
		return nil, fmt.Errorf("update profile %s: %w", p.ID, err)
	}
	return e.profileByID(ctx, p.ID)
}

// ProfileDelete soft-deletes a profile no live cluster or node uses.
func (e *Engine) ProfileDelete(ctx context.Context, identity string) error {
	p, err := e.findProfile(ctx, identity, false)
	if err != nil {
		return err
	}
	for _, table := range []string{store.TableClusters, store.TableNodes} {
		rows, err := e.store.List(ctx, table, store.Query{Filters: map[string]any{"profile_id": p.ID}})
		if err != nil {
			return fmt.Errorf("check profile usage: %w", err)
		}
		if len(rows) > 0 {
			return apperrors.ErrBadRequest(fmt.Sprintf("The profile (%s) is still in use.", identity))
		}
	}
	if err := e.store.SoftDelete(ctx, store.TableProfiles, p.ID); err != nil {
		return fmt.Errorf("delete profile %s: %w", p.ID, err)
	}
	logger.Info("Profile deleted", zap.String("profile_id", p.ID))
	return nil
}

// sameJSON compares two specs by their JSON encoding, which ignores the
// difference between json.Number and native numbers.
func sameJSON(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}
