package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/lister"
	"fleetd.io/fleetd/internal/pkg/opt"
	"fleetd.io/fleetd/internal/plugins/fake"
	"fleetd.io/fleetd/internal/store"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

func TestClusterCreate(t *testing.T) {
	f := newFixture(t)

	c, err := f.eng.ClusterCreate(f.ctx, ClusterCreateParams{
		Name:      "c1",
		Size:      2,
		ProfileID: "p-test",
		Tags:      map[string]string{"env": "dev"},
		Timeout:   intp(300),
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", c.Name)
	assert.Equal(t, 2, c.Size)
	assert.Equal(t, f.prof.ID, c.ProfileID)
	assert.Equal(t, domain.ClusterInit, c.Status)
	assert.Equal(t, "Initializing", c.StatusReason)
	assert.Equal(t, map[string]string{"env": "dev"}, c.Tags)
	assert.Equal(t, "p1", c.Project)
	require.NotEmpty(t, c.Action)

	a := f.action(t, c.Action)
	assert.Equal(t, domain.ClusterCreate, a.Kind)
	assert.Equal(t, c.ID, a.Target)
	assert.Equal(t, domain.CauseRPC, a.Cause)
	assert.Equal(t, domain.ActionReady, a.Status)
	require.NotNil(t, a.Timeout)
	assert.Equal(t, 300, *a.Timeout)
	assert.Equal(t, domain.ActionName(domain.ClusterCreate, c.ID), a.Name)
	assert.Equal(t, 1, f.notified.count())
}

func TestClusterCreate_Invalid(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		params ClusterCreateParams
		code   string
	}{
		{"negative size", ClusterCreateParams{Name: "c", Size: -1, ProfileID: f.prof.ID}, apperrors.CodeInvalidParameter},
		{"negative timeout", ClusterCreateParams{Name: "c", ProfileID: f.prof.ID, Timeout: intp(-1)}, apperrors.CodeInvalidParameter},
		{"unknown profile", ClusterCreateParams{Name: "c", ProfileID: "Bogus"}, apperrors.CodeProfileNotFound},
		{"unknown parent", ClusterCreateParams{Name: "c", ProfileID: f.prof.ID, Parent: "Bogus"}, apperrors.CodeClusterNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.ClusterCreate(f.ctx, tt.params)
			requireCode(t, err, tt.code)
		})
	}
	assert.Zero(t, f.notified.count())
}

func TestClusterGet_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.ClusterGet(f.ctx, "Bogus")
	msg := requireCode(t, err, apperrors.CodeClusterNotFound)
	assert.Equal(t, "The cluster (Bogus) could not be found.", msg)
}

func TestClusterList_Nested(t *testing.T) {
	f := newFixture(t)
	parent := f.cluster(t, "parent")
	_, err := f.eng.ClusterCreate(f.ctx, ClusterCreateParams{Name: "child", ProfileID: f.prof.ID, Parent: parent.ID})
	require.NoError(t, err)

	top, err := f.eng.ClusterList(f.ctx, listAll())
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "parent", top[0].Name)

	all, err := f.eng.ClusterList(f.ctx, lister.Options{ShowNested: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, parent.ID, all[1].ParentID())
}

func TestClusterUpdate_NoChange(t *testing.T) {
	f := newFixture(t)
	c := f.cluster(t, "c1")
	before := f.notified.count()

	res, err := f.eng.ClusterUpdate(f.ctx, c.ID, ClusterUpdateParams{
		Name:      opt.Of("c1"),
		ProfileID: opt.Of(f.prof.ID),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Action)
	assert.Equal(t, before, f.notified.count())

	same := ClusterUpdateParams{
		Tags:    opt.Of(map[string]string{"k": "v"}),
		Timeout: opt.Of(60),
	}
	res, err = f.eng.ClusterUpdate(f.ctx, c.ID, same)
	require.NoError(t, err)
	require.NotEmpty(t, res.Action)
	before = f.notified.count()

	res, err = f.eng.ClusterUpdate(f.ctx, c.ID, same)
	require.NoError(t, err)
	assert.Empty(t, res.Action)
	assert.Equal(t, before, f.notified.count())
	assert.Equal(t, map[string]string{"k": "v"}, res.Tags)
	require.NotNil(t, res.Timeout)
	assert.Equal(t, 60, *res.Timeout)

	_, err = f.eng.ClusterUpdate(f.ctx, c.ID, ClusterUpdateParams{Timeout: opt.Null[int]()})
	require.NoError(t, err)
	before = f.notified.count()
	res, err = f.eng.ClusterUpdate(f.ctx, c.ID, ClusterUpdateParams{Timeout: opt.Null[int]()})
	require.NoError(t, err)
	assert.Empty(t, res.Action)
	assert.Equal(t, before, f.notified.count())
}

func TestClusterUpdate_Fields(t *testing.T) {
	f := newFixture(t)
	c := f.cluster(t, "c1")
	before := f.notified.count()

	res, err := f.eng.ClusterUpdate(f.ctx, "c1", ClusterUpdateParams{
		Name:    opt.Of("c1-renamed"),
		Tags:    opt.Of(map[string]string{"k": "v"}),
		Timeout: opt.Of(120),
	})
	require.NoError(t, err)
	assert.Equal(t, c.ID, res.ID)
	assert.Equal(t, "c1-renamed", res.Name)
	assert.Equal(t, map[string]string{"k": "v"}, res.Tags)
	require.NotNil(t, res.Timeout)
	assert.Equal(t, 120, *res.Timeout)
	require.NotEmpty(t, res.Action)
	assert.Equal(t, before+1, f.notified.count())

	a := f.action(t, res.Action)
	assert.Equal(t, domain.ClusterUpdate, a.Kind)
	assert.Empty(t, a.InputString("profile_id"))

	cleared, err := f.eng.ClusterUpdate(f.ctx, c.ID, ClusterUpdateParams{Timeout: opt.Null[int]()})
	require.NoError(t, err)
	assert.Nil(t, cleared.Timeout)
}

func TestClusterUpdate_Profile(t *testing.T) {
	f := newFixture(t)
	c := f.cluster(t, "c1")

	next, err := f.eng.ProfileCreate(f.ctx, ProfileCreateParams{Name: "p-next", Type: fake.ProfileTypeName})
	require.NoError(t, err)

	res, err := f.eng.ClusterUpdate(f.ctx, c.ID, ClusterUpdateParams{ProfileID: opt.Of("p-next")})
	require.NoError(t, err)
	require.NotEmpty(t, res.Action)
	assert.Equal(t, f.prof.ID, res.ProfileID, "profile switches when the action runs")

	a := f.action(t, res.Action)
	assert.Equal(t, domain.ClusterUpdate, a.Kind)
	assert.Equal(t, next.ID, a.InputString("profile_id"))
}

func TestClusterUpdate_ProfileErrors(t *testing.T) {
	f := newFixture(t)
	f.reg.RegisterProfile("DiffProfileType", fake.NewProfile())
	c := f.cluster(t, "c1")

	other, err := f.eng.ProfileCreate(f.ctx, ProfileCreateParams{Name: "p-other", Type: "DiffProfileType"})
	require.NoError(t, err)

	t.Run("unknown profile", func(t *testing.T) {
		_, err := f.eng.ClusterUpdate(f.ctx, c.ID, ClusterUpdateParams{ProfileID: opt.Of("Bogus")})
		requireCode(t, err, apperrors.CodeProfileNotFound)
	})

	t.Run("different type", func(t *testing.T) {
		_, err := f.eng.ClusterUpdate(f.ctx, c.ID, ClusterUpdateParams{ProfileID: opt.Of(other.ID)})
		requireCode(t, err, apperrors.CodeProfileTypeNotMatch)
	})

	t.Run("cluster in error", func(t *testing.T) {
		_, err := f.store.Update(f.ctx, store.TableClusters, c.ID,
			store.Row{"status": string(domain.ClusterError)}, nil)
		require.NoError(t, err)

		_, err = f.eng.ClusterUpdate(f.ctx, c.ID, ClusterUpdateParams{ProfileID: opt.Of("Bogus")})
		requireCode(t, err, apperrors.CodeNotSupported)
	})

	t.Run("deleted cluster", func(t *testing.T) {
		_, err := f.store.Update(f.ctx, store.TableClusters, c.ID,
			store.Row{"status": string(domain.ClusterDeleted)}, nil)
		require.NoError(t, err)

		_, err = f.eng.ClusterUpdate(f.ctx, c.ID, ClusterUpdateParams{Name: opt.Of("x")})
		requireCode(t, err, apperrors.CodeClusterNotFound)
	})
}

func TestClusterUpdate_Parent(t *testing.T) {
	f := newFixture(t)
	a := f.cluster(t, "a")
	b := f.cluster(t, "b")

	res, err := f.eng.ClusterUpdate(f.ctx, b.ID, ClusterUpdateParams{Parent: opt.Of(a.ID)})
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.ParentID())

	_, err = f.eng.ClusterUpdate(f.ctx, a.ID, ClusterUpdateParams{Parent: opt.Of(b.ID)})
	msg := requireCode(t, err, apperrors.CodeBadRequest)
	assert.Contains(t, msg, "cannot be a descendant of itself.")

	_, err = f.eng.ClusterUpdate(f.ctx, a.ID, ClusterUpdateParams{Parent: opt.Of(a.ID)})
	requireCode(t, err, apperrors.CodeBadRequest)

	res, err = f.eng.ClusterUpdate(f.ctx, b.ID, ClusterUpdateParams{Parent: opt.Null[string]()})
	require.NoError(t, err)
	assert.Empty(t, res.ParentID())
}

func TestClusterDelete(t *testing.T) {
	f := newFixture(t)
	c := f.cluster(t, "c1")

	acc, err := f.eng.ClusterDelete(f.ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, acc.ID)
	assert.Equal(t, domain.ClusterDelete, f.action(t, acc.Action).Kind)

	_, err = f.eng.ClusterDelete(f.ctx, "Bogus")
	requireCode(t, err, apperrors.CodeClusterNotFound)
}

func TestClusterAddNodes(t *testing.T) {
	f := newFixture(t)
	c := f.cluster(t, "c1")
	other := f.cluster(t, "c2")

	active := f.node(t, domain.NodeActive)
	inactive := f.node(t, domain.NodeInit)
	owned := f.node(t, domain.NodeActive)
	_, err := f.store.Update(f.ctx, store.TableNodes, owned, store.Row{"cluster_id": other.ID}, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		nodes []string
		msg   string
	}{
		{"empty", nil, "No nodes to add: []"},
		{"missing", []string{"Bogus"}, "Nodes not found: ['Bogus']"},
		{"inactive", []string{inactive}, "Nodes are not ACTIVE: ['" + inactive + "']"},
		{"owned", []string{owned}, "Nodes already owned by some cluster: ['" + owned + "']"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.ClusterAddNodes(f.ctx, c.ID, tt.nodes)
			msg := requireCode(t, err, apperrors.CodeBadRequest)
			assert.Equal(t, "The request is malformed: "+tt.msg, msg)
		})
	}

	before := f.notified.count()
	acc, err := f.eng.ClusterAddNodes(f.ctx, c.ID, []string{active})
	require.NoError(t, err)
	assert.Equal(t, before+1, f.notified.count())

	a := f.action(t, acc.Action)
	assert.Equal(t, domain.ClusterAddNodes, a.Kind)
	assert.Equal(t, []string{active}, a.InputStrings("nodes"))
}

func TestClusterDelNodes(t *testing.T) {
	f := newFixture(t)
	c := f.cluster(t, "c1")
	member := f.node(t, domain.NodeActive)
	stranger := f.node(t, domain.NodeActive)
	_, err := f.store.Update(f.ctx, store.TableNodes, member, store.Row{"cluster_id": c.ID}, nil)
	require.NoError(t, err)

	_, err = f.eng.ClusterDelNodes(f.ctx, c.ID, nil)
	msg := requireCode(t, err, apperrors.CodeBadRequest)
	assert.Equal(t, "The request is malformed: No nodes specified: []", msg)

	_, err = f.eng.ClusterDelNodes(f.ctx, c.ID, []string{stranger})
	msg = requireCode(t, err, apperrors.CodeBadRequest)
	assert.Equal(t, "The request is malformed: Nodes not members of specified cluster: ['"+stranger+"']", msg)

	acc, err := f.eng.ClusterDelNodes(f.ctx, c.ID, []string{member})
	require.NoError(t, err)
	a := f.action(t, acc.Action)
	assert.Equal(t, domain.ClusterDelNodes, a.Kind)
	assert.Equal(t, []string{member}, a.InputStrings("nodes"))
}

func TestClusterScale(t *testing.T) {
	f := newFixture(t)
	c := f.cluster(t, "c1")

	out, err := f.eng.ClusterScaleOut(f.ctx, c.ID, intp(3))
	require.NoError(t, err)
	a := f.action(t, out.Action)
	assert.Equal(t, domain.ClusterScaleOut, a.Kind)
	assert.Equal(t, "3", fmtValue(a.Inputs["count"]))

	in, err := f.eng.ClusterScaleIn(f.ctx, c.ID, nil)
	require.NoError(t, err)
	a = f.action(t, in.Action)
	assert.Equal(t, domain.ClusterScaleIn, a.Kind)
	_, ok := a.Inputs["count"]
	assert.False(t, ok)

	for _, count := range []int{0, -1} {
		_, err := f.eng.ClusterScaleOut(f.ctx, c.ID, intp(count))
		requireCode(t, err, apperrors.CodeInvalidParameter)
	}
}
