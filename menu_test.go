package access_test

import (
	"context"
	"errors"
	"testing"
	"time"

	access "github.com/goliatone/go-access"
	"github.com/goliatone/go-access/repository/memstore"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(name string, level access.MenuLevel, parent string, rank int, seq int64, lvl access.AccessLevel) *access.MenuNode {
	return &access.MenuNode{
		Name:        name,
		Title:       name,
		Level:       level,
		Parent:      parent,
		Rank:        rank,
		Seq:         seq,
		ShowInMenu:  true,
		Active:      true,
		AccessLevel: lvl,
	}
}

func menuNames(entries []access.MenuEntry) map[string][]string {
	out := make(map[string][]string, len(entries))
	for _, e := range entries {
		children := []string{}
		for _, c := range e.Children {
			children = append(children, c.Name)
		}
		out[e.Node.Name] = children
	}
	return out
}

func TestVisibleMenuHidesChildrenOfDeniedParents(t *testing.T) {
	nodes := []*access.MenuNode{
		node("home", access.MenuLevelTop, "", 0, 1, access.AccessPublic),
		node("admin", access.MenuLevelTop, "", 9, 2, access.AccessAdmin),
		node("admin_users", access.MenuLevelChild, "admin", 0, 3, access.AccessAllUsers),
		node("reports", access.MenuLevelTop, "", 1, 4, access.AccessVerified),
		node("monthly", access.MenuLevelChild, "reports", 0, 5, access.AccessPublic),
	}

	anon := access.VisibleMenu(nodes, nil)
	assert.Equal(t, map[string][]string{"home": {}}, menuNames(anon))

	verified := &access.Principal{ID: "u1", Active: true, EmailVerified: true}
	got := access.VisibleMenu(nodes, verified)
	assert.Equal(t, map[string][]string{"home": {}, "reports": {"monthly"}}, menuNames(got))

	admin := &access.Principal{ID: "u2", Active: true, EmailVerified: true, IsAdmin: true}
	got = access.VisibleMenu(nodes, admin)
	require.Len(t, got, 3)
	assert.Equal(t, "home", got[0].Node.Name)
	assert.Equal(t, "reports", got[1].Node.Name)
	assert.Equal(t, "admin", got[2].Node.Name)
	assert.Equal(t, "admin_users", got[2].Children[0].Name)
}

func TestVisibleMenuOrderingAndFlags(t *testing.T) {
	hidden := node("hidden", access.MenuLevelTop, "", 0, 1, access.AccessPublic)
	hidden.ShowInMenu = false
	inactive := node("inactive", access.MenuLevelTop, "", 0, 2, access.AccessPublic)
	inactive.Active = false

	nodes := []*access.MenuNode{
		node("second", access.MenuLevelTop, "", 1, 3, access.AccessPublic),
		node("first_b", access.MenuLevelTop, "", 0, 5, access.AccessPublic),
		node("first_a", access.MenuLevelTop, "", 0, 4, access.AccessPublic),
		hidden,
		inactive,
		node("orphan", access.MenuLevelChild, "missing", 0, 6, access.AccessPublic),
		node("under_hidden", access.MenuLevelChild, "hidden", 0, 7, access.AccessPublic),
	}

	got := access.VisibleMenu(nodes, nil)
	names := make([]string, len(got))
	for i, e := range got {
		names[i] = e.Node.Name
		assert.Empty(t, e.Children)
	}
	assert.Equal(t, []string{"first_a", "first_b", "second"}, names)
}

func TestVisibleMenuChildPolicyStillApplies(t *testing.T) {
	nodes := []*access.MenuNode{
		node("tools", access.MenuLevelTop, "", 0, 1, access.AccessAllUsers),
		node("audit", access.MenuLevelChild, "tools", 0, 2, access.AccessAdmin),
		node("notes", access.MenuLevelChild, "tools", 1, 3, access.AccessAllUsers),
	}

	p := &access.Principal{ID: "u1", Active: true, EmailVerified: true}
	assert.Equal(t, map[string][]string{"tools": {"notes"}}, menuNames(access.VisibleMenu(nodes, p)))
}

func newTestCatalog(t *testing.T, sink access.ActivitySink) (*access.Catalog, *memstore.MenuStore) {
	t.Helper()
	store := memstore.NewMenuStore()
	clock := newTestClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	catalog := access.NewCatalog(store,
		access.WithCatalogClock(clock.Now),
		access.WithCatalogActivitySink(sink),
	)
	ctx := context.Background()
	actor := access.ActorRef{ID: "admin", Type: "principal"}

	_, err := catalog.AddNode(ctx, actor, &access.MenuNode{Name: "home", Level: access.MenuLevelTop, ShowInMenu: true, Active: true, AccessLevel: access.AccessPublic})
	require.NoError(t, err)
	_, err = catalog.AddNode(ctx, actor, &access.MenuNode{Name: "reports", Level: access.MenuLevelTop, Rank: 1, ShowInMenu: true, Active: true, AccessLevel: access.AccessVerified})
	require.NoError(t, err)
	_, err = catalog.AddNode(ctx, actor, &access.MenuNode{Name: "monthly", Level: access.MenuLevelChild, Parent: "reports", ShowInMenu: true, Active: true})
	require.NoError(t, err)
	return catalog, store
}

func TestCatalogAddNodeValidation(t *testing.T) {
	catalog, _ := newTestCatalog(t, nil)
	ctx := context.Background()
	actor := access.ActorRef{ID: "admin"}

	monthly, ok := catalog.Lookup("monthly")
	require.True(t, ok)
	assert.Equal(t, access.AccessAllUsers, monthly.AccessLevel)

	_, err := catalog.AddNode(ctx, actor, &access.MenuNode{Name: "home", Level: access.MenuLevelTop})
	assert.ErrorIs(t, err, access.ErrDuplicateResource)

	_, err = catalog.AddNode(ctx, actor, &access.MenuNode{Name: "deep", Level: access.MenuLevelChild, Parent: "monthly"})
	assert.ErrorIs(t, err, access.ErrInvalidMenuNode)

	_, err = catalog.AddNode(ctx, actor, &access.MenuNode{Name: "lost", Level: access.MenuLevelChild, Parent: "nowhere"})
	assert.ErrorIs(t, err, access.ErrInvalidMenuNode)

	_, err = catalog.AddNode(ctx, actor, &access.MenuNode{Name: "", Level: access.MenuLevelTop})
	assert.True(t, goerrors.IsValidation(err))
	assert.ErrorIs(t, err, access.ErrValidation)

	_, err = catalog.AddNode(ctx, actor, &access.MenuNode{Name: "weird", Level: 3})
	assert.True(t, goerrors.IsValidation(err))

	_, err = catalog.AddNode(ctx, actor, &access.MenuNode{Name: "weird", Level: access.MenuLevelTop, AccessLevel: "root"})
	assert.True(t, goerrors.IsValidation(err))
}

func TestCatalogUpdateAccessPolicy(t *testing.T) {
	sink := &recordingSink{}
	catalog, store := newTestCatalog(t, sink)
	ctx := context.Background()
	actor := access.ActorRef{ID: "admin"}

	analyst := &access.Principal{ID: "u1", Active: true, EmailVerified: true, Roles: []string{"analyst"}}
	viewer := &access.Principal{ID: "u2", Active: true, EmailVerified: true}
	assert.True(t, catalog.Allowed("reports", viewer))

	updated, err := catalog.UpdateAccessPolicy(ctx, actor, "reports", access.AccessPolicy{
		AccessLevel:   access.AccessCustom,
		RequiredRoles: []string{"analyst", " analyst "},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst"}, updated.RequiredRoles)

	assert.True(t, catalog.Allowed("reports", analyst))
	assert.False(t, catalog.Allowed("reports", viewer))

	stored, err := store.Get(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, access.AccessCustom, stored.AccessLevel)

	event, ok := sink.Last(access.ActivityEventPolicyUpdated)
	require.True(t, ok)
	assert.Equal(t, "reports", event.Metadata["resource"])
	assert.Equal(t, "verified", event.Metadata["from_level"])
	assert.Equal(t, "custom", event.Metadata["to_level"])

	_, err = catalog.UpdateAccessPolicy(ctx, actor, "reports", access.AccessPolicy{AccessLevel: "superuser"})
	assert.True(t, goerrors.IsValidation(err))
	assert.True(t, catalog.Allowed("reports", analyst))

	_, err = catalog.UpdateAccessPolicy(ctx, actor, "nope", access.AccessPolicy{AccessLevel: access.AccessAdmin})
	assert.ErrorIs(t, err, access.ErrResourceNotFound)
}

func TestCatalogAllowedUnknownAndInactive(t *testing.T) {
	catalog, _ := newTestCatalog(t, nil)
	ctx := context.Background()
	p := &access.Principal{ID: "u1", Active: true, EmailVerified: true}

	assert.False(t, catalog.Allowed("missing", p))
	assert.True(t, catalog.Allowed("monthly", p))

	toggled, err := catalog.ToggleNode(ctx, access.ActorRef{ID: "admin"}, "reports")
	require.NoError(t, err)
	assert.False(t, toggled.Active)

	assert.False(t, catalog.Allowed("reports", p))
	assert.False(t, catalog.Allowed("monthly", p))
	assert.Equal(t, map[string][]string{"home": {}}, menuNames(catalog.Menu(p)))
}

func TestCatalogRemoveNode(t *testing.T) {
	catalog, _ := newTestCatalog(t, nil)
	ctx := context.Background()
	actor := access.ActorRef{ID: "admin"}

	err := catalog.RemoveNode(ctx, actor, "reports")
	assert.ErrorIs(t, err, access.ErrResourceHasChildren)

	require.NoError(t, catalog.RemoveNode(ctx, actor, "monthly"))
	require.NoError(t, catalog.RemoveNode(ctx, actor, "reports"))

	err = catalog.RemoveNode(ctx, actor, "reports")
	assert.ErrorIs(t, err, access.ErrResourceNotFound)
	assert.Len(t, catalog.Nodes(), 1)
}

type failingMenuStore struct {
	*memstore.MenuStore
	err error
}

func (f failingMenuStore) List(context.Context) ([]*access.MenuNode, error) {
	return nil, f.err
}

func TestCatalogReloadKeepsSnapshotOnFailure(t *testing.T) {
	inner := memstore.NewMenuStore()
	require.NoError(t, inner.Insert(context.Background(), node("home", access.MenuLevelTop, "", 0, 0, access.AccessPublic)))

	catalog := access.NewCatalog(inner)
	require.NoError(t, catalog.Reload(context.Background()))

	boom := access.StoreError("list", errors.New("down"))
	broken := access.NewCatalog(failingMenuStore{MenuStore: inner, err: boom})
	err := broken.Reload(context.Background())
	assert.ErrorIs(t, err, access.ErrStoreUnavailable)
	assert.Empty(t, broken.Nodes())
	assert.Len(t, catalog.Nodes(), 1)
}
