package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func upsertUser(t *testing.T, s Store, id int64, name string) NodeRef {
	t.Helper()
	u := &User{ID: id, Name: name, Sex: SexLabel(2), FollowersCount: 10}
	ref, err := s.UpsertNode(context.Background(), u.Node())
	require.NoError(t, err)
	return ref
}

func TestSQLiteUpsertNodeIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	u := &User{ID: 7, ScreenName: "durov", Name: "Pavel Durov", Sex: "Male", HomeTown: "Saint Petersburg", FollowersCount: 1000}
	for range 2 {
		ref, err := store.UpsertNode(ctx, u.Node())
		require.NoError(t, err)
		assert.Equal(t, NodeRef{Label: LabelUser, ID: 7}, ref)
	}

	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	node, err := store.getNode(ctx, LabelUser, 7)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "Pavel Durov", node.Name())
	assert.Equal(t, "Saint Petersburg", node.Attrs["home_town"])
	// JSON numbers decode as float64
	assert.EqualValues(t, 1000, node.Attrs["followers_count"])
}

func TestSQLiteUpsertNodeOverwritesAttributes(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	upsertUser(t, store, 1, "Old Name")
	upsertUser(t, store, 1, "New Name")

	node, err := store.getNode(ctx, LabelUser, 1)
	require.NoError(t, err)
	assert.Equal(t, "New Name", node.Name())
}

func TestSQLiteGetNodeMissing(t *testing.T) {
	store := newTestSQLite(t)

	node, err := store.getNode(context.Background(), LabelGroup, 404)
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestSQLiteRejectsInvalidNode(t *testing.T) {
	store := newTestSQLite(t)

	_, err := store.UpsertNode(context.Background(), Node{Label: LabelUser})
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = store.UpsertNode(context.Background(), Node{Label: "Page", ID: 3})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestSQLiteUpsertEdge(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	a := upsertUser(t, store, 1, "Alice")
	b := upsertUser(t, store, 2, "Bob")

	require.NoError(t, store.UpsertEdge(ctx, a, b, RelFollow))
	require.NoError(t, store.UpsertEdge(ctx, a, b, RelFollow), "repeated edge is a no-op")

	top, err := store.TopUsers(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, Ranked{Name: "Alice", Count: 1}, top[0])
}

func TestSQLiteUpsertEdgeMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	a := upsertUser(t, store, 1, "Alice")

	err := store.UpsertEdge(ctx, a, NodeRef{Label: LabelUser, ID: 99}, RelFollow)
	assert.ErrorIs(t, err, ErrMissingEndpoint)

	err = store.UpsertEdge(ctx, NodeRef{Label: LabelGroup, ID: 5}, a, RelSubscribe)
	assert.ErrorIs(t, err, ErrMissingEndpoint)

	err = store.UpsertEdge(ctx, a, NodeRef{}, RelFollow)
	assert.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestSQLiteQueries(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	a := upsertUser(t, store, 1, "Alice")
	b := upsertUser(t, store, 2, "Bob")
	c := upsertUser(t, store, 3, "Carol")
	g, err := store.UpsertNode(ctx, Group{ID: 10, Name: "Climbing"}.Node())
	require.NoError(t, err)
	h, err := store.UpsertNode(ctx, Group{ID: 11}.Node())
	require.NoError(t, err)

	require.NoError(t, store.UpsertEdge(ctx, a, b, RelFollow))
	require.NoError(t, store.UpsertEdge(ctx, b, a, RelFollow))
	require.NoError(t, store.UpsertEdge(ctx, a, c, RelFollow))
	require.NoError(t, store.UpsertEdge(ctx, a, g, RelSubscribe))
	require.NoError(t, store.UpsertEdge(ctx, b, g, RelSubscribe))
	require.NoError(t, store.UpsertEdge(ctx, c, h, RelSubscribe))

	users, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, users)

	groups, err := store.CountGroups(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, groups)

	topUsers, err := store.TopUsers(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []Ranked{{Name: "Alice", Count: 4}, {Name: "Bob", Count: 3}}, topUsers)

	topGroups, err := store.TopGroups(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []Ranked{{Name: "Climbing", Count: 2}, {Name: "Unnamed Group", Count: 1}}, topGroups)

	pairs, err := store.MutualFollows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Pair{{First: "Alice", Second: "Bob"}, {First: "Bob", Second: "Alice"}}, pairs)
}

func TestSQLiteReset(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	a := upsertUser(t, store, 1, "Alice")
	b := upsertUser(t, store, 2, "Bob")
	require.NoError(t, store.UpsertEdge(ctx, a, b, RelFollow))

	require.NoError(t, store.Reset(ctx))

	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	top, err := store.TopUsers(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, top)
}
