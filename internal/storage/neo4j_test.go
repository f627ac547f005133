package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestNeo4j connects to the database named by NEO4J_TEST_URI and wipes it.
// The tests are skipped when the variable is unset.
func newTestNeo4j(t *testing.T) *Neo4jStore {
	t.Helper()
	uri := os.Getenv("NEO4J_TEST_URI")
	if uri == "" {
		t.Skip("NEO4J_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewNeo4jStore(ctx, uri, os.Getenv("NEO4J_TEST_USER"), os.Getenv("NEO4J_TEST_PASSWORD"), "")
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNeo4jUpsertIdempotent(t *testing.T) {
	store := newTestNeo4j(t)
	ctx := context.Background()

	a := upsertUser(t, store, 1, "Alice")
	a2 := upsertUser(t, store, 1, "Alice")
	assert.Equal(t, a, a2)
	b := upsertUser(t, store, 2, "Bob")

	require.NoError(t, store.UpsertEdge(ctx, a, b, RelFollow))
	require.NoError(t, store.UpsertEdge(ctx, a, b, RelFollow))

	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	top, err := store.TopUsers(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []Ranked{{Name: "Alice", Count: 1}}, top)
}

func TestNeo4jMissingEndpoint(t *testing.T) {
	store := newTestNeo4j(t)
	ctx := context.Background()

	a := upsertUser(t, store, 1, "Alice")
	err := store.UpsertEdge(ctx, a, NodeRef{Label: LabelGroup, ID: 77}, RelSubscribe)
	assert.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestNeo4jMutualFollows(t *testing.T) {
	store := newTestNeo4j(t)
	ctx := context.Background()

	a := upsertUser(t, store, 1, "Alice")
	b := upsertUser(t, store, 2, "Bob")
	c := upsertUser(t, store, 3, "Carol")
	require.NoError(t, store.UpsertEdge(ctx, a, b, RelFollow))
	require.NoError(t, store.UpsertEdge(ctx, b, a, RelFollow))
	require.NoError(t, store.UpsertEdge(ctx, a, c, RelFollow))

	pairs, err := store.MutualFollows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Pair{{First: "Alice", Second: "Bob"}, {First: "Bob", Second: "Alice"}}, pairs)
}
