package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidEntity is returned for nodes without a usable id or label
	ErrInvalidEntity = errors.New("invalid entity")
	// ErrMissingEndpoint is returned when an edge endpoint was never persisted
	ErrMissingEndpoint = errors.New("edge endpoint not persisted")
)

// Store performs idempotent upserts of nodes and edges.
// Implementations must be safe for concurrent use.
type Store interface {
	UpsertNode(ctx context.Context, node Node) (NodeRef, error)
	UpsertEdge(ctx context.Context, from, to NodeRef, rel Relation) error
}

// Querier answers the read-only reports over a persisted graph
type Querier interface {
	CountUsers(ctx context.Context) (int64, error)
	CountGroups(ctx context.Context) (int64, error)
	TopUsers(ctx context.Context, n int) ([]Ranked, error)
	TopGroups(ctx context.Context, n int) ([]Ranked, error)
	MutualFollows(ctx context.Context) ([]Pair, error)
}

// Backend is a full storage backend selectable from configuration
type Backend interface {
	Store
	Querier
	Reset(ctx context.Context) error
	Close() error
}

// ValidateNode rejects nodes that must never reach a store
func ValidateNode(node Node) error {
	if !node.Label.Valid() {
		return fmt.Errorf("%w: unknown label %q", ErrInvalidEntity, node.Label)
	}
	if node.ID <= 0 {
		return fmt.Errorf("%w: %s has no id", ErrInvalidEntity, node.Label)
	}
	return nil
}

// ValidateEdge rejects edges with malformed endpoints or relation
func ValidateEdge(from, to NodeRef, rel Relation) error {
	if !rel.Valid() {
		return fmt.Errorf("%w: unknown relation %q", ErrInvalidEntity, rel)
	}
	for _, ref := range []NodeRef{from, to} {
		if !ref.Label.Valid() || ref.ID <= 0 {
			return fmt.Errorf("%w: %s(%d)", ErrMissingEndpoint, ref.Label, ref.ID)
		}
	}
	return nil
}
