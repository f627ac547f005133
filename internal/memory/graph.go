package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/alvmarrod/vk-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// MemoryGraph holds graph data in memory for fast access
type MemoryGraph struct {
	nodes map[storage.NodeRef]*storage.Node
	edges map[storage.Edge]struct{}
	mu    sync.RWMutex
}

// NewMemoryGraph creates a new in-memory graph
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		nodes: make(map[storage.NodeRef]*storage.Node),
		edges: make(map[storage.Edge]struct{}),
	}
}

// UpsertNode inserts a node or overwrites its attributes
func (mg *MemoryGraph) UpsertNode(_ context.Context, node storage.Node) (storage.NodeRef, error) {
	if err := storage.ValidateNode(node); err != nil {
		return storage.NodeRef{}, err
	}

	mg.mu.Lock()
	defer mg.mu.Unlock()

	ref := node.Ref()
	stored := &storage.Node{Label: node.Label, ID: node.ID, Attrs: maps.Clone(node.Attrs)}
	mg.nodes[ref] = stored

	return ref, nil
}

// UpsertEdge records a relation between two existing nodes
func (mg *MemoryGraph) UpsertEdge(_ context.Context, from, to storage.NodeRef, rel storage.Relation) error {
	if err := storage.ValidateEdge(from, to, rel); err != nil {
		return err
	}

	mg.mu.Lock()
	defer mg.mu.Unlock()

	if _, exists := mg.nodes[from]; !exists {
		return fmt.Errorf("%w: source %s(%d)", storage.ErrMissingEndpoint, from.Label, from.ID)
	}
	if _, exists := mg.nodes[to]; !exists {
		return fmt.Errorf("%w: target %s(%d)", storage.ErrMissingEndpoint, to.Label, to.ID)
	}

	mg.edges[storage.Edge{From: from, To: to, Relation: rel}] = struct{}{}
	return nil
}

// GetNode retrieves a node by reference
func (mg *MemoryGraph) GetNode(ref storage.NodeRef) (*storage.Node, bool) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	if node, exists := mg.nodes[ref]; exists {
		// Return a copy to prevent external modifications
		nodeCopy := *node
		nodeCopy.Attrs = maps.Clone(node.Attrs)
		return &nodeCopy, true
	}

	return nil, false
}

// HasEdge reports whether the given relation was recorded
func (mg *MemoryGraph) HasEdge(from, to storage.NodeRef, rel storage.Relation) bool {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	_, exists := mg.edges[storage.Edge{From: from, To: to, Relation: rel}]
	return exists
}

// GetStats returns current graph statistics
func (mg *MemoryGraph) GetStats() (nodeCount, edgeCount int) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	return len(mg.nodes), len(mg.edges)
}

// CountUsers returns the number of User nodes
func (mg *MemoryGraph) CountUsers(_ context.Context) (int64, error) {
	return mg.countLabel(storage.LabelUser), nil
}

// CountGroups returns the number of Group nodes
func (mg *MemoryGraph) CountGroups(_ context.Context) (int64, error) {
	return mg.countLabel(storage.LabelGroup), nil
}

func (mg *MemoryGraph) countLabel(label storage.Label) int64 {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	var n int64
	for ref := range mg.nodes {
		if ref.Label == label {
			n++
		}
	}
	return n
}

// TopUsers ranks users by the number of relations touching them
func (mg *MemoryGraph) TopUsers(_ context.Context, n int) ([]storage.Ranked, error) {
	return mg.topByDegree(storage.LabelUser, n), nil
}

// TopGroups ranks groups by the number of relations touching them
func (mg *MemoryGraph) TopGroups(_ context.Context, n int) ([]storage.Ranked, error) {
	return mg.topByDegree(storage.LabelGroup, n), nil
}

func (mg *MemoryGraph) topByDegree(label storage.Label, n int) []storage.Ranked {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	degree := make(map[storage.NodeRef]int64)
	for ref := range mg.nodes {
		if ref.Label == label {
			degree[ref] = 0
		}
	}
	for edge := range mg.edges {
		if _, ok := degree[edge.From]; ok {
			degree[edge.From]++
		}
		if _, ok := degree[edge.To]; ok {
			degree[edge.To]++
		}
	}

	refs := make([]storage.NodeRef, 0, len(degree))
	for ref := range degree {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if degree[refs[i]] != degree[refs[j]] {
			return degree[refs[i]] > degree[refs[j]]
		}
		return refs[i].ID < refs[j].ID
	})

	if n >= 0 && len(refs) > n {
		refs = refs[:n]
	}

	ranked := make([]storage.Ranked, 0, len(refs))
	for _, ref := range refs {
		ranked = append(ranked, storage.Ranked{Name: mg.nodes[ref].Name(), Count: degree[ref]})
	}
	return ranked
}

// MutualFollows returns every ordered pair of users following each other
func (mg *MemoryGraph) MutualFollows(_ context.Context) ([]storage.Pair, error) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	var follows []storage.Edge
	for edge := range mg.edges {
		if edge.Relation != storage.RelFollow || edge.From.Label != storage.LabelUser || edge.To.Label != storage.LabelUser {
			continue
		}
		reverse := storage.Edge{From: edge.To, To: edge.From, Relation: storage.RelFollow}
		if _, ok := mg.edges[reverse]; ok {
			follows = append(follows, edge)
		}
	}
	sort.Slice(follows, func(i, j int) bool {
		if follows[i].From.ID != follows[j].From.ID {
			return follows[i].From.ID < follows[j].From.ID
		}
		return follows[i].To.ID < follows[j].To.ID
	})

	pairs := make([]storage.Pair, 0, len(follows))
	for _, edge := range follows {
		pairs = append(pairs, storage.Pair{
			First:  mg.nodes[edge.From].Name(),
			Second: mg.nodes[edge.To].Name(),
		})
	}
	return pairs, nil
}

// Reset drops every node and edge
func (mg *MemoryGraph) Reset(_ context.Context) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	mg.nodes = make(map[storage.NodeRef]*storage.Node)
	mg.edges = make(map[storage.Edge]struct{})
	return nil
}

// Close is a no-op; it lets MemoryGraph act as a storage.Backend
func (mg *MemoryGraph) Close() error {
	return nil
}

// Flush writes all in-memory data to a persistent store.
// Nodes go first so every edge finds its endpoints.
func (mg *MemoryGraph) Flush(ctx context.Context, store storage.Store) error {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	startTime := time.Now()
	logrus.Info("Starting flush to store...")

	nodesWritten := 0
	edgesWritten := 0
	var firstErr error

	for _, node := range mg.nodes {
		if _, err := store.UpsertNode(ctx, *node); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logrus.Warnf("Failed to flush %s %d: %v", node.Label, node.ID, err)
			continue
		}
		nodesWritten++
	}

	for edge := range mg.edges {
		if err := store.UpsertEdge(ctx, edge.From, edge.To, edge.Relation); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logrus.Warnf("Failed to flush edge %d -[%s]-> %d: %v", edge.From.ID, edge.Relation, edge.To.ID, err)
			continue
		}
		edgesWritten++
	}

	duration := time.Since(startTime)
	logrus.Infof("Flush complete: %d nodes, %d edges written in %v", nodesWritten, edgesWritten, duration)

	return firstErr
}
