package storage

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"
)

// Neo4jStore persists the crawl graph into Neo4j using MERGE semantics
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects to Neo4j, verifies connectivity and ensures the
// uniqueness constraints the upserts rely on
func NewNeo4jStore(ctx context.Context, uri, user, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", uri, err)
	}

	store := &Neo4jStore{driver: driver, database: database}
	if err := store.ensureSchema(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logrus.Infof("Connected to neo4j at %s", uri)
	return store, nil
}

func (s *Neo4jStore) ensureSchema(ctx context.Context) error {
	for _, label := range []Label{LabelUser, LabelGroup} {
		query := fmt.Sprintf(
			"CREATE CONSTRAINT %s_id IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			labelConstraintName(label), label)
		if _, err := s.write(ctx, query, nil); err != nil {
			return err
		}
	}
	return nil
}

func labelConstraintName(label Label) string {
	switch label {
	case LabelGroup:
		return "group"
	default:
		return "user"
	}
}

// UpsertNode merges a node on (label, id) and overwrites its attributes
func (s *Neo4jStore) UpsertNode(ctx context.Context, node Node) (NodeRef, error) {
	if err := ValidateNode(node); err != nil {
		return NodeRef{}, err
	}

	// Labels are validated above and cannot be parameterized in Cypher
	query := fmt.Sprintf(`
		MERGE (n:%s {id: $id})
		SET n += $attrs
		RETURN n.id AS id
	`, node.Label)

	attrs := node.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}

	if _, err := s.write(ctx, query, map[string]any{"id": node.ID, "attrs": attrs}); err != nil {
		return NodeRef{}, fmt.Errorf("failed to upsert %s %d: %w", node.Label, node.ID, err)
	}
	return node.Ref(), nil
}

// UpsertEdge merges a relation between two existing nodes
func (s *Neo4jStore) UpsertEdge(ctx context.Context, from, to NodeRef, rel Relation) error {
	if err := ValidateEdge(from, to, rel); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		MATCH (a:%s {id: $from}), (b:%s {id: $to})
		MERGE (a)-[r:%s]->(b)
		RETURN count(r) AS n
	`, from.Label, to.Label, rel)

	records, err := s.write(ctx, query, map[string]any{"from": from.ID, "to": to.ID})
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}

	n, err := singleInt(records, "n")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s(%d) -[%s]-> %s(%d)", ErrMissingEndpoint, from.Label, from.ID, rel, to.Label, to.ID)
	}
	return nil
}

// CountUsers returns the number of User nodes
func (s *Neo4jStore) CountUsers(ctx context.Context) (int64, error) {
	return s.countLabel(ctx, LabelUser)
}

// CountGroups returns the number of Group nodes
func (s *Neo4jStore) CountGroups(ctx context.Context) (int64, error) {
	return s.countLabel(ctx, LabelGroup)
}

func (s *Neo4jStore) countLabel(ctx context.Context, label Label) (int64, error) {
	records, err := s.read(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS total", label), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s nodes: %w", label, err)
	}
	return singleInt(records, "total")
}

// TopUsers ranks users by the number of relations touching them
func (s *Neo4jStore) TopUsers(ctx context.Context, n int) ([]Ranked, error) {
	return s.topByDegree(ctx, LabelUser, n)
}

// TopGroups ranks groups by the number of relations touching them
func (s *Neo4jStore) TopGroups(ctx context.Context, n int) ([]Ranked, error) {
	return s.topByDegree(ctx, LabelGroup, n)
}

func (s *Neo4jStore) topByDegree(ctx context.Context, label Label, n int) ([]Ranked, error) {
	query := fmt.Sprintf(`
		MATCH (n:%s)
		OPTIONAL MATCH (n)-[r]-()
		RETURN n.id AS id, n.name AS name, count(r) AS degree
		ORDER BY degree DESC, id ASC
		LIMIT $n
	`, label)

	records, err := s.read(ctx, query, map[string]any{"n": int64(n)})
	if err != nil {
		return nil, fmt.Errorf("failed to rank %s nodes: %w", label, err)
	}

	ranked := make([]Ranked, 0, len(records))
	for _, record := range records {
		name, _, err := neo4j.GetRecordValue[string](record, "name")
		if err != nil {
			return nil, err
		}
		degree, _, err := neo4j.GetRecordValue[int64](record, "degree")
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, Ranked{Name: name, Count: degree})
	}
	return ranked, nil
}

// MutualFollows returns every ordered pair of users following each other
func (s *Neo4jStore) MutualFollows(ctx context.Context) ([]Pair, error) {
	records, err := s.read(ctx, `
		MATCH (u1:User)-[:Follow]->(u2:User)
		WHERE (u2)-[:Follow]->(u1)
		RETURN u1.name AS first, u2.name AS second
		ORDER BY u1.id, u2.id
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutual follows: %w", err)
	}

	pairs := make([]Pair, 0, len(records))
	for _, record := range records {
		first, _, err := neo4j.GetRecordValue[string](record, "first")
		if err != nil {
			return nil, err
		}
		second, _, err := neo4j.GetRecordValue[string](record, "second")
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{First: first, Second: second})
	}
	return pairs, nil
}

// Reset deletes every node and relation in the database
func (s *Neo4jStore) Reset(ctx context.Context) error {
	if _, err := s.write(ctx, "MATCH (n) DETACH DELETE n", nil); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	return nil
}

// Close releases the driver and its connection pool
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Neo4jStore) write(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

func (s *Neo4jStore) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

func singleInt(records []*neo4j.Record, key string) (int64, error) {
	if len(records) != 1 {
		return 0, fmt.Errorf("expected one record, got %d", len(records))
	}
	v, _, err := neo4j.GetRecordValue[int64](records[0], key)
	if err != nil {
		return 0, err
	}
	return v, nil
}
