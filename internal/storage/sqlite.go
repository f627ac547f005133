package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore persists the crawl graph into a local SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens/creates the DB and initializes the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Concurrent crawl units share one writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables and indices if they don't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		label TEXT NOT NULL,
		id INTEGER NOT NULL,
		name TEXT,
		attrs TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (label, id)
	);

	CREATE TABLE IF NOT EXISTS edges (
		from_label TEXT NOT NULL,
		from_id INTEGER NOT NULL,
		to_label TEXT NOT NULL,
		to_id INTEGER NOT NULL,
		relation TEXT NOT NULL,
		FOREIGN KEY (from_label, from_id) REFERENCES nodes(label, id),
		FOREIGN KEY (to_label, to_id) REFERENCES nodes(label, id),
		UNIQUE(from_label, from_id, to_label, to_id, relation)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_label, from_id);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_label, to_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertNode inserts a node or overwrites its attributes if (label, id) exists
func (s *SQLiteStore) UpsertNode(ctx context.Context, node Node) (NodeRef, error) {
	if err := ValidateNode(node); err != nil {
		return NodeRef{}, err
	}

	attrs, err := json.Marshal(node.Attrs)
	if err != nil {
		return NodeRef{}, fmt.Errorf("failed to encode attributes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (label, id, name, attrs)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(label, id) DO UPDATE SET
			name = EXCLUDED.name,
			attrs = EXCLUDED.attrs,
			updated_at = CURRENT_TIMESTAMP
	`, string(node.Label), node.ID, node.Name(), string(attrs))
	if err != nil {
		return NodeRef{}, fmt.Errorf("failed to upsert node: %w", err)
	}

	return node.Ref(), nil
}

// UpsertEdge records a relation once; repeated calls are no-ops
func (s *SQLiteStore) UpsertEdge(ctx context.Context, from, to NodeRef, rel Relation) error {
	if err := ValidateEdge(from, to, rel); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (from_label, from_id, to_label, to_id, relation)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, string(from.Label), from.ID, string(to.Label), to.ID, string(rel))

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return fmt.Errorf("%w: %s(%d) -[%s]-> %s(%d)", ErrMissingEndpoint, from.Label, from.ID, rel, to.Label, to.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}
	return nil
}

// getNode retrieves a node by label and id, returns nil if not found
func (s *SQLiteStore) getNode(ctx context.Context, label Label, id int64) (*Node, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT attrs FROM nodes WHERE label = ? AND id = ?
	`, string(label), id).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	node := &Node{Label: label, ID: id}
	if err := json.Unmarshal([]byte(raw), &node.Attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	return node, nil
}

// CountUsers returns the number of User nodes
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	return s.countLabel(ctx, LabelUser)
}

// CountGroups returns the number of Group nodes
func (s *SQLiteStore) CountGroups(ctx context.Context) (int64, error) {
	return s.countLabel(ctx, LabelGroup)
}

func (s *SQLiteStore) countLabel(ctx context.Context, label Label) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes WHERE label = ?", string(label)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s nodes: %w", label, err)
	}
	return n, nil
}

// TopUsers ranks users by the number of relations touching them
func (s *SQLiteStore) TopUsers(ctx context.Context, n int) ([]Ranked, error) {
	return s.topByDegree(ctx, LabelUser, n)
}

// TopGroups ranks groups by the number of relations touching them
func (s *SQLiteStore) TopGroups(ctx context.Context, n int) ([]Ranked, error) {
	return s.topByDegree(ctx, LabelGroup, n)
}

func (s *SQLiteStore) topByDegree(ctx context.Context, label Label, n int) ([]Ranked, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(n.name, ''), COUNT(e.relation) AS degree
		FROM nodes n
		LEFT JOIN edges e
			ON (e.from_label = n.label AND e.from_id = n.id)
			OR (e.to_label = n.label AND e.to_id = n.id)
		WHERE n.label = ?
		GROUP BY n.label, n.id
		ORDER BY degree DESC, n.id ASC
		LIMIT ?
	`, string(label), n)
	if err != nil {
		return nil, fmt.Errorf("failed to rank %s nodes: %w", label, err)
	}
	defer rows.Close()

	var ranked []Ranked
	for rows.Next() {
		var r Ranked
		if err := rows.Scan(&r.Name, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan ranking: %w", err)
		}
		ranked = append(ranked, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ranking: %w", err)
	}
	return ranked, nil
}

// MutualFollows returns every ordered pair of users following each other
func (s *SQLiteStore) MutualFollows(ctx context.Context) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(a.name, ''), COALESCE(b.name, '')
		FROM edges e1
		JOIN edges e2
			ON e2.from_label = e1.to_label AND e2.from_id = e1.to_id
			AND e2.to_label = e1.from_label AND e2.to_id = e1.from_id
			AND e2.relation = e1.relation
		JOIN nodes a ON a.label = e1.from_label AND a.id = e1.from_id
		JOIN nodes b ON b.label = e1.to_label AND b.id = e1.to_id
		WHERE e1.relation = ? AND e1.from_label = ? AND e1.to_label = ?
		ORDER BY a.id, b.id
	`, string(RelFollow), string(LabelUser), string(LabelUser))
	if err != nil {
		return nil, fmt.Errorf("failed to query mutual follows: %w", err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.First, &p.Second); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pairs: %w", err)
	}
	return pairs, nil
}

// Reset deletes every node and edge
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM edges"); err != nil {
		return fmt.Errorf("failed to delete edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM nodes"); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
