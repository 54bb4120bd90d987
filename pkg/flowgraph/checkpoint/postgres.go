package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS %s (
	thread_id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	node_id TEXT NOT NULL,
	sequence BIGINT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	next_node TEXT NOT NULL,
	state BYTEA NOT NULL
)`

// PostgresStore persists checkpoints to PostgreSQL through a pgx pool.
// It suits deployments where several processes share one checkpoint table.
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
	ownsPool  bool
}

// NewPostgresStore opens a pool for dsn and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, tableName: "checkpoints", ownsPool: true}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromPool uses an existing pool. The caller keeps
// ownership; Close does not close the pool.
func NewPostgresStoreFromPool(pool *pgxpool.Pool, tableName string) *PostgresStore {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &PostgresStore{pool: pool, tableName: tableName}
}

// Migrate creates the checkpoint table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(postgresSchema, s.tableName)); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (thread_id, version, node_id, sequence, timestamp, next_node, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (thread_id) DO UPDATE SET
			version = EXCLUDED.version,
			node_id = EXCLUDED.node_id,
			sequence = EXCLUDED.sequence,
			timestamp = EXCLUDED.timestamp,
			next_node = EXCLUDED.next_node,
			state = EXCLUDED.state
		WHERE %[1]s.sequence <= EXCLUDED.sequence
	`, s.tableName)

	tag, err := s.pool.Exec(ctx, query,
		cp.ThreadID, cp.Version, cp.NodeID, cp.Sequence, cp.Timestamp, cp.NextNode, []byte(cp.State))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleSequence
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT thread_id, version, node_id, sequence, timestamp, next_node, state
		FROM %s
		WHERE thread_id = $1
	`, s.tableName)

	var cp Checkpoint
	var state []byte
	err := s.pool.QueryRow(ctx, query, threadID).Scan(
		&cp.ThreadID, &cp.Version, &cp.NodeID, &cp.Sequence, &cp.Timestamp, &cp.NextNode, &state,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.State = state
	return &cp, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]Info, error) {
	query := fmt.Sprintf(`
		SELECT thread_id, node_id, sequence, timestamp, octet_length(state)
		FROM %s
		ORDER BY thread_id
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ThreadID, &info.NodeID, &info.Sequence, &info.Timestamp, &info.Size); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return infos, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE thread_id = $1", s.tableName)
	if _, err := s.pool.Exec(ctx, query, threadID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}
