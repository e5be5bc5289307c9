package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Compile-time interface check.
var _ Index = (*PostgresIndex)(nil)

// PostgresIndex is an [Index] backed by a PostgreSQL facts table with a
// pgvector HNSW index for approximate nearest-neighbour recall.
//
// All methods are safe for concurrent use.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// schema returns the facts DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at creation time.
func schema(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_facts (
    id          UUID         PRIMARY KEY,
    user_id     UUID         NOT NULL,
    session_id  UUID         NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_facts_user_id
    ON memory_facts (user_id);

CREATE INDEX IF NOT EXISTS idx_memory_facts_embedding
    ON memory_facts USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// NewPostgresIndex establishes a connection pool to the database at dsn,
// registers pgvector types on every connection, and ensures the facts schema
// exists.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing it after the first migration requires a manual
// schema update.
func NewPostgresIndex(ctx context.Context, dsn string, embeddingDimensions int) (*PostgresIndex, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema(embeddingDimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory: migrate: %w", err)
	}

	return &PostgresIndex{pool: pool}, nil
}

// Close releases the connection pool.
func (x *PostgresIndex) Close() {
	x.pool.Close()
}

// Store implements [Index].
func (x *PostgresIndex) Store(ctx context.Context, facts []Fact) error {
	const q = `
		INSERT INTO memory_facts (id, user_id, session_id, content, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding`

	for _, f := range facts {
		_, err := x.pool.Exec(ctx, q,
			f.ID, f.UserID, f.SessionID, f.Content, pgvector.NewVector(f.Embedding))
		if err != nil {
			return fmt.Errorf("memory: store fact %s: %w", f.ID, err)
		}
	}
	return nil
}

// Recall implements [Index]. Results are ordered by ascending cosine distance.
func (x *PostgresIndex) Recall(ctx context.Context, userID uuid.UUID, embedding []float32, limit int) ([]RecalledFact, error) {
	const q = `
		SELECT id, user_id, session_id, content, embedding, created_at,
		       embedding <=> $2 AS distance
		FROM   memory_facts
		WHERE  user_id = $1
		ORDER  BY distance
		LIMIT  $3`

	rows, err := x.pool.Query(ctx, q, userID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("memory: recall: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RecalledFact, error) {
		var (
			rf  RecalledFact
			vec pgvector.Vector
		)
		if err := row.Scan(&rf.ID, &rf.UserID, &rf.SessionID, &rf.Content, &vec, &rf.CreatedAt, &rf.Distance); err != nil {
			return RecalledFact{}, err
		}
		rf.Embedding = vec.Slice()
		return rf, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: collect recall rows: %w", err)
	}
	return results, nil
}
