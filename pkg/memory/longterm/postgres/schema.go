package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the vector extension, the memories table, and the cosine
// index if they do not exist. dims is the embedding dimension of the
// configured provider; an existing table with a different dimension causes
// inserts to fail rather than being migrated silently.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("postgres memory: embedding dimension must be positive, got %d", dims)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS coda_memories (
			id           text PRIMARY KEY,
			content      text NOT NULL,
			source_type  text NOT NULL,
			importance   double precision NOT NULL DEFAULT 0.5,
			created_at   timestamptz NOT NULL DEFAULT now(),
			last_access  timestamptz NOT NULL DEFAULT now(),
			access_count integer NOT NULL DEFAULT 0,
			topics       text[] NOT NULL DEFAULT '{}',
			metadata     jsonb,
			embedding    vector(%d) NOT NULL
		)`, dims),
		`CREATE INDEX IF NOT EXISTS coda_memories_embedding_idx
			ON coda_memories USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS coda_memories_created_at_idx
			ON coda_memories (created_at)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres memory: migrate: %w", err)
		}
	}
	return nil
}
