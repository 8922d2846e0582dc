// Package postgres provides a PostgreSQL + pgvector backend for the long-term
// memory store. It implements longterm.Store with durable rows instead of the
// FileStore's metadata document, and delegates similarity search to pgvector's
// cosine distance operator.
package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/codavoice/coda/pkg/memory"
	"github.com/codavoice/coda/pkg/memory/longterm"
	"github.com/codavoice/coda/pkg/provider/embeddings"
)

// Compile-time interface checks.
var (
	_ longterm.Store    = (*Store)(nil)
	_ longterm.Restorer = (*Store)(nil)
)

const defaultSearchLimit = 10

// searchDecayHalfLife mirrors the FileStore's recency weighting so both
// backends rank identically.
const searchDecayHalfLife = 30 * 24 * time.Hour

// Store is the PostgreSQL-backed long-term memory store. It holds a single
// pgxpool.Pool; all operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs Migrate so the memories table
// and the vector extension exist.
//
// The embedding dimension is taken from the embedder and must stay constant
// for the lifetime of the table; changing models requires a manual schema
// change.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres memory: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres memory: migrate: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Add implements longterm.Store. Rows are durable on commit, so no separate
// metadata flush is involved.
func (s *Store) Add(ctx context.Context, content string, source memory.SourceType, importance float64, metadata map[string]any) (string, error) {
	if content == "" {
		return "", fmt.Errorf("postgres memory: content must not be empty")
	}
	importance = clamp01(importance)

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("postgres memory: embed: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO coda_memories
			(id, content, source_type, importance, created_at, last_access, access_count, topics, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $5, 0, $6, $7, $8)`,
		id, content, string(source), importance, now, topicsFromMetadata(metadata), metadata, pgvector.NewVector(vec),
	)
	if err != nil {
		return "", fmt.Errorf("postgres memory: insert: %w", err)
	}
	return id, nil
}

// Get implements longterm.Store.
func (s *Store) Get(ctx context.Context, id string) (memory.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, content, source_type, importance, created_at, last_access, access_count, topics, metadata
		FROM coda_memories WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err == pgx.ErrNoRows {
		return memory.Record{}, fmt.Errorf("%w: %s", longterm.ErrNotFound, id)
	}
	if err != nil {
		return memory.Record{}, fmt.Errorf("postgres memory: get: %w", err)
	}
	return rec, nil
}

// Delete implements longterm.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM coda_memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres memory: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", longterm.ErrNotFound, id)
	}
	return nil
}

// Search implements longterm.Store using pgvector cosine distance. The
// adjusted score applies the same recency factor as the FileStore, computed
// over last_access.
func (s *Store) Search(ctx context.Context, query string, opts longterm.SearchOptions) ([]memory.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: embed query: %w", err)
	}

	// Over-fetch so that post-filtering by metadata and min-similarity still
	// fills the limit in the common case.
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, metadata, last_access, 1 - (embedding <=> $1) AS similarity
		FROM coda_memories
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(queryVec), limit*4)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: search: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var results []memory.SearchResult
	var hitIDs []string
	for rows.Next() {
		var (
			id, content string
			meta        map[string]any
			lastAccess  time.Time
			sim         float64
		)
		if err := rows.Scan(&id, &content, &meta, &lastAccess, &sim); err != nil {
			return nil, fmt.Errorf("postgres memory: scan result: %w", err)
		}
		if sim < opts.MinSimilarity {
			continue
		}
		if !matchesMetadata(meta, opts.MetadataFilter) {
			continue
		}
		results = append(results, memory.SearchResult{
			ID:         id,
			Content:    content,
			Metadata:   meta,
			Similarity: sim,
			Score:      sim * recencyFactor(now.Sub(lastAccess)),
		})
		hitIDs = append(hitIDs, id)
		if len(results) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres memory: search rows: %w", err)
	}

	if len(hitIDs) > 0 {
		_, err = s.pool.Exec(ctx, `
			UPDATE coda_memories
			SET access_count = access_count + 1, last_access = $2
			WHERE id = ANY($1)`, hitIDs, now)
		if err != nil {
			return nil, fmt.Errorf("postgres memory: bump access: %w", err)
		}
	}
	return results, nil
}

// Reinforce implements longterm.Store.
func (s *Store) Reinforce(ctx context.Context, id string, strength float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE coda_memories
		SET importance = LEAST(1.0, importance + $2),
		    last_access = now(),
		    access_count = access_count + 1
		WHERE id = $1`, id, strength)
	if err != nil {
		return fmt.Errorf("postgres memory: reinforce: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", longterm.ErrNotFound, id)
	}
	return nil
}

// AllMemories implements longterm.Store.
func (s *Store) AllMemories(ctx context.Context) ([]memory.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, source_type, importance, created_at, last_access, access_count, topics, metadata
		FROM coda_memories ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: all memories: %w", err)
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres memory: scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AllTopics implements longterm.Store.
func (s *Store) AllTopics(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT unnest(topics) FROM coda_memories ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: all topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("postgres memory: scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// Stats implements longterm.Store.
func (s *Store) Stats(ctx context.Context) (memory.Stats, error) {
	stats := memory.Stats{BySourceType: make(map[memory.SourceType]int)}

	row := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       coalesce(avg(importance), 0),
		       coalesce(min(created_at), 'epoch'::timestamptz),
		       coalesce(max(created_at), 'epoch'::timestamptz)
		FROM coda_memories`)
	var oldest, newest time.Time
	if err := row.Scan(&stats.MemoryCount, &stats.AvgImportance, &oldest, &newest); err != nil {
		return memory.Stats{}, fmt.Errorf("postgres memory: stats: %w", err)
	}
	if stats.MemoryCount > 0 {
		stats.OldestRecord = oldest
		stats.NewestRecord = newest
	}

	rows, err := s.pool.Query(ctx, `SELECT source_type, count(*) FROM coda_memories GROUP BY source_type`)
	if err != nil {
		return memory.Stats{}, fmt.Errorf("postgres memory: stats by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return memory.Stats{}, fmt.Errorf("postgres memory: scan stats: %w", err)
		}
		stats.BySourceType[memory.SourceType(st)] = n
	}
	if err := rows.Err(); err != nil {
		return memory.Stats{}, err
	}

	topics, err := s.AllTopics(ctx)
	if err != nil {
		return memory.Stats{}, err
	}
	stats.TopicCount = len(topics)
	return stats, nil
}

// SaveMetadata implements longterm.Store. Every write already commits
// durably, so there is no separate metadata document to flush.
func (s *Store) SaveMetadata(_ context.Context) error { return nil }

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ReplaceAll implements longterm.Restorer inside a single transaction.
func (s *Store) ReplaceAll(ctx context.Context, records []memory.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres memory: begin restore: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM coda_memories`); err != nil {
		return fmt.Errorf("postgres memory: clear: %w", err)
	}
	for _, rec := range records {
		vec := rec.Embedding
		if vec == nil {
			vec, err = s.embedder.Embed(ctx, rec.Content)
			if err != nil {
				return fmt.Errorf("postgres memory: re-embed on restore: %w", err)
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO coda_memories
				(id, content, source_type, importance, created_at, last_access, access_count, topics, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, rec.Content, string(rec.SourceType), rec.Importance,
			rec.CreatedAt, rec.LastAccess, rec.AccessCount, rec.Topics, rec.Metadata, pgvector.NewVector(vec),
		)
		if err != nil {
			return fmt.Errorf("postgres memory: restore insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ---- helpers ----

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (memory.Record, error) {
	var rec memory.Record
	var st string
	if err := row.Scan(&rec.ID, &rec.Content, &st, &rec.Importance,
		&rec.CreatedAt, &rec.LastAccess, &rec.AccessCount, &rec.Topics, &rec.Metadata); err != nil {
		return memory.Record{}, err
	}
	rec.SourceType = memory.SourceType(st)
	return rec, nil
}

func topicsFromMetadata(metadata map[string]any) []string {
	if metadata == nil {
		return nil
	}
	switch v := metadata[longterm.MetaTopics].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func matchesMetadata(meta, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func recencyFactor(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return 0.8 + 0.2*math.Exp(-float64(age)/float64(searchDecayHalfLife))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
