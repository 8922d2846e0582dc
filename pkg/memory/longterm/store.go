// Package longterm implements Coda's persistent knowledge store: content
// records with vector retrieval, explicit fact/preference assertions, topic
// clustering, reinforcement and forgetting, and snapshot/restore.
//
// Three cooperating roles make up the layer:
//
//   - the Encoder turns conversation windows into candidate records with
//     heuristic importance and topic assignment;
//   - a Store persists records and serves semantic search (FileStore here,
//     a pgvector backend in the postgres sub-package);
//   - the forgetting policy evicts the lowest-scoring records under capacity
//     pressure.
package longterm

import (
	"context"
	"errors"

	"github.com/codavoice/coda/pkg/memory"
)

// ErrNotFound is returned by Get, Delete, and Reinforce for unknown ids.
var ErrNotFound = errors.New("longterm: memory not found")

// MetaTopics is the metadata key under which Add reads the record's topic set
// (a []string). The encoder and the memory tools populate it.
const MetaTopics = "topics"

// SearchOptions narrows a semantic search.
type SearchOptions struct {
	// Limit caps the number of results. 0 means a backend default (10).
	Limit int

	// MinSimilarity drops results whose raw similarity falls below the
	// threshold, before time-decay adjustment.
	MinSimilarity float64

	// MetadataFilter keeps only records whose metadata contains every given
	// key with an equal value.
	MetadataFilter map[string]any
}

// Store is the long-term memory backend abstraction.
//
// The write path (Add, Delete, Reinforce, SaveMetadata) is serialised by the
// implementation; readers may proceed concurrently.
type Store interface {
	// Add persists a new record and returns its id. Metadata is flushed to
	// durable storage on every Add, not only on clean shutdown. Importance is
	// clamped to [0,1]. Topic assignment is read from metadata[MetaTopics].
	Add(ctx context.Context, content string, source memory.SourceType, importance float64, metadata map[string]any) (string, error)

	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (memory.Record, error)

	// Delete removes the record with the given id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Search returns records semantically similar to query, sorted by adjusted
	// score (similarity combined with a time-decay factor). Matching records
	// have their access statistics bumped.
	Search(ctx context.Context, query string, opts SearchOptions) ([]memory.SearchResult, error)

	// Reinforce raises the record's importance by strength (bounded by 1) and
	// bumps its last-access timestamp and access count.
	Reinforce(ctx context.Context, id string, strength float64) error

	// AllMemories returns every stored record.
	AllMemories(ctx context.Context) ([]memory.Record, error)

	// AllTopics returns the distinct topics across all records.
	AllTopics(ctx context.Context) ([]string, error)

	// Stats summarises the store's contents.
	Stats(ctx context.Context) (memory.Stats, error)

	// SaveMetadata writes the metadata document atomically. A fallback path is
	// tried when the primary write fails.
	SaveMetadata(ctx context.Context) error

	// Close flushes metadata unconditionally and releases resources.
	Close() error
}

// Restorer is implemented by stores that support transactional wholesale
// replacement of their contents, used by snapshot apply.
type Restorer interface {
	// ReplaceAll atomically replaces the store's records with the given set
	// and flushes metadata.
	ReplaceAll(ctx context.Context, records []memory.Record) error
}
