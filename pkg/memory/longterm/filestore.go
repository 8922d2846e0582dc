package longterm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codavoice/coda/pkg/memory"
	"github.com/codavoice/coda/pkg/provider/embeddings"
)

const (
	// metadataFile is the metadata document name inside the store directory.
	metadataFile = "metadata.json"

	// DefaultMaxMemories is the capacity before the forgetting policy evicts.
	DefaultMaxMemories = 1000

	defaultSearchLimit = 10

	// searchDecayHalfLife shapes the time-decay factor applied on top of raw
	// similarity when ranking search results.
	searchDecayHalfLife = 30 * 24 * time.Hour
)

// FileStoreOption is a functional option for FileStore.
type FileStoreOption func(*FileStore)

// WithDir sets the primary persistence directory. Empty keeps the store
// in-memory only.
func WithDir(dir string) FileStoreOption {
	return func(s *FileStore) {
		s.dir = dir
	}
}

// WithFallbackDir sets the backup directory tried when the primary metadata
// write fails. Defaults to the OS temp directory.
func WithFallbackDir(dir string) FileStoreOption {
	return func(s *FileStore) {
		s.fallbackDir = dir
	}
}

// WithMaxMemories sets the capacity before forgetting kicks in.
func WithMaxMemories(n int) FileStoreOption {
	return func(s *FileStore) {
		if n > 0 {
			s.maxMemories = n
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.log = l
	}
}

// FileStore is the default long-term backend: records live in memory and the
// metadata document is flushed to <dir>/metadata.json on every write. Vectors
// come from the configured embeddings provider and similarity is cosine.
//
// Safe for concurrent use. The write path is serialised by a mutex; readers
// proceed under a shared lock.
type FileStore struct {
	embedder    embeddings.Provider
	dir         string
	fallbackDir string
	maxMemories int
	log         *slog.Logger

	mu      sync.RWMutex
	records map[string]*memory.Record

	// now is the clock; replaceable in tests.
	now func() time.Time
}

// Compile-time interface assertions.
var (
	_ Store    = (*FileStore)(nil)
	_ Restorer = (*FileStore)(nil)
)

// NewFileStore creates a FileStore backed by the given embeddings provider.
// When a persistence directory is configured and holds a metadata document
// from an earlier run, its records are loaded (without embeddings; vectors
// are recomputed lazily on first search).
func NewFileStore(embedder embeddings.Provider, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		embedder:    embedder,
		fallbackDir: os.TempDir(),
		maxMemories: DefaultMaxMemories,
		log:         slog.Default(),
		records:     make(map[string]*memory.Record),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, fmt.Errorf("longterm: create store dir: %w", err)
		}
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// metadataDoc is the persisted JSON metadata document.
type metadataDoc struct {
	MemoryCount int                       `json:"memory_count"`
	Memories    map[string]*memory.Record `json:"memories"`
	Topics      []string                  `json:"topics"`
	LastUpdated time.Time                 `json:"last_updated"`
}

// load reads an existing metadata document, if any.
func (s *FileStore) load() error {
	path := filepath.Join(s.dir, metadataFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("longterm: read metadata: %w", err)
	}

	var doc metadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("longterm: parse metadata: %w", err)
	}
	if doc.Memories != nil {
		s.records = doc.Memories
	}
	s.log.Info("long-term memory loaded", "path", path, "records", len(s.records))
	return nil
}

// Add implements Store.
func (s *FileStore) Add(ctx context.Context, content string, source memory.SourceType, importance float64, metadata map[string]any) (string, error) {
	if content == "" {
		return "", fmt.Errorf("longterm: content must not be empty")
	}
	importance = clamp01(importance)

	var embedding []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, content)
		if err != nil {
			// Retrieval degrades for this record but the write still lands.
			s.log.Warn("embedding failed, storing without vector", "error", err)
		} else {
			embedding = vec
		}
	}

	now := s.now()
	rec := &memory.Record{
		ID:          uuid.NewString(),
		Content:     content,
		SourceType:  source,
		Importance:  importance,
		CreatedAt:   now,
		LastAccess:  now,
		AccessCount: 0,
		Topics:      topicsFromMetadata(metadata),
		Metadata:    metadata,
		Embedding:   embedding,
	}

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.enforceCapacityLocked()
	s.mu.Unlock()

	if err := s.SaveMetadata(ctx); err != nil {
		s.log.Error("metadata flush after add failed", "error", err)
	}
	return rec.ID, nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, id string) (memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return memory.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *rec, nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.records[id]
	if ok {
		delete(s.records, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.SaveMetadata(ctx)
}

// Search implements Store. Records without a stored vector are embedded on
// the fly and the vector is cached.
func (s *FileStore) Search(ctx context.Context, query string, opts SearchOptions) ([]memory.SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("longterm: search requires an embeddings provider")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("longterm: embed query: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var results []memory.SearchResult
	for _, rec := range s.records {
		if !matchesMetadata(rec.Metadata, opts.MetadataFilter) {
			continue
		}
		if rec.Embedding == nil {
			vec, err := s.embedder.Embed(ctx, rec.Content)
			if err != nil {
				continue
			}
			rec.Embedding = vec
		}
		sim := cosineSimilarity(queryVec, rec.Embedding)
		if sim < opts.MinSimilarity {
			continue
		}
		results = append(results, memory.SearchResult{
			ID:         rec.ID,
			Content:    rec.Content,
			Metadata:   rec.Metadata,
			Similarity: sim,
			Score:      sim * recencyFactor(now.Sub(rec.LastAccess)),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	// Retrieval hits count as accesses.
	for _, r := range results {
		if rec, ok := s.records[r.ID]; ok {
			rec.AccessCount++
			rec.LastAccess = now
		}
	}
	return results, nil
}

// Reinforce implements Store.
func (s *FileStore) Reinforce(ctx context.Context, id string, strength float64) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok {
		rec.Importance = clamp01(rec.Importance + strength)
		rec.LastAccess = s.now()
		rec.AccessCount++
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.SaveMetadata(ctx)
}

// AllMemories implements Store.
func (s *FileStore) AllMemories(_ context.Context) ([]memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]memory.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AllTopics implements Store.
func (s *FileStore) AllTopics(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topicsLocked(), nil
}

func (s *FileStore) topicsLocked() []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, rec := range s.records {
		for _, t := range rec.Topics {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				topics = append(topics, t)
			}
		}
	}
	sort.Strings(topics)
	return topics
}

// Stats implements Store.
func (s *FileStore) Stats(_ context.Context) (memory.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := memory.Stats{
		MemoryCount:  len(s.records),
		BySourceType: make(map[memory.SourceType]int),
		TopicCount:   len(s.topicsLocked()),
	}
	var importanceSum float64
	for _, rec := range s.records {
		stats.BySourceType[rec.SourceType]++
		importanceSum += rec.Importance
		if stats.OldestRecord.IsZero() || rec.CreatedAt.Before(stats.OldestRecord) {
			stats.OldestRecord = rec.CreatedAt
		}
		if rec.CreatedAt.After(stats.NewestRecord) {
			stats.NewestRecord = rec.CreatedAt
		}
	}
	if len(s.records) > 0 {
		stats.AvgImportance = importanceSum / float64(len(s.records))
	}
	return stats, nil
}

// SaveMetadata implements Store. The document is written to a temp file and
// renamed into place; when the primary directory is unwritable the fallback
// directory is tried.
func (s *FileStore) SaveMetadata(_ context.Context) error {
	if s.dir == "" {
		return nil
	}

	s.mu.RLock()
	doc := metadataDoc{
		MemoryCount: len(s.records),
		Memories:    s.records,
		Topics:      s.topicsLocked(),
		LastUpdated: s.now(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("longterm: marshal metadata: %w", err)
	}

	primary := filepath.Join(s.dir, metadataFile)
	if err := atomicWrite(primary, data); err != nil {
		s.log.Warn("primary metadata write failed, trying fallback", "error", err, "fallback_dir", s.fallbackDir)
		fallback := filepath.Join(s.fallbackDir, "coda_"+metadataFile)
		if ferr := atomicWrite(fallback, data); ferr != nil {
			return fmt.Errorf("longterm: metadata write failed (primary: %v): %w", err, ferr)
		}
	}
	return nil
}

// Close flushes metadata unconditionally.
func (s *FileStore) Close() error {
	return s.SaveMetadata(context.Background())
}

// ReplaceAll implements Restorer: the record set is swapped in one step and
// metadata is flushed.
func (s *FileStore) ReplaceAll(ctx context.Context, records []memory.Record) error {
	next := make(map[string]*memory.Record, len(records))
	for i := range records {
		rec := records[i]
		if rec.ID == "" {
			return fmt.Errorf("longterm: restore record without id")
		}
		next[rec.ID] = &rec
	}

	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
	return s.SaveMetadata(ctx)
}

// enforceCapacityLocked evicts the lowest-scoring records while the store is
// over capacity. Caller holds the write lock.
func (s *FileStore) enforceCapacityLocked() {
	for len(s.records) > s.maxMemories {
		victimID := ""
		victimScore := math.Inf(1)
		now := s.now()
		for id, rec := range s.records {
			score := forgettingScore(rec, now)
			if score < victimScore {
				victimScore = score
				victimID = id
			}
		}
		if victimID == "" {
			return
		}
		s.log.Debug("forgetting memory", "id", victimID, "score", victimScore)
		delete(s.records, victimID)
	}
}

// ---- helpers ----------------------------------------------------------------

// atomicWrite writes data to path via a temp file in the same directory and a
// rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// topicsFromMetadata extracts the topic set from metadata[MetaTopics],
// accepting []string or []any of strings.
func topicsFromMetadata(metadata map[string]any) []string {
	if metadata == nil {
		return nil
	}
	switch v := metadata[MetaTopics].(type) {
	case []string:
		return append([]string(nil), v...)
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

// matchesMetadata reports whether meta contains every filter key with an
// equal value. An empty filter matches everything.
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

// cosineSimilarity returns the cosine of the angle between a and b, or 0 for
// mismatched or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// recencyFactor maps time since last access to a multiplier in (0.8, 1.0]:
// fresh records rank slightly ahead of stale ones without similarity ever
// being fully overridden.
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
