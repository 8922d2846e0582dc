package longterm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/codavoice/coda/pkg/memory"
	"github.com/codavoice/coda/pkg/provider/embeddings/mock"
)

func clustererStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(&mock.Provider{})
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func addTopical(t *testing.T, s *FileStore, content string, importance float64, topics ...string) string {
	t.Helper()
	id, err := s.Add(context.Background(), content, memory.SourceFact, importance,
		map[string]any{MetaTopics: topics})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return id
}

func TestClusters_MergesOverlappingTopics(t *testing.T) {
	s := clustererStore(t)
	// "pets" and "animals" tag the same two records; "food" stands alone.
	addTopical(t, s, "the cat is orange", 0.5, "pets", "animals")
	addTopical(t, s, "the dog is called Rex", 0.5, "pets", "animals")
	addTopical(t, s, "dinner is at seven", 0.5, "food")
	addTopical(t, s, "pasta on tuesdays", 0.5, "food")

	c := NewClusterer(s)
	clusters, err := c.Clusters(context.Background())
	if err != nil {
		t.Fatalf("Clusters: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}

	var petCluster *Cluster
	for i := range clusters {
		for _, topic := range clusters[i].Topics {
			if topic == "pets" {
				petCluster = &clusters[i]
			}
		}
	}
	if petCluster == nil {
		t.Fatal("no cluster contains the pets topic")
	}
	if len(petCluster.Topics) != 2 {
		t.Errorf("pets cluster topics = %v, want pets+animals merged", petCluster.Topics)
	}
	if len(petCluster.MemoryIDs) != 2 {
		t.Errorf("pets cluster covers %d memories, want 2", len(petCluster.MemoryIDs))
	}
}

func TestClusters_DropsSingletonTopics(t *testing.T) {
	s := clustererStore(t)
	addTopical(t, s, "only mention of sailing", 0.5, "sailing")

	clusters, err := NewClusterer(s).Clusters(context.Background())
	if err != nil {
		t.Fatalf("Clusters: %v", err)
	}
	if len(clusters) != 0 {
		t.Errorf("got %d clusters from a singleton topic, want 0", len(clusters))
	}
}

func TestSummaries_QuotesTopRecordsByImportance(t *testing.T) {
	s := clustererStore(t)
	addTopical(t, s, "minor pet note", 0.2, "pets")
	addTopical(t, s, "the cat is orange", 0.9, "pets")

	sums, err := NewClusterer(s).Summaries(context.Background())
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(sums) != 1 {
		t.Fatalf("got %d summaries, want 1", len(sums))
	}
	if !strings.HasPrefix(sums[0], "Topic: pets (2 memories)") {
		t.Errorf("summary header = %q", sums[0])
	}
	lines := strings.Split(sums[0], "\n")
	if len(lines) < 2 || lines[1] != "- the cat is orange" {
		t.Errorf("summary = %q, want the important record quoted first", sums[0])
	}
}

func TestSummaries_CachedUntilInvalidated(t *testing.T) {
	s := clustererStore(t)
	addTopical(t, s, "a pet note", 0.5, "pets")
	addTopical(t, s, "another pet note", 0.5, "pets")

	c := NewClusterer(s, WithSummaryTTL(time.Hour))
	first, err := c.Summaries(context.Background())
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}

	// A store mutation without Invalidate is not reflected yet.
	addTopical(t, s, "third pet note", 0.5, "pets")
	cached, err := c.Summaries(context.Background())
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if cached[0] != first[0] {
		t.Error("summaries recomputed while the cache was fresh")
	}

	c.Invalidate()
	refreshed, err := c.Summaries(context.Background())
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if !strings.Contains(refreshed[0], "(3 memories)") {
		t.Errorf("post-invalidate summary = %q, want 3 memories", refreshed[0])
	}
}

func TestJaccard(t *testing.T) {
	a := map[string]struct{}{"x": {}, "y": {}}
	b := map[string]struct{}{"y": {}, "z": {}}

	if got := jaccard(a, b); got < 1.0/3-1e-9 || got > 1.0/3+1e-9 {
		t.Errorf("jaccard = %v, want 1/3", got)
	}
	if got := jaccard(a, a); got != 1 {
		t.Errorf("jaccard(a, a) = %v, want 1", got)
	}
	if got := jaccard(nil, nil); got != 0 {
		t.Errorf("jaccard(nil, nil) = %v, want 0", got)
	}
}
