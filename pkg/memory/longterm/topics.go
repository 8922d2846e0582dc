package longterm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codavoice/coda/pkg/memory"
)

const (
	// DefaultJaccardThreshold is the overlap above which two topics' memory
	// sets are merged into one cluster.
	DefaultJaccardThreshold = 0.7

	// DefaultMaxTopicsPerCluster caps how many topics one cluster may absorb.
	DefaultMaxTopicsPerCluster = 5

	// DefaultSummaryTTL is how long cached cluster summaries stay valid.
	DefaultSummaryTTL = 5 * time.Minute

	// summaryTopN is how many records a cluster summary quotes.
	summaryTopN = 3
)

// Cluster is a group of merged topics and the memory records they cover.
type Cluster struct {
	// Topics are the merged topic labels, primary first.
	Topics []string

	// MemoryIDs are the records covered by the cluster.
	MemoryIDs []string
}

// ClustererOption is a functional option for Clusterer.
type ClustererOption func(*Clusterer)

// WithJaccardThreshold overrides the merge threshold.
func WithJaccardThreshold(t float64) ClustererOption {
	return func(c *Clusterer) {
		c.threshold = t
	}
}

// WithMaxTopicsPerCluster overrides the per-cluster merge cap.
func WithMaxTopicsPerCluster(n int) ClustererOption {
	return func(c *Clusterer) {
		if n > 0 {
			c.maxPerCluster = n
		}
	}
}

// WithSummaryTTL overrides the summary cache lifetime.
func WithSummaryTTL(ttl time.Duration) ClustererOption {
	return func(c *Clusterer) {
		c.summaryTTL = ttl
	}
}

// Clusterer builds topic clusters over a Store's records and produces cached
// textual summaries per cluster. Summaries expire after a TTL and are also
// invalidated explicitly when the store mutates.
type Clusterer struct {
	store         Store
	threshold     float64
	maxPerCluster int
	summaryTTL    time.Duration

	mu          sync.Mutex
	cached      []string
	cachedAt    time.Time
	invalidated bool

	now func() time.Time
}

// NewClusterer creates a Clusterer over store.
func NewClusterer(store Store, opts ...ClustererOption) *Clusterer {
	c := &Clusterer{
		store:         store,
		threshold:     DefaultJaccardThreshold,
		maxPerCluster: DefaultMaxTopicsPerCluster,
		summaryTTL:    DefaultSummaryTTL,
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Invalidate drops the cached summaries. Call after any store mutation.
func (c *Clusterer) Invalidate() {
	c.mu.Lock()
	c.invalidated = true
	c.mu.Unlock()
}

// Clusters builds topic clusters from the store's current records:
// topic → memory-set is assembled from record topic assignments, singleton
// topics are dropped, and topics whose memory sets overlap above the Jaccard
// threshold are merged (up to the per-cluster cap).
func (c *Clusterer) Clusters(ctx context.Context) ([]Cluster, error) {
	records, err := c.store.AllMemories(ctx)
	if err != nil {
		return nil, fmt.Errorf("longterm: cluster: %w", err)
	}

	topicSets := make(map[string]map[string]struct{})
	for _, rec := range records {
		for _, topic := range rec.Topics {
			if topicSets[topic] == nil {
				topicSets[topic] = make(map[string]struct{})
			}
			topicSets[topic][rec.ID] = struct{}{}
		}
	}

	// Rare topics carry no clustering signal.
	topics := make([]string, 0, len(topicSets))
	for topic, set := range topicSets {
		if len(set) < 2 {
			continue
		}
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	merged := make(map[string]bool)
	var clusters []Cluster
	for _, primary := range topics {
		if merged[primary] {
			continue
		}
		merged[primary] = true
		cluster := Cluster{Topics: []string{primary}}
		set := copySet(topicSets[primary])

		for _, other := range topics {
			if merged[other] || len(cluster.Topics) >= c.maxPerCluster {
				continue
			}
			if jaccard(topicSets[primary], topicSets[other]) >= c.threshold {
				merged[other] = true
				cluster.Topics = append(cluster.Topics, other)
				for id := range topicSets[other] {
					set[id] = struct{}{}
				}
			}
		}

		cluster.MemoryIDs = setToSlice(set)
		clusters = append(clusters, cluster)
	}
	return clusters, nil
}

// Summaries returns one textual summary per cluster: a header with the topic
// labels, the memory count, and the top records by importance. Results are
// cached for the configured TTL and until the next Invalidate.
func (c *Clusterer) Summaries(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	fresh := !c.invalidated && c.cached != nil && c.now().Sub(c.cachedAt) < c.summaryTTL
	if fresh {
		out := append([]string(nil), c.cached...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	clusters, err := c.Clusters(ctx)
	if err != nil {
		return nil, err
	}
	records, err := c.store.AllMemories(ctx)
	if err != nil {
		return nil, fmt.Errorf("longterm: summarize: %w", err)
	}
	byID := make(map[string]memory.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	summaries := make([]string, 0, len(clusters))
	for _, cluster := range clusters {
		var members []memory.Record
		for _, id := range cluster.MemoryIDs {
			if rec, ok := byID[id]; ok {
				members = append(members, rec)
			}
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Importance > members[j].Importance })

		var sb strings.Builder
		fmt.Fprintf(&sb, "Topic: %s (%d memories)\n", strings.Join(cluster.Topics, ", "), len(members))
		for i, rec := range members {
			if i >= summaryTopN {
				break
			}
			fmt.Fprintf(&sb, "- %s\n", rec.Content)
		}
		summaries = append(summaries, strings.TrimRight(sb.String(), "\n"))
	}

	c.mu.Lock()
	c.cached = summaries
	c.cachedAt = c.now()
	c.invalidated = false
	c.mu.Unlock()

	return append([]string(nil), summaries...), nil
}

// ---- set helpers ----

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for id := range a {
		if _, ok := b[id]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func setToSlice(in map[string]struct{}) []string {
	out := make([]string, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
