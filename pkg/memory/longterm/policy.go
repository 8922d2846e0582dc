package longterm

import (
	"math"
	"time"

	"github.com/codavoice/coda/pkg/memory"
)

// forgettingHalfLife is the recency horizon for the forgetting score: a week
// after its last access a record's recency weight has fallen to 1/e.
const forgettingHalfLife = 7 * 24 * time.Hour

// forgettingScore ranks records for eviction under capacity pressure. Lower
// scores are forgotten first. The score combines three weights:
//
//	importance × exp(-age/7d) × (1 + ln(1+access_count)/10)
//
// where age is the time since last access. Frequently accessed records resist
// forgetting; importance dominates for recently touched records.
func forgettingScore(rec *memory.Record, now time.Time) float64 {
	age := now.Sub(rec.LastAccess)
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-float64(age) / float64(forgettingHalfLife))
	accessWeight := 1 + math.Log(1+float64(rec.AccessCount))/10
	return rec.Importance * recency * accessWeight
}
