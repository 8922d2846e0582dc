package longterm

import (
	"testing"
	"time"

	"github.com/codavoice/coda/pkg/memory"
)

func TestForgettingScore(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	fresh := &memory.Record{Importance: 0.5, LastAccess: now}
	stale := &memory.Record{Importance: 0.5, LastAccess: now.Add(-30 * 24 * time.Hour)}
	if forgettingScore(fresh, now) <= forgettingScore(stale, now) {
		t.Error("stale record scored at least as high as a fresh one")
	}

	weak := &memory.Record{Importance: 0.1, LastAccess: now}
	strong := &memory.Record{Importance: 0.9, LastAccess: now}
	if forgettingScore(strong, now) <= forgettingScore(weak, now) {
		t.Error("importance does not raise the score")
	}

	touched := &memory.Record{Importance: 0.5, LastAccess: now, AccessCount: 50}
	untouched := &memory.Record{Importance: 0.5, LastAccess: now}
	if forgettingScore(touched, now) <= forgettingScore(untouched, now) {
		t.Error("access count does not raise the score")
	}

	// A future last-access timestamp is treated as now, not a boost.
	future := &memory.Record{Importance: 0.5, LastAccess: now.Add(time.Hour)}
	if got, want := forgettingScore(future, now), forgettingScore(fresh, now); got != want {
		t.Errorf("future-access score = %v, want %v", got, want)
	}
}
