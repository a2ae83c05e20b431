// Package observability provides the instrumentation collector: per-query
// execution records, lock-wait accounting, Prometheus metrics and the
// predicate statistics that drive automatic index definition.
package observability

import (
	"sort"
	"sync"
	"time"
)

// QueryStats tracks predicate frequency per field and how often queries
// had to scan a partition for a given field tuple because no index covered
// it.
type QueryStats struct {
	mu            sync.RWMutex
	predicateFreq map[string]*FieldStats
	unindexedFreq map[string]*FieldStats
	window        time.Duration
}

// FieldStats holds statistics for a field or a field tuple.
type FieldStats struct {
	Field     string
	Frequency int64
	LastSeen  time.Time
	Operators map[string]int // operator → count (e.g., "=" → 5, "<" → 2)
}

// NewQueryStats creates a new query statistics tracker.
// window: entries not seen within it are dropped by Prune.
func NewQueryStats(window time.Duration) *QueryStats {
	return &QueryStats{
		predicateFreq: make(map[string]*FieldStats),
		unindexedFreq: make(map[string]*FieldStats),
		window:        window,
	}
}

func record(m map[string]*FieldStats, name, operator string) {
	stats, exists := m[name]
	if !exists {
		stats = &FieldStats{Field: name, Operators: make(map[string]int)}
		m[name] = stats
	}
	stats.Frequency++
	stats.LastSeen = time.Now()
	if operator != "" {
		stats.Operators[operator]++
	}
}

// RecordPredicate records one condition on a field.
// This method is O(1) and thread-safe.
func (q *QueryStats) RecordPredicate(field, operator string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record(q.predicateFreq, field, operator)
}

// RecordUnindexed records a partition scan caused by a missing index on the
// given field tuple (canonical "a,b" form).
func (q *QueryStats) RecordUnindexed(tuple string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record(q.unindexedFreq, tuple, "")
}

// UnindexedFrequency returns how many scans were recorded for tuple.
func (q *QueryStats) UnindexedFrequency(tuple string) int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if s, ok := q.unindexedFreq[tuple]; ok {
		return s.Frequency
	}
	return 0
}

// GetTopPredicates returns the top N fields by frequency.
func (q *QueryStats) GetTopPredicates(n int) []FieldStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return top(q.predicateFreq, n)
}

// GetTopUnindexed returns the top N unindexed tuples by frequency.
func (q *QueryStats) GetTopUnindexed(n int) []FieldStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return top(q.unindexedFreq, n)
}

// top returns deep copies sorted by frequency descending, ties by name.
func top(m map[string]*FieldStats, n int) []FieldStats {
	if n <= 0 || len(m) == 0 {
		return []FieldStats{}
	}

	stats := make([]FieldStats, 0, len(m))
	for _, s := range m {
		cp := FieldStats{
			Field:     s.Field,
			Frequency: s.Frequency,
			LastSeen:  s.LastSeen,
			Operators: make(map[string]int, len(s.Operators)),
		}
		for op, count := range s.Operators {
			cp.Operators[op] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Field < stats[j].Field
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries where time.Since(LastSeen) > window.
func (q *QueryStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)
	for name, stats := range q.predicateFreq {
		if stats.LastSeen.Before(threshold) {
			delete(q.predicateFreq, name)
		}
	}
	for name, stats := range q.unindexedFreq {
		if stats.LastSeen.Before(threshold) {
			delete(q.unindexedFreq, name)
		}
	}
}
