package observability

import (
	"log"
	"sync"
	"time"
)

// QueryRecord describes one executed query.
type QueryRecord struct {
	QueryID           string    `json:"query_id"`
	Plan              string    `json:"plan"`
	PartitionsTouched int       `json:"partitions_touched"`
	PartitionsSkipped int       `json:"partitions_skipped"`
	RowsExamined      int64     `json:"rows_examined"`
	RowsReturned      int       `json:"rows_returned"`
	DurationMicros    int64     `json:"duration_micros"`
	Error             string    `json:"error,omitempty"`
	At                time.Time `json:"at"`
}

// LockWait describes one partition lock acquisition.
type LockWait struct {
	Partition string        `json:"partition"`
	Mode      string        `json:"mode"`
	Waited    time.Duration `json:"waited"`
	Contended bool          `json:"contended"`
	Acquired  bool          `json:"acquired"`
}

// LockStats aggregates lock waits for one partition.
type LockStats struct {
	Acquisitions int64         `json:"acquisitions"`
	Contended    int64         `json:"contended"`
	Timeouts     int64         `json:"timeouts"`
	TotalWait    time.Duration `json:"total_wait"`
	MaxWait      time.Duration `json:"max_wait"`
}

// Sink receives instrumentation records. Implementations must not block.
type Sink interface {
	RecordQuery(QueryRecord)
	RecordLockWait(LockWait)
}

// Collector keeps the most recent query records in a ring buffer, aggregates
// lock waits per partition, updates Prometheus metrics and fans records out
// to sinks.
type Collector struct {
	mu       sync.Mutex
	queries  []QueryRecord
	next     int
	full     bool
	locks    map[string]*LockStats
	sinks    []Sink
	metrics  *Metrics
	capacity int
}

// NewCollector creates a collector retaining capacity query records.
// metrics may be nil.
func NewCollector(capacity int, metrics *Metrics, sinks ...Sink) *Collector {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Collector{
		queries:  make([]QueryRecord, capacity),
		locks:    make(map[string]*LockStats),
		sinks:    sinks,
		metrics:  metrics,
		capacity: capacity,
	}
}

// Metrics returns the Prometheus collectors, or nil.
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// AddSink registers an additional sink.
func (c *Collector) AddSink(s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
}

// RecordQuery stores a query record.
func (c *Collector) RecordQuery(r QueryRecord) {
	if r.At.IsZero() {
		r.At = time.Now()
	}

	c.mu.Lock()
	c.queries[c.next] = r
	c.next = (c.next + 1) % c.capacity
	if c.next == 0 {
		c.full = true
	}
	sinks := c.sinks
	c.mu.Unlock()

	if m := c.metrics; m != nil {
		m.QueryDuration.Observe(float64(r.DurationMicros) / 1e6)
		m.PartitionsTouched.Observe(float64(r.PartitionsTouched))
		m.RowsExamined.Add(float64(r.RowsExamined))
		m.RowsReturned.Add(float64(r.RowsReturned))
		if r.Error != "" {
			m.QueryErrors.Inc()
		}
	}
	for _, s := range sinks {
		s.RecordQuery(r)
	}
}

// RecordLockWait accounts for a lock acquisition.
func (c *Collector) RecordLockWait(w LockWait) {
	c.mu.Lock()
	st, ok := c.locks[w.Partition]
	if !ok {
		st = &LockStats{}
		c.locks[w.Partition] = st
	}
	if w.Acquired {
		st.Acquisitions++
	} else {
		st.Timeouts++
	}
	if w.Contended {
		st.Contended++
		st.TotalWait += w.Waited
		if w.Waited > st.MaxWait {
			st.MaxWait = w.Waited
		}
	}
	sinks := c.sinks
	c.mu.Unlock()

	if m := c.metrics; m != nil && w.Contended {
		m.LockWait.WithLabelValues(w.Mode).Observe(w.Waited.Seconds())
		m.LockContended.WithLabelValues(w.Partition, w.Mode).Inc()
		if !w.Acquired {
			m.LockTimeouts.WithLabelValues(w.Partition, w.Mode).Inc()
		}
	}
	for _, s := range sinks {
		s.RecordLockWait(w)
	}
}

// RecordWrite counts a write operation.
func (c *Collector) RecordWrite(op string, d time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.metrics.Writes.WithLabelValues(op, result).Inc()
	c.metrics.WriteLatency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordDriftRepair counts a repaired summary of the given kind.
func (c *Collector) RecordDriftRepair(kind string) {
	if c.metrics != nil {
		c.metrics.DriftRepairs.WithLabelValues(kind).Inc()
	}
}

// SetSizes publishes partition and record counts.
func (c *Collector) SetSizes(partitions, records int) {
	if c.metrics != nil {
		c.metrics.Partitions.Set(float64(partitions))
		c.metrics.Records.Set(float64(records))
	}
}

// RecentQueries returns up to n records, newest first.
func (c *Collector) RecentQueries(n int) []QueryRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.next
	if c.full {
		size = c.capacity
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]QueryRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (c.next - i + c.capacity) % c.capacity
		out = append(out, c.queries[idx])
	}
	return out
}

// LockStats returns the lock statistics of one partition.
func (c *Collector) LockStats(partition string) LockStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.locks[partition]; ok {
		return *st
	}
	return LockStats{}
}

// AllLockStats returns a copy of every partition's lock statistics.
func (c *Collector) AllLockStats() map[string]LockStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]LockStats, len(c.locks))
	for k, v := range c.locks {
		out[k] = *v
	}
	return out
}

// SlowQueryLogger is a Sink that logs queries slower than Threshold and
// lock acquisitions that timed out.
type SlowQueryLogger struct {
	Threshold time.Duration
}

func (l SlowQueryLogger) RecordQuery(r QueryRecord) {
	if time.Duration(r.DurationMicros)*time.Microsecond >= l.Threshold {
		log.Printf("query: slow query %s took %dus touching %d partitions (examined %d, returned %d): %s",
			r.QueryID, r.DurationMicros, r.PartitionsTouched, r.RowsExamined, r.RowsReturned, r.Plan)
	}
}

func (l SlowQueryLogger) RecordLockWait(w LockWait) {
	if !w.Acquired {
		log.Printf("partition: %s lock on %s timed out after %s", w.Mode, w.Partition, w.Waited)
	}
}
