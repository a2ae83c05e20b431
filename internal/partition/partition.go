package partition

import (
	"fmt"
	"iter"
	"time"

	"github.com/google/btree"

	"github.com/arkilian/bookingstore/internal/bloom"
	"github.com/arkilian/bookingstore/pkg/types"
)

// bloomFields are the equality keys a partition keeps membership filters for.
var bloomFields = []string{string(types.FieldSubjectID), string(types.FieldResourceID)}

// Partition owns the records routed to one year interval. Records are kept
// clustered by (range_start, id).
//
// Callers must hold the partition lock for every method below except ID,
// Name and Stats: shared for reads, exclusive for writes. A partition still
// being initialised by AddPartition is private to its initialiser.
type Partition struct {
	id       types.PartitionID
	lower    int
	fallback bool

	lock        partitionLock
	lockTimeout time.Duration
	observer    LockObserver

	records *btree.BTreeG[*types.Booking]
	byID    map[string]*types.Booking
	stats   *StatsTracker
	filters *bloom.Set
}

func lessByRangeStart(a, b *types.Booking) bool {
	if c := a.RangeStart.Compare(b.RangeStart); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

func newPartition(id types.PartitionID, lower int, fallback bool, cfg Config) *Partition {
	return &Partition{
		id:          id,
		lower:       lower,
		fallback:    fallback,
		lock:        newPartitionLock(),
		lockTimeout: cfg.LockTimeout,
		observer:    cfg.Observer,
		records:     btree.NewG[*types.Booking](32, lessByRangeStart),
		byID:        make(map[string]*types.Booking),
		stats:       NewStatsTracker(),
		filters:     bloom.NewSet(bloomFields, cfg.BloomExpectedItems, cfg.BloomFPR),
	}
}

// ID returns the partition's arena id.
func (p *Partition) ID() types.PartitionID {
	return p.id
}

// Name returns "pmax" for the fallback and "p<year>" otherwise.
func (p *Partition) Name() string {
	if p.fallback {
		return "pmax"
	}
	return fmt.Sprintf("p%d", p.lower)
}

// Stats returns the partition's statistics tracker. Safe without the lock.
func (p *Partition) Stats() *StatsTracker {
	return p.stats
}

// Len returns the number of records.
func (p *Partition) Len() int {
	return len(p.byID)
}

// Put stores b. The partition takes ownership of the pointer.
func (p *Partition) Put(b *types.Booking) {
	if old, ok := p.byID[b.ID]; ok {
		p.records.Delete(old)
		p.stats.Remove(old)
	}
	p.byID[b.ID] = b
	p.records.ReplaceOrInsert(b)
	p.stats.Add(b)
	p.filters.Add(string(types.FieldSubjectID), b.SubjectID)
	p.filters.Add(string(types.FieldResourceID), b.ResourceID)
}

// Get returns the stored record. The pointer must not escape the lock.
func (p *Partition) Get(id string) (*types.Booking, bool) {
	b, ok := p.byID[id]
	return b, ok
}

// Delete removes and returns the record.
func (p *Partition) Delete(id string) (*types.Booking, bool) {
	b, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	delete(p.byID, id)
	p.records.Delete(b)
	p.stats.Remove(b)
	return b, true
}

// SetStatus changes a record's status in place and returns the record as it
// was before the change.
func (p *Partition) SetStatus(id string, status types.Status) (types.Booking, bool) {
	b, ok := p.byID[id]
	if !ok {
		return types.Booking{}, false
	}
	before := b.Clone()
	b.Status = status
	return before, true
}

// MayContain consults the partition's membership filter for field. Fields
// without a filter always answer true.
func (p *Partition) MayContain(field types.Field, value string) bool {
	return p.filters.MayContain(string(field), value)
}

// Scan visits records whose range_start lies in r, ascending or descending
// by (range_start, id), until fn returns false.
func (p *Partition) Scan(r types.DateRange, desc bool, fn func(*types.Booking) bool) {
	first, hasFirst := r.First()
	last, hasLast := r.Last()

	if !desc {
		visit := func(b *types.Booking) bool {
			if hasLast && b.RangeStart.After(last) {
				return false
			}
			return fn(b)
		}
		if hasFirst {
			p.records.AscendGreaterOrEqual(&types.Booking{RangeStart: first}, visit)
			return
		}
		p.records.Ascend(visit)
		return
	}

	visit := func(b *types.Booking) bool {
		if hasFirst && b.RangeStart.Before(first) {
			return false
		}
		return fn(b)
	}
	if hasLast {
		// no record has an empty id, so the pivot sits after every record
		// on `last` and before every record on the next instant
		p.records.DescendLessOrEqual(&types.Booking{RangeStart: last.Add(time.Nanosecond)}, visit)
		return
	}
	p.records.Descend(visit)
}

// All yields every record in (range_start, id) order.
func (p *Partition) All() iter.Seq[*types.Booking] {
	return func(yield func(*types.Booking) bool) {
		p.records.Ascend(func(b *types.Booking) bool {
			return yield(b)
		})
	}
}
