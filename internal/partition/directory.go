// Package partition provides the partition directory: year-interval routing
// of booking records, per-partition storage, bounded reader/writer locks and
// pruning of partitions against a range_start predicate.
package partition

import (
	"context"
	"fmt"
	"iter"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/pkg/types"
)

// Config holds directory settings.
type Config struct {
	// LockTimeout bounds how long a reader or writer waits for a
	// partition lock before failing with Busy. Zero waits indefinitely.
	LockTimeout time.Duration

	// Observer is notified of every lock acquisition attempt.
	Observer LockObserver

	// BloomExpectedItems and BloomFPR size the per-partition filters.
	BloomExpectedItems int
	BloomFPR           float64
}

// DefaultConfig returns the default directory settings.
func DefaultConfig() Config {
	return Config{
		LockTimeout:        2 * time.Second,
		BloomExpectedItems: 65536,
		BloomFPR:           0.01,
	}
}

// Directory maintains the ordered set of partitions and the record id
// registry that enforces id uniqueness across partitions.
type Directory struct {
	cfg Config

	mu      sync.RWMutex
	arena   []*Partition // indexed by PartitionID; nil marks an id not restored
	ordered []*Partition // defined partitions by ascending lower bound
	byYear  map[int]types.PartitionID

	members *xsync.MapOf[string, types.PartitionID]
}

// NewDirectory creates a directory holding only the fallback partition.
func NewDirectory(cfg Config) *Directory {
	d := &Directory{
		cfg:     cfg,
		byYear:  make(map[int]types.PartitionID),
		members: xsync.NewMapOf[string, types.PartitionID](),
	}
	d.arena = append(d.arena, newPartition(types.FallbackPartition, 0, true, cfg))
	return d
}

// AddPartition defines a new boundary year. Existing records are never
// moved: a record routed to the fallback before the boundary existed stays
// there and remains reachable through the fallback's observed range.
//
// init, when set, runs on the new partition before it becomes routable, so
// no writer can reach it yet and it needs no lock. If init fails the
// partition is never published and the error is returned.
func (d *Directory) AddPartition(year int, init func(*Partition) error) (types.PartitionID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.byYear[year]; ok {
		return id, errors.NewConflict(errors.ErrCategoryPartition,
			fmt.Sprintf("partition boundary %d already exists", year),
			map[string]interface{}{errors.DetailPartition: fmt.Sprintf("p%d", year)})
	}
	id := types.PartitionID(len(d.arena))
	p := newPartition(id, year, false, d.cfg)
	if init != nil {
		if err := init(p); err != nil {
			return id, err
		}
	}
	d.insertLocked(p)
	log.Printf("partition: added p%d (id %d)", year, id)
	return id, nil
}

// Restore re-creates a partition with a previously persisted id.
func (d *Directory) Restore(id types.PartitionID, year int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id == types.FallbackPartition {
		return fmt.Errorf("partition: id 0 is reserved for the fallback partition")
	}
	if _, ok := d.byYear[year]; ok {
		return errors.NewConflict(errors.ErrCategoryPartition,
			fmt.Sprintf("partition boundary %d already exists", year), nil)
	}
	for int(id) >= len(d.arena) {
		d.arena = append(d.arena, nil)
	}
	if d.arena[id] != nil {
		return errors.NewConflict(errors.ErrCategoryPartition,
			fmt.Sprintf("partition id %d already in use", id), nil)
	}
	d.insertLocked(newPartition(id, year, false, d.cfg))
	return nil
}

func (d *Directory) insertLocked(p *Partition) {
	if int(p.id) == len(d.arena) {
		d.arena = append(d.arena, p)
	} else {
		d.arena[p.id] = p
	}
	i := sort.Search(len(d.ordered), func(i int) bool { return d.ordered[i].lower > p.lower })
	d.ordered = append(d.ordered, nil)
	copy(d.ordered[i+1:], d.ordered[i:])
	d.ordered[i] = p
	d.byYear[p.lower] = p.id
}

// Partition returns the partition with the given id.
func (d *Directory) Partition(id types.PartitionID) (*Partition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(id) >= len(d.arena) || d.arena[id] == nil {
		return nil, false
	}
	return d.arena[id], true
}

// IDs returns every partition id, ascending by lower bound, fallback last.
func (d *Directory) IDs() []types.PartitionID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]types.PartitionID, 0, len(d.ordered)+1)
	for _, p := range d.ordered {
		ids = append(ids, p.id)
	}
	return append(ids, types.FallbackPartition)
}

// Boundaries returns the defined boundary years in ascending order.
func (d *Directory) Boundaries() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	years := make([]int, len(d.ordered))
	for i, p := range d.ordered {
		years[i] = p.lower
	}
	return years
}

// Overlapping yields the minimal set of partitions that may hold a record
// whose range_start lies in r, ordered by lower bound in the requested
// direction. The sequence is re-evaluated each time it is ranged over.
func (d *Directory) Overlapping(r types.DateRange, desc bool) iter.Seq[types.PartitionID] {
	return func(yield func(types.PartitionID) bool) {
		d.mu.RLock()
		parts := d.candidatesLocked(r)
		d.mu.RUnlock()

		if desc {
			for i := len(parts) - 1; i >= 0; i-- {
				if !yield(parts[i].id) {
					return
				}
			}
			return
		}
		for _, p := range parts {
			if !yield(p.id) {
				return
			}
		}
	}
}

// List describes every partition in ascending order, fallback last.
func (d *Directory) List() []types.PartitionInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]types.PartitionInfo, 0, len(d.ordered)+1)
	add := func(p *Partition) {
		b, _ := d.boundsLocked(p.id)
		min, max := p.stats.RangeStartSpan()
		infos = append(infos, types.PartitionInfo{
			ID:            p.id,
			Name:          p.Name(),
			Bounds:        b,
			Rows:          p.stats.RowCount(),
			SizeBytes:     p.stats.SizeBytes(),
			MinRangeStart: min,
			MaxRangeStart: max,
		})
	}
	for _, p := range d.ordered {
		add(p)
	}
	add(d.arena[types.FallbackPartition])
	return infos
}

// Reserve claims a record id for a partition. It fails with a Conflict
// error when the id is already in use anywhere in the directory.
func (d *Directory) Reserve(recordID string, id types.PartitionID) error {
	if existing, loaded := d.members.LoadOrStore(recordID, id); loaded {
		return errors.NewConflict(errors.ErrCategoryIngest,
			fmt.Sprintf("record %s already exists", recordID),
			map[string]interface{}{
				errors.DetailRecordID:  recordID,
				errors.DetailPartition: existing,
			})
	}
	return nil
}

// Release forgets a record id.
func (d *Directory) Release(recordID string) {
	d.members.Delete(recordID)
}

// Locate returns the partition holding a record.
func (d *Directory) Locate(recordID string) (types.PartitionID, bool) {
	return d.members.Load(recordID)
}

// Size returns the number of records registered across all partitions.
func (d *Directory) Size() int {
	return d.members.Size()
}

// WriteHooks attach persistence and derived state to a directory write.
// Both run under the partition's exclusive lock. Persist runs before the
// in-memory change; if it fails nothing changes. Apply runs after it and
// must not fail.
type WriteHooks struct {
	Persist func(id types.PartitionID, b *types.Booking) error
	Apply   func(id types.PartitionID, b *types.Booking)
}

// Insert validates, routes and stores a booking, taking the partition lock
// for the duration of the write.
func (d *Directory) Insert(ctx context.Context, b types.Booking, hooks WriteHooks) (types.PartitionID, error) {
	if err := Validate(&b); err != nil {
		return 0, err
	}
	id := d.Route(b.RangeStart)
	p, ok := d.Partition(id)
	if !ok {
		return 0, errors.NewInternalError(fmt.Sprintf("routed to unknown partition %d", id), nil)
	}
	unlock, err := p.Lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := d.Reserve(b.ID, id); err != nil {
		return 0, err
	}
	stored := b.Clone()
	if hooks.Persist != nil {
		if err := hooks.Persist(id, &stored); err != nil {
			d.Release(b.ID)
			return 0, err
		}
	}
	p.Put(&stored)
	if hooks.Apply != nil {
		hooks.Apply(id, &stored)
	}
	return id, nil
}

// Get returns a copy of a record.
func (d *Directory) Get(ctx context.Context, recordID string) (types.Booking, error) {
	id, ok := d.Locate(recordID)
	if !ok {
		return types.Booking{}, notFound(recordID)
	}
	p, ok := d.Partition(id)
	if !ok {
		return types.Booking{}, notFound(recordID)
	}
	unlock, err := p.RLock(ctx)
	if err != nil {
		return types.Booking{}, err
	}
	defer unlock()

	b, ok := p.Get(recordID)
	if !ok {
		return types.Booking{}, notFound(recordID)
	}
	return b.Clone(), nil
}

// Remove deletes a record and returns it. Persist sees the record before
// it is removed; Apply sees the removed record.
func (d *Directory) Remove(ctx context.Context, recordID string, hooks WriteHooks) (types.Booking, error) {
	id, ok := d.Locate(recordID)
	if !ok {
		return types.Booking{}, notFound(recordID)
	}
	p, ok := d.Partition(id)
	if !ok {
		return types.Booking{}, notFound(recordID)
	}
	unlock, err := p.Lock(ctx)
	if err != nil {
		return types.Booking{}, err
	}
	defer unlock()

	current, ok := p.Get(recordID)
	if !ok {
		// deleted while we waited for the lock
		return types.Booking{}, notFound(recordID)
	}
	if hooks.Persist != nil {
		if err := hooks.Persist(id, current); err != nil {
			return types.Booking{}, err
		}
	}
	b, _ := p.Delete(recordID)
	d.Release(recordID)
	if hooks.Apply != nil {
		hooks.Apply(id, b)
	}
	return *b, nil
}

func notFound(recordID string) error {
	return errors.NewNotFound(errors.ErrCategoryIngest, fmt.Sprintf("record %s not found", recordID)).
		WithDetails(map[string]interface{}{errors.DetailRecordID: recordID})
}
