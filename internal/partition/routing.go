package partition

import (
	"math"
	"sort"
	"time"

	"github.com/arkilian/bookingstore/pkg/types"
)

// Routing intervals are contiguous. With sorted boundary years B1 < ... < Bn:
//
//	p(B1)  covers (-inf, B2)
//	p(Bi)  covers [Bi, Bi+1)
//	p(Bn)  covers [Bn, Bn+1)
//	pmax   covers [Bn+1, +inf)
//
// The lowest partition is open below so every date routes somewhere.

// Route returns the partition a record with the given range_start belongs
// to. It runs in O(log P).
func (d *Directory) Route(rangeStart time.Time) types.PartitionID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.routeLocked(rangeStart.UTC().Year())
}

func (d *Directory) routeLocked(year int) types.PartitionID {
	n := len(d.ordered)
	if n == 0 {
		return types.FallbackPartition
	}
	i := sort.Search(n, func(i int) bool { return d.ordered[i].lower > year }) - 1
	if i < 0 {
		return d.ordered[0].id
	}
	if i == n-1 && year > d.ordered[n-1].lower {
		return types.FallbackPartition
	}
	return d.ordered[i].id
}

// Bounds returns the current routing interval of a partition.
func (d *Directory) Bounds(id types.PartitionID) (types.Bounds, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.boundsLocked(id)
}

func (d *Directory) boundsLocked(id types.PartitionID) (types.Bounds, bool) {
	n := len(d.ordered)
	if id == types.FallbackPartition {
		if n == 0 {
			return types.Bounds{Lower: math.MinInt, Upper: math.MaxInt, Fallback: true}, true
		}
		return types.Bounds{Lower: d.ordered[n-1].lower + 1, Upper: math.MaxInt, Fallback: true}, true
	}
	for i, p := range d.ordered {
		if p.id != id {
			continue
		}
		b := types.Bounds{Lower: p.lower, Upper: p.lower + 1}
		if i == 0 {
			b.Lower = math.MinInt
		}
		if i < n-1 {
			b.Upper = d.ordered[i+1].lower
		}
		return b, true
	}
	return types.Bounds{}, false
}

// candidatesLocked returns the partitions that may hold a record whose
// range_start lies in r, ascending by lower bound (fallback last). A
// partition qualifies when its routing interval overlaps r or when a record
// it actually holds does; the second test keeps records that were routed
// before a later boundary was added reachable.
func (d *Directory) candidatesLocked(r types.DateRange) []*Partition {
	all := make([]*Partition, 0, len(d.ordered)+1)
	all = append(all, d.ordered...)
	all = append(all, d.arena[types.FallbackPartition])

	if r.Unbounded() {
		return all
	}
	if r.Empty() {
		return nil
	}

	lo, hi := r.Years()
	out := all[:0]
	for _, p := range all {
		b, _ := d.boundsLocked(p.id)
		if b.OverlapsYears(lo, hi) || p.stats.Overlaps(r) {
			out = append(out, p)
		}
	}
	return out
}
