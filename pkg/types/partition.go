package types

import (
	"fmt"
	"math"
	"time"
)

// PartitionID is an arena index into the partition directory. IDs are
// never reused; the fallback partition always has ID 0.
type PartitionID uint32

// FallbackPartition receives every record whose year lies above the
// highest defined boundary.
const FallbackPartition PartitionID = 0

// Bounds is a partition's half-open routing interval in calendar years:
// a record routes here iff Lower <= year(range_start) < Upper.
// math.MinInt and math.MaxInt stand for unbounded ends.
type Bounds struct {
	Lower    int  `json:"lower"`
	Upper    int  `json:"upper"`
	Fallback bool `json:"fallback"`
}

// ContainsYear reports whether year routes into the interval.
func (b Bounds) ContainsYear(year int) bool {
	return year >= b.Lower && year < b.Upper
}

// OverlapsYears reports whether the interval intersects [lo, hi] (inclusive).
func (b Bounds) OverlapsYears(lo, hi int) bool {
	return lo < b.Upper && hi >= b.Lower
}

func (b Bounds) String() string {
	lower, upper := "-inf", "+inf"
	if b.Lower != math.MinInt {
		lower = fmt.Sprintf("%d", b.Lower)
	}
	if b.Upper != math.MaxInt {
		upper = fmt.Sprintf("%d", b.Upper)
	}
	return "[" + lower + ", " + upper + ")"
}

// RangeBound is one end of a DateRange.
type RangeBound struct {
	At        time.Time
	Inclusive bool
}

// DateRange constrains range_start. A nil bound is unbounded.
type DateRange struct {
	Lower *RangeBound
	Upper *RangeBound
}

// Unbounded reports whether neither end is constrained.
func (r DateRange) Unbounded() bool {
	return r.Lower == nil && r.Upper == nil
}

// First returns the earliest instant inside the range.
func (r DateRange) First() (time.Time, bool) {
	if r.Lower == nil {
		return time.Time{}, false
	}
	if r.Lower.Inclusive {
		return r.Lower.At, true
	}
	return r.Lower.At.Add(time.Nanosecond), true
}

// Last returns the latest instant inside the range.
func (r DateRange) Last() (time.Time, bool) {
	if r.Upper == nil {
		return time.Time{}, false
	}
	if r.Upper.Inclusive {
		return r.Upper.At, true
	}
	return r.Upper.At.Add(-time.Nanosecond), true
}

// Empty reports whether no instant satisfies both bounds.
func (r DateRange) Empty() bool {
	first, okF := r.First()
	last, okL := r.Last()
	return okF && okL && first.After(last)
}

// Contains reports whether t lies inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if first, ok := r.First(); ok && t.Before(first) {
		return false
	}
	if last, ok := r.Last(); ok && t.After(last) {
		return false
	}
	return true
}

// Years returns the inclusive year span covered by the range, with
// math.MinInt and math.MaxInt for open ends.
func (r DateRange) Years() (lo, hi int) {
	lo, hi = math.MinInt, math.MaxInt
	if first, ok := r.First(); ok {
		lo = first.Year()
	}
	if last, ok := r.Last(); ok {
		hi = last.Year()
	}
	return lo, hi
}

// Tighten narrows the range with another bound, keeping the stricter one.
func (r DateRange) Tighten(lower, upper *RangeBound) DateRange {
	if lower != nil {
		if r.Lower == nil || lower.At.After(r.Lower.At) ||
			(lower.At.Equal(r.Lower.At) && !lower.Inclusive) {
			b := *lower
			r.Lower = &b
		}
	}
	if upper != nil {
		if r.Upper == nil || upper.At.Before(r.Upper.At) ||
			(upper.At.Equal(r.Upper.At) && !upper.Inclusive) {
			b := *upper
			r.Upper = &b
		}
	}
	return r
}

// PartitionInfo is the externally visible description of a partition.
type PartitionInfo struct {
	ID            PartitionID `json:"id"`
	Name          string      `json:"name"`
	Bounds        Bounds      `json:"bounds"`
	Rows          int64       `json:"rows"`
	SizeBytes     int64       `json:"size_bytes"`
	MinRangeStart *time.Time  `json:"min_range_start,omitempty"`
	MaxRangeStart *time.Time  `json:"max_range_start,omitempty"`
	Indexes       []string    `json:"indexes,omitempty"`
}
