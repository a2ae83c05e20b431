package index

import (
	"strings"

	"github.com/arkilian/bookingstore/pkg/types"
)

// Key is the composite value tuple of one record under an index.
type Key []types.Value

// entry is one B-tree item. Real entries carry the full key and the record
// id; search pivots carry a key prefix and a non-zero side.
type entry struct {
	key  Key
	id   string
	side int8 // -1 sorts before every entry sharing the prefix, +1 after
}

func lessEntry(a, b entry) bool {
	return compareEntries(a, b) < 0
}

func compareEntries(a, b entry) int {
	n := min(len(a.key), len(b.key))
	for i := 0; i < n; i++ {
		if c := a.key[i].Compare(b.key[i]); c != 0 {
			return c
		}
	}
	if a.side != 0 {
		return int(a.side)
	}
	if b.side != 0 {
		return -int(b.side)
	}
	return strings.Compare(a.id, b.id)
}

func keyOf(fields types.Fields, b *types.Booking) Key {
	k := make(Key, len(fields))
	for i, f := range fields {
		k[i] = b.Value(f)
	}
	return k
}

// Bound is one end of the range applied to the field after the equality
// prefix.
type Bound struct {
	Value     types.Value
	Inclusive bool
}

// Predicate selects index entries: Equal fixes the first len(Equal) key
// components, and Lower/Upper optionally constrain the next one.
type Predicate struct {
	Equal []types.Value
	Lower *Bound
	Upper *Bound
}

// Width is the number of key components the predicate constrains.
func (p Predicate) Width() int {
	w := len(p.Equal)
	if p.Lower != nil || p.Upper != nil {
		w++
	}
	return w
}

// pivots returns the exclusive start and end positions of the predicate's
// key range. A nil pivot means the range is open on that side.
func (p Predicate) pivots() (lo, hi *entry) {
	if len(p.Equal) > 0 || p.Lower != nil {
		e := entry{key: append(Key{}, p.Equal...), side: -1}
		if p.Lower != nil {
			e.key = append(e.key, p.Lower.Value)
			if !p.Lower.Inclusive {
				e.side = 1
			}
		}
		lo = &e
	}
	if len(p.Equal) > 0 || p.Upper != nil {
		e := entry{key: append(Key{}, p.Equal...), side: 1}
		if p.Upper != nil {
			e.key = append(e.key, p.Upper.Value)
			if !p.Upper.Inclusive {
				e.side = -1
			}
		}
		hi = &e
	}
	return lo, hi
}
