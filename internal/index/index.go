package index

import (
	"iter"
	"slices"

	"github.com/google/btree"

	"github.com/arkilian/bookingstore/pkg/types"
)

const btreeDegree = 32

// Index is an ordered composite index over one partition's records.
type Index struct {
	fields types.Fields
	tree   *btree.BTreeG[entry]
}

func newIndex(fields types.Fields) *Index {
	return &Index{
		fields: append(types.Fields{}, fields...),
		tree:   btree.NewG[entry](btreeDegree, lessEntry),
	}
}

// build loads records by sorting all entries first, then inserting them
// in order.
func build(fields types.Fields, records iter.Seq[*types.Booking]) *Index {
	ix := newIndex(fields)
	var entries []entry
	for b := range records {
		entries = append(entries, entry{key: keyOf(fields, b), id: b.ID})
	}
	slices.SortFunc(entries, compareEntries)
	for _, e := range entries {
		ix.tree.ReplaceOrInsert(e)
	}
	return ix
}

// Fields returns the indexed field tuple.
func (ix *Index) Fields() types.Fields {
	return ix.fields
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	return ix.tree.Len()
}

func (ix *Index) insert(b *types.Booking) {
	ix.tree.ReplaceOrInsert(entry{key: keyOf(ix.fields, b), id: b.ID})
}

func (ix *Index) remove(b *types.Booking) bool {
	_, ok := ix.tree.Delete(entry{key: keyOf(ix.fields, b), id: b.ID})
	return ok
}

// Scan visits the ids of entries matching pred in key order until fn
// returns false.
func (ix *Index) Scan(pred Predicate, desc bool, fn func(id string) bool) {
	lo, hi := pred.pivots()
	visit := func(e entry) bool { return fn(e.id) }

	if !desc {
		switch {
		case lo != nil && hi != nil:
			ix.tree.AscendRange(*lo, *hi, visit)
		case lo != nil:
			ix.tree.AscendGreaterOrEqual(*lo, visit)
		case hi != nil:
			ix.tree.AscendLessThan(*hi, visit)
		default:
			ix.tree.Ascend(visit)
		}
		return
	}

	switch {
	case lo != nil && hi != nil:
		ix.tree.DescendRange(*hi, *lo, visit)
	case hi != nil:
		ix.tree.DescendLessOrEqual(*hi, visit)
	case lo != nil:
		ix.tree.DescendGreaterThan(*lo, visit)
	default:
		ix.tree.Descend(visit)
	}
}

// Count returns the number of entries matching pred without materialising
// them.
func (ix *Index) Count(pred Predicate) int {
	n := 0
	ix.Scan(pred, false, func(string) bool {
		n++
		return true
	})
	return n
}

// IDs returns every record id in the index in key order.
func (ix *Index) IDs() []string {
	ids := make([]string, 0, ix.tree.Len())
	ix.tree.Ascend(func(e entry) bool {
		ids = append(ids, e.id)
		return true
	})
	return ids
}
