package executor

import (
	"slices"
	"strings"

	"github.com/arkilian/bookingstore/internal/query/planner"
	"github.com/arkilian/bookingstore/pkg/types"
)

// PartialResult holds the matches read from one partition.
type PartialResult struct {
	Partition    types.PartitionID
	Access       planner.Access
	Rows         []types.Booking
	RowsExamined int64
	Skipped      bool
}

// ResultMerger combines partial results into the final ordered sequence.
type ResultMerger struct {
	sort   *planner.SortKey
	offset int
	limit  int
}

// NewResultMerger creates a merger. A zero limit keeps every row.
func NewResultMerger(sort *planner.SortKey, offset, limit int) *ResultMerger {
	return &ResultMerger{sort: sort, offset: offset, limit: limit}
}

// compareRows orders two records by the sort field, then id, honouring
// the sort direction for both.
func (m *ResultMerger) compareRows(a, b *types.Booking) int {
	if m.sort == nil {
		return 0
	}
	cmp := a.Value(m.sort.Field).Compare(b.Value(m.sort.Field))
	if cmp == 0 {
		cmp = strings.Compare(a.ID, b.ID)
	}
	if m.sort.Desc {
		return -cmp
	}
	return cmp
}

// sortRows orders one partition's rows when its access path did not.
func (m *ResultMerger) sortRows(rows []types.Booking) {
	slices.SortFunc(rows, func(a, b types.Booking) int {
		return m.compareRows(&a, &b)
	})
}

// Merge combines partials. Without a sort key rows are concatenated in
// partition order; with one, each partial must already be ordered and a
// k-way merge interleaves them. Offset and limit apply to the merged
// sequence only.
func (m *ResultMerger) Merge(partials []*PartialResult) []types.Booking {
	var out []types.Booking
	skip := m.offset
	emit := func(b types.Booking) bool {
		if skip > 0 {
			skip--
			return true
		}
		out = append(out, b)
		return m.limit <= 0 || len(out) < m.limit
	}

	if m.sort == nil {
		for _, pr := range partials {
			if pr == nil {
				continue
			}
			for _, b := range pr.Rows {
				if !emit(b) {
					return out
				}
			}
		}
		return out
	}

	m.mergeStreams(partials, emit)
	return out
}

// heapItem is the head row of one partial in the merge heap.
type heapItem struct {
	partial int
	pos     int
}

func (m *ResultMerger) mergeStreams(partials []*PartialResult, emit func(types.Booking) bool) {
	heap := make([]heapItem, 0, len(partials))
	for i, pr := range partials {
		if pr != nil && len(pr.Rows) > 0 {
			heap = append(heap, heapItem{partial: i})
		}
	}
	row := func(it heapItem) *types.Booking {
		return &partials[it.partial].Rows[it.pos]
	}
	less := func(a, b heapItem) bool {
		return m.compareRows(row(a), row(b)) < 0
	}

	for i := len(heap)/2 - 1; i >= 0; i-- {
		heapifyDown(heap, i, less)
	}

	for len(heap) > 0 {
		min := heap[0]
		if !emit(*row(min)) {
			return
		}
		if min.pos+1 < len(partials[min.partial].Rows) {
			heap[0].pos++
		} else {
			heap[0] = heap[len(heap)-1]
			heap = heap[:len(heap)-1]
		}
		if len(heap) > 0 {
			heapifyDown(heap, 0, less)
		}
	}
}

// heapifyDown maintains heap property by moving element down.
func heapifyDown(heap []heapItem, i int, less func(a, b heapItem) bool) {
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2

		if left < len(heap) && less(heap[left], heap[smallest]) {
			smallest = left
		}
		if right < len(heap) && less(heap[right], heap[smallest]) {
			smallest = right
		}
		if smallest == i {
			return
		}
		heap[i], heap[smallest] = heap[smallest], heap[i]
		i = smallest
	}
}
