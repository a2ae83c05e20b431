package planner

import (
	"github.com/arkilian/bookingstore/internal/partition"
	"github.com/arkilian/bookingstore/pkg/types"
)

// PruneResult contains the result of partition pruning.
type PruneResult struct {
	// Partitions is the candidate list in scan order.
	Partitions []types.PartitionID

	// TotalPartitions is the number of partitions before pruning.
	TotalPartitions int

	// PruningRatio is the ratio of pruned partitions (0.0 to 1.0).
	PruningRatio float64
}

// Pruner eliminates partitions that cannot hold a record matching the
// range_start bounds of a query.
type Pruner struct {
	dir *partition.Directory
}

// NewPruner creates a pruner over a partition directory.
func NewPruner(dir *partition.Directory) *Pruner {
	return &Pruner{dir: dir}
}

// Prune returns the partitions overlapping r, ordered by lower bound in the
// requested direction. An unbounded range keeps every partition; an empty
// one keeps none.
func (p *Pruner) Prune(r types.DateRange, desc bool) PruneResult {
	total := len(p.dir.IDs())
	result := PruneResult{TotalPartitions: total}
	if !r.Empty() {
		for id := range p.dir.Overlapping(r, desc) {
			result.Partitions = append(result.Partitions, id)
		}
	}
	if total > 0 {
		result.PruningRatio = float64(total-len(result.Partitions)) / float64(total)
	}
	return result
}
