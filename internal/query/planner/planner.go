// Package planner turns a booking query into an access plan: the partitions
// that may hold matches and, per partition, the index or clustered scan
// that reads them.
package planner

import (
	"fmt"
	"strings"

	"github.com/arkilian/bookingstore/internal/index"
	"github.com/arkilian/bookingstore/internal/observability"
	"github.com/arkilian/bookingstore/internal/partition"
	"github.com/arkilian/bookingstore/pkg/types"
)

// QueryPlan represents a plan for executing a query across partitions.
type QueryPlan struct {
	Query Query

	// Range is the bound the query puts on range_start.
	Range types.DateRange

	// Partitions is the list of partitions to scan after pruning, in the
	// order unsorted results are concatenated.
	Partitions []types.PartitionID

	PruningStats PruningStats

	equalities map[types.Field]types.Value

	// untracked plans leave the predicate statistics alone
	untracked bool
}

// PruningStats contains statistics about partition pruning.
type PruningStats struct {
	TotalPartitions int
	PrunedCount     int
	PruningRatio    float64
}

// Desc reports whether partitions and clustered scans run in descending
// order.
func (p *QueryPlan) Desc() bool {
	return p.Query.Sort != nil && p.Query.Sort.Desc
}

// Equality returns the value an equality condition pins field to.
func (p *QueryPlan) Equality(field types.Field) (types.Value, bool) {
	v, ok := p.equalities[field]
	return v, ok
}

func (p *QueryPlan) String() string {
	var b strings.Builder
	b.WriteString("where(")
	for i, c := range p.Query.Where {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(c.String())
	}
	b.WriteString(")")
	if s := p.Query.Sort; s != nil {
		dir := "asc"
		if s.Desc {
			dir = "desc"
		}
		fmt.Fprintf(&b, " sort(%s %s)", s.Field, dir)
	}
	if p.Query.Limit > 0 {
		fmt.Fprintf(&b, " limit(%d)", p.Query.Limit)
	}
	fmt.Fprintf(&b, " partitions(%d/%d)", len(p.Partitions), p.PruningStats.TotalPartitions)
	return b.String()
}

// AccessKind is the way one partition is read.
type AccessKind int

const (
	// AccessScan walks the partition's clustered range_start order and
	// filters in memory.
	AccessScan AccessKind = iota
	// AccessIndex looks up a composite index.
	AccessIndex
)

// Access is the chosen access path for one partition.
type Access struct {
	Partition types.PartitionID
	Kind      AccessKind
	Index     types.Fields
	Predicate index.Predicate
	Estimate  int

	// SortSatisfied means rows come back in the requested order and need
	// no sort before the merge.
	SortSatisfied bool
}

func (a Access) String() string {
	if a.Kind == AccessIndex {
		return fmt.Sprintf("index(%s) width=%d est=%d", a.Index, a.Predicate.Width(), a.Estimate)
	}
	return fmt.Sprintf("scan est=%d", a.Estimate)
}

// Planner generates query plans.
type Planner struct {
	pruner  *Pruner
	indexes *index.Manager
	stats   *observability.QueryStats
}

// NewPlanner creates a query planner. stats may be nil.
func NewPlanner(dir *partition.Directory, indexes *index.Manager, stats *observability.QueryStats) *Planner {
	return &Planner{
		pruner:  NewPruner(dir),
		indexes: indexes,
		stats:   stats,
	}
}

// Plan validates q and selects the partitions that may hold matches.
func (p *Planner) Plan(q Query) (*QueryPlan, error) {
	return p.plan(q, true)
}

// PlanUntracked plans q without feeding predicate statistics. The store's
// own reads, such as summary recomputes, use it so they never steer the
// index advisor.
func (p *Planner) PlanUntracked(q Query) (*QueryPlan, error) {
	return p.plan(q, false)
}

func (p *Planner) plan(q Query, track bool) (*QueryPlan, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if track && p.stats != nil {
		for _, c := range q.Where {
			p.stats.RecordPredicate(string(c.Field), string(c.Op))
		}
	}

	plan := &QueryPlan{
		Query:      q,
		Range:      q.dateRange(),
		equalities: q.Equalities(),
		untracked:  !track,
	}
	pruned := p.pruner.Prune(plan.Range, plan.Desc())
	plan.Partitions = pruned.Partitions
	plan.PruningStats = PruningStats{
		TotalPartitions: pruned.TotalPartitions,
		PrunedCount:     pruned.TotalPartitions - len(pruned.Partitions),
		PruningRatio:    pruned.PruningRatio,
	}
	return plan, nil
}

// Access chooses how to read one partition of the plan. Candidates are the
// indexes whose key prefix the query constrains; the winner has the widest
// usable prefix, then the lowest estimate, then a trailing component equal
// to the sort field. The caller must hold the partition's read lock.
func (p *Planner) Access(plan *QueryPlan, part *partition.Partition) Access {
	pid := part.ID()
	best := Access{
		Partition:     pid,
		Kind:          AccessScan,
		Estimate:      part.Len(),
		SortSatisfied: plan.Query.Sort == nil || plan.Query.Sort.Field == types.FieldRangeStart,
	}
	found := false

	for _, fields := range p.indexes.Definitions(pid) {
		pred := plan.Query.predicateFor(fields, plan.equalities)
		if pred.Width() == 0 {
			continue
		}
		est, err := p.indexes.Estimate(pid, fields, pred)
		if err != nil {
			// dropped since Definitions was read
			continue
		}
		cand := Access{
			Partition:     pid,
			Kind:          AccessIndex,
			Index:         fields,
			Predicate:     pred,
			Estimate:      est,
			SortSatisfied: sortSatisfied(plan.Query.Sort, fields, pred),
		}
		if !found || better(cand, best) {
			best = cand
			found = true
		}
	}

	if !found && p.stats != nil && !plan.untracked {
		if tuple := plan.Query.scanTuple(); tuple != "" {
			p.stats.RecordUnindexed(tuple)
		}
	}
	return best
}

func better(a, b Access) bool {
	if wa, wb := a.Predicate.Width(), b.Predicate.Width(); wa != wb {
		return wa > wb
	}
	if a.Estimate != b.Estimate {
		return a.Estimate < b.Estimate
	}
	return a.SortSatisfied && !b.SortSatisfied
}

// sortSatisfied reports whether an index lookup returns rows already
// ordered by the sort key. Entries are ordered by key then id, so the
// order matches (sort field, id) when the equality prefix is followed by
// exactly one trailing component and that component is the sort field.
func sortSatisfied(sort *SortKey, fields types.Fields, pred index.Predicate) bool {
	if sort == nil {
		return true
	}
	return len(fields) == len(pred.Equal)+1 && fields[len(fields)-1] == sort.Field
}
