// Package executor runs query plans: one read task per candidate partition,
// fanned out with a concurrency limit and merged back in sort order.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arkilian/bookingstore/internal/index"
	"github.com/arkilian/bookingstore/internal/observability"
	"github.com/arkilian/bookingstore/internal/partition"
	"github.com/arkilian/bookingstore/internal/query/planner"
	"github.com/arkilian/bookingstore/pkg/types"
)

// filteredFields are the fields partitions keep membership filters for.
var filteredFields = []types.Field{types.FieldSubjectID, types.FieldResourceID}

// QueryResult holds query execution results.
type QueryResult struct {
	QueryID string          `json:"query_id"`
	Records []types.Booking `json:"records"`
	Stats   ExecutionStats  `json:"stats"`
}

// ExecutionStats contains query execution metrics.
type ExecutionStats struct {
	Plan              string        `json:"plan"`
	PartitionsScanned int           `json:"partitions_scanned"`
	PartitionsPruned  int           `json:"partitions_pruned"`
	PartitionsSkipped int           `json:"partitions_skipped"`
	RowsExamined      int64         `json:"rows_examined"`
	Duration          time.Duration `json:"duration"`
}

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	// Concurrency is the number of partitions read in parallel (default: 8)
	Concurrency int
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{Concurrency: 8}
}

// ParallelExecutor executes queries across partitions in parallel.
type ParallelExecutor struct {
	planner   *planner.Planner
	dir       *partition.Directory
	indexes   *index.Manager
	collector *observability.Collector
	config    ExecutorConfig
}

// NewParallelExecutor creates a query executor. collector may be nil.
func NewParallelExecutor(
	pl *planner.Planner,
	dir *partition.Directory,
	indexes *index.Manager,
	collector *observability.Collector,
	config ExecutorConfig,
) *ParallelExecutor {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultExecutorConfig().Concurrency
	}
	return &ParallelExecutor{
		planner:   pl,
		dir:       dir,
		indexes:   indexes,
		collector: collector,
		config:    config,
	}
}

// Execute plans and runs q. Every call, failed or not, emits one query
// record to the collector.
func (e *ParallelExecutor) Execute(ctx context.Context, q planner.Query) (*QueryResult, error) {
	start := time.Now()
	result := &QueryResult{QueryID: uuid.NewString()}

	plan, err := e.planner.Plan(q)
	if err != nil {
		e.record(result, start, err)
		return nil, err
	}
	result.Stats.PartitionsPruned = plan.PruningStats.PrunedCount

	partials, err := e.ExecutePlan(ctx, plan)
	result.Stats.Plan = describe(plan, partials)
	if err != nil {
		e.record(result, start, err)
		return nil, err
	}

	for _, pr := range partials {
		if pr == nil {
			continue
		}
		if pr.Skipped {
			result.Stats.PartitionsSkipped++
			continue
		}
		result.Stats.PartitionsScanned++
		result.Stats.RowsExamined += pr.RowsExamined
	}

	result.Records = NewResultMerger(q.Sort, q.Offset, q.Limit).Merge(partials)
	if result.Records == nil {
		result.Records = []types.Booking{}
	}
	e.record(result, start, nil)
	return result, nil
}

// Collect runs q for the store itself: predicate statistics are left
// alone and no query record is emitted.
func (e *ParallelExecutor) Collect(ctx context.Context, q planner.Query) ([]types.Booking, error) {
	plan, err := e.planner.PlanUntracked(q)
	if err != nil {
		return nil, err
	}
	partials, err := e.ExecutePlan(ctx, plan)
	if err != nil {
		return nil, err
	}
	return NewResultMerger(q.Sort, q.Offset, q.Limit).Merge(partials), nil
}

// ExecutePlan reads every partition of plan. The first failing partition,
// such as one whose lock wait timed out, cancels the rest and fails the
// query. Partials come back in plan order.
func (e *ParallelExecutor) ExecutePlan(ctx context.Context, plan *planner.QueryPlan) ([]*PartialResult, error) {
	partials := make([]*PartialResult, len(plan.Partitions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for i, pid := range plan.Partitions {
		g.Go(func() error {
			pr, err := e.executePartition(gctx, plan, pid)
			if err != nil {
				return err
			}
			partials[i] = pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return partials, err
	}
	return partials, nil
}

func (e *ParallelExecutor) executePartition(ctx context.Context, plan *planner.QueryPlan, pid types.PartitionID) (*PartialResult, error) {
	part, ok := e.dir.Partition(pid)
	if !ok {
		// unknown to the directory; it holds no records
		return &PartialResult{Partition: pid, Skipped: true}, nil
	}
	unlock, err := part.RLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	pr := &PartialResult{Partition: pid}
	for _, f := range filteredFields {
		if v, ok := plan.Equality(f); ok && !part.MayContain(f, v.Str) {
			pr.Skipped = true
			return pr, nil
		}
	}

	pr.Access = e.planner.Access(plan, part)
	q := plan.Query
	keep := func(b *types.Booking) {
		pr.RowsExamined++
		if q.Matches(b) {
			pr.Rows = append(pr.Rows, b.Clone())
		}
	}

	if pr.Access.Kind == planner.AccessIndex {
		ids, err := e.indexes.Lookup(pid, pr.Access.Index, pr.Access.Predicate, plan.Desc())
		if err == nil {
			for _, id := range ids {
				if b, ok := part.Get(id); ok {
					keep(b)
				}
			}
			e.finish(plan, pr)
			return pr, nil
		}
		// the index was dropped between choice and lookup; scan instead
		pr.Access = planner.Access{
			Partition:     pid,
			Kind:          planner.AccessScan,
			Estimate:      part.Len(),
			SortSatisfied: q.Sort == nil || q.Sort.Field == types.FieldRangeStart,
		}
	}

	part.Scan(plan.Range, plan.Desc(), func(b *types.Booking) bool {
		keep(b)
		return true
	})
	e.finish(plan, pr)
	return pr, nil
}

// finish puts a partial into merge order.
func (e *ParallelExecutor) finish(plan *planner.QueryPlan, pr *PartialResult) {
	if plan.Query.Sort != nil && !pr.Access.SortSatisfied {
		NewResultMerger(plan.Query.Sort, 0, 0).sortRows(pr.Rows)
	}
}

func (e *ParallelExecutor) record(result *QueryResult, start time.Time, err error) {
	result.Stats.Duration = time.Since(start)
	if e.collector == nil {
		return
	}
	rec := observability.QueryRecord{
		QueryID:           result.QueryID,
		Plan:              result.Stats.Plan,
		PartitionsTouched: result.Stats.PartitionsScanned,
		PartitionsSkipped: result.Stats.PartitionsSkipped,
		RowsExamined:      result.Stats.RowsExamined,
		RowsReturned:      len(result.Records),
		DurationMicros:    result.Stats.Duration.Microseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	e.collector.RecordQuery(rec)
}

// describe renders the plan and the access path chosen per partition.
func describe(plan *planner.QueryPlan, partials []*PartialResult) string {
	var b strings.Builder
	b.WriteString(plan.String())
	for i, pr := range partials {
		name := fmt.Sprintf("#%d", plan.Partitions[i])
		switch {
		case pr == nil:
			fmt.Fprintf(&b, "; %s: not run", name)
		case pr.Skipped:
			fmt.Fprintf(&b, "; %s: skipped by filter", name)
		default:
			fmt.Fprintf(&b, "; %s: %s", name, pr.Access)
		}
	}
	return b.String()
}
