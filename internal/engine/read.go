package engine

import (
	"context"
	"fmt"

	"github.com/arkilian/bookingstore/internal/aggregate"
	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/internal/query/executor"
	"github.com/arkilian/bookingstore/internal/query/planner"
	"github.com/arkilian/bookingstore/pkg/types"
)

// Get returns a copy of a booking.
func (e *Engine) Get(ctx context.Context, id string) (types.Booking, error) {
	return e.dir.Get(ctx, id)
}

// Query plans and executes q.
func (e *Engine) Query(ctx context.Context, q planner.Query) (*executor.QueryResult, error) {
	return e.executor.Execute(ctx, q)
}

// Explain plans q and reports the access path chosen for every candidate
// partition without reading any record.
func (e *Engine) Explain(ctx context.Context, q planner.Query) (*planner.QueryPlan, []planner.Access, error) {
	plan, err := e.planner.Plan(q)
	if err != nil {
		return nil, nil, err
	}
	access := make([]planner.Access, 0, len(plan.Partitions))
	for _, pid := range plan.Partitions {
		part, ok := e.dir.Partition(pid)
		if !ok {
			continue
		}
		unlock, err := part.RLock(ctx)
		if err != nil {
			return nil, nil, err
		}
		access = append(access, e.planner.Access(plan, part))
		unlock()
	}
	return plan, access, nil
}

// RecordsFor returns every current booking whose field equals value. It
// is the record source summaries are recomputed from, so it does not count
// towards query statistics.
func (e *Engine) RecordsFor(ctx context.Context, field types.Field, value string) ([]types.Booking, error) {
	cond := planner.Condition{Field: field, Op: planner.OpEq, Value: types.StringValue(value)}
	return e.executor.Collect(ctx, planner.Query{Where: []planner.Condition{cond}})
}

// SubjectSummary returns the live summary of a subject.
func (e *Engine) SubjectSummary(id string) (aggregate.SubjectSummary, error) {
	s, ok := e.aggregates.Subject(id)
	if !ok {
		return s, summaryNotFound(aggregate.KindSubject, id)
	}
	return s, nil
}

// ResourceSummary returns the live summary of a resource.
func (e *Engine) ResourceSummary(id string) (aggregate.ResourceSummary, error) {
	s, ok := e.aggregates.Resource(id)
	if !ok {
		return s, summaryNotFound(aggregate.KindResource, id)
	}
	return s, nil
}

// Recompute folds a summary from the current bookings without changing
// the live one.
func (e *Engine) Recompute(ctx context.Context, key aggregate.Key) (aggregate.Summary, error) {
	return e.aggregates.Recompute(ctx, key)
}

// Verify recomputes a summary and repairs the live one on drift.
func (e *Engine) Verify(ctx context.Context, key aggregate.Key) (aggregate.VerifyResult, error) {
	return e.aggregates.Verify(ctx, key)
}

// VerifyAll verifies every live summary.
func (e *Engine) VerifyAll(ctx context.Context) aggregate.VerifyReport {
	return e.aggregates.VerifyAll(ctx)
}

func summaryNotFound(kind aggregate.Kind, id string) error {
	return errors.NewNotFound(errors.ErrCategoryAggregate, fmt.Sprintf("no %s summary for %s", kind, id)).
		WithDetails(map[string]interface{}{errors.DetailKey: string(kind) + "/" + id})
}
