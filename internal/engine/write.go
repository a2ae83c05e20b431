package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/internal/partition"
	"github.com/arkilian/bookingstore/pkg/types"
)

// Submit stores a new booking and returns its id. An empty id is
// generated and an empty status defaults to pending; CreatedAt is always
// assigned by the store.
func (e *Engine) Submit(ctx context.Context, b types.Booking) (id string, err error) {
	start := time.Now()
	defer func() { e.recordWrite("submit", start, err) }()

	if b.ID == "" {
		b.ID = e.ids.Generate().String()
	}
	if b.Status == "" {
		b.Status = types.StatusPending
	}
	b.RangeStart = types.Date(b.RangeStart)
	b.RangeEnd = types.Date(b.RangeEnd)
	if err := partition.Validate(&b); err != nil {
		return "", err
	}
	b.CreatedAt = e.nextCreatedAt()

	hooks := partition.WriteHooks{
		Apply: func(pid types.PartitionID, stored *types.Booking) {
			e.indexes.Insert(pid, stored)
			e.aggregates.OnInsert(stored)
		},
	}
	if e.journal != nil {
		hooks.Persist = func(pid types.PartitionID, stored *types.Booking) error {
			return e.journal.InsertBooking(ctx, pid, stored)
		}
	}
	if _, err := e.dir.Insert(ctx, b, hooks); err != nil {
		return "", err
	}
	return b.ID, nil
}

// lockRecord finds the partition holding id and takes it exclusively.
func (e *Engine) lockRecord(ctx context.Context, id string) (types.PartitionID, *partition.Partition, func(), error) {
	pid, ok := e.dir.Locate(id)
	if !ok {
		return 0, nil, nil, recordNotFound(id)
	}
	part, ok := e.dir.Partition(pid)
	if !ok {
		return 0, nil, nil, recordNotFound(id)
	}
	unlock, err := part.Lock(ctx)
	if err != nil {
		return 0, nil, nil, err
	}
	if _, ok := part.Get(id); !ok {
		// deleted while we waited for the lock
		unlock()
		return 0, nil, nil, recordNotFound(id)
	}
	return pid, part, unlock, nil
}

// Transition changes a booking's status. Moving to the current status is
// accepted and changes nothing; a canceled booking cannot move again.
func (e *Engine) Transition(ctx context.Context, id string, status types.Status) (err error) {
	start := time.Now()
	defer func() { e.recordWrite("transition", start, err) }()

	if !status.Valid() {
		return errors.NewInvariantViolation("unknown status "+string(status), id, string(types.FieldStatus))
	}
	pid, part, unlock, err := e.lockRecord(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	current, _ := part.Get(id)
	if current.Status == status {
		return nil
	}
	if !current.Status.CanTransition(status) {
		return errors.NewConflict(errors.ErrCategoryIngest,
			fmt.Sprintf("record %s cannot move from %s to %s", id, current.Status, status),
			map[string]interface{}{
				errors.DetailRecordID: id,
				errors.DetailField:    string(types.FieldStatus),
			})
	}
	if e.journal != nil {
		if err := e.journal.UpdateStatus(ctx, id, status); err != nil {
			return err
		}
	}

	before, _ := part.SetStatus(id, status)
	after, _ := part.Get(id)
	e.indexes.Update(pid, &before, after)
	e.aggregates.OnTransition(&before, after)
	return nil
}

// Delete removes a booking, withdrawing it from every index and summary.
func (e *Engine) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { e.recordWrite("delete", start, err) }()

	hooks := partition.WriteHooks{
		Apply: func(pid types.PartitionID, b *types.Booking) {
			e.indexes.Remove(pid, b)
			e.aggregates.OnDelete(b)
		},
	}
	if e.journal != nil {
		hooks.Persist = func(types.PartitionID, *types.Booking) error {
			return e.journal.DeleteBooking(ctx, id)
		}
	}
	_, err = e.dir.Remove(ctx, id, hooks)
	return err
}

// RecordRating appends a rating to a resource's log and folds it into the
// running average.
func (e *Engine) RecordRating(ctx context.Context, resourceID string, value float64) (err error) {
	start := time.Now()
	defer func() { e.recordWrite("rating", start, err) }()

	var persist func() error
	if e.journal != nil {
		persist = func() error { return e.journal.AppendRating(ctx, resourceID, value) }
	}
	return e.aggregates.RecordRating(resourceID, value, persist)
}

func recordNotFound(id string) error {
	return errors.NewNotFound(errors.ErrCategoryIngest, fmt.Sprintf("record %s not found", id)).
		WithDetails(map[string]interface{}{errors.DetailRecordID: id})
}
