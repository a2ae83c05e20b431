package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/arkilian/bookingstore/internal/catalog"
	"github.com/arkilian/bookingstore/internal/index"
	"github.com/arkilian/bookingstore/pkg/types"
)

// Store is a journal the engine can also be rebuilt from.
type Store interface {
	Journal
	LoadPartitions(ctx context.Context) ([]catalog.PartitionRecord, error)
	LoadIndexDefinitions(ctx context.Context) ([]index.Definition, error)
	LoadBookings(ctx context.Context, fn func(pid types.PartitionID, b types.Booking) error) error
	LoadRatings(ctx context.Context, fn func(resourceID string, value float64) error) error
}

// Open rebuilds a store from persisted state and journals every later
// write to it. A store with no persisted partitions or indexes is seeded
// from the configured boundaries and default indexes.
func Open(ctx context.Context, store Store, opts Options) (*Engine, error) {
	start := time.Now()
	e, err := newEngine(opts)
	if err != nil {
		return nil, err
	}

	parts, err := store.LoadPartitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if err := e.dir.Restore(p.ID, p.LowerYear); err != nil {
			return nil, fmt.Errorf("engine: restore partition %d (%d): %w", p.ID, p.LowerYear, err)
		}
	}
	defs, err := store.LoadIndexDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	records := 0
	err = store.LoadBookings(ctx, func(pid types.PartitionID, b types.Booking) error {
		part, ok := e.dir.Partition(pid)
		if !ok {
			// its partition was never persisted; route it afresh
			pid = e.dir.Route(b.RangeStart)
			part, _ = e.dir.Partition(pid)
			logf("record %s names unknown partition, restored into %s", b.ID, part.Name())
		}
		if err := e.dir.Reserve(b.ID, pid); err != nil {
			return err
		}
		stored := b.Clone()
		part.Put(&stored)
		e.aggregates.OnInsert(&stored)
		e.observeCreatedAt(stored.CreatedAt)
		records++
		return nil
	})
	if err != nil {
		return nil, err
	}

	// indexes are bulk-built once every record is in place
	for _, def := range defs {
		for _, pid := range e.dir.IDs() {
			part, _ := e.dir.Partition(pid)
			if _, err := e.indexes.Define(pid, def.Fields, part.All()); err != nil {
				return nil, err
			}
		}
		e.defs[def.Fields.String()] = def
	}

	ratings := 0
	err = store.LoadRatings(ctx, func(resourceID string, value float64) error {
		if err := e.aggregates.RecordRating(resourceID, value, nil); err != nil {
			logf("skipping persisted rating %v for %s: %v", value, resourceID, err)
			return nil
		}
		ratings++
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.journal = store
	if len(parts) == 0 && len(defs) == 0 {
		if err := e.seed(ctx, opts); err != nil {
			return nil, err
		}
	}
	e.collector.SetSizes(len(e.dir.IDs()), e.dir.Size())
	logf("opened with %d partitions, %d indexes, %d records, %d ratings in %v",
		len(e.dir.IDs()), len(e.defs), records, ratings, time.Since(start))
	return e, nil
}
