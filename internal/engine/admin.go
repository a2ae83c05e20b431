package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/internal/index"
	"github.com/arkilian/bookingstore/internal/partition"
	"github.com/arkilian/bookingstore/pkg/types"
)

// AddPartitionBoundary defines a partition starting at year. Existing
// bookings stay where they are; bookings inserted afterwards route by the
// new boundary. The partition is created carrying every defined index.
func (e *Engine) AddPartitionBoundary(ctx context.Context, year int) (types.PartitionInfo, error) {
	if year < 1 || year > 9999 {
		return types.PartitionInfo{}, errors.NewInvariantViolation(
			fmt.Sprintf("boundary year %d out of range", year), "", "year")
	}

	e.defsMu.RLock()
	defer e.defsMu.RUnlock()

	// indexes are built and the boundary persisted before the partition
	// becomes routable, so no write can land in it half-indexed
	id, err := e.dir.AddPartition(year, func(part *partition.Partition) error {
		err := e.initPartition(ctx, part, year)
		if err != nil {
			e.indexes.DropPartition(part.ID())
		}
		return err
	})
	if err != nil {
		return types.PartitionInfo{}, err
	}
	e.collector.SetSizes(len(e.dir.IDs()), e.dir.Size())

	for _, info := range e.ListPartitions() {
		if info.ID == id {
			return info, nil
		}
	}
	return types.PartitionInfo{ID: id}, nil
}

// initPartition defines every index on a partition that is not yet
// routable and records its boundary in the journal.
func (e *Engine) initPartition(ctx context.Context, part *partition.Partition, year int) error {
	for _, def := range e.defs {
		if _, err := e.indexes.Define(part.ID(), def.Fields, part.All()); err != nil {
			return err
		}
	}
	if e.journal != nil {
		return e.journal.SavePartition(ctx, part.ID(), year)
	}
	return nil
}

// ListPartitions describes every partition in routing order, fallback last.
func (e *Engine) ListPartitions() []types.PartitionInfo {
	infos := e.dir.List()
	for i := range infos {
		for _, fields := range e.indexes.Definitions(infos[i].ID) {
			infos[i].Indexes = append(infos[i].Indexes, fields.String())
		}
	}
	return infos
}

// DefineIndex defines a composite index on every partition, building it
// from the records already stored. Defining an existing tuple is a no-op.
func (e *Engine) DefineIndex(ctx context.Context, fields types.Fields, auto bool) error {
	if len(fields) == 0 {
		return errors.NewInvariantViolation("an index needs at least one field", "", "fields")
	}
	name := fields.String()

	e.defsMu.Lock()
	defer e.defsMu.Unlock()

	if _, ok := e.defs[name]; ok {
		return nil
	}
	def := index.Definition{Fields: fields, Auto: auto}
	if e.journal != nil {
		if err := e.journal.SaveIndexDefinition(ctx, def); err != nil {
			return err
		}
	}

	var built []types.PartitionID
	for _, pid := range e.dir.IDs() {
		if err := e.buildIndex(ctx, pid, fields); err != nil {
			for _, b := range built {
				e.indexes.Drop(b, fields)
			}
			if e.journal != nil {
				if derr := e.journal.DeleteIndexDefinition(ctx, fields); derr != nil {
					logf("failed to forget index (%s): %v", name, derr)
				}
			}
			return err
		}
		built = append(built, pid)
	}
	e.defs[name] = def
	logf("defined index (%s) auto=%v on %d partitions", name, auto, len(built))
	return nil
}

// buildIndex bulk-builds one partition's index while holding the partition
// in shared mode, which keeps writers out for the duration.
func (e *Engine) buildIndex(ctx context.Context, pid types.PartitionID, fields types.Fields) error {
	part, ok := e.dir.Partition(pid)
	if !ok {
		return nil
	}
	unlock, err := part.RLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	_, err = e.indexes.Define(pid, fields, part.All())
	return err
}

// DropIndex removes an index from every partition.
func (e *Engine) DropIndex(ctx context.Context, fields types.Fields) error {
	name := fields.String()

	e.defsMu.Lock()
	defer e.defsMu.Unlock()

	if _, ok := e.defs[name]; !ok {
		return errors.NewNoSuchIndex(name)
	}
	if e.journal != nil {
		if err := e.journal.DeleteIndexDefinition(ctx, fields); err != nil {
			return err
		}
	}
	for _, pid := range e.dir.IDs() {
		e.indexes.Drop(pid, fields)
	}
	delete(e.defs, name)
	logf("dropped index (%s)", name)
	return nil
}

// IndexDefinitions returns the defined indexes sorted by field tuple.
func (e *Engine) IndexDefinitions() []index.Definition {
	e.defsMu.RLock()
	defer e.defsMu.RUnlock()
	out := make([]index.Definition, 0, len(e.defs))
	for _, def := range e.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fields.String() < out[j].Fields.String() })
	return out
}

// CheckConsistency verifies that every index of every partition holds
// exactly the partition's record ids.
func (e *Engine) CheckConsistency(ctx context.Context) error {
	for _, pid := range e.dir.IDs() {
		part, ok := e.dir.Partition(pid)
		if !ok {
			continue
		}
		unlock, err := part.RLock(ctx)
		if err != nil {
			return err
		}
		want := make(map[string]bool, part.Len())
		for b := range part.All() {
			want[b.ID] = true
		}
		err = e.checkPartition(pid, part.Name(), want)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkPartition(pid types.PartitionID, name string, want map[string]bool) error {
	for _, fields := range e.indexes.Definitions(pid) {
		ix, err := e.indexes.Get(pid, fields)
		if err != nil {
			return err
		}
		ids := ix.IDs()
		if len(ids) != len(want) {
			return errors.NewInvariantViolation(fmt.Sprintf(
				"index (%s) on %s holds %d ids, partition holds %d", fields, name, len(ids), len(want)),
				"", fields.String())
		}
		for _, id := range ids {
			if !want[id] {
				return errors.NewInvariantViolation(fmt.Sprintf(
					"index (%s) on %s holds %s, which the partition does not", fields, name, id),
					id, fields.String())
			}
		}
	}
	return nil
}
