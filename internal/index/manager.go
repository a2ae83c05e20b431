// Package index provides composite secondary indexes over partition records.
// Each partition carries its own set of B-tree indexes keyed by a field
// tuple; the planner uses them for equality-prefix and range lookups.
package index

import (
	"iter"
	"sort"
	"sync"

	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/pkg/types"
)

// DefaultDefinitions are the tuples defined on every partition unless
// configured otherwise.
var DefaultDefinitions = []types.Fields{
	{types.FieldStatus, types.FieldRangeStart},
	{types.FieldSubjectID, types.FieldRangeStart},
	{types.FieldResourceID, types.FieldRangeStart},
	{types.FieldRangeStart},
}

// Manager owns the indexes of every partition.
//
// The manager's own lock only protects the registry of indexes. Index
// contents follow the partition lock: callers hold it exclusively when
// inserting, removing or updating, and at least shared when defining,
// looking up or estimating. A partition not yet routable needs no lock.
type Manager struct {
	mu         sync.RWMutex
	partitions map[types.PartitionID]map[string]*Index
}

// NewManager creates an empty index manager.
func NewManager() *Manager {
	return &Manager{
		partitions: make(map[types.PartitionID]map[string]*Index),
	}
}

// Define registers an index on fields for a partition and bulk-builds it
// from records. Defining an existing tuple again is a no-op.
func (m *Manager) Define(pid types.PartitionID, fields types.Fields, records iter.Seq[*types.Booking]) (*Index, error) {
	if len(fields) == 0 {
		return nil, errors.New(errors.ErrCategoryIndex, errors.CodeInvariantViolation, "index needs at least one field")
	}
	name := fields.String()

	m.mu.RLock()
	existing, ok := m.partitions[pid][name]
	m.mu.RUnlock()
	if ok {
		return existing, nil
	}

	ix := build(fields, records)

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.partitions[pid]
	if !ok {
		set = make(map[string]*Index)
		m.partitions[pid] = set
	}
	if existing, ok := set[name]; ok {
		return existing, nil
	}
	set[name] = ix
	return ix, nil
}

// Drop removes an index from a partition.
func (m *Manager) Drop(pid types.PartitionID, fields types.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := fields.String()
	if _, ok := m.partitions[pid][name]; !ok {
		return errors.NewNoSuchIndex(name)
	}
	delete(m.partitions[pid], name)
	return nil
}

// DropPartition forgets every index of a partition.
func (m *Manager) DropPartition(pid types.PartitionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partitions, pid)
}

// Get returns the index on fields, or a NoSuchIndex error.
func (m *Manager) Get(pid types.PartitionID, fields types.Fields) (*Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ix, ok := m.partitions[pid][fields.String()]
	if !ok {
		return nil, errors.NewNoSuchIndex(fields.String())
	}
	return ix, nil
}

// Definitions returns the field tuples indexed on a partition, sorted by
// name.
func (m *Manager) Definitions(pid types.PartitionID) []types.Fields {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.partitions[pid]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]types.Fields, len(names))
	for i, name := range names {
		out[i] = set[name].Fields()
	}
	return out
}

func (m *Manager) indexes(pid types.PartitionID) []*Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.partitions[pid]
	out := make([]*Index, 0, len(set))
	for _, ix := range set {
		out = append(out, ix)
	}
	return out
}

// Insert adds a record to every index of its partition.
func (m *Manager) Insert(pid types.PartitionID, b *types.Booking) {
	for _, ix := range m.indexes(pid) {
		ix.insert(b)
	}
}

// Remove deletes a record from every index of its partition.
func (m *Manager) Remove(pid types.PartitionID, b *types.Booking) {
	for _, ix := range m.indexes(pid) {
		ix.remove(b)
	}
}

// Update re-keys a record whose indexed values changed. before must carry
// the values the record was indexed under.
func (m *Manager) Update(pid types.PartitionID, before, after *types.Booking) {
	for _, ix := range m.indexes(pid) {
		ix.remove(before)
		ix.insert(after)
	}
}

// Lookup returns the ids matching pred on the index over fields.
func (m *Manager) Lookup(pid types.PartitionID, fields types.Fields, pred Predicate, desc bool) ([]string, error) {
	ix, err := m.Get(pid, fields)
	if err != nil {
		return nil, err
	}
	var ids []string
	ix.Scan(pred, desc, func(id string) bool {
		ids = append(ids, id)
		return true
	})
	return ids, nil
}

// Estimate returns the number of entries matching pred.
func (m *Manager) Estimate(pid types.PartitionID, fields types.Fields, pred Predicate) (int, error) {
	ix, err := m.Get(pid, fields)
	if err != nil {
		return 0, err
	}
	return ix.Count(pred), nil
}
