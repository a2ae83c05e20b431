// Package engine ties the partition directory, index manager, planner,
// executor and aggregate maintainer into one store. Every write is
// validated, persisted through the journal, and only then applied in
// memory while the owning partition is held exclusively, so a failed write
// leaves no partial state behind.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/arkilian/bookingstore/internal/aggregate"
	"github.com/arkilian/bookingstore/internal/config"
	"github.com/arkilian/bookingstore/internal/index"
	"github.com/arkilian/bookingstore/internal/observability"
	"github.com/arkilian/bookingstore/internal/partition"
	"github.com/arkilian/bookingstore/internal/query/executor"
	"github.com/arkilian/bookingstore/internal/query/planner"
	"github.com/arkilian/bookingstore/pkg/types"
)

// Journal persists store state. The SQLite catalog implements it; a store
// without a journal keeps everything in memory.
type Journal interface {
	SavePartition(ctx context.Context, id types.PartitionID, year int) error
	SaveIndexDefinition(ctx context.Context, def index.Definition) error
	DeleteIndexDefinition(ctx context.Context, fields types.Fields) error
	InsertBooking(ctx context.Context, pid types.PartitionID, b *types.Booking) error
	UpdateStatus(ctx context.Context, id string, status types.Status) error
	DeleteBooking(ctx context.Context, id string) error
	AppendRating(ctx context.Context, resourceID string, value float64) error
}

// Options configures a store.
type Options struct {
	// Boundaries are defined when the store starts without any partitions
	Boundaries []int

	// DefaultIndexes are defined when the store starts without any index
	// definitions
	DefaultIndexes []types.Fields

	Partition   partition.Config
	Executor    executor.ExecutorConfig
	Aggregate   aggregate.Config
	NodeID      int64
	StatsWindow time.Duration

	// Collector receives instrumentation; one is created when nil
	Collector *observability.Collector
}

// DefaultOptions returns options for an in-memory store with no boundaries
// and no indexes.
func DefaultOptions() Options {
	return Options{
		Partition:   partition.DefaultConfig(),
		Executor:    executor.DefaultExecutorConfig(),
		Aggregate:   aggregate.DefaultConfig(),
		NodeID:      1,
		StatsWindow: time.Hour,
	}
}

// OptionsFromConfig derives store options from the server configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	defaults, err := cfg.IndexDefaults()
	if err != nil {
		return Options{}, err
	}
	opts := DefaultOptions()
	opts.Boundaries = cfg.Partitions.Boundaries
	opts.DefaultIndexes = defaults
	opts.Partition.LockTimeout = cfg.Partitions.LockTimeout
	opts.Partition.BloomExpectedItems = cfg.Partitions.BloomExpectedItems
	opts.Partition.BloomFPR = cfg.Partitions.BloomFPR
	opts.Executor.Concurrency = cfg.Query.Concurrency
	opts.Aggregate.Tolerance = aggregate.Tolerance{
		Amount: cfg.AmountTolerance(),
		Rating: cfg.Aggregates.RatingTolerance,
	}
	opts.Aggregate.MinRating = cfg.Aggregates.MinRating
	opts.Aggregate.MaxRating = cfg.Aggregates.MaxRating
	opts.NodeID = cfg.NodeID
	opts.StatsWindow = cfg.Indexes.StatsWindow
	return opts, nil
}

// Engine is the booking store.
type Engine struct {
	dir        *partition.Directory
	indexes    *index.Manager
	stats      *observability.QueryStats
	collector  *observability.Collector
	planner    *planner.Planner
	executor   *executor.ParallelExecutor
	aggregates *aggregate.Maintainer
	journal    Journal
	ids        *snowflake.Node

	// defsMu orders index definition changes against partition creation,
	// so a new partition always carries every defined index
	defsMu sync.RWMutex
	defs   map[string]index.Definition

	clockMu     sync.Mutex
	lastCreated time.Time
}

// newEngine wires the components without defining anything.
func newEngine(opts Options) (*Engine, error) {
	ids, err := snowflake.NewNode(opts.NodeID)
	if err != nil {
		return nil, fmt.Errorf("engine: invalid node id %d: %w", opts.NodeID, err)
	}

	collector := opts.Collector
	if collector == nil {
		collector = observability.NewCollector(1024, nil)
	}
	pcfg := opts.Partition
	pcfg.Observer = func(ev partition.LockEvent) {
		collector.RecordLockWait(observability.LockWait{
			Partition: ev.Name,
			Mode:      string(ev.Mode),
			Waited:    ev.Waited,
			Contended: ev.Contended,
			Acquired:  ev.Acquired,
		})
	}

	e := &Engine{
		dir:       partition.NewDirectory(pcfg),
		indexes:   index.NewManager(),
		stats:     observability.NewQueryStats(opts.StatsWindow),
		collector: collector,
		ids:       ids,
		defs:      make(map[string]index.Definition),
	}
	e.planner = planner.NewPlanner(e.dir, e.indexes, e.stats)
	e.executor = executor.NewParallelExecutor(e.planner, e.dir, e.indexes, collector, opts.Executor)
	e.aggregates = aggregate.NewMaintainer(opts.Aggregate, e, collector)
	return e, nil
}

// New creates an in-memory store with the configured boundaries and
// default indexes.
func New(ctx context.Context, opts Options) (*Engine, error) {
	e, err := newEngine(opts)
	if err != nil {
		return nil, err
	}
	if err := e.seed(ctx, opts); err != nil {
		return nil, err
	}
	return e, nil
}

// seed defines the configured boundaries and default indexes.
func (e *Engine) seed(ctx context.Context, opts Options) error {
	for _, year := range opts.Boundaries {
		if _, err := e.AddPartitionBoundary(ctx, year); err != nil {
			return err
		}
	}
	for _, fields := range opts.DefaultIndexes {
		if err := e.DefineIndex(ctx, fields, false); err != nil {
			return err
		}
	}
	return nil
}

// Directory returns the partition directory.
func (e *Engine) Directory() *partition.Directory {
	return e.dir
}

// Stats returns the predicate statistics the index policy reads.
func (e *Engine) Stats() *observability.QueryStats {
	return e.stats
}

// Collector returns the instrumentation collector.
func (e *Engine) Collector() *observability.Collector {
	return e.collector
}

// Aggregates returns the summary maintainer.
func (e *Engine) Aggregates() *aggregate.Maintainer {
	return e.aggregates
}

// nextCreatedAt returns a creation time strictly after every earlier one.
func (e *Engine) nextCreatedAt() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	now := time.Now().UTC()
	if !now.After(e.lastCreated) {
		now = e.lastCreated.Add(time.Nanosecond)
	}
	e.lastCreated = now
	return now
}

// observeCreatedAt advances the clock past a restored creation time.
func (e *Engine) observeCreatedAt(t time.Time) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	if t.After(e.lastCreated) {
		e.lastCreated = t
	}
}

func (e *Engine) recordWrite(op string, start time.Time, err error) {
	e.collector.RecordWrite(op, time.Since(start), err)
	if err == nil {
		e.collector.SetSizes(len(e.dir.IDs()), e.dir.Size())
	}
}

func logf(format string, args ...interface{}) {
	log.Printf("engine: "+format, args...)
}
