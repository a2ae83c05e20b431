package aggregate

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/shopspring/decimal"

	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/internal/observability"
	"github.com/arkilian/bookingstore/pkg/types"
)

// RecordSource returns the current bookings whose field equals value. The
// store engine implements it with a query.
type RecordSource interface {
	RecordsFor(ctx context.Context, field types.Field, value string) ([]types.Booking, error)
}

// Config holds aggregate maintenance configuration.
type Config struct {
	Tolerance Tolerance
	MinRating float64
	MaxRating float64
}

// DefaultConfig returns exact tolerances and a 1 to 5 rating scale.
func DefaultConfig() Config {
	return Config{
		Tolerance: Tolerance{Amount: decimal.Zero},
		MinRating: 1,
		MaxRating: 5,
	}
}

// Maintainer owns the live summaries. Each summary is locked on its own, so
// updates to different keys never wait on each other.
type Maintainer struct {
	cfg       Config
	source    RecordSource
	collector *observability.Collector

	// writers hold prune shared while they touch a cell; Prune holds it
	// exclusively so it never drops a cell a writer is about to update
	prune sync.RWMutex

	subjects  *xsync.MapOf[string, *cell]
	resources *xsync.MapOf[string, *cell]
}

// NewMaintainer creates a maintainer. collector may be nil; source may be
// set later with SetSource.
func NewMaintainer(cfg Config, source RecordSource, collector *observability.Collector) *Maintainer {
	return &Maintainer{
		cfg:       cfg,
		source:    source,
		collector: collector,
		subjects:  xsync.NewMapOf[string, *cell](),
		resources: xsync.NewMapOf[string, *cell](),
	}
}

// SetSource sets the record source used by Recompute and Verify.
func (m *Maintainer) SetSource(source RecordSource) {
	m.source = source
}

func (m *Maintainer) cells(kind Kind) *xsync.MapOf[string, *cell] {
	if kind == KindResource {
		return m.resources
	}
	return m.subjects
}

func (m *Maintainer) with(kind Kind, id string, fn func(c *cell)) {
	m.prune.RLock()
	defer m.prune.RUnlock()
	c, _ := m.cells(kind).LoadOrCompute(id, func() *cell { return &cell{} })
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (m *Maintainer) adjust(b *types.Booking, sign int64) {
	m.with(KindSubject, b.SubjectID, func(c *cell) { c.apply(sign, b.Amount) })
	m.with(KindResource, b.ResourceID, func(c *cell) { c.apply(sign, b.Amount) })
}

// OnInsert adds a new booking's contribution, creating summaries on first
// use.
func (m *Maintainer) OnInsert(b *types.Booking) {
	if b.Contributes() {
		m.adjust(b, 1)
	}
}

// OnTransition applies a status change. Only a change in whether the
// booking contributes has an effect, so repeating a transition is a no-op.
func (m *Maintainer) OnTransition(before, after *types.Booking) {
	switch {
	case before.Contributes() && !after.Contributes():
		m.adjust(before, -1)
	case !before.Contributes() && after.Contributes():
		m.adjust(after, 1)
	}
}

// OnDelete removes a deleted booking's contribution.
func (m *Maintainer) OnDelete(b *types.Booking) {
	if b.Contributes() {
		m.adjust(b, -1)
	}
}

// ValidateRating checks a rating value before it is persisted.
func (m *Maintainer) ValidateRating(resourceID string, value float64) error {
	if resourceID == "" {
		return errors.NewInvariantViolation("rating needs a resource_id", "", "resource_id")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < m.cfg.MinRating || value > m.cfg.MaxRating {
		return errors.NewInvariantViolation(
			fmt.Sprintf("rating %v outside [%v, %v]", value, m.cfg.MinRating, m.cfg.MaxRating), "", "value")
	}
	return nil
}

// RecordRating folds a rating into the resource's running average. persist,
// when set, runs under the summary lock before the rating is applied, so
// the persisted log order matches the order ratings were folded in; if it
// fails nothing changes.
func (m *Maintainer) RecordRating(resourceID string, value float64, persist func() error) error {
	if err := m.ValidateRating(resourceID, value); err != nil {
		return err
	}
	var err error
	m.with(KindResource, resourceID, func(c *cell) {
		if persist != nil {
			if err = persist(); err != nil {
				return
			}
		}
		c.rate(value)
	})
	return err
}

// Subject returns the live subject summary.
func (m *Maintainer) Subject(id string) (SubjectSummary, bool) {
	c, ok := m.subjects.Load(id)
	if !ok {
		return SubjectSummary{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snapshot(Key{KindSubject, id}).Subject()
	s.UpdatedAt = c.updatedAt
	return s, true
}

// Resource returns the live resource summary.
func (m *Maintainer) Resource(id string) (ResourceSummary, bool) {
	c, ok := m.resources.Load(id)
	if !ok {
		return ResourceSummary{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snapshot(Key{KindResource, id}).Resource()
	s.UpdatedAt = c.updatedAt
	return s, true
}

// Live returns the kind-independent form of a live summary. A key without
// a summary reads as zero.
func (m *Maintainer) Live(key Key) Summary {
	c, ok := m.cells(key.Kind).Load(key.ID)
	if !ok {
		return Summary{Key: key}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(key)
}

// Keys returns the ids of every live summary of a kind, sorted.
func (m *Maintainer) Keys(kind Kind) []string {
	var ids []string
	m.cells(kind).Range(func(id string, _ *cell) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// Recompute folds the current bookings and the rating log of key into a
// fresh summary. It performs the same operations, in the same order, as
// incremental maintenance would, so an undisturbed key recomputes to an
// identical value.
func (m *Maintainer) Recompute(ctx context.Context, key Key) (Summary, error) {
	s, _, err := m.recompute(ctx, key)
	return s, err
}

func (m *Maintainer) recompute(ctx context.Context, key Key) (Summary, uint64, error) {
	if m.source == nil {
		return Summary{}, 0, errors.NewInternalError("aggregate: no record source", nil)
	}

	var gen uint64
	var ratings []float64
	if c, ok := m.cells(key.Kind).Load(key.ID); ok {
		c.mu.Lock()
		gen = c.gen
		ratings = append(ratings, c.ratings...)
		c.mu.Unlock()
	}

	records, err := m.source.RecordsFor(ctx, key.Kind.Field(), key.ID)
	if err != nil {
		return Summary{}, 0, err
	}

	fresh := &cell{}
	for i := range records {
		if records[i].Contributes() {
			fresh.apply(1, records[i].Amount)
		}
	}
	for _, v := range ratings {
		fresh.rate(v)
	}
	return fresh.snapshot(key), gen, nil
}

// VerifyResult reports one verification.
type VerifyResult struct {
	Key        Key     `json:"-"`
	Kind       Kind    `json:"kind"`
	ID         string  `json:"id"`
	Live       Summary `json:"live"`
	Recomputed Summary `json:"recomputed"`
	Drifted    bool    `json:"drifted"`
	Repaired   bool    `json:"repaired"`

	// Inconclusive means a write changed the summary while it was being
	// recomputed; nothing was compared or repaired.
	Inconclusive bool `json:"inconclusive"`
}

// Verify recomputes key and compares it with the live summary. Drift
// beyond the tolerance is logged and repaired by replacing the live
// totals with the recomputed ones. A key without a summary is only
// created when the recompute finds contributions it is missing.
func (m *Maintainer) Verify(ctx context.Context, key Key) (VerifyResult, error) {
	recomputed, gen, err := m.recompute(ctx, key)
	if err != nil {
		return VerifyResult{}, err
	}
	res := VerifyResult{Key: key, Kind: key.Kind, ID: key.ID, Recomputed: recomputed}

	// a key nothing contributes to stays absent
	if _, ok := m.cells(key.Kind).Load(key.ID); !ok && recomputed.empty() {
		res.Live = Summary{Key: key}
		return res, nil
	}

	m.with(key.Kind, key.ID, func(c *cell) {
		if c.gen != gen {
			res.Inconclusive = true
			res.Live = c.snapshot(key)
			return
		}
		res.Live = c.snapshot(key)
		if !m.cfg.Tolerance.Drifted(res.Live, recomputed) {
			return
		}
		res.Drifted = true
		drift := errors.NewDriftDetected(key.String(), fmt.Sprintf(
			"live count=%d total=%s avg=%v, recomputed count=%d total=%s avg=%v",
			res.Live.Count, res.Live.Total, res.Live.RatingAverage,
			recomputed.Count, recomputed.Total, recomputed.RatingAverage))
		log.Printf("aggregate: %v; repairing", drift)

		c.count = recomputed.Count
		c.total = recomputed.Total
		c.avg = recomputed.RatingAverage
		c.touch()
		res.Repaired = true
		if m.collector != nil {
			m.collector.RecordDriftRepair(string(key.Kind))
		}
	})
	return res, nil
}

// VerifyReport summarises a verification pass.
type VerifyReport struct {
	Checked      int `json:"checked"`
	Drifted      int `json:"drifted"`
	Inconclusive int `json:"inconclusive"`
	Failed       int `json:"failed"`
	Pruned       int `json:"pruned"`
}

// VerifyAll verifies every live summary, then prunes empty ones.
func (m *Maintainer) VerifyAll(ctx context.Context) VerifyReport {
	var report VerifyReport
	for _, kind := range []Kind{KindSubject, KindResource} {
		for _, id := range m.Keys(kind) {
			if ctx.Err() != nil {
				return report
			}
			res, err := m.Verify(ctx, Key{kind, id})
			report.Checked++
			switch {
			case err != nil:
				report.Failed++
				log.Printf("aggregate: verify %s/%s failed: %v", kind, id, err)
			case res.Inconclusive:
				report.Inconclusive++
			case res.Drifted:
				report.Drifted++
			}
		}
	}
	report.Pruned = m.Prune()
	return report
}

// Prune drops summaries that no longer reflect any contribution and
// returns how many were dropped.
func (m *Maintainer) Prune() int {
	m.prune.Lock()
	defer m.prune.Unlock()

	n := 0
	for _, cells := range []*xsync.MapOf[string, *cell]{m.subjects, m.resources} {
		cells.Range(func(id string, c *cell) bool {
			c.mu.Lock()
			empty := c.empty()
			c.mu.Unlock()
			if empty {
				cells.Delete(id)
				n++
			}
			return true
		})
	}
	return n
}
