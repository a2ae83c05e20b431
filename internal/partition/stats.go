package partition

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arkilian/bookingstore/pkg/types"
)

// StatsTracker tracks row counts and observed value ranges for a partition.
// Observed ranges only widen: removing a record never shrinks them, which
// keeps pruning conservative. The tracker has its own lock because the
// directory consults it while pruning without holding partition locks.
type StatsTracker struct {
	mu sync.RWMutex

	rowCount  int64
	sizeBytes int64

	minRangeStart *time.Time
	maxRangeStart *time.Time

	minAmount *decimal.Decimal
	maxAmount *decimal.Decimal
}

// NewStatsTracker creates a new statistics tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// Add updates statistics with a new record.
func (s *StatsTracker) Add(b *types.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCount++
	s.sizeBytes += b.SizeBytes()

	if s.minRangeStart == nil || b.RangeStart.Before(*s.minRangeStart) {
		t := b.RangeStart
		s.minRangeStart = &t
	}
	if s.maxRangeStart == nil || b.RangeStart.After(*s.maxRangeStart) {
		t := b.RangeStart
		s.maxRangeStart = &t
	}

	if s.minAmount == nil || b.Amount.LessThan(*s.minAmount) {
		a := b.Amount
		s.minAmount = &a
	}
	if s.maxAmount == nil || b.Amount.GreaterThan(*s.maxAmount) {
		a := b.Amount
		s.maxAmount = &a
	}
}

// Remove accounts for a deleted record.
func (s *StatsTracker) Remove(b *types.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCount--
	s.sizeBytes -= b.SizeBytes()
}

// RowCount returns the number of live records.
func (s *StatsTracker) RowCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rowCount
}

// SizeBytes returns the estimated in-memory size of live records.
func (s *StatsTracker) SizeBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sizeBytes
}

// RangeStartSpan returns the observed min and max range_start, or nils when
// the partition never held a record.
func (s *StatsTracker) RangeStartSpan() (min, max *time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minRangeStart, s.maxRangeStart
}

// AmountSpan returns the observed min and max amount.
func (s *StatsTracker) AmountSpan() (min, max *decimal.Decimal) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minAmount, s.maxAmount
}

// Overlaps reports whether any observed range_start may fall inside r.
func (s *StatsTracker) Overlaps(r types.DateRange) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.minRangeStart == nil {
		return false
	}
	if last, ok := r.Last(); ok && s.minRangeStart.After(last) {
		return false
	}
	if first, ok := r.First(); ok && s.maxRangeStart.Before(first) {
		return false
	}
	return true
}
