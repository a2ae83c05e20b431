// Package aggregate maintains per-subject and per-resource booking summaries
// incrementally, and recomputes them from base records to detect and repair
// drift.
package aggregate

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arkilian/bookingstore/pkg/types"
)

// Kind names a summary variant.
type Kind string

const (
	KindSubject  Kind = "subject"
	KindResource Kind = "resource"
)

// ParseKind parses "subject" or "resource".
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSubject, KindResource:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown summary kind %q", s)
}

// Field is the booking field a summary kind is keyed by.
func (k Kind) Field() types.Field {
	if k == KindResource {
		return types.FieldResourceID
	}
	return types.FieldSubjectID
}

// Key identifies one summary.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	return string(k.Kind) + "/" + k.ID
}

// SubjectSummary aggregates the contributing bookings of one subject.
type SubjectSummary struct {
	SubjectID string          `json:"subject_id"`
	Count     int64           `json:"count"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ResourceSummary aggregates the contributing bookings and the ratings of
// one resource.
type ResourceSummary struct {
	ResourceID    string          `json:"resource_id"`
	Count         int64           `json:"count"`
	Total         decimal.Decimal `json:"total"`
	RatingCount   int64           `json:"rating_count"`
	RatingAverage float64         `json:"rating_average"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Summary is the kind-independent form used by recompute and verification.
type Summary struct {
	Key           Key             `json:"-"`
	Count         int64           `json:"count"`
	Total         decimal.Decimal `json:"total"`
	RatingCount   int64           `json:"rating_count"`
	RatingAverage float64         `json:"rating_average"`
}

// Subject returns the subject form of s.
func (s Summary) Subject() SubjectSummary {
	return SubjectSummary{SubjectID: s.Key.ID, Count: s.Count, Total: s.Total}
}

// Resource returns the resource form of s.
func (s Summary) Resource() ResourceSummary {
	return ResourceSummary{
		ResourceID:    s.Key.ID,
		Count:         s.Count,
		Total:         s.Total,
		RatingCount:   s.RatingCount,
		RatingAverage: s.RatingAverage,
	}
}

func (s Summary) empty() bool {
	return s.Count == 0 && s.Total.IsZero() && s.RatingCount == 0
}

// Tolerance bounds the difference between a live and a recomputed summary
// that is not reported as drift. Counts must always match exactly.
type Tolerance struct {
	Amount decimal.Decimal
	Rating float64
}

// Drifted reports whether live and recomputed differ beyond t.
func (t Tolerance) Drifted(live, recomputed Summary) bool {
	if live.Count != recomputed.Count || live.RatingCount != recomputed.RatingCount {
		return true
	}
	if live.Total.Sub(recomputed.Total).Abs().GreaterThan(t.Amount) {
		return true
	}
	return math.Abs(live.RatingAverage-recomputed.RatingAverage) > t.Rating
}

// meanStep folds one rating into a running mean.
func meanStep(avg float64, n int64, v float64) float64 {
	return avg + (v-avg)/float64(n)
}

// cell holds one live summary. gen increases on every change so a
// verification can tell whether a write raced its recompute.
type cell struct {
	mu        sync.Mutex
	gen       uint64
	count     int64
	total     decimal.Decimal
	ratings   []float64
	avg       float64
	updatedAt time.Time
}

func (c *cell) apply(sign int64, amount decimal.Decimal) {
	c.count += sign
	if sign > 0 {
		c.total = c.total.Add(amount)
	} else {
		c.total = c.total.Sub(amount)
	}
	c.touch()
}

func (c *cell) rate(v float64) {
	c.ratings = append(c.ratings, v)
	c.avg = meanStep(c.avg, int64(len(c.ratings)), v)
	c.touch()
}

func (c *cell) touch() {
	c.gen++
	c.updatedAt = time.Now().UTC()
}

func (c *cell) snapshot(k Key) Summary {
	return Summary{
		Key:           k,
		Count:         c.count,
		Total:         c.total,
		RatingCount:   int64(len(c.ratings)),
		RatingAverage: c.avg,
	}
}

// empty reports whether the cell no longer reflects any contribution.
func (c *cell) empty() bool {
	return c.count == 0 && c.total.IsZero() && len(c.ratings) == 0
}
