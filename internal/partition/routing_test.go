package partition

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/pkg/types"
)

func jan1(year int) time.Time {
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
}

func newTestDirectory(t *testing.T, years ...int) *Directory {
	t.Helper()
	d := NewDirectory(DefaultConfig())
	for _, y := range years {
		if _, err := d.AddPartition(y, nil); err != nil {
			t.Fatalf("AddPartition(%d): %v", y, err)
		}
	}
	return d
}

func TestRoute(t *testing.T) {
	d := newTestDirectory(t, 2025, 2023, 2024)
	p2023, p2024, p2025 := d.byYear[2023], d.byYear[2024], d.byYear[2025]

	tests := []struct {
		date time.Time
		want types.PartitionID
	}{
		{time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC), p2023},
		{time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), p2023},
		{jan1(2024), p2024},
		{time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), p2024},
		{time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), p2025},
		{jan1(2026), types.FallbackPartition},
		{jan1(2090), types.FallbackPartition},
	}
	for _, tt := range tests {
		if got := d.Route(tt.date); got != tt.want {
			t.Errorf("Route(%s) = %d, want %d", tt.date.Format(types.DateLayout), got, tt.want)
		}
	}
}

func TestRoute_NoBoundaries(t *testing.T) {
	d := NewDirectory(DefaultConfig())
	if got := d.Route(jan1(2024)); got != types.FallbackPartition {
		t.Errorf("Route() = %d, want fallback", got)
	}
	b, _ := d.Bounds(types.FallbackPartition)
	if b.Lower != math.MinInt || b.Upper != math.MaxInt {
		t.Errorf("fallback bounds = %v, want unbounded", b)
	}
}

func TestBounds(t *testing.T) {
	d := newTestDirectory(t, 2023, 2024, 2025)

	first, _ := d.Bounds(d.byYear[2023])
	if first.Lower != math.MinInt || first.Upper != 2024 {
		t.Errorf("first bounds = %v", first)
	}
	last, _ := d.Bounds(d.byYear[2025])
	if last.Lower != 2025 || last.Upper != 2026 {
		t.Errorf("last bounds = %v", last)
	}
	fb, _ := d.Bounds(types.FallbackPartition)
	if fb.Lower != 2026 || fb.Upper != math.MaxInt || !fb.Fallback {
		t.Errorf("fallback bounds = %v", fb)
	}
}

func TestAddPartition_Duplicate(t *testing.T) {
	d := newTestDirectory(t, 2024)
	_, err := d.AddPartition(2024, nil)
	if errors.GetCode(err) != errors.CodeConflict {
		t.Fatalf("got %v, want conflict", err)
	}
	if got := d.Boundaries(); len(got) != 1 || got[0] != 2024 {
		t.Errorf("Boundaries() = %v", got)
	}
}

func TestAddPartition_KeepsOrder(t *testing.T) {
	d := newTestDirectory(t, 2026, 2022, 2024, 2023)
	want := []int{2022, 2023, 2024, 2026}
	got := d.Boundaries()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Boundaries() = %v, want %v", got, want)
		}
	}
}

// Every date routes to exactly one partition, and that partition's bounds
// contain the date's year.
func TestRouteTotality_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("route is total and unique", prop.ForAll(
		func(boundaries []int, year int) bool {
			d := NewDirectory(DefaultConfig())
			for _, b := range boundaries {
				d.AddPartition(b, nil) // duplicates are rejected, which is fine here
			}

			routed := d.Route(jan1(year))
			matches := 0
			for _, id := range d.IDs() {
				b, ok := d.Bounds(id)
				if !ok {
					return false
				}
				if b.ContainsYear(year) {
					matches++
					if id != routed {
						return false
					}
				}
			}
			return matches == 1
		},
		gen.SliceOf(gen.IntRange(1990, 2060)),
		gen.IntRange(1900, 2100),
	))

	properties.TestingRun(t)
}
