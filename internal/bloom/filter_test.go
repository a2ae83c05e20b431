package bloom

import (
	"fmt"
	"testing"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("subject-%d", i))
	}
	for i := 0; i < 1000; i++ {
		if !f.MayContain(fmt.Sprintf("subject-%d", i)) {
			t.Fatalf("false negative for subject-%d", i)
		}
	}
	if f.Count() != 1000 {
		t.Errorf("Count() = %d, want 1000", f.Count())
	}
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("in-%d", i))
	}
	fp := 0
	for i := 0; i < 10000; i++ {
		if f.MayContain(fmt.Sprintf("out-%d", i)) {
			fp++
		}
	}
	// generous margin over the 1% target
	if rate := float64(fp) / 10000; rate > 0.05 {
		t.Errorf("false positive rate %.3f too high", rate)
	}
	if f.EstimatedFPR() <= 0 || f.EstimatedFPR() > 0.05 {
		t.Errorf("EstimatedFPR() = %f", f.EstimatedFPR())
	}
}

func TestOptimalParameters(t *testing.T) {
	bits, hashes := OptimalParameters(1000, 0.01)
	if bits < 9000 || bits > 10000 {
		t.Errorf("bits = %d, want about 9586", bits)
	}
	if hashes != 7 {
		t.Errorf("hashes = %d, want 7", hashes)
	}
	bits, hashes = OptimalParameters(0, 2)
	if bits < 64 || hashes < 1 {
		t.Errorf("defaults not applied: %d bits, %d hashes", bits, hashes)
	}
}

func TestSet(t *testing.T) {
	s := NewSet([]string{"subject_id"}, 100, 0.01)
	s.Add("subject_id", "alice")
	s.Add("status", "pending")

	if !s.MayContain("subject_id", "alice") {
		t.Error("expected alice to be present")
	}
	if !s.MayContain("status", "anything") {
		t.Error("untracked fields should always answer true")
	}
	if !s.Tracks("subject_id") || s.Tracks("status") {
		t.Error("Tracks mismatch")
	}
}
