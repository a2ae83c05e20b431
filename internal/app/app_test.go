package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arkilian/bookingstore/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 5 * time.Second
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.Partitions.Boundaries = []int{2024, 2025}
	cfg.Indexes.AutoCreate = false
	return cfg
}

func openApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return a
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.NodeID = 4096
	if _, err := New(cfg, "test"); err == nil {
		t.Fatal("expected error for out of range node_id")
	}
}

func TestStatePersistsAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)

	a := openApp(t, cfg)
	body, _ := json.Marshal(map[string]interface{}{
		"id":          "b-1",
		"subject_id":  "u1",
		"resource_id": "r1",
		"range_start": "2024-08-01",
		"range_end":   "2024-08-05",
		"amount":      "250",
	})
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/bookings", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, body %s", rec.Code, rec.Body.String())
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b := openApp(t, cfg)
	defer b.Close(context.Background())

	got, err := b.Engine().Get(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("Get after restart failed: %v", err)
	}
	if got.SubjectID != "u1" || got.RangeStart.Year() != 2024 {
		t.Errorf("restored booking = %+v", got)
	}
	sum, err := b.Engine().SubjectSummary("u1")
	if err != nil {
		t.Fatalf("SubjectSummary failed: %v", err)
	}
	if sum.Count != 1 || sum.Total.String() != "250" {
		t.Errorf("summary = count %d total %s, want 1 and 250", sum.Count, sum.Total)
	}
	if n := len(b.Engine().ListPartitions()); n != 3 {
		t.Errorf("partitions after restart = %d, want 3", n)
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	a, err := New(testConfig(t), "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after the context ended")
	}
}
