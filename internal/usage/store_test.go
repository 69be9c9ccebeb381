package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []Record{
		{Timestamp: now, Tool: "search", ServiceID: "brave", DurationMS: 120, OK: true},
		{Timestamp: now, Tool: "search", ServiceID: "brave", DurationMS: 80, OK: true},
		{Timestamp: now, Tool: "read_file", ServiceID: "fs", DurationMS: 5, OK: false, Error: "no such file"},
	}
	for i, rec := range records {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	sum, err := s.Summary(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d, want 3", sum.TotalCalls)
	}
	if sum.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d, want 1", sum.TotalErrors)
	}
	if sum.TotalDurationMS != 205 {
		t.Errorf("TotalDurationMS = %d, want 205", sum.TotalDurationMS)
	}
}

func TestStore_SummaryWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := Record{Timestamp: now.Add(-2 * time.Hour), Tool: "search", ServiceID: "brave", OK: true}
	recent := Record{Timestamp: now, Tool: "search", ServiceID: "brave", OK: true}
	for _, rec := range []Record{old, recent} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCalls != 1 {
		t.Errorf("TotalCalls = %d, want 1 (window excludes the old record)", sum.TotalCalls)
	}
}

func TestStore_ByTool(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if err := s.Record(ctx, Record{Timestamp: now, Tool: "search", ServiceID: "brave", OK: true}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := s.Record(ctx, Record{Timestamp: now, Tool: "read_file", ServiceID: "fs", OK: false, Error: "denied"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	byTool, err := s.ByTool(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ByTool: %v", err)
	}
	if len(byTool) != 2 {
		t.Fatalf("got %d tool summaries, want 2", len(byTool))
	}

	// Ordered by call count descending.
	if byTool[0].Tool != "search" || byTool[0].Calls != 3 || byTool[0].Errors != 0 {
		t.Errorf("byTool[0] = %+v", byTool[0])
	}
	if byTool[1].Tool != "read_file" || byTool[1].Calls != 1 || byTool[1].Errors != 1 {
		t.Errorf("byTool[1] = %+v", byTool[1])
	}
	if byTool[1].ServiceID != "fs" {
		t.Errorf("ServiceID = %q, want fs", byTool[1].ServiceID)
	}
}

func TestStore_GeneratesIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two records without explicit IDs must not collide.
	for i := 0; i < 2; i++ {
		if err := s.Record(ctx, Record{Tool: "t", ServiceID: "s", OK: true}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	sum, err := s.Summary(time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCalls != 2 {
		t.Errorf("TotalCalls = %d, want 2", sum.TotalCalls)
	}
}
