package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sensorqa/internal/model"
	"sensorqa/internal/report"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "data", "sensorqa.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRun(started time.Time, statuses ...model.Status) *RunRecord {
	tests := make([]model.TestResult, len(statuses))
	for i, s := range statuses {
		tests[i] = model.TestResult{TestName: "uptime", Status: s}
	}
	sensors := []model.SensorResult{{
		Hostname:   "S1",
		Address:    "10.8.0.1",
		Categories: []model.CategoryResult{{Category: "system", Tests: tests}},
	}}
	return &RunRecord{
		Trigger: TriggerCLI,
		Report:  *report.New("", "nightly", started, started.Add(time.Minute), sensors, nil),
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := testRun(time.Now(), model.StatusPassed, model.StatusFailed)
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if run.ID == "" || run.Report.RunID != run.ID {
		t.Fatalf("run id not assigned: %+v", run)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Report.Summary.Passed != 1 || got.Report.Summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", got.Report.Summary)
	}
	if len(got.Report.Sensors) != 1 || got.Report.Sensors[0].Hostname != "S1" {
		t.Fatalf("unexpected sensors %+v", got.Report.Sensors)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		if err := store.SaveRun(ctx, testRun(base.Add(time.Duration(i)*time.Minute), model.StatusPassed)); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(ctx, RunFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs", len(runs))
	}
	if !runs[0].StartedAt.After(runs[1].StartedAt) || !runs[1].StartedAt.After(runs[2].StartedAt) {
		t.Fatal("runs not newest first")
	}
	if !runs[0].OK {
		t.Fatal("passing run should be OK")
	}

	limited, err := store.ListRuns(ctx, RunFilters{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit ignored: %d", len(limited))
	}

	since := base.Add(90 * time.Second)
	recent, err := store.ListRuns(ctx, RunFilters{Since: &since})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Fatalf("since filter: got %d", len(recent))
	}
}

func TestSensorHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.SaveRun(ctx, testRun(now.Add(-2*time.Hour), model.StatusFailed)); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRun(ctx, testRun(now.Add(-time.Minute), model.StatusPassed)); err != nil {
		t.Fatal(err)
	}

	history, err := store.GetSensorHistory(ctx, "S1", now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Passed != 1 {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestDeleteRunsBefore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := testRun(now.Add(-48*time.Hour), model.StatusPassed)
	fresh := testRun(now.Add(-time.Hour), model.StatusPassed)
	for _, r := range []*RunRecord{old, fresh} {
		if err := store.SaveRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.DeleteRunsBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d runs", n)
	}
	if _, err := store.GetRun(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("old run should be gone")
	}
	if _, err := store.GetRun(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh run should remain: %v", err)
	}

	stats, err := store.GetDatabaseStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRuns != 1 || stats.TotalHistorySize != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCompactDatabase(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := testRun(time.Now(), model.StatusPassed)
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := store.CompactDatabase(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetRun(ctx, run.ID); err != nil {
		t.Fatalf("run lost after compaction: %v", err)
	}
}
