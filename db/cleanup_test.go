package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	d := newTestDatabase(t)
	repo := NewRepository(d, nil)

	old := &Run{ID: "old", StartedAt: time.Now().AddDate(0, 0, -40)}
	recent := &Run{ID: "recent", StartedAt: time.Now().AddDate(0, 0, -2)}
	for _, run := range []*Run{old, recent} {
		if err := repo.InsertRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		if err := repo.AddOutput(ctx, &RunOutput{RunID: run.ID, Side: "left", Prompt: "img", Index: 1, Path: run.ID + ".png"}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := d.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if result.RunsDeleted != 1 || result.OutputsDeleted != 1 {
		t.Errorf("result = %+v", result)
	}

	if _, err := repo.GetRun(ctx, "old"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("old run still present: %v", err)
	}
	if got, err := repo.GetRun(ctx, "recent"); err != nil || len(got.Outputs) != 1 {
		t.Errorf("recent run = %+v, %v", got, err)
	}
}

func TestCleanup_Validation(t *testing.T) {
	d := newTestDatabase(t)

	if _, err := d.Cleanup(context.Background(), -1); err == nil {
		t.Error("expected error for negative retention")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Cleanup(ctx, 30); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Cleanup() error = %v", err)
	}

	d.Close()
	if _, err := d.Cleanup(context.Background(), 30); !errors.Is(err, ErrClosed) {
		t.Errorf("closed Cleanup() error = %v", err)
	}
}

func TestStartCleanupScheduler(t *testing.T) {
	d := newTestDatabase(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan error, 4)
	d.StartCleanupScheduler(ctx, 30, time.Hour, func(r CleanupResult, err error) { results <- err })

	select {
	case err := <-results:
		if err != nil {
			t.Errorf("initial cleanup error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("initial cleanup did not run")
	}
}
