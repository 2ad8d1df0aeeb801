package cron

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"ctxkeep/pkg/state"
)

func newTestManager(t *testing.T) (*Manager, state.KV) {
	t.Helper()
	kv := state.NewFileStore(filepath.Join(t.TempDir(), "jobs.json"), nil)
	return New(nil, kv), kv
}

func TestRunNowRecordsRuns(t *testing.T) {
	manager, kv := newTestManager(t)
	ctx := context.Background()

	calls := 0
	err := manager.Add(Job{Name: "count", Schedule: "0 * * * *", Run: func(ctx context.Context) (map[string]any, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("second run fails")
		}
		return map[string]any{"calls": calls}, nil
	}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := manager.RunNow(ctx, "count"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := manager.RunNow(ctx, "count"); err == nil {
		t.Fatal("expected second run to fail")
	}

	rec, ok, err := state.LastRun(ctx, kv, "count")
	if err != nil || !ok {
		t.Fatalf("LastRun: ok=%v err=%v", ok, err)
	}
	if rec.Runs != 2 || rec.Failures != 1 || rec.LastError != "second run fails" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status) != 1 || status[0].LastRun == nil || status[0].NextRun.IsZero() {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestRunNowSkipsOverlap(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	err := manager.Add(Job{Name: "slow", Schedule: "@hourly", Run: func(ctx context.Context) (map[string]any, error) {
		close(started)
		<-release
		return nil, nil
	}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := manager.RunNow(ctx, "slow")
		done <- err
	}()
	<-started

	if _, err := manager.RunNow(ctx, "slow"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestAddRejectsBadJobs(t *testing.T) {
	manager, _ := newTestManager(t)
	noop := func(ctx context.Context) (map[string]any, error) { return nil, nil }

	if err := manager.Add(Job{Name: "bad", Schedule: "every now and then", Run: noop}); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	if err := manager.Add(Job{Schedule: "@daily", Run: noop}); err == nil {
		t.Fatal("expected missing name error")
	}
	if _, err := manager.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("expected unknown job error")
	}
}
