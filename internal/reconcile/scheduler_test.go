package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aidosk/pointsledger/internal/ledger"
)

func newTestScheduler(t *testing.T, rig *testRig) *Scheduler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(rig.rec, rig.store, rig.clk, log)
}

// startScheduler starts the loop and registers cleanup that stops it
func startScheduler(t *testing.T, sched *Scheduler, ctx context.Context) {
	t.Helper()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
}

func TestSchedulerRunsImmediatelyThenOnInterval(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	sched := newTestScheduler(t, rig)

	startScheduler(t, sched, context.Background())

	// The first pass runs before any sleep; the loop then parks on the
	// clock with the configured interval.
	rig.clk.WaitForTimers(1)
	if got := rig.fake.Reads(); got != 1 {
		t.Fatalf("reads after start = %d, want 1 immediate pass", got)
	}

	rig.clk.Advance(10 * time.Second) // default interval
	rig.clk.WaitForTimers(1)
	if got := rig.fake.Reads(); got != 2 {
		t.Fatalf("reads after one interval = %d, want 2", got)
	}
}

func TestSchedulerSkipsPassesWhileDisabled(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	enabled := false
	if _, err := rig.store.UpdateSettings(context.Background(), &ledger.SettingsPatch{SyncEnabled: &enabled}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	sched := newTestScheduler(t, rig)

	startScheduler(t, sched, context.Background())
	rig.clk.WaitForTimers(1)
	if got := rig.fake.Reads(); got != 0 {
		t.Fatalf("reads while disabled = %d, want 0", got)
	}

	// Re-enabling takes effect on the next tick, no restart needed.
	enabled = true
	if _, err := rig.store.UpdateSettings(context.Background(), &ledger.SettingsPatch{SyncEnabled: &enabled}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	rig.clk.Advance(10 * time.Second)
	rig.clk.WaitForTimers(1)
	if got := rig.fake.Reads(); got != 1 {
		t.Fatalf("reads after re-enable = %d, want 1", got)
	}
}

func TestSchedulerSurvivesPassFailures(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.fake.FailRead = errors.New("backend unavailable")
	sched := newTestScheduler(t, rig)

	startScheduler(t, sched, context.Background())
	rig.clk.WaitForTimers(1)

	settings, _ := rig.store.GetSettings(context.Background())
	if settings.SyncStats.FailedSyncs != 1 {
		t.Fatalf("FailedSyncs = %d, want 1", settings.SyncStats.FailedSyncs)
	}

	// The loop retries after the short error delay, not the interval.
	rig.clk.Advance(errorRetryDelay)
	rig.clk.WaitForTimers(1)
	settings, _ = rig.store.GetSettings(context.Background())
	if settings.SyncStats.FailedSyncs != 2 {
		t.Fatalf("FailedSyncs after retry = %d, want 2", settings.SyncStats.FailedSyncs)
	}

	// Clearing the fault heals the loop on the next tick.
	rig.fake.FailRead = nil
	rig.clk.Advance(errorRetryDelay)
	rig.clk.WaitForTimers(1)
	settings, _ = rig.store.GetSettings(context.Background())
	if settings.SyncStats.SuccessfulSyncs != 1 {
		t.Fatalf("SuccessfulSyncs after heal = %d, want 1", settings.SyncStats.SuccessfulSyncs)
	}
	if sched.State() != StateRunning {
		t.Fatal("scheduler died from pass failures")
	}
}

func TestSchedulerStartStopStates(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	sched := newTestScheduler(t, rig)

	if sched.State() != StateStopped {
		t.Fatalf("initial state = %v, want stopped", sched.State())
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("stopping a stopped scheduler errored: %v", err)
	}

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sched.State() != StateRunning {
		t.Fatalf("state after start = %v, want running", sched.State())
	}
	if err := sched.Start(context.Background()); err == nil {
		t.Fatal("double start did not error")
	}

	rig.clk.WaitForTimers(1)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sched.State() != StateStopped {
		t.Fatalf("state after stop = %v, want stopped", sched.State())
	}
}
