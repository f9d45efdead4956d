package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aidosk/pointsledger/internal/config"
	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/pkg/clock"
)

// errorRetryDelay is how long the loop sleeps after a failed iteration
// instead of the full sync interval.
const errorRetryDelay = 5 * time.Second

// State of the background loop
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Scheduler owns the background reconciliation task: an explicit
// handle with Stopped/Running state rather than a floating goroutine.
// The loop reads settings each iteration, so toggling sync or changing
// the interval takes effect without a restart, and it never dies from
// a bad pass: errors are logged, counted, and retried after a short
// delay.
type Scheduler struct {
	reconciler *Reconciler
	store      ledger.Store
	clk        clock.Clock
	log        *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler
func NewScheduler(reconciler *Reconciler, store ledger.Store, clk clock.Clock, log *slog.Logger) *Scheduler {
	return &Scheduler{reconciler: reconciler, store: store, clk: clk, log: log}
}

// State reports whether the background loop is running
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the background loop. The first iteration runs
// immediately; subsequent ones follow the configured interval.
// Starting a running scheduler is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return errors.New("scheduler already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning

	s.log.Info("background sync loop starting")
	go s.loop(loopCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for it to exit. Cancellation is
// observed between sleeps and at the next suspend point of an
// in-flight pass; ctx bounds how long Stop itself waits.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("failed to stop sync loop: %w", ctx.Err())
	}

	s.mu.Lock()
	s.state = StateStopped
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	s.log.Info("background sync loop stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		delay := s.iterate(ctx)
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(delay):
		}
	}
}

// iterate runs one loop body and returns how long to sleep before the
// next one.
func (s *Scheduler) iterate(ctx context.Context) time.Duration {
	if ctx.Err() != nil {
		return errorRetryDelay
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		s.log.Error("sync loop failed to read settings", "error", err)
		return errorRetryDelay
	}

	interval := time.Duration(clampInterval(settings.SyncInterval)) * time.Second
	if !settings.SyncEnabled {
		return interval
	}

	if _, err := s.reconciler.SyncAll(ctx, ModeBidirectional); err != nil {
		if errors.Is(err, context.Canceled) {
			return errorRetryDelay
		}
		s.log.Error("scheduled sync failed", "error", err)
		return errorRetryDelay
	}
	return interval
}

// clampInterval keeps a persisted interval inside the allowed bounds,
// guarding against documents written before validation existed.
func clampInterval(seconds int) int {
	if seconds < config.MinSyncInterval {
		return config.MinSyncInterval
	}
	if seconds > config.MaxSyncInterval {
		return config.MaxSyncInterval
	}
	return seconds
}
