/*
scheduler.go - Periodic balance migration

PURPOSE:
  Re-runs the balance migration on an interval so that employees who reached
  the directory without a lifecycle event (bulk imports, missed messages)
  still get a balance before their first read.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each pass is a full MigrationRunner.RunOnce; passes never overlap
  - A failed pass is logged and retried on the next tick
  - Stop cancels an in-flight pass and waits for it to return

CONFIGURATION:
  - Interval: How often to run (MIGRATION_INTERVAL, 0 disables)
  - RunOnStart: Whether to run immediately on Start

USAGE:
  scheduler := NewMigrationScheduler(svc.Migration, time.Hour, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunBalanceMigration endpoint (manual run)
  - leave/migration.go: MigrationRunner
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/leave-ledger/leave"
)

// Migrator is the part of leave.MigrationRunner the scheduler drives.
type Migrator interface {
	RunOnce(ctx context.Context) (leave.MigrationResult, error)
}

// MigrationScheduler runs the balance migration periodically.
type MigrationScheduler struct {
	Runner     Migrator
	Interval   time.Duration
	RunOnStart bool
	Logger     zerolog.Logger

	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex
}

// NewMigrationScheduler creates a new scheduler.
func NewMigrationScheduler(runner Migrator, interval time.Duration, logger zerolog.Logger) *MigrationScheduler {
	return &MigrationScheduler{
		Runner:     runner,
		Interval:   interval,
		RunOnStart: true,
		Logger:     logger.With().Str("component", "migration_scheduler").Logger(),
	}
}

// Start begins the scheduler. It is a no-op when Interval is not positive or
// the scheduler is already running.
func (ms *MigrationScheduler) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.Interval <= 0 {
		ms.Logger.Info().Msg("periodic balance migration disabled")
		return
	}
	if ms.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ms.cancel = cancel
	ms.ticker = time.NewTicker(ms.Interval)
	ms.wg.Add(1)

	go ms.run(ctx, ms.ticker)

	ms.Logger.Info().Dur("interval", ms.Interval).Msg("periodic balance migration started")
}

// Stop stops the scheduler and waits for an in-flight pass.
func (ms *MigrationScheduler) Stop() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.ticker == nil {
		return
	}
	ms.ticker.Stop()
	ms.cancel()
	ms.wg.Wait()
	ms.ticker = nil
	ms.cancel = nil
	ms.Logger.Info().Msg("periodic balance migration stopped")
}

func (ms *MigrationScheduler) run(ctx context.Context, ticker *time.Ticker) {
	defer ms.wg.Done()

	if ms.RunOnStart {
		ms.RunNow(ctx)
	}

	for {
		select {
		case <-ticker.C:
			ms.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one pass immediately. Concurrent calls are serialized.
func (ms *MigrationScheduler) RunNow(ctx context.Context) (leave.MigrationResult, error) {
	ms.runMu.Lock()
	defer ms.runMu.Unlock()

	result, err := ms.Runner.RunOnce(ctx)
	if err != nil {
		ms.Logger.Error().Err(err).Msg("scheduled balance migration failed")
		return result, err
	}
	return result, nil
}
