/*
migration.go - One-shot balance reconciliation

PURPOSE:
  Finds every employee in the directory that lacks a balance and initializes
  it through the same EnsureBalance primitive the request path uses.

RE-RUNNABLE:
  First run over 5 fresh employees:  {scanned: 5, created: 5, skipped: 0}
  Immediate second run:              {scanned: 5, created: 0, skipped: 5}

PARTIAL FAILURE:
  Employees are processed independently on a bounded ants pool. A failure
  for one employee is recorded in Failures and the batch continues; every
  successful initialization is already committed by the store.

DRY RUN:
  RunOptions.DryRun counts employees that WOULD be created without writing.
*/
package leave

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// MigrationFailure records one employee the runner could not initialize.
type MigrationFailure struct {
	EmployeeID EmployeeID
	Err        error
}

// MigrationResult summarizes one run. It is returned by value; the runner
// keeps no counters between runs.
type MigrationResult struct {
	Scanned  int
	Created  int
	Skipped  int
	Failed   int
	DryRun   bool
	Failures []MigrationFailure
	Duration time.Duration
}

// RunOptions tunes a single run.
type RunOptions struct {
	DryRun bool
}

// MigrationRunner initializes missing balances for every known employee.
type MigrationRunner struct {
	Directory   Directory
	Initializer *Initializer

	// Concurrency is the worker pool size. 1 processes employees sequentially.
	Concurrency int
	Options     Options
	Logger      zerolog.Logger
}

// RunOnce performs a full, writing reconciliation pass.
func (m *MigrationRunner) RunOnce(ctx context.Context) (MigrationResult, error) {
	return m.Run(ctx, RunOptions{})
}

// Run scans the directory and ensures a balance for each employee. The only
// error it returns is a failure to list employees; per-employee failures are
// reported in the result.
func (m *MigrationRunner) Run(ctx context.Context, opts RunOptions) (MigrationResult, error) {
	start := time.Now()

	lctx, cancel := m.Options.withDefaults().storeCtx(ctx)
	ids, err := m.Directory.ListEmployeeIDs(lctx)
	cancel()
	if err != nil {
		return MigrationResult{}, fmt.Errorf("list employees: %w", Unavailable("list employees", err))
	}

	size := m.Concurrency
	if size <= 0 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("create migration pool: %w", err)
	}
	defer pool.Release()

	result := MigrationResult{Scanned: len(ids), DryRun: opts.DryRun}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(id EmployeeID, created bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			result.Failures = append(result.Failures, MigrationFailure{EmployeeID: id, Err: err})
		case created:
			result.Created++
		default:
			result.Skipped++
		}
	}

	for _, id := range ids {
		id := id
		wg.Add(1)
		task := func() {
			defer wg.Done()
			created, err := m.process(ctx, id, opts)
			record(id, created, err)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			record(id, false, err)
		}
	}
	wg.Wait()

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].EmployeeID < result.Failures[j].EmployeeID
	})
	result.Failed = len(result.Failures)
	result.Duration = time.Since(start)

	for _, f := range result.Failures {
		m.Logger.Error().Err(f.Err).Str("employee_id", string(f.EmployeeID)).Msg("balance migration failed for employee")
	}
	m.Logger.Info().
		Int("scanned", result.Scanned).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Bool("dry_run", result.DryRun).
		Dur("duration", result.Duration).
		Msg("balance migration finished")

	return result, nil
}

// process returns created=true when the employee lacked a balance (and, unless
// dry-running, now has one).
func (m *MigrationRunner) process(ctx context.Context, id EmployeeID, opts RunOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if opts.DryRun {
		exists, err := m.Initializer.Exists(ctx, id)
		return !exists, err
	}
	_, created, err := m.Initializer.Ensure(ctx, id)
	return created, err
}
