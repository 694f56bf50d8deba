/*
initializer.go - Idempotent default balance assignment

PURPOSE:
  EnsureBalance guarantees that an employee has exactly one balance row,
  seeding it with the default entitlement the first time it is needed.

CONCURRENCY:
  The fast path is a plain read. When the row is missing, creation goes
  through Store.CreateBalanceIfAbsent, which is atomic in every backend.
  K concurrent callers therefore produce one row, and all K receive the
  same Balance value: the winner's insert, re-read by the losers.

  No mutex: two processes racing on the same employee are resolved by the
  database, not by memory.

ELIGIBILITY:
  The initializer does not decide whether an employee should have leave.
  Callers (lifecycle hook, balance reader, migration runner) own that.
*/
package leave

import (
	"context"

	"github.com/rs/zerolog"
)

// Initializer ensures a balance exists for an employee.
type Initializer struct {
	Store   Store
	Options Options
	Logger  zerolog.Logger
}

// EnsureBalance returns the employee's balance, creating it with
// TotalEntitlement=Options.Entitlement and Used=0 when absent. An existing
// balance is returned unchanged.
func (in *Initializer) EnsureBalance(ctx context.Context, id EmployeeID) (Balance, error) {
	b, _, err := in.Ensure(ctx, id)
	return b, err
}

// Ensure is EnsureBalance that also reports whether this call created the row.
func (in *Initializer) Ensure(ctx context.Context, id EmployeeID) (Balance, bool, error) {
	if err := id.Validate(); err != nil {
		return Balance{}, false, err
	}
	opts := in.Options.withDefaults()

	existing, err := in.getBalance(ctx, opts, id)
	if err != nil {
		return Balance{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	cctx, cancel := opts.storeCtx(ctx)
	defer cancel()
	b, created, err := in.Store.CreateBalanceIfAbsent(cctx, id, opts.Entitlement, opts.now())
	if err != nil {
		in.Logger.Error().Err(err).Str("employee_id", string(id)).Msg("failed to create balance")
		return Balance{}, false, Unavailable("create balance", err)
	}

	if created {
		in.Logger.Info().
			Str("employee_id", string(id)).
			Int("entitlement", b.TotalEntitlement).
			Msg("initialized leave balance")
	}
	return b, created, nil
}

// Exists reports whether the employee already has a balance, without creating one.
func (in *Initializer) Exists(ctx context.Context, id EmployeeID) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	b, err := in.getBalance(ctx, in.Options.withDefaults(), id)
	return b != nil, err
}

func (in *Initializer) getBalance(ctx context.Context, opts Options, id EmployeeID) (*Balance, error) {
	cctx, cancel := opts.storeCtx(ctx)
	defer cancel()
	b, err := in.Store.GetBalance(cctx, id)
	if err != nil {
		return nil, Unavailable("get balance", err)
	}
	return b, nil
}
