/*
applier.go - Validated transaction application

PURPOSE:
  Moves a balance from used=k to used=k+delta and records the transaction,
  rejecting deltas that would leave [0, total_entitlement].

STATE MACHINE (per employee):
  absent --ensure--> initialized(used=0) --apply--> initialized(used=k)
  There is no terminal state while the employee exists.

CONFLICTS:
  The store write is conditional on the used value we validated against.
  If another writer got there first the store reports
  ErrConcurrentModification, we re-read and re-validate. After
  Options.MaxApplyAttempts the conflict is surfaced as a transient error.

  Two concurrent +1 applications on used=0 therefore end at used=2, never 1.
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Applier records leave consumption and restoration.
type Applier struct {
	Store       Store
	Initializer *Initializer
	Options     Options
	Logger      zerolog.Logger
}

// Apply appends a transaction with the given delta. Positive deltas consume
// days, negative ones restore them. The balance is created first if needed.
func (a *Applier) Apply(ctx context.Context, id EmployeeID, delta int, reason string) (Transaction, Balance, error) {
	if err := id.Validate(); err != nil {
		return Transaction{}, Balance{}, err
	}
	if delta == 0 {
		return Transaction{}, Balance{}, ErrInvalidDelta
	}
	opts := a.Options.withDefaults()
	reason = strings.TrimSpace(reason)

	for attempt := 1; ; attempt++ {
		b, err := a.Initializer.EnsureBalance(ctx, id)
		if err != nil {
			return Transaction{}, Balance{}, err
		}

		if !b.CanApply(delta) {
			return Transaction{}, b, &QuotaViolationError{
				EmployeeID: id,
				Total:      b.TotalEntitlement,
				Used:       b.Used,
				Delta:      delta,
			}
		}

		tx := Transaction{
			ID:         newTransactionID(),
			EmployeeID: id,
			Delta:      delta,
			Reason:     reason,
			Timestamp:  opts.now(),
		}

		updated, err := a.append(ctx, opts, tx, b.Used)
		if err == nil {
			a.Logger.Debug().
				Str("employee_id", string(id)).
				Str("transaction_id", string(tx.ID)).
				Int("delta", delta).
				Int("used", updated.Used).
				Msg("applied transaction")
			return tx, updated, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return Transaction{}, Balance{}, Unavailable("append transaction", err)
		}
		if attempt >= opts.MaxApplyAttempts {
			a.Logger.Warn().
				Str("employee_id", string(id)).
				Int("attempts", attempt).
				Msg("giving up after repeated balance conflicts")
			return Transaction{}, Balance{}, fmt.Errorf("%w: %w after %d attempts",
				ErrStoreUnavailable, ErrConcurrentModification, attempt)
		}

		if err := sleepCtx(ctx, opts.RetryBackoff*time.Duration(attempt)); err != nil {
			return Transaction{}, Balance{}, Unavailable("append transaction", err)
		}
	}
}

func (a *Applier) append(ctx context.Context, opts Options, tx Transaction, expectedUsed int) (Balance, error) {
	cctx, cancel := opts.storeCtx(ctx)
	defer cancel()
	return a.Store.AppendTransaction(cctx, tx, expectedUsed)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
