package leave

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// =============================================================================
// RETENTION POLICY - What happens to a removed employee's ledger
// =============================================================================

// RetentionPolicy decides the fate of a balance and its history once the
// employee is removed from the directory.
type RetentionPolicy string

const (
	// RetainLedger keeps the balance and transactions untouched.
	RetainLedger RetentionPolicy = "retain"

	// PurgeLedger deletes the balance and all transactions.
	PurgeLedger RetentionPolicy = "purge"
)

// ParseRetentionPolicy accepts "retain" or "purge" (case-insensitive).
func ParseRetentionPolicy(s string) (RetentionPolicy, error) {
	switch p := RetentionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case RetainLedger, PurgeLedger:
		return p, nil
	case "":
		return RetainLedger, nil
	default:
		return "", fmt.Errorf("unknown retention policy %q (want retain or purge)", s)
	}
}

// =============================================================================
// LIFECYCLE - Employee directory hook
// =============================================================================

// Lifecycle reacts to employee directory events so that new employees get a
// balance proactively instead of lazily on first read.
type Lifecycle struct {
	Initializer *Initializer
	Store       Store
	Registry    Registry // optional
	Retention   RetentionPolicy
	Options     Options
	Logger      zerolog.Logger
}

// EmployeeCreated registers the employee and initializes their balance.
// Replaying the same event is harmless.
func (l *Lifecycle) EmployeeCreated(ctx context.Context, id EmployeeID) (Balance, error) {
	if err := id.Validate(); err != nil {
		return Balance{}, err
	}
	if l.Registry != nil {
		if err := l.withStoreCtx(ctx, func(cctx context.Context) error {
			return l.Registry.RegisterEmployee(cctx, id)
		}); err != nil {
			return Balance{}, Unavailable("register employee", err)
		}
	}
	return l.Initializer.EnsureBalance(ctx, id)
}

// EmployeeRemoved drops the employee from the directory and applies the
// configured retention policy to their ledger.
func (l *Lifecycle) EmployeeRemoved(ctx context.Context, id EmployeeID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if l.Registry != nil {
		if err := l.withStoreCtx(ctx, func(cctx context.Context) error {
			return l.Registry.RemoveEmployee(cctx, id)
		}); err != nil {
			return Unavailable("remove employee", err)
		}
	}

	switch l.Retention {
	case PurgeLedger:
		if err := l.withStoreCtx(ctx, func(cctx context.Context) error {
			return l.Store.DeleteEmployeeLedger(cctx, id)
		}); err != nil {
			return Unavailable("purge ledger", err)
		}
		l.Logger.Info().Str("employee_id", string(id)).Msg("purged leave ledger for removed employee")
	default:
		l.Logger.Info().Str("employee_id", string(id)).Msg("retained leave ledger for removed employee")
	}
	return nil
}

// withStoreCtx runs one store call under the configured store timeout.
func (l *Lifecycle) withStoreCtx(ctx context.Context, fn func(ctx context.Context) error) error {
	cctx, cancel := l.Options.withDefaults().storeCtx(ctx)
	defer cancel()
	return fn(cctx)
}
