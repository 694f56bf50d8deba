package leave

import (
	"context"

	"github.com/rs/zerolog"
)

// =============================================================================
// BALANCE READER - Self-healing reads
// =============================================================================

// BalanceReader answers "how many days does this employee have left?".
//
// Reads are self-healing: an employee without a balance gets one created on
// the spot instead of a not-found error. A corrupted balance (used outside
// [0, total]) is logged as a data-integrity warning and clamped, never failed.
type BalanceReader struct {
	Initializer *Initializer
	Logger      zerolog.Logger
}

// GetAvailable returns total_entitlement - used, clamped at 0.
func (r *BalanceReader) GetAvailable(ctx context.Context, id EmployeeID) (int, error) {
	s, err := r.GetSummary(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.Available, nil
}

// GetSummary returns total, used and available days for the employee.
func (r *BalanceReader) GetSummary(ctx context.Context, id EmployeeID) (Summary, error) {
	b, err := r.Initializer.EnsureBalance(ctx, id)
	if err != nil {
		return Summary{}, err
	}

	if b.Corrupted() {
		r.Logger.Warn().
			Str("employee_id", string(id)).
			Int("total", b.TotalEntitlement).
			Int("used", b.Used).
			Msg("data integrity: used outside entitlement range, clamping available")
	}

	return Summary{
		EmployeeID: id,
		Total:      b.TotalEntitlement,
		Used:       b.Used,
		Available:  b.Available(),
	}, nil
}
