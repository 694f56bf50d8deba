/*
store.go - Persistence contract for balances and transactions

PURPOSE:
  Defines the boundary between the engine and the database. All concurrency
  guarantees of the engine are pushed down into two atomic store operations,
  so the engine holds no in-process locks and stays correct across multiple
  process instances.

ATOMIC OPERATIONS:
  CreateBalanceIfAbsent:
    Insert-or-get in ONE statement, backed by a uniqueness constraint on
    employee_id. Losers of a creation race re-read the winner's row and
    report created=false. A unique violation is never surfaced as an error.

  AppendTransaction:
    Inserts the transaction AND moves used from expectedUsed to
    expectedUsed+delta as one unit, conditional on the stored used value.
    If the condition fails nothing is written and ErrConcurrentModification
    is returned.

APPEND-ONLY:
  Transactions are never updated. The only delete path is
  DeleteEmployeeLedger, reachable solely through the "purge" retention policy
  after an employee has been removed.

IMPLEMENTATIONS:
  - leave/store/memory.go: in-memory, for tests and local runs
  - store/sqlite: SQLite (ON CONFLICT DO NOTHING + conditional UPDATE)
  - store/postgres: PostgreSQL via pgx
  - store/mongo: MongoDB (unique index + upsert, session transactions)
*/
package leave

import (
	"context"
	"time"
)

// Store persists balances and the transaction ledger.
type Store interface {
	// GetBalance returns nil, nil when the employee has no balance yet.
	GetBalance(ctx context.Context, id EmployeeID) (*Balance, error)

	// CreateBalanceIfAbsent atomically inserts a balance with used=0 or returns
	// the existing one. created is true only for the caller whose insert won.
	CreateBalanceIfAbsent(ctx context.Context, id EmployeeID, entitlement int, createdAt time.Time) (b Balance, created bool, err error)

	// AppendTransaction writes tx and sets used = expectedUsed + tx.Delta
	// atomically, provided the stored used still equals expectedUsed.
	// Returns the updated balance or ErrConcurrentModification.
	AppendTransaction(ctx context.Context, tx Transaction, expectedUsed int) (Balance, error)

	// ListTransactions returns up to limit transactions strictly after the
	// cursor (nil = from the beginning), ordered by (timestamp, id). The
	// returned slice is empty, never nil, when there is nothing to return.
	ListTransactions(ctx context.Context, id EmployeeID, after *Cursor, limit int) ([]Transaction, error)

	// DeleteEmployeeLedger removes the balance and all transactions.
	DeleteEmployeeLedger(ctx context.Context, id EmployeeID) error
}

// Directory enumerates known employees. It is the employee collaborator the
// migration runner scans.
type Directory interface {
	ListEmployeeIDs(ctx context.Context) ([]EmployeeID, error)
}

// Registry is a Directory that the lifecycle hook can keep in sync with
// employee creation and removal events.
type Registry interface {
	Directory
	RegisterEmployee(ctx context.Context, id EmployeeID) error
	RemoveEmployee(ctx context.Context, id EmployeeID) error
}
