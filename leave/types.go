/*
Package leave provides the balance-ledger consistency engine for employee leave.

PURPOSE:
  Every employee owns exactly one leave Balance (a flat annual entitlement of
  12 days, applied once) and an append-only ledger of Transactions that consume
  or restore days. This package guarantees that the two stay consistent under
  concurrent requests and that reads never fail just because state is missing.

KEY CONCEPTS IN THIS FILE (types.go):
  - Balance: total entitlement and consumed days for one employee
  - Transaction: an immutable signed adjustment to consumed days
  - Cursor: the (timestamp, id) position used for history pagination
  - Summary / Page: read models returned to callers

INVARIANTS:
  1. Exactly one Balance per EmployeeID (enforced by the store, never by a
     read-then-insert pair in this package)
  2. Used is always the sum of the employee's transaction deltas
  3. 0 <= Used <= TotalEntitlement after every successful Apply
  4. History order is (Timestamp, ID) ascending

SEE ALSO:
  - store.go: persistence contract
  - initializer.go, reader.go, history.go, applier.go, migration.go
*/
package leave

import (
	"strings"
	"time"
)

// DefaultEntitlement is the flat number of days every new balance starts with.
const DefaultEntitlement = 12

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type TransactionID string

// Validate rejects empty or whitespace-only identifiers.
func (id EmployeeID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrInvalidEmployeeID
	}
	return nil
}

// =============================================================================
// BALANCE
// =============================================================================

// Balance is the per-employee entitlement record. Used is a cached aggregate of
// the employee's transactions and only changes through Store.AppendTransaction.
type Balance struct {
	EmployeeID       EmployeeID `json:"employee_id"`
	TotalEntitlement int        `json:"total_entitlement"`
	Used             int        `json:"used"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Corrupted reports whether Used has left the valid [0, TotalEntitlement] range.
func (b Balance) Corrupted() bool {
	return b.Used < 0 || b.Used > b.TotalEntitlement
}

// Available returns TotalEntitlement - Used, clamped to [0, TotalEntitlement].
func (b Balance) Available() int {
	available := b.TotalEntitlement - b.Used
	if available < 0 {
		return 0
	}
	if available > b.TotalEntitlement {
		return b.TotalEntitlement
	}
	return available
}

// CanApply reports whether delta keeps Used inside [0, TotalEntitlement].
func (b Balance) CanApply(delta int) bool {
	next := b.Used + delta
	return next >= 0 && next <= b.TotalEntitlement
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is an append-only ledger entry. Positive deltas consume days,
// negative deltas restore them.
type Transaction struct {
	ID         TransactionID `json:"id"`
	EmployeeID EmployeeID    `json:"employee_id"`
	Delta      int           `json:"delta"`
	Reason     string        `json:"reason"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Cursor returns the pagination position just after this transaction.
func (tx Transaction) Cursor() Cursor {
	return Cursor{Timestamp: tx.Timestamp, ID: tx.ID}
}

// Cursor identifies a position in an employee's history.
type Cursor struct {
	Timestamp time.Time
	ID        TransactionID
}

// Before reports whether c sorts strictly before other in history order.
func (c Cursor) Before(other Cursor) bool {
	if !c.Timestamp.Equal(other.Timestamp) {
		return c.Timestamp.Before(other.Timestamp)
	}
	return c.ID < other.ID
}

// =============================================================================
// READ MODELS
// =============================================================================

// Summary is the balance view handed to the API layer.
type Summary struct {
	EmployeeID EmployeeID `json:"employee_id"`
	Total      int        `json:"total"`
	Used       int        `json:"used"`
	Available  int        `json:"available"`
}

// Page is one slice of an employee's history. Items is never nil.
type Page struct {
	Items         []Transaction `json:"items"`
	NextPageToken string        `json:"next_page_token"`
}
