// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-ledger/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements leave.Store and leave.Registry. The mutex plays the role
// of the database's row-level atomicity; the engine above it holds no locks.
type Memory struct {
	mu           sync.RWMutex
	balances     map[leave.EmployeeID]leave.Balance
	transactions map[leave.EmployeeID][]leave.Transaction
	employees    map[leave.EmployeeID]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		balances:     make(map[leave.EmployeeID]leave.Balance),
		transactions: make(map[leave.EmployeeID][]leave.Transaction),
		employees:    make(map[leave.EmployeeID]struct{}),
	}
}

func (m *Memory) GetBalance(_ context.Context, id leave.EmployeeID) (*leave.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// CreateBalanceIfAbsent inserts or returns the existing balance under one lock.
func (m *Memory) CreateBalanceIfAbsent(_ context.Context, id leave.EmployeeID, entitlement int, createdAt time.Time) (leave.Balance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.balances[id]; ok {
		return b, false, nil
	}
	b := leave.Balance{EmployeeID: id, TotalEntitlement: entitlement, CreatedAt: createdAt}
	m.balances[id] = b
	return b, true, nil
}

// AppendTransaction compares used and appends in one critical section.
func (m *Memory) AppendTransaction(_ context.Context, tx leave.Transaction, expectedUsed int) (leave.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.balances[tx.EmployeeID]
	if !ok || b.Used != expectedUsed {
		return leave.Balance{}, leave.ErrConcurrentModification
	}

	txs := m.transactions[tx.EmployeeID]
	// Binary search for insertion point keeps the slice in history order.
	i := sort.Search(len(txs), func(i int) bool {
		return tx.Cursor().Before(txs[i].Cursor())
	})
	txs = append(txs, leave.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.EmployeeID] = txs

	b.Used = expectedUsed + tx.Delta
	m.balances[tx.EmployeeID] = b
	return b, nil
}

func (m *Memory) ListTransactions(_ context.Context, id leave.EmployeeID, after *leave.Cursor, limit int) ([]leave.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := m.transactions[id]
	start := 0
	if after != nil {
		start = sort.Search(len(txs), func(i int) bool {
			return after.Before(txs[i].Cursor())
		})
	}
	end := len(txs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	result := make([]leave.Transaction, end-start)
	copy(result, txs[start:end])
	return result, nil
}

func (m *Memory) DeleteEmployeeLedger(_ context.Context, id leave.EmployeeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.balances, id)
	delete(m.transactions, id)
	return nil
}

// =============================================================================
// REGISTRY
// =============================================================================

func (m *Memory) RegisterEmployee(_ context.Context, id leave.EmployeeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[id] = struct{}{}
	return nil
}

func (m *Memory) RemoveEmployee(_ context.Context, id leave.EmployeeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.employees, id)
	return nil
}

// ListEmployeeIDs returns registered employees sorted by ID.
func (m *Memory) ListEmployeeIDs(_ context.Context) ([]leave.EmployeeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]leave.EmployeeID, 0, len(m.employees))
	for id := range m.employees {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// SetUsed overwrites used without a transaction. It exists to simulate
// corrupted data in tests and has no counterpart in durable stores.
func (m *Memory) SetUsed(id leave.EmployeeID, used int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[id]; ok {
		b.Used = used
		m.balances[id] = b
	}
}
