package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/leave/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// stepClock returns a Now func that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var (
		mu  sync.Mutex
		cur = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func newTestService(t *testing.T, opts leave.Options) (*leave.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	if opts.Now == nil {
		opts.Now = stepClock(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	}
	return leave.NewService(mem, mem, opts, zerolog.Nop()), mem
}

var errBoom = errors.New("connection refused")

// faultyStore wraps a Memory store and injects failures.
type faultyStore struct {
	*store.Memory

	failGet     bool
	failCreate  map[leave.EmployeeID]bool
	alwaysStale bool
	failList    bool

	mu          sync.Mutex
	appendCalls int
}

func (f *faultyStore) GetBalance(ctx context.Context, id leave.EmployeeID) (*leave.Balance, error) {
	if f.failGet {
		return nil, errBoom
	}
	return f.Memory.GetBalance(ctx, id)
}

func (f *faultyStore) CreateBalanceIfAbsent(ctx context.Context, id leave.EmployeeID, entitlement int, createdAt time.Time) (leave.Balance, bool, error) {
	if f.failCreate[id] {
		return leave.Balance{}, false, errBoom
	}
	return f.Memory.CreateBalanceIfAbsent(ctx, id, entitlement, createdAt)
}

func (f *faultyStore) AppendTransaction(ctx context.Context, tx leave.Transaction, expectedUsed int) (leave.Balance, error) {
	f.mu.Lock()
	f.appendCalls++
	f.mu.Unlock()
	if f.alwaysStale {
		return leave.Balance{}, leave.ErrConcurrentModification
	}
	return f.Memory.AppendTransaction(ctx, tx, expectedUsed)
}

func (f *faultyStore) ListTransactions(ctx context.Context, id leave.EmployeeID, after *leave.Cursor, limit int) ([]leave.Transaction, error) {
	if f.failList {
		return nil, errBoom
	}
	return f.Memory.ListTransactions(ctx, id, after, limit)
}

// hangingStore blocks the selected directory and purge calls until their
// context ends, like a database that stopped answering.
type hangingStore struct {
	*store.Memory

	hangRegister bool
	hangRemove   bool
	hangDelete   bool
	hangList     bool
}

func waitDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (h *hangingStore) RegisterEmployee(ctx context.Context, id leave.EmployeeID) error {
	if h.hangRegister {
		return waitDone(ctx)
	}
	return h.Memory.RegisterEmployee(ctx, id)
}

func (h *hangingStore) RemoveEmployee(ctx context.Context, id leave.EmployeeID) error {
	if h.hangRemove {
		return waitDone(ctx)
	}
	return h.Memory.RemoveEmployee(ctx, id)
}

func (h *hangingStore) DeleteEmployeeLedger(ctx context.Context, id leave.EmployeeID) error {
	if h.hangDelete {
		return waitDone(ctx)
	}
	return h.Memory.DeleteEmployeeLedger(ctx, id)
}

func (h *hangingStore) ListEmployeeIDs(ctx context.Context) ([]leave.EmployeeID, error) {
	if h.hangList {
		return nil, waitDone(ctx)
	}
	return h.Memory.ListEmployeeIDs(ctx)
}
