/*
Package leavetest holds the behavioral contract every leave.Store must meet.

USAGE:
  func TestStoreContract(t *testing.T) {
      leavetest.RunStoreSuite(t, func(t *testing.T) leave.Store {
          s, err := sqlite.New(":memory:")
          require.NoError(t, err)
          t.Cleanup(func() { s.Close() })
          return s
      })
  }

Stores that also implement leave.Registry get the directory checks too.
*/
package leavetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/leave"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) leave.Store

var base = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

func tx(id string, emp leave.EmployeeID, delta int, at time.Time) leave.Transaction {
	return leave.Transaction{
		ID:         leave.TransactionID(id),
		EmployeeID: emp,
		Delta:      delta,
		Reason:     "test",
		Timestamp:  at,
	}
}

// RunStoreSuite runs the contract against stores produced by newStore.
func RunStoreSuite(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("GetBalance_Absent", func(t *testing.T) {
		s := newStore(t)
		b, err := s.GetBalance(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, b)
	})

	t.Run("CreateBalanceIfAbsent_Idempotent", func(t *testing.T) {
		s := newStore(t)

		first, created, err := s.CreateBalanceIfAbsent(ctx, "emp-1", 12, base)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 12, first.TotalEntitlement)
		assert.Equal(t, 0, first.Used)

		// A second call with a different entitlement must not overwrite.
		second, created, err := s.CreateBalanceIfAbsent(ctx, "emp-1", 30, base.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 12, second.TotalEntitlement)
		assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

		stored, err := s.GetBalance(ctx, "emp-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, 12, stored.TotalEntitlement)
	})

	t.Run("CreateBalanceIfAbsent_ConcurrentCallers", func(t *testing.T) {
		s := newStore(t)
		const callers = 16

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			results []leave.Balance
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				b, c, err := s.CreateBalanceIfAbsent(ctx, "emp-race", 12, base.Add(time.Duration(i)*time.Microsecond))
				assert.NoError(t, err)

				mu.Lock()
				defer mu.Unlock()
				if c {
					created++
				}
				results = append(results, b)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, created, "exactly one caller wins the insert")
		require.Len(t, results, callers)
		for _, b := range results {
			assert.Equal(t, results[0].TotalEntitlement, b.TotalEntitlement)
			assert.Equal(t, results[0].Used, b.Used)
			assert.True(t, results[0].CreatedAt.Equal(b.CreatedAt))
		}
	})

	t.Run("AppendTransaction_UpdatesUsed", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.CreateBalanceIfAbsent(ctx, "emp-1", 12, base)
		require.NoError(t, err)

		b, err := s.AppendTransaction(ctx, tx("tx-1", "emp-1", 3, base.Add(time.Second)), 0)
		require.NoError(t, err)
		assert.Equal(t, 3, b.Used)

		b, err = s.AppendTransaction(ctx, tx("tx-2", "emp-1", -1, base.Add(2*time.Second)), 3)
		require.NoError(t, err)
		assert.Equal(t, 2, b.Used)

		stored, err := s.GetBalance(ctx, "emp-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, 2, stored.Used)
	})

	t.Run("AppendTransaction_StaleExpectedUsed", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.CreateBalanceIfAbsent(ctx, "emp-1", 12, base)
		require.NoError(t, err)
		_, err = s.AppendTransaction(ctx, tx("tx-1", "emp-1", 2, base.Add(time.Second)), 0)
		require.NoError(t, err)

		_, err = s.AppendTransaction(ctx, tx("tx-2", "emp-1", 1, base.Add(2*time.Second)), 0)
		assert.ErrorIs(t, err, leave.ErrConcurrentModification)

		// Nothing from the rejected write is visible.
		stored, err := s.GetBalance(ctx, "emp-1")
		require.NoError(t, err)
		assert.Equal(t, 2, stored.Used)
		txs, err := s.ListTransactions(ctx, "emp-1", nil, 10)
		require.NoError(t, err)
		assert.Len(t, txs, 1)
	})

	t.Run("AppendTransaction_NoBalance", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AppendTransaction(ctx, tx("tx-1", "ghost", 1, base), 0)
		assert.ErrorIs(t, err, leave.ErrConcurrentModification)
	})

	t.Run("ListTransactions_Empty", func(t *testing.T) {
		s := newStore(t)
		txs, err := s.ListTransactions(ctx, "emp-1", nil, 10)
		require.NoError(t, err)
		assert.NotNil(t, txs)
		assert.Empty(t, txs)
	})

	t.Run("ListTransactions_OrderAndCursor", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.CreateBalanceIfAbsent(ctx, "emp-1", 12, base)
		require.NoError(t, err)
		_, _, err = s.CreateBalanceIfAbsent(ctx, "emp-2", 12, base)
		require.NoError(t, err)

		// tx-b and tx-c share a timestamp; ID breaks the tie.
		used := 0
		for _, item := range []leave.Transaction{
			tx("tx-a", "emp-1", 1, base.Add(1*time.Second)),
			tx("tx-c", "emp-1", 1, base.Add(2*time.Second)),
			tx("tx-b", "emp-1", 1, base.Add(2*time.Second)),
			tx("tx-d", "emp-1", 1, base.Add(3*time.Second)),
		} {
			_, err := s.AppendTransaction(ctx, item, used)
			require.NoError(t, err)
			used++
		}
		_, err = s.AppendTransaction(ctx, tx("tx-other", "emp-2", 1, base), 0)
		require.NoError(t, err)

		all, err := s.ListTransactions(ctx, "emp-1", nil, 10)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, []leave.TransactionID{"tx-a", "tx-b", "tx-c", "tx-d"}, ids(all))
		assert.True(t, all[0].Timestamp.Equal(base.Add(time.Second)))
		assert.Equal(t, "test", all[0].Reason)

		firstTwo, err := s.ListTransactions(ctx, "emp-1", nil, 2)
		require.NoError(t, err)
		assert.Equal(t, []leave.TransactionID{"tx-a", "tx-b"}, ids(firstTwo))

		cursor := firstTwo[1].Cursor()
		rest, err := s.ListTransactions(ctx, "emp-1", &cursor, 10)
		require.NoError(t, err)
		assert.Equal(t, []leave.TransactionID{"tx-c", "tx-d"}, ids(rest))
	})

	t.Run("DeleteEmployeeLedger", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.CreateBalanceIfAbsent(ctx, "emp-1", 12, base)
		require.NoError(t, err)
		_, err = s.AppendTransaction(ctx, tx("tx-1", "emp-1", 4, base), 0)
		require.NoError(t, err)

		require.NoError(t, s.DeleteEmployeeLedger(ctx, "emp-1"))

		b, err := s.GetBalance(ctx, "emp-1")
		require.NoError(t, err)
		assert.Nil(t, b)
		txs, err := s.ListTransactions(ctx, "emp-1", nil, 10)
		require.NoError(t, err)
		assert.Empty(t, txs)

		// Deleting again is not an error.
		assert.NoError(t, s.DeleteEmployeeLedger(ctx, "emp-1"))
	})

	t.Run("Registry", func(t *testing.T) {
		s := newStore(t)
		reg, ok := s.(leave.Registry)
		if !ok {
			t.Skip("store does not implement leave.Registry")
		}

		for i := 3; i >= 1; i-- {
			require.NoError(t, reg.RegisterEmployee(ctx, leave.EmployeeID(fmt.Sprintf("emp-%d", i))))
		}
		require.NoError(t, reg.RegisterEmployee(ctx, "emp-1"))

		got, err := reg.ListEmployeeIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []leave.EmployeeID{"emp-1", "emp-2", "emp-3"}, got)

		require.NoError(t, reg.RemoveEmployee(ctx, "emp-2"))
		got, err = reg.ListEmployeeIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []leave.EmployeeID{"emp-1", "emp-3"}, got)
	})
}

func ids(txs []leave.Transaction) []leave.TransactionID {
	out := make([]leave.TransactionID, len(txs))
	for i, t := range txs {
		out[i] = t.ID
	}
	return out
}
