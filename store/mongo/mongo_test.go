package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/leave"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

// AppendTransaction needs a replica-set session and is not covered by the
// mock deployment; these tests pin the single-document operations.

var createdAt = time.Date(2025, time.January, 2, 9, 0, 0, 0, time.UTC)

func balanceDocD(id string, total, used int) bson.D {
	return bson.D{
		{Key: "employee_id", Value: id},
		{Key: "total_entitlement", Value: total},
		{Key: "used", Value: used},
		{Key: "created_at_us", Value: createdAt.UnixMicro()},
	}
}

func newMockTest(t *testing.T) *mtest.T {
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

func TestStore_GetBalance(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("found", func(mt *mtest.T) {
		s := New(mt.Client, mt.DB, zerolog.Nop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "leave.balances", mtest.FirstBatch, balanceDocD("emp-1", 12, 4)))

		b, err := s.GetBalance(context.Background(), "emp-1")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, leave.Balance{EmployeeID: "emp-1", TotalEntitlement: 12, Used: 4, CreatedAt: createdAt}, *b)
	})

	mt.Run("not found", func(mt *mtest.T) {
		s := New(mt.Client, mt.DB, zerolog.Nop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "leave.balances", mtest.FirstBatch))

		b, err := s.GetBalance(context.Background(), "emp-1")
		require.NoError(t, err)
		assert.Nil(t, b)
	})

	mt.Run("server error", func(mt *mtest.T) {
		s := New(mt.Client, mt.DB, zerolog.Nop())
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 2, Name: "BadValue", Message: "bad value",
		}))

		_, err := s.GetBalance(context.Background(), "emp-1")
		assert.ErrorIs(t, err, leave.ErrStoreUnavailable)
	})
}

func TestStore_CreateBalanceIfAbsent(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("inserted", func(mt *mtest.T) {
		// GIVEN: The upsert reports no pre-image
		s := New(mt.Client, mt.DB, zerolog.Nop())
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))

		b, created, err := s.CreateBalanceIfAbsent(context.Background(), "emp-1", 12, createdAt)

		// THEN: This call created the balance
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 12, b.TotalEntitlement)
		assert.Equal(t, 0, b.Used)
		assert.True(t, createdAt.Equal(b.CreatedAt))
	})

	mt.Run("already exists", func(mt *mtest.T) {
		s := New(mt.Client, mt.DB, zerolog.Nop())
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: balanceDocD("emp-1", 12, 7)}))

		b, created, err := s.CreateBalanceIfAbsent(context.Background(), "emp-1", 12, createdAt)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 7, b.Used)
	})

	mt.Run("duplicate key reads winner", func(mt *mtest.T) {
		// GIVEN: A concurrent upsert won the unique index
		s := New(mt.Client, mt.DB, zerolog.Nop())
		mt.AddMockResponses(
			mtest.CreateCommandErrorResponse(mtest.CommandError{
				Code: 11000, Name: "DuplicateKey", Message: "E11000 duplicate key error",
			}),
			mtest.CreateCursorResponse(0, "leave.balances", mtest.FirstBatch, balanceDocD("emp-1", 12, 0)),
		)

		b, created, err := s.CreateBalanceIfAbsent(context.Background(), "emp-1", 12, createdAt)

		// THEN: No error surfaces, the winner's row is returned
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, leave.EmployeeID("emp-1"), b.EmployeeID)
	})
}

func TestStore_ListTransactions(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("decodes in order", func(mt *mtest.T) {
		s := New(mt.Client, mt.DB, zerolog.Nop())
		later := createdAt.Add(time.Second)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "leave.transactions", mtest.FirstBatch,
			bson.D{
				{Key: "_id", Value: "tx-1"}, {Key: "employee_id", Value: "emp-1"},
				{Key: "delta", Value: 3}, {Key: "reason", Value: "trip"}, {Key: "ts_us", Value: createdAt.UnixMicro()},
			},
			bson.D{
				{Key: "_id", Value: "tx-2"}, {Key: "employee_id", Value: "emp-1"},
				{Key: "delta", Value: -1}, {Key: "reason", Value: ""}, {Key: "ts_us", Value: later.UnixMicro()},
			},
		))

		txs, err := s.ListTransactions(context.Background(), "emp-1", &leave.Cursor{Timestamp: createdAt.Add(-time.Hour), ID: "tx-0"}, 10)
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, leave.TransactionID("tx-1"), txs[0].ID)
		assert.Equal(t, "trip", txs[0].Reason)
		assert.Equal(t, -1, txs[1].Delta)
		assert.True(t, later.Equal(txs[1].Timestamp))
	})

	mt.Run("empty", func(mt *mtest.T) {
		s := New(mt.Client, mt.DB, zerolog.Nop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "leave.transactions", mtest.FirstBatch))

		txs, err := s.ListTransactions(context.Background(), "emp-1", nil, 10)
		require.NoError(t, err)
		assert.NotNil(t, txs)
		assert.Empty(t, txs)
	})
}

func TestStore_DeleteEmployeeLedger(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("deletes both collections", func(mt *mtest.T) {
		s := New(mt.Client, mt.DB, zerolog.Nop())
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
		)

		assert.NoError(t, s.DeleteEmployeeLedger(context.Background(), "emp-1"))
	})
}

func TestStore_Registry(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("register and list", func(mt *mtest.T) {
		s := New(mt.Client, mt.DB, zerolog.Nop())
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, "leave.employees", mtest.FirstBatch,
				bson.D{{Key: "_id", Value: "emp-1"}},
				bson.D{{Key: "_id", Value: "emp-2"}},
			),
		)

		require.NoError(t, s.RegisterEmployee(context.Background(), "emp-1"))
		ids, err := s.ListEmployeeIDs(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []leave.EmployeeID{"emp-1", "emp-2"}, ids)
	})
}
