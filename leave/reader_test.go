package leave_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/leave"
)

func TestGetAvailable_SelfHealsMissingBalance(t *testing.T) {
	// GIVEN: An employee nobody initialized
	svc, mem := newTestService(t, leave.Options{})
	ctx := context.Background()

	// WHEN: Their balance is read
	available, err := svc.Balances.GetAvailable(ctx, "emp-legacy")

	// THEN: The read succeeds with the default and the row now exists
	require.NoError(t, err)
	assert.Equal(t, 12, available)

	b, err := mem.GetBalance(ctx, "emp-legacy")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 0, b.Used)
}

func TestGetSummary_ReflectsTransactions(t *testing.T) {
	svc, _ := newTestService(t, leave.Options{})
	ctx := context.Background()
	_, _, err := svc.Applier.Apply(ctx, "emp-1", 4, "")
	require.NoError(t, err)

	s, err := svc.Balances.GetSummary(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, leave.Summary{EmployeeID: "emp-1", Total: 12, Used: 4, Available: 8}, s)
}

func TestGetSummary_CorruptedBalanceIsClamped(t *testing.T) {
	tests := []struct {
		name      string
		used      int
		available int
	}{
		{"overdrawn", 15, 0},
		{"negative used", -3, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: A balance whose used left [0, total] outside the engine
			svc, mem := newTestService(t, leave.Options{})
			ctx := context.Background()
			_, err := svc.Initializer.EnsureBalance(ctx, "emp-1")
			require.NoError(t, err)
			mem.SetUsed("emp-1", tt.used)

			// WHEN: It is read
			s, err := svc.Balances.GetSummary(ctx, "emp-1")

			// THEN: No error, used reported as stored, available clamped
			require.NoError(t, err)
			assert.Equal(t, tt.used, s.Used)
			assert.Equal(t, tt.available, s.Available)
		})
	}
}
