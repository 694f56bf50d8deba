package leave_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/leave/store"
)

func TestGetHistory_NewEmployeeIsEmpty(t *testing.T) {
	svc, _ := newTestService(t, leave.Options{})

	page, err := svc.History.GetHistory(context.Background(), "emp-new", 10, "")
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextPageToken)
}

func TestGetHistory_PaginationIsStableAcrossAppends(t *testing.T) {
	// GIVEN: Five transactions
	svc, _ := newTestService(t, leave.Options{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, err := svc.Applier.Apply(ctx, "emp-1", 1, "")
		require.NoError(t, err)
	}

	// WHEN: Page 1 is fetched, a new transaction lands, then the rest is fetched
	page1, err := svc.History.GetHistory(ctx, "emp-1", 2, "")
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	require.NotEmpty(t, page1.NextPageToken)

	_, _, err = svc.Applier.Apply(ctx, "emp-1", 1, "late")
	require.NoError(t, err)

	page2, err := svc.History.GetHistory(ctx, "emp-1", 2, page1.NextPageToken)
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)

	page3, err := svc.History.GetHistory(ctx, "emp-1", 2, page2.NextPageToken)
	require.NoError(t, err)
	require.Len(t, page3.Items, 2)

	// THEN: No duplicates, no gaps, the late transaction comes last
	var all []leave.Transaction
	all = append(all, page1.Items...)
	all = append(all, page2.Items...)
	all = append(all, page3.Items...)

	seen := map[leave.TransactionID]bool{}
	for i, tx := range all {
		assert.False(t, seen[tx.ID], "duplicate %s", tx.ID)
		seen[tx.ID] = true
		if i > 0 {
			assert.True(t, all[i-1].Cursor().Before(tx.Cursor()), "out of order at %d", i)
		}
	}
	assert.Len(t, seen, 6)
	assert.Equal(t, "late", all[5].Reason)
	assert.Empty(t, page3.NextPageToken)
}

func TestGetHistory_ExactPageHasNoToken(t *testing.T) {
	svc, _ := newTestService(t, leave.Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := svc.Applier.Apply(ctx, "emp-1", 1, "")
		require.NoError(t, err)
	}

	page, err := svc.History.GetHistory(ctx, "emp-1", 3, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Empty(t, page.NextPageToken)
}

func TestGetHistory_TiedTimestampsOrderByID(t *testing.T) {
	// GIVEN: A frozen clock so every transaction shares a timestamp
	frozen := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, leave.Options{Now: func() time.Time { return frozen }})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _, err := svc.Applier.Apply(ctx, "emp-1", 1, "")
		require.NoError(t, err)
	}

	// WHEN: Paging one at a time
	var ids []leave.TransactionID
	token := ""
	for {
		page, err := svc.History.GetHistory(ctx, "emp-1", 1, token)
		require.NoError(t, err)
		for _, tx := range page.Items {
			ids = append(ids, tx.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	// THEN: Every transaction is returned once, ascending by ID
	require.Len(t, ids, 4)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, string(ids[i-1]), string(ids[i]))
	}
}

func TestGetHistory_DoesNotDependOnBalance(t *testing.T) {
	// GIVEN: Balance reads fail but the ledger is readable
	mem := store.NewMemory()
	fs := &faultyStore{Memory: mem}
	svc := leave.NewService(fs, nil, leave.Options{}, zerolog.Nop())
	ctx := context.Background()
	_, _, err := svc.Applier.Apply(ctx, "emp-1", 2, "")
	require.NoError(t, err)
	fs.failGet = true

	// WHEN/THEN: History is still served
	page, err := svc.History.GetHistory(ctx, "emp-1", 0, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestGetHistory_StoreFailureIsTransient(t *testing.T) {
	fs := &faultyStore{Memory: store.NewMemory(), failList: true}
	svc := leave.NewService(fs, nil, leave.Options{}, zerolog.Nop())

	_, err := svc.History.GetHistory(context.Background(), "emp-1", 0, "")
	assert.ErrorIs(t, err, leave.ErrStoreUnavailable)
}

func TestGetHistory_InvalidToken(t *testing.T) {
	svc, _ := newTestService(t, leave.Options{})

	tokens := []string{
		"%%%",
		base64.RawURLEncoding.EncodeToString([]byte("no-colon")),
		base64.RawURLEncoding.EncodeToString([]byte("abc:tx-1")),
		base64.RawURLEncoding.EncodeToString([]byte("123:")),
	}
	for _, tok := range tokens {
		_, err := svc.History.GetHistory(context.Background(), "emp-1", 10, tok)
		assert.ErrorIs(t, err, leave.ErrInvalidPageToken, "token %q", tok)
	}
}

func TestPageToken_RoundTrip(t *testing.T) {
	c := leave.Cursor{
		Timestamp: time.Date(2025, time.February, 3, 4, 5, 6, 789000, time.UTC),
		ID:        "0190b3c2-7a1e-7c3d-9f00-000000000001",
	}

	got, err := leave.DecodePageToken(leave.EncodePageToken(c))
	require.NoError(t, err)
	assert.True(t, c.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, c.ID, got.ID)
}
