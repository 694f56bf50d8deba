package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/leave/store"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.pending) > 0 {
			msg := r.pending[0]
			r.pending = r.pending[1:]
			r.mu.Unlock()
			return msg, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	offsets := make([]int64, 0, len(r.committed))
	for _, m := range r.committed {
		offsets = append(offsets, m.Offset)
	}
	return offsets
}

type failingHandler struct {
	err error
}

func (h failingHandler) EmployeeCreated(context.Context, leave.EmployeeID) (leave.Balance, error) {
	return leave.Balance{}, h.err
}

func (h failingHandler) EmployeeRemoved(context.Context, leave.EmployeeID) error {
	return h.err
}

func newLifecycle(t *testing.T, retention leave.RetentionPolicy) (*leave.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := leave.NewService(mem, mem, leave.Options{Retention: retention}, zerolog.Nop())
	return svc, mem
}

func message(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: "hr.employee.lifecycle.v1", Offset: offset, Value: []byte(value)}
}

func TestHandleMessage_EmployeeCreated(t *testing.T) {
	// GIVEN: An empty ledger
	svc, mem := newLifecycle(t, leave.RetainLedger)
	c := NewConsumerWithReader(&fakeReader{}, svc.Lifecycle, zerolog.Nop())
	ctx := context.Background()

	// WHEN: The same created event is delivered twice
	msg := message(1, `{"event_type":"employee_created","employee_id":"emp-7","occurred_at":"2025-01-02T09:00:00Z"}`)
	require.NoError(t, c.HandleMessage(ctx, msg))
	require.NoError(t, c.HandleMessage(ctx, msg))

	// THEN: One balance with the full entitlement, one directory entry
	b, err := mem.GetBalance(ctx, "emp-7")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, leave.DefaultEntitlement, b.TotalEntitlement)
	assert.Equal(t, 0, b.Used)

	ids, err := mem.ListEmployeeIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []leave.EmployeeID{"emp-7"}, ids)
}

func TestHandleMessage_EmployeeRemovedPurges(t *testing.T) {
	svc, mem := newLifecycle(t, leave.PurgeLedger)
	c := NewConsumerWithReader(&fakeReader{}, svc.Lifecycle, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.HandleMessage(ctx, message(1, `{"event_type":"employee_created","employee_id":"emp-1"}`)))
	_, _, err := svc.Applier.Apply(ctx, "emp-1", 2, "trip")
	require.NoError(t, err)

	require.NoError(t, c.HandleMessage(ctx, message(2, `{"event_type":"employee_removed","employee_id":"emp-1"}`)))

	b, err := mem.GetBalance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Nil(t, b)
	txs, err := mem.ListTransactions(ctx, "emp-1", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestHandleMessage_FallsBackToKey(t *testing.T) {
	svc, mem := newLifecycle(t, leave.RetainLedger)
	c := NewConsumerWithReader(&fakeReader{}, svc.Lifecycle, zerolog.Nop())

	msg := message(1, `{"event_type":"employee_created"}`)
	msg.Key = []byte("emp-key")
	require.NoError(t, c.HandleMessage(context.Background(), msg))

	b, err := mem.GetBalance(context.Background(), "emp-key")
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestHandleMessage_PoisonMessagesAreDropped(t *testing.T) {
	c := NewConsumerWithReader(&fakeReader{}, failingHandler{err: errors.New("must not be called")}, zerolog.Nop())

	tests := []struct {
		name  string
		value string
	}{
		{"not json", `{{{`},
		{"unknown type", `{"event_type":"employee_promoted","employee_id":"emp-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, c.HandleMessage(context.Background(), message(1, tt.value)))
		})
	}

	t.Run("missing employee id", func(t *testing.T) {
		svc, _ := newLifecycle(t, leave.RetainLedger)
		c := NewConsumerWithReader(&fakeReader{}, svc.Lifecycle, zerolog.Nop())
		assert.NoError(t, c.HandleMessage(context.Background(), message(1, `{"event_type":"employee_created"}`)))
	})
}

func TestHandleMessage_TransientErrorIsReturned(t *testing.T) {
	storeErr := leave.Unavailable("create balance", errors.New("connection refused"))
	c := NewConsumerWithReader(&fakeReader{}, failingHandler{err: storeErr}, zerolog.Nop())

	err := c.HandleMessage(context.Background(), message(1, `{"event_type":"employee_created","employee_id":"emp-1"}`))
	assert.ErrorIs(t, err, leave.ErrStoreUnavailable)
}

func TestRun_CommitsProcessedMessages(t *testing.T) {
	// GIVEN: A created event, a poison message and a removal
	svc, mem := newLifecycle(t, leave.RetainLedger)
	reader := &fakeReader{pending: []kafka.Message{
		message(10, `{"event_type":"employee_created","employee_id":"emp-1"}`),
		message(11, `not json`),
		message(12, `{"event_type":"employee_removed","employee_id":"emp-1"}`),
	}}
	c := NewConsumerWithReader(reader, svc.Lifecycle, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// WHEN: All three are consumed
	require.Eventually(t, func() bool {
		return len(reader.committedOffsets()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	// THEN: Offsets committed in order, the retained balance survives removal
	assert.NoError(t, <-done)
	assert.Equal(t, []int64{10, 11, 12}, reader.committedOffsets())

	b, err := mem.GetBalance(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.NotNil(t, b)
	ids, err := mem.ListEmployeeIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRun_FailedMessageIsNotCommitted(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{
		message(1, `{"event_type":"employee_created","employee_id":"emp-1"}`),
	}}
	c := NewConsumerWithReader(reader, failingHandler{err: leave.ErrStoreUnavailable}, zerolog.Nop())
	c.retryBackoff = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, c.Run(ctx))
	assert.Empty(t, reader.committedOffsets())
}

func TestConsumer_Close(t *testing.T) {
	reader := &fakeReader{}
	c := NewConsumerWithReader(reader, failingHandler{}, zerolog.Nop())

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}

// flakyHandler fails the first N calls for each listed employee.
type flakyHandler struct {
	mu       sync.Mutex
	failures map[leave.EmployeeID]int
	calls    []leave.EmployeeID
}

func (h *flakyHandler) EmployeeCreated(_ context.Context, id leave.EmployeeID) (leave.Balance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, id)
	if h.failures[id] > 0 {
		h.failures[id]--
		return leave.Balance{}, leave.Unavailable("create balance", errors.New("connection reset"))
	}
	return leave.Balance{EmployeeID: id, TotalEntitlement: leave.DefaultEntitlement}, nil
}

func (h *flakyHandler) EmployeeRemoved(context.Context, leave.EmployeeID) error {
	return nil
}

func (h *flakyHandler) callLog() []leave.EmployeeID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]leave.EmployeeID(nil), h.calls...)
}

func TestRun_FailedMessageIsRetriedBeforeNextOffset(t *testing.T) {
	// GIVEN: emp-1 fails once, emp-2 succeeds
	reader := &fakeReader{pending: []kafka.Message{
		message(1, `{"event_type":"employee_created","employee_id":"emp-1"}`),
		message(2, `{"event_type":"employee_created","employee_id":"emp-2"}`),
	}}
	handler := &flakyHandler{failures: map[leave.EmployeeID]int{"emp-1": 1}}
	c := NewConsumerWithReader(reader, handler, zerolog.Nop())
	c.retryBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// WHEN: Both offsets are committed
	require.Eventually(t, func() bool {
		return len(reader.committedOffsets()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// THEN: emp-1 was retried in place before emp-2 was handled
	assert.Equal(t, []leave.EmployeeID{"emp-1", "emp-1", "emp-2"}, handler.callLog())
	assert.Equal(t, []int64{1, 2}, reader.committedOffsets())
}
