package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mooncourt/arcana/orchestrator"
	"github.com/mooncourt/arcana/realtime"
	"github.com/mooncourt/arcana/session"
	"github.com/mooncourt/arcana/spread"
	"github.com/mooncourt/arcana/storage"
)

type fakeEnqueuer struct {
	mu       sync.Mutex
	failNext int
	sessions []string
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("nats: no responders available for request")
	}
	f.sessions = append(f.sessions, sessionID)
	return nil
}

func (f *fakeEnqueuer) enqueued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sessions...)
}

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *storage.MemoryStore, *realtime.MemoryBroker, *fakeEnqueuer) {
	t.Helper()
	catalog, err := spread.NewCatalog("", nil)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	broker := realtime.NewMemoryBroker()
	enqueuer := &fakeEnqueuer{}
	orch := orchestrator.New(store, catalog, broker, enqueuer, orchestrator.Config{ReversedProbability: 0.3}, nil)
	return orch, store, broker, enqueuer
}

func TestStartSession_Validation(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		clientID string
		question string
		category session.Category
		spreadID string
	}{
		{name: "missing client", question: "q", category: session.CategoryGeneral, spreadID: "single-card"},
		{name: "missing question", clientID: "c", category: session.CategoryGeneral, spreadID: "single-card"},
		{name: "bad category", clientID: "c", question: "q", category: "astrology", spreadID: "single-card"},
		{name: "unknown spread", clientID: "c", question: "q", category: session.CategoryGeneral, spreadID: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orch.StartSession(ctx, tt.clientID, "", tt.question, tt.category, tt.spreadID)
			require.Error(t, err)
		})
	}
}

func TestStartSession_SizedToSpread(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)

	sess, err := orch.StartSession(context.Background(), "client-1", "reader-1", "What now?", session.CategoryLove, "past-present-future")
	require.NoError(t, err)
	assert.Len(t, sess.Slots, 3)
	assert.Equal(t, session.StatusActive, sess.Status)
	assert.Equal(t, "reader-1", sess.ReaderID)

	got, err := orch.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestOpenSlot_FullReadingFlow(t *testing.T) {
	orch, _, broker, enqueuer := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := orch.StartSession(ctx, "client-1", "", "q", session.CategoryGeneral, "past-present-future")
	require.NoError(t, err)

	events, cancel, err := broker.Subscribe(ctx, sess.ID)
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 3; i++ {
		result, err := orch.OpenSlot(ctx, sess.ID, "client-1", i)
		require.NoError(t, err)
		assert.Equal(t, i, result.Slot.Index)
		require.NotNil(t, result.Slot.Card)
		assert.Equal(t, i == 2, result.Completed)
	}

	// Three slot_opened events then one session_completed, sequences 1..4.
	var got []realtime.Event
	for len(got) < 4 {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatalf("only received %d events", len(got))
		}
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, realtime.EventSlotOpened, got[i].Kind)
		assert.Equal(t, uint64(i+1), got[i].Sequence)
		require.NotNil(t, got[i].Slot)
		assert.Equal(t, i, got[i].Slot.Index)
	}
	assert.Equal(t, realtime.EventSessionCompleted, got[3].Kind)
	assert.Equal(t, uint64(4), got[3].Sequence)

	assert.Equal(t, []string{sess.ID}, enqueuer.enqueued(), "completion enqueues exactly once")
}

func TestOpenSlot_OutOfOrderRejected(t *testing.T) {
	orch, _, _, enqueuer := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := orch.StartSession(ctx, "client-1", "", "q", session.CategoryGeneral, "past-present-future")
	require.NoError(t, err)

	_, err = orch.OpenSlot(ctx, sess.ID, "client-1", 2)
	require.ErrorIs(t, err, session.ErrOutOfOrder)

	got, err := orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cursor)
	assert.Empty(t, enqueuer.enqueued())
}

func TestOpenSlot_ConcurrentWriterLosesCAS(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := orch.StartSession(ctx, "client-1", "", "q", session.CategoryGeneral, "past-present-future")
	require.NoError(t, err)

	// Race two opens of the same slot; the conditional update lets exactly
	// one land.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = orch.OpenSlot(ctx, sess.ID, "client-1", 0)
		}(i)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		default:
			conflicted++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one racer may win the slot")
	assert.Equal(t, 1, conflicted)

	got, err := orch.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Cursor, "the slot opened exactly once")
}

func TestOpenSlot_RetryDrawsSameCard(t *testing.T) {
	orch, store, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := orch.StartSession(ctx, "client-1", "", "q", session.CategoryGeneral, "past-present-future")
	require.NoError(t, err)

	result, err := orch.OpenSlot(ctx, sess.ID, "client-1", 0)
	require.NoError(t, err)
	firstCard := result.Slot.Card.ID

	// Roll the session back to its pre-open state, as if the update had been
	// lost, and reopen: the deterministic deck must yield the same card.
	rolled := session.New("past-present-future", "client-1", "", "q", session.CategoryGeneral, 3)
	rolled.ID = sess.ID
	_, rev, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	_, err = store.UpdateSession(ctx, rolled, rev)
	require.NoError(t, err)

	retry, err := orch.OpenSlot(ctx, sess.ID, "client-1", 0)
	require.NoError(t, err)
	assert.Equal(t, firstCard, retry.Slot.Card.ID)
}

func TestAbandon_PublishesAndBlocksEnqueue(t *testing.T) {
	orch, _, broker, enqueuer := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := orch.StartSession(ctx, "client-1", "reader-1", "q", session.CategoryGeneral, "single-card")
	require.NoError(t, err)

	events, cancel, err := broker.Subscribe(ctx, sess.ID)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, orch.Abandon(ctx, sess.ID, "reader-1"))

	select {
	case e := <-events:
		assert.Equal(t, realtime.EventSessionAbandoned, e.Kind)
		assert.Equal(t, uint64(1), e.Sequence)
	case <-time.After(time.Second):
		t.Fatal("no abandoned event")
	}

	// No opening, no completion, no job.
	_, err = orch.OpenSlot(ctx, sess.ID, "client-1", 0)
	require.ErrorIs(t, err, session.ErrStateConflict)
	assert.Empty(t, enqueuer.enqueued())
}

func TestSubmitInterpretation(t *testing.T) {
	orch, store, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := orch.StartSession(ctx, "client-1", "reader-1", "q", session.CategoryGeneral, "single-card")
	require.NoError(t, err)

	// Active session: not yet.
	err = orch.SubmitInterpretation(ctx, sess.ID, "reader-1", "my reading")
	require.ErrorIs(t, err, session.ErrStateConflict)

	_, err = orch.OpenSlot(ctx, sess.ID, "client-1", 0)
	require.NoError(t, err)

	// Wrong actor.
	err = orch.SubmitInterpretation(ctx, sess.ID, "client-1", "my reading")
	require.ErrorIs(t, err, session.ErrStateConflict)

	// Empty body.
	err = orch.SubmitInterpretation(ctx, sess.ID, "reader-1", "  ")
	require.Error(t, err)

	require.NoError(t, orch.SubmitInterpretation(ctx, sess.ID, "reader-1", "my reading"))

	hi, err := store.GetInterpretation(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "reader-1", hi.ReaderID)
	assert.Equal(t, "my reading", hi.Body)
}

func TestEnqueueFailure_RecoversInBackground(t *testing.T) {
	catalog, err := spread.NewCatalog("", nil)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	enqueuer := &fakeEnqueuer{failNext: 1}
	orch := orchestrator.New(store, catalog, realtime.NewMemoryBroker(), enqueuer, orchestrator.Config{
		ReversedProbability: 0.3,
		EnqueueRetryDelay:   time.Millisecond,
	}, nil)
	ctx := context.Background()

	sess, err := orch.StartSession(ctx, "client-1", "", "q", session.CategoryGeneral, "single-card")
	require.NoError(t, err)

	// Completion succeeds even though the first enqueue fails.
	result, err := orch.OpenSlot(ctx, sess.ID, "client-1", 0)
	require.NoError(t, err)
	require.True(t, result.Completed)

	// The background loop retries until the enqueue lands.
	require.Eventually(t, func() bool {
		return len(enqueuer.enqueued()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{sess.ID}, enqueuer.enqueued())
}
