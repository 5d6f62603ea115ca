package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mooncourt/arcana/insight"
	"github.com/mooncourt/arcana/storage"
)

// fakeJetStream records published triggers and can fail a number of publishes
// first. The embedded interface covers the methods Enqueue never touches.
type fakeJetStream struct {
	jetstream.JetStream

	mu       sync.Mutex
	failNext int
	subjects []string
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, _ []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("nats: no responders available for request")
	}
	f.subjects = append(f.subjects, subject)
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.subjects))}, nil
}

func (f *fakeJetStream) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

func TestEnqueue_CreatesJobAndPublishes(t *testing.T) {
	store := storage.NewMemoryStore()
	js := &fakeJetStream{}
	enq := NewEnqueuer(store, js, nil)
	ctx := context.Background()

	require.NoError(t, enq.Enqueue(ctx, "sess-1"))

	job, err := store.GetJob(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, insight.JobQueued, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.False(t, job.EnqueuedAt.IsZero())

	assert.Equal(t, []string{TriggerSubject("sess-1")}, js.published())
}

func TestEnqueue_NoOpOnceDelivered(t *testing.T) {
	store := storage.NewMemoryStore()
	js := &fakeJetStream{}
	enq := NewEnqueuer(store, js, nil)
	ctx := context.Background()

	require.NoError(t, enq.Enqueue(ctx, "sess-1"))

	// A worker has picked the job up; the trigger is accounted for.
	job, err := store.GetJob(ctx, "sess-1")
	require.NoError(t, err)
	job.Attempts = 1
	require.NoError(t, store.PutJob(ctx, job))

	require.NoError(t, enq.Enqueue(ctx, "sess-1"), "re-enqueue is a no-op, not an error")
	require.NoError(t, enq.Enqueue(ctx, "sess-1"))

	assert.Len(t, js.published(), 1, "a job with a delivery behind it never gets another trigger")
}

func TestEnqueue_PublishFailureHealsOnRetry(t *testing.T) {
	store := storage.NewMemoryStore()
	js := &fakeJetStream{failNext: 1}
	enq := NewEnqueuer(store, js, nil)
	ctx := context.Background()

	// The job record is created but the trigger never lands.
	require.Error(t, enq.Enqueue(ctx, "sess-1"))
	job, err := store.GetJob(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, insight.JobQueued, job.Status)
	assert.Empty(t, js.published())

	// The next enqueue finds the queued zero-attempt record and re-publishes
	// instead of treating the duplicate create as done.
	require.NoError(t, enq.Enqueue(ctx, "sess-1"))
	assert.Equal(t, []string{TriggerSubject("sess-1")}, js.published())
}

func TestEnqueue_RepublishesWhileUndelivered(t *testing.T) {
	store := storage.NewMemoryStore()
	js := &fakeJetStream{}
	enq := NewEnqueuer(store, js, nil)
	ctx := context.Background()

	require.NoError(t, enq.Enqueue(ctx, "sess-1"))
	require.NoError(t, enq.Enqueue(ctx, "sess-1"))

	// Before the first delivery the enqueuer cannot tell a lost trigger from
	// a waiting one, so it publishes again. Workers ack the duplicate once
	// the record is terminal.
	assert.Len(t, js.published(), 2)
}

func TestEnqueue_IdempotentAcrossJobStates(t *testing.T) {
	store := storage.NewMemoryStore()
	js := &fakeJetStream{}
	enq := NewEnqueuer(store, js, nil)
	ctx := context.Background()

	require.NoError(t, enq.Enqueue(ctx, "sess-1"))

	// Even once the job finished, a stray re-enqueue stays a no-op.
	job, err := store.GetJob(ctx, "sess-1")
	require.NoError(t, err)
	job.Status = insight.JobSucceeded
	require.NoError(t, store.PutJob(ctx, job))

	require.NoError(t, enq.Enqueue(ctx, "sess-1"))
	assert.Len(t, js.published(), 1)

	got, err := store.GetJob(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, insight.JobSucceeded, got.Status, "the existing record is untouched")
}

func TestTriggerSubject(t *testing.T) {
	assert.Equal(t, "arcana.insight.generate.abc", TriggerSubject("abc"))
}
