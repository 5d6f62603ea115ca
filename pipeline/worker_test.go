package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mooncourt/arcana/insight"
	"github.com/mooncourt/arcana/llm"
	"github.com/mooncourt/arcana/session"
	"github.com/mooncourt/arcana/spread"
	"github.com/mooncourt/arcana/storage"
	"github.com/mooncourt/arcana/tarot"
)

// fakeMsg implements jetstream.Msg for delivery tests.
type fakeMsg struct {
	mu           sync.Mutex
	data         []byte
	numDelivered uint64

	acked    bool
	naked    bool
	termed   bool
	nakDelay time.Duration
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.numDelivered}, nil
}
func (m *fakeMsg) Data() []byte          { return m.data }
func (m *fakeMsg) Headers() nats.Header  { return nil }
func (m *fakeMsg) Subject() string       { return TriggerSubject("test") }
func (m *fakeMsg) Reply() string         { return "" }
func (m *fakeMsg) Ack() error            { m.mu.Lock(); defer m.mu.Unlock(); m.acked = true; return nil }
func (m *fakeMsg) DoubleAck(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	return nil
}
func (m *fakeMsg) Nak() error { m.mu.Lock(); defer m.mu.Unlock(); m.naked = true; return nil }
func (m *fakeMsg) NakWithDelay(delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naked = true
	m.nakDelay = delay
	return nil
}
func (m *fakeMsg) InProgress() error { return nil }
func (m *fakeMsg) Term() error       { m.mu.Lock(); defer m.mu.Unlock(); m.termed = true; return nil }
func (m *fakeMsg) TermWithReason(_ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.termed = true
	return nil
}

// scriptedGenerator returns its responses in order, one per call.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []func() (*llm.Response, error)
	calls     int
}

func (g *scriptedGenerator) Generate(_ context.Context, _ llm.Request) (*llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls >= len(g.responses) {
		return nil, llm.NewTransientError(errors.New("script exhausted"))
	}
	next := g.responses[g.calls]
	g.calls++
	return next()
}

func succeedWith(content string) func() (*llm.Response, error) {
	return func() (*llm.Response, error) {
		return &llm.Response{Content: content, Model: "test-model", FinishReason: "stop"}, nil
	}
}

func failTransient() func() (*llm.Response, error) {
	return func() (*llm.Response, error) {
		return nil, llm.NewTransientError(errors.New("model timed out"))
	}
}

func failFatal() func() (*llm.Response, error) {
	return func() (*llm.Response, error) {
		return nil, llm.NewFatalError(errors.New("invalid credentials"))
	}
}

type workerFixture struct {
	worker *Worker
	store  *storage.MemoryStore
	sess   *session.ReadingSession
}

func newWorkerFixture(t *testing.T, gen Generator, maxAttempts int) *workerFixture {
	t.Helper()

	catalog, err := spread.NewCatalog("", nil)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	sess := session.New("past-present-future", "client-1", "", "What now?", session.CategoryGeneral, 3)
	deck, err := tarot.SessionDeck(sess.ID, tarot.MajorArcana, 0.3, 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := session.OpenSlot(sess, "client-1", i, deck, time.Now())
		require.NoError(t, err)
	}
	require.NoError(t, store.CreateSession(context.Background(), sess))

	cfg := DefaultWorkerConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.RetryBackoffBase = 10 * time.Millisecond
	cfg.RetryBackoffMax = 40 * time.Millisecond

	worker := NewWorker(cfg, store, store, store, catalog, gen, nil)
	return &workerFixture{worker: worker, store: store, sess: sess}
}

func (f *workerFixture) enqueue(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.CreateJob(context.Background(), &insight.Job{
		SessionID:  f.sess.ID,
		Status:     insight.JobQueued,
		EnqueuedAt: time.Now().UTC(),
	}))
}

func (f *workerFixture) deliver(t *testing.T, numDelivered uint64) *fakeMsg {
	t.Helper()
	msg := &fakeMsg{
		data:         []byte(`{"session_id":"` + f.sess.ID + `"}`),
		numDelivered: numDelivered,
	}
	f.worker.handleMessage(context.Background(), msg)
	return msg
}

func TestHandleMessage_Success(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*llm.Response, error){
		succeedWith(`{"overall_message": "All is well.", "guidance": "rest"}`),
	}}
	f := newWorkerFixture(t, gen, 3)
	f.enqueue(t)

	msg := f.deliver(t, 1)
	assert.True(t, msg.acked)
	assert.False(t, msg.termed)

	job, err := f.store.GetJob(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.JobSucceeded, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.NotNil(t, job.CompletedAt)

	ins, err := f.store.GetInsight(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "All is well.", ins.OverallMessage)
	assert.Equal(t, "test-model", ins.Model)
	assert.False(t, ins.Degraded)
	assert.Greater(t, ins.Confidence, 0.0)
}

func TestHandleMessage_TwoTimeoutsThenSuccess(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*llm.Response, error){
		failTransient(),
		failTransient(),
		succeedWith(`{"overall_message": "Third time lucky."}`),
	}}
	f := newWorkerFixture(t, gen, 5)
	f.enqueue(t)
	ctx := context.Background()

	first := f.deliver(t, 1)
	assert.True(t, first.naked)
	assert.False(t, first.acked)
	job, err := f.store.GetJob(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.JobQueued, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.NotEmpty(t, job.LastError)
	assert.NotNil(t, job.NextRetryAt)

	second := f.deliver(t, 2)
	assert.True(t, second.naked)
	assert.Greater(t, second.nakDelay, first.nakDelay, "backoff grows between attempts")

	third := f.deliver(t, 3)
	assert.True(t, third.acked)

	job, err = f.store.GetJob(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.JobSucceeded, job.Status)
	assert.Equal(t, 3, job.Attempts, "attempts reflect every delivery")
	assert.Nil(t, job.NextRetryAt)

	_, err = f.store.GetInsight(ctx, f.sess.ID)
	require.NoError(t, err)
}

func TestHandleMessage_AttemptCeilingFailsJob(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*llm.Response, error){
		failTransient(), failTransient(), failTransient(),
	}}
	f := newWorkerFixture(t, gen, 3)
	f.enqueue(t)
	ctx := context.Background()

	f.deliver(t, 1)
	f.deliver(t, 2)
	last := f.deliver(t, 3)
	assert.True(t, last.termed, "the final failure is terminated, not redelivered")

	job, err := f.store.GetJob(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.JobFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.NotEmpty(t, job.LastError)

	_, err = f.store.GetInsight(ctx, f.sess.ID)
	require.ErrorIs(t, err, storage.ErrNotFound, "no insight is persisted for a failed job")

	// The session record itself is untouched by the failure.
	sess, _, err := f.store.GetSession(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusComplete, sess.Status)
}

func TestHandleMessage_FatalFailsImmediately(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*llm.Response, error){failFatal()}}
	f := newWorkerFixture(t, gen, 5)
	f.enqueue(t)

	msg := f.deliver(t, 1)
	assert.True(t, msg.termed)

	job, err := f.store.GetJob(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.JobFailed, job.Status)
	assert.Equal(t, 1, job.Attempts, "fatal errors burn no further attempts")
}

func TestHandleMessage_TerminalJobAcksDuplicate(t *testing.T) {
	gen := &scriptedGenerator{}
	f := newWorkerFixture(t, gen, 3)
	require.NoError(t, f.store.CreateJob(context.Background(), &insight.Job{
		SessionID: f.sess.ID,
		Status:    insight.JobSucceeded,
		Attempts:  1,
	}))

	msg := f.deliver(t, 2)
	assert.True(t, msg.acked)
	assert.Equal(t, 0, gen.calls, "a terminal job never reaches the model")
}

func TestHandleMessage_MalformedTriggerDiscarded(t *testing.T) {
	gen := &scriptedGenerator{}
	f := newWorkerFixture(t, gen, 3)

	msg := &fakeMsg{data: []byte("not json"), numDelivered: 1}
	f.worker.handleMessage(context.Background(), msg)
	assert.True(t, msg.termed)
	assert.Equal(t, 0, gen.calls)
}

func TestHandleMessage_DegradedResponseStillSucceeds(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*llm.Response, error){
		succeedWith("The cards feel heavy today, tread gently."),
	}}
	f := newWorkerFixture(t, gen, 3)
	f.enqueue(t)

	msg := f.deliver(t, 1)
	assert.True(t, msg.acked)

	ins, err := f.store.GetInsight(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.True(t, ins.Degraded)
	assert.Contains(t, ins.OverallMessage, "tread gently")
}

func TestGenerate_MissingSpreadIsPermanent(t *testing.T) {
	gen := &scriptedGenerator{}
	f := newWorkerFixture(t, gen, 3)
	f.enqueue(t)

	// Point the session at a spread the catalog does not know.
	sess, rev, err := f.store.GetSession(context.Background(), f.sess.ID)
	require.NoError(t, err)
	sess.SpreadID = "vanished"
	_, err = f.store.UpdateSession(context.Background(), sess, rev)
	require.NoError(t, err)

	msg := f.deliver(t, 1)
	assert.True(t, msg.termed)

	job, err := f.store.GetJob(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.JobFailed, job.Status)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(insight.ErrNoTemplate))
	assert.True(t, isPermanent(llm.NewFatalError(errors.New("x"))))
	assert.False(t, isPermanent(llm.NewTransientError(errors.New("x"))))
	assert.False(t, isPermanent(errors.New("plain")))
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	w := &Worker{cfg: WorkerConfig{
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  5 * time.Second,
	}}

	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 2*time.Second, w.backoff(2))
	assert.Equal(t, 4*time.Second, w.backoff(3))
	assert.Equal(t, 5*time.Second, w.backoff(4))
	assert.Equal(t, 5*time.Second, w.backoff(10))
}

func TestSweepStaleJobs_FailsLostFinalDelivery(t *testing.T) {
	f := newWorkerFixture(t, &scriptedGenerator{}, 3)
	ctx := context.Background()

	stale := time.Now().UTC().Add(-10 * time.Minute)
	recent := time.Now().UTC()

	putJob := func(id string, status insight.JobStatus, attempts int, startedAt *time.Time) {
		t.Helper()
		require.NoError(t, f.store.PutJob(ctx, &insight.Job{
			SessionID:  id,
			Status:     status,
			Attempts:   attempts,
			EnqueuedAt: time.Now().UTC(),
			StartedAt:  startedAt,
		}))
	}

	// The worker holding this job's last allowed delivery died; the queue
	// will not redeliver, so only the sweep can resolve it.
	putJob("lost-final", insight.JobRunning, 3, &stale)
	// Redelivery still owns a stale job below the ceiling.
	putJob("mid-retries", insight.JobRunning, 2, &stale)
	// A live final delivery is far inside the cutoff.
	putJob("live-final", insight.JobRunning, 3, &recent)
	putJob("waiting", insight.JobQueued, 0, nil)

	f.worker.sweepStaleJobs(ctx)

	job, err := f.store.GetJob(ctx, "lost-final")
	require.NoError(t, err)
	assert.Equal(t, insight.JobFailed, job.Status)
	assert.Equal(t, "worker lost during final delivery", job.LastError)
	assert.NotNil(t, job.CompletedAt)

	for _, id := range []string{"mid-retries", "live-final"} {
		job, err := f.store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, insight.JobRunning, job.Status, id)
	}
	job, err = f.store.GetJob(ctx, "waiting")
	require.NoError(t, err)
	assert.Equal(t, insight.JobQueued, job.Status)
}

func TestHandleMessage_RecordsDeliveryStart(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*llm.Response, error){
		failTransient(),
	}}
	f := newWorkerFixture(t, gen, 5)
	f.enqueue(t)

	f.deliver(t, 1)

	job, err := f.store.GetJob(context.Background(), f.sess.ID)
	require.NoError(t, err)
	require.NotNil(t, job.StartedAt)
	assert.WithinDuration(t, time.Now().UTC(), *job.StartedAt, time.Minute)
}
