// Package storage persists engine records in NATS JetStream: key-value
// buckets for sessions, jobs, insights, and interpretations, plus an
// append-only stream for the access audit log.
//
// The session bucket supports conditional updates keyed on the KV revision,
// which is what serializes concurrent writers of the same session.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/mooncourt/arcana/access"
	"github.com/mooncourt/arcana/insight"
	"github.com/mooncourt/arcana/session"
)

// Bucket and stream names.
const (
	BucketSessions        = "ARCANA_SESSIONS"
	BucketJobs            = "ARCANA_JOBS"
	BucketInsights        = "ARCANA_INSIGHTS"
	BucketInterpretations = "ARCANA_INTERPRETATIONS"

	// AuditStream holds the append-only access log.
	AuditStream  = "ARCANA_AUDIT"
	AuditSubject = "arcana.audit.access"
)

// Store is the JetStream-backed implementation of every store the engine
// consumes.
type Store struct {
	js              jetstream.JetStream
	sessions        jetstream.KeyValue
	jobs            jetstream.KeyValue
	insights        jetstream.KeyValue
	interpretations jetstream.KeyValue
}

// NewStore creates the store, provisioning buckets and the audit stream if
// they don't exist yet.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	sessions, err := getOrCreateBucket(ctx, js, BucketSessions)
	if err != nil {
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}
	jobs, err := getOrCreateBucket(ctx, js, BucketJobs)
	if err != nil {
		return nil, fmt.Errorf("create jobs bucket: %w", err)
	}
	insights, err := getOrCreateBucket(ctx, js, BucketInsights)
	if err != nil {
		return nil, fmt.Errorf("create insights bucket: %w", err)
	}
	interpretations, err := getOrCreateBucket(ctx, js, BucketInterpretations)
	if err != nil {
		return nil, fmt.Errorf("create interpretations bucket: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        AuditStream,
		Description: "Arcana access audit log",
		Subjects:    []string{AuditSubject},
	}); err != nil {
		return nil, fmt.Errorf("create audit stream: %w", err)
	}

	return &Store{
		js:              js,
		sessions:        sessions,
		jobs:            jobs,
		insights:        insights,
		interpretations: interpretations,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Arcana %s storage", strings.ToLower(name)),
		History:     5,
	})
}

// CreateSession stores a new session. The session id must be unused.
func (s *Store) CreateSession(ctx context.Context, sess *session.ReadingSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.sessions.Create(ctx, sess.ID, data); err != nil {
		if isExists(err) {
			return fmt.Errorf("session %s: %w", sess.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// GetSession loads a session and the revision to pass to UpdateSession.
func (s *Store) GetSession(ctx context.Context, id string) (*session.ReadingSession, uint64, error) {
	entry, err := s.sessions.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, 0, fmt.Errorf("get session: %w", err)
	}

	var sess session.ReadingSession
	if err := json.Unmarshal(entry.Value(), &sess); err != nil {
		return nil, 0, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, entry.Revision(), nil
}

// UpdateSession writes the session back conditionally: it succeeds only if
// the record is still at the given revision. A lost race returns
// ErrRevisionMismatch and writes nothing.
func (s *Store) UpdateSession(ctx context.Context, sess *session.ReadingSession, revision uint64) (uint64, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return 0, fmt.Errorf("marshal session: %w", err)
	}

	newRev, err := s.sessions.Update(ctx, sess.ID, data, revision)
	if err != nil {
		if isWrongRevision(err) {
			return 0, fmt.Errorf("session %s at revision %d: %w", sess.ID, revision, ErrRevisionMismatch)
		}
		return 0, fmt.Errorf("update session: %w", err)
	}
	return newRev, nil
}

// CreateJob stores a new interpretation job keyed by session id. A second
// create for the same session returns ErrAlreadyExists, which is how enqueue
// stays idempotent.
func (s *Store) CreateJob(ctx context.Context, job *insight.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := s.jobs.Create(ctx, job.SessionID, data); err != nil {
		if isExists(err) {
			return fmt.Errorf("job for session %s: %w", job.SessionID, ErrAlreadyExists)
		}
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

// GetJob loads the job for a session.
func (s *Store) GetJob(ctx context.Context, sessionID string) (*insight.Job, error) {
	entry, err := s.jobs.Get(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("job for session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job insight.Job
	if err := json.Unmarshal(entry.Value(), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// PutJob overwrites the job record. Workers are already serialized per
// session by the queue lease, so this write is unconditional.
func (s *Store) PutJob(ctx context.Context, job *insight.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := s.jobs.Put(ctx, job.SessionID, data); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns every job record. The jobs bucket holds one small record
// per session, so a full scan stays cheap.
func (s *Store) ListJobs(ctx context.Context) ([]*insight.Job, error) {
	lister, err := s.jobs.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	var jobs []*insight.Job
	for key := range lister.Keys() {
		job, err := s.GetJob(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// PutInsight persists the validated insight for a session.
func (s *Store) PutInsight(ctx context.Context, ins *insight.Insight) error {
	data, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("marshal insight: %w", err)
	}
	if _, err := s.insights.Put(ctx, ins.SessionID, data); err != nil {
		return fmt.Errorf("store insight: %w", err)
	}
	return nil
}

// GetInsight loads the insight for a session.
func (s *Store) GetInsight(ctx context.Context, sessionID string) (*insight.Insight, error) {
	entry, err := s.insights.Get(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("insight for session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("get insight: %w", err)
	}

	var ins insight.Insight
	if err := json.Unmarshal(entry.Value(), &ins); err != nil {
		return nil, fmt.Errorf("unmarshal insight: %w", err)
	}
	return &ins, nil
}

// PutInterpretation persists the reader-authored interpretation.
func (s *Store) PutInterpretation(ctx context.Context, hi *insight.HumanInterpretation) error {
	data, err := json.Marshal(hi)
	if err != nil {
		return fmt.Errorf("marshal interpretation: %w", err)
	}
	if _, err := s.interpretations.Put(ctx, hi.SessionID, data); err != nil {
		return fmt.Errorf("store interpretation: %w", err)
	}
	return nil
}

// GetInterpretation loads the human interpretation for a session.
func (s *Store) GetInterpretation(ctx context.Context, sessionID string) (*insight.HumanInterpretation, error) {
	entry, err := s.interpretations.Get(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("interpretation for session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("get interpretation: %w", err)
	}

	var hi insight.HumanInterpretation
	if err := json.Unmarshal(entry.Value(), &hi); err != nil {
		return nil, fmt.Errorf("unmarshal interpretation: %w", err)
	}
	return &hi, nil
}

// RecordAccess appends one audit entry to the audit stream. The stream is
// append-only; the engine never mutates or deletes entries.
func (s *Store) RecordAccess(ctx context.Context, entry access.Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := s.js.Publish(ctx, AuditSubject, data); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}

func isExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key exists")
}

func isWrongRevision(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") || strings.Contains(msg, "key exists")
}
