package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mooncourt/arcana/access"
	"github.com/mooncourt/arcana/insight"
	"github.com/mooncourt/arcana/session"
)

// MemoryStore is an in-process store with the same semantics as Store,
// including revision-conditional session updates and create-once jobs. It
// backs unit tests and local development without a JetStream server.
type MemoryStore struct {
	mu               sync.Mutex
	sessions         map[string]*session.ReadingSession
	sessionRevisions map[string]uint64
	jobs             map[string]*insight.Job
	insights         map[string]*insight.Insight
	interpretations  map[string]*insight.HumanInterpretation
	auditLog         []access.Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:         make(map[string]*session.ReadingSession),
		sessionRevisions: make(map[string]uint64),
		jobs:             make(map[string]*insight.Job),
		insights:         make(map[string]*insight.Insight),
		interpretations:  make(map[string]*insight.HumanInterpretation),
	}
}

// CreateSession stores a new session.
func (m *MemoryStore) CreateSession(_ context.Context, sess *session.ReadingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s: %w", sess.ID, ErrAlreadyExists)
	}
	m.sessions[sess.ID] = sess.Clone()
	m.sessionRevisions[sess.ID] = 1
	return nil
}

// GetSession loads a session and its current revision.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*session.ReadingSession, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, 0, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess.Clone(), m.sessionRevisions[id], nil
}

// UpdateSession writes the session back if the revision still matches.
func (m *MemoryStore) UpdateSession(_ context.Context, sess *session.ReadingSession, revision uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessionRevisions[sess.ID]
	if !ok {
		return 0, fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	if current != revision {
		return 0, fmt.Errorf("session %s at revision %d: %w", sess.ID, revision, ErrRevisionMismatch)
	}
	m.sessions[sess.ID] = sess.Clone()
	m.sessionRevisions[sess.ID] = current + 1
	return current + 1, nil
}

// CreateJob stores a new job; a duplicate returns ErrAlreadyExists.
func (m *MemoryStore) CreateJob(_ context.Context, job *insight.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.SessionID]; ok {
		return fmt.Errorf("job for session %s: %w", job.SessionID, ErrAlreadyExists)
	}
	j := *job
	m.jobs[job.SessionID] = &j
	return nil
}

// GetJob loads the job for a session.
func (m *MemoryStore) GetJob(_ context.Context, sessionID string) (*insight.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[sessionID]
	if !ok {
		return nil, fmt.Errorf("job for session %s: %w", sessionID, ErrNotFound)
	}
	j := *job
	return &j, nil
}

// PutJob overwrites the job record.
func (m *MemoryStore) PutJob(_ context.Context, job *insight.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := *job
	m.jobs[job.SessionID] = &j
	return nil
}

// ListJobs returns every job record, in no particular order.
func (m *MemoryStore) ListJobs(_ context.Context) ([]*insight.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*insight.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		j := *job
		out = append(out, &j)
	}
	return out, nil
}

// PutInsight persists an insight.
func (m *MemoryStore) PutInsight(_ context.Context, ins *insight.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := *ins
	m.insights[ins.SessionID] = &i
	return nil
}

// GetInsight loads the insight for a session.
func (m *MemoryStore) GetInsight(_ context.Context, sessionID string) (*insight.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ins, ok := m.insights[sessionID]
	if !ok {
		return nil, fmt.Errorf("insight for session %s: %w", sessionID, ErrNotFound)
	}
	i := *ins
	return &i, nil
}

// PutInterpretation persists a human interpretation.
func (m *MemoryStore) PutInterpretation(_ context.Context, hi *insight.HumanInterpretation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := *hi
	m.interpretations[hi.SessionID] = &h
	return nil
}

// GetInterpretation loads the human interpretation for a session.
func (m *MemoryStore) GetInterpretation(_ context.Context, sessionID string) (*insight.HumanInterpretation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hi, ok := m.interpretations[sessionID]
	if !ok {
		return nil, fmt.Errorf("interpretation for session %s: %w", sessionID, ErrNotFound)
	}
	h := *hi
	return &h, nil
}

// RecordAccess appends an audit entry.
func (m *MemoryStore) RecordAccess(_ context.Context, entry access.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	m.auditLog = append(m.auditLog, entry)
	return nil
}

// AuditLog returns a copy of the recorded audit entries, oldest first.
func (m *MemoryStore) AuditLog() []access.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]access.Entry, len(m.auditLog))
	copy(out, m.auditLog)
	return out
}
