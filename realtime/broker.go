package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// SessionSubject returns the NATS subject carrying one session's events.
func SessionSubject(sessionID string) string {
	return "arcana.session." + sessionID + ".events"
}

// Broker fans events out to channel members. Publish delivers at-least-once
// to every currently subscribed member, in per-session publish order.
type Broker interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of events for one session and a cancel
	// function. The channel is closed after cancel or when the broker shuts
	// down. A slow member may miss events; it recovers by re-joining
	// (snapshot-then-tail), never by reconciliation.
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error)
}

// NATSBroker broadcasts events over core NATS subjects, one per session.
type NATSBroker struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewNATSBroker creates a broker on an established connection.
func NewNATSBroker(nc *nats.Conn, logger *slog.Logger) *NATSBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBroker{nc: nc, logger: logger}
}

// Publish implements Broker.
func (b *NATSBroker) Publish(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(SessionSubject(event.SessionID), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	eventsPublished.WithLabelValues(string(event.Kind)).Inc()
	return nil
}

// subscriberBuffer bounds the per-member event channel. Session events are
// human-paced; a member this far behind should resync anyway.
const subscriberBuffer = 64

// Subscribe implements Broker.
func (b *NATSBroker) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	out := make(chan Event, subscriberBuffer)

	// The send mutex keeps the message callback from racing a close: after
	// closed flips, no callback touches the channel again.
	var sendMu sync.Mutex
	closed := false

	sub, err := b.nc.Subscribe(SessionSubject(sessionID), func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("dropping malformed session event", "session_id", sessionID, "error", err)
			return
		}
		sendMu.Lock()
		defer sendMu.Unlock()
		if closed {
			return
		}
		select {
		case out <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber", "session_id", sessionID, "sequence", event.Sequence)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe to session %s: %w", sessionID, err)
	}
	activeSubscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			activeSubscribers.Dec()
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Debug("unsubscribe failed", "session_id", sessionID, "error", err)
			}
			sendMu.Lock()
			closed = true
			close(out)
			sendMu.Unlock()
		})
	}

	// Tie the subscription to the caller's context.
	go func() {
		<-ctx.Done()
		cancel()
	}()

	return out, cancel, nil
}

// MemoryBroker is an in-process Broker for tests and single-node development.
type MemoryBroker struct {
	mu      sync.Mutex
	members map[string]map[int]chan Event
	nextID  int
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{members: make(map[string]map[int]chan Event)}
}

// Publish implements Broker.
func (m *MemoryBroker) Publish(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.members[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe implements Broker.
func (m *MemoryBroker) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)

	m.mu.Lock()
	if m.members[sessionID] == nil {
		m.members[sessionID] = make(map[int]chan Event)
	}
	id := m.nextID
	m.nextID++
	m.members[sessionID][id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.members[sessionID], id)
			m.mu.Unlock()
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel, nil
}
