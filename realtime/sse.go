package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SSE event names on the wire, alongside the session event vocabulary.
const (
	SSEEventSnapshot  = "snapshot"
	SSEEventHeartbeat = "heartbeat"
)

// heartbeatInterval keeps intermediaries from timing out idle streams.
const heartbeatInterval = 30 * time.Second

// Streamer writes one member's snapshot-then-tail event stream as
// server-sent events. The snapshot always precedes incremental events, so a
// late joiner never reasons about a gap it didn't see.
type Streamer struct {
	logger *slog.Logger
}

// NewStreamer creates a streamer.
func NewStreamer(logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{logger: logger}
}

// Stream serves the SSE protocol: headers, the snapshot, then events until
// the request context ends. Events at or below the snapshot's sequence are
// dropped as duplicates of state the snapshot already covers.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, snapshot any, snapshotSeq uint64, events <-chan Event) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	var eventID uint64
	if err := s.send(w, flusher, &eventID, SSEEventSnapshot, snapshot); err != nil {
		return err
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-heartbeat.C:
			if err := s.send(w, flusher, &eventID, SSEEventHeartbeat, map[string]any{}); err != nil {
				s.logger.Debug("client disconnected during heartbeat", "error", err)
				return nil
			}

		case event, ok := <-events:
			if !ok {
				return nil
			}
			// Joined events are presence, not state: they carry the sequence
			// current at join time and must not be dropped as duplicates.
			if event.Kind != EventJoined && event.Sequence <= snapshotSeq {
				continue
			}
			if err := s.send(w, flusher, &eventID, string(event.Kind), event); err != nil {
				s.logger.Debug("client disconnected", "error", err)
				return nil
			}
		}
	}
}

func (s *Streamer) send(w http.ResponseWriter, flusher http.Flusher, eventID *uint64, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	*eventID++
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", *eventID, name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
