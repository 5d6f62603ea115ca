// Package httpapi exposes the engine over REST plus server-sent events: the
// write path for client actions, the realtime join/stream protocol, and the
// access-gated content read endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mooncourt/arcana/access"
	"github.com/mooncourt/arcana/orchestrator"
	"github.com/mooncourt/arcana/profile"
	"github.com/mooncourt/arcana/realtime"
	"github.com/mooncourt/arcana/session"
	"github.com/mooncourt/arcana/spread"
	"github.com/mooncourt/arcana/storage"
)

// UserHeader carries the authenticated user id. Authentication itself is the
// platform edge's job; the engine resolves the id to a role via the profile
// service.
const UserHeader = "X-Arcana-User"

// maxBodySize bounds request bodies; every write payload here is small.
const maxBodySize = 1 << 20

// Handler is the HTTP surface over the orchestrator.
type Handler struct {
	orch     *orchestrator.Orchestrator
	viewer   *access.Viewer
	profiles profile.Service
	broker   realtime.Broker
	streamer *realtime.Streamer
	catalog  *spread.Catalog
	logger   *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(orch *orchestrator.Orchestrator, viewer *access.Viewer, profiles profile.Service, broker realtime.Broker, catalog *spread.Catalog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orch:     orch,
		viewer:   viewer,
		profiles: profiles,
		broker:   broker,
		streamer: realtime.NewStreamer(logger),
		catalog:  catalog,
		logger:   logger,
	}
}

// Register mounts the API routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /spreads", h.handleListSpreads)
	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", h.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/stream", h.handleStream)
	mux.HandleFunc("POST /sessions/{id}/slots/{index}/open", h.handleOpenSlot)
	mux.HandleFunc("POST /sessions/{id}/abandon", h.handleAbandon)
	mux.HandleFunc("GET /sessions/{id}/insight", h.handleGetInsight)
	mux.HandleFunc("GET /sessions/{id}/interpretation", h.handleGetInterpretation)
	mux.HandleFunc("PUT /sessions/{id}/interpretation", h.handlePutInterpretation)
}

// identify resolves the calling user from the request header.
func (h *Handler) identify(r *http.Request) (profile.Profile, error) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		return profile.Profile{}, fmt.Errorf("missing %s header", UserHeader)
	}
	return h.profiles.GetProfile(r.Context(), userID)
}

func (h *Handler) handleListSpreads(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.catalog.List())
}

type createSessionRequest struct {
	SpreadID string `json:"spread_id"`
	Question string `json:"question"`
	Category string `json:"category"`
	ReaderID string `json:"reader_id,omitempty"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, err := h.identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req createSessionRequest
	if err := h.readJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.orch.StartSession(r.Context(), user.ID, req.ReaderID, req.Question, session.Category(req.Category), req.SpreadID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.identify(r); err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	sess, err := h.orch.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStorageError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleOpenSlot(w http.ResponseWriter, r *http.Request) {
	user, err := h.identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	slotIndex, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "slot index must be an integer")
		return
	}

	result, err := h.orch.OpenSlot(r.Context(), r.PathValue("id"), user.ID, slotIndex)
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	user, err := h.identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	if err := h.orch.Abandon(r.Context(), r.PathValue("id"), user.ID); err != nil {
		h.writeTransitionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream implements the realtime join protocol: validate the actor for
// the requested role, announce the join, then stream snapshot-then-tail SSE.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	user, err := h.identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	role := realtime.ChannelRole(r.URL.Query().Get("role"))
	if role == "" {
		role = realtime.RoleObserver
	}

	sessionID := r.PathValue("id")
	sess, err := h.orch.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}
	if err := realtime.ValidateJoin(sess, role, user.ID); err != nil {
		h.writeError(w, http.StatusForbidden, err.Error())
		return
	}

	// Subscribe before re-reading the snapshot so no transition can land in
	// between unseen: anything after this point arrives on the tail, and the
	// streamer drops events the snapshot already covers.
	events, cancel, err := h.broker.Subscribe(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer cancel()

	sess, err = h.orch.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	if err := h.broker.Publish(r.Context(), realtime.Event{
		Kind:      realtime.EventJoined,
		SessionID: sessionID,
		Sequence:  sess.EventSeq,
		Role:      role,
	}); err != nil {
		h.logger.Warn("joined announcement failed", "session_id", sessionID, "error", err)
	}

	if err := h.streamer.Stream(w, r, sess, sess.EventSeq, events); err != nil {
		h.logger.Debug("session stream ended", "session_id", sessionID, "error", err)
	}
}

func (h *Handler) handleGetInsight(w http.ResponseWriter, r *http.Request) {
	user, err := h.identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	ins, err := h.viewer.ViewAIContent(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.writeViewError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ins)
}

func (h *Handler) handleGetInterpretation(w http.ResponseWriter, r *http.Request) {
	user, err := h.identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	hi, err := h.viewer.ViewHumanInterpretation(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.writeViewError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, hi)
}

type putInterpretationRequest struct {
	Body string `json:"body"`
}

func (h *Handler) handlePutInterpretation(w http.ResponseWriter, r *http.Request) {
	user, err := h.identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req putInterpretationRequest
	if err := h.readJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.orch.SubmitInterpretation(r.Context(), r.PathValue("id"), user.ID, req.Body); err != nil {
		h.writeTransitionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) readJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("parse request body: %w", err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Debug("write response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeTransitionError maps state-machine failures to HTTP statuses. Both
// conflict flavors are 409; the code field tells the UI whether to refetch
// and retry (state_conflict) or treat the action as a no-op (out_of_order).
func (h *Handler) writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrOutOfOrder):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error(), "code": "out_of_order"})
	case errors.Is(err, session.ErrStateConflict):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error(), "code": "state_conflict"})
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) writeViewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrDenied):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
