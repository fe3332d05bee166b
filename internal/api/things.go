package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/thingbridge/internal/audit"
	"github.com/nerrad567/thingbridge/internal/bridge"
	"github.com/nerrad567/thingbridge/internal/envelope"
	"github.com/nerrad567/thingbridge/internal/thing"
)

// thingResponse is a thing's live status plus its registry record.
type thingResponse struct {
	bridge.Status
	Registry *thing.Thing `json:"registry,omitempty"`
}

// PublishRequest is the body of POST /things/{id}/publish. A JSON string
// payload is published as its text; any other JSON value is published as
// its encoded bytes.
type PublishRequest struct {
	Topic   string          `json:"topic"`
	QoS     envelope.QoS    `json:"qos"`
	Payload json.RawMessage `json:"payload"`
}

// SubscribeRequest is the body of POST /things/{id}/subscribe and
// /unsubscribe. QoS is ignored when unsubscribing.
type SubscribeRequest struct {
	Topic string       `json:"topic"`
	QoS   envelope.QoS `json:"qos"`
}

// handleListThings returns the status of every managed thing.
func (s *Server) handleListThings(w http.ResponseWriter, _ *http.Request) {
	statuses := s.things.Statuses()
	writeJSON(w, http.StatusOK, map[string]any{
		"things": statuses,
		"count":  len(statuses),
	})
}

// handleGetThing returns one thing's status and registry record.
func (s *Server) handleGetThing(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupThing(w, r)
	if !ok {
		return
	}

	resp := thingResponse{Status: b.Status()}
	if s.registry != nil {
		t, err := s.registry.GetByID(r.Context(), b.ID())
		switch {
		case err == nil:
			resp.Registry = t
		case errors.Is(err, thing.ErrThingNotFound):
		default:
			s.logger.Warn("registry lookup failed", "thing_id", b.ID(), "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleThingHistory returns recent link state transitions for a thing.
func (s *Server) handleThingHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "link state history not configured")
		return
	}
	b, ok := s.lookupThing(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), b.ID(), limit)
	if err != nil {
		s.logger.Error("reading link state history failed", "thing_id", b.ID(), "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thing_id": b.ID(),
		"history":  entries,
		"count":    len(entries),
	})
}

// handlePublish publishes a message on behalf of the thing.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupThing(w, r)
	if !ok {
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	e, err := envelope.NewPublish(req.Topic, req.QoS, publishPayload(req.Payload))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	if err := b.Publish(r.Context(), e); err != nil {
		writeOperationError(w, err)
		return
	}

	s.auditLog(r, audit.ActionPublish, b.ID(), map[string]any{
		"topic": req.Topic,
		"qos":   int(req.QoS),
		"bytes": len(e.Payload()),
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "published", "topic": req.Topic})
}

// handleSubscribe subscribes the thing's MQTT session to a topic.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupThing(w, r)
	if !ok {
		return
	}

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := b.Subscribe(r.Context(), req.Topic, req.QoS); err != nil {
		writeOperationError(w, err)
		return
	}

	s.auditLog(r, audit.ActionSubscribe, b.ID(), map[string]any{"topic": req.Topic, "qos": int(req.QoS)})
	writeJSON(w, http.StatusOK, map[string]any{"status": "subscribed", "topic": req.Topic})
}

// handleUnsubscribe removes one of the thing's subscriptions.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupThing(w, r)
	if !ok {
		return
	}

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := b.Unsubscribe(r.Context(), req.Topic); err != nil {
		writeOperationError(w, err)
		return
	}

	s.auditLog(r, audit.ActionUnsubscribe, b.ID(), map[string]any{"topic": req.Topic})
	writeJSON(w, http.StatusOK, map[string]any{"status": "unsubscribed", "topic": req.Topic})
}

// handleConnect opens the thing's device link. MQTT follows.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	if err := b.ConnectDevice(r.Context()); err != nil {
		writeOperationError(w, err)
		return
	}

	s.auditLog(r, audit.ActionConnect, b.ID(), nil)
	writeJSON(w, http.StatusOK, b.Status())
}

// handleDisconnect closes the thing's device link. MQTT follows.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupThing(w, r)
	if !ok {
		return
	}
	if err := b.DisconnectDevice(); err != nil {
		writeOperationError(w, err)
		return
	}

	s.auditLog(r, audit.ActionDisconnect, b.ID(), nil)
	writeJSON(w, http.StatusOK, b.Status())
}

// lookupThing resolves the {id} URL parameter, writing a 404 when the
// thing is not managed.
func (s *Server) lookupThing(w http.ResponseWriter, r *http.Request) (*bridge.Bridge, bool) {
	id := chi.URLParam(r, "id")
	b, err := s.things.Get(id)
	if err != nil {
		writeNotFound(w, "thing not found: "+id)
		return nil, false
	}
	return b, true
}

// publishPayload returns the bytes to publish for a request payload.
// A missing payload publishes an empty message.
func publishPayload(raw json.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return []byte{}
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return []byte(text)
	}
	return []byte(raw)
}
