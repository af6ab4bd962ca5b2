package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/subbot-linker/internal/errors"
	"github.com/openclaw/subbot-linker/internal/events"
	"github.com/openclaw/subbot-linker/internal/httputil"
	"github.com/openclaw/subbot-linker/internal/linking"
	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/sse"
)

type EventsHandler struct {
	registry    *linking.Registry
	broadcaster *events.Broadcaster
	heartbeat   time.Duration
}

func NewEventsHandler(registry *linking.Registry, broadcaster *events.Broadcaster) *EventsHandler {
	return &EventsHandler{
		registry:    registry,
		broadcaster: broadcaster,
		heartbeat:   sse.HeartbeatInterval,
	}
}

// GET /v1/sessions/{id}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		httputil.WriteError(w, apperrors.NotFound("session"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	// Subscribe before reading the snapshot so no transition falls between.
	client := sse.Subscribe(h.broadcaster, id)
	defer client.Close()

	session, err := h.registry.GetSession(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	log.Info().
		Str("sessionId", id).
		Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "snapshot", session.View(true)); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("sessionId", id).
				Msg("sse connection closed by client")
			return

		case <-client.Done():
			h.flushQueued(w, flusher, client)
			log.Info().
				Str("sessionId", id).
				Msg("sse stream ended with session")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}
			if final(event.Type) {
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", id).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) flushQueued(w http.ResponseWriter, flusher http.Flusher, client *sse.Client) {
	for {
		select {
		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				return
			}
		default:
			return
		}
	}
}

func final(eventType string) bool {
	return eventType == string(model.EventExpired) || eventType == string(model.EventDeleted)
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
