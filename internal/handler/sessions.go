package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/subbot-linker/internal/audit"
	"github.com/openclaw/subbot-linker/internal/config"
	apperrors "github.com/openclaw/subbot-linker/internal/errors"
	"github.com/openclaw/subbot-linker/internal/events"
	"github.com/openclaw/subbot-linker/internal/httputil"
	"github.com/openclaw/subbot-linker/internal/linking"
	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/ratelimit"
	redisclient "github.com/openclaw/subbot-linker/internal/redis"
	"github.com/openclaw/subbot-linker/internal/util"
)

type SessionHandler struct {
	registry    *linking.Registry
	broadcaster *events.Broadcaster
	limiter     ratelimit.Limiter
	createLimit int
}

// NewSessionHandler wires the session API. A nil limiter disables creation
// rate limiting.
func NewSessionHandler(
	registry *linking.Registry,
	broadcaster *events.Broadcaster,
	limiter ratelimit.Limiter,
	createLimit int,
) *SessionHandler {
	return &SessionHandler{
		registry:    registry,
		broadcaster: broadcaster,
		limiter:     limiter,
		createLimit: createLimit,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Event streams are long-lived and stay outside the request timeout.
	r.Get("/{id}/events", NewEventsHandler(h.registry, h.broadcaster).ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Get("/{id}", h.GetSession)
		r.Delete("/{id}", h.DeleteSession)
	})

	return r
}

type createSessionRequest struct {
	Owner        string `json:"owner"`
	Mode         string `json:"mode"`
	TargetNumber string `json:"targetNumber"`
	DisplayName  string `json:"displayName"`
	CustomCode   string `json:"customCode"`
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorWithStatus(w, http.StatusRequestEntityTooLarge,
				apperrors.InvalidInput("body", "request body too large"))
			return
		}
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if h.limiter != nil && req.Owner != "" {
		allowed, remaining, resetAt := h.limiter.Check(ctx, redisclient.CreateLimitKey(req.Owner), h.createLimit)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.createLimit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
		if !allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Owner:   req.Owner,
				Details: map[string]interface{}{"limit": h.createLimit},
			})
			if retry := resetAt - time.Now().Unix(); retry > 0 {
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
			}
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}
	}

	session, err := h.registry.CreateSession(ctx, req.Owner, model.LinkMode(req.Mode), linking.CreateOptions{
		TargetNumber: req.TargetNumber,
		DisplayName:  req.DisplayName,
		CustomCode:   req.CustomCode,
	})
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("owner", req.Owner).Msg("failed to create session")
		}
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		Owner:     session.OwnerIdentity,
		SessionID: session.ID,
		Details:   map[string]interface{}{"mode": string(session.LinkMode)},
	})

	writeJSON(w, http.StatusCreated, session.View(true))
}

// GET /v1/sessions?owner=
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.registry.ListSessions(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	page, total := Page(sessions, ParsePagination(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": views(page),
		"total":    total,
	})
}

// sessionID returns the {id} path parameter, or "" when it cannot name a
// session.
func sessionID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if !util.IsValidUUID(id) {
		return ""
	}
	return id
}

// GET /v1/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		httputil.WriteError(w, apperrors.NotFound("session"))
		return
	}

	session, err := h.registry.GetSession(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session.View(true))
}

// DELETE /v1/sessions/{id}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		httputil.WriteError(w, apperrors.NotFound("session"))
		return
	}

	// Already removed sessions are accepted so retries stay idempotent.
	var owner string
	session, err := h.registry.GetSession(r.Context(), id)
	switch {
	case err == nil:
		owner = session.OwnerIdentity
	case !apperrors.HasCode(err, apperrors.ErrCodeNotFound):
		httputil.WriteError(w, err)
		return
	}

	if err := h.registry.DeleteSession(r.Context(), id, model.ReasonRequested); err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionDelete,
		Owner:     owner,
		SessionID: id,
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "teardown_initiated"})
}
