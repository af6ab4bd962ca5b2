// Package audit records who created, deleted or was refused access to a
// linking session.
package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionCreate   EventType = "session_create"
	EventSessionDelete   EventType = "session_delete"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
	EventAuthFailure     EventType = "auth_failure"
)

type Event struct {
	Type      EventType
	Owner     string
	SessionID string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

// level reports refusals as warnings so they survive a warn-level filter.
func (e Event) level() zerolog.Level {
	switch e.Type {
	case EventAuthFailure, EventRateLimitExceed:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func Log(ctx context.Context, event Event) {
	entry := log.WithLevel(event.level()).
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now())

	optional := map[string]string{
		"owner":      event.Owner,
		"session_id": event.SessionID,
		"ip":         event.IP,
		"user_agent": event.UserAgent,
	}
	for key, value := range optional {
		if value != "" {
			entry = entry.Str(key, value)
		}
	}
	if len(event.Details) > 0 {
		entry = entry.Fields(event.Details)
	}

	entry.Msg("security audit event")
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP prefers the first proxy-reported address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
