package audit

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLog(t *testing.T) {
	buf := captureLogs(t)

	Log(context.Background(), Event{
		Type:      EventSessionCreate,
		Owner:     "owner-1",
		SessionID: "s1",
		Details:   map[string]interface{}{"mode": "qr_code", "attempts": 3},
	})

	out := buf.String()
	assert.Contains(t, out, `"audit":"security"`)
	assert.Contains(t, out, `"event_type":"session_create"`)
	assert.Contains(t, out, `"owner":"owner-1"`)
	assert.Contains(t, out, `"session_id":"s1"`)
	assert.Contains(t, out, `"mode":"qr_code"`)
	assert.Contains(t, out, `"attempts":3`)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", ClientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.3")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestLog_RefusalsAreWarnings(t *testing.T) {
	buf := captureLogs(t)

	Log(context.Background(), Event{Type: EventAuthFailure, IP: "10.0.0.9"})

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"ip":"10.0.0.9"`)
	assert.NotContains(t, out, `"owner"`)
}
