package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/subbot-linker/internal/events"
	"github.com/openclaw/subbot-linker/internal/httputil"
	"github.com/openclaw/subbot-linker/internal/linking"
	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/protocol/protocoltest"
	"github.com/openclaw/subbot-linker/internal/ratelimit"
	"github.com/openclaw/subbot-linker/internal/repository/repofake"
	"github.com/openclaw/subbot-linker/internal/retry"
)

type testServer struct {
	router   chi.Router
	registry *linking.Registry
	factory  *protocoltest.Factory
}

func newTestServer(t *testing.T, createLimit int) *testServer {
	t.Helper()

	factory := protocoltest.NewFactory()
	broadcaster := events.NewBroadcaster(nil, nil)
	registry := linking.NewRegistry(repofake.NewFakeSessionRepo(), factory, broadcaster, linking.Options{
		TTL: 10 * time.Minute,
		Retry: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: 5 * time.Millisecond,
			Multiplier:   1,
			Deadline:     time.Second,
		},
		KeysWait: 100 * time.Millisecond,
		KeysPoll: 5 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
		broadcaster.Close()
	})

	h := NewSessionHandler(registry, broadcaster, ratelimit.NewMemoryLimiter(time.Minute), createLimit)
	r := chi.NewRouter()
	r.Mount("/v1/sessions", h.Routes())

	return &testServer{router: r, registry: registry, factory: factory}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) model.SessionView {
	t.Helper()
	var v model.SessionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestCreateSession(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(http.MethodPost, "/v1/sessions", `{"owner":"owner-1","mode":"pairing_code","targetNumber":"+1 555 123 4567"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	v := decodeView(t, rec)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, model.LinkModePairingCode, v.LinkMode)
	assert.Equal(t, model.StatePending, v.State)
	assert.Equal(t, "1555*****67", v.TargetNumber)
}

func TestCreateSession_Errors(t *testing.T) {
	s := newTestServer(t, 10)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{"owner":`, "INVALID_INPUT"},
		{"missing owner", `{"mode":"qr_code"}`, "VALIDATION_ERROR"},
		{"bad mode", `{"owner":"o","mode":"sms"}`, "VALIDATION_ERROR"},
		{"short number", `{"owner":"o","mode":"pairing_code","targetNumber":"123"}`, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/v1/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp httputil.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.code, string(resp.Code))
		})
	}
}

func TestCreateSession_RateLimited(t *testing.T) {
	s := newTestServer(t, 2)
	body := `{"owner":"owner-1","mode":"qr_code"}`

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/v1/sessions", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(http.MethodPost, "/v1/sessions", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	other := s.do(http.MethodPost, "/v1/sessions", `{"owner":"owner-2","mode":"qr_code"}`)
	assert.Equal(t, http.StatusCreated, other.Code, "limit is per owner")
}

func TestListAndGetSession(t *testing.T) {
	s := newTestServer(t, 10)

	created := decodeView(t, s.do(http.MethodPost, "/v1/sessions", `{"owner":"owner-1","mode":"qr_code"}`))
	s.do(http.MethodPost, "/v1/sessions", `{"owner":"owner-2","mode":"qr_code"}`)

	rec := s.do(http.MethodGet, "/v1/sessions?owner=owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Sessions []model.SessionView `json:"sessions"`
		Total    int                 `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, created.ID, list.Sessions[0].ID)

	rec = s.do(http.MethodGet, "/v1/sessions?limit=1&offset=1", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list.Sessions, 1)
	assert.Equal(t, 2, list.Total)

	rec = s.do(http.MethodGet, "/v1/sessions/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeView(t, rec).ID)

	rec = s.do(http.MethodGet, "/v1/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSession_ShowsQROnlyOnSingleRead(t *testing.T) {
	s := newTestServer(t, 10)

	created := decodeView(t, s.do(http.MethodPost, "/v1/sessions", `{"owner":"owner-1","mode":"qr_code"}`))
	require.Eventually(t, func() bool { return s.factory.Last() != nil }, 2*time.Second, 5*time.Millisecond)
	client := s.factory.Last()
	<-client.Connected()
	client.EmitQR("2@qr-payload")

	require.Eventually(t, func() bool {
		rec := s.do(http.MethodGet, "/v1/sessions/"+created.ID, "")
		var v model.SessionView
		return json.Unmarshal(rec.Body.Bytes(), &v) == nil && v.QRPayload == "2@qr-payload"
	}, 2*time.Second, 5*time.Millisecond)

	rec := s.do(http.MethodGet, "/v1/sessions?owner=owner-1", "")
	assert.NotContains(t, rec.Body.String(), "2@qr-payload")
}

func TestDeleteSession(t *testing.T) {
	s := newTestServer(t, 10)

	created := decodeView(t, s.do(http.MethodPost, "/v1/sessions", `{"owner":"owner-1","mode":"qr_code"}`))

	rec := s.do(http.MethodDelete, "/v1/sessions/"+created.ID, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"teardown_initiated"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/v1/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/v1/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusAccepted, rec.Code, "repeated delete is accepted")
	assert.JSONEq(t, `{"status":"teardown_initiated"}`, rec.Body.String())

	rec = s.do(http.MethodDelete, "/v1/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsStream(t *testing.T) {
	s := newTestServer(t, 10)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	created := decodeView(t, s.do(http.MethodPost, "/v1/sessions", `{"owner":"owner-1","mode":"qr_code"}`))
	require.Eventually(t, func() bool { return s.factory.Last() != nil }, 2*time.Second, 5*time.Millisecond)
	client := s.factory.Last()
	<-client.Connected()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/sessions/"+created.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	next := func() string {
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event: ") {
				return strings.TrimPrefix(line, "event: ")
			}
		}
		return ""
	}

	types = append(types, next())
	client.EmitQR("2@first")
	types = append(types, next())

	go func() {
		_ = s.registry.DeleteSession(context.Background(), created.ID, model.ReasonRequested)
	}()
	types = append(types, next())
	types = append(types, next())

	assert.Equal(t, []string{"snapshot", "qr_ready", "deleted", ""}, types)
}

func TestEventsStream_UnknownSession(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(http.MethodGet, "/v1/sessions/missing/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSession_ValidationDetails(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(http.MethodPost, "/v1/sessions", `{"owner":"o","mode":"pairing_code","targetNumber":"123","customCode":"AB"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "min", resp.Details["targetNumber"])
	assert.Equal(t, "len", resp.Details["customCode"])
}
