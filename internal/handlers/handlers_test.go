package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"joy-journal/internal/models"
	"joy-journal/internal/repository"
	"joy-journal/internal/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const viewOrigin = "http://localhost:8787"

type apiFixture struct {
	handler http.Handler
	svc     Services
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	local, err := repository.OpenLocalStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	sessions := services.NewSessionManager(nil)
	moments := services.NewMomentService(sessions, local, nil, nil)
	profiles := services.NewProfileService(nil, local, sessions, nil)
	hub := services.NewWSHub()

	sessions.Subscribe(moments.HandleAuthEvent)
	moments.OnLoad(hub.NotifyMomentsLoaded)
	sessions.Init(context.Background())

	svc := Services{Sessions: sessions, Moments: moments, Profiles: profiles, Hub: hub}
	return &apiFixture{handler: NewRouter(svc, []string{viewOrigin}), svc: svc}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

type listResponse struct {
	Moments []models.Moment `json:"moments"`
	Total   int             `json:"total"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestMomentsAPI_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/moments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse](t, rec)
	assert.Equal(t, 3, list.Total)

	rec = f.do(t, http.MethodPost, "/api/v1/moments", CreateMomentRequest{Content: "Saw a rainbow", Date: "2024-05-01"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[models.Moment](t, rec)
	assert.Equal(t, "Saw a rainbow", created.Content)
	assert.True(t, created.Color.Valid())

	rec = f.do(t, http.MethodGet, "/api/v1/moments", nil)
	list = decode[listResponse](t, rec)
	require.Equal(t, 4, list.Total)
	assert.Equal(t, created.ID, list.Moments[0].ID)

	rec = f.do(t, http.MethodDelete, "/api/v1/moments/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/moments/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/moments", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/moments/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[listResponse](t, rec).Total)

	rec = f.do(t, http.MethodGet, "/api/v1/moments/random", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMomentsAPI_RejectsBlankContent(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/moments", CreateMomentRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/moments", CreateMomentRequest{Content: "Saw a rainbow", Date: "10/12/2023"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/moments", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMomentsAPI_TimelineAndStats(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/moments/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	timeline := decode[listResponse](t, rec)
	require.Len(t, timeline.Moments, 3)
	assert.Equal(t, "2023-10-12", timeline.Moments[0].Date)
	assert.Equal(t, "2023-10-10", timeline.Moments[2].Date)

	rec = f.do(t, http.MethodGet, "/api/v1/moments/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[models.Stats](t, rec)
	assert.Equal(t, 3, stats.Total)
	require.Len(t, stats.Colors, 4)
	assert.Equal(t, models.ColorPrimary, stats.Colors[0].Color)
	assert.Equal(t, 1, stats.Colors[0].Count)
}

func TestAuthAPI_NotConfigured(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	session := decode[SessionResponse](t, rec)
	assert.Equal(t, services.StatusUnauthenticated, session.Status)
	assert.False(t, session.Configured)
	assert.Nil(t, session.User)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/signin", CredentialsRequest{Email: "a@example.com", Password: "secret"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "not configured")

	rec = f.do(t, http.MethodPost, "/api/v1/auth/signin", CredentialsRequest{Email: "a@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/magic-link", EmailRequest{Email: "a@example.com"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/oauth", OAuthRequest{Provider: "google"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/callback", CallbackRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/signout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProfileAPI_Anonymous(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Happy User", decode[ProfileResponse](t, rec).DisplayName)

	rec = f.do(t, http.MethodPut, "/api/v1/profile/name", map[string]string{"name": "Piggy"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Piggy", decode[ProfileResponse](t, rec).DisplayName)

	rec = f.do(t, http.MethodGet, "/api/v1/profile", nil)
	profile := decode[ProfileResponse](t, rec)
	assert.Equal(t, "Piggy", profile.DisplayName)
	assert.Nil(t, profile.Profile)

	rec = f.do(t, http.MethodPut, "/api/v1/profile/avatar", map[string]string{"image": "data:image/png;base64,aGk="})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORS_ViewOriginAllowed(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/moments", nil)
	req.Header.Set("Origin", viewOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, viewOrigin, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/moments", nil)
	req.Header.Set("Origin", viewOrigin)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, viewOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ForeignOriginRejected(t *testing.T) {
	f := newAPIFixture(t)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/moments"},
		{http.MethodOptions, "/api/v1/moments"},
		{http.MethodDelete, "/api/v1/moments"},
		{http.MethodPost, "/api/v1/auth/callback"},
		{http.MethodPost, "/api/v1/auth/signout"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}"))
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", tc.method, tc.path)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.NotContains(t, rec.Body.String(), "rainbow")
	}

	// nothing was cleared
	assert.Equal(t, 3, f.svc.Moments.Count())
}

func TestMomentsAPI_BodyTooLarge(t *testing.T) {
	f := newAPIFixture(t)

	image := "data:image/png;base64," + strings.Repeat("A", maxBodyBytes)
	rec := f.do(t, http.MethodPost, "/api/v1/moments", CreateMomentRequest{Content: "big", ImageData: image})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 3, f.svc.Moments.Count())
}

func TestWebSocket_InitialStateAndBroadcast(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() services.WSMessage {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg services.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	assert.Equal(t, "session_changed", read().Type)
	hello := read()
	assert.Equal(t, "moments_loaded", hello.Type)
	assert.Len(t, hello.Data, 3)

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "ping"}))
	assert.Equal(t, "pong", read().Type)

	require.NoError(t, f.svc.Moments.ClearAll(context.Background()))
	require.NoError(t, f.svc.Moments.Load(context.Background()))
	loaded := read()
	assert.Equal(t, "moments_loaded", loaded.Type)
	assert.Len(t, loaded.Data, 0)

	require.NoError(t, conn.WriteJSON(services.WSMessage{Type: "bogus"}))
	assert.Equal(t, "error", read().Type)
}

func TestWebSocket_ForeignOriginRejected(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", viewOrigin)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	conn.Close()
}
