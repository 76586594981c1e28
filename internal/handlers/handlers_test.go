package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callboard/internal/config"
	"callboard/internal/hub"
	"callboard/internal/websocket"
	"callboard/pkg/api/callboard"
	"callboard/pkg/api/common"
	"callboard/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	hub    *hub.Hub
	router *gin.Engine
	h      *CrierHandlers
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	hb := hub.New(cfg.HubConfig(), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hb.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := NewCrierHandlers(hb, websocket.NewServer(hb, logger, nil), cfg, logger, nil)
	r := gin.New()
	h.RegisterRoutes(r)
	return &testEnv{hub: hb, router: r, h: h}
}

func defaultConfig() config.Config {
	return config.Config{
		Port:                   "18030",
		Environment:            "test",
		StoreCapacity:          50,
		HistoryLimit:           10,
		AllowTestAnnouncements: true,
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestSubmitAcceptsAllRoutesAndKeys(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	cases := []struct {
		path string
		body string
	}{
		{"/api/announcements", `{"announcement": [1, null, "Room 1", "Jane Doe"]}`},
		{"/api/aviso", `{"aviso": [2, null, "Room 2", "John Roe"]}`},
		{"/aviso", `{"aviso": [3, null, "Room 3", "Ana Lima"]}`},
	}

	for i, tc := range cases {
		w := env.do(http.MethodPost, tc.path, tc.body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp callboard.SubmitResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, int64(i+1), resp.ID)
		assert.False(t, resp.Timestamp.IsZero())
		assert.Equal(t, resp.ID, resp.Announcement.ID)
	}

	all, err := env.hub.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Ana Lima", all[0].Payload.PersonName)
}

func TestSubmitRejectsWrongShape(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	for _, body := range []string{
		`{"announcement": [1, null, "Room 1"]}`,
		`{"aviso": "Room 1"}`,
		`{}`,
		``,
	} {
		w := env.do(http.MethodPost, "/api/announcements", body)
		require.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)

		var resp common.ValidationErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, callboard.ErrCodeValidation, resp.Error)
		assert.NotEmpty(t, resp.Fields)
	}

	all, err := env.hub.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "rejected payloads never reach the store")
}

func TestSubmitStoresPayloadUnchanged(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	payloads := []string{
		`[1,null,"Room 1","Jane Doe"]`,
		`[1,null,"Room 1",null]`,
		`[1,null,7,{"a":1}]`,
		`[{"ticket":"A-12"},["x",2],{"floor":2},["a"]]`,
	}
	for _, p := range payloads {
		w := env.do(http.MethodPost, "/api/announcements", `{"announcement": `+p+`}`)
		require.Equal(t, http.StatusOK, w.Code, p)
	}

	all, err := env.hub.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, len(payloads))
	for i, p := range payloads {
		// newest first
		assert.JSONEq(t, p, mustJSON(t, all[len(all)-1-i].Payload))
	}
}

func TestRejectedSubmitIsNotBroadcast(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()

	sub, err := env.hub.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Cancel()

	next := func(timeout time.Duration) (hub.Event, bool) {
		select {
		case ev := <-sub.Events():
			return ev, true
		case <-time.After(timeout):
			return nil, false
		}
	}
	ev, ok := next(time.Second)
	require.True(t, ok)
	require.IsType(t, hub.PendingBacklog{}, ev)
	ev, ok = next(time.Second)
	require.True(t, ok)
	require.IsType(t, hub.ConnectionStatus{}, ev)

	w := env.do(http.MethodPost, "/api/announcements", `[1,null,"Room 1"]`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	ev, ok = next(100 * time.Millisecond)
	assert.False(t, ok, "unexpected event %v", ev)

	all, err := env.hub.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	w = env.do(http.MethodPost, "/api/announcements", `[1,null,"Room 1","Jane"]`)
	require.Equal(t, http.StatusOK, w.Code)
	ev, ok = next(time.Second)
	require.True(t, ok)
	assert.IsType(t, hub.NewAnnouncement{}, ev)
}

func TestListRoutes(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		p, err := models.NewPayload(i, "Room", "P")
		require.NoError(t, err)
		_, err = env.hub.Publish(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, env.hub.Acknowledge(ctx, 2))

	for _, path := range []string{"/api/announcements", "/api/avisos", "/avisos"} {
		w := env.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp callboard.ListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Total, path)
		assert.Equal(t, int64(3), resp.Announcements[0].ID)
	}

	for _, path := range []string{"/api/announcements/pending", "/avisos/novos"} {
		w := env.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp callboard.ListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 2, resp.Total, path)
		assert.Equal(t, int64(3), resp.Announcements[0].ID)
		assert.Equal(t, int64(1), resp.Announcements[1].ID)
	}
}

func TestEmptyListIsArray(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	w := env.do(http.MethodGet, "/api/announcements/pending", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"announcements":[],"total":0}`, w.Body.String())
}

func TestMarkProcessed(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	p, err := models.NewPayload(1, "Room 1", "Jane")
	require.NoError(t, err)
	a, err := env.hub.Publish(context.Background(), p)
	require.NoError(t, err)

	w := env.do(http.MethodPost, "/api/announcements/1/processed", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// legacy alias, already processed: still success
	w = env.do(http.MethodPost, "/avisos/1/processar", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodPost, "/api/avisos/1/processar", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPost, "/api/announcements/77/processed", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var nf common.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nf))
	assert.Equal(t, callboard.ErrCodeNotFound, nf.Error)

	w = env.do(http.MethodPost, "/api/announcements/abc/processed", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	pending, err := env.hub.ListUnprocessed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	all, err := env.hub.ListAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.ID, all[0].ID)
	assert.True(t, all[0].Processed)
}

func TestTestAnnouncement(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.h.now = func() time.Time { return time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC) }

	for _, path := range []string{"/api/test-announcement", "/api/teste", "/teste-aviso"} {
		w := env.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
	}

	all, err := env.hub.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Test room", all[0].Payload.Location)
	assert.Equal(t, "Test patient 10:30:00", all[0].Payload.PersonName)
}

func TestTestAnnouncementDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.AllowTestAnnouncements = false
	env := newTestEnv(t, cfg)

	w := env.do(http.MethodGet, "/api/test-announcement", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	all, err := env.hub.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	p, err := models.NewPayload(1, "Room 1", "Jane")
	require.NoError(t, err)
	_, err = env.hub.Publish(context.Background(), p)
	require.NoError(t, err)

	for _, path := range []string{"/api/status", "/status"} {
		w := env.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code)

		var st callboard.StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
		assert.Equal(t, "crier", st.Service)
		assert.Equal(t, "test", st.Environment)
		assert.Equal(t, 1, st.TotalAnnouncements)
		assert.Equal(t, 1, st.PendingAnnouncements)
		require.NotNil(t, st.LatestAnnouncement)
		assert.Equal(t, "Jane", st.LatestAnnouncement.Payload.PersonName)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	w := env.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp common.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Error)
	assert.Equal(t, "crier", resp.Service)
}

func TestHubStoppedReturns503(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	hb := hub.New(hub.Config{}, logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hb.Run(ctx)
	}()
	cancel()
	<-done

	h := NewCrierHandlers(hb, websocket.NewServer(hb, logger, nil), defaultConfig(), logger, nil)
	r := gin.New()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/announcements",
		strings.NewReader(`{"announcement": [1, null, "Room 1", "Jane"]}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// A subscriber connected before the POST has the announcement queued by the
// time the HTTP response is written.
func TestEndToEndSubmitReachesSubscriber(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() callboard.Envelope {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame callboard.Envelope
		require.NoError(t, conn.ReadJSON(&frame))
		return frame
	}
	require.Equal(t, callboard.TypePendingBacklog, read().Type)
	require.Equal(t, callboard.TypeConnectionStatus, read().Type)

	resp, err := http.Post(srv.URL+"/api/announcements", "application/json",
		strings.NewReader(`{"announcement": [1, null, "Room 1", "Jane Doe"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var submitted callboard.SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	assert.Equal(t, 1, submitted.ConnectedClients)

	pushed := read()
	require.Equal(t, callboard.TypeNewAnnouncement, pushed.Type)
	var a models.Announcement
	require.NoError(t, json.Unmarshal(pushed.Data, &a))
	assert.Equal(t, submitted.ID, a.ID)
	assert.JSONEq(t, `[1, null, "Room 1", "Jane Doe"]`, mustJSON(t, a.Payload))
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}
