package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	v1 "github.com/sebas/opdesk/api/types/v1"
	"github.com/sebas/opdesk/internal/panel/action"
	"github.com/sebas/opdesk/internal/panel/ami"
	"github.com/sebas/opdesk/internal/panel/scope"
	"github.com/sebas/opdesk/internal/panel/session"
	"github.com/sebas/opdesk/internal/panel/state"
)

var t0 = time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeLink struct {
	mu      sync.Mutex
	sent    []ami.Command
	resyncs int
}

func (f *fakeLink) Send(cmd ami.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeLink) RequestResync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
	return nil
}

func seededStore() *state.Store {
	st := state.NewStore()
	st.Apply(state.ReplaceAllEvent{
		Base: state.Base{At: t0},
		Extensions: []state.Extension{
			{Number: "1001", Name: "Alice", Status: state.StatusIdle},
			{Number: "1002", Name: "Bob", Status: state.StatusInCall},
		},
		Calls: []state.Call{
			{
				ID:        "c-1",
				Caller:    state.Endpoint{Number: "1002", Name: "Bob"},
				Callee:    state.Endpoint{Number: "5551234"},
				State:     state.CallStateUp,
				StartedAt: t0.Add(-time.Minute),
			},
		},
		Queues: []state.Queue{
			{Name: "support", Strategy: "ringall", Completed: 7},
		},
	})
	return st
}

func testOperators() map[string]scope.Identity {
	return map[string]scope.Identity{
		"admin-token": {Name: "root", Role: scope.RoleAdmin, Extension: "1000"},
		"sup-token": {
			Name:       "sam",
			Role:       scope.RoleSupervisor,
			Extension:  "1001",
			Extensions: []string{"1001"},
			Queues:     []string{"support"},
			Actions:    []string{v1.ActionListen},
		},
	}
}

// newTestServer builds a fully wired Server and starts the session pump.
func newTestServer(t *testing.T) (*Server, *state.Store, *fakeLink) {
	t.Helper()
	store := seededStore()
	link := &fakeLink{}
	hub := session.NewManager(session.Config{
		Policy:    scope.Policy{OwnExtensionVisible: true},
		Translate: action.Translator{Tech: "PJSIP"},
	}, store, link)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return NewServer(":0", hub, store, testOperators()), store, link
}

func doRequest(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("X-OpDesk-Token", token)
	}
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsOpen(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status field = %v, want ok", body["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"unknown token", "wrong", http.StatusForbidden},
		{"valid token", "admin-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodGet, "/api/v1/status", tt.token)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStatusReportsCounts(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "admin-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Revision    uint64 `json:"revision"`
		Stale       bool   `json:"stale"`
		Sessions    int    `json:"sessions"`
		Extensions  int    `json:"extensions"`
		ActiveCalls int    `json:"active_calls"`
		Queues      int    `json:"queues"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode status body: %v", err)
	}
	if body.Extensions != 2 {
		t.Errorf("extensions = %d, want 2", body.Extensions)
	}
	if body.ActiveCalls != 1 {
		t.Errorf("active_calls = %d, want 1", body.ActiveCalls)
	}
	if body.Queues != 1 {
		t.Errorf("queues = %d, want 1", body.Queues)
	}
	if body.Sessions != 0 {
		t.Errorf("sessions = %d, want 0", body.Sessions)
	}
	if body.Revision == 0 {
		t.Error("revision = 0, want non-zero after seeding")
	}
	if body.Stale {
		t.Error("stale = true, want false")
	}
}

func TestStateIsScoped(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/state", "sup-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var msg v1.StateMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode state body: %v", err)
	}
	if msg.Type != v1.TypeState {
		t.Errorf("type = %q, want %q", msg.Type, v1.TypeState)
	}
	if len(msg.Extensions) != 1 {
		t.Fatalf("extensions = %d, want 1 (supervisor scope)", len(msg.Extensions))
	}
	if _, ok := msg.Extensions["1001"]; !ok {
		t.Error("extension 1001 missing from supervisor view")
	}
	if len(msg.ActiveCalls) != 0 {
		t.Errorf("active_calls = %d, want 0 (call is out of scope)", len(msg.ActiveCalls))
	}
	if len(msg.Queues) != 1 {
		t.Errorf("queues = %d, want 1", len(msg.Queues))
	}
}

// wsFrame reads one frame from the websocket and decodes its type field.
func wsFrame(t *testing.T, ws *websocket.Conn) (string, []byte) {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode frame envelope: %v", err)
	}
	return env.Type, data
}

func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWebsocketStreamsState(t *testing.T) {
	s, store, _ := newTestServer(t)
	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	ws := dialWS(t, ts, "admin-token")

	typ, data := wsFrame(t, ws)
	if typ != v1.TypeState {
		t.Fatalf("first frame type = %q, want %q", typ, v1.TypeState)
	}
	var full v1.StateMessage
	if err := json.Unmarshal(data, &full); err != nil {
		t.Fatalf("decode state frame: %v", err)
	}
	if len(full.Extensions) != 2 {
		t.Errorf("extensions = %d, want 2", len(full.Extensions))
	}

	store.Apply(state.ExtensionStatusEvent{
		Base:   state.Base{At: t0.Add(time.Second)},
		Number: "1001",
		Status: state.StatusRinging,
	})

	typ, data = wsFrame(t, ws)
	if typ != v1.TypeDiff {
		t.Fatalf("second frame type = %q, want %q", typ, v1.TypeDiff)
	}
	var diff v1.DiffMessage
	if err := json.Unmarshal(data, &diff); err != nil {
		t.Fatalf("decode diff frame: %v", err)
	}
	if diff.Changed == nil || diff.Changed.Extensions["1001"].Status != "ringing" {
		t.Errorf("diff does not carry the 1001 ringing change: %+v", diff.Changed)
	}
}

func TestWebsocketActionRoundTrip(t *testing.T) {
	s, _, link := newTestServer(t)
	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	ws := dialWS(t, ts, "admin-token")
	wsFrame(t, ws) // initial state

	if err := ws.WriteJSON(v1.ActionRequest{Action: v1.ActionSync}); err != nil {
		t.Fatalf("write action: %v", err)
	}
	typ, data := wsFrame(t, ws)
	if typ != v1.TypeActionResult {
		t.Fatalf("frame type = %q, want %q", typ, v1.TypeActionResult)
	}
	var res v1.ActionResultMessage
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decode action result: %v", err)
	}
	if !res.Success {
		t.Errorf("sync result success = false, message %q", res.Message)
	}

	link.mu.Lock()
	resyncs := link.resyncs
	link.mu.Unlock()
	if resyncs != 1 {
		t.Errorf("resyncs = %d, want 1", resyncs)
	}
}

func TestWebsocketMalformedFrame(t *testing.T) {
	s, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	ws := dialWS(t, ts, "admin-token")
	wsFrame(t, ws) // initial state

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}
	typ, data := wsFrame(t, ws)
	if typ != v1.TypeNotification {
		t.Fatalf("frame type = %q, want %q", typ, v1.TypeNotification)
	}
	var note v1.NotificationMessage
	if err := json.Unmarshal(data, &note); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if !strings.Contains(note.Text, "malformed request") {
		t.Errorf("notification text = %q, want malformed request notice", note.Text)
	}
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	s, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=wrong"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		ws.Close()
		t.Fatal("dial succeeded with an invalid token")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("handshake response = %v, want %d", resp, http.StatusForbidden)
	}
}
