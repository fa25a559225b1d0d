package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/adapters/signal"
	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		Mode:       "release",
		Secret:     "test-secret",
		StaticPath: t.TempDir(),
		ICEServers: []config.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
		},
	}
	hub := signal.NewHub(app.DropThenKick{})
	coord := orch.New(orch.Config{}, hub, nil)
	t.Cleanup(coord.Shutdown)
	ctrl := signal.NewSignalWSController(coord, hub, signal.Options{
		PingPeriod:   time.Second,
		PongWait:     2 * time.Second,
		WriteWait:    time.Second,
		RateLimit:    3,
		RateInterval: time.Minute,
		Limits:       protocol.Limits{MaxIdentityLen: 64, MaxRoomLen: 16},
	})
	srv := httptest.NewServer(SetupRouter(ctx, cfg, coord, ctrl))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func recv(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func getJSON(t *testing.T, url string, status int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, status, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestSignalingOverWebSocket(t *testing.T) {
	srv := newServer(t)
	a, b := dial(t, srv), dial(t, srv)

	send(t, a, map[string]any{"type": "room:join", "email": "a@x", "room": "ABCD"})
	ackA := recv(t, a)
	assert.Equal(t, "room:join", ackA["type"])
	assert.Empty(t, ackA["users"])
	idA := ackA["id"].(string)

	send(t, b, map[string]any{"type": "room:join", "identity": "b@x", "room": "ABCD"})
	ackB := recv(t, b)
	idB := ackB["id"].(string)
	users := ackB["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, idA, users[0].(map[string]any)["id"])

	joined := recv(t, a)
	assert.Equal(t, "user:joined", joined["type"])
	assert.Equal(t, idB, joined["id"])
	assert.Equal(t, "b@x", joined["identity"])

	send(t, a, map[string]any{"type": "user:call", "to": idB, "offer": map[string]any{"sdp": "o"}})
	incoming := recv(t, b)
	assert.Equal(t, "incoming:call", incoming["type"])
	assert.Equal(t, idA, incoming["from"])
	assert.Equal(t, map[string]any{"sdp": "o"}, incoming["offer"])
	callID, _ := incoming["call_id"].(string)
	require.NotEmpty(t, callID)

	send(t, b, map[string]any{"type": "call:accepted", "to": idA, "call_id": callID, "ans": map[string]any{"sdp": "a"}})
	accepted := recv(t, a)
	assert.Equal(t, "call:accepted", accepted["type"])
	assert.Equal(t, idB, accepted["from"])

	send(t, a, map[string]any{"type": "peer:ice-candidate", "to": idB, "candidate": map[string]any{"c": 1}})
	cand := recv(t, b)
	assert.Equal(t, "peer:ice-candidate", cand["type"])

	send(t, b, map[string]any{"type": "room:join", "room": "ABCD"})
	bad := recv(t, b)
	assert.Equal(t, "room:error", bad["type"])
	assert.Equal(t, "identity is required", bad["message"])

	send(t, b, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", recv(t, b)["type"])

	calls := getJSON(t, srv.URL+"/api/calls", http.StatusOK)["calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "connected", calls[0].(map[string]any)["state"])

	require.NoError(t, b.Close())
	left := recv(t, a)
	assert.Equal(t, "user:left", left["type"])
	assert.Equal(t, idB, left["id"])
	ended := recv(t, a)
	assert.Equal(t, "call:ended", ended["type"])
	assert.Equal(t, "disconnect", ended["reason"])

	rooms := getJSON(t, srv.URL+"/api/rooms", http.StatusOK)["rooms"].([]any)
	require.Len(t, rooms, 1)
	assert.Equal(t, "ABCD", rooms[0].(map[string]any)["name"])
	assert.EqualValues(t, 1, rooms[0].(map[string]any)["client_count"])

	members := getJSON(t, srv.URL+"/api/rooms/ABCD/members", http.StatusOK)["members"].([]any)
	require.Len(t, members, 1)
	getJSON(t, srv.URL+"/api/rooms/nope/members", http.StatusNotFound)

	presence := getJSON(t, srv.URL+"/api/presence/a@x", http.StatusOK)
	assert.Equal(t, []any{idA}, presence["connections"])
	assert.Equal(t, []any{"ABCD"}, presence["rooms"])
}

func TestRateLimitedJoin(t *testing.T) {
	srv := newServer(t)
	ws := dial(t, srv)
	for i := 0; i < 3; i++ {
		send(t, ws, map[string]any{"type": "room:join", "identity": "a@x", "room": "r"})
		assert.Equal(t, "room:join", recv(t, ws)["type"])
	}
	send(t, ws, map[string]any{"type": "room:join", "identity": "a@x", "room": "r"})
	msg := recv(t, ws)
	assert.Equal(t, "room:error", msg["type"])
	assert.Equal(t, "rate limited", msg["message"])
}

func TestIdentityChangeRejected(t *testing.T) {
	srv := newServer(t)
	ws := dial(t, srv)
	send(t, ws, map[string]any{"type": "room:join", "identity": "a@x", "room": "r"})
	recv(t, ws)
	send(t, ws, map[string]any{"type": "room:join", "identity": "z@x", "room": "r"})
	msg := recv(t, ws)
	assert.Equal(t, "room:error", msg["type"])
	assert.Contains(t, msg["message"], "already joined as a@x")
}

func TestICEServersAndHealth(t *testing.T) {
	srv := newServer(t)
	body := getJSON(t, srv.URL+"/api/ice-servers", http.StatusOK)
	servers := body["ice_servers"].([]any)
	require.Len(t, servers, 2)
	turn := servers[1].(map[string]any)
	assert.Equal(t, []any{"turn:turn.example.com:3478"}, turn["urls"])
	assert.Equal(t, "u", turn["username"])

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
