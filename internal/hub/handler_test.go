package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	iddomain "kaldor-iiot/backend/internal/identity/domain"
	"kaldor-iiot/backend/internal/security"
	"kaldor-iiot/backend/internal/telemetry/domain"
)

type wsHarness struct {
	hub    *Hub
	tokens *security.TokenService
	server *httptest.Server
}

func newWSHarness(t *testing.T, cfg Config) *wsHarness {
	t.Helper()
	h := newTestHub(t)
	tokens := security.NewTestTokenService()
	srv := httptest.NewServer(NewHandler(h, tokens, cfg, zap.NewNop()))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return &wsHarness{hub: h, tokens: tokens, server: srv}
}

func (w *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(w.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (w *wsHarness) token(t *testing.T) string {
	t.Helper()
	tok, _, err := w.tokens.Issue(iddomain.Identity{
		SubjectID: "viewer-1", DisplayName: "viewer", Roles: []string{iddomain.RoleViewer}, Perimeter: iddomain.PerimeterOuter,
	})
	require.NoError(t, err)
	return tok
}

func send(t *testing.T, ws *websocket.Conn, env Envelope) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(env))
}

func recv(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func TestWS_SubscribeBeforeAuthenticate(t *testing.T) {
	w := newWSHarness(t, Config{})
	ws := w.dial(t)

	send(t, ws, Envelope{Type: TypeSubscribe, EntityID: "LOOM-1"})
	env := recv(t, ws)
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, "Not authenticated", env.Message)
	assert.Zero(t, w.hub.RoomSize("LOOM-1"))
}

func TestWS_AuthenticateFailureCloses(t *testing.T) {
	w := newWSHarness(t, Config{})
	ws := w.dial(t)

	send(t, ws, Envelope{Type: TypeAuthenticate, Token: "garbage"})
	env := recv(t, ws)
	assert.Equal(t, TypeAuthenticated, env.Type)
	require.NotNil(t, env.Success)
	assert.False(t, *env.Success)

	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "err = %v", err)
}

func TestWS_SubscribeReceiveUnsubscribe(t *testing.T) {
	w := newWSHarness(t, Config{})
	ws := w.dial(t)

	send(t, ws, Envelope{Type: TypeAuthenticate, Token: w.token(t)})
	env := recv(t, ws)
	require.Equal(t, TypeAuthenticated, env.Type)
	require.True(t, *env.Success)

	send(t, ws, Envelope{Type: TypeSubscribe, EntityID: "LOOM-1"})
	env = recv(t, ws)
	assert.Equal(t, TypeSubscribed, env.Type)
	assert.Equal(t, "LOOM-1", env.EntityID)
	assert.Equal(t, 1, w.hub.RoomSize("LOOM-1"))

	w.hub.BroadcastEvent(domain.Event{
		EntityID: "LOOM-1", Kind: domain.KindStatus, Payload: json.RawMessage(`{"online":true}`), ReceivedAt: time.Now(),
	})
	env = recv(t, ws)
	assert.Equal(t, TypeStatusChange, env.Type)

	send(t, ws, Envelope{Type: TypeUnsubscribe, EntityID: "LOOM-1"})
	env = recv(t, ws)
	assert.Equal(t, TypeUnsubscribed, env.Type)
	assert.Zero(t, w.hub.RoomSize("LOOM-1"))
}

func TestWS_InvalidFrames(t *testing.T) {
	w := newWSHarness(t, Config{})
	ws := w.dial(t)
	send(t, ws, Envelope{Type: TypeAuthenticate, Token: w.token(t)})
	recv(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "invalid message", recv(t, ws).Message)

	send(t, ws, Envelope{Type: TypeSubscribe, EntityID: "a/b"})
	assert.Equal(t, "invalid entityId", recv(t, ws).Message)

	send(t, ws, Envelope{Type: "dance"})
	assert.Equal(t, "unknown message type", recv(t, ws).Message)
}

func TestWS_DisconnectCleansRooms(t *testing.T) {
	w := newWSHarness(t, Config{})
	ws := w.dial(t)
	send(t, ws, Envelope{Type: TypeAuthenticate, Token: w.token(t)})
	recv(t, ws)
	send(t, ws, Envelope{Type: TypeSubscribe, EntityID: "LOOM-1"})
	recv(t, ws)
	send(t, ws, Envelope{Type: TypeSubscribe, EntityID: "LOOM-2"})
	recv(t, ws)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return w.hub.Rooms() == 0 && w.hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWS_InboundThrottle(t *testing.T) {
	w := newWSHarness(t, Config{MessagesPerSecond: 1, Burst: 1})
	ws := w.dial(t)

	send(t, ws, Envelope{Type: TypeAuthenticate, Token: w.token(t)})
	recv(t, ws)
	send(t, ws, Envelope{Type: TypeSubscribe, EntityID: "LOOM-1"})
	env := recv(t, ws)
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, "rate limit exceeded", env.Message)
}

func TestWS_OriginCheck(t *testing.T) {
	w := newWSHarness(t, Config{AllowedOrigins: []string{"https://dash.example"}})
	url := "ws" + strings.TrimPrefix(w.server.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://dash.example"}})
	require.NoError(t, err)
	_ = ws.Close()
}
