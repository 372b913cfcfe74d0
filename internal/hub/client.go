package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kaldor-iiot/backend/internal/identity/domain"
	"kaldor-iiot/backend/internal/server/interceptors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// conn is one WebSocket client. readPump owns inbound frames; writePump is
// the only writer to the socket.
type conn struct {
	id      string
	ws      *websocket.Conn
	hub     *Hub
	tokens  interceptors.TokenVerifier
	limiter *rate.Limiter
	log     *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	identity atomic.Pointer[domain.Identity]
}

func newConn(ws *websocket.Conn, h *Hub, tokens interceptors.TokenVerifier, cfg Config, log *zap.Logger) *conn {
	id := uuid.NewString()
	return &conn{
		id:      id,
		ws:      ws,
		hub:     h,
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		log:     log.With(zap.String("client_id", id)),
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Send enqueues msg without blocking. It returns false when the buffer is
// full or the connection is closing.
func (c *conn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops both pumps. Room cleanup happens in readPump's exit path.
func (c *conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Identity returns the authenticated identity, or nil before authenticate.
func (c *conn) Identity() *domain.Identity { return c.identity.Load() }

func (c *conn) readPump() {
	flushing := false
	defer func() {
		c.hub.Disconnect(c)
		if !flushing {
			c.Close()
			_ = c.ws.Close()
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("hub: read failed", zap.Error(err))
			}
			return
		}
		if !c.limiter.Allow() {
			c.Send(errorFrame("rate limit exceeded"))
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.Send(errorFrame("invalid message"))
			continue
		}
		if !c.handle(env) {
			// writePump closes the socket once queued frames are out.
			flushing = true
			return
		}
	}
}

// handle processes one client frame and reports whether the connection stays open.
func (c *conn) handle(env Envelope) bool {
	switch env.Type {
	case TypeAuthenticate:
		return c.authenticate(env.Token)
	case TypeSubscribe, TypeUnsubscribe:
		if c.Identity() == nil {
			c.Send(errorFrame("Not authenticated"))
			return true
		}
		if !validEntityID(env.EntityID) {
			c.Send(errorFrame("invalid entityId"))
			return true
		}
		if env.Type == TypeSubscribe {
			c.hub.Join(c, env.EntityID)
			c.Send(encode(Envelope{Type: TypeSubscribed, EntityID: env.EntityID}))
			c.log.Debug("hub: subscribed", zap.String("entity_id", env.EntityID))
		} else {
			c.hub.Leave(c, env.EntityID)
			c.Send(encode(Envelope{Type: TypeUnsubscribed, EntityID: env.EntityID}))
		}
		return true
	default:
		c.Send(errorFrame("unknown message type"))
		return true
	}
}

func (c *conn) authenticate(token string) bool {
	id, err := interceptors.VerifyBearer(c.tokens, token)
	if err != nil {
		c.log.Info("hub: authentication failed", zap.Error(err))
		c.hub.metrics.connection("auth_failed")
		c.Send(authenticated(false, "Authentication failed"))
		if !c.Send(nil) {
			c.Close()
		}
		return false
	}
	c.identity.Store(&id)
	c.hub.metrics.connection("authenticated")
	c.log.Debug("hub: authenticated", zap.String("subject_id", id.SubjectID))
	c.Send(authenticated(true, ""))
	return true
}

// writePump drains send and pings. A nil message asks for a close frame
// after everything queued before it has been written.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if msg == nil {
				c.writeClose(websocket.ClosePolicyViolation, "authentication failed")
				c.Close()
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("hub: write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.writeClose(websocket.CloseGoingAway, "")
			return
		}
	}
}

func (c *conn) writeClose(code int, text string) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeWait))
}
