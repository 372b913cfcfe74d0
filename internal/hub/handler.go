package hub

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/server/interceptors"
)

// Config tunes WebSocket connections.
type Config struct {
	// SendBuffer is the per-client outbound queue length.
	SendBuffer int
	// MessagesPerSecond and Burst throttle inbound client frames.
	MessagesPerSecond float64
	Burst             int
	// AllowedOrigins limits the Origin header; empty allows any origin.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = int(c.MessagesPerSecond)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	return c
}

// Handler upgrades HTTP requests to WebSocket room connections. Clients must
// send an authenticate frame before subscribing.
type Handler struct {
	hub      *Hub
	tokens   interceptors.TokenVerifier
	cfg      Config
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler returns a Handler serving h.
func NewHandler(h *Hub, tokens interceptors.TokenVerifier, cfg Config, log *zap.Logger) *Handler {
	cfg = cfg.withDefaults()
	hd := &Handler{hub: h, tokens: tokens, cfg: cfg, log: logging.OrNop(log)}
	hd.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     hd.checkOrigin,
	}
	return hd
}

func (hd *Handler) checkOrigin(r *http.Request) bool {
	if len(hd.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(hd.cfg.AllowedOrigins, origin)
}

func (hd *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := hd.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hd.hub.metrics.connection("upgrade_failed")
		hd.log.Debug("hub: upgrade failed", zap.String("client_ip", interceptors.ClientIP(r)), zap.Error(err))
		return
	}
	c := newConn(ws, hd.hub, hd.tokens, hd.cfg, hd.log)
	hd.hub.Register(c)
	hd.hub.metrics.connection("opened")
	hd.log.Debug("hub: client connected", zap.String("client_id", c.id), zap.String("client_ip", interceptors.ClientIP(r)))

	go c.writePump()
	go c.readPump()
}
