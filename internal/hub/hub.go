// Package hub distributes live telemetry to WebSocket clients grouped in
// per-entity rooms.
package hub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/telemetry/domain"
)

// Client is a connected subscriber as seen by the Hub.
type Client interface {
	ID() string
	// Send enqueues msg without blocking and reports whether it was accepted.
	Send(msg []byte) bool
	// Close terminates the connection.
	Close()
}

// Hub owns room membership. A room exists while it has at least one member.
// Safe for concurrent use.
type Hub struct {
	log     *zap.Logger
	metrics *metrics

	mu      sync.RWMutex
	rooms   map[string]map[Client]struct{}
	clients map[Client]map[string]struct{}
}

// New returns an empty Hub. reg may be nil to disable metrics.
func New(log *zap.Logger, reg prometheus.Registerer) (*Hub, error) {
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &Hub{
		log:     logging.OrNop(log),
		metrics: m,
		rooms:   make(map[string]map[Client]struct{}),
		clients: make(map[Client]map[string]struct{}),
	}, nil
}

// Register tracks c so Close can reach it before it joins any room.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.clients[c] = make(map[string]struct{})
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.setClients(n)
}

// Join adds c to entityID's room and reports whether it was newly added.
func (h *Hub) Join(c Client, entityID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[entityID]
	if !ok {
		room = make(map[Client]struct{})
		h.rooms[entityID] = room
	}
	if _, member := room[c]; member {
		return false
	}
	room[c] = struct{}{}
	joined, ok := h.clients[c]
	if !ok {
		joined = make(map[string]struct{})
		h.clients[c] = joined
	}
	joined[entityID] = struct{}{}
	h.metrics.setRooms(len(h.rooms))
	return true
}

// Leave removes c from entityID's room. Leaving a room c is not in is a no-op.
func (h *Hub) Leave(c Client, entityID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if joined, ok := h.clients[c]; ok {
		delete(joined, entityID)
	}
	return h.leaveLocked(c, entityID)
}

func (h *Hub) leaveLocked(c Client, entityID string) bool {
	room, ok := h.rooms[entityID]
	if !ok {
		return false
	}
	if _, member := room[c]; !member {
		return false
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, entityID)
	}
	h.metrics.setRooms(len(h.rooms))
	return true
}

// Disconnect removes c from every room and forgets it.
func (h *Hub) Disconnect(c Client) {
	h.mu.Lock()
	for entityID := range h.clients[c] {
		h.leaveLocked(c, entityID)
	}
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.setClients(n)
}

// Broadcast sends msg to every member of entityID's room and returns how many
// accepted it. Members whose buffers are full miss the message; nobody waits.
func (h *Hub) Broadcast(entityID string, msg []byte) int {
	h.mu.RLock()
	room := h.rooms[entityID]
	members := make([]Client, 0, len(room))
	for c := range room {
		members = append(members, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if c.Send(msg) {
			delivered++
			continue
		}
		h.metrics.dropped()
		h.log.Warn("hub: dropped message for slow client",
			zap.String("client_id", c.ID()),
			zap.String("entity_id", entityID),
		)
	}
	h.metrics.delivered(delivered)
	return delivered
}

// BroadcastEvent encodes ev for clients and broadcasts it to its entity's
// room. Kinds without a client message type are ignored.
func (h *Hub) BroadcastEvent(ev domain.Event) {
	msg, ok, err := EncodeEvent(ev)
	if err != nil {
		h.log.Error("hub: encode event failed", zap.String("entity_id", ev.EntityID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	h.Broadcast(ev.EntityID, msg)
}

// RoomSize returns the number of members in entityID's room.
func (h *Hub) RoomSize(entityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[entityID])
}

// Rooms returns the number of non-empty rooms.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes every registered client. Each client's own cleanup calls
// Disconnect.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close()
	}
}
