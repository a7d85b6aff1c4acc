package socket

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
)

// Delivery is one frame addressed to a room's fan-out group.
type Delivery struct {
	RoomID uuid.UUID
	Frame  []byte
	// ExcludeConn skips one connection, for events aimed at the rest of
	// the group.
	ExcludeConn uuid.UUID
	// Persistent frames describe durable state. A subscriber that cannot
	// take one is evicted so it re-syncs from history instead of silently
	// missing it. Non-persistent frames are just dropped.
	Persistent bool
	// Disband drops the room's group once the frame is delivered.
	Disband bool
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// Hub owns the in-memory fan-out state: which connections listen to which
// rooms and which users are connected to this node. It is a cache of who is
// listening and is rebuilt by clients re-joining after a restart.
type Hub struct {
	log    *logger.Logger
	nodeID string

	mu          sync.RWMutex
	rooms       map[uuid.UUID]map[uuid.UUID]*Client
	clientRooms map[uuid.UUID]map[uuid.UUID]struct{}
	users       map[uuid.UUID]map[uuid.UUID]*Client

	locksMu   sync.Mutex
	roomLocks map[uuid.UUID]*roomLock

	redisPubSub *RedisPubSub
}

func NewHub(log *logger.Logger) *Hub {
	nodeID := uuid.NewString()
	return &Hub{
		log:         log.With("component", "Hub", "nodeID", nodeID),
		nodeID:      nodeID,
		rooms:       make(map[uuid.UUID]map[uuid.UUID]*Client),
		clientRooms: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		users:       make(map[uuid.UUID]map[uuid.UUID]*Client),
		roomLocks:   make(map[uuid.UUID]*roomLock),
	}
}

func (h *Hub) NodeID() string { return h.nodeID }

func (h *Hub) SetRedisPubSub(rp *RedisPubSub) {
	h.redisPubSub = rp
}

// LockRoom serialises append+broadcast for one room on this node and
// returns the unlock function.
func (h *Hub) LockRoom(roomID uuid.UUID) func() {
	h.locksMu.Lock()
	l, ok := h.roomLocks[roomID]
	if !ok {
		l = &roomLock{}
		h.roomLocks[roomID] = l
	}
	l.refs++
	h.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		h.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.roomLocks, roomID)
		}
		h.locksMu.Unlock()
	}
}

// Register records an authenticated connection under its user.
func (h *Hub) Register(c *Client) {
	identity := c.Identity()
	if identity == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.users[identity.UserID]
	if conns == nil {
		conns = make(map[uuid.UUID]*Client)
		h.users[identity.UserID] = conns
	}
	conns[c.ID] = c
	h.log.Debug("Client registered", "conn", c.ID, "userID", identity.UserID)
}

// Unregister purges the connection and returns the rooms it was in.
func (h *Hub) Unregister(c *Client) []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()

	var left []uuid.UUID
	for roomID := range h.clientRooms[c.ID] {
		left = append(left, roomID)
		h.removeLocked(c.ID, roomID)
	}
	delete(h.clientRooms, c.ID)
	if identity := c.Identity(); identity != nil {
		if conns, ok := h.users[identity.UserID]; ok {
			delete(conns, c.ID)
			if len(conns) == 0 {
				delete(h.users, identity.UserID)
			}
		}
	}
	h.log.Debug("Client unregistered", "conn", c.ID, "rooms", len(left))
	return left
}

// Join adds c to the room's group. It reports false if c was already there.
func (h *Hub) Join(c *Client, roomID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.rooms[roomID]
	if group == nil {
		group = make(map[uuid.UUID]*Client)
		h.rooms[roomID] = group
	}
	if _, ok := group[c.ID]; ok {
		return false
	}
	group[c.ID] = c
	joined := h.clientRooms[c.ID]
	if joined == nil {
		joined = make(map[uuid.UUID]struct{})
		h.clientRooms[c.ID] = joined
	}
	joined[roomID] = struct{}{}
	h.log.Debug("Client joined room", "conn", c.ID, "roomID", roomID)
	return true
}

// Leave reports whether c was in the room.
func (h *Hub) Leave(c *Client, roomID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID][c.ID]; !ok {
		return false
	}
	h.removeLocked(c.ID, roomID)
	if joined, ok := h.clientRooms[c.ID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(h.clientRooms, c.ID)
		}
	}
	h.log.Debug("Client left room", "conn", c.ID, "roomID", roomID)
	return true
}

func (h *Hub) removeLocked(connID, roomID uuid.UUID) {
	if group, ok := h.rooms[roomID]; ok {
		delete(group, connID)
		if len(group) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) RoomsOf(c *Client) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(h.clientRooms[c.ID]))
	for roomID := range h.clientRooms[c.ID] {
		out = append(out, roomID)
	}
	return out
}

func (h *Hub) IsSubscribed(c *Client, roomID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][c.ID]
	return ok
}

func (h *Hub) Subscribers(roomID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// IsUserOnline only knows about connections held by this node.
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// Broadcast delivers locally, then relays to other nodes.
func (h *Hub) Broadcast(ctx context.Context, d Delivery) {
	h.localBroadcast(d)
	if h.redisPubSub != nil {
		if err := h.redisPubSub.Publish(ctx, h.nodeID, d); err != nil {
			h.log.Warn("Failed to publish to Redis", "roomID", d.RoomID, "error", err)
		}
	}
}

func (h *Hub) localBroadcast(d Delivery) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[d.RoomID]))
	for id, c := range h.rooms[d.RoomID] {
		if id != d.ExcludeConn {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.Send(d.Frame) {
			continue
		}
		if d.Persistent && !c.isClosed() {
			h.log.Warn("Evicting slow subscriber; outbound buffer full", "conn", c.ID, "roomID", d.RoomID)
			c.Close(websocket.CloseTryAgainLater, "slow consumer")
		}
	}
	if d.Disband {
		h.disband(d.RoomID)
	}
}

func (h *Hub) disband(roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.rooms[roomID] {
		if joined, ok := h.clientRooms[connID]; ok {
			delete(joined, roomID)
			if len(joined) == 0 {
				delete(h.clientRooms, connID)
			}
		}
	}
	delete(h.rooms, roomID)
	h.log.Debug("Room group disbanded", "roomID", roomID)
}
