package socket

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultTypingTTL = 8 * time.Second

type typingKey struct {
	roomID uuid.UUID
	connID uuid.UUID
}

type typingEntry struct {
	client *Client
	timer  *time.Timer
}

// TypingTracker remembers who is composing so a stop can be emitted on
// their behalf when the client goes quiet, leaves or drops. Nothing here is
// persisted.
type TypingTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[typingKey]*typingEntry
	onExpire func(roomID uuid.UUID, c *Client)
}

func NewTypingTracker(ttl time.Duration, onExpire func(roomID uuid.UUID, c *Client)) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		ttl:      ttl,
		entries:  make(map[typingKey]*typingEntry),
		onExpire: onExpire,
	}
}

// Start marks c as typing in the room, restarting the expiry timer.
func (t *TypingTracker) Start(roomID uuid.UUID, c *Client) {
	key := typingKey{roomID: roomID, connID: c.ID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries[key]; ok {
		old.timer.Stop()
	}
	entry := &typingEntry{client: c}
	entry.timer = time.AfterFunc(t.ttl, func() { t.expire(key, entry) })
	t.entries[key] = entry
}

// Stop reports whether c was typing in the room.
func (t *TypingTracker) Stop(roomID uuid.UUID, connID uuid.UUID) bool {
	key := typingKey{roomID: roomID, connID: connID}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, key)
	return true
}

// ClearConn drops every entry of the connection and returns the rooms it
// was typing in.
func (t *TypingTracker) ClearConn(connID uuid.UUID) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var rooms []uuid.UUID
	for key, entry := range t.entries {
		if key.connID != connID {
			continue
		}
		entry.timer.Stop()
		delete(t.entries, key)
		rooms = append(rooms, key.roomID)
	}
	return rooms
}

func (t *TypingTracker) IsTyping(roomID uuid.UUID, connID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{roomID: roomID, connID: connID}]
	return ok
}

func (t *TypingTracker) expire(key typingKey, entry *typingEntry) {
	t.mu.Lock()
	current, ok := t.entries[key]
	if !ok || current != entry {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(key.roomID, entry.client)
	}
}
