package socket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

func newTestClient(t *testing.T, role types.Role) *Client {
	t.Helper()
	c := NewClient(nil, logger.NewNop())
	require.True(t, c.authenticate(&types.Identity{UserID: uuid.New(), Role: role}))
	return c
}

// drain returns every frame queued on c without blocking.
func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case f, ok := <-c.outbound:
			if !ok {
				return out
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestHubJoinLeave(t *testing.T) {
	h := NewHub(logger.NewNop())
	c := newTestClient(t, types.RoleUser)
	h.Register(c)
	roomA, roomB := uuid.New(), uuid.New()

	assert.True(t, h.IsUserOnline(c.Identity().UserID))
	assert.True(t, h.Join(c, roomA))
	assert.False(t, h.Join(c, roomA), "second join is a no-op")
	assert.True(t, h.Join(c, roomB))
	assert.ElementsMatch(t, []uuid.UUID{roomA, roomB}, h.RoomsOf(c))
	assert.Equal(t, 1, h.Subscribers(roomA))

	assert.True(t, h.Leave(c, roomA))
	assert.False(t, h.Leave(c, roomA))
	assert.False(t, h.IsSubscribed(c, roomA))
	assert.True(t, h.IsSubscribed(c, roomB))

	left := h.Unregister(c)
	assert.Equal(t, []uuid.UUID{roomB}, left)
	assert.Zero(t, h.Subscribers(roomB))
	assert.False(t, h.IsUserOnline(c.Identity().UserID))
}

func TestHubBroadcastExcludesConnection(t *testing.T) {
	h := NewHub(logger.NewNop())
	room := uuid.New()
	a := newTestClient(t, types.RoleUser)
	b := newTestClient(t, types.RoleCompany)
	outsider := newTestClient(t, types.RoleAdmin)
	h.Join(a, room)
	h.Join(b, room)

	frame, err := EncodeFrame(EventUserTyping, PresenceEvent{ChatRoomID: room})
	require.NoError(t, err)
	h.Broadcast(context.Background(), Delivery{RoomID: room, Frame: frame, ExcludeConn: a.ID})

	assert.Empty(t, drain(a))
	assert.Equal(t, [][]byte{frame}, drain(b))
	assert.Empty(t, drain(outsider))
}

func TestHubDisbandDeliversThenDropsGroup(t *testing.T) {
	h := NewHub(logger.NewNop())
	room, other := uuid.New(), uuid.New()
	a := newTestClient(t, types.RoleUser)
	b := newTestClient(t, types.RoleCompany)
	h.Join(a, room)
	h.Join(b, room)
	h.Join(b, other)

	frame, err := EncodeFrame(EventChatRoomDeleted, ChatRoomPayload{ChatRoomID: room})
	require.NoError(t, err)
	h.Broadcast(context.Background(), Delivery{RoomID: room, Frame: frame, Persistent: true, Disband: true})

	assert.Equal(t, [][]byte{frame}, drain(a))
	assert.Equal(t, [][]byte{frame}, drain(b))
	assert.Zero(t, h.Subscribers(room))
	assert.False(t, h.IsSubscribed(a, room))
	assert.Empty(t, h.RoomsOf(a))
	assert.Equal(t, []uuid.UUID{other}, h.RoomsOf(b))

	h.Broadcast(context.Background(), Delivery{RoomID: room, Frame: frame, Persistent: true})
	assert.Empty(t, drain(a))
}

func TestHubEvictsSlowSubscriberOnPersistentFrame(t *testing.T) {
	h := NewHub(logger.NewNop())
	room := uuid.New()
	slow := newTestClient(t, types.RoleUser)
	fast := newTestClient(t, types.RoleCompany)
	h.Join(slow, room)
	h.Join(fast, room)

	for i := 0; i < OutboundChanBuffer; i++ {
		require.True(t, slow.Send([]byte(`{"event":"filler"}`)))
	}

	typing := []byte(`{"event":"user_typing"}`)
	h.Broadcast(context.Background(), Delivery{RoomID: room, Frame: typing})
	assert.False(t, slow.isClosed(), "ephemeral frames are dropped, not fatal")

	msg := []byte(`{"event":"new_message"}`)
	h.Broadcast(context.Background(), Delivery{RoomID: room, Frame: msg, Persistent: true})
	assert.True(t, slow.isClosed())
	assert.Equal(t, websocket.CloseTryAgainLater, slow.closeCode)
	assert.Equal(t, [][]byte{typing, msg}, drain(fast))

	assert.False(t, slow.Send(msg), "closed clients accept nothing")
}

func TestLockRoomSerialisesAndCleansUp(t *testing.T) {
	h := NewHub(logger.NewNop())
	room := uuid.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := h.LockRoom(room)
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	h.locksMu.Lock()
	defer h.locksMu.Unlock()
	assert.Empty(t, h.roomLocks)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := NewClient(nil, logger.NewNop())
	require.True(t, c.Send([]byte("queued")))
	c.Close(CloseAuthenticationFailed, "no token")
	c.Close(websocket.CloseNormalClosure, "")

	assert.Equal(t, CloseAuthenticationFailed, c.closeCode)
	assert.Equal(t, "no token", c.closeReason)
	assert.Equal(t, [][]byte{[]byte("queued")}, drain(c), "queued frames survive close")
}

func TestClientAuthenticatesOnce(t *testing.T) {
	c := NewClient(nil, logger.NewNop())
	assert.Equal(t, StateUnauthenticated, c.State())
	first := &types.Identity{UserID: uuid.New(), Role: types.RoleUser}
	assert.True(t, c.authenticate(first))
	assert.False(t, c.authenticate(&types.Identity{UserID: uuid.New(), Role: types.RoleAdmin}))
	assert.Equal(t, first, c.Identity())
	assert.Equal(t, "authenticated", c.State().String())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	frame, err := EncodeFrame(EventNewMessage, NewMessageEvent{Message: &types.Message{Content: "hi"}})
	require.NoError(t, err)
	d := Delivery{RoomID: uuid.New(), Frame: frame, ExcludeConn: uuid.New(), Persistent: true}
	payload, err := json.Marshal(envelope{NodeID: "n1", RoomID: d.RoomID, ExcludeConn: d.ExcludeConn, Persistent: true, Disband: true, Frame: frame})
	require.NoError(t, err)

	env, err := decodeEnvelope(string(payload))
	require.NoError(t, err)
	assert.Equal(t, "n1", env.NodeID)
	assert.Equal(t, d.RoomID, env.RoomID)
	assert.True(t, env.Persistent)
	assert.True(t, env.Disband)
	assert.JSONEq(t, string(frame), string(env.Frame))

	_, err = decodeEnvelope(`{"nodeId":"n1"}`)
	assert.Error(t, err)
}
