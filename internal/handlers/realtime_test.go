package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/apperrors"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/socket"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/testutil"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

func TestRealtimeHello(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{})
	room := h.room()
	customerToken := h.token(h.fx.Customer)
	companyToken := h.token(h.fx.CompanyOwner)

	customer := h.dial(customerToken)
	company := h.dial(companyToken)

	customer.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	var ack socket.RoomAckEvent
	decodeData(t, customer.expect(socket.EventJoinedRoom), &ack)
	assert.Equal(t, room.ID, ack.RoomID)

	company.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	company.expect(socket.EventJoinedRoom)
	var joined socket.PresenceEvent
	decodeData(t, customer.expect(socket.EventUserJoined), &joined)
	assert.Equal(t, h.fx.CompanyOwner.ID, joined.UserID)
	assert.Equal(t, types.RoleCompany, joined.UserRole)

	customer.send(socket.EventSendMessage, socket.SendMessagePayload{ChatRoomID: room.ID, Content: "hello"})
	for _, s := range []*session{customer, company} {
		var got socket.NewMessageEvent
		decodeData(t, s.expect(socket.EventNewMessage), &got)
		require.NotNil(t, got.Message)
		assert.Equal(t, "hello", got.Message.Content)
		assert.EqualValues(t, 1, got.Message.Seq)
		assert.Equal(t, h.fx.Customer.ID, got.Message.SenderID)
		assert.Equal(t, types.SenderUser, got.Message.SenderType)

		var updated socket.ChatRoomUpdatedEvent
		decodeData(t, s.expect(socket.EventChatRoomUpdated), &updated)
		assert.Equal(t, room.ID, updated.ChatRoomID)
		assert.Equal(t, "hello", updated.LastMessage)
		require.NotNil(t, updated.LastMessageAt)
		assert.True(t, updated.LastMessageAt.Equal(got.Message.CreatedAt))
		assert.EqualValues(t, 1, updated.LastMessageSeq)
	}

	history := h.do(http.MethodGet, "/api/chat/rooms/"+room.ID.String()+"/messages", companyToken, nil)
	require.Equal(t, http.StatusOK, history.Code)
	var page struct {
		Messages []types.Message `json:"messages"`
	}
	history.decode(t, &page)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hello", page.Messages[0].Content)

	list := h.do(http.MethodGet, "/api/chat/rooms", customerToken, nil)
	require.Equal(t, http.StatusOK, list.Code)
	var rooms struct {
		Rooms []types.ChatRoom `json:"rooms"`
	}
	list.decode(t, &rooms)
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, "hello", rooms.Rooms[0].LastMessage)

	detail := h.do(http.MethodGet, "/api/chat/rooms/"+room.ID.String(), companyToken, nil)
	require.Equal(t, http.StatusOK, detail.Code)
	var withUnread struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	detail.decode(t, &withUnread)
	assert.EqualValues(t, 1, withUnread.UnreadCount)

	require.NoError(t, company.conn.Close())
	var left socket.PresenceEvent
	decodeData(t, customer.expect(socket.EventUserLeft), &left)
	assert.Equal(t, h.fx.CompanyOwner.ID, left.UserID)
}

func TestRealtimeAccessDenied(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{})
	room := h.room()
	customer := h.dial(h.token(h.fx.Customer))
	customer.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	customer.expect(socket.EventJoinedRoom)

	outsider := testutil.CreateUser(t, h.db, types.RoleUser)
	intruder := h.dial(h.token(outsider))

	intruder.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	var denied socket.ErrorEvent
	decodeData(t, intruder.expect(socket.EventError), &denied)
	assert.Equal(t, apperrors.CodeAccessDenied, denied.Code)
	assert.Equal(t, socket.EventJoinRoom, denied.Event)

	intruder.send(socket.EventSendMessage, socket.SendMessagePayload{ChatRoomID: room.ID, Content: "let me in"})
	decodeData(t, intruder.expect(socket.EventError), &denied)
	assert.Equal(t, apperrors.CodeAccessDenied, denied.Code)
	assert.False(t, denied.Retryable)

	intruder.send(socket.EventTypingStart, socket.ChatRoomPayload{ChatRoomID: room.ID})
	decodeData(t, intruder.expect(socket.EventError), &denied)
	assert.Equal(t, apperrors.CodeAccessDenied, denied.Code)

	var stored int64
	require.NoError(t, h.db.Model(&types.Message{}).Count(&stored).Error)
	assert.Zero(t, stored)

	// The member's next frame is the answer to its own request, so nothing
	// from the intruder reached it.
	customer.send(socket.EventMarkRead, socket.ChatRoomPayload{ChatRoomID: room.ID})
	var read socket.MessagesReadEvent
	decodeData(t, customer.expect(socket.EventMessagesRead), &read)
	assert.Zero(t, read.Count)
}

func TestRealtimeTypingNotEchoed(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{})
	room := h.room()
	adminToken := h.token(h.fx.Admin)
	first := h.dial(adminToken)
	second := h.dial(adminToken)

	first.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	first.expect(socket.EventJoinedRoom)
	second.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	second.expect(socket.EventJoinedRoom)
	first.expect(socket.EventUserJoined)

	first.send(socket.EventTypingStart, socket.ChatRoomPayload{ChatRoomID: room.ID})
	var typing socket.PresenceEvent
	decodeData(t, second.expect(socket.EventUserTyping), &typing)
	assert.Equal(t, h.fx.Admin.ID, typing.UserID)
	assert.Equal(t, types.RoleAdmin, typing.UserRole)

	first.send(socket.EventMarkRead, socket.ChatRoomPayload{ChatRoomID: room.ID})
	first.expect(socket.EventMessagesRead)

	first.send(socket.EventTypingStop, socket.ChatRoomPayload{ChatRoomID: room.ID})
	second.expect(socket.EventUserStoppedTyping)
}

func TestRealtimeTypingExpires(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{TypingTTL: 50 * time.Millisecond})
	room := h.room()
	customer := h.dial(h.token(h.fx.Customer))
	company := h.dial(h.token(h.fx.CompanyOwner))
	customer.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	customer.expect(socket.EventJoinedRoom)
	company.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	company.expect(socket.EventJoinedRoom)

	company.send(socket.EventTypingStart, socket.ChatRoomPayload{ChatRoomID: room.ID})
	customer.expect(socket.EventUserJoined)
	customer.expect(socket.EventUserTyping)
	customer.expect(socket.EventUserStoppedTyping)
}

func TestRealtimeStorageFailure(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{})
	room := h.room()
	company := h.dial(h.token(h.fx.CompanyOwner))
	customer := h.dial(h.token(h.fx.Customer))
	company.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	company.expect(socket.EventJoinedRoom)
	customer.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	customer.expect(socket.EventJoinedRoom)
	company.expect(socket.EventUserJoined)

	const name = "test:fail_message_create"
	require.NoError(t, h.db.Callback().Create().Before("gorm:create").Register(name, func(tx *gorm.DB) {
		if tx.Statement.Table == "message" {
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	}))
	customer.send(socket.EventSendMessage, socket.SendMessagePayload{ChatRoomID: room.ID, Content: "are you there?"})
	var failed socket.ErrorEvent
	decodeData(t, customer.expect(socket.EventError), &failed)
	require.NoError(t, h.db.Callback().Create().Remove(name))

	assert.Equal(t, apperrors.CodePersistence, failed.Code)
	assert.True(t, failed.Retryable)
	assert.Equal(t, socket.EventSendMessage, failed.Event)
	assert.NotContains(t, failed.Message, "disk")

	company.send(socket.EventMarkRead, socket.ChatRoomPayload{ChatRoomID: room.ID})
	company.expect(socket.EventMessagesRead)

	var stored int64
	require.NoError(t, h.db.Model(&types.Message{}).Count(&stored).Error)
	assert.Zero(t, stored)

	// The client's retry goes through once storage is back.
	customer.send(socket.EventSendMessage, socket.SendMessagePayload{ChatRoomID: room.ID, Content: "are you there?"})
	customer.expect(socket.EventNewMessage)
}

func TestRealtimeSubscribersSeeOneOrder(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{})
	room := h.room()
	const perSender = 10

	observerA := h.dial(h.token(h.fx.Admin))
	observerB := h.dial(h.token(h.fx.Admin))
	customer := h.dial(h.token(h.fx.Customer))
	company := h.dial(h.token(h.fx.CompanyOwner))
	for _, s := range []*session{observerA, observerB, customer, company} {
		s.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
		s.waitFor(socket.EventJoinedRoom)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*perSender)
	for _, s := range []*session{customer, company} {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				raw, _ := json.Marshal(socket.SendMessagePayload{ChatRoomID: room.ID, Content: "burst"})
				if err := s.conn.WriteJSON(socket.Frame{Event: socket.EventSendMessage, Data: raw}); err != nil {
					errs <- err
				}
			}
		}(s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	collect := func(s *session) []int64 {
		var seqs []int64
		for len(seqs) < 2*perSender {
			f, _ := s.waitFor(socket.EventNewMessage)
			var got socket.NewMessageEvent
			decodeData(t, f, &got)
			seqs = append(seqs, got.Message.Seq)
		}
		return seqs
	}
	seqA := collect(observerA)
	seqB := collect(observerB)

	assert.Equal(t, seqA, seqB)
	for i, seq := range seqA {
		assert.EqualValues(t, i+1, seq)
	}
}

func TestRealtimeSingleRoomFocus(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{SingleRoomFocus: true})
	first := h.room()
	companyID := h.fx.Company.ID
	booking := testutil.CreateBooking(t, h.db, types.BookingTransport, h.fx.Customer.ID, &companyID)
	second, err := h.rooms.CreateRoom(context.Background(), booking.ID, booking.BookingType, booking.UserID, booking.CompanyID)
	require.NoError(t, err)

	customer := h.dial(h.token(h.fx.Customer))
	customer.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: first.ID})
	customer.expect(socket.EventJoinedRoom)
	customer.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: second.ID})

	var left socket.RoomAckEvent
	decodeData(t, customer.expect(socket.EventLeftRoom), &left)
	assert.Equal(t, first.ID, left.RoomID)
	var joined socket.RoomAckEvent
	decodeData(t, customer.expect(socket.EventJoinedRoom), &joined)
	assert.Equal(t, second.ID, joined.RoomID)
}

func TestHandshakeRejectsBadCredential(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{})
	ghost := h.token(&types.User{ID: uuid.New(), Role: types.RoleUser})

	for token, reason := range map[string]string{
		"garbage": "invalid token",
		ghost:     "user not found",
	} {
		conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(token), nil)
		if conn != nil {
			conn.Close()
		}
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, reason, body["error"])
		assert.Equal(t, apperrors.CodeAuthentication, body["code"])
	}
}

func TestFirstEventMustAuthenticate(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{})
	room := h.room()
	s := h.dial("")

	s.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	var rejected socket.ErrorEvent
	decodeData(t, s.expect(socket.EventError), &rejected)
	assert.Equal(t, "no token", rejected.Message)
	assert.Equal(t, apperrors.CodeAuthentication, rejected.Code)

	ce := s.closeError()
	assert.Equal(t, socket.CloseAuthenticationFailed, ce.Code)
	assert.Equal(t, "no token", ce.Text)
	assert.Zero(t, h.gateway.Hub().Subscribers(room.ID))
}

func TestAuthenticateEvent(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{})
	room := h.room()

	s := h.dial("")
	s.send(socket.EventAuthenticate, socket.AuthenticatePayload{Token: h.token(h.fx.CompanyOwner)})
	var who socket.AuthenticatedEvent
	decodeData(t, s.expect(socket.EventAuthenticated), &who)
	assert.Equal(t, h.fx.CompanyOwner.ID, who.UserID)
	assert.Equal(t, types.RoleCompany, who.Role)
	require.NotNil(t, who.CompanyID)
	assert.Equal(t, h.fx.Company.ID, *who.CompanyID)

	s.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	s.expect(socket.EventJoinedRoom)

	s.send(socket.EventAuthenticate, socket.AuthenticatePayload{Token: h.token(h.fx.Customer)})
	var again socket.ErrorEvent
	decodeData(t, s.expect(socket.EventError), &again)
	assert.Equal(t, apperrors.CodeInvalidRequest, again.Code, "a bound connection keeps its identity")

	bad := h.dial("")
	bad.send(socket.EventAuthenticate, socket.AuthenticatePayload{Token: "not-a-jwt"})
	var rejected socket.ErrorEvent
	decodeData(t, bad.expect(socket.EventError), &rejected)
	assert.Equal(t, "invalid token", rejected.Message)
	ce := bad.closeError()
	assert.Equal(t, socket.CloseAuthenticationFailed, ce.Code)
	assert.Equal(t, "invalid token", ce.Text)
}

func TestAuthenticationTimeout(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{AuthTimeout: 100 * time.Millisecond})
	s := h.dial("")

	var rejected socket.ErrorEvent
	decodeData(t, s.expect(socket.EventError), &rejected)
	assert.Equal(t, "authentication timeout", rejected.Message)
	ce := s.closeError()
	assert.Equal(t, socket.CloseAuthenticationFailed, ce.Code)
	assert.Equal(t, "authentication timeout", ce.Text)
}

func TestShutdownClosesWebsockets(t *testing.T) {
	h := newHarness(t, socket.GatewayConfig{})
	room := h.room()
	customer := h.dial(h.token(h.fx.Customer))
	customer.send(socket.EventJoinRoom, socket.RoomPayload{RoomID: room.ID})
	customer.expect(socket.EventJoinedRoom)
	pending := h.dial("")

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	require.NoError(t, h.gateway.Shutdown(ctx))

	for _, s := range []*session{customer, pending} {
		ce := s.closeError()
		assert.Equal(t, websocket.CloseGoingAway, ce.Code)
		assert.Equal(t, "server shutting down", ce.Text)
	}
	assert.Zero(t, h.gateway.Hub().Subscribers(room.ID))

	late := h.dial("")
	assert.Equal(t, websocket.CloseGoingAway, late.closeError().Code)
}
