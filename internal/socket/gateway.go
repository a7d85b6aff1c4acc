package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/datatypes"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/apperrors"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/services"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

const (
	DefaultAuthTimeout  = 10 * time.Second
	DefaultEventTimeout = 15 * time.Second

	notifyTimeout = 30 * time.Second

	closeReasonShutdown = "server shutting down"
)

var errNotSubscribed = fmt.Errorf("%w: join the room first", apperrors.ErrAccessDenied)

type GatewayConfig struct {
	// SingleRoomFocus makes join_room leave every other room first.
	SingleRoomFocus bool
	TypingTTL       time.Duration
	AuthTimeout     time.Duration
	EventTimeout    time.Duration
}

// Gateway binds connections to identities and rooms and fans events out to
// the connections subscribed to each room.
type Gateway struct {
	log      *logger.Logger
	hub      *Hub
	auth     services.AuthService
	rooms    services.ChatRoomService
	messages services.MessageService
	notifier services.NotificationService
	typing   *TypingTracker
	cfg      GatewayConfig
	now      func() time.Time

	connsMu sync.Mutex
	conns   map[uuid.UUID]*Client
	closing bool
	serving sync.WaitGroup
}

func NewGateway(
	log *logger.Logger,
	hub *Hub,
	auth services.AuthService,
	rooms services.ChatRoomService,
	messages services.MessageService,
	notifier services.NotificationService,
	cfg GatewayConfig,
) *Gateway {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultEventTimeout
	}
	g := &Gateway{
		log:      log.With("component", "Gateway"),
		hub:      hub,
		auth:     auth,
		rooms:    rooms,
		messages: messages,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		conns:    make(map[uuid.UUID]*Client),
	}
	g.typing = NewTypingTracker(cfg.TypingTTL, g.typingExpired)
	return g
}

func (g *Gateway) Hub() *Hub { return g.hub }

// Serve runs a connection until it closes. identity is nil when the
// handshake carried no credential; the client must then send authenticate
// before anything else.
func (g *Gateway) Serve(conn *websocket.Conn, identity *types.Identity) {
	c := NewClient(conn, g.log)
	go c.writePump()
	if !g.track(c) {
		c.Close(websocket.CloseGoingAway, closeReasonShutdown)
		c.wait(writeWait)
		return
	}
	defer g.untrack(c)

	authDeadline := time.Now().Add(g.cfg.AuthTimeout)
	if identity != nil {
		g.bind(c, identity)
		authDeadline = time.Now().Add(pongWait)
	}

	err := c.readPump(authDeadline, func(raw []byte) {
		g.HandleFrame(c, raw)
	})
	if err != nil && c.State() == StateUnauthenticated && isTimeout(err) {
		g.rejectConn(c, errors.New("authentication timeout"))
	} else if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		c.log.Debug("Read loop ended", "error", err)
	}

	g.Disconnect(c)
	c.Close(websocket.CloseNormalClosure, "")
	c.wait(writeWait)
}

func (g *Gateway) track(c *Client) bool {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	if g.closing {
		return false
	}
	g.conns[c.ID] = c
	g.serving.Add(1)
	return true
}

func (g *Gateway) untrack(c *Client) {
	g.connsMu.Lock()
	delete(g.conns, c.ID)
	g.connsMu.Unlock()
	g.serving.Done()
}

// Shutdown closes every connection with 1001 and waits until their
// handlers return or ctx ends. Connections arriving afterwards are closed
// straight away.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.connsMu.Lock()
	g.closing = true
	clients := make([]*Client, 0, len(g.conns))
	for _, c := range g.conns {
		clients = append(clients, c)
	}
	g.connsMu.Unlock()

	g.log.Info("Closing websocket connections", "count", len(clients))
	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, closeReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		g.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) bind(c *Client, identity *types.Identity) {
	if !c.authenticate(identity) {
		return
	}
	g.hub.Register(c)
	c.extendReadDeadline()
	g.sendTo(c, EventAuthenticated, AuthenticatedEvent{
		UserID:    identity.UserID,
		Role:      identity.Role,
		CompanyID: identity.CompanyID,
	})
	c.log.Info("Connection authenticated")
}

// rejectConn is terminal: the client gets the reason as an error event and
// as the close frame text.
func (g *Gateway) rejectConn(c *Client, reason error) {
	c.reject()
	g.sendTo(c, EventError, ErrorEvent{
		Message: reason.Error(),
		Code:    apperrors.CodeAuthentication,
		Event:   EventAuthenticate,
	})
	c.Close(CloseAuthenticationFailed, reason.Error())
	c.log.Info("Connection rejected", "reason", reason.Error())
}

// HandleFrame dispatches one inbound frame. It is only called from the
// connection's read pump, so one connection's events never interleave.
func (g *Gateway) HandleFrame(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		g.sendError(c, "", fmt.Errorf("%w: malformed frame", apperrors.ErrInvalidRequest))
		return
	}

	ctx, cancel := context.WithTimeout(c.Context(), g.cfg.EventTimeout)
	defer cancel()

	if c.State() != StateAuthenticated {
		g.handleUnauthenticated(ctx, c, frame)
		return
	}
	identity := c.Identity()

	var err error
	switch frame.Event {
	case EventAuthenticate:
		err = fmt.Errorf("%w: already authenticated", apperrors.ErrInvalidRequest)
	case EventJoinRoom:
		var p RoomPayload
		if err = decode(frame.Data, &p); err == nil {
			err = g.join(ctx, c, identity, p.RoomID)
		}
	case EventLeaveRoom:
		var p RoomPayload
		if err = decode(frame.Data, &p); err == nil {
			g.leave(ctx, c, identity, p.RoomID)
		}
	case EventSendMessage:
		var p SendMessagePayload
		if err = decode(frame.Data, &p); err == nil {
			_, err = g.SendMessage(ctx, identity, p, c)
		}
	case EventTypingStart, EventTypingStop:
		var p ChatRoomPayload
		if err = decode(frame.Data, &p); err == nil {
			err = g.typingEvent(ctx, c, identity, p.ChatRoomID, frame.Event == EventTypingStart)
		}
	case EventMarkRead:
		var p ChatRoomPayload
		if err = decode(frame.Data, &p); err == nil {
			_, err = g.MarkRead(ctx, identity, p.ChatRoomID, c)
		}
	default:
		err = fmt.Errorf("%w: unknown event %q", apperrors.ErrInvalidRequest, frame.Event)
	}
	if err != nil {
		g.sendError(c, frame.Event, err)
	}
}

func (g *Gateway) handleUnauthenticated(ctx context.Context, c *Client, frame Frame) {
	if frame.Event != EventAuthenticate {
		g.rejectConn(c, apperrors.ErrNoToken)
		return
	}
	var p AuthenticatePayload
	if err := decode(frame.Data, &p); err != nil {
		g.rejectConn(c, apperrors.ErrInvalidToken)
		return
	}
	identity, err := g.auth.Authenticate(ctx, p.Token)
	if err != nil {
		if apperrors.Fatal(err) {
			g.rejectConn(c, err)
			return
		}
		// Store hiccup: the client may try again before the deadline.
		g.sendError(c, EventAuthenticate, err)
		return
	}
	g.bind(c, identity)
}

func (g *Gateway) join(ctx context.Context, c *Client, identity *types.Identity, roomID uuid.UUID) error {
	room, err := g.rooms.Authorize(ctx, identity, roomID)
	if err != nil {
		return err
	}
	if g.cfg.SingleRoomFocus {
		for _, other := range g.hub.RoomsOf(c) {
			if other != room.ID {
				g.leave(ctx, c, identity, other)
			}
		}
	}

	unlock := g.hub.LockRoom(room.ID)
	joined := g.hub.Join(c, room.ID)
	if joined {
		g.broadcast(ctx, room.ID, EventUserJoined, g.presence(room.ID, identity), c.ID, false)
	}
	unlock()

	g.sendTo(c, EventJoinedRoom, RoomAckEvent{RoomID: room.ID})
	return nil
}

func (g *Gateway) leave(ctx context.Context, c *Client, identity *types.Identity, roomID uuid.UUID) {
	unlock := g.hub.LockRoom(roomID)
	wasMember := g.hub.Leave(c, roomID)
	if g.typing.Stop(roomID, c.ID) {
		g.broadcast(ctx, roomID, EventUserStoppedTyping, g.presence(roomID, identity), c.ID, false)
	}
	if wasMember {
		g.broadcast(ctx, roomID, EventUserLeft, g.presence(roomID, identity), c.ID, false)
	}
	unlock()
	g.sendTo(c, EventLeftRoom, RoomAckEvent{RoomID: roomID})
}

// SendMessage authorises, appends and fans out one message. origin is the
// sending connection, or nil when the message came in over REST. Nothing is
// broadcast unless the append committed.
func (g *Gateway) SendMessage(ctx context.Context, identity *types.Identity, p SendMessagePayload, origin *Client) (*types.Message, error) {
	if identity == nil {
		return nil, apperrors.ErrNoToken
	}
	ctx, cancel := g.detach(ctx)
	defer cancel()

	room, err := g.rooms.Authorize(ctx, identity, p.ChatRoomID)
	if err != nil {
		return nil, err
	}

	unlock := g.hub.LockRoom(room.ID)
	defer unlock()

	res, err := g.messages.Append(ctx, services.AppendMessageInput{
		ChatRoomID:      room.ID,
		SenderID:        identity.UserID,
		SenderType:      identity.SenderType(),
		Content:         p.Content,
		MessageType:     p.MessageType,
		Payload:         datatypes.JSON(p.Payload),
		ClientMessageID: p.ClientMessageID,
	})
	if err != nil {
		if apperrors.Retryable(err) {
			g.log.Warn("Message not persisted", "roomID", room.ID, "senderID", identity.UserID, "error", err)
		}
		return nil, err
	}

	msgFrame, err := EncodeFrame(EventNewMessage, NewMessageEvent{Message: res.Message})
	if err != nil {
		return nil, fmt.Errorf("encoding new_message: %w", err)
	}
	if res.Duplicate {
		// Already fanned out the first time; only re-ack the sender.
		if origin != nil {
			origin.Send(msgFrame)
		}
		return res.Message, nil
	}
	roomFrame, err := EncodeFrame(EventChatRoomUpdated, RoomUpdatedFrom(res.Room))
	if err != nil {
		return nil, fmt.Errorf("encoding chat_room_updated: %w", err)
	}

	directToOrigin := origin != nil && !g.hub.IsSubscribed(origin, room.ID)
	g.hub.Broadcast(ctx, Delivery{RoomID: room.ID, Frame: msgFrame, Persistent: true})
	g.hub.Broadcast(ctx, Delivery{RoomID: room.ID, Frame: roomFrame, Persistent: true})
	if directToOrigin {
		origin.Send(msgFrame)
		origin.Send(roomFrame)
	}
	if origin != nil && g.typing.Stop(room.ID, origin.ID) {
		g.broadcast(ctx, room.ID, EventUserStoppedTyping, g.presence(room.ID, identity), origin.ID, false)
	}

	g.notifyOffline(res.Room, res.Message)
	return res.Message, nil
}

// MarkRead flags the room's messages read for identity and pushes
// messages_read to the group when anything changed.
func (g *Gateway) MarkRead(ctx context.Context, identity *types.Identity, roomID uuid.UUID, origin *Client) (int64, error) {
	if identity == nil {
		return 0, apperrors.ErrNoToken
	}
	ctx, cancel := g.detach(ctx)
	defer cancel()

	room, err := g.rooms.Authorize(ctx, identity, roomID)
	if err != nil {
		return 0, err
	}
	n, err := g.messages.MarkRead(ctx, room.ID, identity.UserID)
	if err != nil {
		return 0, err
	}
	event := MessagesReadEvent{
		ChatRoomID: room.ID,
		ReaderID:   identity.UserID,
		ReaderRole: identity.Role,
		Count:      n,
		Timestamp:  g.now(),
	}
	if n > 0 {
		g.broadcast(ctx, room.ID, EventMessagesRead, event, uuid.Nil, true)
	}
	if origin != nil && (n == 0 || !g.hub.IsSubscribed(origin, room.ID)) {
		g.sendTo(origin, EventMessagesRead, event)
	}
	return n, nil
}

// RoomChanged pushes the room's current state to its group, for changes
// made outside a message append.
func (g *Gateway) RoomChanged(ctx context.Context, room *types.ChatRoom) {
	g.broadcast(ctx, room.ID, EventChatRoomUpdated, RoomUpdatedFrom(room), uuid.Nil, true)
}

// RoomDeleted tells the room's group the room is gone, then disbands the
// group on every node.
func (g *Gateway) RoomDeleted(ctx context.Context, roomID uuid.UUID) {
	ctx, cancel := g.detach(ctx)
	defer cancel()
	frame, err := EncodeFrame(EventChatRoomDeleted, ChatRoomPayload{ChatRoomID: roomID})
	if err != nil {
		g.log.Error("Failed to encode frame", "event", EventChatRoomDeleted, "error", err)
		return
	}
	unlock := g.hub.LockRoom(roomID)
	defer unlock()
	g.hub.Broadcast(ctx, Delivery{RoomID: roomID, Frame: frame, Persistent: true, Disband: true})
}

func (g *Gateway) typingEvent(ctx context.Context, c *Client, identity *types.Identity, roomID uuid.UUID, start bool) error {
	if !g.hub.IsSubscribed(c, roomID) {
		return errNotSubscribed
	}
	if start {
		g.typing.Start(roomID, c)
		g.broadcast(ctx, roomID, EventUserTyping, g.presence(roomID, identity), c.ID, false)
		return nil
	}
	g.typing.Stop(roomID, c.ID)
	g.broadcast(ctx, roomID, EventUserStoppedTyping, g.presence(roomID, identity), c.ID, false)
	return nil
}

func (g *Gateway) typingExpired(roomID uuid.UUID, c *Client) {
	identity := c.Identity()
	if identity == nil || !g.hub.IsSubscribed(c, roomID) {
		return
	}
	g.broadcast(context.Background(), roomID, EventUserStoppedTyping, g.presence(roomID, identity), c.ID, false)
}

// Disconnect removes c from every group and tells each group it left.
func (g *Gateway) Disconnect(c *Client) {
	identity := c.Identity()
	typingRooms := g.typing.ClearConn(c.ID)
	rooms := g.hub.Unregister(c)
	if identity == nil {
		return
	}
	ctx := context.Background()
	for _, roomID := range typingRooms {
		g.broadcast(ctx, roomID, EventUserStoppedTyping, g.presence(roomID, identity), c.ID, false)
	}
	for _, roomID := range rooms {
		g.broadcast(ctx, roomID, EventUserLeft, g.presence(roomID, identity), c.ID, false)
	}
	c.log.Info("Connection closed", "rooms", len(rooms))
}

func (g *Gateway) notifyOffline(room *types.ChatRoom, msg *types.Message) {
	if g.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		g.notifier.NotifyNewMessage(ctx, room, msg, g.hub.IsUserOnline)
	}()
}

// detach lets a write that has been issued finish after its caller goes
// away. The fan-out then reaches whoever is still subscribed. The event
// timeout still bounds it.
func (g *Gateway) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), g.cfg.EventTimeout)
}

func (g *Gateway) presence(roomID uuid.UUID, identity *types.Identity) PresenceEvent {
	return PresenceEvent{
		ChatRoomID: roomID,
		UserID:     identity.UserID,
		UserRole:   identity.Role,
		Timestamp:  g.now(),
	}
}

func (g *Gateway) broadcast(ctx context.Context, roomID uuid.UUID, event string, data interface{}, exclude uuid.UUID, persistent bool) {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		g.log.Error("Failed to encode frame", "event", event, "error", err)
		return
	}
	g.hub.Broadcast(ctx, Delivery{RoomID: roomID, Frame: frame, ExcludeConn: exclude, Persistent: persistent})
}

func (g *Gateway) sendTo(c *Client, event string, data interface{}) {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		g.log.Error("Failed to encode frame", "event", event, "error", err)
		return
	}
	if !c.Send(frame) {
		c.log.Debug("Dropped frame for closed or saturated connection", "event", event)
	}
}

// sendError answers the originating connection only.
func (g *Gateway) sendError(c *Client, event string, err error) {
	if apperrors.Code(err) == apperrors.CodeInternal {
		c.log.Error("Event failed", "event", event, "error", err)
	} else {
		c.log.Debug("Event rejected", "event", event, "error", err)
	}
	g.sendTo(c, EventError, ErrorEvent{
		Message:   apperrors.PublicMessage(err),
		Code:      apperrors.Code(err),
		Retryable: apperrors.Retryable(err),
		Event:     event,
	})
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", apperrors.ErrInvalidRequest)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed data: %v", apperrors.ErrInvalidRequest, err)
	}
	return nil
}
