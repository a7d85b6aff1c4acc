package socket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

// Client -> server.
const (
	EventAuthenticate = "authenticate"
	EventJoinRoom     = "join_room"
	EventLeaveRoom    = "leave_room"
	EventSendMessage  = "send_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
	EventMarkRead     = "mark_read"
)

// Server -> client.
const (
	EventAuthenticated     = "authenticated"
	EventJoinedRoom        = "joined_room"
	EventLeftRoom          = "left_room"
	EventNewMessage        = "new_message"
	EventChatRoomUpdated   = "chat_room_updated"
	EventChatRoomDeleted   = "chat_room_deleted"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventMessagesRead      = "messages_read"
	EventError             = "error"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type RoomPayload struct {
	RoomID uuid.UUID `json:"roomId"`
}

type ChatRoomPayload struct {
	ChatRoomID uuid.UUID `json:"chatRoomId"`
}

type SendMessagePayload struct {
	ChatRoomID      uuid.UUID         `json:"chatRoomId"`
	Content         string            `json:"content"`
	MessageType     types.MessageType `json:"messageType,omitempty"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	ClientMessageID string            `json:"clientMessageId,omitempty"`
}

type AuthenticatedEvent struct {
	UserID    uuid.UUID  `json:"userId"`
	Role      types.Role `json:"role"`
	CompanyID *uuid.UUID `json:"companyId,omitempty"`
}

type RoomAckEvent struct {
	RoomID uuid.UUID `json:"roomId"`
}

type NewMessageEvent struct {
	Message *types.Message `json:"message"`
}

type ChatRoomUpdatedEvent struct {
	ChatRoomID     uuid.UUID  `json:"chatRoomId"`
	LastMessage    string     `json:"lastMessage"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	LastMessageSeq int64      `json:"lastMessageSeq"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	IsActive       bool       `json:"isActive"`
}

// PresenceEvent backs user_joined, user_left, user_typing and
// user_stopped_typing.
type PresenceEvent struct {
	ChatRoomID uuid.UUID  `json:"chatRoomId"`
	UserID     uuid.UUID  `json:"userId"`
	UserRole   types.Role `json:"userRole"`
	Timestamp  time.Time  `json:"timestamp"`
}

type MessagesReadEvent struct {
	ChatRoomID uuid.UUID  `json:"chatRoomId"`
	ReaderID   uuid.UUID  `json:"readerId"`
	ReaderRole types.Role `json:"readerRole"`
	Count      int64      `json:"count"`
	Timestamp  time.Time  `json:"timestamp"`
}

type ErrorEvent struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Event     string `json:"event,omitempty"`
}

func RoomUpdatedFrom(room *types.ChatRoom) ChatRoomUpdatedEvent {
	return ChatRoomUpdatedEvent{
		ChatRoomID:     room.ID,
		LastMessage:    room.LastMessage,
		LastMessageAt:  room.LastMessageAt,
		LastMessageSeq: room.LastMessageSeq,
		UpdatedAt:      room.UpdatedAt,
		IsActive:       room.IsActive,
	}
}

// EncodeFrame marshals once so a broadcast reuses the same bytes for every
// subscriber and for the redis relay.
func EncodeFrame(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
