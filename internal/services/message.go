package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/apperrors"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/repos"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

const (
	MaxContentLength = 5000
	DefaultPageSize  = 50
	MaxPageSize      = 100

	previewLength    = 100
	maxAppendRetries = 3
)

var errRoomInactive = fmt.Errorf("%w: chat room is closed", apperrors.ErrInvalidRequest)

type AppendMessageInput struct {
	ChatRoomID      uuid.UUID
	SenderID        uuid.UUID
	SenderType      types.SenderType
	Content         string
	MessageType     types.MessageType
	Payload         datatypes.JSON
	ClientMessageID string
}

// AppendResult carries the stored message and the room as updated by the
// same transaction. Duplicate is set when ClientMessageID matched an
// earlier message and nothing new was written.
type AppendResult struct {
	Message   *types.Message
	Room      *types.ChatRoom
	Duplicate bool
}

type MessageService interface {
	Append(ctx context.Context, in AppendMessageInput) (*AppendResult, error)
	List(ctx context.Context, roomID uuid.UUID, page, pageSize int) ([]*types.Message, error)
	MarkRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, error)
	CountUnread(ctx context.Context, roomID, readerID uuid.UUID) (int64, error)
}

type messageService struct {
	db          *gorm.DB
	log         *logger.Logger
	messageRepo repos.MessageRepo
	roomRepo    repos.ChatRoomRepo
	chatRooms   ChatRoomService
	now         func() time.Time
}

func NewMessageService(
	db *gorm.DB,
	log *logger.Logger,
	messageRepo repos.MessageRepo,
	roomRepo repos.ChatRoomRepo,
	chatRooms ChatRoomService,
) MessageService {
	return &messageService{
		db:          db,
		log:         log.With("service", "MessageService"),
		messageRepo: messageRepo,
		roomRepo:    roomRepo,
		chatRooms:   chatRooms,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Append writes one message and the room preview atomically. A message is
// only ever reported as sent after this returns without error.
func (ms *messageService) Append(ctx context.Context, in AppendMessageInput) (*AppendResult, error) {
	if in.MessageType == "" {
		in.MessageType = types.MessageText
	}
	in.ClientMessageID = strings.TrimSpace(in.ClientMessageID)
	if err := validateAppend(in); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAppendRetries; attempt++ {
		res, err := ms.appendOnce(ctx, in)
		if err == nil {
			return res, nil
		}
		switch {
		case repos.UniqueViolationOn(err, repos.MessageSeqIndex, "message.chat_room_id", "message.seq"):
			ms.log.Debug("Message seq taken, retrying", "roomID", in.ChatRoomID, "attempt", attempt)
			lastErr = err
			continue
		case in.ClientMessageID != "" && repos.UniqueViolationOn(err, "idx_message_client_message_id", "message.client_message_id"):
			return ms.existingAppend(ctx, in)
		case errors.Is(err, apperrors.ErrRoomNotFound), errors.Is(err, apperrors.ErrInvalidRequest):
			return nil, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: appending message: %v", apperrors.ErrPersistence, err)
		default:
			ms.log.Error("Failed to append message", "roomID", in.ChatRoomID, "senderID", in.SenderID, "error", err)
			if errors.Is(err, apperrors.ErrPersistence) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: appending message: %v", apperrors.ErrPersistence, err)
		}
	}
	ms.log.Warn("Gave up appending message after seq conflicts", "roomID", in.ChatRoomID, "error", lastErr)
	return nil, fmt.Errorf("%w: appending message: %v", apperrors.ErrPersistence, lastErr)
}

func (ms *messageService) appendOnce(ctx context.Context, in AppendMessageInput) (*AppendResult, error) {
	var result AppendResult
	err := ms.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := ms.roomRepo.GetByID(ctx, tx, in.ChatRoomID)
		if err != nil {
			if repos.IsNotFound(err) {
				return apperrors.ErrRoomNotFound
			}
			return err
		}
		if !room.IsActive {
			return errRoomInactive
		}

		if in.ClientMessageID != "" {
			existing, err := ms.messageRepo.GetByClientMessageID(ctx, tx, in.ChatRoomID, in.SenderID, in.ClientMessageID)
			if err == nil {
				result = AppendResult{Message: existing, Room: room, Duplicate: true}
				return nil
			}
			if !repos.IsNotFound(err) {
				return err
			}
		}

		seq, err := ms.messageRepo.NextSeq(ctx, tx, in.ChatRoomID)
		if err != nil {
			return err
		}
		msg := &types.Message{
			ChatRoomID:      in.ChatRoomID,
			Seq:             seq,
			SenderID:        in.SenderID,
			SenderType:      in.SenderType,
			Content:         in.Content,
			MessageType:     in.MessageType,
			Payload:         in.Payload,
			ClientMessageID: in.ClientMessageID,
			CreatedAt:       ms.now(),
		}
		if _, err := ms.messageRepo.Create(ctx, tx, msg); err != nil {
			return err
		}
		if err := ms.chatRooms.TouchLastMessage(ctx, tx, room.ID, msg); err != nil {
			return err
		}
		updated, err := ms.roomRepo.GetByID(ctx, tx, room.ID)
		if err != nil {
			return err
		}
		result = AppendResult{Message: msg, Room: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// existingAppend resolves a lost race between two sends carrying the same
// client message id.
func (ms *messageService) existingAppend(ctx context.Context, in AppendMessageInput) (*AppendResult, error) {
	msg, err := ms.messageRepo.GetByClientMessageID(ctx, nil, in.ChatRoomID, in.SenderID, in.ClientMessageID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading duplicate message: %v", apperrors.ErrPersistence, err)
	}
	room, err := ms.chatRooms.GetRoom(ctx, in.ChatRoomID)
	if err != nil {
		return nil, err
	}
	return &AppendResult{Message: msg, Room: room, Duplicate: true}, nil
}

func validateAppend(in AppendMessageInput) error {
	if in.ChatRoomID == uuid.Nil {
		return fmt.Errorf("%w: chatRoomId is required", apperrors.ErrInvalidRequest)
	}
	if in.SenderID == uuid.Nil {
		return fmt.Errorf("%w: senderId is required", apperrors.ErrInvalidRequest)
	}
	if !in.SenderType.Valid() {
		return fmt.Errorf("%w: unknown sender type %q", apperrors.ErrInvalidRequest, in.SenderType)
	}
	if !in.MessageType.Valid() {
		return fmt.Errorf("%w: unknown message type %q", apperrors.ErrInvalidRequest, in.MessageType)
	}
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", apperrors.ErrInvalidRequest, MaxContentLength)
	}
	if len(in.ClientMessageID) > 128 {
		return fmt.Errorf("%w: clientMessageId is too long", apperrors.ErrInvalidRequest)
	}

	switch in.MessageType {
	case types.MessageText:
		if strings.TrimSpace(in.Content) == "" {
			return fmt.Errorf("%w: content is required", apperrors.ErrInvalidRequest)
		}
	case types.MessageImage, types.MessageFile:
		var att types.Attachment
		if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &att) != nil || att.URL == "" {
			return fmt.Errorf("%w: %s messages need an attachment with a url", apperrors.ErrInvalidRequest, in.MessageType)
		}
	case types.MessageCompanyProfile, types.MessageInvoice:
		if !isJSONObject(in.Payload) {
			return fmt.Errorf("%w: %s messages need a payload", apperrors.ErrInvalidRequest, in.MessageType)
		}
	case types.MessageSystemNotification:
		if in.SenderType != types.SenderAdmin {
			return fmt.Errorf("%w: only admins may send system notifications", apperrors.ErrAccessDenied)
		}
		if strings.TrimSpace(in.Content) == "" {
			return fmt.Errorf("%w: content is required", apperrors.ErrInvalidRequest)
		}
	}
	if len(in.Payload) > 0 && !json.Valid(in.Payload) {
		return fmt.Errorf("%w: payload is not valid json", apperrors.ErrInvalidRequest)
	}
	return nil
}

func isJSONObject(raw datatypes.JSON) bool {
	var obj map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return false
	}
	return len(obj) > 0
}

// Preview is the room list summary for a message.
func Preview(msg *types.Message) string {
	content := strings.TrimSpace(msg.Content)
	switch msg.MessageType {
	case types.MessageImage:
		if content == "" {
			return "[image]"
		}
	case types.MessageFile:
		if content == "" {
			return "[file]"
		}
	case types.MessageCompanyProfile:
		if content == "" {
			return "[company profile]"
		}
	case types.MessageInvoice:
		if content == "" {
			return "[invoice]"
		}
	}
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength]) + "..."
}

// List returns one page of a room's log, newest first. Pages start at 1.
func (ms *messageService) List(ctx context.Context, roomID uuid.UUID, page, pageSize int) ([]*types.Message, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	msgs, err := ms.messageRepo.ListByRoom(ctx, nil, roomID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: listing messages: %v", apperrors.ErrPersistence, err)
	}
	return msgs, nil
}

// Chronological reverses a newest-first page in place and returns it.
func Chronological(msgs []*types.Message) []*types.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

// MarkRead flags every unread message in the room not sent by the reader.
// Calling it again changes nothing and returns zero.
func (ms *messageService) MarkRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, error) {
	n, err := ms.messageRepo.MarkRead(ctx, nil, roomID, readerID)
	if err != nil {
		return 0, fmt.Errorf("%w: marking messages read: %v", apperrors.ErrPersistence, err)
	}
	if n > 0 {
		ms.log.Debug("Marked messages read", "roomID", roomID, "readerID", readerID, "count", n)
	}
	return n, nil
}

func (ms *messageService) CountUnread(ctx context.Context, roomID, readerID uuid.UUID) (int64, error) {
	n, err := ms.messageRepo.CountUnread(ctx, nil, roomID, readerID)
	if err != nil {
		return 0, fmt.Errorf("%w: counting unread: %v", apperrors.ErrPersistence, err)
	}
	return n, nil
}
