package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

const MessageSeqIndex = "idx_message_room_seq"

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, msg *types.Message) (*types.Message, error)
	NextSeq(ctx context.Context, tx *gorm.DB, roomID uuid.UUID) (int64, error)
	GetByClientMessageID(ctx context.Context, tx *gorm.DB, roomID, senderID uuid.UUID, clientMessageID string) (*types.Message, error)
	ListByRoom(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, limit, offset int) ([]*types.Message, error)
	CountUnread(ctx context.Context, tx *gorm.DB, roomID, readerID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, tx *gorm.DB, roomID, readerID uuid.UUID) (int64, error)
	DeleteByRoomID(ctx context.Context, tx *gorm.DB, roomID uuid.UUID) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (mr *messageRepo) Create(ctx context.Context, tx *gorm.DB, msg *types.Message) (*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(msg).Error; err != nil {
		if !IsUniqueViolation(err) {
			mr.log.Error("Failed to create message", "roomID", msg.ChatRoomID, "error", err)
		}
		return nil, err
	}
	return msg, nil
}

// NextSeq is max(seq)+1 for the room. Two writers racing on different nodes
// both compute the same value; the loser fails on MessageSeqIndex.
func (mr *messageRepo) NextSeq(ctx context.Context, tx *gorm.DB, roomID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var maxSeq int64
	if err := transaction.WithContext(ctx).
		Model(&types.Message{}).
		Where("chat_room_id = ?", roomID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error; err != nil {
		mr.log.Error("Failed to compute next message seq", "roomID", roomID, "error", err)
		return 0, err
	}
	return maxSeq + 1, nil
}

func (mr *messageRepo) GetByClientMessageID(ctx context.Context, tx *gorm.DB, roomID, senderID uuid.UUID, clientMessageID string) (*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var msg types.Message
	if err := transaction.WithContext(ctx).
		Where("chat_room_id = ? AND sender_id = ? AND client_message_id = ?", roomID, senderID, clientMessageID).
		First(&msg).Error; err != nil {
		if !IsNotFound(err) {
			mr.log.Error("Failed to look up message by client id", "roomID", roomID, "error", err)
		}
		return nil, err
	}
	return &msg, nil
}

// ListByRoom returns newest first.
func (mr *messageRepo) ListByRoom(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, limit, offset int) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var msgs []*types.Message
	if err := transaction.WithContext(ctx).
		Where("chat_room_id = ?", roomID).
		Order("seq DESC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error; err != nil {
		mr.log.Error("Failed to list messages", "roomID", roomID, "error", err)
		return nil, err
	}
	return msgs, nil
}

func (mr *messageRepo) CountUnread(ctx context.Context, tx *gorm.DB, roomID, readerID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.Message{}).
		Where("chat_room_id = ? AND sender_id <> ? AND is_read = ?", roomID, readerID, false).
		Count(&n).Error; err != nil {
		mr.log.Error("Failed to count unread messages", "roomID", roomID, "error", err)
		return 0, err
	}
	return n, nil
}

func (mr *messageRepo) MarkRead(ctx context.Context, tx *gorm.DB, roomID, readerID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Message{}).
		Where("chat_room_id = ? AND sender_id <> ? AND is_read = ?", roomID, readerID, false).
		Update("is_read", true)
	if res.Error != nil {
		mr.log.Error("Failed to mark messages read", "roomID", roomID, "error", res.Error)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (mr *messageRepo) DeleteByRoomID(ctx context.Context, tx *gorm.DB, roomID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	res := transaction.WithContext(ctx).Where("chat_room_id = ?", roomID).Delete(&types.Message{})
	if res.Error != nil {
		mr.log.Error("Failed to delete messages for room", "roomID", roomID, "error", res.Error)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
