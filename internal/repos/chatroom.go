package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

const ActiveRoomIndex = "idx_chat_room_active_booking"

// RoomFilter narrows List. Zero fields are ignored.
type RoomFilter struct {
	UserID     uuid.UUID
	CompanyID  uuid.UUID
	ActiveOnly bool
	Limit      int
	Offset     int
}

type ChatRoomRepo interface {
	Create(ctx context.Context, tx *gorm.DB, room *types.ChatRoom) (*types.ChatRoom, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatRoom, error)
	GetActiveByBookingID(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) (*types.ChatRoom, error)
	List(ctx context.Context, tx *gorm.DB, filter RoomFilter) ([]*types.ChatRoom, error)
	SetCompanyIfMissing(ctx context.Context, tx *gorm.DB, id uuid.UUID, companyID uuid.UUID) (int64, error)
	TouchLastMessage(ctx context.Context, tx *gorm.DB, id uuid.UUID, preview string, seq int64, at time.Time) (int64, error)
	Deactivate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error)
}

type chatRoomRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRoomRepo(db *gorm.DB, baseLog *logger.Logger) ChatRoomRepo {
	return &chatRoomRepo{db: db, log: baseLog.With("repo", "ChatRoomRepo")}
}

// Create inserts the room. A second active room for the same booking fails
// on ActiveRoomIndex; callers detect it with UniqueViolationOn.
func (cr *chatRoomRepo) Create(ctx context.Context, tx *gorm.DB, room *types.ChatRoom) (*types.ChatRoom, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(room).Error; err != nil {
		if IsUniqueViolation(err) {
			cr.log.Debug("Active chat room already exists for booking", "bookingID", room.BookingID)
		} else {
			cr.log.Error("Failed to create chat room", "bookingID", room.BookingID, "error", err)
		}
		return nil, err
	}
	return room, nil
}

func (cr *chatRoomRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatRoom, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	var room types.ChatRoom
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		if !IsNotFound(err) {
			cr.log.Error("Failed to fetch chat room", "roomID", id, "error", err)
		}
		return nil, err
	}
	return &room, nil
}

func (cr *chatRoomRepo) GetActiveByBookingID(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) (*types.ChatRoom, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	var room types.ChatRoom
	if err := transaction.WithContext(ctx).
		Where("booking_id = ? AND is_active = ?", bookingID, true).
		First(&room).Error; err != nil {
		if !IsNotFound(err) {
			cr.log.Error("Failed to fetch active chat room for booking", "bookingID", bookingID, "error", err)
		}
		return nil, err
	}
	return &room, nil
}

// List orders by latest activity. Rooms without messages sort by creation.
func (cr *chatRoomRepo) List(ctx context.Context, tx *gorm.DB, filter RoomFilter) ([]*types.ChatRoom, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	q := transaction.WithContext(ctx).Model(&types.ChatRoom{})
	if filter.UserID != uuid.Nil {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.CompanyID != uuid.Nil {
		q = q.Where("company_id = ?", filter.CompanyID)
	}
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}
	var rooms []*types.ChatRoom
	if err := q.Order("updated_at DESC").Order("created_at DESC").Find(&rooms).Error; err != nil {
		cr.log.Error("Failed to list chat rooms", "error", err)
		return nil, err
	}
	return rooms, nil
}

// SetCompanyIfMissing only writes when company_id is still NULL, so
// concurrent repairs converge on the first writer.
func (cr *chatRoomRepo) SetCompanyIfMissing(ctx context.Context, tx *gorm.DB, id uuid.UUID, companyID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.ChatRoom{}).
		Where("id = ? AND company_id IS NULL", id).
		Updates(map[string]interface{}{
			"company_id": companyID,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		cr.log.Error("Failed to back-fill chat room company", "roomID", id, "error", res.Error)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// TouchLastMessage only moves the preview forward in log order: a message
// with a lower seq never overwrites a higher one, whatever the node clocks say.
func (cr *chatRoomRepo) TouchLastMessage(ctx context.Context, tx *gorm.DB, id uuid.UUID, preview string, seq int64, at time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.ChatRoom{}).
		Where("id = ? AND last_message_seq < ?", id, seq).
		Updates(map[string]interface{}{
			"last_message":     preview,
			"last_message_seq": seq,
			"last_message_at":  at,
			"updated_at":       at,
		})
	if res.Error != nil {
		cr.log.Error("Failed to update chat room preview", "roomID", id, "error", res.Error)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (cr *chatRoomRepo) Deactivate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.ChatRoom{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		cr.log.Error("Failed to deactivate chat room", "roomID", id, "error", res.Error)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (cr *chatRoomRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	res := transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.ChatRoom{})
	if res.Error != nil {
		cr.log.Error("Failed to delete chat room", "roomID", id, "error", res.Error)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
