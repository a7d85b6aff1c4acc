package types

import (
	"time"

	"github.com/google/uuid"
)

// ChatRoom is one conversation scoped to exactly one booking. At most one
// active row per booking is enforced by idx_chat_room_active_booking.
type ChatRoom struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID   uuid.UUID   `gorm:"type:uuid;column:booking_id;not null;index" json:"bookingId"`
	BookingType BookingType `gorm:"column:booking_type;not null" json:"bookingType"`
	UserID      uuid.UUID   `gorm:"type:uuid;column:user_id;not null;index" json:"userId"`
	CompanyID   *uuid.UUID  `gorm:"type:uuid;column:company_id;index" json:"companyId,omitempty"`
	IsActive    bool        `gorm:"column:is_active;not null" json:"isActive"`

	LastMessage    string     `gorm:"column:last_message;type:text" json:"lastMessage"`
	LastMessageAt  *time.Time `gorm:"column:last_message_at;index" json:"lastMessageAt,omitempty"`
	LastMessageSeq int64      `gorm:"column:last_message_seq;not null;default:0" json:"lastMessageSeq"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (ChatRoom) TableName() string {
	return "chat_room"
}
