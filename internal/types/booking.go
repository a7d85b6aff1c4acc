package types

import (
	"time"

	"github.com/google/uuid"
)

type BookingType string

const (
	BookingMoving    BookingType = "moving"
	BookingDisposal  BookingType = "disposal"
	BookingTransport BookingType = "transport"
)

func (b BookingType) Valid() bool {
	switch b {
	case BookingMoving, BookingDisposal, BookingTransport:
		return true
	}
	return false
}

// Booking is owned by the booking subsystem. The chat service reads it to
// authorise room creation and to back-fill a room's company.
type Booking struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	BookingType BookingType `gorm:"column:booking_type;not null;index" json:"bookingType"`
	UserID      uuid.UUID   `gorm:"type:uuid;column:user_id;not null;index" json:"userId"`
	CompanyID   *uuid.UUID  `gorm:"type:uuid;column:company_id;index" json:"companyId,omitempty"`
	Status      string      `gorm:"column:status;not null" json:"status"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Booking) TableName() string {
	return "booking"
}
