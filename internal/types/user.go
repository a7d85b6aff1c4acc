package types

import (
	"time"

	"github.com/google/uuid"
)

// User is owned by the account subsystem; the chat service only reads it.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Role        Role      `gorm:"column:role;not null;index" json:"role"`
	Email       string    `gorm:"column:email;uniqueIndex;not null" json:"email"`
	PhoneNumber *string   `gorm:"column:phone_number" json:"phoneNumber,omitempty"`
	FirstName   string    `gorm:"column:first_name" json:"firstName"`
	LastName    string    `gorm:"column:last_name" json:"lastName"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (User) TableName() string {
	return "user"
}
