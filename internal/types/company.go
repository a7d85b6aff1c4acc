package types

import (
	"time"

	"github.com/google/uuid"
)

// Company is the service-company profile owned by a company-role user.
type Company struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;column:owner_user_id;uniqueIndex;not null" json:"ownerUserId"`
	Name        string    `gorm:"column:name" json:"name"`
	Email       string    `gorm:"column:email" json:"email"`
	PhoneNumber *string   `gorm:"column:phone_number" json:"phoneNumber,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (Company) TableName() string {
	return "company"
}
