package types

import (
	"github.com/google/uuid"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleCompany Role = "company"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleCompany, RoleAdmin:
		return true
	}
	return false
}

// Identity is what a credential resolves to. It is fixed for the life of a
// connection. CompanyID is only set for company identities that own a
// company profile.
type Identity struct {
	UserID    uuid.UUID  `json:"userId"`
	Role      Role       `json:"role"`
	Email     string     `json:"email"`
	CompanyID *uuid.UUID `json:"companyId,omitempty"`
}

// SenderType is the message sender type matching this identity's role.
func (i *Identity) SenderType() SenderType {
	return SenderType(i.Role)
}
