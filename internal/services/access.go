package services

import (
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

// RoomAccessPolicy is the one place the room membership rule lives. It gates
// joining, history reads, sends and read receipts alike.
type RoomAccessPolicy interface {
	CanAccess(identity *types.Identity, room *types.ChatRoom) bool
}

type roomAccessPolicy struct{}

func NewRoomAccessPolicy() RoomAccessPolicy {
	return roomAccessPolicy{}
}

func (roomAccessPolicy) CanAccess(identity *types.Identity, room *types.ChatRoom) bool {
	if identity == nil || room == nil {
		return false
	}
	switch identity.Role {
	case types.RoleAdmin:
		return true
	case types.RoleCompany:
		return identity.CompanyID != nil && room.CompanyID != nil && *identity.CompanyID == *room.CompanyID
	case types.RoleUser:
		return room.UserID == identity.UserID
	default:
		return false
	}
}
