package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/apperrors"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/repos"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

// ChatRoomService is the chat room store. Rooms are created by the booking
// lifecycle (approval or quote request) and are never hard deleted except
// by an admin.
type ChatRoomService interface {
	CreateRoom(ctx context.Context, bookingID uuid.UUID, bookingType types.BookingType, userID uuid.UUID, companyID *uuid.UUID) (*types.ChatRoom, error)
	CreateRoomForBooking(ctx context.Context, identity *types.Identity, bookingID uuid.UUID, bookingType types.BookingType) (*types.ChatRoom, error)
	GetActiveRoomForBooking(ctx context.Context, bookingID uuid.UUID) (*types.ChatRoom, error)
	GetRoom(ctx context.Context, roomID uuid.UUID) (*types.ChatRoom, error)
	Authorize(ctx context.Context, identity *types.Identity, roomID uuid.UUID) (*types.ChatRoom, error)
	ListRooms(ctx context.Context, identity *types.Identity) ([]*types.ChatRoom, error)
	RepairMembership(ctx context.Context, room *types.ChatRoom) (*types.ChatRoom, error)
	TouchLastMessage(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, msg *types.Message) error
	CloseRoom(ctx context.Context, identity *types.Identity, roomID uuid.UUID) (*types.ChatRoom, error)
	DeleteRoom(ctx context.Context, identity *types.Identity, roomID uuid.UUID) error
}

type chatRoomService struct {
	db          *gorm.DB
	log         *logger.Logger
	roomRepo    repos.ChatRoomRepo
	messageRepo repos.MessageRepo
	bookingRepo repos.BookingRepo
	policy      RoomAccessPolicy
}

func NewChatRoomService(
	db *gorm.DB,
	log *logger.Logger,
	roomRepo repos.ChatRoomRepo,
	messageRepo repos.MessageRepo,
	bookingRepo repos.BookingRepo,
	policy RoomAccessPolicy,
) ChatRoomService {
	return &chatRoomService{
		db:          db,
		log:         log.With("service", "ChatRoomService"),
		roomRepo:    roomRepo,
		messageRepo: messageRepo,
		bookingRepo: bookingRepo,
		policy:      policy,
	}
}

// CreateRoom relies on idx_chat_room_active_booking rather than a prior
// read, so two simultaneous approvals cannot both succeed.
func (crs *chatRoomService) CreateRoom(
	ctx context.Context,
	bookingID uuid.UUID,
	bookingType types.BookingType,
	userID uuid.UUID,
	companyID *uuid.UUID,
) (*types.ChatRoom, error) {
	if bookingID == uuid.Nil {
		return nil, fmt.Errorf("%w: bookingId is required", apperrors.ErrInvalidRequest)
	}
	if !bookingType.Valid() {
		return nil, fmt.Errorf("%w: unknown booking type %q", apperrors.ErrInvalidRequest, bookingType)
	}
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: userId is required", apperrors.ErrInvalidRequest)
	}
	if companyID != nil && *companyID == uuid.Nil {
		companyID = nil
	}
	room := &types.ChatRoom{
		BookingID:   bookingID,
		BookingType: bookingType,
		UserID:      userID,
		CompanyID:   companyID,
		IsActive:    true,
	}
	created, err := crs.roomRepo.Create(ctx, nil, room)
	if err != nil {
		if repos.UniqueViolationOn(err, repos.ActiveRoomIndex, "chat_room.booking_id") {
			return nil, fmt.Errorf("%w: booking %s", apperrors.ErrDuplicateActiveRoom, bookingID)
		}
		return nil, fmt.Errorf("%w: creating chat room: %v", apperrors.ErrPersistence, err)
	}
	crs.log.Info("Chat room created", "roomID", created.ID, "bookingID", bookingID, "bookingType", bookingType)
	return created, nil
}

// CreateRoomForBooking opens the room for an existing booking. Allowed for
// admins, the booking's customer (quote request) and its assigned company
// (approval).
func (crs *chatRoomService) CreateRoomForBooking(
	ctx context.Context,
	identity *types.Identity,
	bookingID uuid.UUID,
	bookingType types.BookingType,
) (*types.ChatRoom, error) {
	if identity == nil {
		return nil, apperrors.ErrNoToken
	}
	if !bookingType.Valid() {
		return nil, fmt.Errorf("%w: unknown booking type %q", apperrors.ErrInvalidRequest, bookingType)
	}
	booking, err := crs.bookingRepo.GetByIDAndType(ctx, nil, bookingID, bookingType)
	if err != nil {
		if repos.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s booking %s", apperrors.ErrBookingNotFound, bookingType, bookingID)
		}
		return nil, fmt.Errorf("%w: loading booking: %v", apperrors.ErrPersistence, err)
	}
	allowed := false
	switch identity.Role {
	case types.RoleAdmin:
		allowed = true
	case types.RoleUser:
		allowed = booking.UserID == identity.UserID
	case types.RoleCompany:
		allowed = identity.CompanyID != nil && booking.CompanyID != nil && *identity.CompanyID == *booking.CompanyID
	}
	if !allowed {
		return nil, fmt.Errorf("%w: booking %s is not yours", apperrors.ErrAccessDenied, bookingID)
	}
	return crs.CreateRoom(ctx, booking.ID, booking.BookingType, booking.UserID, booking.CompanyID)
}

func (crs *chatRoomService) GetActiveRoomForBooking(ctx context.Context, bookingID uuid.UUID) (*types.ChatRoom, error) {
	room, err := crs.roomRepo.GetActiveByBookingID(ctx, nil, bookingID)
	if err != nil {
		if repos.IsNotFound(err) {
			return nil, fmt.Errorf("%w: no active room for booking %s", apperrors.ErrRoomNotFound, bookingID)
		}
		return nil, fmt.Errorf("%w: loading chat room: %v", apperrors.ErrPersistence, err)
	}
	return room, nil
}

func (crs *chatRoomService) GetRoom(ctx context.Context, roomID uuid.UUID) (*types.ChatRoom, error) {
	if roomID == uuid.Nil {
		return nil, fmt.Errorf("%w: roomId is required", apperrors.ErrInvalidRequest)
	}
	room, err := crs.roomRepo.GetByID(ctx, nil, roomID)
	if err != nil {
		if repos.IsNotFound(err) {
			return nil, apperrors.ErrRoomNotFound
		}
		return nil, fmt.Errorf("%w: loading chat room: %v", apperrors.ErrPersistence, err)
	}
	return room, nil
}

// Authorize loads the room and applies the access policy. A company denied
// on a room whose company was never filled in gets one repair attempt.
func (crs *chatRoomService) Authorize(ctx context.Context, identity *types.Identity, roomID uuid.UUID) (*types.ChatRoom, error) {
	if identity == nil {
		return nil, apperrors.ErrNoToken
	}
	room, err := crs.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if crs.policy.CanAccess(identity, room) {
		return room, nil
	}
	if identity.Role == types.RoleCompany && room.CompanyID == nil {
		repaired, rErr := crs.RepairMembership(ctx, room)
		if rErr != nil {
			crs.log.Warn("Membership repair failed during access check", "roomID", room.ID, "error", rErr)
			if errors.Is(rErr, apperrors.ErrPersistence) {
				return nil, rErr
			}
		} else if crs.policy.CanAccess(identity, repaired) {
			return repaired, nil
		}
	}
	return nil, fmt.Errorf("%w: %s cannot access chat room %s", apperrors.ErrAccessDenied, identity.Role, roomID)
}

func (crs *chatRoomService) ListRooms(ctx context.Context, identity *types.Identity) ([]*types.ChatRoom, error) {
	if identity == nil {
		return nil, apperrors.ErrNoToken
	}
	var filter repos.RoomFilter
	switch identity.Role {
	case types.RoleAdmin:
	case types.RoleCompany:
		if identity.CompanyID == nil {
			return []*types.ChatRoom{}, nil
		}
		filter.CompanyID = *identity.CompanyID
	case types.RoleUser:
		filter.UserID = identity.UserID
	default:
		return nil, fmt.Errorf("%w: unknown role %q", apperrors.ErrAccessDenied, identity.Role)
	}
	rooms, err := crs.roomRepo.List(ctx, nil, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: listing chat rooms: %v", apperrors.ErrPersistence, err)
	}
	return rooms, nil
}

// RepairMembership back-fills company_id from the booking's assignment.
// Room creation and company assignment are separate writes that may land in
// either order; running this any number of times, concurrently, converges.
func (crs *chatRoomService) RepairMembership(ctx context.Context, room *types.ChatRoom) (*types.ChatRoom, error) {
	if room == nil {
		return nil, fmt.Errorf("%w: room is required", apperrors.ErrInvalidRequest)
	}
	if room.CompanyID != nil {
		return room, nil
	}
	booking, err := crs.bookingRepo.GetByIDAndType(ctx, nil, room.BookingID, room.BookingType)
	if err != nil {
		if repos.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s booking %s for room %s", apperrors.ErrBookingNotFound, room.BookingType, room.BookingID, room.ID)
		}
		return nil, fmt.Errorf("%w: loading booking: %v", apperrors.ErrPersistence, err)
	}
	if booking.CompanyID == nil {
		return room, nil
	}
	rows, err := crs.roomRepo.SetCompanyIfMissing(ctx, nil, room.ID, *booking.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("%w: repairing chat room: %v", apperrors.ErrPersistence, err)
	}
	if rows > 0 {
		crs.log.Info("Back-filled chat room company", "roomID", room.ID, "companyID", *booking.CompanyID)
	}
	return crs.GetRoom(ctx, room.ID)
}

func (crs *chatRoomService) TouchLastMessage(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, msg *types.Message) error {
	if _, err := crs.roomRepo.TouchLastMessage(ctx, tx, roomID, Preview(msg), msg.Seq, msg.CreatedAt); err != nil {
		return fmt.Errorf("%w: updating room preview: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// CloseRoom deactivates the room, freeing the booking for a new one.
func (crs *chatRoomService) CloseRoom(ctx context.Context, identity *types.Identity, roomID uuid.UUID) (*types.ChatRoom, error) {
	room, err := crs.Authorize(ctx, identity, roomID)
	if err != nil {
		return nil, err
	}
	if identity.Role == types.RoleUser {
		return nil, fmt.Errorf("%w: customers cannot close chat rooms", apperrors.ErrAccessDenied)
	}
	if _, err := crs.roomRepo.Deactivate(ctx, nil, room.ID); err != nil {
		return nil, fmt.Errorf("%w: closing chat room: %v", apperrors.ErrPersistence, err)
	}
	crs.log.Info("Chat room closed", "roomID", room.ID, "by", identity.UserID)
	return crs.GetRoom(ctx, room.ID)
}

// DeleteRoom removes the room and every message in it in one transaction.
func (crs *chatRoomService) DeleteRoom(ctx context.Context, identity *types.Identity, roomID uuid.UUID) error {
	if identity == nil {
		return apperrors.ErrNoToken
	}
	if identity.Role != types.RoleAdmin {
		return fmt.Errorf("%w: only admins may delete chat rooms", apperrors.ErrAccessDenied)
	}
	return crs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := crs.roomRepo.GetByID(ctx, tx, roomID); err != nil {
			if repos.IsNotFound(err) {
				return apperrors.ErrRoomNotFound
			}
			return fmt.Errorf("%w: loading chat room: %v", apperrors.ErrPersistence, err)
		}
		deleted, err := crs.messageRepo.DeleteByRoomID(ctx, tx, roomID)
		if err != nil {
			return fmt.Errorf("%w: deleting messages: %v", apperrors.ErrPersistence, err)
		}
		if _, err := crs.roomRepo.Delete(ctx, tx, roomID); err != nil {
			return fmt.Errorf("%w: deleting chat room: %v", apperrors.ErrPersistence, err)
		}
		crs.log.Info("Chat room deleted", "roomID", roomID, "messagesDeleted", deleted)
		return nil
	})
}
