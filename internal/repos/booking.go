package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

// BookingRepo is the read side of the booking store. Create exists for
// seeding and tests only.
type BookingRepo interface {
	Create(ctx context.Context, tx *gorm.DB, bookings []*types.Booking) ([]*types.Booking, error)
	GetByIDAndType(ctx context.Context, tx *gorm.DB, id uuid.UUID, bookingType types.BookingType) (*types.Booking, error)
}

type bookingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBookingRepo(db *gorm.DB, baseLog *logger.Logger) BookingRepo {
	return &bookingRepo{db: db, log: baseLog.With("repo", "BookingRepo")}
}

func (br *bookingRepo) Create(ctx context.Context, tx *gorm.DB, bookings []*types.Booking) ([]*types.Booking, error) {
	transaction := tx
	if transaction == nil {
		transaction = br.db
	}
	if len(bookings) == 0 {
		return []*types.Booking{}, nil
	}
	for _, b := range bookings {
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(ctx).Create(&bookings).Error; err != nil {
		br.log.Error("Failed to create bookings", "error", err)
		return nil, err
	}
	return bookings, nil
}

func (br *bookingRepo) GetByIDAndType(ctx context.Context, tx *gorm.DB, id uuid.UUID, bookingType types.BookingType) (*types.Booking, error) {
	transaction := tx
	if transaction == nil {
		transaction = br.db
	}
	var b types.Booking
	if err := transaction.WithContext(ctx).
		Where("id = ? AND booking_type = ?", id, bookingType).
		First(&b).Error; err != nil {
		if !IsNotFound(err) {
			br.log.Error("Failed to fetch booking", "bookingID", id, "bookingType", bookingType, "error", err)
		}
		return nil, err
	}
	return &b, nil
}
