package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

type CompanyRepo interface {
	Create(ctx context.Context, tx *gorm.DB, companies []*types.Company) ([]*types.Company, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Company, error)
	GetByOwnerUserID(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (*types.Company, error)
}

type companyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCompanyRepo(db *gorm.DB, baseLog *logger.Logger) CompanyRepo {
	return &companyRepo{db: db, log: baseLog.With("repo", "CompanyRepo")}
}

func (cr *companyRepo) Create(ctx context.Context, tx *gorm.DB, companies []*types.Company) ([]*types.Company, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	if len(companies) == 0 {
		return []*types.Company{}, nil
	}
	for _, c := range companies {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(ctx).Create(&companies).Error; err != nil {
		cr.log.Error("Failed to create companies", "error", err)
		return nil, err
	}
	return companies, nil
}

func (cr *companyRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Company, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	var c types.Company
	if err := transaction.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if !IsNotFound(err) {
			cr.log.Error("Failed to fetch company by ID", "companyID", id, "error", err)
		}
		return nil, err
	}
	return &c, nil
}

func (cr *companyRepo) GetByOwnerUserID(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (*types.Company, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	var c types.Company
	if err := transaction.WithContext(ctx).Where("owner_user_id = ?", ownerUserID).First(&c).Error; err != nil {
		if !IsNotFound(err) {
			cr.log.Error("Failed to fetch company by owner", "ownerUserID", ownerUserID, "error", err)
		}
		return nil, err
	}
	return &c, nil
}
