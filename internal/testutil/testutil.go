// Package testutil builds an in-memory database with the chat schema and
// seeds the collaborator rows (users, companies, bookings) tests need.
package testutil

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/db"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/repos"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

// NewTestDB opens a private in-memory SQLite database and migrates it. A
// single pooled connection keeps every statement on the same memory database.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// Fixture is one booking with its customer and assigned company.
type Fixture struct {
	Customer     *types.User
	CompanyOwner *types.User
	Company      *types.Company
	Admin        *types.User
	Booking      *types.Booking
}

func (f *Fixture) CustomerIdentity() *types.Identity {
	return &types.Identity{UserID: f.Customer.ID, Role: types.RoleUser, Email: f.Customer.Email}
}

func (f *Fixture) CompanyIdentity() *types.Identity {
	companyID := f.Company.ID
	return &types.Identity{UserID: f.CompanyOwner.ID, Role: types.RoleCompany, Email: f.CompanyOwner.Email, CompanyID: &companyID}
}

func (f *Fixture) AdminIdentity() *types.Identity {
	return &types.Identity{UserID: f.Admin.ID, Role: types.RoleAdmin, Email: f.Admin.Email}
}

func CreateUser(t testing.TB, gdb *gorm.DB, role types.Role) *types.User {
	t.Helper()
	id := uuid.New()
	u := &types.User{
		ID:        id,
		Role:      role,
		Email:     string(role) + "-" + id.String()[:8] + "@localease.test",
		FirstName: "Test",
		LastName:  string(role),
	}
	if _, err := repos.NewUserRepo(gdb, logger.NewNop()).Create(context.Background(), nil, []*types.User{u}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// CreateCompany creates a company-role user and the company profile it owns.
func CreateCompany(t testing.TB, gdb *gorm.DB) (*types.User, *types.Company) {
	t.Helper()
	owner := CreateUser(t, gdb, types.RoleCompany)
	c := &types.Company{
		ID:          uuid.New(),
		OwnerUserID: owner.ID,
		Name:        "Movers " + owner.ID.String()[:4],
		Email:       owner.Email,
	}
	if _, err := repos.NewCompanyRepo(gdb, logger.NewNop()).Create(context.Background(), nil, []*types.Company{c}); err != nil {
		t.Fatalf("create company: %v", err)
	}
	return owner, c
}

func CreateBooking(t testing.TB, gdb *gorm.DB, bookingType types.BookingType, userID uuid.UUID, companyID *uuid.UUID) *types.Booking {
	t.Helper()
	b := &types.Booking{
		ID:          uuid.New(),
		BookingType: bookingType,
		UserID:      userID,
		CompanyID:   companyID,
		Status:      "approved",
	}
	if _, err := repos.NewBookingRepo(gdb, logger.NewNop()).Create(context.Background(), nil, []*types.Booking{b}); err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

// NewFixture seeds a moving booking owned by a customer and assigned to a
// company, plus an admin.
func NewFixture(t testing.TB, gdb *gorm.DB) *Fixture {
	t.Helper()
	customer := CreateUser(t, gdb, types.RoleUser)
	owner, company := CreateCompany(t, gdb)
	admin := CreateUser(t, gdb, types.RoleAdmin)
	companyID := company.ID
	booking := CreateBooking(t, gdb, types.BookingMoving, customer.ID, &companyID)
	return &Fixture{
		Customer:     customer,
		CompanyOwner: owner,
		Company:      company,
		Admin:        admin,
		Booking:      booking,
	}
}
