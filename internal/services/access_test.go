package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

func TestRoomAccessPolicy(t *testing.T) {
	policy := NewRoomAccessPolicy()
	customer := uuid.New()
	company := uuid.New()
	otherCompany := uuid.New()

	assigned := &types.ChatRoom{ID: uuid.New(), UserID: customer, CompanyID: &company}
	unassigned := &types.ChatRoom{ID: uuid.New(), UserID: customer}

	cases := []struct {
		name     string
		identity *types.Identity
		room     *types.ChatRoom
		want     bool
	}{
		{"admin any room", &types.Identity{UserID: uuid.New(), Role: types.RoleAdmin}, assigned, true},
		{"admin room without company", &types.Identity{UserID: uuid.New(), Role: types.RoleAdmin}, unassigned, true},
		{"owning customer", &types.Identity{UserID: customer, Role: types.RoleUser}, assigned, true},
		{"other customer", &types.Identity{UserID: uuid.New(), Role: types.RoleUser}, assigned, false},
		{"assigned company", &types.Identity{UserID: uuid.New(), Role: types.RoleCompany, CompanyID: &company}, assigned, true},
		{"other company", &types.Identity{UserID: uuid.New(), Role: types.RoleCompany, CompanyID: &otherCompany}, assigned, false},
		{"company without profile", &types.Identity{UserID: uuid.New(), Role: types.RoleCompany}, assigned, false},
		{"company on unassigned room", &types.Identity{UserID: uuid.New(), Role: types.RoleCompany, CompanyID: &company}, unassigned, false},
		{"customer id used as company", &types.Identity{UserID: customer, Role: types.RoleCompany, CompanyID: &otherCompany}, assigned, false},
		{"unknown role", &types.Identity{UserID: customer, Role: "guest"}, assigned, false},
		{"nil identity", nil, assigned, false},
		{"nil room", &types.Identity{UserID: customer, Role: types.RoleAdmin}, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, policy.CanAccess(tc.identity, tc.room))
		})
	}
}
