package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/apperrors"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/repos"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/requestdata"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

type JWTClaims struct {
	jwt.RegisteredClaims
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

// AuthService is the session authenticator: it turns a bearer credential
// into an Identity. Failures are one of apperrors.ErrNoToken,
// ErrInvalidToken, ErrUserNotFound, or ErrPersistence when the user store
// is unreachable.
type AuthService interface {
	Authenticate(ctx context.Context, tokenString string) (*types.Identity, error)
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	IssueAccessToken(ctx context.Context, user *types.User) (string, error)
	GetAccessTTL() time.Duration
}

type authService struct {
	log          *logger.Logger
	userRepo     repos.UserRepo
	companyRepo  repos.CompanyRepo
	jwtSecretKey string
	accessTTL    time.Duration
}

func NewAuthService(
	log *logger.Logger,
	userRepo repos.UserRepo,
	companyRepo repos.CompanyRepo,
	jwtSecretKey string,
	accessTTL time.Duration,
) AuthService {
	return &authService{
		log:          log.With("service", "AuthService"),
		userRepo:     userRepo,
		companyRepo:  companyRepo,
		jwtSecretKey: jwtSecretKey,
		accessTTL:    accessTTL,
	}
}

func (as *authService) Authenticate(ctx context.Context, tokenString string) (*types.Identity, error) {
	if tokenString == "" {
		return nil, apperrors.ErrNoToken
	}
	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		as.log.Debug("Failed to parse token", "error", err)
		return nil, apperrors.ErrInvalidToken
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return nil, apperrors.ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		as.log.Debug("Invalid subject in token", "subject", claims.Subject)
		return nil, apperrors.ErrInvalidToken
	}

	//1) The user record is authoritative for role and email.
	user, err := as.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		if repos.IsNotFound(err) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: loading user: %v", apperrors.ErrPersistence, err)
	}
	if !user.Role.Valid() {
		as.log.Warn("User has unknown role, rejecting", "userID", user.ID, "role", user.Role)
		return nil, apperrors.ErrInvalidToken
	}
	identity := &types.Identity{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
	}

	//2) Company identities act through the company profile they own.
	if user.Role == types.RoleCompany {
		company, cErr := as.companyRepo.GetByOwnerUserID(ctx, nil, user.ID)
		switch {
		case cErr == nil:
			companyID := company.ID
			identity.CompanyID = &companyID
		case repos.IsNotFound(cErr):
			as.log.Debug("Company user owns no company profile yet", "userID", user.ID)
		default:
			return nil, fmt.Errorf("%w: loading company: %v", apperrors.ErrPersistence, cErr)
		}
	}
	return identity, nil
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	identity, err := as.Authenticate(ctx, tokenString)
	if err != nil {
		return ctx, err
	}
	rd := &requestdata.RequestData{
		TokenString: tokenString,
		Identity:    identity,
	}
	return requestdata.WithRequestData(ctx, rd), nil
}

func (as *authService) IssueAccessToken(ctx context.Context, user *types.User) (string, error) {
	if user == nil || user.ID == uuid.Nil {
		return "", fmt.Errorf("%w: user is required", apperrors.ErrInvalidRequest)
	}
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role:  string(user.Role),
		Email: user.Email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) GetAccessTTL() time.Duration {
	return as.accessTTL
}
