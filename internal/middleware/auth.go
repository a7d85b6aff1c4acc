package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/apperrors"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/requestdata"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/services"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

type AuthMiddleware struct {
	log         *logger.Logger
	authService services.AuthService
}

func NewAuthMiddleware(log *logger.Logger, authService services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), authService: authService}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c.Request)
		ctx, err := am.authService.SetContextFromToken(c.Request.Context(), tokenString)
		if err != nil {
			am.log.Debug("Rejected request", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(apperrors.HTTPStatus(err), gin.H{
				"error": apperrors.PublicMessage(err),
				"code":  apperrors.Code(err),
			})
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole must run after RequireAuth.
func (am *AuthMiddleware) RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := requestdata.IdentityFrom(c.Request.Context())
		if identity == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": apperrors.ErrNoToken.Error(),
				"code":  apperrors.CodeAuthentication,
			})
			return
		}
		for _, r := range roles {
			if identity.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": apperrors.ErrAccessDenied.Error(),
			"code":  apperrors.CodeAccessDenied,
		})
	}
}

// ExtractToken reads the bearer credential from the token query parameter
// or the Authorization header. Browsers cannot set headers on a websocket
// handshake, hence the query fallback.
func ExtractToken(r *http.Request) string {
	if qToken := r.URL.Query().Get("token"); qToken != "" {
		return qToken
	}
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
