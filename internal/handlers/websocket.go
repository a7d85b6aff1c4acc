package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/apperrors"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/middleware"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/services"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/socket"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

type WebSocketHandler struct {
	log      *logger.Logger
	auth     services.AuthService
	gateway  *socket.Gateway
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(log *logger.Logger, auth services.AuthService, gateway *socket.Gateway, allowedOrigins []string) *WebSocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &WebSocketHandler{
		log:     log.With("handler", "WebSocketHandler"),
		auth:    auth,
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Connect upgrades the request. A credential in the handshake is checked
// before upgrading so a bad one is refused with a plain 401; without one the
// connection starts unauthenticated and must send authenticate.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	var identity *types.Identity
	if token := middleware.ExtractToken(c.Request); token != "" {
		id, err := h.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			h.log.Debug("Websocket handshake refused", "error", err)
			c.AbortWithStatusJSON(apperrors.HTTPStatus(err), gin.H{
				"error": apperrors.PublicMessage(err),
				"code":  apperrors.Code(err),
			})
			return
		}
		identity = id
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade to websocket", "error", err)
		return
	}
	go h.gateway.Serve(conn, identity)
}
