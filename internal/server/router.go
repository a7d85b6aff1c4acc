package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/handlers"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/middleware"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

type RouterConfig struct {
	Log              *logger.Logger
	AllowedOrigins   []string
	AuthMiddleware   *middleware.AuthMiddleware
	ChatHandler      *handlers.ChatHandler
	WebSocketHandler *handlers.WebSocketHandler
	HealthHandler    *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(cfg.Log))

	//-----------------------------------------
	// Cors Setup
	//-----------------------------------------
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	router.Use(cors.New(corsCfg))

	//-----------------------------------------
	// Health Routes
	//-----------------------------------------
	router.GET("/healthz", cfg.HealthHandler.Healthz)

	//-----------------------------------------
	// Realtime (handshake auth is handled by the gateway)
	//-----------------------------------------
	router.GET("/ws", cfg.WebSocketHandler.Connect)

	//------------------------------------------
	// Protected Routes
	//------------------------------------------
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())

	chat := api.Group("/chat")
	chat.GET("/rooms", cfg.ChatHandler.ListRooms)
	chat.POST("/rooms", cfg.ChatHandler.CreateRoom)
	chat.GET("/rooms/:roomId", cfg.ChatHandler.GetRoom)
	chat.GET("/rooms/:roomId/messages", cfg.ChatHandler.ListMessages)
	chat.POST("/rooms/:roomId/messages", cfg.ChatHandler.SendMessage)
	chat.POST("/rooms/:roomId/read", cfg.ChatHandler.MarkRead)
	chat.POST("/rooms/:roomId/attachments", cfg.ChatHandler.UploadAttachment)
	chat.POST("/rooms/:roomId/close", cfg.ChatHandler.CloseRoom)

	admin := chat.Group("/")
	admin.Use(cfg.AuthMiddleware.RequireRole(types.RoleAdmin))
	admin.POST("/rooms/:roomId/repair", cfg.ChatHandler.RepairRoom)
	admin.DELETE("/rooms/:roomId", cfg.ChatHandler.DeleteRoom)

	return router
}
