package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/db"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/handlers"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/middleware"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/repos"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/server"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/services"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/socket"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/utils"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	envErr := godotenv.Load()

	// Logger Setup
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	if envErr != nil {
		log.Debug("No .env file loaded", "error", envErr)
	}

	// Environment Variables
	log.Info("Attempting to load environment variables for Main now...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "", log)
	if jwtSecretKey == "" {
		log.Error("JWT_SECRET_KEY is required")
		os.Exit(1)
	}
	accessTokenTTL := utils.GetEnvAsSeconds("ACCESS_TOKEN_TTL", time.Hour, log)
	redisAddress := utils.GetEnv("REDIS_ADDRESS", "", log)
	redisPassword := utils.GetEnv("REDIS_PASSWORD", "", log)
	redisChanName := utils.GetEnv("REDIS_CHANNEL", "localease_chat_broadcast", log)
	allowedOrigins := utils.GetEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}, log)
	gatewayCfg := socket.GatewayConfig{
		SingleRoomFocus: utils.GetEnvAsBool("CHAT_SINGLE_ROOM_FOCUS", false, log),
		TypingTTL:       utils.GetEnvAsSeconds("CHAT_TYPING_TTL_SECONDS", socket.DefaultTypingTTL, log),
		AuthTimeout:     utils.GetEnvAsSeconds("CHAT_AUTH_TIMEOUT_SECONDS", socket.DefaultAuthTimeout, log),
		EventTimeout:    utils.GetEnvAsSeconds("CHAT_EVENT_TIMEOUT_SECONDS", socket.DefaultEventTimeout, log),
	}
	appURL := utils.GetEnv("CHAT_APP_URL", "", log)
	notifyWindow := utils.GetEnvAsSeconds("CHAT_NOTIFY_THROTTLE_SECONDS", 15*time.Minute, log)
	log.Debug("Environment variables loaded for Main :)",
		"accessTokenTTL", accessTokenTTL,
		"redisAddress", redisAddress,
		"redisChannel", redisChanName,
		"allowedOrigins", allowedOrigins,
		"singleRoomFocus", gatewayCfg.SingleRoomFocus,
	)

	// Postgres Setup
	log.Info("Setting Up Postgres from Main now...")
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("DB init failed", "error", err)
		os.Exit(1)
	}
	defer postgresService.Close()
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()
	log.Info("Postgres Setup From Main Successful :)")

	// Redis Setup
	var redisClient *redis.Client
	if redisAddress != "" {
		log.Info("Setting Up Redis From Main Now...")
		redisClient, err = db.NewRedisClient(log, redisAddress, redisPassword)
		if err != nil {
			log.Warn("Failed to connect to redis, running single node", "error", err)
			redisClient = nil
		}
	}

	// Repositories Setup
	log.Info("Setting Up Repositories from Main now...")
	userRepo := repos.NewUserRepo(thePG, log)
	companyRepo := repos.NewCompanyRepo(thePG, log)
	bookingRepo := repos.NewBookingRepo(thePG, log)
	chatRoomRepo := repos.NewChatRoomRepo(thePG, log)
	messageRepo := repos.NewMessageRepo(thePG, log)
	log.Info("Repositories Set Up From Main Successful :)")

	// Services Setup
	log.Info("Setting up Services from Main now...")
	authService := services.NewAuthService(log, userRepo, companyRepo, jwtSecretKey, accessTokenTTL)
	chatRoomService := services.NewChatRoomService(thePG, log, chatRoomRepo, messageRepo, bookingRepo, services.NewRoomAccessPolicy())
	messageService := services.NewMessageService(thePG, log, messageRepo, chatRoomRepo, chatRoomService)

	var emailService services.EmailService
	if es, err := services.NewEmailService(log); err != nil {
		log.Warn("Could not init EmailService, offline e-mail disabled", "error", err)
	} else {
		emailService = es
	}
	var textService services.TextService
	if ts, err := services.NewTextService(log); err != nil {
		log.Warn("Could not init TextService, offline texts disabled", "error", err)
	} else {
		textService = ts
	}
	var throttle services.Throttle
	if redisClient != nil {
		throttle = services.NewRedisThrottle(redisClient, notifyWindow)
	} else {
		throttle = services.NewLocalThrottle(notifyWindow)
	}
	notificationService := services.NewNotificationService(log, userRepo, companyRepo, emailService, textService, throttle, appURL)

	var attachmentService services.AttachmentService
	bucketService, err := services.NewBucketService(context.Background(), log)
	if err != nil {
		log.Warn("Could not init BucketService, attachments disabled", "error", err)
	} else {
		defer bucketService.Close()
		attachmentService = services.NewAttachmentService(log, bucketService)
	}
	log.Info("Services Set Up From Main Successful :)")

	// Websocket Setup
	log.Info("Setting Up Websocket Hub From Main Now...")
	wsHub := socket.NewHub(log)
	var redisPubSub *socket.RedisPubSub
	if redisClient != nil {
		redisPubSub = socket.NewRedisPubSub(log, redisClient, redisChanName)
		if err := redisPubSub.StartSubscriber(wsHub); err != nil {
			log.Warn("Failed to subscribe to Redis pub/sub", "error", err)
			redisPubSub = nil
		} else {
			wsHub.SetRedisPubSub(redisPubSub)
			log.Info("Redis pubsub is active!")
		}
	}
	gateway := socket.NewGateway(log, wsHub, authService, chatRoomService, messageService, notificationService, gatewayCfg)
	log.Info("Websocket Hub Set Up From Main Successful :)")

	// Handler & Middleware Setup
	log.Info("Setting Up Handlers from Main now...")
	router := server.NewRouter(server.RouterConfig{
		Log:              log,
		AllowedOrigins:   allowedOrigins,
		AuthMiddleware:   middleware.NewAuthMiddleware(log, authService),
		ChatHandler:      handlers.NewChatHandler(log, chatRoomService, messageService, attachmentService, gateway),
		WebSocketHandler: handlers.NewWebSocketHandler(log, authService, gateway, allowedOrigins),
		HealthHandler:    handlers.NewHealthHandler(thePG, redisClient),
	})
	log.Info("Router Set Up From Main Successful :)")

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// On Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("Graceful shutdown failed", "error", err)
	}
	// Hijacked websocket connections are not closed by srv.Shutdown.
	if err := gateway.Shutdown(ctx); err != nil {
		log.Warn("Websocket connections did not close in time", "error", err)
	}
	if redisPubSub != nil {
		redisPubSub.Stop()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
