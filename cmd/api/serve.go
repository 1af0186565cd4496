package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/monsc/zouxianba-api/internal/config"
	"github.com/monsc/zouxianba-api/internal/database"
	"github.com/monsc/zouxianba-api/internal/handler"
	"github.com/monsc/zouxianba-api/internal/middleware"
	"github.com/monsc/zouxianba-api/internal/ratelimit"
	"github.com/monsc/zouxianba-api/internal/realtime"
	"github.com/monsc/zouxianba-api/internal/repository"
	"github.com/monsc/zouxianba-api/internal/router"
	"github.com/monsc/zouxianba-api/internal/service"
	cloud "github.com/monsc/zouxianba-api/pkg/cloudinary"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if cfg.AppEnv == "development" {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := migrate(db); err != nil {
		return err
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis disabled: presence last-seen and event rate limits are off")
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
	if err != nil {
		return err
	}
	if natsConn != nil {
		defer natsConn.Drain()
	}

	var resolver service.MediaResolver
	if cfg.CloudinaryEnabled() {
		media, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			return err
		}
		resolver = media
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	conversationService := service.NewConversationService(
		repository.NewConversationRepository(db),
		repository.NewMessageRepository(db),
		resolver,
		validate,
		cfg.RecallWindow,
		logger,
	)
	roomService := service.NewRoomService(repository.NewVoiceRoomRepository(db), resolver, validate, cfg.DefaultRoomCapacity, logger)
	notificationService := service.NewNotificationService(repository.NewNotificationRepository(db), cfg.ChannelBase, natsConn, validate, logger)
	presenceService := service.NewPresenceService(redisClient, cfg.ChannelBase, logger)

	hub := realtime.NewHub(logger)
	gateway := realtime.NewGateway(realtime.Dependencies{
		Hub:           hub,
		Dispatcher:    realtime.NewDispatcher(hub, notificationService, logger),
		Conversations: conversationService,
		Rooms:         roomService,
		Presence:      presenceService,
		Limiter:       ratelimit.NewLimiter(redisClient, cfg.ChannelBase, logger),
		Validator:     validate,
		Logger:        logger,
		Options: realtime.Options{
			SendBuffer:   cfg.SendBufferSize,
			PingInterval: cfg.PingInterval,
			PongWait:     cfg.PongWait,
			EventTimeout: cfg.EventTimeout,
			EventLimit:   cfg.MessageRateLimit,
			LimitWindow:  cfg.RateLimitWindow,
		},
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{AppName: cfg.AppName, Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ConversationHandler: handler.NewConversationHandler(conversationService, gateway, validate, logger),
		RoomHandler:         handler.NewRoomHandler(roomService, gateway, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, gateway, logger),
		PresenceHandler:     handler.NewPresenceHandler(gateway, logger),
		RealtimeHandler:     handler.NewRealtimeHandler(gateway, logger),
		OnlineCounter:       hub,
		IdentityGate:        middleware.IdentityGate(cfg.JWTSecret),
		WriteLimiter:        middleware.RateLimit("http_writes", cfg.MessageRateLimit*2, cfg.RateLimitWindow),
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go gateway.ActivateDueRooms(ctx, cfg.RoomActivationInterval)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Msg("server listening")
		serverErr <- app.Listen(cfg.HTTPAddress())
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	return shutdown(app, logger)
}

func shutdown(app *fiber.App, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
