package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bidpool/bidpool-api/internal/cache"
	"github.com/bidpool/bidpool-api/internal/config"
	"github.com/bidpool/bidpool-api/internal/database"
	"github.com/bidpool/bidpool-api/internal/events"
	"github.com/bidpool/bidpool-api/internal/handlers"
	"github.com/bidpool/bidpool-api/internal/logger"
	authmw "github.com/bidpool/bidpool-api/internal/middleware"
	"github.com/bidpool/bidpool-api/internal/payments"
	"github.com/bidpool/bidpool-api/internal/projects"
	"github.com/bidpool/bidpool-api/internal/scheduler"
	"github.com/bidpool/bidpool-api/internal/services"
	"github.com/m1z23r/drift/pkg/drift"
	"github.com/m1z23r/drift/pkg/middleware"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx := context.Background()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}

	redisCache := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer func() { _ = redisCache.Close() }()
	if err := redisCache.Ping(ctx); err != nil {
		zlog.Fatal("failed to connect to redis", zap.Error(err))
	}
	idempotencyStore := cache.NewIdempotencyStore(redisCache, cfg.IdempotencyTTL)

	gateway := payments.NewClient(cfg.Payment)
	platform := projects.NewClient(cfg.Projects)

	jwtService := services.NewJWTService(cfg.JWTSecret, 15*time.Minute)
	groupService := services.NewGroupService(db)
	membershipService := services.NewMembershipService(db, groupService, platform)
	bidService := services.NewBidService(db)
	settlementService := services.NewSettlementService(db, gateway, zlog, cfg.MaxPaymentRetries)
	acceptanceService := services.NewAcceptanceService(db, settlementService)

	hub := events.NewHub()
	go hub.Run()

	groupHandler := handlers.NewGroupHandler(groupService, settlementService, idempotencyStore, hub)
	memberHandler := handlers.NewMemberHandler(membershipService, platform, idempotencyStore, hub)
	bidHandler := handlers.NewBidHandler(bidService, settlementService, idempotencyStore, hub)
	acceptanceHandler := handlers.NewAcceptanceHandler(
		acceptanceService, bidService, settlementService, idempotencyStore, hub, cfg.WebhookSecret)
	eventsHandler := handlers.NewEventsHandler(hub, groupService)

	app := drift.New()

	if cfg.IsProduction() {
		app.SetMode(drift.ReleaseMode)
	} else {
		app.SetMode(drift.DebugMode)
	}

	app.Use(middleware.Recovery())
	app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		MaxAge:       86400,
	}))
	app.Use(middleware.BodyParser())

	api := app.Group("/api/v1")

	protected := api.Group("")
	protected.Use(authmw.Auth(jwtService))

	protected.Post("/groups", groupHandler.Create)
	protected.Get("/groups/:groupId", groupHandler.Get)
	protected.Get("/groups/:groupId/criteria", groupHandler.GetCriteria)
	protected.Post("/groups/:groupId/close", groupHandler.CloseFormation)
	protected.Post("/groups/:groupId/dissolve", groupHandler.Dissolve)

	protected.Post("/groups/:groupId/evaluate", memberHandler.Evaluate)
	protected.Post("/groups/:groupId/join", memberHandler.Join)
	protected.Post("/groups/:groupId/leave", memberHandler.Leave)
	protected.Get("/groups/:groupId/members", memberHandler.List)
	protected.Get("/groups/:groupId/candidates", memberHandler.Candidates)

	protected.Post("/groups/:groupId/bids", bidHandler.Submit)
	protected.Get("/groups/:groupId/bids", bidHandler.List)
	protected.Get("/bids/:bidId", bidHandler.Get)
	protected.Get("/bids/:bidId/quorum", bidHandler.Quorum)
	protected.Post("/bids/:bidId/invalidate", bidHandler.Invalidate)
	protected.Post("/bids/:bidId/extend", bidHandler.Extend)
	protected.Get("/bids/:bidId/extensions", bidHandler.Extensions)

	protected.Post("/bids/:bidId/accept", acceptanceHandler.Accept)
	protected.Post("/bids/:bidId/revoke", acceptanceHandler.Revoke)
	protected.Get("/bids/:bidId/acceptances", acceptanceHandler.List)

	protected.Get("/groups/:groupId/events", eventsHandler.Connect)

	// Gateway callback authenticates with a shared secret, not a user token.
	api.Post("/payments/webhook", acceptanceHandler.Webhook)

	api.Get("/health", func(c *drift.Context) {
		_ = c.JSON(200, map[string]string{"status": "ok"})
	})

	sweeperCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()

	sweeper := scheduler.NewSweeper(db, groupService, acceptanceService, settlementService, hub, zlog,
		scheduler.Config{
			Interval:       cfg.SweepInterval,
			Grace:          cfg.SweepGrace,
			PaymentTimeout: cfg.PaymentTimeout,
		})
	go sweeper.Run(sweeperCtx)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		zlog.Info("server starting", zap.String("addr", addr))
		if err := app.Run(addr); err != nil {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")
}
