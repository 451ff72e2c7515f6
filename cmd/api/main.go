package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/northgate/transfer-bookings/internal/http/handlers"
	imw "github.com/northgate/transfer-bookings/internal/http/middleware"
	"github.com/northgate/transfer-bookings/internal/matcher"
	"github.com/northgate/transfer-bookings/internal/pricing"
	"github.com/northgate/transfer-bookings/internal/repo/postgres"
	"github.com/northgate/transfer-bookings/internal/service"
	"github.com/northgate/transfer-bookings/pkg/cache"
	"github.com/northgate/transfer-bookings/pkg/config"
	"github.com/northgate/transfer-bookings/pkg/database"
	"github.com/northgate/transfer-bookings/pkg/events"
	"github.com/northgate/transfer-bookings/pkg/logger"
	mw "github.com/northgate/transfer-bookings/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := cache.New(cfg.Redis)
	if err := store.Ping(ctx); err != nil {
		// The service degrades to store-only reads without Redis.
		logger.Warn("Redis unreachable, running without cache acceleration", "error", err)
	}
	defer store.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Repositories
	bookingRepo := postgres.NewBookingRepository(pool)
	trackingRepo := postgres.NewTrackingRepository(pool)
	driverRepo := postgres.NewDriverRepository(pool)
	idempotencyRepo := postgres.NewIdempotencyRepository(pool)

	// Services
	engine := pricing.NewEngine(cfg.Pricing)
	bookingService := service.NewBookingService(
		bookingRepo, trackingRepo, idempotencyRepo, engine, store, eventBus, cfg)

	// Background matching worker
	m := matcher.NewMatcher(driverRepo, eventBus, cfg.Matching)
	if err := m.Start(); err != nil {
		logger.Error("Failed to start matching worker", "error", err)
		os.Exit(1)
	}

	h := handlers.New(bookingService)

	limiter := imw.NewRateLimiter(store, imw.RateLimitConfig{
		Requests: 60,
		Window:   time.Minute,
		KeyFunc:  imw.ClientIPKeyFunc,
	})

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("bookings"))
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.Health)
	r.Use(imw.Actor(cfg.Auth.JWTSecret))

	r.Route("/v1", func(r chi.Router) {
		r.Use(limiter.Middleware())
		h.Routes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down bookings service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Bookings service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting bookings service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Bookings service error", "error", err)
		os.Exit(1)
	}
}
