package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/staybook/backend/docs"
	"github.com/staybook/backend/internal/audit"
	"github.com/staybook/backend/internal/config"
	"github.com/staybook/backend/internal/database"
	"github.com/staybook/backend/internal/events"
	"github.com/staybook/backend/internal/gateway"
	"github.com/staybook/backend/internal/handlers"
	"github.com/staybook/backend/internal/jobs"
	mW "github.com/staybook/backend/internal/middleware"
	"github.com/staybook/backend/internal/services"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// @title Staybook Settlement API
// @version 1.0
// @description Purchase, payment reconciliation, cancellation and payout API for stays and event tickets
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Server.Env)
	defer logger.Sync()

	docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	redisClient := database.InitRedis(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher := newPublisher(cfg.RabbitMQ, logger)
	defer publisher.Close()

	var notifier services.BookingNotifier = services.NewLocalBookingNotifier()
	if redisClient != nil {
		notifier = services.NewRedisBookingNotifier(redisClient)
	}

	loc := cfg.Booking.Location()
	auditLogger := audit.NewLogger(logger)
	gateways := gateway.NewRegistry(
		gateway.NewCardGateway(cfg.Gateways.Card),
		gateway.NewRegionalGateway(cfg.Gateways.Regional),
	)

	ledger := services.NewTransactionLedger(db, auditLogger, logger)
	availability := services.NewAvailabilityChecker(db)
	wallets := services.NewWalletService(db, auditLogger, logger, cfg.Booking.DefaultCurrency)
	materializer := services.NewMaterializer(
		db, ledger, services.NewCounterService(db), wallets, availability, publisher, notifier, auditLogger, logger,
		services.MaterializerConfig{CodePrefix: cfg.Booking.CodePrefix, CodeWidth: cfg.Booking.CodeWidth},
	)
	purchaseService := services.NewPurchaseService(db, ledger, gateways, availability, notifier, logger, cfg.Booking)
	webhookService := services.NewWebhookService(ledger, materializer, logger)
	cancellationService := services.NewCancellationService(db, wallets, publisher, auditLogger, logger, loc)
	completionSweeper := services.NewCompletionSweeper(db, wallets, publisher, logger, loc)
	reconciliationSweeper := services.NewReconciliationSweeper(db, ledger, materializer, logger, cfg.Sweeper.StaleAfter, cfg.Sweeper.BatchSize)

	webhookHandler := handlers.NewWebhookHandler(gateways, webhookService, logger)
	qrHandler := handlers.NewBookingQRHandler(services.NewBookingQRService(db, redisClient))

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Checkin-Expires-At"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "healthy", "redis": "disabled"}
		if redisClient != nil {
			status["redis"] = redisStatus(r.Context(), redisClient)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// Gateways authenticate with signatures, not bearer tokens. No request
	// timeout here: a slow materialization must not turn into a redelivery.
	r.Post("/webhooks/{provider}", webhookHandler.HandleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/properties/{propertyId}/availability", availability.CheckAvailability)

		r.Group(func(r chi.Router) {
			r.Use(mW.Auth(cfg.JWT.SecretKey))

			r.Post("/purchases", purchaseService.CreatePurchase)
			r.Get("/purchases/{transactionLogId}/booking", purchaseService.GetPurchaseBooking)

			r.Get("/bookings/{bookingId}/cancellation-quote", cancellationService.QuoteCancellation)
			r.Post("/bookings/{bookingId}/cancel", cancellationService.CancelBooking)
			r.Get("/bookings/{bookingId}/qr", qrHandler.GenerateCheckInQR)
			r.Post("/bookings/check-in", qrHandler.RedeemCheckIn)

			r.Get("/wallets/me", wallets.GetMyWallet)
			r.Get("/wallets/me/transactions", wallets.ListMyTransactions)
		})
	})

	scheduler := jobs.NewScheduler(redisClient, loc, cfg.Sweeper.LockTTL, logger)
	mustRegister(logger, scheduler, services.SweepEventsName, cfg.Sweeper.EventSpec, func(ctx context.Context) error {
		report, err := completionSweeper.SweepEvents(ctx, time.Now())
		return errors.Join(err, report.Err())
	})
	mustRegister(logger, scheduler, services.SweepPropertiesName, cfg.Sweeper.PropertySpec, func(ctx context.Context) error {
		report, err := completionSweeper.SweepProperties(ctx, time.Now())
		return errors.Join(err, report.Err())
	})
	mustRegister(logger, scheduler, services.SweepReconcileName, cfg.Sweeper.ReconcileSpec, func(ctx context.Context) error {
		report, err := reconciliationSweeper.Run(ctx)
		return errors.Join(err, report.Err())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Server.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logger
}

// newPublisher falls back to logging events when no broker is configured or
// reachable.
func newPublisher(cfg config.RabbitMQConfig, logger *zap.Logger) events.Publisher {
	if cfg.URL == "" {
		logger.Info("rabbitmq not configured, booking events will be logged only")
		return events.NewLogPublisher(logger)
	}
	p, err := events.NewAMQPPublisher(cfg.URL, cfg.Exchange)
	if err != nil {
		logger.Warn("rabbitmq unavailable, booking events will be logged only", zap.Error(err))
		return events.NewLogPublisher(logger)
	}
	logger.Info("rabbitmq publisher ready", zap.String("exchange", cfg.Exchange))
	return p
}

func mustRegister(logger *zap.Logger, s *jobs.Scheduler, name, spec string, job jobs.Job) {
	if err := s.Register(name, spec, job); err != nil {
		logger.Fatal("invalid sweep schedule", zap.String("sweep", name), zap.Error(err))
	}
}

func redisStatus(ctx context.Context, rdb *redis.Client) string {
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return "unreachable"
	}
	return "ok"
}
