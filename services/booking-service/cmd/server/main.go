package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"CondoParkPlatform/pkg/config"
	"CondoParkPlatform/pkg/health"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
	"CondoParkPlatform/services/booking-service/internal/app"
	"CondoParkPlatform/services/booking-service/internal/events"
	grpchandlers "CondoParkPlatform/services/booking-service/internal/grpc/handlers"
	httphandler "CondoParkPlatform/services/booking-service/internal/handler/http"
	"CondoParkPlatform/services/booking-service/internal/middleware"
	"CondoParkPlatform/services/booking-service/internal/pkg/jwt"
	"CondoParkPlatform/services/booking-service/internal/pkg/password"
	"CondoParkPlatform/services/booking-service/internal/pricing"
	"CondoParkPlatform/services/booking-service/internal/service"
	"CondoParkPlatform/services/booking-service/internal/sweeper"
)

const (
	serviceName    = "booking-service"
	serviceVersion = "v1.0.0"
	metricsPrefix  = "booking"
)

func main() {
	// .env необязателен, переменные окружения имеют приоритет
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("Service stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger logger.Logger) error {
	appLogger.Info("Starting booking service",
		logger.String("version", serviceVersion),
		logger.String("store", cfg.Booking.Store),
		logger.String("rate_limit_backend", cfg.RateLimiting.Backend),
		logger.Bool("events", cfg.Events.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := metrics.InitializeOpenTelemetry(serviceName, serviceVersion)
	if err != nil {
		return err
	}
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()
	m := metrics.NewMetrics(metricsPrefix)

	backend, err := app.Open(ctx, cfg, appLogger, m)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := backend.Migrate(ctx); err != nil {
		return err
	}

	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTTL())
	hasher := password.NewBcryptHasher(0)
	window := cfg.RateLimiting.WindowDuration()

	guard := service.NewGuard(tokens, backend.Revocations, appLogger, m)
	if err := guard.Sync(ctx); err != nil {
		appLogger.Warn("Initial revocation sync failed", logger.Error(err))
	}

	reservations := service.NewReservationService(
		guard, backend.Store.Resources, backend.Store.Reservations,
		pricing.NewCalculator(cfg.Booking.MaxDurationValue(), cfg.Booking.CurrencyMinorDigits),
		backend.Publisher, appLogger, m,
	)
	services := httphandler.Services{
		Guard: guard,
		Authenticator: service.NewAuthenticator(backend.Store.Tenants, backend.Store.Principals, hasher,
			backend.Limiter(cfg.RateLimiting.LoginLimit, window), tokens, appLogger, m),
		Signup: service.NewSignupService(backend.Store.Tenants, backend.Store.Principals, hasher,
			backend.Limiter(cfg.RateLimiting.SignupLimit, window), tokens, appLogger, m),
		Reservations: reservations,
		Queries:      service.NewQueryService(guard, backend.Store.Resources, backend.Store.Reservations, appLogger),
	}

	checker := health.NewDependencyChecker(serviceVersion, 3*time.Second)
	backend.RegisterProbes(checker)

	throttle := middleware.NewThrottle(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst,
		cfg.Server.TrustProxyHeaders, appLogger, m)

	bgSweeper, err := sweeper.New(cfg.Sweeper, reservations, guard,
		append(backend.Purgers(), throttle), appLogger)
	if err != nil {
		return err
	}
	bgSweeper.Start(ctx)

	if consumer := backend.Consumer(); consumer != nil {
		go func() {
			err := consumer.Subscribe(ctx, string(events.TenantRotated), sweeper.RotationHandler(guard, appLogger))
			if err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("Rotation consumer stopped", logger.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	httphandler.NewHandler(services, checker, m, appLogger, cfg.Server.TrustProxyHeaders).RegisterRoutes(mux)

	// Metrics и CaptureRoute должны видеть тот же *http.Request, что и mux
	var root http.Handler = middleware.CaptureRoute(mux)
	root = m.Middleware(root)
	root = throttle.Middleware(root)
	root = middleware.Logging(appLogger)(root)
	root = middleware.Recovery(appLogger)(root)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 2)
	go func() {
		appLogger.Info("HTTP server listening", logger.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var healthHandler *grpchandlers.HealthHandler
	grpcServer := grpchandlers.NewServer(appLogger)
	if addr := cfg.Server.GRPCAddr(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		healthHandler = grpchandlers.NewHealthHandler(checker, serviceName, appLogger)
		healthHandler.Register(grpcServer)
		go healthHandler.Watch(ctx, 10*time.Second)

		go func() {
			appLogger.Info("gRPC health server listening", logger.String("addr", addr))
			if err := grpcServer.Serve(lis); err != nil {
				serverErr <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down", logger.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", logger.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer shutdownCancel()

	if healthHandler != nil {
		healthHandler.Shutdown()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", logger.Error(err))
	}
	grpcServer.GracefulStop()

	cancel()
	bgSweeper.Stop(shutdownCtx)

	appLogger.Info("Server stopped")
	return nil
}
