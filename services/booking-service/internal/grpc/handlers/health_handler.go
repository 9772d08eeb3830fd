package handlers

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/health"
	"CondoParkPlatform/pkg/logger"
)

// HealthHandler отдает состояние зависимостей по стандартному протоколу grpc.health.v1.
// Статус обновляется вызовом Refresh или периодически через Watch.
type HealthHandler struct {
	server  *grpchealth.Server
	checker health.HealthChecker
	service string
	logger  logger.Logger
}

// NewHealthHandler создает обработчик. service имя сервиса в запросах Check.
func NewHealthHandler(checker health.HealthChecker, service string, log logger.Logger) *HealthHandler {
	h := &HealthHandler{
		server:  grpchealth.NewServer(),
		checker: checker,
		service: service,
		logger:  log,
	}
	// До первой проверки сервис не принимает трафик
	h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register регистрирует обработчик на gRPC сервере
func (h *HealthHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh проверяет зависимости и обновляет статус
func (h *HealthHandler) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	result := h.checker.Check(ctx)

	servingStatus := healthpb.HealthCheckResponse_SERVING
	if result.Status != health.StatusHealthy {
		servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
		for name, dep := range result.Services {
			if dep.Status != health.StatusHealthy {
				h.logger.Warn("Dependency is unhealthy",
					logger.String("dependency", name),
					logger.String("details", dep.Details),
				)
			}
		}
	}

	h.setStatus(servingStatus)
	return servingStatus
}

// Watch обновляет статус с заданным интервалом до отмены контекста
func (h *HealthHandler) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown переводит все сервисы в NOT_SERVING перед остановкой
func (h *HealthHandler) Shutdown() {
	h.server.Shutdown()
}

func (h *HealthHandler) setStatus(s healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", s)
	h.server.SetServingStatus(h.service, s)
}

// NewServer создает gRPC сервер с перехватчиками журнала и восстановления после паники
func NewServer(log logger.Logger) *grpc.Server {
	return grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoveryInterceptor(log),
		LoggingInterceptor(log),
	))
}

// LoggingInterceptor пишет строку журнала на каждый вызов и переводит
// ошибки приложения в gRPC статусы
func LoggingInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		err = toStatus(err)

		fields := []logger.Field{
			logger.String("method", info.FullMethod),
			logger.String("code", status.Code(err).String()),
			logger.Duration("duration", time.Since(start)),
		}
		if status.Code(err) == codes.Internal || status.Code(err) == codes.Unknown {
			log.Error("Completed call", append(fields, logger.Error(err))...)
		} else {
			log.Debug("Completed call", fields...)
		}
		return resp, err
	}
}

// RecoveryInterceptor превращает панику обработчика в codes.Internal
func RecoveryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				log.Error("Panic recovered",
					logger.String("method", info.FullMethod),
					logger.Any("panic", p),
					logger.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// toStatus переводит ошибку приложения в gRPC статус. Статусы передаются как есть.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.ToGRPCErr()
	}
	return status.Error(codes.Internal, "internal server error")
}
