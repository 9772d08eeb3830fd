package middleware

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
)

// RequestIDHeader заголовок идентификатора запроса
const RequestIDHeader = "X-Request-ID"

type routeKey struct{}

// Logging присваивает запросу request_id и пишет строку журнала после ответа.
// В журнал попадает шаблон маршрута, а не путь: путь содержит код сообщества.
func Logging(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" || len(requestID) > 64 {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			route := new(string)
			ctx := logger.WithRequestID(r.Context(), requestID)
			ctx = context.WithValue(ctx, routeKey{}, route)
			r = r.WithContext(ctx)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(wrapped, r)

			if *route == "" {
				*route = "unmatched"
			}
			fields := []logger.Field{
				logger.String("method", r.Method),
				logger.String("route", *route),
				logger.Int("status_code", wrapped.statusCode),
				logger.Duration("duration", time.Since(start)),
				logger.CtxField(ctx),
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				log.Error("Completed request", fields...)
			} else {
				log.Info("Completed request", fields...)
			}
		})
	}
}

// CaptureRoute должен оборачивать http.ServeMux: после маршрутизации
// сохраняет шаблон маршрута для Logging.
func CaptureRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if route, ok := r.Context().Value(routeKey{}).(*string); ok {
			*route = r.Pattern
		}
	})
}

// Recovery превращает панику обработчика в 500 с общим сообщением
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("Panic recovered in HTTP handler",
						logger.Any("panic", rec),
						logger.String("stack_trace", string(debugStack())),
						logger.String("method", r.Method),
						logger.CtxField(r.Context()),
					)
					apperrors.WriteJSON(w, apperrors.New(apperrors.ErrInternal, "internal error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter обертка для перехвата статуса ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

// WriteHeader перехватывает установку статуса
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func debugStack() []byte {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}
