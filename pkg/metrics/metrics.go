package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute подставляется вместо шаблона маршрута, если мультиплексор не нашел обработчик
const unmatchedRoute = "unmatched"

// Metrics представляет систему метрик
type Metrics struct {
	// HTTP метрики. Метка endpoint содержит шаблон маршрута, а не фактический путь,
	// поэтому коды сообществ из URL не попадают в метки.
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsCount     *prometheus.CounterVec
	InFlight        prometheus.Gauge

	// Метрики безопасности
	LoginAttempts     *prometheus.CounterVec
	SignupAttempts    *prometheus.CounterVec
	RateLimited       *prometheus.CounterVec
	CrossTenantDenied prometheus.Counter

	// Метрики бронирования
	Reservations     *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	ReserveDuration  prometheus.Histogram
	Rotations        *prometheus.CounterVec
	RevokedTenants   prometheus.Gauge
	EventsPublished  *prometheus.CounterVec
	SweeperCompleted prometheus.Counter

	gatherer prometheus.Gatherer

	// OpenTelemetry Tracer
	Tracer trace.Tracer `json:"-"`
}

// NewMetrics создает систему метрик в глобальном реестре Prometheus
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry создает систему метрик в указанном реестре (используется в тестах)
func NewMetricsWithRegistry(namespace string, registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		RequestCount: register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		)),
		RequestDuration: register(registerer, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		)),
		ErrorsCount: register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total number of HTTP errors",
			},
			[]string{"method", "endpoint", "error_type"},
		)),
		InFlight: register(registerer, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "in_flight_requests",
				Help:      "Number of HTTP requests being served",
			},
		)),
		LoginAttempts: register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Credential exchange attempts by internal outcome",
			},
			[]string{"result"},
		)),
		SignupAttempts: register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signup_attempts_total",
				Help:      "Signup attempts by outcome",
			},
			[]string{"result"},
		)),
		RateLimited: register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Attempts rejected by the rate limiter",
			},
			[]string{"scope"},
		)),
		CrossTenantDenied: register(registerer, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cross_tenant_denied_total",
				Help:      "Requests denied because the caller belongs to another community",
			},
		)),
		Reservations: register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reservations_total",
				Help:      "Reservation attempts by outcome",
			},
			[]string{"outcome"},
		)),
		Transitions: register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reservation_transitions_total",
				Help:      "Committed reservation status transitions",
			},
			[]string{"to"},
		)),
		ReserveDuration: register(registerer, prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reserve_duration_seconds",
				Help:      "Time spent in the atomic overlap check and insert",
				Buckets:   prometheus.DefBuckets,
			},
		)),
		Rotations: register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_rotations_total",
				Help:      "Community code rotations by result",
			},
			[]string{"result"},
		)),
		RevokedTenants: register(registerer, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "revoked_tenant_codes",
				Help:      "Retired community codes currently rejected by the guard",
			},
		)),
		EventsPublished: register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Domain events published by type and result",
			},
			[]string{"type", "result"},
		)),
		SweeperCompleted: register(registerer, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeper_completed_total",
				Help:      "Reservations moved to completed by the sweeper",
			},
		)),
		gatherer: gatherer,
		Tracer:   otel.Tracer(namespace),
	}

	return m
}

// register регистрирует коллектор. Если такой уже зарегистрирован,
// возвращает существующий, чтобы повторные вызовы NewMetrics не паниковали.
func register[T prometheus.Collector](registerer prometheus.Registerer, c T) T {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// GetHandler возвращает HTTP обработчик для эндпоинта /metrics
func (m *Metrics) GetHandler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware создает middleware для сбора метрик.
// Должен оборачивать непосредственно http.ServeMux: шаблон маршрута
// (r.Pattern) заполняется мультиплексором в том же объекте запроса.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := m.Tracer.Start(r.Context(), r.Method)
		defer span.End()
		r = r.WithContext(ctx)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		m.InFlight.Inc()
		next.ServeHTTP(wrapped, r)
		m.InFlight.Dec()

		duration := time.Since(start).Seconds()
		route := RouteLabel(r)

		m.RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(duration)

		if wrapped.statusCode >= 400 {
			errorType := "client_error"
			if wrapped.statusCode >= 500 {
				errorType = "server_error"
			}
			m.ErrorsCount.WithLabelValues(r.Method, route, errorType).Inc()
		}

		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", wrapped.statusCode),
			attribute.Float64("http.duration", duration),
		)
	})
}

// RouteLabel возвращает шаблон маршрута для меток и логов
func RouteLabel(r *http.Request) string {
	if r.Pattern == "" {
		return unmatchedRoute
	}
	return r.Pattern
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

// InitializeOpenTelemetry инициализирует провайдер трассировки OpenTelemetry
func InitializeOpenTelemetry(serviceName, version string) (*tracesdk.TracerProvider, error) {
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(0.1))),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		)),
	)

	otel.SetTracerProvider(tp)

	return tp, nil
}

// ObserveLogin учитывает попытку входа
func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

// ObserveSignup учитывает попытку регистрации
func (m *Metrics) ObserveSignup(result string) {
	if m == nil {
		return
	}
	m.SignupAttempts.WithLabelValues(result).Inc()
}

// ObserveRateLimited учитывает отказ лимитера
func (m *Metrics) ObserveRateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}

// ObserveCrossTenantDenied учитывает отказ в доступе к чужому сообществу
func (m *Metrics) ObserveCrossTenantDenied() {
	if m == nil {
		return
	}
	m.CrossTenantDenied.Inc()
}

// ObserveReservation учитывает исход попытки бронирования
func (m *Metrics) ObserveReservation(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(outcome).Inc()
	m.ReserveDuration.Observe(took.Seconds())
}

// ObserveTransition учитывает переход статуса бронирования
func (m *Metrics) ObserveTransition(to string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Transitions.WithLabelValues(to).Add(float64(n))
}

// ObserveRotation учитывает ротацию кода сообщества
func (m *Metrics) ObserveRotation(result string) {
	if m == nil {
		return
	}
	m.Rotations.WithLabelValues(result).Inc()
}

// SetRevokedTenants устанавливает число отозванных кодов
func (m *Metrics) SetRevokedTenants(n int) {
	if m == nil {
		return
	}
	m.RevokedTenants.Set(float64(n))
}

// ObserveEvent учитывает публикацию доменного события
func (m *Metrics) ObserveEvent(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(eventType, result).Inc()
}

// ObserveSweeperCompleted учитывает завершенные фоновым заданием бронирования
func (m *Metrics) ObserveSweeperCompleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweeperCompleted.Add(float64(n))
}
