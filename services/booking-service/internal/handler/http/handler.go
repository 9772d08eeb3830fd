package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/health"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
	"CondoParkPlatform/pkg/ratelimit"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/middleware"
	"CondoParkPlatform/services/booking-service/internal/service"
)

// maxBodyBytes ограничение размера тела запроса
const maxBodyBytes = 1 << 20

// Services сервисы, которые обслуживает HTTP граница
type Services struct {
	Guard         *service.Guard
	Authenticator *service.Authenticator
	Signup        *service.SignupService
	Reservations  *service.ReservationService
	Queries       *service.QueryService
}

// Handler HTTP граница сервиса бронирования
type Handler struct {
	services   Services
	health     health.HealthChecker
	metrics    *metrics.Metrics
	logger     logger.Logger
	trustProxy bool
}

// NewHandler создает новый HTTP обработчик
func NewHandler(services Services, checker health.HealthChecker, m *metrics.Metrics, log logger.Logger, trustProxy bool) *Handler {
	return &Handler{
		services:   services,
		health:     checker,
		metrics:    m,
		logger:     log,
		trustProxy: trustProxy,
	}
}

// RegisterRoutes регистрирует HTTP маршруты
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/login", h.login)
	mux.HandleFunc("POST /api/v1/auth/signup", h.signup)

	auth := middleware.RequireCaller(h.services.Guard)
	protected := func(pattern string, fn func(w http.ResponseWriter, r *http.Request, caller domain.Caller)) {
		mux.Handle(pattern, auth(withCaller(fn)))
	}

	protected("GET /api/v1/tenants/{tenantCode}/resources", h.listResources)
	protected("POST /api/v1/tenants/{tenantCode}/resources", h.createResource)
	protected("GET /api/v1/tenants/{tenantCode}/resources/{resourceID}", h.getResource)
	protected("PUT /api/v1/tenants/{tenantCode}/resources/{resourceID}/status", h.setResourceStatus)
	protected("GET /api/v1/tenants/{tenantCode}/resources/{resourceID}/reservations", h.resourceReservations)

	protected("POST /api/v1/tenants/{tenantCode}/reservations", h.reserve)
	protected("GET /api/v1/tenants/{tenantCode}/reservations", h.myReservations)
	protected("GET /api/v1/tenants/{tenantCode}/reservations/{reservationID}", h.getReservation)
	protected("POST /api/v1/tenants/{tenantCode}/reservations/{reservationID}/cancel", h.cancel)
	protected("POST /api/v1/tenants/{tenantCode}/reservations/{reservationID}/confirm", h.confirm)
	protected("POST /api/v1/tenants/{tenantCode}/reservations/{reservationID}/no-show", h.noShow)

	if h.health != nil {
		mux.HandleFunc("GET /health", health.Handler(h.health))
		mux.HandleFunc("GET /ready", health.ReadyHandler(h.health))
	}
	mux.HandleFunc("GET /live", health.LiveHandler())
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.GetHandler())
	}
}

func withCaller(fn func(w http.ResponseWriter, r *http.Request, caller domain.Caller)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFrom(r.Context())
		if !ok {
			apperrors.WriteJSON(w, apperrors.New(apperrors.ErrUnauthenticated, "missing caller"))
			return
		}
		fn(w, r, caller)
	})
}

type loginRequest struct {
	TenantCode string `json:"tenant_code"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

// login обменивает учетные данные на сессию. Заголовки лимита не отдаются,
// чтобы не раскрывать, существует ли email.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	session, err := h.services.Authenticator.Login(r.Context(), req.TenantCode, req.Email, req.Password)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

type signupRequest struct {
	TenantCode string `json:"tenant_code"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	UnitID     string `json:"unit_id"`
}

type signupResponse struct {
	Principal *domain.Principal `json:"principal"`
	Session   *domain.Session   `json:"session"`
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decode(w, r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	result, err := h.services.Signup.Signup(r.Context(), service.SignupRequest{
		TenantCode: req.TenantCode,
		Email:      req.Email,
		Password:   req.Password,
		UnitID:     req.UnitID,
		ClientIP:   middleware.ClientIP(r, h.trustProxy),
	})
	if result != nil {
		setRateLimitHeaders(w, result.RateLimit)
	}
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrRateLimited) && result != nil {
			retry := time.Until(result.RateLimit.ResetAt).Seconds()
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retry)))
		}
		apperrors.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, signupResponse{Principal: result.Principal, Session: result.Session})
}

func setRateLimitHeaders(w http.ResponseWriter, limit ratelimit.Result) {
	if limit.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(limit.ResetAt.Unix(), 10))
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	resources, err := h.services.Queries.ListResources(r.Context(), caller, r.PathValue("tenantCode"))
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resources": resources})
}

type createResourceRequest struct {
	Label       string          `json:"label"`
	RatePerHour decimal.Decimal `json:"rate_per_hour"`
}

func (h *Handler) createResource(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	var req createResourceRequest
	if err := decode(w, r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	resource, err := h.services.Queries.CreateResource(r.Context(), caller, r.PathValue("tenantCode"), req.Label, req.RatePerHour)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resource)
}

func (h *Handler) getResource(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	resource, err := h.services.Queries.GetResource(r.Context(), caller, r.PathValue("tenantCode"), r.PathValue("resourceID"))
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

type statusRequest struct {
	Status domain.ResourceStatus `json:"status"`
}

func (h *Handler) setResourceStatus(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	resource, err := h.services.Queries.SetResourceStatus(r.Context(), caller, r.PathValue("tenantCode"), r.PathValue("resourceID"), req.Status)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

func (h *Handler) resourceReservations(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	schedule, err := h.services.Queries.ListResourceReservations(r.Context(), caller, r.PathValue("tenantCode"), r.PathValue("resourceID"))
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

type reserveRequest struct {
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	// Price принимается для совместимости и игнорируется
	Price *decimal.Decimal `json:"price,omitempty"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	var req reserveRequest
	if err := decode(w, r, &req); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	reservation, err := h.services.Reservations.ReserveFor(r.Context(), caller, service.ReserveRequest{
		TenantCode:  r.PathValue("tenantCode"),
		ResourceID:  req.ResourceID,
		Start:       req.Start,
		End:         req.End,
		ClientPrice: req.Price,
	})
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (h *Handler) myReservations(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	reservations, err := h.services.Queries.ListMyReservations(r.Context(), caller, r.PathValue("tenantCode"))
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": reservations})
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	reservation, err := h.services.Queries.GetReservation(r.Context(), caller, r.PathValue("tenantCode"), r.PathValue("reservationID"))
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	reservation, err := h.services.Reservations.CancelFor(r.Context(), caller, r.PathValue("tenantCode"), r.PathValue("reservationID"))
	h.writeReservation(w, reservation, err)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	reservation, err := h.services.Reservations.Confirm(r.Context(), caller, r.PathValue("tenantCode"), r.PathValue("reservationID"))
	h.writeReservation(w, reservation, err)
}

func (h *Handler) noShow(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	reservation, err := h.services.Reservations.MarkNoShow(r.Context(), caller, r.PathValue("tenantCode"), r.PathValue("reservationID"))
	h.writeReservation(w, reservation, err)
}

func (h *Handler) writeReservation(w http.ResponseWriter, reservation *domain.Reservation, err error) {
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

// decode читает JSON тело. Неизвестные поля отклоняются.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.New(apperrors.ErrValidation, "request body too large")
		}
		if errors.Is(err, io.EOF) {
			return apperrors.New(apperrors.ErrValidation, "request body is required")
		}
		return apperrors.Wrap(err, apperrors.ErrValidation, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
