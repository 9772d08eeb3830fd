package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle ограничивает частоту запросов с одного IP (token bucket).
// Это грубая защита от перегрузки; лимиты входа и регистрации считаются отдельно.
type Throttle struct {
	mu         sync.Mutex
	visitors   map[string]*visitor
	limit      rate.Limit
	burst      int
	idle       time.Duration
	trustProxy bool
	now        func() time.Time
	logger     logger.Logger
	metrics    *metrics.Metrics
}

// NewThrottle создает Throttle. trustProxy разрешает брать адрес из X-Forwarded-For / X-Real-IP.
func NewThrottle(rps float64, burst int, trustProxy bool, log logger.Logger, m *metrics.Metrics) *Throttle {
	return &Throttle{
		visitors:   make(map[string]*visitor),
		limit:      rate.Limit(rps),
		burst:      burst,
		idle:       10 * time.Minute,
		trustProxy: trustProxy,
		now:        time.Now,
		logger:     log,
		metrics:    m,
	}
}

// Middleware отклоняет запросы сверх лимита с 429
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, t.trustProxy)

		if !t.allow(ip) {
			t.metrics.ObserveRateLimited("http")
			t.logger.Warn("Request throttled",
				logger.String("client_ip", ip),
				logger.String("method", r.Method),
				logger.CtxField(r.Context()),
			)
			w.Header().Set("Retry-After", "1")
			apperrors.WriteJSON(w, apperrors.New(apperrors.ErrRateLimited, "too many requests"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[ip] = v
	}
	v.lastSeen = t.now()
	return v.limiter.AllowN(v.lastSeen, 1)
}

// Purge удаляет адреса, не присылавшие запросов дольше idle
func (t *Throttle) Purge() int {
	cutoff := t.now().Add(-t.idle)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for ip, v := range t.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(t.visitors, ip)
			removed++
		}
	}
	return removed
}

// ClientIP извлекает адрес клиента. Заголовки прокси учитываются только при trustProxy,
// иначе клиент мог бы обойти лимиты, подставив произвольный адрес.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
