package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TenantStatus статус сообщества
type TenantStatus string

const (
	TenantActive   TenantStatus = "active"
	TenantInactive TenantStatus = "inactive"
)

// Tenant представляет сообщество (жилой комплекс).
// Code непредсказуем и служит секретом: знание кода дает право на регистрацию.
type Tenant struct {
	Code      string       `json:"-"`
	Name      string       `json:"name"`
	Status    TenantStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// IsActive возвращает true, если сообщество принимает входы и регистрации
func (t *Tenant) IsActive() bool {
	return t.Status == TenantActive
}

// Principal представляет жителя, зарегистрированного в одном сообществе.
// TenantCode не меняется после создания (кроме ротации кода самого сообщества).
// Email уникален глобально и хранится в нормализованном виде.
type Principal struct {
	ID           string    `json:"id"`
	TenantCode   string    `json:"-"`
	Email        string    `json:"email"`
	UnitID       string    `json:"unit_id"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ResourceStatus статус парковочного места
type ResourceStatus string

const (
	ResourceActive      ResourceStatus = "active"
	ResourceMaintenance ResourceStatus = "maintenance"
	ResourceDisabled    ResourceStatus = "disabled"
)

// ResourceStatuses допустимые значения статуса места
var ResourceStatuses = []string{string(ResourceActive), string(ResourceMaintenance), string(ResourceDisabled)}

// Resource представляет парковочное место, принадлежащее жителю
type Resource struct {
	ID          string          `json:"id"`
	TenantCode  string          `json:"-"`
	OwnerID     string          `json:"owner_id"`
	Label       string          `json:"label"`
	RatePerHour decimal.Decimal `json:"rate_per_hour"`
	Status      ResourceStatus  `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Reservation представляет бронирование места на полуинтервал [Start, End)
type Reservation struct {
	ID         string            `json:"id"`
	ResourceID string            `json:"resource_id"`
	RenterID   string            `json:"renter_id"`
	TenantCode string            `json:"-"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	Price      decimal.Decimal   `json:"price"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Overlaps проверяет пересечение полуинтервалов [Start, End) и [start, end).
// Бронирования, стыкующиеся концом к началу, не пересекаются.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return Overlaps(r.Start, r.End, start, end)
}

// Overlaps проверяет пересечение двух полуинтервалов
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Slot окно занятости места без данных арендатора
type Slot struct {
	Start  time.Time         `json:"start"`
	End    time.Time         `json:"end"`
	Status ReservationStatus `json:"status"`
}

// Caller явный контекст вызова: кто и от имени какого сообщества
type Caller struct {
	PrincipalID string
	TenantCode  string
}

// Session результат обмена учетных данных на сессию
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	PrincipalID string    `json:"principal_id"`
}

// TableCounts число строк, ссылающихся на код сообщества
type TableCounts struct {
	Tenants      int64 `json:"tenants" yaml:"tenants"`
	Principals   int64 `json:"principals" yaml:"principals"`
	Resources    int64 `json:"resources" yaml:"resources"`
	Reservations int64 `json:"reservations" yaml:"reservations"`
}

// Total возвращает сумму по всем таблицам
func (c TableCounts) Total() int64 {
	return c.Tenants + c.Principals + c.Resources + c.Reservations
}

// RotationReport отчет о ротации кода сообщества
type RotationReport struct {
	OldCode     string      `json:"old_code" yaml:"old_code"`
	NewCode     string      `json:"new_code" yaml:"new_code"`
	DryRun      bool        `json:"dry_run" yaml:"dry_run"`
	Operator    string      `json:"operator" yaml:"operator"`
	Counts      TableCounts `json:"counts" yaml:"counts"`
	StartedAt   time.Time   `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time   `json:"finished_at" yaml:"finished_at"`
	RollbackSQL string      `json:"rollback_sql" yaml:"rollback_sql"`
}
