package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "CondoParkPlatform/pkg/errors"
)

const (
	// DefaultMaxDuration максимальная длительность одного бронирования
	DefaultMaxDuration = 7 * 24 * time.Hour
	// DefaultMinorUnitDigits число знаков после запятой в валюте
	DefaultMinorUnitDigits int32 = 2
)

// nanosPerHour делитель для перевода наносекунд в часы
var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

// Calculator единственный источник цены бронирования. Не имеет состояния и побочных эффектов.
type Calculator struct {
	maxDuration     time.Duration
	minorUnitDigits int32
}

// NewCalculator создает калькулятор. Неположительная maxDuration и отрицательное число
// знаков заменяются значениями по умолчанию; 0 знаков допустим для валют без дробной части.
func NewCalculator(maxDuration time.Duration, minorUnitDigits int32) *Calculator {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	if minorUnitDigits < 0 {
		minorUnitDigits = DefaultMinorUnitDigits
	}
	return &Calculator{
		maxDuration:     maxDuration,
		minorUnitDigits: minorUnitDigits,
	}
}

// MaxDuration возвращает максимальную длительность бронирования
func (c *Calculator) MaxDuration() time.Duration {
	return c.maxDuration
}

// Price вычисляет стоимость rate × длительность для полуинтервала [start, end).
// Неполные часы тарифицируются пропорционально, результат округляется
// до минимальной денежной единицы (половина вверх).
func (c *Calculator) Price(ratePerHour decimal.Decimal, start, end time.Time) (decimal.Decimal, error) {
	if err := c.ValidateInterval(start, end); err != nil {
		return decimal.Zero, err
	}
	if ratePerHour.IsNegative() {
		return decimal.Zero, apperrors.New(apperrors.ErrInvalidInterval, "rate must not be negative")
	}

	nanos := decimal.NewFromInt(int64(end.Sub(start)))
	return ratePerHour.Mul(nanos).DivRound(nanosPerHour, c.minorUnitDigits), nil
}

// ValidateInterval проверяет корректность интервала без расчета цены
func (c *Calculator) ValidateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperrors.New(apperrors.ErrInvalidInterval, "start and end are required")
	}
	if !end.After(start) {
		return apperrors.New(apperrors.ErrInvalidInterval, "end must be after start")
	}
	if end.Sub(start) > c.maxDuration {
		return apperrors.New(apperrors.ErrDurationTooLong, "reservation exceeds maximum duration").
			WithDetails(c.maxDuration.String())
	}
	return nil
}
