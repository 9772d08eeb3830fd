package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config содержит конфигурацию повторных попыток
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultConfig возвращает конфигурацию по умолчанию для подключения к внешним системам
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// TxConfig возвращает короткую конфигурацию для повтора сериализуемых транзакций
func TxConfig(maxAttempts int) Config {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Func представляет функцию для повторной попытки
type Func func(ctx context.Context) error

// Classifier решает, имеет ли смысл повторять операцию после ошибки
type Classifier func(err error) bool

// Always повторяет при любой ошибке
func Always(error) bool { return true }

// Do выполняет функцию с retry логикой, повторяя при любой ошибке
func Do(ctx context.Context, config Config, operation Func) error {
	return DoIf(ctx, config, Always, operation)
}

// DoIf выполняет функцию с retry логикой. Ошибки, для которых retryable
// возвращает false, возвращаются сразу без обертки.
func DoIf(ctx context.Context, config Config, retryable Classifier, operation Func) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}

		lastErr = err

		if attempt < config.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Delay(attempt, config)):
			}
		}
	}

	return &ExhaustedError{Attempts: config.MaxAttempts, Err: lastErr}
}

// ExhaustedError возвращается, когда все попытки исчерпаны
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Delay вычисляет задержку перед следующей попыткой
func Delay(attempt int, config Config) time.Duration {
	delay := float64(config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= config.Multiplier
	}

	d := time.Duration(delay)
	if config.MaxDelay > 0 && d > config.MaxDelay {
		d = config.MaxDelay
	}

	// Случайная вариация ±25%
	if config.Jitter && d > 0 {
		d += time.Duration((rand.Float64()*0.5 - 0.25) * float64(d))
	}

	return d
}
