// pkg/retry/retry.go
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy описывает политику повторов для нестабильных операций.
// Каждый компонент, которому нужны повторы, объявляет свою политику
// явно вместо разбросанных по коду циклов.
type Policy struct {
	MaxRetries int           // количество повторов после первой попытки
	BaseDelay  time.Duration // базовая задержка перед повтором
	Multiplier float64       // множитель экспоненциального роста задержки
	Jitter     float64       // доля случайного разброса задержки (0..1)
}

// Default политика по умолчанию: 2 повтора, 1с, удвоение
var Default = Policy{
	MaxRetries: 2,
	BaseDelay:  time.Second,
	Multiplier: 2.0,
}

// Delay возвращает задержку перед попыткой attempt (0-based)
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

// DelayWith возвращает задержку с множителем, зависящим от класса ошибки.
// Используется когда разные ошибки требуют разного темпа отступления.
func (p Policy) DelayWith(multiplier float64, attempt int) time.Duration {
	if multiplier <= 0 {
		multiplier = p.Multiplier
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt)))
}

// Do выполняет op с повторами. isRetryable решает, имеет ли смысл повтор;
// терминальные ошибки возвращаются сразу. Отмена контекста прерывает ожидание.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, isRetryable func(error) bool) error {
	return p.do(ctx, op, isRetryable, nil)
}

// DoWith выполняет op как Do, но темп отступления зависит от класса
// последней ошибки: multiplier возвращает множитель для нее.
func (p Policy) DoWith(ctx context.Context, op func(ctx context.Context) error, isRetryable func(error) bool, multiplier func(error) float64) error {
	return p.do(ctx, op, isRetryable, multiplier)
}

func (p Policy) do(ctx context.Context, op func(ctx context.Context) error, isRetryable func(error) bool, multiplier func(error) float64) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			if multiplier != nil {
				delay = p.DelayWith(multiplier(lastErr), attempt-1)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
