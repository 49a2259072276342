package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/triage-core/internal/domain"
	"golang.org/x/time/rate"
)

// ResilientGate оборачивает клиент gate в Rate Limiter + Circuit Breaker + Retries.
// Это собственный retry-бюджет инфраструктуры gate: его исчерпание — не отказ
// валидации, а ErrGateUnavailable для терминального FAILED сессии.
type ResilientGate struct {
	next    Gate
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewResilientGate(next Gate) *ResilientGate {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "catalog-gate",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
	})

	// Лимитер защищает каталог от шторма валидационных раундов
	limiter := rate.NewLimiter(rate.Limit(100), 20)

	return &ResilientGate{
		next:    next,
		cb:      cb,
		limiter: limiter,
	}
}

func (g *ResilientGate) Check(ctx context.Context, workflowID string, filters domain.ContextFilters) (Decision, error) {
	// 1. Rate Limiter
	if err := g.limiter.Wait(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var finalDecision Decision

	// 2. Circuit Breaker
	_, err := g.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если gate вернул ThrottleError (считал Retry-After заголовок)
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			var callErr error
			finalDecision, callErr = g.next.Check(tCtx, workflowID, filters)
			return callErr
		})

		return nil, retryErr
	})

	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
	}

	return finalDecision, nil
}
