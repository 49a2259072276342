package validator

/*
Файл validator.go реализует цикл проверки кандидата перед принятием.

Протокол: не доверяем reasoning-контуру. Каждый раунд кандидат сверяется
с внешним каталогом/security gate под контекстными фильтрами сигнала;
отказ с диагностикой скармливается обратно для ревизии. Бюджет раундов
жестко ограничен, отмена проверяется между раундами — никогда посреди
раунда, чтобы не оставить полузаписанный аудиторский след.
*/

import (
	"context"
	"fmt"

	"github.com/xela07ax/triage-core/internal/catalog"
	"github.com/xela07ax/triage-core/internal/domain"
	"github.com/xela07ax/triage-core/internal/reasoning"
	"go.uber.org/zap"
)

// ReviseFunc запрашивает у reasoning-движка исправленного кандидата
// по диагностике последнего отказа gate
type ReviseFunc func(ctx context.Context, prev *domain.WorkflowCandidate, diagnostics []string) (*reasoning.Proposal, error)

// ObserveFunc вызывается после каждого раунда: оркестратор эмитит audit-событие
type ObserveFunc func(attempt domain.ValidationAttempt)

// Outcome — структурный итог цикла. Исчерпание бюджета — не ошибка:
// Valid=false уходит оркестратору, который поднимет флаг эскалации.
type Outcome struct {
	Valid      bool
	Candidate  *domain.WorkflowCandidate // Принятый кандидат (nil при провале)
	Confidence float64                   // Уверенность последнего предложения
	Attempts   []domain.ValidationAttempt
}

type Validator struct {
	gate        catalog.Gate
	maxAttempts int
	logger      *zap.Logger
}

func New(gate catalog.Gate, maxAttempts int, logger *zap.Logger) *Validator {
	return &Validator{
		gate:        gate,
		maxAttempts: maxAttempts,
		logger:      logger.Named("validator"),
	}
}

// Run гоняет цикл самокоррекции. Ошибка возвращается только при
// инфраструктурном сбое (gate недоступен, reasoning упал, отмена) —
// такие сбои не тратят попытку из бизнес-бюджета.
func (v *Validator) Run(ctx context.Context, initial *reasoning.Proposal, revise ReviseFunc, observe ObserveFunc) (*Outcome, error) {
	current := initial
	attempts := make([]domain.ValidationAttempt, 0, v.maxAttempts)

	for n := 1; n <= v.maxAttempts; n++ {
		// Кооперативная отмена строго между раундами
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision, err := v.gate.Check(ctx, current.Candidate.WorkflowID, current.Candidate.Filters)
		if err != nil {
			// Инфраструктура, а не вердикт: наверх без расхода попытки
			return nil, err
		}

		attempt := domain.ValidationAttempt{
			AttemptNumber: n,
			MaxAttempts:   v.maxAttempts,
			IsValid:       decision.Accepted,
			Errors:        decision.Reasons,
			Candidate:     current.Candidate,
		}
		attempts = append(attempts, attempt)
		if observe != nil {
			observe(attempt)
		}

		if decision.Accepted {
			return &Outcome{
				Valid:      true,
				Candidate:  current.Candidate,
				Confidence: current.Confidence,
				Attempts:   attempts,
			}, nil
		}

		v.logger.Info("candidate rejected by gate",
			zap.String("workflow_id", current.Candidate.WorkflowID),
			zap.Int("attempt", n),
			zap.Strings("reasons", decision.Reasons),
		)

		if n == v.maxAttempts {
			break
		}

		revised, err := revise(ctx, current.Candidate, decision.Reasons)
		if err != nil {
			return nil, fmt.Errorf("revise failed after attempt %d: %w", n, err)
		}
		current = revised
	}

	return &Outcome{
		Valid:      false,
		Confidence: current.Confidence,
		Attempts:   attempts,
	}, nil
}
