package orchestrator

/*
Файл orchestrator.go — точка композиции ядра.

Поток управления: Start создает сессию и планирует тело расследования
независимой таской. Таска переводит сессию в RUNNING, зовет reasoning-контур,
гоняет цикл валидации (каждый раунд — audit-событие), затем форсирует Flush
аудита и только после этого публикует результат: аудиторский след всегда
опережает видимость результата для поллеров.
*/

import (
	"context"
	"errors"
	"time"

	"github.com/xela07ax/triage-core/internal/audit"
	"github.com/xela07ax/triage-core/internal/catalog"
	"github.com/xela07ax/triage-core/internal/domain"
	"github.com/xela07ax/triage-core/internal/reasoning"
	"github.com/xela07ax/triage-core/internal/session"
	"github.com/xela07ax/triage-core/internal/validator"
	"go.uber.org/zap"
)

type Config struct {
	// Порог уверенности: ниже — результат валиден, но требует человека.
	// Это данные из конфигурации, а не логика ядра.
	ConfidenceThreshold float64

	// Сколько ждем durability аудита перед публикацией результата
	FlushTimeout time.Duration
}

type Orchestrator struct {
	sessions  *session.Manager
	pipeline  *audit.Pipeline
	engine    reasoning.Engine
	validator *validator.Validator
	sources   *SourceSwitchManager // nil, если kill-switch не подключен
	metrics   *Metrics
	cfg       Config
	logger    *zap.Logger
}

func New(
	sessions *session.Manager,
	pipeline *audit.Pipeline,
	engine reasoning.Engine,
	v *validator.Validator,
	sources *SourceSwitchManager,
	metrics *Metrics,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		sessions:  sessions,
		pipeline:  pipeline,
		engine:    engine,
		validator: v,
		sources:   sources,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
	}
}

// Start принимает запрос анализа и немедленно возвращает pollable-сессию.
// Сам анализ уходит в фон; вызывающий дальше опрашивает статус.
func (o *Orchestrator) Start(req domain.InvestigationRequest) (*domain.Session, error) {
	if o.sources != nil && o.sources.IsBlocked(req.Source) {
		o.metrics.IntakeRejected.WithLabelValues("source_blocked").Inc()
		return nil, domain.ErrIntakeBlocked
	}

	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now()
	}

	s, err := o.sessions.Create(func(ctx context.Context, snap domain.Session) {
		o.runInvestigation(ctx, snap, req)
	})
	if err != nil {
		if errors.Is(err, domain.ErrTooManySessions) {
			o.metrics.IntakeRejected.WithLabelValues("too_many_sessions").Inc()
		}
		return nil, err
	}

	o.metrics.SessionsActive.Set(float64(o.sessions.Active()))
	return s, nil
}

// runInvestigation — тело таски, единственный мутатор своей сессии
func (o *Orchestrator) runInvestigation(ctx context.Context, s domain.Session, req domain.InvestigationRequest) {
	start := time.Now()
	o.sessions.MarkRunning(s.ID)

	o.submit(audit.NewRequestEvent(s.CorrelationID, audit.RequestPayload{
		SignalID: req.SignalID,
		Source:   req.Source,
		Title:    req.Title,
		Filters:  req.Filters,
	}))

	// 1. Первичный кандидат от reasoning-контура
	proposal, err := o.engine.Invoke(ctx, req)
	if err != nil {
		o.finishFailed(s, start, err)
		return
	}

	lastProposal := proposal
	revision := 0
	o.submit(audit.NewReasoningEvent(s.CorrelationID, audit.ReasoningPayload{
		WorkflowID: proposal.Candidate.WorkflowID,
		Confidence: proposal.Confidence,
		Rationale:  proposal.Rationale,
		Revision:   revision,
	}))

	// 2. Цикл самокоррекции: каждый раунд аудируется, ревизии — тоже
	outcome, err := o.validator.Run(ctx, proposal,
		func(ctx context.Context, prev *domain.WorkflowCandidate, diagnostics []string) (*reasoning.Proposal, error) {
			revised, reviseErr := o.engine.Revise(ctx, req, prev, diagnostics)
			if reviseErr != nil {
				return nil, reviseErr
			}
			revision++
			lastProposal = revised
			o.submit(audit.NewReasoningEvent(s.CorrelationID, audit.ReasoningPayload{
				WorkflowID: revised.Candidate.WorkflowID,
				Confidence: revised.Confidence,
				Rationale:  revised.Rationale,
				Revision:   revision,
			}))
			return revised, nil
		},
		func(attempt domain.ValidationAttempt) {
			o.submit(audit.NewValidationEvent(s.CorrelationID, audit.ValidationPayload{
				AttemptNumber: attempt.AttemptNumber,
				MaxAttempts:   attempt.MaxAttempts,
				WorkflowID:    attempt.Candidate.WorkflowID,
				IsValid:       attempt.IsValid,
				Errors:        attempt.Errors,
			}))
		},
	)
	if err != nil {
		// Сюда попадают только инфраструктурные сбои: gate недоступен после
		// своего retry-бюджета, reasoning упал, кооперативная отмена
		if errors.Is(err, catalog.ErrGateUnavailable) {
			o.logger.Error("gate unavailable, failing session",
				zap.String("session_id", s.ID), zap.Error(err))
		}
		o.finishFailed(s, start, err)
		return
	}

	o.metrics.ValidationAttempts.Observe(float64(len(outcome.Attempts)))

	// 3. Вердикт + политика уверенности
	result := &domain.InvestigationResult{
		Candidate:   outcome.Candidate,
		Confidence:  outcome.Confidence,
		Rationale:   lastProposal.Rationale,
		Attempts:    len(outcome.Attempts),
		CompletedAt: time.Now(),
	}

	outcomeLabel := "completed"
	switch {
	case !outcome.Valid:
		// Исчерпание бюджета — бизнес-исход, сессия завершается успешно
		result.NeedsHumanReview = true
		result.ReviewReason = "validation attempts exhausted without an accepted candidate"
		outcomeLabel = "escalated"
	case outcome.Confidence < o.cfg.ConfidenceThreshold:
		result.NeedsHumanReview = true
		result.ReviewReason = "confidence below configured threshold"
		outcomeLabel = "escalated"
	}

	o.submit(audit.NewOutcomeEvent(s.CorrelationID, audit.OutcomePayload{
		Status:           string(domain.SessionCompleted),
		WorkflowID:       workflowID(result.Candidate),
		Confidence:       result.Confidence,
		NeedsHumanReview: result.NeedsHumanReview,
		Attempts:         result.Attempts,
	}))

	// 4. Durability аудита до видимости результата
	if !o.pipeline.Flush(o.cfg.FlushTimeout) {
		o.logger.Warn("audit flush timed out before finalizing session",
			zap.String("session_id", s.ID))
	}

	o.sessions.Complete(s.ID, result)
	o.observeFinish(outcomeLabel, start)
}

func (o *Orchestrator) finishFailed(s domain.Session, start time.Time, taskErr error) {
	o.submit(audit.NewOutcomeEvent(s.CorrelationID, audit.OutcomePayload{
		Status: string(domain.SessionFailed),
		Error:  taskErr.Error(),
	}))

	if !o.pipeline.Flush(o.cfg.FlushTimeout) {
		o.logger.Warn("audit flush timed out before failing session",
			zap.String("session_id", s.ID))
	}

	o.sessions.Fail(s.ID, taskErr)
	o.observeFinish("failed", start)
}

func (o *Orchestrator) observeFinish(outcome string, start time.Time) {
	o.metrics.SessionsTotal.WithLabelValues(outcome).Inc()
	o.metrics.InvestigationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	o.metrics.SessionsActive.Set(float64(o.sessions.Active()))
}

// submit не возвращает ошибку наверх: потеря события аудита — деградация,
// а не повод валить расследование (пайплайн сам логирует и считает дропы)
func (o *Orchestrator) submit(event audit.AuditEvent) {
	o.pipeline.Submit(event)
}

func workflowID(c *domain.WorkflowCandidate) string {
	if c == nil {
		return ""
	}
	return c.WorkflowID
}
