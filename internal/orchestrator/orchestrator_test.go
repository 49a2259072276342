package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/triage-core/internal/audit"
	"github.com/xela07ax/triage-core/internal/catalog"
	"github.com/xela07ax/triage-core/internal/domain"
	"github.com/xela07ax/triage-core/internal/reasoning"
	"github.com/xela07ax/triage-core/internal/session"
	"github.com/xela07ax/triage-core/internal/validator"
)

// memAuditStore собирает доставленные события в память
type memAuditStore struct {
	mu     sync.Mutex
	events []audit.AuditEvent
}

func (s *memAuditStore) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memAuditStore) Ping(ctx context.Context) error { return nil }

func (s *memAuditStore) byType(eventType string) []audit.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []audit.AuditEvent
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeEngine отдает заранее заданные предложения
type fakeEngine struct {
	invoke func(req domain.InvestigationRequest) (*reasoning.Proposal, error)
	revise func(prev *domain.WorkflowCandidate, diagnostics []string) (*reasoning.Proposal, error)
}

func (e *fakeEngine) Invoke(ctx context.Context, req domain.InvestigationRequest) (*reasoning.Proposal, error) {
	return e.invoke(req)
}

func (e *fakeEngine) Revise(ctx context.Context, req domain.InvestigationRequest, prev *domain.WorkflowCandidate, diagnostics []string) (*reasoning.Proposal, error) {
	return e.revise(prev, diagnostics)
}

// fakeGate решает по таблице workflow_id -> вердикт
type fakeGate struct {
	decisions map[string]catalog.Decision
	err       error
}

func (g *fakeGate) Check(ctx context.Context, workflowID string, filters domain.ContextFilters) (catalog.Decision, error) {
	if g.err != nil {
		return catalog.Decision{}, g.err
	}
	if d, ok := g.decisions[workflowID]; ok {
		return d, nil
	}
	return catalog.Decision{Accepted: false, Reasons: []string{"workflow not found"}}, nil
}

type testHarness struct {
	orch     *Orchestrator
	sessions *session.Manager
	store    *memAuditStore
}

func newHarness(t *testing.T, engine reasoning.Engine, gate catalog.Gate, cfg Config) *testHarness {
	t.Helper()

	logger := zap.NewNop()
	store := &memAuditStore{}

	pipeline, err := audit.NewPipeline(context.Background(), store, audit.Config{
		BufferSize:     128,
		BatchSize:      10,
		FlushInterval:  50 * time.Millisecond,
		EnqueueTimeout: 50 * time.Millisecond,
		DeliverTimeout: time.Second,
		DeliverRetries: 2,
	}, logger, nil)
	require.NoError(t, err)
	pipeline.Start()
	t.Cleanup(pipeline.Close)

	sessions := session.NewManager(context.Background(), session.Config{
		MaxConcurrent: 10,
		TTL:           time.Minute,
		SweepInterval: time.Second,
	}, logger)

	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.FlushTimeout == 0 {
		cfg.FlushTimeout = time.Second
	}

	v := validator.New(gate, 3, logger)
	orch := New(sessions, pipeline, engine, v, nil, nil, cfg, logger)

	return &testHarness{orch: orch, sessions: sessions, store: store}
}

func testRequest() domain.InvestigationRequest {
	return domain.InvestigationRequest{
		SignalID: "sig-42",
		Source:   "alertmanager",
		Title:    "CrashLoopBackOff in checkout",
		Filters: domain.ContextFilters{
			Severity:     domain.SeverityHigh,
			ResourceKind: "deployment",
			Environment:  "prod",
		},
	}
}

func (h *testHarness) waitTerminal(t *testing.T, id string) domain.SessionStatus {
	t.Helper()

	var st domain.SessionStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = h.sessions.GetStatus(id)
		return err == nil && st.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

// Счастливый путь: кандидат принят с первого раунда, уверенность выше порога
func TestOrchestrator_CompletedFirstAttempt(t *testing.T) {
	engine := &fakeEngine{
		invoke: func(req domain.InvestigationRequest) (*reasoning.Proposal, error) {
			return &reasoning.Proposal{
				Candidate:  &domain.WorkflowCandidate{WorkflowID: "restart-deployment", Filters: req.Filters},
				Confidence: 0.92,
				Rationale:  "pod is crash-looping, restart clears the bad state",
			}, nil
		},
	}
	gate := &fakeGate{decisions: map[string]catalog.Decision{
		"restart-deployment": {Accepted: true},
	}}
	h := newHarness(t, engine, gate, Config{})

	s, err := h.orch.Start(testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPending, s.Status)

	st := h.waitTerminal(t, s.ID)
	assert.Equal(t, domain.SessionCompleted, st)

	got, err := h.sessions.GetResult(s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, "restart-deployment", got.Result.Candidate.WorkflowID)
	assert.False(t, got.Result.NeedsHumanReview)
	assert.Equal(t, 1, got.Result.Attempts)

	// Аудиторский след: запрос, первичный reasoning, раунд валидации, исход —
	// все уже доставлено к моменту видимости результата
	assert.Len(t, h.store.byType(audit.TypeRequestReceived), 1)
	assert.Len(t, h.store.byType(audit.TypeReasoningResponse), 1)
	assert.Len(t, h.store.byType(audit.TypeValidationAttempt), 1)
	assert.Len(t, h.store.byType(audit.TypeInvestigationDone), 1)

	// Все события сшиты одним correlation id сессии
	for _, e := range h.store.byType(audit.TypeRequestReceived) {
		assert.Equal(t, s.CorrelationID, e.CorrelationID)
	}
}

// Самокоррекция: первый кандидат отклонен, ревизия принята со второго раунда
func TestOrchestrator_SelfCorrection(t *testing.T) {
	engine := &fakeEngine{
		invoke: func(req domain.InvestigationRequest) (*reasoning.Proposal, error) {
			return &reasoning.Proposal{
				Candidate:  &domain.WorkflowCandidate{WorkflowID: "drop-stale-connections", Filters: req.Filters},
				Confidence: 0.85,
			}, nil
		},
		revise: func(prev *domain.WorkflowCandidate, diagnostics []string) (*reasoning.Proposal, error) {
			return &reasoning.Proposal{
				Candidate:  &domain.WorkflowCandidate{WorkflowID: "restart-deployment", Filters: prev.Filters},
				Confidence: 0.8,
			}, nil
		},
	}
	gate := &fakeGate{decisions: map[string]catalog.Decision{
		"drop-stale-connections": {Accepted: false, Reasons: []string{"not permitted in prod"}},
		"restart-deployment":     {Accepted: true},
	}}
	h := newHarness(t, engine, gate, Config{})

	s, err := h.orch.Start(testRequest())
	require.NoError(t, err)

	st := h.waitTerminal(t, s.ID)
	assert.Equal(t, domain.SessionCompleted, st)

	got, err := h.sessions.GetResult(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "restart-deployment", got.Result.Candidate.WorkflowID)
	assert.False(t, got.Result.NeedsHumanReview)
	assert.Equal(t, 2, got.Result.Attempts)

	// Ревизия аудируется отдельным reasoning-событием
	assert.Len(t, h.store.byType(audit.TypeReasoningResponse), 2)
	assert.Len(t, h.store.byType(audit.TypeValidationAttempt), 2)
}

// Исчерпание бюджета валидации — успешное завершение с эскалацией на человека
func TestOrchestrator_EscalationOnExhaustion(t *testing.T) {
	engine := &fakeEngine{
		invoke: func(req domain.InvestigationRequest) (*reasoning.Proposal, error) {
			return &reasoning.Proposal{
				Candidate:  &domain.WorkflowCandidate{WorkflowID: "unknown-workflow", Filters: req.Filters},
				Confidence: 0.9,
			}, nil
		},
		revise: func(prev *domain.WorkflowCandidate, diagnostics []string) (*reasoning.Proposal, error) {
			return &reasoning.Proposal{Candidate: prev, Confidence: 0.5}, nil
		},
	}
	h := newHarness(t, engine, &fakeGate{}, Config{})

	s, err := h.orch.Start(testRequest())
	require.NoError(t, err)

	st := h.waitTerminal(t, s.ID)
	// Не FAILED: исчерпание бюджета — бизнес-исход
	assert.Equal(t, domain.SessionCompleted, st)

	got, err := h.sessions.GetResult(s.ID)
	require.NoError(t, err)
	assert.True(t, got.Result.NeedsHumanReview)
	assert.Contains(t, got.Result.ReviewReason, "exhausted")
	assert.Nil(t, got.Result.Candidate)
	assert.Equal(t, 3, got.Result.Attempts)

	assert.Len(t, h.store.byType(audit.TypeValidationAttempt), 3)
}

// Валидный кандидат с низкой уверенностью тоже эскалируется
func TestOrchestrator_EscalationOnLowConfidence(t *testing.T) {
	engine := &fakeEngine{
		invoke: func(req domain.InvestigationRequest) (*reasoning.Proposal, error) {
			return &reasoning.Proposal{
				Candidate:  &domain.WorkflowCandidate{WorkflowID: "restart-deployment", Filters: req.Filters},
				Confidence: 0.4,
			}, nil
		},
	}
	gate := &fakeGate{decisions: map[string]catalog.Decision{
		"restart-deployment": {Accepted: true},
	}}
	h := newHarness(t, engine, gate, Config{ConfidenceThreshold: 0.7})

	s, err := h.orch.Start(testRequest())
	require.NoError(t, err)

	st := h.waitTerminal(t, s.ID)
	assert.Equal(t, domain.SessionCompleted, st)

	got, err := h.sessions.GetResult(s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result.Candidate)
	assert.True(t, got.Result.NeedsHumanReview)
	assert.Contains(t, got.Result.ReviewReason, "confidence")
}

// Падение reasoning-контура — инфраструктурный сбой, сессия FAILED
func TestOrchestrator_ReasoningFailure(t *testing.T) {
	engineErr := errors.New("reasoning engine timeout")
	engine := &fakeEngine{
		invoke: func(req domain.InvestigationRequest) (*reasoning.Proposal, error) {
			return nil, engineErr
		},
	}
	h := newHarness(t, engine, &fakeGate{}, Config{})

	s, err := h.orch.Start(testRequest())
	require.NoError(t, err)

	st := h.waitTerminal(t, s.ID)
	assert.Equal(t, domain.SessionFailed, st)

	got, err := h.sessions.GetResult(s.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Result)
	assert.Contains(t, got.Error, "timeout")

	// Провал тоже аудируется терминальным событием
	assert.Len(t, h.store.byType(audit.TypeInvestigationFail), 1)
}

// Недоступный gate после своего retry-бюджета валит сессию, не тратя попытки
func TestOrchestrator_GateUnavailable(t *testing.T) {
	engine := &fakeEngine{
		invoke: func(req domain.InvestigationRequest) (*reasoning.Proposal, error) {
			return &reasoning.Proposal{
				Candidate:  &domain.WorkflowCandidate{WorkflowID: "restart-deployment", Filters: req.Filters},
				Confidence: 0.9,
			}, nil
		},
	}
	gate := &fakeGate{err: catalog.ErrGateUnavailable}
	h := newHarness(t, engine, gate, Config{})

	s, err := h.orch.Start(testRequest())
	require.NoError(t, err)

	st := h.waitTerminal(t, s.ID)
	assert.Equal(t, domain.SessionFailed, st)

	// Ни одного validation-события: раунды не начались
	assert.Empty(t, h.store.byType(audit.TypeValidationAttempt))
	assert.Len(t, h.store.byType(audit.TypeInvestigationFail), 1)
}

// Kill-switch источника: прием отклоняется до создания сессии
func TestOrchestrator_BlockedSource(t *testing.T) {
	engine := &fakeEngine{
		invoke: func(req domain.InvestigationRequest) (*reasoning.Proposal, error) {
			if req.Source == "alertmanager" {
				t.Error("engine must not be called for a blocked source")
			}
			return &reasoning.Proposal{
				Candidate:  &domain.WorkflowCandidate{WorkflowID: "restart-deployment", Filters: req.Filters},
				Confidence: 0.9,
			}, nil
		},
	}
	gate := &fakeGate{decisions: map[string]catalog.Decision{
		"restart-deployment": {Accepted: true},
	}}
	h := newHarness(t, engine, gate, Config{})

	sources := NewSourceSwitchManager(nil, zap.NewNop())
	sources.replaceAll([]string{"alertmanager"})
	h.orch.sources = sources

	_, err := h.orch.Start(testRequest())
	assert.ErrorIs(t, err, domain.ErrIntakeBlocked)
	assert.Equal(t, 0, h.sessions.Active())

	// Другой источник проходит
	req := testRequest()
	req.Source = "pagerduty"
	s, err := h.orch.Start(req)
	require.NoError(t, err)

	st := h.waitTerminal(t, s.ID)
	assert.Equal(t, domain.SessionCompleted, st)
}
