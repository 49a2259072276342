package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/triage-core/internal/domain"
)

// Категории и типы событий аудита.
// Payload каждого типа — явная структура, а не map: форма данных
// фиксируется на границе один раз, дальше по коду гуляет типизированный объект.
const (
	CategoryInvestigation = "investigation"
	CategoryReasoning     = "reasoning"
	CategoryValidation    = "validation"
)

const (
	TypeRequestReceived   = "request_received"
	TypeReasoningResponse = "reasoning_response"
	TypeValidationAttempt = "validation_attempt"
	TypeInvestigationDone = "investigation_completed"
	TypeInvestigationFail = "investigation_failed"
)

// AuditEvent — неизменяемая запись одного шага расследования.
// После создания не мутируется; владение переходит к пайплайну
// с момента Submit и до доставки (или исчерпания ретраев).
type AuditEvent struct {
	ID            string      `json:"id"`             // UUID события
	Category      string      `json:"event_category"` // investigation / reasoning / validation
	Type          string      `json:"event_type"`
	CorrelationID string      `json:"correlation_id"` // Связывает все события одного расследования
	Payload       interface{} `json:"payload"`        // Одна из типизированных структур ниже
	CreatedAt     time.Time   `json:"created_at"`
}

// RequestPayload — входящий сигнал, с которого началось расследование
type RequestPayload struct {
	SignalID string                `json:"signal_id"`
	Source   string                `json:"source"`
	Title    string                `json:"title"`
	Filters  domain.ContextFilters `json:"filters"`
}

// ReasoningPayload — ответ reasoning-движка (первичный или после ревизии)
type ReasoningPayload struct {
	WorkflowID string  `json:"workflow_id"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
	Revision   int     `json:"revision"` // 0 — первичный ответ
}

// ValidationPayload — один раунд проверки кандидата через security gate
type ValidationPayload struct {
	AttemptNumber int      `json:"attempt_number"`
	MaxAttempts   int      `json:"max_attempts"`
	WorkflowID    string   `json:"workflow_id"`
	IsValid       bool     `json:"is_valid"`
	Errors        []string `json:"errors,omitempty"`
}

// OutcomePayload — терминальный исход сессии
type OutcomePayload struct {
	Status           string  `json:"status"` // COMPLETED / FAILED
	WorkflowID       string  `json:"workflow_id,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	NeedsHumanReview bool    `json:"needs_human_review"`
	Attempts         int     `json:"attempts"`
	Error            string  `json:"error,omitempty"`
}

func newEvent(category, eventType, correlationID string, payload interface{}) AuditEvent {
	return AuditEvent{
		ID:            uuid.New().String(),
		Category:      category,
		Type:          eventType,
		CorrelationID: correlationID,
		Payload:       payload,
		CreatedAt:     time.Now(),
	}
}

func NewRequestEvent(correlationID string, p RequestPayload) AuditEvent {
	return newEvent(CategoryInvestigation, TypeRequestReceived, correlationID, p)
}

func NewReasoningEvent(correlationID string, p ReasoningPayload) AuditEvent {
	return newEvent(CategoryReasoning, TypeReasoningResponse, correlationID, p)
}

func NewValidationEvent(correlationID string, p ValidationPayload) AuditEvent {
	return newEvent(CategoryValidation, TypeValidationAttempt, correlationID, p)
}

func NewOutcomeEvent(correlationID string, p OutcomePayload) AuditEvent {
	t := TypeInvestigationDone
	if p.Status == string(domain.SessionFailed) {
		t = TypeInvestigationFail
	}
	return newEvent(CategoryInvestigation, t, correlationID, p)
}
