package domain

import "time"

// Severity классифицирует входящий сигнал инцидента
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ContextFilters — контекст, в котором был предложен кандидат.
// Security gate проверяет кандидата именно под этими фильтрами:
// workflow может существовать в каталоге, но быть запрещен для данного окружения.
type ContextFilters struct {
	Severity     Severity `json:"severity"`
	ResourceKind string   `json:"resource_kind"` // например, "deployment", "database"
	Environment  string   `json:"environment"`   // "prod", "staging"
	Cluster      string   `json:"cluster,omitempty"`
	Namespace    string   `json:"namespace,omitempty"`
}

// InvestigationRequest — входящий запрос анализа инцидента
type InvestigationRequest struct {
	SignalID    string         `json:"signal_id"`
	Source      string         `json:"source"` // ID источника сигнала (alertmanager, pagerduty...)
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Filters     ContextFilters `json:"filters"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// WorkflowCandidate — кандидат на remediation, предложенный reasoning-движком.
// Для валидатора он read-only: правок кандидата валидатор не делает,
// он только возвращает диагностику для следующего раунда.
type WorkflowCandidate struct {
	WorkflowID string            `json:"workflow_id"`
	Name       string            `json:"name"`
	Filters    ContextFilters    `json:"filters"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ValidationAttempt — результат одного раунда проверки кандидата.
// Создается заново на каждый раунд и не живет дольше audit-эмиссии.
type ValidationAttempt struct {
	AttemptNumber int                `json:"attempt_number"`
	MaxAttempts   int                `json:"max_attempts"`
	IsValid       bool               `json:"is_valid"`
	Errors        []string           `json:"errors,omitempty"`
	Candidate     *WorkflowCandidate `json:"candidate"`
}

// IsFinalAttempt — производный признак: бюджет раундов исчерпан
func (a ValidationAttempt) IsFinalAttempt() bool {
	return a.AttemptNumber == a.MaxAttempts
}

// InvestigationResult — терминальный результат сессии.
// ValidationExhausted — это бизнес-исход, а не ошибка: сессия завершается
// успешно, но с поднятым флагом эскалации на человека.
type InvestigationResult struct {
	Candidate        *WorkflowCandidate `json:"candidate,omitempty"`
	Confidence       float64            `json:"confidence"`
	Rationale        string             `json:"rationale,omitempty"`
	Attempts         int                `json:"attempts"`
	NeedsHumanReview bool               `json:"needs_human_review"`
	ReviewReason     string             `json:"review_reason,omitempty"`
	CompletedAt      time.Time          `json:"completed_at"`
}
