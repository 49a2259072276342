package reasoning

import (
	"context"

	"github.com/xela07ax/triage-core/internal/domain"
)

// Proposal — ответ reasoning-движка: кандидат + уверенность + обоснование.
type Proposal struct {
	Candidate  *domain.WorkflowCandidate `json:"candidate"`
	Confidence float64                   `json:"confidence"`
	Rationale  string                    `json:"rationale,omitempty"`
}

// Engine — внешний reasoning-коллаборатор (LLM-контур).
// Для ядра он непрозрачен и потенциально медленный; внутри может делать
// сколько угодно tool-вызовов. Транспортные ретраи — его забота, не ядра.
type Engine interface {
	// Invoke строит первичного кандидата по описанию инцидента
	Invoke(ctx context.Context, req domain.InvestigationRequest) (*Proposal, error)

	// Revise получает диагностику отказа gate и возвращает исправленного
	// кандидата для следующего раунда самокоррекции
	Revise(ctx context.Context, req domain.InvestigationRequest, prev *domain.WorkflowCandidate, diagnostics []string) (*Proposal, error)
}
