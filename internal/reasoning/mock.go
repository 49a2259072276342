package reasoning

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/xela07ax/triage-core/internal/domain"
)

// MockEngine — reasoning-движок для локальной разработки и демо-стендов.
// Первым ходом предлагает "очевидного" кандидата по типу ресурса, а на
// ревизии послушно переключается на безопасную альтернативу.
type MockEngine struct{}

func (e *MockEngine) Invoke(ctx context.Context, req domain.InvestigationRequest) (*Proposal, error) {
	// Имитируем задержку LLM-контура 100-600мс
	latency := time.Duration(100+rand.Intn(500)) * time.Millisecond

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	workflowID := "restart-deployment"
	if req.Filters.ResourceKind == "database" {
		workflowID = "drop-stale-connections"
	}

	return &Proposal{
		Candidate: &domain.WorkflowCandidate{
			WorkflowID: workflowID,
			Name:       workflowID,
			Filters:    req.Filters,
		},
		Confidence: 0.65 + rand.Float64()*0.3,
		Rationale:  "signal pattern matches a known remediation path",
	}, nil
}

func (e *MockEngine) Revise(ctx context.Context, req domain.InvestigationRequest, prev *domain.WorkflowCandidate, diagnostics []string) (*Proposal, error) {
	select {
	case <-time.After(time.Duration(100+rand.Intn(300)) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Если кандидат запрещен в этом окружении — падаем обратно на рестарт
	for _, d := range diagnostics {
		if strings.Contains(d, "not permitted") {
			return &Proposal{
				Candidate: &domain.WorkflowCandidate{
					WorkflowID: "restart-deployment",
					Name:       "restart-deployment",
					Filters:    req.Filters,
				},
				Confidence: 0.7,
				Rationale:  "previous candidate rejected by security gate, falling back to restart",
			}, nil
		}
	}

	// Иначе значимо нового предложения нет — повторяем прежнего кандидата
	return &Proposal{
		Candidate:  prev,
		Confidence: 0.5,
		Rationale:  "no better candidate found for the reported diagnostics",
	}, nil
}
