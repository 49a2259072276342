package catalog

import (
	"context"

	"github.com/xela07ax/triage-core/internal/domain"
)

// Decision — структурный вердикт security gate.
// Отказ "not found under these filters" — ожидаемый, рабочий случай,
// питающий цикл самокоррекции, а не исключение.
type Decision struct {
	Accepted bool     `json:"accepted"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Gate — внешний каталог workflow'ов + security gate.
// Ошибка из Check означает инфраструктурный сбой (gate недоступен),
// не-accepted Decision — бизнес-отказ с диагностикой для reasoning-движка.
type Gate interface {
	Check(ctx context.Context, workflowID string, filters domain.ContextFilters) (Decision, error)
}
