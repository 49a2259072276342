package catalog

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/xela07ax/triage-core/internal/domain"
)

// MockCatalogGate — каталог для локальной разработки и демо-стендов.
// Знает несколько workflow'ов; часть из них ограничена окружением,
// чтобы воспроизводить рабочий цикл самокоррекции.
type MockCatalogGate struct{}

func (g *MockCatalogGate) Check(ctx context.Context, workflowID string, filters domain.ContextFilters) (Decision, error) {
	// Имитируем задержку 50-300мс
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}

	if workflowID == "unstable.gate" {
		return Decision{}, fmt.Errorf("gate internal error")
	}

	switch workflowID {
	case "restart-deployment":
		return Decision{Accepted: true}, nil
	case "scale-up-replicas":
		return Decision{Accepted: true}, nil

	// Разрешен только вне прода
	case "drop-stale-connections":
		if filters.Environment == "prod" {
			return Decision{
				Accepted: false,
				Reasons:  []string{fmt.Sprintf("workflow %q is not permitted in environment %q", workflowID, filters.Environment)},
			}, nil
		}
		return Decision{Accepted: true}, nil

	default:
		return Decision{
			Accepted: false,
			Reasons:  []string{fmt.Sprintf("workflow %q not found under the provided context filters", workflowID)},
		}, nil
	}
}
