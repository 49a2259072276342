package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/triage-core/internal/domain"
)

// HTTPGate — клиент реального каталога/security gate.
// Транспортные ретраи здесь не живут: ими занимается ResilientGate.
type HTTPGate struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGate(baseURL string) *HTTPGate {
	return &HTTPGate{
		baseURL: baseURL,
		// Защитный таймаут на уровне клиента:
		// даже если обертка имеет свой, адаптер должен иметь свой предел
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type checkRequest struct {
	WorkflowID string                `json:"workflow_id"`
	Filters    domain.ContextFilters `json:"filters"`
}

func (g *HTTPGate) Check(ctx context.Context, workflowID string, filters domain.ContextFilters) (Decision, error) {
	body, err := json.Marshal(checkRequest{WorkflowID: workflowID, Filters: filters})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal gate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/workflows/check", bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("gate call failed: %w", err)
	}
	defer resp.Body.Close()

	// 429 транслируем в ThrottleError, чтобы обертка уважала Retry-After
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 1 * time.Second
		if s := resp.Header.Get("Retry-After"); s != "" {
			if sec, convErr := strconv.Atoi(s); convErr == nil {
				retryAfter = time.Duration(sec) * time.Second
			}
		}
		return Decision{}, &ThrottleError{RetryAfter: retryAfter, Cause: fmt.Errorf("gate returned 429")}
	}

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("gate returned status %d", resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("failed to decode gate response: %w", err)
	}
	return decision, nil
}
