package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xela07ax/triage-core/internal/domain"
)

// HTTPEngine — адаптер к внешнему reasoning-сервису.
// Таймаут щедрый: внутри контура живут цепочки tool-вызовов LLM.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type invokeRequest struct {
	Request     domain.InvestigationRequest `json:"request"`
	Previous    *domain.WorkflowCandidate   `json:"previous,omitempty"`
	Diagnostics []string                    `json:"diagnostics,omitempty"`
}

func (e *HTTPEngine) Invoke(ctx context.Context, req domain.InvestigationRequest) (*Proposal, error) {
	return e.call(ctx, "/v1/propose", invokeRequest{Request: req})
}

func (e *HTTPEngine) Revise(ctx context.Context, req domain.InvestigationRequest, prev *domain.WorkflowCandidate, diagnostics []string) (*Proposal, error) {
	return e.call(ctx, "/v1/revise", invokeRequest{Request: req, Previous: prev, Diagnostics: diagnostics})
}

func (e *HTTPEngine) call(ctx context.Context, path string, payload invokeRequest) (*Proposal, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reasoning request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reasoning call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reasoning engine returned status %d", resp.StatusCode)
	}

	var proposal Proposal
	if err := json.NewDecoder(resp.Body).Decode(&proposal); err != nil {
		return nil, fmt.Errorf("failed to decode reasoning response: %w", err)
	}
	if proposal.Candidate == nil {
		return nil, fmt.Errorf("reasoning engine returned no candidate")
	}
	return &proposal, nil
}
