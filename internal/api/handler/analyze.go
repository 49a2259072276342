package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/triage-core/internal/domain"
	"github.com/xela07ax/triage-core/internal/orchestrator"
	"github.com/xela07ax/triage-core/internal/session"
	"go.uber.org/zap"
)

// AnalyzeHandler обслуживает асинхронный контур: прием запроса + поллинг.
// Прием возвращает 202 с идентификатором сессии, результат клиент забирает
// отдельными запросами — прямого ответа с результатом здесь нет нигде.
type AnalyzeHandler struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	logger   *zap.Logger
}

func NewAnalyzeHandler(orch *orchestrator.Orchestrator, sessions *session.Manager, logger *zap.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{orch: orch, sessions: sessions, logger: logger.Named("analyze-api")}
}

type acceptedResponse struct {
	SessionID string               `json:"session_id"`
	Status    domain.SessionStatus `json:"status"`
}

// Analyze принимает запрос анализа инцидента
// POST /v1/analyze
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req domain.InvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Валидация на границе: дальше по ядру запрос считается корректным
	if req.SignalID == "" || req.Source == "" {
		writeError(w, http.StatusBadRequest, "signal_id and source are required")
		return
	}

	s, err := h.orch.Start(req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTooManySessions):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, domain.ErrIntakeBlocked):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			h.logger.Error("failed to start investigation", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start investigation")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(acceptedResponse{SessionID: s.ID, Status: s.Status})
}

// GetStatus возвращает текущий статус сессии
// GET /v1/sessions/{id}
func (h *AnalyzeHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.sessions.GetStatus(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session_id": id,
		"status":     status,
	})
}

// GetResult возвращает терминальный результат.
// Поллер всегда получает один из фиксированных явных ответов:
// 404 (неизвестна/истекла), 409 (еще не готово), 200 (результат или ошибка таски).
func (h *AnalyzeHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s, err := h.sessions.GetResult(id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotReady):
			writeError(w, http.StatusConflict, "session result is not ready yet")
		default:
			writeError(w, http.StatusNotFound, "session not found")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
