package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/triage-core/internal/api/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetEvents возвращает след аудита с поддержкой фильтрации
// GET /v1/audit?correlation_id=...&category=...
func (h *AuditHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	// Извлекаем фильтры из Query-параметров
	correlationID := r.URL.Query().Get("correlation_id")
	category := r.URL.Query().Get("category")

	events, err := h.service.FetchEvents(r.Context(), correlationID, category)
	if err != nil {
		http.Error(w, "Failed to fetch audit events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
