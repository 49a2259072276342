package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/triage-core/internal/orchestrator"
	"go.uber.org/zap"
)

// SourceHandler — операторское управление kill-switch источников сигнала
type SourceHandler struct {
	sources *orchestrator.SourceSwitchManager
	logger  *zap.Logger
}

func NewSourceHandler(sources *orchestrator.SourceSwitchManager, logger *zap.Logger) *SourceHandler {
	return &SourceHandler{sources: sources, logger: logger.Named("sources-api")}
}

// Block мгновенно закрывает прием сигналов источника
// POST /v1/sources/{id}/block
func (h *SourceHandler) Block(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")
	if sourceID == "" {
		http.Error(w, "source id is required", http.StatusBadRequest)
		return
	}

	// Ждем и Redis, и Publish: отставший инстанс с открытым приемом — дыра
	if err := h.sources.Block(r.Context(), sourceID); err != nil {
		h.logger.Error("failed to block source", zap.String("source_id", sourceID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unblock возвращает источник в строй
// POST /v1/sources/{id}/unblock
func (h *SourceHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")
	if sourceID == "" {
		http.Error(w, "source id is required", http.StatusBadRequest)
		return
	}

	if err := h.sources.Unblock(r.Context(), sourceID); err != nil {
		h.logger.Error("failed to unblock source", zap.String("source_id", sourceID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
