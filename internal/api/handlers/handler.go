// handler.go — основной обработчик HTTP API.
// Объединяет health и бизнес-обработчики, делегируя запросы
// в сервисный слой.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hexday/updl/internal/engine"
	"github.com/hexday/updl/internal/service"
	"github.com/hexday/updl/internal/storage"
)

// APIHandler — основной обработчик API.
type APIHandler struct {
	health     *HealthHandler
	downloader *service.Downloader
	queue      *service.UploadQueue
	registry   *engine.Registry
	files      *storage.FileStore
	logger     *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	downloader *service.Downloader,
	queue *service.UploadQueue,
	registry *engine.Registry,
	files *storage.FileStore,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:     health,
		downloader: downloader,
		queue:      queue,
		registry:   registry,
		files:      files,
		logger:     logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
