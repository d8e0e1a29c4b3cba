// queue.go — обработчики очереди публикации.
// GET /api/v1/queue, POST /api/v1/queue/clear, POST /api/v1/queue/retry-failed.
package handlers

import (
	"net/http"

	apierrors "github.com/hexday/updl/internal/api/errors"
)

// queueCountResponse — ответ операций clear и retry-failed.
type queueCountResponse struct {
	Affected int `json:"affected"`
}

// GetQueueStatus — реализация GET /api/v1/queue.
func (h *APIHandler) GetQueueStatus(w http.ResponseWriter, _ *http.Request) {
	if h.queue == nil {
		apierrors.InvalidState(w, "Публикация отключена: не задан токен бота")
		return
	}
	writeJSON(w, http.StatusOK, h.queue.Status())
}

// ClearQueue — реализация POST /api/v1/queue/clear.
// Удаляет ожидающие элементы; публикуемый сейчас файл не трогается.
func (h *APIHandler) ClearQueue(w http.ResponseWriter, _ *http.Request) {
	if h.queue == nil {
		apierrors.InvalidState(w, "Публикация отключена: не задан токен бота")
		return
	}
	writeJSON(w, http.StatusOK, queueCountResponse{Affected: h.queue.Clear()})
}

// RetryFailed — реализация POST /api/v1/queue/retry-failed.
// Возвращает карантинные файлы обратно в очередь.
func (h *APIHandler) RetryFailed(w http.ResponseWriter, _ *http.Request) {
	if h.queue == nil {
		apierrors.InvalidState(w, "Публикация отключена: не задан токен бота")
		return
	}
	writeJSON(w, http.StatusOK, queueCountResponse{Affected: h.queue.RetryQuarantined()})
}
