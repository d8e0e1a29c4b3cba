// downloads.go — обработчики управления загрузками.
// POST /api/v1/downloads, GET /api/v1/downloads, GET /api/v1/downloads/{id},
// POST /api/v1/downloads/{id}/pause, POST /api/v1/downloads/{id}/resume,
// DELETE /api/v1/downloads/{id}, POST /api/v1/downloads/cleanup,
// GET /api/v1/stats, GET /api/v1/engines.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/hexday/updl/internal/api/errors"
	"github.com/hexday/updl/internal/domain/model"
	"github.com/hexday/updl/internal/engine"
	"github.com/hexday/updl/internal/repository"
	"github.com/hexday/updl/internal/service"
)

// createDownloadRequest — тело POST /api/v1/downloads.
type createDownloadRequest struct {
	URL          string `json:"url"`
	Quality      string `json:"quality,omitempty"`
	ExtractAudio bool   `json:"extract_audio,omitempty"`
	Description  string `json:"description,omitempty"`
	Tags         string `json:"tags,omitempty"`
}

// downloadListResponse — ответ GET /api/v1/downloads.
type downloadListResponse struct {
	Items []*model.DownloadRecord `json:"items"`
	Total int                     `json:"total"`
}

// CreateDownload — реализация POST /api/v1/downloads.
func (h *APIHandler) CreateDownload(w http.ResponseWriter, r *http.Request) {
	var req createDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	if err := validateDownloadURL(req.URL); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	rec, err := h.downloader.Create(r.Context(), service.StartRequest{
		URL:          req.URL,
		Quality:      req.Quality,
		ExtractAudio: req.ExtractAudio,
		Description:  req.Description,
		Tags:         req.Tags,
	})
	if err != nil {
		h.writeDownloadError(w, err, "Ошибка создания загрузки")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// ListDownloads — реализация GET /api/v1/downloads.
func (h *APIHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	records, err := h.downloader.List(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения списка загрузок", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка при получении списка загрузок")
		return
	}
	if records == nil {
		records = []*model.DownloadRecord{}
	}

	writeJSON(w, http.StatusOK, downloadListResponse{Items: records, Total: len(records)})
}

// GetDownload — реализация GET /api/v1/downloads/{id}.
func (h *APIHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.downloader.Get(r.Context(), id)
	if err != nil {
		h.writeDownloadError(w, err, "Ошибка получения загрузки")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// PauseDownload — реализация POST /api/v1/downloads/{id}/pause.
func (h *APIHandler) PauseDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.downloader.Pause(r.Context(), id)
	if err != nil {
		h.writeDownloadError(w, err, "Ошибка приостановки загрузки")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ResumeDownload — реализация POST /api/v1/downloads/{id}/resume.
func (h *APIHandler) ResumeDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.downloader.Resume(r.Context(), id)
	if err != nil {
		h.writeDownloadError(w, err, "Ошибка возобновления загрузки")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// CancelDownload — реализация DELETE /api/v1/downloads/{id}.
func (h *APIHandler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.downloader.Cancel(r.Context(), id); err != nil {
		h.writeDownloadError(w, err, "Ошибка отмены загрузки")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// cleanupRequest — тело POST /api/v1/cleanup.
type cleanupRequest struct {
	// OlderThanHours — возраст завершённых записей для удаления (по умолчанию 24)
	OlderThanHours int `json:"older_than_hours,omitempty"`
}

// cleanupResponse — ответ POST /api/v1/cleanup.
type cleanupResponse struct {
	Removed int `json:"removed"`
}

// Cleanup — реализация POST /api/v1/cleanup.
func (h *APIHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	req := cleanupRequest{OlderThanHours: 24}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
			return
		}
	}
	if req.OlderThanHours < 0 {
		apierrors.ValidationError(w, "older_than_hours не может быть отрицательным")
		return
	}

	removed, err := h.downloader.Cleanup(r.Context(), time.Duration(req.OlderThanHours)*time.Hour)
	if err != nil {
		h.logger.Error("Ошибка очистки завершённых загрузок", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка при очистке")
		return
	}

	writeJSON(w, http.StatusOK, cleanupResponse{Removed: removed})
}

// statsResponse — ответ GET /api/v1/stats.
type statsResponse struct {
	Downloads *model.DownloadStats       `json:"downloads"`
	Engines   []repository.EngineSummary `json:"engines"`
	Queue     model.QueueStatus          `json:"queue"`
}

// GetStats — реализация GET /api/v1/stats.
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	downloads, err := h.downloader.Stats(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения статистики", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка при получении статистики")
		return
	}

	engines, err := h.downloader.EngineSummaries(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения статистики движков", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка при получении статистики")
		return
	}
	if engines == nil {
		engines = []repository.EngineSummary{}
	}

	resp := statsResponse{Downloads: downloads, Engines: engines}
	if h.queue != nil {
		resp.Queue = h.queue.Status()
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeDownloadError маппит ошибки сервисного слоя в HTTP-ответы.
func (h *APIHandler) writeDownloadError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		apierrors.NotFound(w, "Загрузка не найдена")
	case errors.Is(err, service.ErrCapacityExceeded):
		apierrors.CapacityExceeded(w, err.Error())
	case errors.Is(err, engine.ErrNoCompatibleEngine):
		apierrors.NoCompatibleEngine(w, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		apierrors.InvalidState(w, err.Error())
	default:
		h.logger.Error(logMsg, slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}

// validateDownloadURL проверяет, что URL не пустой и имеет схему http(s).
func validateDownloadURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url обязателен")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("некорректный url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("поддерживаются только схемы http и https")
	}
	if u.Host == "" {
		return errors.New("url без хоста")
	}
	return nil
}
