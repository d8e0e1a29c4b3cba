// engines.go — обработчик GET /api/v1/engines: зарегистрированные
// движки в порядке приоритета с их конфигурацией.
package handlers

import (
	"net/http"
	"time"
)

// engineInfo — описание одного движка в ответе API.
type engineInfo struct {
	Name       string `json:"name"`
	Priority   int    `json:"priority"`
	Available  bool   `json:"available"`
	Resumable  bool   `json:"resumable"`
	Timeout    string `json:"timeout"`
	MaxRetries int    `json:"max_retries"`
}

// engineListResponse — ответ GET /api/v1/engines.
type engineListResponse struct {
	Engines []engineInfo `json:"engines"`
}

// ListEngines — реализация GET /api/v1/engines.
func (h *APIHandler) ListEngines(w http.ResponseWriter, _ *http.Request) {
	resp := engineListResponse{Engines: []engineInfo{}}

	for _, e := range h.registry.All() {
		info := engineInfo{
			Name:      e.Name(),
			Available: e.Available(),
			Resumable: e.Resumable(),
		}
		if s, ok := h.registry.Settings(e.Name()); ok {
			info.Priority = s.Priority
			info.Timeout = s.Timeout.Round(time.Second).String()
			info.MaxRetries = s.MaxRetries
		}
		resp.Engines = append(resp.Engines, info)
	}

	writeJSON(w, http.StatusOK, resp)
}
