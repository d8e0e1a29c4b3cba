// uploads.go — обработчик POST /api/v1/uploads: прямая загрузка файла
// через multipart/form-data с постановкой в очередь публикации.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/hexday/updl/internal/api/errors"
	"github.com/hexday/updl/internal/platform"
	"github.com/hexday/updl/internal/service"
)

// maxUploadSize — лимит размера прямой загрузки (4 GiB, потолок Bot API).
const maxUploadSize = 4 << 30

// UploadFile — реализация POST /api/v1/uploads.
// Поля формы: file (обязательное), description, tags, priority.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	// Форма стримится на диск, в памяти — только маленькие поля
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.FileTooLarge(w, "Файл превышает лимит 4 GiB")
			return
		}
		apierrors.ValidationError(w, "Некорректная multipart-форма")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Отсутствует поле file")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		apierrors.ValidationError(w, "Не задано имя файла")
		return
	}

	priority := defaultUploadPriority(header.Filename)
	if raw := r.FormValue("priority"); raw != "" {
		priority, err = strconv.Atoi(raw)
		if err != nil {
			apierrors.ValidationError(w, "priority должен быть целым числом")
			return
		}
	}

	path, size, err := h.files.SaveUpload(file, header.Filename)
	if err != nil {
		h.logger.Error("Ошибка сохранения прямой загрузки",
			slog.String("file", header.Filename),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при сохранении файла")
		return
	}

	rec, err := h.downloader.RegisterDirectUpload(
		r.Context(), path, header.Filename, size,
		r.FormValue("description"), r.FormValue("tags"), priority,
	)
	if err != nil {
		// Файл уже на диске, но в очередь не попал — убираем
		_ = h.files.Remove(path)
		switch {
		case errors.Is(err, service.ErrQueueDuplicate),
			errors.Is(err, service.ErrQueueProcessing),
			errors.Is(err, service.ErrQueueQuarantined):
			apierrors.InvalidState(w, err.Error())
		default:
			h.logger.Error("Ошибка регистрации прямой загрузки",
				slog.String("file", header.Filename),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Внутренняя ошибка при регистрации файла")
		}
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// defaultUploadPriority — приоритет публикации, если клиент его не задал:
// видео и аудио — 2, остальные файлы — 1.
func defaultUploadPriority(filename string) int {
	switch platform.FileKind(filename) {
	case "video", "audio":
		return 2
	}
	return 1
}
