// Пакет engine — движки загрузки файлов.
// Каждый движок оборачивает внешний инструмент (yt-dlp, aria2c, wget, curl)
// либо встроенный HTTP-клиент. Оркестратор перебирает совместимые движки
// в порядке приоритета до первого успеха.
package engine

import (
	"context"
	"errors"
)

// ErrNoCompatibleEngine возвращается, когда ни один доступный движок
// не может обработать URL.
var ErrNoCompatibleEngine = errors.New("нет совместимого движка для URL")

// Progress — снимок прогресса загрузки.
// DownloadedBytes и TotalBytes заполняются только движками,
// которые знают размеры (0 — неизвестно).
type Progress struct {
	// Percent — процент завершения, 0..100
	Percent float64
	// SpeedBPS — текущая скорость, байт/с (0 — неизвестна)
	SpeedBPS float64
	// DownloadedBytes — скачано байт
	DownloadedBytes int64
	// TotalBytes — полный размер файла
	TotalBytes int64
}

// ProgressFunc — callback прогресса. Вызывается не чаще ~1 раза в секунду.
type ProgressFunc func(Progress)

// Request — параметры одной попытки загрузки.
type Request struct {
	// URL — источник
	URL string
	// Dest — абсолютный путь целевого файла
	Dest string
	// Quality — запрошенное качество (best, 1080p, …); учитывает только yt-dlp
	Quality string
	// ExtractAudio — извлечь только аудиодорожку; учитывает только yt-dlp
	ExtractAudio bool
}

// Result — результат успешной загрузки.
type Result struct {
	// FilePath — фактический путь файла (может отличаться от Dest
	// по расширению при извлечении аудио)
	FilePath string
	// Size — размер файла в байтах
	Size int64
}

// Engine — один движок загрузки.
type Engine interface {
	// Name возвращает имя движка (yt-dlp, aria2, http, wget, curl).
	Name() string
	// Available проверяет наличие инструмента в системе.
	Available() bool
	// CanHandle определяет, может ли движок обработать URL.
	CanHandle(url string) bool
	// Resumable сообщает, докачивает ли движок частичный файл.
	Resumable() bool
	// Download выполняет загрузку. Блокирует до завершения,
	// отмены контекста или ошибки.
	Download(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error)
}
