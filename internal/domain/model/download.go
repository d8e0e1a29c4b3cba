// Пакет model — доменные модели менеджера загрузок.
package model

import (
	"time"
)

// Status — статус жизненного цикла загрузки.
type Status string

const (
	// StatusInitializing — запись создана, worker ещё не стартовал
	StatusInitializing Status = "initializing"
	// StatusDownloading — идёт загрузка одним из движков
	StatusDownloading Status = "downloading"
	// StatusPaused — загрузка приостановлена, возможен resume
	StatusPaused Status = "paused"
	// StatusCompleted — файл скачан полностью
	StatusCompleted Status = "completed"
	// StatusError — все движки исчерпаны, загрузка не удалась
	StatusError Status = "error"
	// StatusCancelled — загрузка отменена пользователем
	StatusCancelled Status = "cancelled"
)

// PublishRef — ссылки на опубликованный файл в канале.
type PublishRef struct {
	// FileID — идентификатор файла в Bot API
	FileID string `json:"file_id,omitempty"`
	// FileUniqueID — стабильный идентификатор файла
	FileUniqueID string `json:"file_unique_id,omitempty"`
	// MessageID — идентификатор сообщения в канале
	MessageID int64 `json:"message_id,omitempty"`
	// ShareLink — ссылка для шаринга
	ShareLink string `json:"share_link,omitempty"`
}

// IsZero возвращает true, если публикация ещё не состоялась.
func (r PublishRef) IsZero() bool {
	return r.FileID == "" && r.MessageID == 0
}

// DownloadRecord — одна запись загрузки. Поля запроса (URL, Platform,
// Quality, ExtractAudio) неизменяемы после создания. Volatile-поля
// (Progress, Speed, ETA) обновляются только в статусе downloading.
type DownloadRecord struct {
	// ID — уникальный идентификатор, генерируется при создании
	ID string `json:"id"`
	// URL — исходный URL запроса
	URL string `json:"url"`
	// Platform — определённая платформа или "direct"
	Platform string `json:"platform"`
	// Quality — запрошенное качество (best, 1080p, …)
	Quality string `json:"quality"`
	// ExtractAudio — извлекать только аудиодорожку
	ExtractAudio bool `json:"extract_audio"`
	// Description и Tags — пользовательские метаданные для публикации
	Description string `json:"description,omitempty"`
	Tags        string `json:"tags,omitempty"`

	// Status — текущий статус (см. матрицу переходов в status.go)
	Status Status `json:"status"`
	// Engine — имя текущего/последнего движка
	Engine string `json:"engine,omitempty"`

	// FilePath, FileName, FileSize заполняются при первой попытке
	FilePath string `json:"file_path,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	// FileKind — video/audio/image/document
	FileKind string `json:"file_kind,omitempty"`

	// Volatile-поля прогресса
	ProgressPercent float64 `json:"progress_percent"`
	SpeedBPS        float64 `json:"speed_bps"`
	// ETASeconds — оценка оставшегося времени; 0 = не определена
	ETASeconds float64 `json:"eta_seconds,omitempty"`

	// RetryCount — количество resume-попыток (не путать с fallback по движкам)
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// ErrorMessage устанавливается только при переходе в error
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Publish — ссылки на публикацию; пишет только upload worker
	Publish PublishRef `json:"publish,omitempty"`
}

// Clone возвращает копию записи для безопасной выдачи наружу.
func (d *DownloadRecord) Clone() *DownloadRecord {
	copied := *d
	return &copied
}

// IsTerminal возвращает true для конечных статусов.
func (d *DownloadRecord) IsTerminal() bool {
	switch d.Status {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// QueueSourceType — источник элемента очереди публикации.
type QueueSourceType string

const (
	// SourceDownload — файл пришёл из завершённой загрузки
	SourceDownload QueueSourceType = "download"
	// SourceUpload — файл загружен напрямую через API
	SourceUpload QueueSourceType = "upload"
)

// UploadQueueItem — элемент очереди публикации. Эфемерный: живёт только
// в памяти, durable-источником истины остаётся DownloadRecord.
type UploadQueueItem struct {
	// FilePath — абсолютный путь к файлу на диске
	FilePath string
	// ID — идентификатор владеющей записи
	ID string
	// SourceType — download или upload
	SourceType QueueSourceType
	// Description и Tags попадают в caption публикации
	Description string
	Tags        string
	// Priority — выше = раньше; внутри приоритета порядок FIFO
	Priority int
	// CreatedAt — момент постановки в очередь
	CreatedAt time.Time
}

// DownloadStats — агрегированная статистика для dashboard.
type DownloadStats struct {
	Total       int     `json:"total"`
	Downloading int     `json:"downloading"`
	Completed   int     `json:"completed"`
	Paused      int     `json:"paused"`
	Failed      int     `json:"failed"`
	TotalSpeed  float64 `json:"total_speed_bps"`
}

// QueueStatus — состояние очереди публикации для dashboard.
type QueueStatus struct {
	QueueLength      int  `json:"queue_length"`
	ProcessingCount  int  `json:"processing_count"`
	QuarantinedCount int  `json:"quarantined_count"`
	WorkerRunning    bool `json:"worker_running"`
}
