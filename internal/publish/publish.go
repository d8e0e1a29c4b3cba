// Пакет publish — публикация файлов в Telegram-канал через Bot API.
// Клиент выполняет одну попытку отправки; политика повторов живёт
// в очереди публикации (internal/service).
package publish

import (
	"context"
	"fmt"
	"time"
)

// Request — параметры одной попытки публикации.
type Request struct {
	// FilePath — абсолютный путь файла
	FilePath string
	// Caption — подпись (MarkdownV2, уже экранированная)
	Caption string
	// Kind — тип файла: video, audio, image, document
	Kind string
	// Size — размер файла в байтах
	Size int64
	// Plain — отправить подпись без разметки (fallback после
	// ошибки разбора entities)
	Plain bool
}

// Ref — ссылки на опубликованный файл.
type Ref struct {
	// FileID — идентификатор файла в Bot API
	FileID string
	// FileUniqueID — стабильный идентификатор файла
	FileUniqueID string
	// MessageID — идентификатор сообщения в канале
	MessageID int64
	// ShareLink — ссылка для шаринга через бота
	ShareLink string
}

// Publisher — отправка файла в канал.
type Publisher interface {
	Publish(ctx context.Context, req Request) (*Ref, error)
}

// --- Таксономия ошибок публикации ---

// RateLimitedError — Bot API вернул 429; RetryAfter — предписанная пауза.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("превышен лимит запросов, повтор через %s", e.RetryAfter)
}

// TimeoutError — попытка не уложилась в таймаут стратегии.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("таймаут публикации: %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// NetworkError — сетевая ошибка при обращении к Bot API.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("сетевая ошибка публикации: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// MalformedError — Bot API отклонил разметку подписи
// ("can't parse entities"). Показание к plain-fallback.
type MalformedError struct {
	Description string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("ошибка разбора подписи: %s", e.Description)
}
