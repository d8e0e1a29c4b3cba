// Пакет config — загрузка и валидация конфигурации менеджера загрузок
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// EngineSettings — статическая конфигурация одного движка загрузки.
// Загружается один раз при старте, read-only во время работы.
type EngineSettings struct {
	// Имя движка (yt-dlp, aria2, http, wget, curl)
	Name string
	// Приоритет: меньше — раньше в цепочке fallback
	Priority int
	// Таймаут одной попытки загрузки
	Timeout time.Duration
	// Количество повторов внутри самого инструмента (--tries, --retry)
	MaxRetries int
	// Движок включён
	Enabled bool
}

// UploadStrategy — стратегия публикации, выбираемая по размеру файла.
// Бакеты отсортированы по возрастанию MaxFileSize; берётся первый подходящий.
type UploadStrategy struct {
	// Имя стратегии (для логов и метрик)
	Name string
	// Максимальный размер файла для этой стратегии (байт)
	MaxFileSize int64
	// Размер чанка при потоковой отправке
	ChunkSize int64
	// Таймаут одной попытки публикации
	Timeout time.Duration
}

// Config содержит все параметры конфигурации приложения.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// --- Каталоги ---

	// Каталог завершённых загрузок
	DownloadsDir string
	// Каталог прямых загрузок через API
	UploadsDir string

	// --- Оркестратор загрузок ---

	// Лимит одновременных загрузок
	MaxConcurrentDownloads int
	// Автоматически ставить завершённые загрузки в очередь публикации
	AutoPublish bool
	// Конфигурация движков, отсортированная по приоритету
	Engines []EngineSettings

	// --- Публикация в Telegram ---

	// Токен бота (пустой — публикация отключена)
	TelegramToken string
	// Идентификатор канала (@channel или -100…)
	TelegramChannelID string
	// Базовый URL Bot API (переопределяется в тестах)
	TelegramAPIBaseURL string

	// --- Очередь публикации ---

	// Максимум попыток публикации одного файла
	PublishMaxAttempts int
	// Пауза после успешной публикации
	PublishPauseOK time.Duration
	// Пауза после неудачной публикации
	PublishPauseFail time.Duration
	// Порог подряд идущих неудач до cooldown
	FailureThreshold int
	// Длительность cooldown после серии неудач
	FailureCooldown time.Duration
	// Стратегии публикации по размеру файла (возрастание MaxFileSize)
	UploadStrategies []UploadStrategy

	// --- Кэш определения платформы ---

	PlatformCacheSize int
	PlatformCacheTTL  time.Duration

	// --- JWT (опционально) ---

	// URL JWKS endpoint; пустой — аутентификация отключена
	JWKSURL string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// defaultEngines — конфигурация движков по умолчанию.
// Порядок приоритетов повторяет цепочку fallback: специализированные
// инструменты раньше, универсальные — позже.
func defaultEngines() []EngineSettings {
	return []EngineSettings{
		{Name: "yt-dlp", Priority: 1, Timeout: 30 * time.Minute, MaxRetries: 3, Enabled: true},
		{Name: "aria2", Priority: 2, Timeout: 15 * time.Minute, MaxRetries: 3, Enabled: true},
		{Name: "http", Priority: 3, Timeout: 15 * time.Minute, MaxRetries: 3, Enabled: true},
		{Name: "wget", Priority: 4, Timeout: 15 * time.Minute, MaxRetries: 3, Enabled: true},
		{Name: "curl", Priority: 5, Timeout: 15 * time.Minute, MaxRetries: 3, Enabled: true},
	}
}

// defaultUploadStrategies — бакеты публикации по умолчанию.
// Должны быть отсортированы по возрастанию MaxFileSize.
func defaultUploadStrategies() []UploadStrategy {
	return []UploadStrategy{
		{Name: "regular_small", MaxFileSize: 20 << 20, ChunkSize: 128 << 10, Timeout: 120 * time.Second},
		{Name: "regular_large", MaxFileSize: 50 << 20, ChunkSize: 256 << 10, Timeout: 180 * time.Second},
		{Name: "premium_large", MaxFileSize: 2 << 30, ChunkSize: 512 << 10, Timeout: 240 * time.Second},
		{Name: "premium_ultra", MaxFileSize: 4 << 30, ChunkSize: 1 << 20, Timeout: 300 * time.Second},
	}
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("UPDL_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("UPDL_PORT: %w", err)
	}

	logLevel := getEnvDefault("UPDL_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("UPDL_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("UPDL_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("UPDL_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("UPDL_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UPDL_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("UPDL_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UPDL_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("UPDL_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UPDL_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("UPDL_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UPDL_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("UPDL_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("UPDL_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("UPDL_DB_PORT: %w", err)
	}
	cfg.DBUser = getEnvDefault("UPDL_DB_USER", "updl")
	cfg.DBPassword = getEnvDefault("UPDL_DB_PASSWORD", "updl")
	cfg.DBName = getEnvDefault("UPDL_DB_NAME", "updl")
	cfg.DBSSLMode = getEnvDefault("UPDL_DB_SSLMODE", "disable")

	// --- Каталоги ---

	cfg.DownloadsDir = getEnvDefault("UPDL_DOWNLOADS_DIR", "./downloads")
	cfg.UploadsDir = getEnvDefault("UPDL_UPLOADS_DIR", "./uploads")

	// --- Оркестратор ---

	cfg.MaxConcurrentDownloads, err = getEnvInt("UPDL_MAX_CONCURRENT_DOWNLOADS", 4)
	if err != nil {
		return nil, fmt.Errorf("UPDL_MAX_CONCURRENT_DOWNLOADS: %w", err)
	}
	if cfg.MaxConcurrentDownloads < 1 {
		return nil, fmt.Errorf("UPDL_MAX_CONCURRENT_DOWNLOADS: значение должно быть >= 1")
	}

	cfg.AutoPublish, err = getEnvBool("UPDL_AUTO_PUBLISH", true)
	if err != nil {
		return nil, fmt.Errorf("UPDL_AUTO_PUBLISH: %w", err)
	}

	cfg.Engines = defaultEngines()
	if order := os.Getenv("UPDL_ENGINE_ORDER"); order != "" {
		cfg.Engines, err = applyEngineOrder(cfg.Engines, order)
		if err != nil {
			return nil, fmt.Errorf("UPDL_ENGINE_ORDER: %w", err)
		}
	}

	// --- Telegram ---

	cfg.TelegramToken = os.Getenv("UPDL_TELEGRAM_TOKEN")
	cfg.TelegramChannelID = os.Getenv("UPDL_TELEGRAM_CHANNEL_ID")
	cfg.TelegramAPIBaseURL = getEnvDefault("UPDL_TELEGRAM_API_URL", "https://api.telegram.org")

	// --- Очередь публикации ---

	cfg.PublishMaxAttempts, err = getEnvInt("UPDL_PUBLISH_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("UPDL_PUBLISH_MAX_ATTEMPTS: %w", err)
	}
	cfg.PublishPauseOK, err = getEnvDuration("UPDL_PUBLISH_PAUSE_OK", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UPDL_PUBLISH_PAUSE_OK: %w", err)
	}
	cfg.PublishPauseFail, err = getEnvDuration("UPDL_PUBLISH_PAUSE_FAIL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UPDL_PUBLISH_PAUSE_FAIL: %w", err)
	}
	cfg.FailureThreshold, err = getEnvInt("UPDL_PUBLISH_FAILURE_THRESHOLD", 10)
	if err != nil {
		return nil, fmt.Errorf("UPDL_PUBLISH_FAILURE_THRESHOLD: %w", err)
	}
	cfg.FailureCooldown, err = getEnvDuration("UPDL_PUBLISH_FAILURE_COOLDOWN", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UPDL_PUBLISH_FAILURE_COOLDOWN: %w", err)
	}
	cfg.UploadStrategies = defaultUploadStrategies()

	// --- Кэш платформ ---

	cfg.PlatformCacheSize, err = getEnvInt("UPDL_PLATFORM_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("UPDL_PLATFORM_CACHE_SIZE: %w", err)
	}
	cfg.PlatformCacheTTL, err = getEnvDuration("UPDL_PLATFORM_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("UPDL_PLATFORM_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWKSURL = os.Getenv("UPDL_JWKS_URL")
	cfg.JWTLeeway, err = getEnvDuration("UPDL_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UPDL_JWT_LEEWAY: %w", err)
	}

	return cfg, nil
}

// applyEngineOrder переупорядочивает движки по списку имён через запятую.
// Движки, не попавшие в список, отключаются.
// Пример: "aria2,http,curl" — только эти три, в этом порядке.
func applyEngineOrder(engines []EngineSettings, order string) ([]EngineSettings, error) {
	byName := make(map[string]EngineSettings, len(engines))
	for _, e := range engines {
		byName[e.Name] = e
	}

	names := strings.Split(order, ",")
	result := make([]EngineSettings, 0, len(names))
	for i, raw := range names {
		name := strings.TrimSpace(raw)
		e, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("неизвестный движок %q, допустимые: yt-dlp, aria2, http, wget, curl", name)
		}
		e.Priority = i + 1
		result = append(result, e)
	}
	return result, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
