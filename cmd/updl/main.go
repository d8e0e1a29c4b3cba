// Точка входа updl — менеджера загрузок и публикации медиафайлов.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// собирает реестр движков и очередь публикации, запускает оркестратор
// загрузок и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hexday/updl/internal/api/handlers"
	"github.com/hexday/updl/internal/api/middleware"
	"github.com/hexday/updl/internal/config"
	"github.com/hexday/updl/internal/database"
	"github.com/hexday/updl/internal/engine"
	"github.com/hexday/updl/internal/platform"
	"github.com/hexday/updl/internal/publish"
	"github.com/hexday/updl/internal/repository"
	"github.com/hexday/updl/internal/server"
	"github.com/hexday/updl/internal/service"
	"github.com/hexday/updl/internal/storage"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("updl запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5. Файловое хранилище
	files, err := storage.New(cfg.DownloadsDir, cfg.UploadsDir)
	if err != nil {
		logger.Error("Ошибка создания каталогов хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Определение платформы с LRU-кэшем
	detector := platform.NewDetector(cfg.PlatformCacheSize, cfg.PlatformCacheTTL)

	// 7. Реестр движков загрузки
	registry := engine.NewRegistry(cfg.Engines, detector.Detect, logger)

	// 8. Repositories
	downloadRepo := repository.NewDownloadRepository(pool)
	statsRepo := repository.NewStatsRepository(pool)

	// 9. Очередь публикации (только при заданном токене бота)
	var queue *service.UploadQueue
	if cfg.TelegramToken != "" {
		publisher := publish.NewTelegram(cfg, logger)
		queue = service.NewUploadQueue(publisher, downloadRepo, files, service.QueueConfig{
			MaxAttempts:      cfg.PublishMaxAttempts,
			PauseOK:          cfg.PublishPauseOK,
			PauseFail:        cfg.PublishPauseFail,
			FailureThreshold: cfg.FailureThreshold,
			FailureCooldown:  cfg.FailureCooldown,
		}, logger)
		queue.Start(ctx)
		defer queue.Stop()
	} else {
		logger.Warn("UPDL_TELEGRAM_TOKEN не задан, публикация отключена")
	}

	// 10. Оркестратор загрузок
	var enqueuer service.Enqueuer
	if queue != nil {
		enqueuer = queue
	}
	downloader := service.NewDownloader(
		downloadRepo, statsRepo, registry, files, detector, enqueuer,
		cfg.MaxConcurrentDownloads, cfg.AutoPublish, logger,
	)
	if err := downloader.Start(ctx); err != nil {
		logger.Error("Ошибка запуска оркестратора", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer downloader.Stop()

	// 11. JWT middleware (no-op, если UPDL_JWKS_URL не задан)
	auth, err := middleware.NewJWTAuth(cfg.JWKSURL, cfg.JWTLeeway, logger)
	if err != nil {
		logger.Error("Ошибка инициализации JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 12. Handlers и HTTP-сервер
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), files)
	apiHandler := handlers.NewAPIHandler(healthHandler, downloader, queue, registry, files, logger)
	srv := server.New(cfg, logger, apiHandler, auth)

	// 13. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("updl остановлен")
}
