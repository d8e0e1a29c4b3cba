package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hexday/updl/internal/config"
	"github.com/hexday/updl/internal/database"
	"github.com/hexday/updl/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool, контейнер останавливается в t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("updl_test"),
		postgres.WithUsername("updl"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("UPDL_DB_HOST", host)
	os.Setenv("UPDL_DB_PORT", port.Port())
	os.Setenv("UPDL_DB_NAME", "updl_test")
	os.Setenv("UPDL_DB_USER", "updl")
	os.Setenv("UPDL_DB_PASSWORD", "test-password")
	os.Setenv("UPDL_DB_SSLMODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// --- Тесты DownloadRepository ---

func TestDownloadRepositoryCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewDownloadRepository(pool)

	id := uuid.NewString()
	rec := &model.DownloadRecord{
		ID:         id,
		URL:        "https://example.com/video.mp4",
		Platform:   "direct",
		Quality:    "best",
		Status:     model.StatusInitializing,
		MaxRetries: 3,
		CreatedAt:  time.Now().UTC(),
	}

	// Save (insert)
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save() ошибка: %v", err)
	}

	// GetByID
	got, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.URL != rec.URL {
		t.Errorf("URL = %q, хотели %q", got.URL, rec.URL)
	}
	if got.Status != model.StatusInitializing {
		t.Errorf("Status = %q, хотели %q", got.Status, model.StatusInitializing)
	}

	// Save (upsert той же записи)
	started := time.Now().UTC()
	rec.Status = model.StatusDownloading
	rec.Engine = "yt-dlp"
	rec.ProgressPercent = 42.5
	rec.StartedAt = &started
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save() upsert ошибка: %v", err)
	}

	got2, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() после upsert ошибка: %v", err)
	}
	if got2.Status != model.StatusDownloading || got2.Engine != "yt-dlp" {
		t.Errorf("после upsert: Status=%q, Engine=%q", got2.Status, got2.Engine)
	}
	if got2.ProgressPercent != 42.5 {
		t.Errorf("ProgressPercent = %v, хотели 42.5", got2.ProgressPercent)
	}
	if got2.StartedAt == nil {
		t.Error("StartedAt не сохранён")
	}

	// ListByStatus
	downloading, err := repo.ListByStatus(ctx, model.StatusDownloading)
	if err != nil {
		t.Fatalf("ListByStatus() ошибка: %v", err)
	}
	if len(downloading) != 1 || downloading[0].ID != id {
		t.Errorf("ListByStatus(downloading) вернул %d записей", len(downloading))
	}
	paused, err := repo.ListByStatus(ctx, model.StatusPaused)
	if err != nil {
		t.Fatalf("ListByStatus() ошибка: %v", err)
	}
	if len(paused) != 0 {
		t.Errorf("ListByStatus(paused) вернул %d записей, хотели 0", len(paused))
	}

	// List: новые первыми
	second := &model.DownloadRecord{
		ID:        uuid.NewString(),
		URL:       "https://example.com/track.mp3",
		Platform:  "direct",
		Quality:   "best",
		Status:    model.StatusInitializing,
		CreatedAt: time.Now().UTC().Add(time.Second),
	}
	if err := repo.Save(ctx, second); err != nil {
		t.Fatalf("Save() второй записи: %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List() вернул %d записей, хотели 2", len(list))
	}
	if list[0].ID != second.ID {
		t.Errorf("List() должен возвращать новые записи первыми")
	}

	// Delete
	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := repo.GetByID(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("после Delete ожидали ErrNotFound, получили: %v", err)
	}
	if err := repo.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный Delete: ожидали ErrNotFound, получили: %v", err)
	}
}

func TestDownloadRepositoryPublishRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewDownloadRepository(pool)

	rec := &model.DownloadRecord{
		ID:        uuid.NewString(),
		URL:       "https://example.com/clip.mp4",
		Platform:  "direct",
		Quality:   "best",
		Status:    model.StatusCompleted,
		CreatedAt: time.Now().UTC(),
		Publish: model.PublishRef{
			FileID:       "file-abc",
			FileUniqueID: "uniq-abc",
			MessageID:    42,
			ShareLink:    "https://t.me/c/100/42",
		},
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save() ошибка: %v", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Publish != rec.Publish {
		t.Errorf("Publish = %+v, хотели %+v", got.Publish, rec.Publish)
	}
}

// --- Тесты StatsRepository ---

func TestStatsRepositorySummary(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	stats := NewStatsRepository(pool)

	downloadID := uuid.NewString()
	attempts := []struct {
		engine   string
		success  bool
		duration time.Duration
		errMsg   string
	}{
		{"yt-dlp", false, 2 * time.Second, "страница не распознана"},
		{"aria2", true, 4 * time.Second, ""},
		{"aria2", true, 6 * time.Second, ""},
	}
	for _, a := range attempts {
		if err := stats.RecordAttempt(ctx, downloadID, a.engine, a.success, a.duration, a.errMsg); err != nil {
			t.Fatalf("RecordAttempt(%s) ошибка: %v", a.engine, err)
		}
	}

	summary, err := stats.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() ошибка: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("Summary() вернул %d движков, хотели 2", len(summary))
	}

	// Сортировка по имени: aria2 раньше yt-dlp
	if summary[0].Engine != "aria2" || summary[1].Engine != "yt-dlp" {
		t.Errorf("порядок движков: %q, %q", summary[0].Engine, summary[1].Engine)
	}
	if summary[0].Attempts != 2 || summary[0].Successes != 2 {
		t.Errorf("aria2: attempts=%d, successes=%d", summary[0].Attempts, summary[0].Successes)
	}
	if summary[0].AvgDurationMS != 5000 {
		t.Errorf("aria2 avg_duration_ms = %v, хотели 5000", summary[0].AvgDurationMS)
	}
	if summary[1].Attempts != 1 || summary[1].Successes != 0 {
		t.Errorf("yt-dlp: attempts=%d, successes=%d", summary[1].Attempts, summary[1].Successes)
	}
}
