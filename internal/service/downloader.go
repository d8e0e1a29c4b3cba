// Пакет service — бизнес-логика менеджера загрузок.
// Downloader — оркестратор: управляет жизненным циклом загрузок,
// перебирает движки по приоритету и соблюдает лимит параллельности.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hexday/updl/internal/config"
	"github.com/hexday/updl/internal/domain/model"
	"github.com/hexday/updl/internal/engine"
	"github.com/hexday/updl/internal/platform"
	"github.com/hexday/updl/internal/repository"
	"github.com/hexday/updl/internal/storage"
)

// Ошибки оркестратора.
var (
	// ErrCapacityExceeded — достигнут лимит одновременных загрузок.
	ErrCapacityExceeded = errors.New("достигнут лимит одновременных загрузок")
	// ErrInvalidState — операция недопустима в текущем статусе записи.
	ErrInvalidState = errors.New("операция недопустима в текущем статусе")
)

// defaultMaxRetries — лимит resume-попыток одной загрузки.
const defaultMaxRetries = 3

// Prometheus-метрики оркестратора.
var (
	downloadsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updl_downloads_started_total",
		Help: "Общее количество запущенных загрузок.",
	})
	downloadsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updl_downloads_completed_total",
		Help: "Общее количество успешно завершённых загрузок.",
	})
	downloadsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updl_downloads_failed_total",
		Help: "Общее количество загрузок, завершившихся ошибкой.",
	})
	downloadsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updl_downloads_active",
		Help: "Текущее количество активных загрузок.",
	})
	engineAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updl_engine_attempts_total",
		Help: "Попытки движков по результату.",
	}, []string{"engine", "result"})
	downloadDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updl_download_duration_seconds",
		Help:    "Длительность успешной загрузки в секундах.",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
	})
)

// Enqueuer — постановка готового файла в очередь публикации.
// Реализуется UploadQueue; интерфейс разрывает зависимость оркестратора
// от деталей очереди.
type Enqueuer interface {
	Enqueue(item model.UploadQueueItem) error
}

// EngineProvider — подбор движков для URL.
// Реализуется engine.Registry.
type EngineProvider interface {
	Compatible(url string) []engine.Engine
	Settings(name string) (config.EngineSettings, bool)
}

// StartRequest — параметры новой загрузки.
type StartRequest struct {
	URL          string
	Quality      string
	ExtractAudio bool
	Description  string
	Tags         string
}

// Downloader — оркестратор загрузок.
type Downloader struct {
	repo      repository.DownloadRepository
	stats     repository.StatsRepository
	registry  EngineProvider
	files     *storage.FileStore
	detector  *platform.Detector
	queue     Enqueuer
	maxActive int
	// autoPublish — ставить завершённые загрузки в очередь публикации
	autoPublish bool
	logger      *slog.Logger

	mu sync.Mutex
	// active — cancel-функции работающих worker-горутин по id записи
	active map[string]context.CancelFunc
	// baseCtx — родительский контекст worker'ов, задаётся в Start
	baseCtx context.Context
}

// NewDownloader создаёт оркестратор загрузок.
func NewDownloader(
	repo repository.DownloadRepository,
	stats repository.StatsRepository,
	registry EngineProvider,
	files *storage.FileStore,
	detector *platform.Detector,
	queue Enqueuer,
	maxActive int,
	autoPublish bool,
	logger *slog.Logger,
) *Downloader {
	return &Downloader{
		repo:        repo,
		stats:       stats,
		registry:    registry,
		files:       files,
		detector:    detector,
		queue:       queue,
		maxActive:   maxActive,
		autoPublish: autoPublish,
		logger:      logger.With(slog.String("component", "downloader")),
		active:      map[string]context.CancelFunc{},
		baseCtx:     context.Background(),
	}
}

// Start подготавливает оркестратор к работе: запоминает родительский
// контекст worker'ов и выполняет reconcile после рестарта — записи,
// оставшиеся в downloading, переводятся в paused (их можно возобновить).
func (d *Downloader) Start(ctx context.Context) error {
	d.mu.Lock()
	d.baseCtx = ctx
	d.mu.Unlock()

	stale, err := d.repo.ListByStatus(ctx, model.StatusDownloading)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	for _, rec := range stale {
		rec.Status = model.StatusPaused
		rec.SpeedBPS = 0
		rec.ETASeconds = 0
		if err := d.repo.Save(ctx, rec); err != nil {
			d.logger.Error("reconcile: ошибка сохранения записи",
				slog.String("id", rec.ID), slog.String("error", err.Error()))
			continue
		}
		d.logger.Info("reconcile: незавершённая загрузка переведена в paused",
			slog.String("id", rec.ID), slog.String("url", rec.URL))
	}
	return nil
}

// Stop отменяет все работающие worker-горутины.
func (d *Downloader) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, cancel := range d.active {
		cancel()
		delete(d.active, id)
	}
	downloadsActive.Set(0)
	d.logger.Info("оркестратор остановлен")
}

// Create регистрирует новую загрузку и запускает worker.
// Возвращает ErrCapacityExceeded при достижении лимита и
// engine.ErrNoCompatibleEngine, если URL нечем обработать.
func (d *Downloader) Create(ctx context.Context, req StartRequest) (*model.DownloadRecord, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: пустой URL", ErrInvalidState)
	}
	if len(d.registry.Compatible(url)) == 0 {
		return nil, engine.ErrNoCompatibleEngine
	}

	quality := req.Quality
	if quality == "" {
		quality = "best"
	}

	rec := &model.DownloadRecord{
		ID:           uuid.NewString(),
		URL:          url,
		Platform:     d.detector.Detect(url),
		Quality:      quality,
		ExtractAudio: req.ExtractAudio,
		Description:  req.Description,
		Tags:         req.Tags,
		Status:       model.StatusInitializing,
		MaxRetries:   defaultMaxRetries,
		CreatedAt:    time.Now().UTC(),
	}

	d.mu.Lock()
	if len(d.active) >= d.maxActive {
		d.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	workerCtx, cancel := context.WithCancel(d.baseCtx)
	d.active[rec.ID] = cancel
	downloadsActive.Set(float64(len(d.active)))
	d.mu.Unlock()

	if err := d.repo.Save(ctx, rec); err != nil {
		d.release(rec.ID)
		return nil, err
	}

	downloadsStartedTotal.Inc()
	d.logger.Info("загрузка создана",
		slog.String("id", rec.ID),
		slog.String("url", rec.URL),
		slog.String("platform", rec.Platform),
	)

	go d.worker(workerCtx, rec)
	return rec.Clone(), nil
}

// Pause приостанавливает загрузку. Идемпотентна: пауза уже
// приостановленной записи — no-op.
func (d *Downloader) Pause(ctx context.Context, id string) (*model.DownloadRecord, error) {
	rec, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case model.StatusPaused:
		return rec, nil
	case model.StatusDownloading:
	default:
		return nil, fmt.Errorf("%w: pause из статуса %s", ErrInvalidState, rec.Status)
	}

	// Сначала останавливаем worker, чтобы он не перезаписал статус
	d.release(id)

	if err := rec.Transition(model.StatusPaused); err != nil {
		return nil, err
	}
	rec.SpeedBPS = 0
	rec.ETASeconds = 0
	if err := d.repo.Save(ctx, rec); err != nil {
		return nil, err
	}

	d.logger.Info("загрузка приостановлена", slog.String("id", id))
	return rec.Clone(), nil
}

// Resume возобновляет приостановленную загрузку: повторный проход
// по всей цепочке движков с первого. Увеличивает retry_count и
// повторно проверяет лимит параллельности.
func (d *Downloader) Resume(ctx context.Context, id string) (*model.DownloadRecord, error) {
	rec, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusPaused {
		return nil, fmt.Errorf("%w: resume из статуса %s", ErrInvalidState, rec.Status)
	}

	d.mu.Lock()
	if len(d.active) >= d.maxActive {
		d.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	workerCtx, cancel := context.WithCancel(d.baseCtx)
	d.active[rec.ID] = cancel
	downloadsActive.Set(float64(len(d.active)))
	d.mu.Unlock()

	rec.RetryCount++
	if err := d.repo.Save(ctx, rec); err != nil {
		d.release(rec.ID)
		return nil, err
	}

	d.logger.Info("загрузка возобновлена",
		slog.String("id", id),
		slog.Int("retry_count", rec.RetryCount),
	)

	go d.worker(workerCtx, rec)
	return rec.Clone(), nil
}

// Cancel отменяет загрузку: останавливает worker, удаляет частичный
// файл с диска и запись из базы.
func (d *Downloader) Cancel(ctx context.Context, id string) error {
	rec, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == model.StatusCompleted {
		// Завершённые загрузки удаляет cleanup, не cancel
		return fmt.Errorf("%w: cancel завершённой загрузки", ErrInvalidState)
	}

	d.release(id)

	if err := d.files.RemoveArtifacts(rec.FilePath); err != nil {
		d.logger.Error("ошибка удаления файла при отмене",
			slog.String("id", id), slog.String("error", err.Error()))
	}

	if err := d.repo.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	d.logger.Info("загрузка отменена", slog.String("id", id))
	return nil
}

// Get возвращает запись по id.
func (d *Downloader) Get(ctx context.Context, id string) (*model.DownloadRecord, error) {
	return d.repo.GetByID(ctx, id)
}

// List возвращает все записи, новые первыми.
func (d *Downloader) List(ctx context.Context) ([]*model.DownloadRecord, error) {
	return d.repo.List(ctx)
}

// Stats возвращает агрегированную статистику загрузок.
func (d *Downloader) Stats(ctx context.Context) (*model.DownloadStats, error) {
	records, err := d.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.DownloadStats{Total: len(records)}
	for _, rec := range records {
		switch rec.Status {
		case model.StatusDownloading:
			stats.Downloading++
			stats.TotalSpeed += rec.SpeedBPS
		case model.StatusCompleted:
			stats.Completed++
		case model.StatusPaused:
			stats.Paused++
		case model.StatusError:
			stats.Failed++
		}
	}
	return stats, nil
}

// EngineSummaries возвращает статистику попыток движков.
func (d *Downloader) EngineSummaries(ctx context.Context) ([]repository.EngineSummary, error) {
	return d.stats.Summary(ctx)
}

// Cleanup удаляет записи в конечных статусах, завершившиеся раньше
// cutoff. Для записей error удаляется и частичный файл.
// Возвращает количество удалённых записей.
func (d *Downloader) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	records, err := d.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	removed := 0
	for _, rec := range records {
		if !rec.IsTerminal() {
			continue
		}
		finished := rec.CreatedAt
		if rec.FinishedAt != nil {
			finished = *rec.FinishedAt
		}
		if finished.After(cutoff) {
			continue
		}

		if rec.Status == model.StatusError {
			if err := d.files.RemoveArtifacts(rec.FilePath); err != nil {
				d.logger.Error("cleanup: ошибка удаления файла",
					slog.String("id", rec.ID), slog.String("error", err.Error()))
			}
		}
		if err := d.repo.Delete(ctx, rec.ID); err != nil {
			d.logger.Error("cleanup: ошибка удаления записи",
				slog.String("id", rec.ID), slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	d.logger.Info("cleanup завершён", slog.Int("removed", removed))
	return removed, nil
}

// release снимает регистрацию worker'а и отменяет его контекст.
func (d *Downloader) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.active[id]; ok {
		cancel()
		delete(d.active, id)
	}
	downloadsActive.Set(float64(len(d.active)))
}

// worker выполняет одну загрузку: перебор совместимых движков
// по приоритету до первого успеха.
func (d *Downloader) worker(ctx context.Context, rec *model.DownloadRecord) {
	defer d.release(rec.ID)

	log := d.logger.With(slog.String("id", rec.ID))

	if err := rec.Transition(model.StatusDownloading); err != nil {
		log.Error("недопустимый переход в downloading", slog.String("error", err.Error()))
		return
	}
	now := time.Now().UTC()
	if rec.StartedAt == nil {
		rec.StartedAt = &now
	}

	// Имя и путь файла выбираются один раз и переживают resume
	if rec.FilePath == "" {
		rec.FileName = storage.ExtractFilename(rec.URL, "")
		rec.FilePath = d.files.UniquePath(rec.FileName)
		rec.FileKind = platform.FileKind(rec.FileName)
	}
	if err := d.repo.Save(ctx, rec); err != nil {
		log.Error("ошибка сохранения записи", slog.String("error", err.Error()))
		return
	}

	var lastErr error
	for _, eng := range d.registry.Compatible(rec.URL) {
		if ctx.Err() != nil {
			// Пауза или отмена: статус уже обновлён контроллером
			return
		}

		settings, _ := d.registry.Settings(eng.Name())
		rec.Engine = eng.Name()
		if err := d.repo.Save(ctx, rec); err != nil {
			log.Error("ошибка сохранения записи", slog.String("error", err.Error()))
		}

		log.Info("попытка загрузки движком",
			slog.String("engine", eng.Name()),
			slog.String("url", rec.URL),
		)

		attemptStart := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, settings.Timeout)
		result, err := eng.Download(attemptCtx, engine.Request{
			URL:          rec.URL,
			Dest:         rec.FilePath,
			Quality:      rec.Quality,
			ExtractAudio: rec.ExtractAudio,
		}, d.progressFunc(ctx, rec))
		cancel()
		duration := time.Since(attemptStart)

		if err == nil {
			engineAttemptsTotal.WithLabelValues(eng.Name(), "success").Inc()
			d.recordAttempt(rec.ID, eng.Name(), true, duration, "")
			d.complete(rec, result, duration, log)
			return
		}

		if ctx.Err() != nil {
			// Прерывание pause/cancel не считается неудачей движка
			return
		}

		engineAttemptsTotal.WithLabelValues(eng.Name(), "failure").Inc()
		d.recordAttempt(rec.ID, eng.Name(), false, duration, err.Error())
		lastErr = err

		// Все инструменты работают в режиме докачки: остатки неудачной
		// попытки склеились бы с данными следующего движка
		if rmErr := d.files.RemoveArtifacts(rec.FilePath); rmErr != nil {
			log.Warn("не удалось удалить частичный файл",
				slog.String("error", rmErr.Error()))
		}

		log.Warn("движок не справился, переход к следующему",
			slog.String("engine", eng.Name()),
			slog.String("error", err.Error()),
		)
	}

	// Все движки исчерпаны
	downloadsFailedTotal.Inc()
	rec.Status = model.StatusError
	if lastErr != nil {
		rec.ErrorMessage = lastErr.Error()
	} else {
		rec.ErrorMessage = "нет совместимых движков"
	}
	finished := time.Now().UTC()
	rec.FinishedAt = &finished
	rec.SpeedBPS = 0
	rec.ETASeconds = 0
	if err := d.repo.Save(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("ошибка сохранения записи", slog.String("error", err.Error()))
	}
	log.Error("загрузка не удалась: все движки исчерпаны",
		slog.String("error", rec.ErrorMessage))
}

// complete переводит запись в completed и ставит файл в очередь публикации.
func (d *Downloader) complete(rec *model.DownloadRecord, result *engine.Result, duration time.Duration, log *slog.Logger) {
	downloadsCompletedTotal.Inc()
	downloadDurationSeconds.Observe(duration.Seconds())

	rec.Status = model.StatusCompleted
	rec.FilePath = result.FilePath
	rec.FileKind = platform.FileKind(result.FilePath)
	rec.FileSize = result.Size
	rec.ProgressPercent = 100
	rec.SpeedBPS = 0
	rec.ETASeconds = 0
	finished := time.Now().UTC()
	rec.FinishedAt = &finished

	if err := d.repo.Save(context.Background(), rec); err != nil {
		log.Error("ошибка сохранения записи", slog.String("error", err.Error()))
	}

	log.Info("загрузка завершена",
		slog.String("engine", rec.Engine),
		slog.Int64("size", rec.FileSize),
		slog.Duration("duration", duration),
	)

	if d.autoPublish && d.queue != nil {
		item := model.UploadQueueItem{
			FilePath:    rec.FilePath,
			ID:          rec.ID,
			SourceType:  model.SourceDownload,
			Description: rec.Description,
			Tags:        rec.Tags,
			CreatedAt:   time.Now().UTC(),
		}
		if err := d.queue.Enqueue(item); err != nil {
			log.Warn("не удалось поставить файл в очередь публикации",
				slog.String("error", err.Error()))
		}
	}
}

// RegisterDirectUpload регистрирует файл, загруженный напрямую через API:
// создаёт завершённую запись и ставит файл в очередь публикации.
// Запись нужна, чтобы ссылки публикации сохранялись единообразно
// с обычными загрузками.
func (d *Downloader) RegisterDirectUpload(ctx context.Context, path, name string, size int64, description, tags string, priority int) (*model.DownloadRecord, error) {
	now := time.Now().UTC()
	rec := &model.DownloadRecord{
		ID:          uuid.NewString(),
		URL:         "upload://" + name,
		Platform:    platform.PlatformDirect,
		Quality:     "best",
		Description: description,
		Tags:        tags,
		Status:      model.StatusCompleted,
		FilePath:    path,
		FileName:    name,
		FileSize:    size,
		FileKind:    platform.FileKind(name),
		CreatedAt:   now,
		StartedAt:   &now,
		FinishedAt:  &now,
	}
	rec.ProgressPercent = 100

	if err := d.repo.Save(ctx, rec); err != nil {
		return nil, err
	}

	d.logger.Info("прямая загрузка зарегистрирована",
		slog.String("id", rec.ID),
		slog.String("file", name),
		slog.Int64("size", size),
	)

	if d.queue != nil {
		item := model.UploadQueueItem{
			FilePath:    path,
			ID:          rec.ID,
			SourceType:  model.SourceUpload,
			Description: description,
			Tags:        tags,
			Priority:    priority,
			CreatedAt:   now,
		}
		if err := d.queue.Enqueue(item); err != nil {
			if delErr := d.repo.Delete(ctx, rec.ID); delErr != nil {
				d.logger.Error("ошибка отката записи прямой загрузки",
					slog.String("id", rec.ID), slog.String("error", delErr.Error()))
			}
			return nil, fmt.Errorf("постановка в очередь публикации: %w", err)
		}
	}

	return rec.Clone(), nil
}

// progressFunc возвращает callback прогресса для движка.
// ETA считается только при известных скорости и полном размере.
// После отмены контекста worker'а callback перестаёт писать в базу:
// инструмент доигрывает буферизованный вывод уже после того, как
// pause/cancel записали свой статус.
func (d *Downloader) progressFunc(ctx context.Context, rec *model.DownloadRecord) engine.ProgressFunc {
	return func(p engine.Progress) {
		if ctx.Err() != nil {
			return
		}
		rec.ProgressPercent = p.Percent
		rec.SpeedBPS = p.SpeedBPS
		rec.ETASeconds = 0
		if p.SpeedBPS > 0 && p.TotalBytes > 0 && p.DownloadedBytes <= p.TotalBytes {
			rec.ETASeconds = float64(p.TotalBytes-p.DownloadedBytes) / p.SpeedBPS
		}
		if err := d.repo.Save(ctx, rec); err != nil {
			d.logger.Debug("ошибка сохранения прогресса",
				slog.String("id", rec.ID), slog.String("error", err.Error()))
		}
	}
}

func (d *Downloader) recordAttempt(id, engineName string, success bool, duration time.Duration, errMsg string) {
	if d.stats == nil {
		return
	}
	if err := d.stats.RecordAttempt(context.Background(), id, engineName, success, duration, errMsg); err != nil {
		d.logger.Debug("ошибка записи статистики движка", slog.String("error", err.Error()))
	}
}
