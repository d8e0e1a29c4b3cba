// uploadqueue.go — очередь публикации файлов в Telegram-канал.
//
// Очередь эфемерна: живёт в памяти, durable-источником истины остаётся
// таблица downloads. Один worker обрабатывает элементы строго
// последовательно: сначала более высокий приоритет, внутри приоритета —
// FIFO. Неудачные элементы после исчерпания попыток уходят в карантин.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hexday/updl/internal/domain/model"
	"github.com/hexday/updl/internal/platform"
	"github.com/hexday/updl/internal/publish"
	"github.com/hexday/updl/internal/repository"
	"github.com/hexday/updl/internal/storage"
)

// Ошибки постановки в очередь.
var (
	// ErrQueueFileMissing — файл отсутствует на диске.
	ErrQueueFileMissing = errors.New("файл не найден на диске")
	// ErrQueueDuplicate — файл уже стоит в очереди.
	ErrQueueDuplicate = errors.New("файл уже в очереди публикации")
	// ErrQueueProcessing — файл сейчас публикуется.
	ErrQueueProcessing = errors.New("файл сейчас публикуется")
	// ErrQueueQuarantined — файл в карантине после неудачных попыток.
	ErrQueueQuarantined = errors.New("файл в карантине публикации")
)

// Prometheus-метрики очереди публикации.
var (
	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updl_upload_queue_length",
		Help: "Текущая длина очереди публикации.",
	})
	publishSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updl_publish_success_total",
		Help: "Общее количество успешных публикаций.",
	})
	publishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updl_publish_failures_total",
		Help: "Общее количество неудачных попыток публикации.",
	})
	publishQuarantinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updl_publish_quarantined_total",
		Help: "Общее количество файлов, ушедших в карантин.",
	})
)

// QueueConfig — параметры очереди публикации.
type QueueConfig struct {
	// MaxAttempts — максимум попыток публикации одного файла
	MaxAttempts int
	// PauseOK — пауза после успешной публикации
	PauseOK time.Duration
	// PauseFail — пауза после ухода файла в карантин
	PauseFail time.Duration
	// FailureThreshold — порог подряд идущих неудач до cooldown
	FailureThreshold int
	// FailureCooldown — длительность cooldown после серии неудач
	FailureCooldown time.Duration
}

// quarantined — элемент карантина с причиной.
type quarantined struct {
	item model.UploadQueueItem
	err  string
}

// UploadQueue — worker публикации файлов.
type UploadQueue struct {
	publisher publish.Publisher
	repo      repository.DownloadRepository
	files     *storage.FileStore
	cfg       QueueConfig
	logger    *slog.Logger

	mu sync.Mutex
	// items — ожидающие элементы: приоритет по убыванию, внутри — FIFO
	items []model.UploadQueueItem
	// processing — пути файлов, публикуемых прямо сейчас
	processing map[string]bool
	// failed — карантин по пути файла
	failed map[string]quarantined
	// consecutiveFailures — подряд идущие неудачи для circuit breaker
	consecutiveFailures int
	running             bool
	cancel              context.CancelFunc
	// wake будит worker при постановке нового элемента
	wake chan struct{}

	// sleep подменяется в тестах
	sleep func(ctx context.Context, d time.Duration)
}

// NewUploadQueue создаёт очередь публикации.
func NewUploadQueue(
	publisher publish.Publisher,
	repo repository.DownloadRepository,
	files *storage.FileStore,
	cfg QueueConfig,
	logger *slog.Logger,
) *UploadQueue {
	return &UploadQueue{
		publisher:  publisher,
		repo:       repo,
		files:      files,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "upload-queue")),
		processing: map[string]bool{},
		failed:     map[string]quarantined{},
		wake:       make(chan struct{}, 1),
		sleep:      ctxSleep,
	}
}

// ctxSleep — time.Sleep с прерыванием по контексту.
func ctxSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Enqueue ставит файл в очередь публикации.
// Отклоняет отсутствующие на диске, уже стоящие в очереди,
// публикуемые сейчас и карантинные файлы.
func (q *UploadQueue) Enqueue(item model.UploadQueueItem) error {
	if !q.files.Exists(item.FilePath) {
		return ErrQueueFileMissing
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processing[item.FilePath] {
		return ErrQueueProcessing
	}
	if _, ok := q.failed[item.FilePath]; ok {
		return ErrQueueQuarantined
	}
	for _, existing := range q.items {
		if existing.FilePath == item.FilePath {
			return ErrQueueDuplicate
		}
	}

	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	// Вставка с сохранением порядка: после всех элементов с приоритетом
	// не ниже нашего (стабильный FIFO внутри приоритета)
	pos := len(q.items)
	for i, existing := range q.items {
		if existing.Priority < item.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, model.UploadQueueItem{})
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = item
	queueLength.Set(float64(len(q.items)))

	q.logger.Info("файл поставлен в очередь публикации",
		slog.String("file", item.FilePath),
		slog.Int("priority", item.Priority),
		slog.Int("queue_length", len(q.items)),
	)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start запускает worker-горутину очереди.
func (q *UploadQueue) Start(ctx context.Context) {
	qCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.running = true
	q.mu.Unlock()

	go q.run(qCtx)
	q.logger.Info("worker публикации запущен")
}

// Stop останавливает worker.
func (q *UploadQueue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.running = false
	q.mu.Unlock()
	q.logger.Info("worker публикации остановлен")
}

// run — основной цикл worker'а.
func (q *UploadQueue) run(ctx context.Context) {
	for {
		item, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.process(ctx, item)

		if ctx.Err() != nil {
			return
		}
	}
}

// pop извлекает первый элемент очереди и помечает его processing.
func (q *UploadQueue) pop() (model.UploadQueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.UploadQueueItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.processing[item.FilePath] = true
	queueLength.Set(float64(len(q.items)))
	return item, true
}

// process публикует один файл с повторами и классификацией ошибок.
//
// Политика повторов:
//   - RateLimited: пауза retry_after, попытка не тратится заново сверх лимита
//   - Timeout: пауза 10s * номер попытки
//   - Network: пауза 15s * номер попытки
//   - Malformed: один fallback с plain-подписью, затем карантин
//   - прочие ошибки: сразу карантин
func (q *UploadQueue) process(ctx context.Context, item model.UploadQueueItem) {
	defer func() {
		q.mu.Lock()
		delete(q.processing, item.FilePath)
		q.mu.Unlock()
	}()

	log := q.logger.With(slog.String("file", item.FilePath))

	// Файл мог исчезнуть после постановки в очередь (например, загрузка
	// отменена) — это не ошибка, элемент просто выбывает
	size, err := q.files.Size(item.FilePath)
	if err != nil {
		log.Warn("файл пропал перед публикацией, элемент пропущен",
			slog.String("error", err.Error()))
		return
	}
	kind := platform.FileKind(item.FilePath)

	req := publish.Request{
		FilePath: item.FilePath,
		Caption:  publish.BuildCaption(item.FilePath, item.Description, item.Tags, kind, size, time.Now()),
		Kind:     kind,
		Size:     size,
	}

	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		ref, err := q.publisher.Publish(ctx, req)
		if err == nil {
			q.succeed(ctx, item, ref, log)
			q.sleep(ctx, q.cfg.PauseOK)
			return
		}

		lastErr = err
		publishFailuresTotal.Inc()
		log.Warn("попытка публикации не удалась",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		var (
			rateLimited *publish.RateLimitedError
			timeout     *publish.TimeoutError
			network     *publish.NetworkError
			malformed   *publish.MalformedError
		)
		switch {
		case errors.As(err, &rateLimited):
			q.sleep(ctx, rateLimited.RetryAfter)
		case errors.As(err, &timeout):
			q.sleep(ctx, time.Duration(attempt)*10*time.Second)
		case errors.As(err, &network):
			q.sleep(ctx, time.Duration(attempt)*15*time.Second)
		case errors.As(err, &malformed):
			if req.Plain {
				// Plain-подпись тоже отклонена — дальше пробовать нечего
				q.quarantine(ctx, item, err.Error())
				return
			}
			// Один fallback без разметки
			req.Plain = true
			req.Caption = fmt.Sprintf("%s (%s)", item.FilePath, publish.FormatSize(size))
		default:
			q.quarantine(ctx, item, err.Error())
			return
		}
	}

	q.quarantine(ctx, item, fmt.Sprintf("исчерпаны попытки публикации: %v", lastErr))
}

// succeed фиксирует успешную публикацию: сбрасывает счётчик неудач
// и записывает ссылки в запись загрузки.
func (q *UploadQueue) succeed(ctx context.Context, item model.UploadQueueItem, ref *publish.Ref, log *slog.Logger) {
	publishSuccessTotal.Inc()

	q.mu.Lock()
	q.consecutiveFailures = 0
	q.mu.Unlock()

	log.Info("файл опубликован",
		slog.Int64("message_id", ref.MessageID),
		slog.String("share_link", ref.ShareLink),
	)

	// Файл в канале — локальная копия больше не нужна
	if err := q.files.Remove(item.FilePath); err != nil {
		log.Warn("не удалось удалить локальный файл после публикации",
			slog.String("error", err.Error()))
	}

	rec, err := q.repo.GetByID(ctx, item.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Error("ошибка чтения записи после публикации", slog.String("error", err.Error()))
		}
		return
	}
	rec.Publish = model.PublishRef{
		FileID:       ref.FileID,
		FileUniqueID: ref.FileUniqueID,
		MessageID:    ref.MessageID,
		ShareLink:    ref.ShareLink,
	}
	if err := q.repo.Save(ctx, rec); err != nil {
		log.Error("ошибка сохранения ссылок публикации", slog.String("error", err.Error()))
	}
}

// quarantine помещает файл в карантин и применяет паузы
// (обычную и cooldown при серии неудач).
func (q *UploadQueue) quarantine(ctx context.Context, item model.UploadQueueItem, reason string) {
	publishQuarantinedTotal.Inc()

	q.mu.Lock()
	q.failed[item.FilePath] = quarantined{item: item, err: reason}
	q.consecutiveFailures++
	hitThreshold := q.consecutiveFailures >= q.cfg.FailureThreshold
	if hitThreshold {
		q.consecutiveFailures = 0
	}
	q.mu.Unlock()

	q.logger.Error("файл ушёл в карантин публикации",
		slog.String("file", item.FilePath),
		slog.String("reason", reason),
	)

	if hitThreshold {
		q.logger.Warn("серия неудач публикации, cooldown",
			slog.Duration("cooldown", q.cfg.FailureCooldown))
		q.sleep(ctx, q.cfg.FailureCooldown)
		return
	}
	q.sleep(ctx, q.cfg.PauseFail)
}

// Status возвращает состояние очереди для dashboard.
func (q *UploadQueue) Status() model.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return model.QueueStatus{
		QueueLength:      len(q.items),
		ProcessingCount:  len(q.processing),
		QuarantinedCount: len(q.failed),
		WorkerRunning:    q.running,
	}
}

// Clear удаляет все ожидающие элементы (публикуемый сейчас не трогается).
// Возвращает количество удалённых.
func (q *UploadQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	queueLength.Set(0)
	q.logger.Info("очередь публикации очищена", slog.Int("removed", n))
	return n
}

// RetryQuarantined возвращает карантинные файлы обратно в очередь.
// Возвращает количество возвращённых.
func (q *UploadQueue) RetryQuarantined() int {
	q.mu.Lock()
	restore := make([]model.UploadQueueItem, 0, len(q.failed))
	for _, f := range q.failed {
		restore = append(restore, f.item)
	}
	q.failed = map[string]quarantined{}
	q.mu.Unlock()

	n := 0
	for _, item := range restore {
		if err := q.Enqueue(item); err != nil {
			q.logger.Warn("карантинный файл не вернулся в очередь",
				slog.String("file", item.FilePath),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
	}
	q.logger.Info("карантин возвращён в очередь", slog.Int("restored", n))
	return n
}
