package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hexday/updl/internal/config"
	"github.com/hexday/updl/internal/domain/model"
	"github.com/hexday/updl/internal/engine"
	"github.com/hexday/updl/internal/platform"
	"github.com/hexday/updl/internal/repository"
	"github.com/hexday/updl/internal/storage"
)

// --- Фейки ---

// fakeRepo — in-memory реализация DownloadRepository.
type fakeRepo struct {
	mu   sync.Mutex
	recs map[string]*model.DownloadRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{recs: map[string]*model.DownloadRecord{}}
}

func (r *fakeRepo) Save(_ context.Context, d *model.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[d.ID] = d.Clone()
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*model.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.recs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d.Clone(), nil
}

func (r *fakeRepo) List(_ context.Context) ([]*model.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.DownloadRecord
	for _, d := range r.recs {
		result = append(result, d.Clone())
	}
	return result, nil
}

func (r *fakeRepo) ListByStatus(_ context.Context, status model.Status) ([]*model.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.DownloadRecord
	for _, d := range r.recs {
		if d.Status == status {
			result = append(result, d.Clone())
		}
	}
	return result, nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.recs, id)
	return nil
}

// fakeStats — in-memory реализация StatsRepository.
type attemptRecord struct {
	engine  string
	success bool
}

type fakeStats struct {
	mu       sync.Mutex
	attempts []attemptRecord
}

func (s *fakeStats) RecordAttempt(_ context.Context, _, engine string, success bool, _ time.Duration, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attemptRecord{engine: engine, success: success})
	return nil
}

func (s *fakeStats) Summary(_ context.Context) ([]repository.EngineSummary, error) {
	return nil, nil
}

func (s *fakeStats) recorded() []attemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]attemptRecord(nil), s.attempts...)
}

// fakeEngine — движок со сценарием поведения.
type fakeEngine struct {
	name string
	// fail — всегда возвращать ошибку
	fail bool
	// block — блокироваться до отмены контекста
	block bool
	// calls — счётчик вызовов Download
	mu    sync.Mutex
	calls int
}

func (e *fakeEngine) Name() string          { return e.name }
func (e *fakeEngine) Available() bool       { return true }
func (e *fakeEngine) CanHandle(string) bool { return true }
func (e *fakeEngine) Resumable() bool       { return true }

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *fakeEngine) Download(ctx context.Context, req engine.Request, _ engine.ProgressFunc) (*engine.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.fail {
		return nil, errors.New("движок сломан")
	}
	if err := os.WriteFile(req.Dest, []byte("данные"), 0o640); err != nil {
		return nil, err
	}
	return &engine.Result{FilePath: req.Dest, Size: 6}, nil
}

// fakeProvider — провайдер движков для тестов.
type fakeProvider struct {
	engines []engine.Engine
}

func (p *fakeProvider) Compatible(url string) []engine.Engine {
	var result []engine.Engine
	for _, e := range p.engines {
		if e.CanHandle(url) {
			result = append(result, e)
		}
	}
	return result
}

func (p *fakeProvider) Settings(name string) (config.EngineSettings, bool) {
	return config.EngineSettings{Name: name, Timeout: time.Minute, MaxRetries: 3}, true
}

// --- Хелперы ---

// discardLogger — логгер, молчащий в тестах.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	d     *Downloader
	repo  *fakeRepo
	stats *fakeStats
	files *storage.FileStore
}

// setupDownloader собирает оркестратор с фейковыми движками.
func setupDownloader(t *testing.T, maxActive int, engines ...engine.Engine) *testEnv {
	t.Helper()

	base := t.TempDir()
	files, err := storage.New(filepath.Join(base, "downloads"), filepath.Join(base, "uploads"))
	if err != nil {
		t.Fatalf("storage.New(): %v", err)
	}

	repo := newFakeRepo()
	stats := &fakeStats{}
	d := NewDownloader(
		repo, stats,
		&fakeProvider{engines: engines},
		files,
		platform.NewDetector(16, time.Minute),
		nil,
		maxActive,
		false,
		discardLogger(),
	)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start(): %v", err)
	}
	t.Cleanup(d.Stop)

	return &testEnv{d: d, repo: repo, stats: stats, files: files}
}

// waitStatus ждёт перехода записи в указанный статус.
func waitStatus(t *testing.T, repo *fakeRepo, id string, status model.Status) *model.DownloadRecord {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := repo.GetByID(context.Background(), id)
		if err == nil && rec.Status == status {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := repo.GetByID(context.Background(), id)
	t.Fatalf("запись %s не перешла в статус %s, текущий: %+v", id, status, rec)
	return nil
}

// --- Тесты ---

// TestCreate_FallbackOrder проверяет перебор движков по порядку
// до первого успеха.
func TestCreate_FallbackOrder(t *testing.T) {
	broken := &fakeEngine{name: "broken", fail: true}
	working := &fakeEngine{name: "working"}
	env := setupDownloader(t, 4, broken, working)

	rec, err := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	if err != nil {
		t.Fatalf("Create(): %v", err)
	}

	done := waitStatus(t, env.repo, rec.ID, model.StatusCompleted)

	if done.Engine != "working" {
		t.Errorf("движок: ожидался working, получен %q", done.Engine)
	}
	if broken.callCount() != 1 || working.callCount() != 1 {
		t.Errorf("каждый движок должен быть вызван один раз: broken=%d, working=%d",
			broken.callCount(), working.callCount())
	}
	if done.ProgressPercent != 100 {
		t.Errorf("прогресс завершённой загрузки: ожидалось 100, получено %v", done.ProgressPercent)
	}

	attempts := env.stats.recorded()
	if len(attempts) != 2 {
		t.Fatalf("попыток: ожидалось 2, получено %d", len(attempts))
	}
	if attempts[0].engine != "broken" || attempts[0].success {
		t.Errorf("первая попытка: ожидался broken/failure, получено %+v", attempts[0])
	}
	if attempts[1].engine != "working" || !attempts[1].success {
		t.Errorf("вторая попытка: ожидался working/success, получено %+v", attempts[1])
	}
}

// leftoverEngine пишет частичный файл в Dest и завершается ошибкой.
type leftoverEngine struct{}

func (leftoverEngine) Name() string          { return "leftover" }
func (leftoverEngine) Available() bool       { return true }
func (leftoverEngine) CanHandle(string) bool { return true }
func (leftoverEngine) Resumable() bool       { return true }

func (leftoverEngine) Download(_ context.Context, req engine.Request, _ engine.ProgressFunc) (*engine.Result, error) {
	if err := os.WriteFile(req.Dest, []byte("обрывок"), 0o640); err != nil {
		return nil, err
	}
	return nil, errors.New("обрыв соединения")
}

// witnessEngine запоминает содержимое Dest на старте своей попытки.
type witnessEngine struct {
	mu       sync.Mutex
	observed string
	existed  bool
}

func (e *witnessEngine) Name() string          { return "witness" }
func (e *witnessEngine) Available() bool       { return true }
func (e *witnessEngine) CanHandle(string) bool { return true }
func (e *witnessEngine) Resumable() bool       { return true }

func (e *witnessEngine) Download(_ context.Context, req engine.Request, _ engine.ProgressFunc) (*engine.Result, error) {
	if data, err := os.ReadFile(req.Dest); err == nil {
		e.mu.Lock()
		e.observed = string(data)
		e.existed = true
		e.mu.Unlock()
	}
	if err := os.WriteFile(req.Dest, []byte("данные"), 0o640); err != nil {
		return nil, err
	}
	return &engine.Result{FilePath: req.Dest, Size: 6}, nil
}

// TestCreate_PartialFileRemovedBetweenEngines проверяет, что частичный
// файл неудачного движка удаляется до запуска следующего: инструменты
// с докачкой иначе дописали бы данные поверх обрывка.
func TestCreate_PartialFileRemovedBetweenEngines(t *testing.T) {
	witness := &witnessEngine{}
	env := setupDownloader(t, 4, leftoverEngine{}, witness)

	rec, err := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	if err != nil {
		t.Fatalf("Create(): %v", err)
	}
	waitStatus(t, env.repo, rec.ID, model.StatusCompleted)

	witness.mu.Lock()
	defer witness.mu.Unlock()
	if witness.existed {
		t.Errorf("следующий движок стартовал с частичным файлом предыдущего: %q", witness.observed)
	}
}

// TestCreate_AllEnginesFail проверяет переход в error после исчерпания цепочки.
func TestCreate_AllEnginesFail(t *testing.T) {
	env := setupDownloader(t, 4,
		&fakeEngine{name: "e1", fail: true},
		&fakeEngine{name: "e2", fail: true},
	)

	rec, err := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	if err != nil {
		t.Fatalf("Create(): %v", err)
	}

	failed := waitStatus(t, env.repo, rec.ID, model.StatusError)
	if failed.ErrorMessage == "" {
		t.Error("у записи в error должно быть сообщение об ошибке")
	}
	if failed.FinishedAt == nil {
		t.Error("у записи в error должен быть заполнен finished_at")
	}
}

// TestCreate_NoCompatibleEngine проверяет отказ для необрабатываемых URL.
func TestCreate_NoCompatibleEngine(t *testing.T) {
	env := setupDownloader(t, 4)

	_, err := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	if !errors.Is(err, engine.ErrNoCompatibleEngine) {
		t.Errorf("ожидалась ErrNoCompatibleEngine, получена %v", err)
	}
}

// TestCreate_CapacityExceeded проверяет лимит одновременных загрузок.
func TestCreate_CapacityExceeded(t *testing.T) {
	env := setupDownloader(t, 1, &fakeEngine{name: "slow", block: true})

	first, err := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/a.bin"})
	if err != nil {
		t.Fatalf("первая Create(): %v", err)
	}
	waitStatus(t, env.repo, first.ID, model.StatusDownloading)

	_, err = env.d.Create(context.Background(), StartRequest{URL: "https://example.com/b.bin"})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("ожидалась ErrCapacityExceeded, получена %v", err)
	}
}

// TestPause_Idempotent проверяет паузу и её идемпотентность.
func TestPause_Idempotent(t *testing.T) {
	env := setupDownloader(t, 4, &fakeEngine{name: "slow", block: true})

	rec, err := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	if err != nil {
		t.Fatalf("Create(): %v", err)
	}
	waitStatus(t, env.repo, rec.ID, model.StatusDownloading)

	paused, err := env.d.Pause(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Pause(): %v", err)
	}
	if paused.Status != model.StatusPaused {
		t.Errorf("статус: ожидался paused, получен %q", paused.Status)
	}

	// Повторная пауза — no-op без ошибки
	again, err := env.d.Pause(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("повторная Pause(): %v", err)
	}
	if again.Status != model.StatusPaused {
		t.Errorf("статус после повторной паузы: %q", again.Status)
	}
}

// lateProgressEngine после отмены контекста ждёт сигнала и отдаёт
// ещё один прогресс — так ведёт себя инструмент, доигрывающий
// буферизованный вывод после kill.
type lateProgressEngine struct {
	proceed chan struct{}
	done    chan struct{}
}

func (e *lateProgressEngine) Name() string          { return "late" }
func (e *lateProgressEngine) Available() bool       { return true }
func (e *lateProgressEngine) CanHandle(string) bool { return true }
func (e *lateProgressEngine) Resumable() bool       { return true }

func (e *lateProgressEngine) Download(ctx context.Context, _ engine.Request, onProgress engine.ProgressFunc) (*engine.Result, error) {
	<-ctx.Done()
	<-e.proceed
	onProgress(engine.Progress{Percent: 50, SpeedBPS: 100})
	close(e.done)
	return nil, ctx.Err()
}

// TestPause_LateProgressIgnored проверяет, что прогресс, пришедший
// после паузы, не перезаписывает сохранённый статус paused.
func TestPause_LateProgressIgnored(t *testing.T) {
	eng := &lateProgressEngine{proceed: make(chan struct{}), done: make(chan struct{})}
	env := setupDownloader(t, 4, eng)

	rec, err := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	if err != nil {
		t.Fatalf("Create(): %v", err)
	}
	waitStatus(t, env.repo, rec.ID, model.StatusDownloading)

	if _, err := env.d.Pause(context.Background(), rec.ID); err != nil {
		t.Fatalf("Pause(): %v", err)
	}

	// Пауза записана — отпускаем движок с поздним прогрессом
	close(eng.proceed)
	<-eng.done

	got, err := env.repo.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID(): %v", err)
	}
	if got.Status != model.StatusPaused {
		t.Errorf("статус после паузы перезаписан поздним прогрессом: %q", got.Status)
	}
}

// TestPause_InvalidState проверяет запрет паузы конечных статусов.
func TestPause_InvalidState(t *testing.T) {
	env := setupDownloader(t, 4, &fakeEngine{name: "fast"})

	rec, _ := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	waitStatus(t, env.repo, rec.ID, model.StatusCompleted)

	_, err := env.d.Pause(context.Background(), rec.ID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("ожидалась ErrInvalidState, получена %v", err)
	}
}

// TestResume проверяет возобновление: повторный проход цепочки
// с первого движка и инкремент retry_count.
func TestResume(t *testing.T) {
	// Движок блокируется только на первый вызов
	eng := &switchEngine{}
	env := setupDownloader(t, 4, eng)

	rec, _ := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	waitStatus(t, env.repo, rec.ID, model.StatusDownloading)

	if _, err := env.d.Pause(context.Background(), rec.ID); err != nil {
		t.Fatalf("Pause(): %v", err)
	}

	resumed, err := env.d.Resume(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Resume(): %v", err)
	}
	if resumed.RetryCount != 1 {
		t.Errorf("retry_count: ожидалось 1, получено %d", resumed.RetryCount)
	}

	done := waitStatus(t, env.repo, rec.ID, model.StatusCompleted)
	if done.RetryCount != 1 {
		t.Errorf("retry_count после завершения: ожидалось 1, получено %d", done.RetryCount)
	}
}

// switchEngine блокируется на первом вызове, успешен на последующих.
type switchEngine struct {
	mu    sync.Mutex
	calls int
}

func (e *switchEngine) Name() string          { return "switch" }
func (e *switchEngine) Available() bool       { return true }
func (e *switchEngine) CanHandle(string) bool { return true }
func (e *switchEngine) Resumable() bool       { return true }

func (e *switchEngine) Download(ctx context.Context, req engine.Request, _ engine.ProgressFunc) (*engine.Result, error) {
	e.mu.Lock()
	e.calls++
	first := e.calls == 1
	e.mu.Unlock()

	if first {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := os.WriteFile(req.Dest, []byte("данные"), 0o640); err != nil {
		return nil, err
	}
	return &engine.Result{FilePath: req.Dest, Size: 6}, nil
}

// TestResume_InvalidState проверяет запрет resume не из paused.
func TestResume_InvalidState(t *testing.T) {
	env := setupDownloader(t, 4, &fakeEngine{name: "slow", block: true})

	rec, _ := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	waitStatus(t, env.repo, rec.ID, model.StatusDownloading)

	_, err := env.d.Resume(context.Background(), rec.ID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("ожидалась ErrInvalidState, получена %v", err)
	}
}

// TestResume_CapacityExceeded проверяет лимит при возобновлении.
func TestResume_CapacityExceeded(t *testing.T) {
	env := setupDownloader(t, 1, &fakeEngine{name: "slow", block: true})

	first, _ := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/a.bin"})
	waitStatus(t, env.repo, first.ID, model.StatusDownloading)

	if _, err := env.d.Pause(context.Background(), first.ID); err != nil {
		t.Fatalf("Pause(): %v", err)
	}

	// Слот занят другой загрузкой
	second, _ := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/b.bin"})
	waitStatus(t, env.repo, second.ID, model.StatusDownloading)

	_, err := env.d.Resume(context.Background(), first.ID)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("ожидалась ErrCapacityExceeded, получена %v", err)
	}
}

// TestCancel проверяет отмену: запись и частичный файл удаляются.
func TestCancel(t *testing.T) {
	env := setupDownloader(t, 4, &fakeEngine{name: "slow", block: true})

	rec, _ := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	downloading := waitStatus(t, env.repo, rec.ID, model.StatusDownloading)

	// Имитируем частичный файл на диске
	if err := os.WriteFile(downloading.FilePath, []byte("часть"), 0o640); err != nil {
		t.Fatalf("не удалось создать частичный файл: %v", err)
	}

	if err := env.d.Cancel(context.Background(), rec.ID); err != nil {
		t.Fatalf("Cancel(): %v", err)
	}

	if _, err := env.repo.GetByID(context.Background(), rec.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Error("запись должна быть удалена после отмены")
	}
	if env.files.Exists(downloading.FilePath) {
		t.Error("частичный файл должен быть удалён после отмены")
	}
}

// TestCancel_Completed проверяет запрет отмены завершённой загрузки.
func TestCancel_Completed(t *testing.T) {
	env := setupDownloader(t, 4, &fakeEngine{name: "fast"})

	rec, _ := env.d.Create(context.Background(), StartRequest{URL: "https://example.com/f.bin"})
	waitStatus(t, env.repo, rec.ID, model.StatusCompleted)

	err := env.d.Cancel(context.Background(), rec.ID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("ожидалась ErrInvalidState, получена %v", err)
	}
}

// TestStart_Reconcile проверяет перевод зависших downloading в paused
// после рестарта.
func TestStart_Reconcile(t *testing.T) {
	repo := newFakeRepo()
	repo.Save(context.Background(), &model.DownloadRecord{
		ID:     "stale",
		URL:    "https://example.com/f.bin",
		Status: model.StatusDownloading,
	})

	base := t.TempDir()
	files, _ := storage.New(filepath.Join(base, "d"), filepath.Join(base, "u"))
	d := NewDownloader(repo, &fakeStats{}, &fakeProvider{}, files,
		platform.NewDetector(16, time.Minute), nil, 4, false, discardLogger())

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start(): %v", err)
	}
	defer d.Stop()

	rec, err := repo.GetByID(context.Background(), "stale")
	if err != nil {
		t.Fatalf("GetByID(): %v", err)
	}
	if rec.Status != model.StatusPaused {
		t.Errorf("статус после reconcile: ожидался paused, получен %q", rec.Status)
	}
}

// TestProgressFunc_NoDivisionByZero проверяет, что ETA не считается
// при нулевой скорости или неизвестном размере.
func TestProgressFunc_NoDivisionByZero(t *testing.T) {
	env := setupDownloader(t, 4)

	rec := &model.DownloadRecord{ID: "p", Status: model.StatusDownloading}
	env.repo.Save(context.Background(), rec)

	fn := env.d.progressFunc(context.Background(), rec)

	// Нулевая скорость
	fn(engine.Progress{Percent: 50, SpeedBPS: 0, DownloadedBytes: 100, TotalBytes: 200})
	if rec.ETASeconds != 0 {
		t.Errorf("ETA при нулевой скорости: ожидалось 0, получено %v", rec.ETASeconds)
	}

	// Неизвестный полный размер
	fn(engine.Progress{Percent: 50, SpeedBPS: 1000, TotalBytes: 0})
	if rec.ETASeconds != 0 {
		t.Errorf("ETA при неизвестном размере: ожидалось 0, получено %v", rec.ETASeconds)
	}

	// Нормальный случай
	fn(engine.Progress{Percent: 50, SpeedBPS: 100, DownloadedBytes: 500, TotalBytes: 1000})
	if rec.ETASeconds != 5 {
		t.Errorf("ETA: ожидалось 5, получено %v", rec.ETASeconds)
	}
}

// TestStats проверяет агрегацию статистики по статусам.
func TestStats(t *testing.T) {
	env := setupDownloader(t, 4)

	seed := []*model.DownloadRecord{
		{ID: "1", Status: model.StatusDownloading, SpeedBPS: 100},
		{ID: "2", Status: model.StatusDownloading, SpeedBPS: 200},
		{ID: "3", Status: model.StatusCompleted},
		{ID: "4", Status: model.StatusPaused},
		{ID: "5", Status: model.StatusError},
	}
	for _, rec := range seed {
		env.repo.Save(context.Background(), rec)
	}

	stats, err := env.d.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats(): %v", err)
	}

	if stats.Total != 5 {
		t.Errorf("total: ожидалось 5, получено %d", stats.Total)
	}
	if stats.Downloading != 2 || stats.Completed != 1 || stats.Paused != 1 || stats.Failed != 1 {
		t.Errorf("разбивка по статусам: %+v", stats)
	}
	if stats.TotalSpeed != 300 {
		t.Errorf("суммарная скорость: ожидалось 300, получено %v", stats.TotalSpeed)
	}
}

// fakeEnqueuer запоминает поставленные в очередь элементы.
type fakeEnqueuer struct {
	mu    sync.Mutex
	items []model.UploadQueueItem
}

func (q *fakeEnqueuer) Enqueue(item model.UploadQueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeEnqueuer) enqueued() []model.UploadQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.UploadQueueItem(nil), q.items...)
}

// TestAutoPublish проверяет постановку завершённой загрузки
// в очередь публикации.
func TestAutoPublish(t *testing.T) {
	base := t.TempDir()
	files, err := storage.New(filepath.Join(base, "d"), filepath.Join(base, "u"))
	if err != nil {
		t.Fatalf("storage.New(): %v", err)
	}

	repo := newFakeRepo()
	queue := &fakeEnqueuer{}
	d := NewDownloader(repo, &fakeStats{},
		&fakeProvider{engines: []engine.Engine{&fakeEngine{name: "fast"}}},
		files, platform.NewDetector(16, time.Minute), queue, 4, true, discardLogger())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start(): %v", err)
	}
	defer d.Stop()

	rec, err := d.Create(context.Background(), StartRequest{
		URL:         "https://example.com/f.bin",
		Description: "описание",
		Tags:        "tag1 tag2",
	})
	if err != nil {
		t.Fatalf("Create(): %v", err)
	}
	waitStatus(t, repo, rec.ID, model.StatusCompleted)

	items := queue.enqueued()
	if len(items) != 1 {
		t.Fatalf("в очереди: ожидался 1 элемент, получено %d", len(items))
	}
	if items[0].ID != rec.ID {
		t.Errorf("id элемента: ожидалось %s, получено %s", rec.ID, items[0].ID)
	}
	if items[0].SourceType != model.SourceDownload {
		t.Errorf("source_type: ожидался download, получен %q", items[0].SourceType)
	}
	if items[0].Description != "описание" || items[0].Tags != "tag1 tag2" {
		t.Errorf("метаданные элемента: %+v", items[0])
	}
}

// TestCleanup проверяет удаление старых завершённых записей.
func TestCleanup(t *testing.T) {
	env := setupDownloader(t, 4)

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	seed := []*model.DownloadRecord{
		{ID: "old-done", Status: model.StatusCompleted, FinishedAt: &old},
		{ID: "old-err", Status: model.StatusError, FinishedAt: &old},
		{ID: "new-done", Status: model.StatusCompleted, FinishedAt: &recent},
		{ID: "running", Status: model.StatusDownloading},
	}
	for _, rec := range seed {
		env.repo.Save(context.Background(), rec)
	}

	removed, err := env.d.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup(): %v", err)
	}
	if removed != 2 {
		t.Errorf("удалено: ожидалось 2, получено %d", removed)
	}

	for _, id := range []string{"new-done", "running"} {
		if _, err := env.repo.GetByID(context.Background(), id); err != nil {
			t.Errorf("запись %s не должна удаляться", id)
		}
	}
	for _, id := range []string{"old-done", "old-err"} {
		if _, err := env.repo.GetByID(context.Background(), id); err == nil {
			t.Errorf("запись %s должна быть удалена", id)
		}
	}
}
