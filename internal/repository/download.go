package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hexday/updl/internal/domain/model"
)

// downloadColumns — список столбцов таблицы downloads для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const downloadColumns = `id, url, platform, quality, extract_audio, description, tags,
	status, engine, file_path, file_name, file_size, file_kind,
	progress, speed_bps, eta_seconds, retry_count, max_retries, error_message,
	created_at, started_at, finished_at,
	publish_file_id, publish_file_unique_id, publish_message_id, publish_share_link`

// DownloadRepository — интерфейс доступа к записям загрузок.
type DownloadRepository interface {
	// Save выполняет upsert записи по id.
	Save(ctx context.Context, d *model.DownloadRecord) error
	// GetByID возвращает запись по id или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.DownloadRecord, error)
	// List возвращает все записи, новые первыми.
	List(ctx context.Context) ([]*model.DownloadRecord, error)
	// ListByStatus возвращает записи с указанным статусом.
	ListByStatus(ctx context.Context, status model.Status) ([]*model.DownloadRecord, error)
	// Delete удаляет запись по id или возвращает ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// downloadRepo — реализация DownloadRepository через pgx.
type downloadRepo struct {
	db DBTX
}

// NewDownloadRepository создаёт репозиторий загрузок.
func NewDownloadRepository(db DBTX) DownloadRepository {
	return &downloadRepo{db: db}
}

// Save выполняет upsert записи по id.
func (r *downloadRepo) Save(ctx context.Context, d *model.DownloadRecord) error {
	query := `
		INSERT INTO downloads (
			id, url, platform, quality, extract_audio, description, tags,
			status, engine, file_path, file_name, file_size, file_kind,
			progress, speed_bps, eta_seconds, retry_count, max_retries, error_message,
			created_at, started_at, finished_at,
			publish_file_id, publish_file_unique_id, publish_message_id, publish_share_link
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19,
			$20, $21, $22,
			$23, $24, $25, $26
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			engine = EXCLUDED.engine,
			file_path = EXCLUDED.file_path,
			file_name = EXCLUDED.file_name,
			file_size = EXCLUDED.file_size,
			file_kind = EXCLUDED.file_kind,
			progress = EXCLUDED.progress,
			speed_bps = EXCLUDED.speed_bps,
			eta_seconds = EXCLUDED.eta_seconds,
			retry_count = EXCLUDED.retry_count,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			publish_file_id = EXCLUDED.publish_file_id,
			publish_file_unique_id = EXCLUDED.publish_file_unique_id,
			publish_message_id = EXCLUDED.publish_message_id,
			publish_share_link = EXCLUDED.publish_share_link`

	_, err := r.db.Exec(ctx, query,
		d.ID, d.URL, d.Platform, d.Quality, d.ExtractAudio, d.Description, d.Tags,
		d.Status, d.Engine, d.FilePath, d.FileName, d.FileSize, d.FileKind,
		d.ProgressPercent, d.SpeedBPS, d.ETASeconds, d.RetryCount, d.MaxRetries, d.ErrorMessage,
		d.CreatedAt, d.StartedAt, d.FinishedAt,
		d.Publish.FileID, d.Publish.FileUniqueID, d.Publish.MessageID, d.Publish.ShareLink,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения загрузки: %w", err)
	}
	return nil
}

// GetByID возвращает запись по id или ErrNotFound.
func (r *downloadRepo) GetByID(ctx context.Context, id string) (*model.DownloadRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM downloads WHERE id = $1`, downloadColumns)

	d, err := scanDownload(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения загрузки: %w", err)
	}
	return d, nil
}

// List возвращает все записи, новые первыми.
func (r *downloadRepo) List(ctx context.Context) ([]*model.DownloadRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM downloads ORDER BY created_at DESC`, downloadColumns)
	return r.queryMany(ctx, query)
}

// ListByStatus возвращает записи с указанным статусом, старые первыми
// (порядок восстановления после рестарта).
func (r *downloadRepo) ListByStatus(ctx context.Context, status model.Status) ([]*model.DownloadRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM downloads WHERE status = $1 ORDER BY created_at ASC`, downloadColumns)
	return r.queryMany(ctx, query, status)
}

// Delete удаляет запись по id или возвращает ErrNotFound.
func (r *downloadRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM downloads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления загрузки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *downloadRepo) queryMany(ctx context.Context, query string, args ...any) ([]*model.DownloadRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса загрузок: %w", err)
	}
	defer rows.Close()

	var result []*model.DownloadRecord
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования загрузки: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// scanDownload сканирует одну строку в DownloadRecord.
// Порядок полей соответствует downloadColumns.
func scanDownload(row pgx.Row) (*model.DownloadRecord, error) {
	d := &model.DownloadRecord{}
	err := row.Scan(
		&d.ID, &d.URL, &d.Platform, &d.Quality, &d.ExtractAudio, &d.Description, &d.Tags,
		&d.Status, &d.Engine, &d.FilePath, &d.FileName, &d.FileSize, &d.FileKind,
		&d.ProgressPercent, &d.SpeedBPS, &d.ETASeconds, &d.RetryCount, &d.MaxRetries, &d.ErrorMessage,
		&d.CreatedAt, &d.StartedAt, &d.FinishedAt,
		&d.Publish.FileID, &d.Publish.FileUniqueID, &d.Publish.MessageID, &d.Publish.ShareLink,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}
