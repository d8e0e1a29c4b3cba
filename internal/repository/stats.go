package repository

import (
	"context"
	"fmt"
	"time"
)

// EngineSummary — агрегированная статистика одного движка.
type EngineSummary struct {
	// Engine — имя движка
	Engine string `json:"engine"`
	// Attempts — всего попыток
	Attempts int64 `json:"attempts"`
	// Successes — успешных попыток
	Successes int64 `json:"successes"`
	// AvgDurationMS — средняя длительность попытки, мс
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// StatsRepository — интерфейс записи и агрегации попыток движков.
type StatsRepository interface {
	// RecordAttempt записывает одну попытку движка.
	RecordAttempt(ctx context.Context, downloadID, engine string, success bool, duration time.Duration, errMsg string) error
	// Summary возвращает агрегаты по движкам, отсортированные по имени.
	Summary(ctx context.Context) ([]EngineSummary, error)
}

// statsRepo — реализация StatsRepository через pgx.
type statsRepo struct {
	db DBTX
}

// NewStatsRepository создаёт репозиторий статистики движков.
func NewStatsRepository(db DBTX) StatsRepository {
	return &statsRepo{db: db}
}

// RecordAttempt записывает одну попытку движка.
func (r *statsRepo) RecordAttempt(ctx context.Context, downloadID, engine string, success bool, duration time.Duration, errMsg string) error {
	query := `
		INSERT INTO engine_attempts (download_id, engine, success, duration_ms, error_message)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, downloadID, engine, success, duration.Milliseconds(), errMsg)
	if err != nil {
		return fmt.Errorf("ошибка записи попытки движка: %w", err)
	}
	return nil
}

// Summary возвращает агрегаты по движкам.
func (r *statsRepo) Summary(ctx context.Context) ([]EngineSummary, error) {
	query := `
		SELECT engine,
		       COUNT(*) AS attempts,
		       COUNT(*) FILTER (WHERE success) AS successes,
		       COALESCE(AVG(duration_ms), 0) AS avg_duration_ms
		FROM engine_attempts
		GROUP BY engine
		ORDER BY engine`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса статистики движков: %w", err)
	}
	defer rows.Close()

	var result []EngineSummary
	for rows.Next() {
		var s EngineSummary
		if err := rows.Scan(&s.Engine, &s.Attempts, &s.Successes, &s.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}
