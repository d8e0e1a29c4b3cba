package model

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition возвращается при попытке недопустимого перехода статуса.
var ErrInvalidTransition = errors.New("недопустимый переход статуса")

// transitions — матрица допустимых переходов статусов загрузки.
// Конечные статусы (completed, error, cancelled) переходов не имеют.
var transitions = map[Status][]Status{
	StatusInitializing: {StatusDownloading, StatusCancelled, StatusError},
	StatusDownloading:  {StatusPaused, StatusCompleted, StatusError, StatusCancelled},
	StatusPaused:       {StatusDownloading, StatusCancelled, StatusError},
	StatusCompleted:    {},
	StatusError:        {},
	StatusCancelled:    {},
}

// IsValid проверяет, что статус известен.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo проверяет допустимость перехода s -> target.
func (s Status) CanTransitionTo(target Status) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// Transition выполняет переход статуса записи. При недопустимом переходе
// возвращает ErrInvalidTransition, запись не меняется.
func (d *DownloadRecord) Transition(target Status) error {
	if !d.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, target)
	}
	d.Status = target
	return nil
}
