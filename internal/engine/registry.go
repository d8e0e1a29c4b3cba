package engine

import (
	"log/slog"
	"sort"

	"github.com/hexday/updl/internal/config"
)

// Registry — реестр движков, отсортированных по приоритету.
// Доступность инструментов проверяется один раз при создании.
type Registry struct {
	// engines — включённые и доступные движки в порядке приоритета
	engines []Engine
	// settings — конфигурация по имени движка
	settings map[string]config.EngineSettings
	logger   *slog.Logger
}

// NewRegistry собирает реестр движков из конфигурации.
// Движки, чей инструмент отсутствует в системе, исключаются с warning.
func NewRegistry(settings []config.EngineSettings, detectPlatform func(url string) string, logger *slog.Logger) *Registry {
	log := logger.With(slog.String("component", "engine-registry"))

	byName := make(map[string]config.EngineSettings, len(settings))
	ordered := make([]config.EngineSettings, 0, len(settings))
	for _, s := range settings {
		byName[s.Name] = s
		if s.Enabled {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	r := &Registry{settings: byName, logger: log}
	for _, s := range ordered {
		e := build(s, byName, detectPlatform)
		if e == nil {
			log.Warn("неизвестный движок в конфигурации", slog.String("engine", s.Name))
			continue
		}
		if !e.Available() {
			log.Warn("движок недоступен, исключён из цепочки", slog.String("engine", s.Name))
			continue
		}
		r.engines = append(r.engines, e)
		log.Info("движок зарегистрирован",
			slog.String("engine", s.Name),
			slog.Int("priority", s.Priority))
	}
	return r
}

func build(s config.EngineSettings, byName map[string]config.EngineSettings, detectPlatform func(url string) string) Engine {
	switch s.Name {
	case "yt-dlp":
		return NewYtDlp(s.MaxRetries, detectPlatform)
	case "aria2":
		return NewAria2(s.MaxRetries)
	case "http":
		return NewHTTPFetch()
	case "wget":
		return NewWget(s.MaxRetries)
	case "curl":
		return NewCurl(s.MaxRetries)
	default:
		return nil
	}
}

// Compatible возвращает движки, способные обработать URL,
// в порядке приоритета.
func (r *Registry) Compatible(url string) []Engine {
	var result []Engine
	for _, e := range r.engines {
		if e.CanHandle(url) {
			result = append(result, e)
		}
	}
	return result
}

// All возвращает все зарегистрированные движки в порядке приоритета.
func (r *Registry) All() []Engine {
	return r.engines
}

// Settings возвращает конфигурацию движка по имени.
func (r *Registry) Settings(name string) (config.EngineSettings, bool) {
	s, ok := r.settings[name]
	return s, ok
}
