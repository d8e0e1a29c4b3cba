// Пакет server — HTTP-сервер с маршрутизацией chi и graceful shutdown.
// Мутирующие endpoints защищаются JWT middleware (если включён),
// health и metrics всегда публичны.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/hexday/updl/internal/api/handlers"
	"github.com/hexday/updl/internal/api/middleware"
	"github.com/hexday/updl/internal/config"
)

// Server — HTTP-сервер менеджера загрузок.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, auth *middleware.JWTAuth) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Служебные endpoints — всегда без аутентификации
	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		// Чтение — публичное
		r.Get("/downloads", handler.ListDownloads)
		r.Get("/downloads/{id}", handler.GetDownload)
		r.Get("/stats", handler.GetStats)
		r.Get("/engines", handler.ListEngines)
		r.Get("/queue", handler.GetQueueStatus)

		// Мутирующие операции — под JWT (no-op если аутентификация отключена)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware())

			r.Post("/downloads", handler.CreateDownload)
			r.Post("/downloads/{id}/pause", handler.PauseDownload)
			r.Post("/downloads/{id}/resume", handler.ResumeDownload)
			r.Delete("/downloads/{id}", handler.CancelDownload)
			r.Post("/downloads/cleanup", handler.Cleanup)

			r.Post("/uploads", handler.UploadFile)

			r.Post("/queue/clear", handler.ClearQueue)
			r.Post("/queue/retry-failed", handler.RetryFailed)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// из конфигурации.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
