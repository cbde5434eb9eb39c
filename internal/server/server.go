// Пакет server — HTTP-сервер реестра расширений с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/extension-registry/internal/api/errors"
	"github.com/bigkaa/goartstore/extension-registry/internal/api/handlers"
	"github.com/bigkaa/goartstore/extension-registry/internal/api/middleware"
	"github.com/bigkaa/goartstore/extension-registry/internal/config"
	"github.com/bigkaa/goartstore/extension-registry/internal/domain/rbac"
)

// Server — HTTP-сервер реестра расширений.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// validator — проверка запросов по OpenAPI (nil — без проверки).
// jwtAuth — JWT middleware (nil — аутентификация выключена, роли не проверяются).
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler *handlers.APIHandler,
	validator *middleware.RequestValidator,
	jwtAuth *middleware.JWTAuth,
) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, handler, validator, jwtAuth),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер с маршрутами API.
// Порядок middleware: request id → метрики → лог → JWT → OpenAPI валидация.
func NewRouter(
	logger *slog.Logger,
	h *handlers.APIHandler,
	validator *middleware.RequestValidator,
	jwtAuth *middleware.JWTAuth,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	if jwtAuth != nil {
		router.Use(jwtAuthWithExclusions(jwtAuth, "/health/", "/metrics"))
	}
	if validator != nil {
		router.Use(validator.Middleware())
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден: "+r.URL.Path)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierrors.MethodNotAllowed(w, "Метод "+r.Method+" не поддерживается для "+r.URL.Path)
	})

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	// admin — роль администратора, если аутентификация включена
	admin := func(next http.HandlerFunc) http.Handler {
		if jwtAuth == nil {
			return next
		}
		return middleware.RequireRole(rbac.RoleAdmin)(next)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/extensions", func(r chi.Router) {
			r.Get("/custom", h.ListCustom)
			r.Post("/custom", h.AddCustom)
			r.Delete("/custom", h.DeleteAllCustom)
			r.Delete("/custom/{id}", h.DeleteCustom)

			r.Get("/fixed", h.ListFixed)
			r.Method(http.MethodPost, "/fixed", admin(h.AddFixed))
			r.Method(http.MethodPatch, "/fixed/{id}", admin(h.UpdateFixedBlocked))

			r.Get("/check", h.CheckFilename)
		})

		r.Get("/settings", h.GetSettings)
		r.Method(http.MethodPut, "/settings", admin(h.UpdateSettings))
	})

	return router
}

// jwtAuthWithExclusions оборачивает JWTAuth.Middleware(), пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без JWT.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, excludePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		protected := jwtMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. После этого выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
