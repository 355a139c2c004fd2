// Пакет server — HTTP-сервер WGMik с graceful shutdown.
// Без TLS — предполагается reverse proxy перед сервисом.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/wgmik/internal/api/handlers"
	"github.com/arturkryukov/wgmik/internal/api/middleware"
	"github.com/arturkryukov/wgmik/internal/config"
)

// Server — HTTP-сервер WGMik.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// jwtAuth может быть nil — для тестирования без авторизации.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handler, health *handlers.HealthHandler, jwtAuth *middleware.JWTAuth) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// JWT middleware с исключениями для публичных endpoints.
	// Health и metrics проверяются Kubernetes напрямую.
	if jwtAuth != nil {
		router.Use(jwtAuthWithExclusions(jwtAuth, "/health/", "/metrics", "/api/v1/auth/login"))
	}

	registerRoutes(router, h, health)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// registerRoutes привязывает все маршруты API к обработчикам.
func registerRoutes(router chi.Router, h *handlers.Handler, health *handlers.HealthHandler) {
	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Get("/metrics", health.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)
		r.Get("/auth/me", h.Me)

		r.Route("/routers", func(r chi.Router) {
			r.Get("/", h.ListRouters)
			r.Post("/", h.CreateRouter)
			r.Route("/{routerID}", func(r chi.Router) {
				r.Get("/", h.GetRouter)
				r.Patch("/", h.UpdateRouter)
				r.Delete("/", h.DeleteRouter)
				r.Post("/test", h.TestRouter)
				r.Get("/interfaces", h.ListRouterInterfaces)
				r.Get("/interfaces/{iface}", h.GetRouterInterface)
				r.Get("/peers", h.ListLivePeers)
				r.Post("/peers", h.CreatePeer)
				r.Post("/peers/import", h.ImportPeers)
			})
		})

		r.Route("/peers", func(r chi.Router) {
			r.Get("/", h.ListPeers)
			r.Route("/{peerID}", func(r chi.Router) {
				r.Get("/", h.GetPeer)
				r.Patch("/", h.UpdatePeer)
				r.Delete("/", h.DeletePeer)
				r.Get("/usage", h.PeerUsage)
				r.Post("/reset_metrics", h.ResetPeerMetrics)
				r.Get("/quota", h.GetPeerQuota)
				r.Patch("/quota", h.UpdatePeerQuota)
				r.Get("/window", h.GetPeerWindow)
				r.Patch("/window", h.UpdatePeerWindow)
				r.Get("/actions", h.ListPeerActions)
			})
		})

		r.Get("/actions", h.ListActions)
		r.Get("/summary/month", h.MonthSummary)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin())
			r.Post("/purge_usage", h.PurgeUsage)
			r.Post("/purge_peers", h.PurgePeers)
		})
	})
}

// jwtAuthWithExclusions оборачивает JWTAuth.Middleware(), пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без JWT.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, excludePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Проверяем, начинается ли путь с исключённого префикса
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			// Применяем JWT middleware
			jwtMiddleware(next).ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
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

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
