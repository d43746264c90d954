package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/attackmap/internal/console/handler"
	"github.com/xela07ax/attackmap/internal/engine"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Реестр метрик для /metrics, nil отключает эндпоинт
	gatherer prometheus.Gatherer

	// Обработчики
	dashHandler   *handler.DashboardHandler // /api/v1/*
	streamHandler *handler.StreamHandler    // /ws/dashboard
}

// NewConsoleServer собирает роутер дашборда со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	gatherer prometheus.Gatherer,
	dashH *handler.DashboardHandler,
	streamH *handler.StreamHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		gatherer:      gatherer,
		dashHandler:   dashH,
		streamHandler: streamH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(middleware.Recoverer)

	// --- 2. Служебные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// --- 3. Представления дашборда ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/logs", s.dashHandler.GetLogs)           // Список последних атак
			r.Get("/map", s.dashHandler.GetMap)             // Точки и линии карты
			r.Get("/charts", s.dashHandler.GetCharts)       // ?width= определяет Top-N
			r.Get("/status", s.dashHandler.GetStatus)       // Фаза и состояние живого канала
			r.Get("/dashboard", s.dashHandler.GetDashboard) // Весь кадр одним ответом

			// Выделение записи (клик в списке или на карте)
			r.Route("/selection", func(r chi.Router) {
				r.Get("/", s.dashHandler.GetSelection)
				r.Post("/", s.dashHandler.PostSelection)
				r.Delete("/", s.dashHandler.DeleteSelection)
			})
		})
	})

	// Push кадров в браузер; access-log на долгоживущем соединении не нужен
	r.Get("/ws/dashboard", s.streamHandler.Serve)
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
