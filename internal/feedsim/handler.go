package feedsim

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/attackmap/internal/engine"
	"github.com/xela07ax/attackmap/internal/ingest"
	"go.uber.org/zap"
)

const (
	defaultLogsLimit      = 100
	defaultCountriesLimit = 10
)

type Server struct {
	router *chi.Mux
	store  Storage
	sink   Sink
	hub    *Hub
	logger *zap.Logger
}

func NewServer(store Storage, sink Sink, hub *Hub, logger *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		sink:   sink,
		hub:    hub,
		logger: logger.Named("feedsim-api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)

		r.Get("/logs/", s.getLogs(false))
		r.Post("/logs/", s.postLog)
		r.Get("/maplogs/", s.getLogs(true))
		r.Get("/logs/counts/", s.getCount)

		r.Route("/charts", func(r chi.Router) {
			r.Get("/top-countries/", s.getTopCountries)
			r.Get("/attack-trends/", s.getTrends)
			r.Get("/time-of-day/", s.getTimeOfDay)
		})
	})

	r.Get("/ws/logs", s.hub.Handler(FeedLogs))
	r.Get("/ws/maplogs", s.hub.Handler(FeedMapLogs))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) getLogs(locatedOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := queryLimit(w, r, defaultLogsLimit)
		if !ok {
			return
		}
		records, err := s.store.Recent(r.Context(), limit, locatedOnly)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		wire := make([]ingest.WireRecord, len(records))
		for i, rec := range records {
			wire[i] = ingest.EncodeRecord(rec)
		}
		writeJSON(w, http.StatusOK, wire)
	}
}

// postLog: ручная вставка записи, уходит в общий батч.
func (s *Server) postLog(w http.ResponseWriter, r *http.Request) {
	var wire ingest.WireRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&wire); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	rec, err := wire.Record()
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	s.sink.Log(rec)
	writeJSON(w, http.StatusAccepted, map[string]any{"message": "Log added successfully", "log": ingest.EncodeRecord(rec)})
}

func (s *Server) getCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) getTopCountries(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultCountriesLimit)
	if !ok {
		return
	}
	top, err := s.store.TopCountries(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(top))
}

func (s *Server) getTrends(w http.ResponseWriter, r *http.Request) {
	trend, err := s.store.Trends(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(trend))
}

func (s *Server) getTimeOfDay(w http.ResponseWriter, r *http.Request) {
	hours, err := s.store.TimeOfDay(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(hours))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	engine.WithTrace(r.Context(), s.logger).Error("storage query failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
}

func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
