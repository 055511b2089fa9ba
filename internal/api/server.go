package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"reminderq/internal/domain"
	"reminderq/internal/ports"
)

// Server exposes run health and delivery history read-only.
type Server struct {
	router     *chi.Mux
	health     ports.HealthStore
	deliveries ports.DeliveryStore
	interval   time.Duration
	now        func() time.Time
}

// NewServer builds the router. A run older than twice interval marks the
// agent as stale.
func NewServer(health ports.HealthStore, deliveries ports.DeliveryStore, interval time.Duration, now func() time.Time) *Server {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Server{
		router:     chi.NewRouter(),
		health:     health,
		deliveries: deliveries,
		interval:   interval,
		now:        now,
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.status)
	r.Get("/tasks/{id}/deliveries", s.taskDeliveries)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

type statusResponse struct {
	Health  *domain.RunHealth `json:"health"`
	Healthy bool              `json:"healthy"`
	Stale   bool              `json:"stale"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	h, err := s.health.Health(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("read run health")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "health unavailable"})
		return
	}

	resp := statusResponse{Health: h, Stale: true}
	if h != nil {
		resp.Stale = s.now().Sub(h.LastRunAt) > 2*s.interval
		resp.Healthy = !resp.Stale && h.Status != domain.HealthError
	}
	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) taskDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	recs, err := s.deliveries.ListByTask(r.Context(), id, limit)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("task_id", id).Msg("list deliveries")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list deliveries failed"})
		return
	}
	if recs == nil {
		recs = []domain.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "deliveries": recs})
}

// Run serves on port until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	httpServer := http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Ctx(ctx).Info().Msgf("server serving on port %d", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Ctx(ctx).Info().Msg("Server is shutting down...")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Ctx(ctx).Info().Msg("Server stopped")
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Ctx(r.Context()).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
