// Package api serves finished runs over HTTP: run reports, dashboard
// entries and search over a run's QA units.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/dashboard"
	"github.com/sells-group/vet-analytics/internal/vector"
)

// Server routes read-only requests to the dashboard exporter.
type Server struct {
	router   chi.Router
	exporter *dashboard.Exporter
	vectors  vector.Capability
	log      *zap.Logger
}

// Options configures a Server.
type Options struct {
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
}

// NewServer builds the router.
func NewServer(exp *dashboard.Exporter, vc vector.Capability, opts Options) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		exporter: exp,
		vectors:  vc,
		log:      zap.L().With(zap.String("component", "api")),
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(s.logRequests)
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.router.Get("/runs", s.handleRuns)
	s.router.Get("/runs/{runID}", s.handleRun)
	s.router.Get("/runs/{runID}/dashboard", s.handleRunDashboard)
	s.router.Get("/search", s.handleSearch)
	s.router.Get("/search/", s.handleSearch)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := dashboard.DefaultLimitRuns
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, eris.Errorf("api: invalid limit %q", v))
			return
		}
		limit = n
	}
	reports, err := s.exporter.Reports(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": reports})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rep, err := s.exporter.Report(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRunDashboard(w http.ResponseWriter, r *http.Request) {
	rep, err := s.exporter.Report(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	run, err := s.exporter.Run(r.Context(), rep)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := dashboard.SearchRequest{
		Query:    q.Get("query"),
		RunID:    q.Get("run_id"),
		Audience: q.Get("audience"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, eris.Errorf("api: invalid limit %q", v))
			return
		}
		req.Limit = n
	}
	res, err := s.exporter.Search(r.Context(), s.vectors, req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case eris.Is(err, dashboard.ErrRunNotFound):
		return http.StatusNotFound
	case eris.Is(err, dashboard.ErrEmptyQuery):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("api: request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.log.Warn("api: request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
