package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/config"
	"github.com/JakeFAU/vm-pricedb/internal/metrics"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
	"github.com/JakeFAU/vm-pricedb/internal/report"
)

// Builder starts and executes database builds.
type Builder interface {
	Start(ctx context.Context) (pricedb.Run, error)
	Execute(ctx context.Context, run pricedb.Run) (pricedb.Run, error)
	Running() bool
}

// Server wires HTTP handlers to the builder and run store.
type Server struct {
	router  chi.Router
	builder Builder
	runs    pricedb.RunStore
	cfg     config.Config
	logger  *zap.Logger
	baseCtx context.Context
}

// NewServer constructs a Server with middleware and routes. Builds started
// over HTTP run under baseCtx, not the request context.
func NewServer(
	baseCtx context.Context,
	builder Builder,
	runs pricedb.RunStore,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	s := &Server{
		builder: builder,
		runs:    runs,
		cfg:     cfg,
		logger:  logger,
		baseCtx: baseCtx,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/builds", func(r chi.Router) {
			r.Post("/", s.startBuild)
			r.Get("/", s.listBuilds)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getBuild)
				r.Get("/records", s.getRecords)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"building": s.builder.Running(),
	})
}

func (s *Server) startBuild(w http.ResponseWriter, r *http.Request) {
	run, err := s.builder.Start(r.Context())
	if err != nil {
		if errors.Is(err, pricedb.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("start build failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start build")
		return
	}
	go func() {
		if _, err := s.builder.Execute(s.baseCtx, run); err != nil {
			s.logger.Warn("build finished with error", zap.String("run_id", run.ID), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(run.Status),
	})
}

func (s *Server) listBuilds(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list builds")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"builds": runs})
}

func (s *Server) getBuild(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	outcomes, err := s.runs.GetOutcomes(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build":    run,
		"outcomes": outcomes,
	})
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	db, err := s.runs.GetRecords(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	query := r.URL.Query()
	q := report.Query{
		SKUs:   query["sku"],
		Region: query.Get("region"),
	}
	if raw := query.Get("budget"); raw != "" {
		budget, err := strconv.ParseFloat(raw, 64)
		if err != nil || budget <= 0 {
			writeError(w, http.StatusBadRequest, "budget must be a positive number")
			return
		}
		q.Budget = budget
		rows := report.Rows(db, q)
		if rows == nil {
			rows = []report.Row{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"budget": budget, "rows": rows})
		return
	}

	records := pricedb.Database{}
	for _, row := range report.Rows(db, q) {
		records = append(records, pricedb.Record{
			Region: row.Region,
			SKU:    row.SKU,
			VCPU:   row.VCPU,
			RAM:    row.RAM,
			Price:  row.Price,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, pricedb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	s.logger.Error("run store failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "run store unavailable")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
