// Package api is the HTTP surface the dashboard talks to.
package api

import (
	"context"
	"net/http"
	"time"

	"admissions-workers/internal/analytics"
	"admissions-workers/internal/cache"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/models"
	feedsync "admissions-workers/internal/sync"
	"admissions-workers/internal/transition"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transitions is the decision surface of transition.Engine.
type Transitions interface {
	Approve(ctx context.Context, id string, payment models.PaymentDetails, actor models.Actor) transition.Result
	Reject(ctx context.Context, id, reason string, actor models.Actor) transition.Result
	Delete(ctx context.Context, id string, actor models.Actor) transition.Result
}

// Logs is the admin log reader.
type Logs interface {
	List(ctx context.Context, limit int) ([]models.AdminLog, error)
	Search(ctx context.Context, text string, limit int) ([]models.AdminLog, error)
}

// Visibility receives the number of attached event stream viewers.
type Visibility interface {
	SetVisible(viewers int)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type OperationRecorder interface {
	RecordOperation(ctx context.Context, name, status string, duration time.Duration)
}

// Deps are the components the router serves. Sync, Visibility and Logs may
// be nil.
type Deps struct {
	Cache       *cache.Cache
	Transitions Transitions
	Sync        feedsync.Cycler
	Visibility  Visibility
	Logs        Logs
	Store       Pinger
	Analytics   analytics.Options
	// Ops, when set, receives one operation per request keyed by route.
	Ops OperationRecorder
	// Optional backends reported by /ready. A failure degrades the service
	// without making it unready.
	Optional map[string]Pinger
}

type Server struct {
	deps    Deps
	log     logger.Logger
	now     func() time.Time
	viewers *viewerCount
}

func NewServer(deps Deps, log logger.Logger) *Server {
	return &Server{
		deps:    deps,
		log:     logger.ForComponent(log, "api"),
		now:     func() time.Time { return time.Now().UTC() },
		viewers: &viewerCount{},
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/applications", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/applications/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	api.HandleFunc("/applications/{id}/reject", s.handleReject).Methods(http.MethodPost)
	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return r
}

// Viewers reports how many event streams are attached.
func (s *Server) Viewers() int {
	return s.viewers.get()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying connection.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		s.log.Debug("HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": elapsed.Milliseconds(),
		})
		if s.deps.Ops == nil {
			return
		}
		name := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				name = tmpl
			}
		}
		status := "ok"
		if rec.status >= http.StatusBadRequest {
			status = "error"
		}
		s.deps.Ops.RecordOperation(r.Context(), r.Method+" "+name, status, elapsed)
	})
}
