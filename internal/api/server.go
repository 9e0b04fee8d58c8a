// Package api wires the relay's HTTP surface: subscription CRUD, the hook
// coordinator, config/health endpoints, and the middleware chain around
// them.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"webpushrelay/internal/apperr"
	"webpushrelay/internal/config"
	"webpushrelay/internal/logging"
	"webpushrelay/internal/middleware"
	"webpushrelay/internal/queue"
	"webpushrelay/internal/ratelimit"
	"webpushrelay/internal/store"
)

// poolLiveness is the slice of *queue.Pool's interface the health
// endpoint needs.
type poolLiveness interface {
	Alive(maxAge time.Duration) bool
}

// Server holds the dependencies every handler needs.
type Server struct {
	cfg     *config.Config
	subs    *store.SubscriptionStore
	q       *queue.Store
	limiter *ratelimit.Limiter
	log     *logging.Logger
	pool    poolLiveness
}

func NewServer(cfg *config.Config, subs *store.SubscriptionStore, q *queue.Store, limiter *ratelimit.Limiter, log *logging.Logger, pool poolLiveness) *Server {
	return &Server{cfg: cfg, subs: subs, q: q, limiter: limiter, log: log, pool: pool}
}

// Router builds the full gorilla/mux router with its middleware chain.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/subscribe", s.handleSubscribe).Methods(http.MethodPost)
	r.HandleFunc("/api/subscribe/{uuid}", s.handleUnsubscribe).Methods(http.MethodDelete)
	r.HandleFunc("/hook/{uuid}", s.handleHook)
	r.HandleFunc("/{uuid}", s.handleHook)

	if s.cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	var h http.Handler = r
	h = middleware.CORS(s.cfg.CORSOrigins, s.cfg.CORSAllowAll())(h)
	h = middleware.RequestID(h)
	h = s.recoverer(h)
	return h
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", map[string]any{"panic": rec, "path": r.URL.Path})
				apperr.WriteHTTP(w, apperr.Internal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// componentStatus mirrors the teacher's pkg/telemetry.ComponentStatus
// shape, trimmed to what this relay actually checks.
type componentStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	CheckedAt string `json:"checked_at"`
	Message   string `json:"message,omitempty"`
}

type healthSnapshot struct {
	Service     string            `json:"service"`
	GeneratedAt string            `json:"generated_at"`
	Overall     string            `json:"overall"`
	Components  []componentStatus `json:"components"`
}

// poolLivenessWindow bounds how stale a worker-loop heartbeat may be
// before /health reports the dispatch pool as degraded.
const poolLivenessWindow = 5 * time.Second

// handleHealth reports queue-worker liveness and DB reachability, in the
// style of the teacher's pkg/telemetry health snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	overall := "ok"
	components := []componentStatus{}

	dbStatus := "ok"
	dbMsg := ""
	if err := s.q.Ping(r.Context()); err != nil {
		dbStatus = "fatal"
		dbMsg = err.Error()
		overall = "fatal"
	}
	components = append(components, componentStatus{Name: "database", Status: dbStatus, CheckedAt: now, Message: dbMsg})

	if s.pool != nil {
		poolStatus := "ok"
		poolMsg := ""
		if !s.pool.Alive(poolLivenessWindow) {
			poolStatus = "degraded"
			poolMsg = "no worker loop iteration within the liveness window"
			if overall == "ok" {
				overall = "degraded"
			}
		}
		components = append(components, componentStatus{Name: "queue_workers", Status: poolStatus, CheckedAt: now, Message: poolMsg})
	}

	snapshot := healthSnapshot{
		Service:     s.cfg.ServiceName,
		GeneratedAt: now,
		Overall:     overall,
		Components:  components,
	}

	status := http.StatusOK
	if overall == "fatal" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(snapshot)
}

func (s *Server) clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// readTimeout returns the per-request body deadline as a duration.
func (s *Server) readTimeout() time.Duration {
	return time.Duration(s.cfg.WebhookReadTimeoutMS) * time.Millisecond
}
