package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
)

// maxRequestBody bounds job submission bodies.
const maxRequestBody = 64 << 10

type submitRequest struct {
	Room string `json:"room"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type listResponse struct {
	Jobs []JobInfo `json:"jobs"`
}

// API returns the job endpoints:
//
//	POST /v1/jobs  {"room": "..."}  → 202 JobInfo, 429 at capacity, 503 draining
//	GET  /v1/jobs                    → 200 {"jobs": [...]}
func API(p *Pool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		req.Room = strings.TrimSpace(req.Room)
		if req.Room == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "room is required"})
			return
		}
		info, err := p.Submit(req.Room)
		switch {
		case errors.Is(err, ErrAtCapacity):
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
		case errors.Is(err, ErrDraining):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		default:
			writeJSON(w, http.StatusAccepted, info)
		}
	})
	mux.HandleFunc("GET /v1/jobs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, listResponse{Jobs: p.Active()})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ServerConfig wires a [Server].
type ServerConfig struct {
	Pool   *Pool
	Health *health.Handler

	// Metrics records HTTP request latency. Nil disables the middleware.
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Nil leaves the route unregistered.
	MetricsHandler http.Handler

	// DrainTimeout bounds how long shutdown waits for running jobs.
	DrainTimeout time.Duration
}

// Server serves the job API, the health probes and /metrics.
type Server struct {
	cfg  ServerConfig
	http *http.Server
}

// NewServer builds the HTTP server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	cfg.Health.Add(health.Checker{Name: "capacity", Check: func(context.Context) error {
		if cfg.Pool.Full() {
			return ErrAtCapacity
		}
		return nil
	}})

	mux := http.NewServeMux()
	api := API(cfg.Pool)
	mux.Handle("/v1/", api)
	cfg.Health.Register(mux)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	var h http.Handler = mux
	if cfg.Metrics != nil {
		h = observe.Middleware(cfg.Metrics)(mux)
	}
	return &Server{
		cfg: cfg,
		http: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Serve serves on ln until ctx is cancelled, then marks the worker
// unready, drains the pool and shuts the listener down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("worker: listening", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.cfg.Health.SetDraining(true)

		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.drainTimeout())
		defer cancel()
		drainErr := s.cfg.Pool.Drain(drainCtx)

		shutCtx, cancelShut := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancelShut()
		return errors.Join(drainErr, s.http.Shutdown(shutCtx))
	})
	return g.Wait()
}

// ListenAndServe listens on addr and calls [Server.Serve].
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) drainTimeout() time.Duration {
	if s.cfg.DrainTimeout > 0 {
		return s.cfg.DrainTimeout
	}
	return 15 * time.Second
}
