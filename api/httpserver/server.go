package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouteRegistrar - Components that add routes to the server's router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// HTTPServerConfig - Settings for the REST listener.
type HTTPServerConfig struct {
	// ListenAddr is the host:port the server listens on.
	ListenAddr string

	Log *slog.Logger

	// GracefulShutdownDuration bounds how long Shutdown waits for in-flight requests.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BaseServer - HTTP server with health, readiness and metrics endpoints.
type BaseServer struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger
	handler http.Handler
	srv     *http.Server
}

// New creates a server. It is not ready until SetReady(true) is called.
func New(cfg *HTTPServerConfig, routeRegistrars ...RouteRegistrar) *BaseServer {
	logger := cfg.Log
	if logger == nil {
		logger = slog.Default()
	}
	srv := &BaseServer{
		cfg: cfg,
		log: logger.With("component", "http"),
	}
	srv.handler = srv.createRouter(routeRegistrars)
	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv
}

func (srv *BaseServer) createRouter(routeRegistrars []RouteRegistrar) http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(srv.httpLogger)
	mux.Use(middleware.Recoverer)

	mux.Get("/livez", srv.handleLivenessCheck)
	mux.Get("/readyz", srv.handleReadinessCheck)
	mux.Method(http.MethodGet, "/metrics", metrics.Handler())

	for _, registrar := range routeRegistrars {
		registrar.RegisterRoutes(mux)
	}
	return mux
}

// httpLogger logs every request and records its latency.
func (srv *BaseServer) httpLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		srv.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (srv *BaseServer) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (srv *BaseServer) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !srv.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// SetReady flips the readiness endpoint.
func (srv *BaseServer) SetReady(ready bool) {
	if srv.isReady.Swap(ready) != ready {
		srv.log.Info("readiness changed", "ready", ready)
	}
}

// Handler returns the router, for embedding in another server or in tests.
func (srv *BaseServer) Handler() http.Handler {
	return srv.handler
}

// Serve accepts connections on ln until Shutdown. It returns nil after a clean
// shutdown.
func (srv *BaseServer) Serve(ln net.Listener) error {
	srv.log.Info("starting HTTP server", "listenAddress", ln.Addr().String())
	if err := srv.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves until Shutdown.
func (srv *BaseServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", srv.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

// Shutdown marks the server not ready and waits for in-flight requests.
func (srv *BaseServer) Shutdown() error {
	srv.SetReady(false)
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("graceful HTTP server shutdown failed", "err", err)
		return err
	}
	srv.log.Info("HTTP server gracefully stopped")
	return nil
}
