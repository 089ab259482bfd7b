// Package endpoints serves the admin HTTP interface of a scheduler process:
// health, go-metrics stats, prometheus metrics and JSON status documents.
package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/ldv-klever/klever-scheduler/common/stats"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// JSONHandler produces the document served on a path. Errors are served as 500.
type JSONHandler func(r *http.Request) (interface{}, error)

// AdminServer is the admin interface of one process.
// MaxConns of zero does not limit simultaneous connections.
type AdminServer struct {
	Addr     string
	MaxConns int
	Stats    stats.StatsReceiver

	router   *chi.Mux
	registry *prometheus.Registry
}

func NewAdminServer(addr string, maxConns int, stat stats.StatsReceiver) *AdminServer {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	s := &AdminServer{
		Addr:     addr,
		MaxConns: maxConns,
		Stats:    stat,
		router:   chi.NewRouter(),
		registry: prometheus.NewRegistry(),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.countRequests)

	s.router.Get("/", helpHandler)
	s.router.Get("/health", healthHandler)
	s.router.Get("/admin/metrics.json", s.statsHandler)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return s
}

// AddGauge exports fn on /metrics. It panics on a duplicate name, like
// prometheus.MustRegister.
func (s *AdminServer) AddGauge(name, help string, fn func() float64) {
	s.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "klever",
			Subsystem: "scheduler",
			Name:      name,
			Help:      help,
		}, fn))
}

// HandleJSON serves the documents produced by fn on GET path.
func (s *AdminServer) HandleJSON(path string, fn JSONHandler) {
	s.router.Get(path, func(w http.ResponseWriter, r *http.Request) {
		doc, err := fn(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		if r.URL.Query().Get("pretty") == "true" {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(doc); err != nil {
			log.Errorf("Encoding %s: %v", path, err)
		}
	})
}

func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Serve listens on Addr and blocks until ctx is done or the server fails.
func (s *AdminServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done, then shuts down gracefully.
// ln is closed when ServeListener returns.
func (s *AdminServer) ServeListener(ctx context.Context, ln net.Listener) error {
	if s.MaxConns > 0 {
		log.Infof("Creating LimitListener with max: %d", s.MaxConns)
		ln = netutil.LimitListener(ln, s.MaxConns)
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Serving admin endpoints on %s", ln.Addr())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Stats.Counter(stats.AdminRequestCounter).Inc(1)
		next.ServeHTTP(w, r)
	})
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Common paths: '/health', '/admin/metrics.json', '/metrics', '/status'", http.StatusNotImplemented)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func (s *AdminServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	const contentTypeHdr = "Content-Type"
	const contentTypeVal = "application/json; charset=utf-8"
	w.Header().Set(contentTypeHdr, contentTypeVal)

	pretty := r.URL.Query().Get("pretty") == "true"
	str := s.Stats.Render(pretty)
	if _, err := io.Copy(w, bytes.NewBuffer(str)); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
}
