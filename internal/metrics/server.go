package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Pinger is anything that can report liveness of a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves /metrics and /healthz.
type Server struct {
	addr    string
	reg     *Registry
	httpSrv *http.Server

	deps map[string]Pinger
}

// NewServer builds the observability HTTP server. deps maps dependency
// names ("postgres", "redis") to their health probes.
func NewServer(addr string, reg *Registry, deps map[string]Pinger) *Server {
	s := &Server{addr: addr, reg: reg, deps: deps}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Time   time.Time         `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status: "ok",
		Checks: make(map[string]string),
		Time:   time.Now().UTC(),
	}

	status := http.StatusOK
	for name, dep := range s.deps {
		if dep == nil {
			resp.Checks[name] = "disabled"
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("Metrics server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
