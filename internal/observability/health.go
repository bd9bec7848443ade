package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Check reports whether one dependency is ready
type Check func() bool

// HealthChecker manages health checks for both gRPC and HTTP
type HealthChecker struct {
	grpcHealth *health.Server
	httpServer *http.Server
	logger     *zap.Logger
	mu         sync.RWMutex
	ready      bool
	kafkaReady bool
	usesKafka  bool
	checks     map[string]Check
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		grpcHealth: health.NewServer(),
		logger:     logger,
		ready:      true,
		checks:     make(map[string]Check),
	}
}

// AddCheck registers a named readiness check such as engine recovery
func (h *HealthChecker) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RegisterGRPC registers the health service with the gRPC server
func (h *HealthChecker) RegisterGRPC(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.grpcHealth)
	h.grpcHealth.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
}

// Mount adds /healthz and /readyz to r
func (h *HealthChecker) Mount(r chi.Router) {
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
}

// StartHTTPServer serves handler on addr; a nil handler serves only the
// health routes
func (h *HealthChecker) StartHTTPServer(addr string, handler http.Handler) error {
	if handler == nil {
		r := chi.NewRouter()
		h.Mount(r)
		handler = r
	}

	h.mu.Lock()
	h.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	srv := h.httpServer
	h.mu.Unlock()

	h.logger.Info("starting HTTP server", zap.String("addr", addr))
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the health checker
func (h *HealthChecker) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.ready = false
	h.grpcHealth.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	srv := h.httpServer
	h.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// SetKafkaReady sets the Kafka client readiness status
func (h *HealthChecker) SetKafkaReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kafkaReady = ready
	h.usesKafka = true
}

// Status evaluates every check and reports overall readiness
func (h *HealthChecker) Status() (bool, map[string]bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	detail := make(map[string]bool, len(h.checks)+1)
	ok := h.ready
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pass := h.checks[name]()
		detail[name] = pass
		ok = ok && pass
	}
	if h.usesKafka {
		detail["kafka"] = h.kafkaReady
		ok = ok && h.kafkaReady
	}
	return ok, detail
}

func (h *HealthChecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT_READY"))
	}
}

func (h *HealthChecker) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ok, detail := h.Status()
	status := http.StatusOK
	serving := grpc_health_v1.HealthCheckResponse_SERVING
	if !ok {
		status = http.StatusServiceUnavailable
		serving = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.grpcHealth.SetServingStatus("", serving)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ready": ok, "checks": detail})
}
