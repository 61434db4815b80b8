package api

import (
	"net/http"

	"waitpoint/internal/health"
	"waitpoint/internal/job"
	"waitpoint/internal/observability"
	"waitpoint/internal/poller"
	"waitpoint/internal/registrar"
	"waitpoint/internal/token"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Registrar     *registrar.Service
	Poller        *poller.Poller
	Tokens        token.Store
	Jobs          job.Store
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Registrar, cfg.Poller, cfg.Tokens, cfg.Jobs, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Job endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/jobs", authMiddleware(http.HandlerFunc(handler.CreateJob)))
	mux.Handle("GET /v1/jobs", authMiddleware(http.HandlerFunc(handler.ListJobs)))
	mux.Handle("GET /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.GetJob)))
	mux.Handle("POST /v1/jobs/{jobId}/poll", authMiddleware(http.HandlerFunc(handler.Poll)))
	mux.Handle("POST /v1/jobs/{jobId}/expire", authMiddleware(http.HandlerFunc(handler.Expire)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
