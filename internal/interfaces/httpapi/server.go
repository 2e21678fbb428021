package httpapi

import (
	"net/http"

	"wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/clock"
	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/logger"
	"wallet-watcher-engine/internal/infrastructure/metrics"
	"wallet-watcher-engine/internal/infrastructure/ratelimit"
)

// maxBodyBytes caps request bodies on every route
const maxBodyBytes = 1 << 20

// Server exposes the watcher API, webhook ingestion and the scheduler trigger
type Server struct {
	watchers  service.WatcherService
	pipeline  service.EnrichmentPipeline
	scheduler service.StrategyScheduler
	limiter   ratelimit.Limiter
	clock     clock.Clock
	metrics   *metrics.Metrics
	apiTokens []string
	hookToken string
	logger    *logger.Logger
}

// NewServer creates the HTTP server handlers
func NewServer(
	watchers service.WatcherService,
	pipeline service.EnrichmentPipeline,
	scheduler service.StrategyScheduler,
	limiter ratelimit.Limiter,
	clk clock.Clock,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *logger.Logger,
) *Server {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	s := &Server{
		watchers:  watchers,
		pipeline:  pipeline,
		scheduler: scheduler,
		limiter:   limiter,
		clock:     clk,
		metrics:   m,
		apiTokens: cfg.App.APITokens,
		hookToken: cfg.Webhook.AuthToken,
		logger:    logger.WithComponent("http-api"),
	}
	if len(s.apiTokens) == 0 {
		s.logger.Warn("No API tokens configured, bearer-gated routes are open")
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /watchers", s.route("watchers.create", s.requireBearer(s.rateLimit("watchers.create", s.handleCreateWatcher))))
	mux.Handle("GET /watchers", s.route("watchers.list", http.HandlerFunc(s.handleListWatchers)))
	mux.Handle("DELETE /watchers", s.route("watchers.delete", s.rateLimit("watchers.delete", s.handleDeleteWatcher)))
	mux.Handle("PATCH /watchers", s.route("watchers.update", s.requireBearer(s.rateLimit("watchers.update", s.handleUpdateWatcher))))

	mux.Handle("GET /webhooks/swaps", s.route("webhooks.check", http.HandlerFunc(s.handleWebhookCheck)))
	mux.Handle("POST /webhooks/swaps", s.route("webhooks.ingest", s.requireWebhookToken(s.rateLimit("webhooks.ingest", s.handleWebhook))))

	mux.Handle("POST /scheduler/tick", s.route("scheduler.tick", s.requireBearer(http.HandlerFunc(s.handleTick))))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
