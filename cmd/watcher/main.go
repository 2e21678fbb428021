package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app_service "wallet-watcher-engine/internal/application/service"
	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/repository"
	domain_service "wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/blockchain"
	"wallet-watcher-engine/internal/infrastructure/cache"
	"wallet-watcher-engine/internal/infrastructure/clock"
	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/database"
	"wallet-watcher-engine/internal/infrastructure/logger"
	"wallet-watcher-engine/internal/infrastructure/market"
	"wallet-watcher-engine/internal/infrastructure/messaging"
	"wallet-watcher-engine/internal/infrastructure/metrics"
	"wallet-watcher-engine/internal/infrastructure/ratelimit"
	"wallet-watcher-engine/internal/infrastructure/signer"
	"wallet-watcher-engine/internal/infrastructure/tracing"
	"wallet-watcher-engine/internal/interfaces/httpapi"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// stores holds the two logical tables
type stores struct {
	watchers   repository.KeyedStore
	strategies repository.KeyedStore
}

// marketClients are the HTTP metadata and price sources
type marketClients struct {
	jupiter     *market.JupiterClient
	dexScreener *market.DexScreenerClient
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.NewLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Create FX application
	app := fx.New(
		// Provide dependencies
		fx.Supply(cfg),
		fx.Supply(log),
		fx.Supply(&cfg.NATS),
		fx.Supply(&cfg.Neo4J),
		fx.Provide(func() *zap.Logger { return log.Logger }),

		// Infrastructure providers
		fx.Provide(
			clock.New,
			metrics.New,
			database.NewNeo4JClient,
			messaging.NewNATSClient,
			provideStores,
			provideRedis,
			provideLimiter,
			provideRuleRegistry,
			provideActivitySink,
			provideMarketClients,
			provideMetadataSources,
			providePriceSource,
			func(cfg *config.Config, log *logger.Logger) *signer.Client {
				return signer.NewClient(cfg.Signer.BaseURL, cfg.Signer.APIKey, cfg.Signer.Timeout, log)
			},
			func(client *messaging.NATSClient, cfg *config.Config, log *logger.Logger) *messaging.NATSConsumer {
				return messaging.NewNATSConsumer(client, &cfg.NATS, cfg.Webhook.MaxBatch, log)
			},
		),

		// Domain services
		fx.Provide(
			domain_service.NewFingerprintEngine,
		),

		// Application providers
		fx.Provide(
			provideResolver,
			provideWatcherService,
			provideEnrichmentService,
			provideScheduler,
			provideServer,
		),

		// Lifecycle hooks
		fx.Invoke(startTracing),
		fx.Invoke(startConnections),
		fx.Invoke(startNotificationConsumer),
		fx.Invoke(startScheduler),
		fx.Invoke(startHTTPServer),
		fx.Invoke(startMetricsServer),

		// Configure logging
		fx.WithLogger(func() fxevent.Logger {
			return fxevent.NopLogger
		}),
	)

	// Start the application
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down application...")

	// Stop the application
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Stop(stopCtx); err != nil {
		log.Error("Failed to stop application gracefully", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
}

// provideStores opens the configured KeyedStore backend for both tables
func provideStores(lifecycle fx.Lifecycle, cfg *config.Config, neo4jClient *database.Neo4JClient, clk clock.Clock, log *logger.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case "neo4j":
		lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				log.Info("Connecting to Neo4J database")
				if err := neo4jClient.Connect(ctx); err != nil {
					return fmt.Errorf("failed to connect to Neo4J: %w", err)
				}
				log.Info("Successfully connected to Neo4J database")
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return neo4jClient.Close(ctx)
			},
		})
		return &stores{
			watchers:   database.NewNeo4JKeyedStore(neo4jClient, cfg.Store.WatcherTable, clk, log),
			strategies: database.NewNeo4JKeyedStore(neo4jClient, cfg.Store.StrategiesTable, clk, log),
		}, nil

	case "postgres":
		db, err := database.OpenPostgres(context.Background(), &cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return db.Close() },
		})
		return &stores{
			watchers:   database.NewPostgresKeyedStore(db, cfg.Store.WatcherTable, clk, log),
			strategies: database.NewPostgresKeyedStore(db, cfg.Store.StrategiesTable, clk, log),
		}, nil

	case "memory":
		log.Warn("Using the in-memory store, data is lost on restart")
		return &stores{
			watchers:   database.NewMemoryKeyedStore(clk),
			strategies: database.NewMemoryKeyedStore(clk),
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// provideRedis returns nil when Redis is disabled
func provideRedis(lifecycle fx.Lifecycle, cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return client.Close() },
	})
	return client
}

func provideLimiter(cfg *config.Config, rdb *redis.Client, clk clock.Clock) ratelimit.Limiter {
	switch {
	case !cfg.RateLimit.Enabled:
		return ratelimit.Unlimited{}
	case rdb != nil:
		return ratelimit.NewRedisFixedWindow(rdb, cfg.RateLimit.Window, cfg.RateLimit.Limit)
	default:
		return ratelimit.NewMemoryFixedWindow(cfg.RateLimit.Window, cfg.RateLimit.Limit, clk)
	}
}

func provideRuleRegistry(cfg *config.Config, client *messaging.NATSClient, log *logger.Logger) domain_service.RuleRegistry {
	if !cfg.NATS.Enabled {
		log.Warn("NATS is disabled, rules are kept in memory")
		return messaging.NewMemoryRuleRegistry()
	}
	return messaging.NewNATSRuleRegistry(client, &cfg.NATS, log)
}

func provideActivitySink(lifecycle fx.Lifecycle, cfg *config.Config, log *logger.Logger) (domain_service.ActivitySink, error) {
	if !cfg.Kafka.Enabled {
		return domain_service.NopActivitySink{}, nil
	}
	sink, err := messaging.NewKafkaActivitySink(&cfg.Kafka, log)
	if err != nil {
		return nil, err
	}
	lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sink.Close()
			return nil
		},
	})
	return sink, nil
}

func provideMarketClients(cfg *config.Config, log *logger.Logger) *marketClients {
	return &marketClients{
		jupiter:     market.NewJupiterClient(cfg.Metadata.JupiterTokenURL, cfg.Metadata.JupiterPriceURL, cfg.Metadata.Timeout, log),
		dexScreener: market.NewDexScreenerClient(cfg.Metadata.DexScreenerURL, cfg.Metadata.Timeout, log),
	}
}

// provideMetadataSources orders the waterfall. The HTTP tiers share a
// per-second budget across replicas when Redis is available.
func provideMetadataSources(cfg *config.Config, clients *marketClients, rdb *redis.Client, log *logger.Logger) []domain_service.MetadataSource {
	httpTiers := []domain_service.MetadataSource{clients.jupiter, clients.dexScreener}
	if rdb != nil && cfg.Metadata.SourceRatePerSecond > 0 {
		limiter := redis_rate.NewLimiter(rdb)
		for i, source := range httpTiers {
			httpTiers[i] = market.NewThrottledSource(source, limiter, cfg.Metadata.SourceRatePerSecond, log)
		}
	}
	return append(httpTiers, blockchain.NewSolanaClient(cfg.Solana.RPCURL, cfg.Solana.Timeout, log))
}

func providePriceSource(clients *marketClients, log *logger.Logger) domain_service.PriceSource {
	return market.NewFallbackPriceSource(log, clients.jupiter, clients.dexScreener)
}

func provideResolver(
	cfg *config.Config,
	sources []domain_service.MetadataSource,
	prices domain_service.PriceSource,
	clk clock.Clock,
	m *metrics.Metrics,
	log *logger.Logger,
) domain_service.TokenMetadataResolver {
	metadataCache := cache.NewTTLCache[string, *entity.TokenMetadata](cfg.Metadata.CacheTTL, clk)
	return app_service.NewTokenMetadataResolver(sources, prices, metadataCache, m, log)
}

func provideWatcherService(
	cfg *config.Config,
	s *stores,
	rules domain_service.RuleRegistry,
	fingerprint domain_service.FingerprintEngine,
	clk clock.Clock,
	log *logger.Logger,
) domain_service.WatcherService {
	return app_service.NewWatcherService(s.watchers, rules, fingerprint, clk, cfg.NATS.RuleTarget, cfg.App.ActivityView, log)
}

func provideEnrichmentService(
	cfg *config.Config,
	s *stores,
	resolver domain_service.TokenMetadataResolver,
	sink domain_service.ActivitySink,
	clk clock.Clock,
	m *metrics.Metrics,
	log *logger.Logger,
) domain_service.EnrichmentPipeline {
	seen := cache.NewTTLCache[string, struct{}](cfg.Webhook.DedupTTL, clk)
	return app_service.NewEnrichmentService(s.watchers, resolver, sink, seen, clk, m, &cfg.Webhook, log)
}

func provideScheduler(
	cfg *config.Config,
	s *stores,
	signerClient *signer.Client,
	prices domain_service.PriceSource,
	clk clock.Clock,
	m *metrics.Metrics,
	log *logger.Logger,
) domain_service.StrategyScheduler {
	return app_service.NewStrategyScheduler(s.strategies, signerClient, signerClient, prices, clk, m, &cfg.Scheduler, log)
}

func provideServer(
	cfg *config.Config,
	watchers domain_service.WatcherService,
	pipeline domain_service.EnrichmentPipeline,
	scheduler domain_service.StrategyScheduler,
	limiter ratelimit.Limiter,
	clk clock.Clock,
	m *metrics.Metrics,
	log *logger.Logger,
) *httpapi.Server {
	return httpapi.NewServer(watchers, pipeline, scheduler, limiter, clk, m, cfg, log)
}

// startTracing installs the tracer provider before anything else starts
func startTracing(lifecycle fx.Lifecycle, cfg *config.Config, log *logger.Logger) {
	var shutdown func(context.Context) error
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = tracing.Setup(ctx, &cfg.Tracing, log)
			return err
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

// startConnections connects to NATS when it is enabled
func startConnections(lifecycle fx.Lifecycle, cfg *config.Config, client *messaging.NATSClient, log *logger.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.NATS.Enabled {
				log.Info("NATS is disabled")
				return nil
			}

			log.Info("NATS Configuration",
				zap.String("url", cfg.NATS.URL),
				zap.String("stream_name", cfg.NATS.StreamName),
				zap.String("rules_bucket", cfg.NATS.RulesBucket),
				zap.Bool("consume_notifications", cfg.NATS.ConsumeNotifications),
			)
			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if !cfg.NATS.Enabled {
				return nil
			}
			return client.Close()
		},
	})
}

// startNotificationConsumer feeds batches from the message bus into the pipeline
func startNotificationConsumer(
	lifecycle fx.Lifecycle,
	consumer *messaging.NATSConsumer,
	pipeline domain_service.EnrichmentPipeline,
	log *logger.Logger,
) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := consumer.Start(); err != nil {
				return fmt.Errorf("failed to start notification consumer: %w", err)
			}
			go processNotifications(runCtx, consumer, pipeline, log, done)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping notification consumer...")
			err := consumer.Stop()
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return err
		},
	})
}

func processNotifications(
	ctx context.Context,
	consumer *messaging.NATSConsumer,
	pipeline domain_service.EnrichmentPipeline,
	log *logger.Logger,
	done chan<- struct{},
) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-consumer.Batches():
			result := pipeline.ProcessBatch(ctx, batch)
			log.Info("Processed notification batch",
				zap.Int("received", result.Received),
				zap.Int("processed", result.Processed))
		}
	}
}

// startScheduler triggers a scheduler tick on every interval
func startScheduler(
	lifecycle fx.Lifecycle,
	cfg *config.Config,
	scheduler domain_service.StrategyScheduler,
	clk clock.Clock,
	log *logger.Logger,
) {
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Interval <= 0 {
		log.Info("In-process scheduler is disabled, use POST /scheduler/tick")
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(cfg.Scheduler.Interval)
				defer ticker.Stop()

				for {
					select {
					case <-runCtx.Done():
						return
					case <-ticker.C:
						if _, err := scheduler.Tick(runCtx, clk.Now()); err != nil {
							log.Error("Scheduler tick failed", zap.Error(err))
						}
					}
				}
			}()
			log.Info("Scheduler started", zap.Duration("interval", cfg.Scheduler.Interval))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping scheduler...")
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

// startHTTPServer serves the API, webhook ingestion and health routes
func startHTTPServer(lifecycle fx.Lifecycle, cfg *config.Config, api *httpapi.Server, log *logger.Logger) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting HTTP server...", zap.Int("port", cfg.App.HTTPPort))

			// Start server in background
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("HTTP server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping HTTP server...")
			return server.Shutdown(ctx)
		},
	})
}

// startMetricsServer exposes /metrics on its own port
func startMetricsServer(lifecycle fx.Lifecycle, cfg *config.Config, m *metrics.Metrics, log *logger.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting metrics server...", zap.Int("port", cfg.Metrics.Port))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
