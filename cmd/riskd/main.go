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

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"crypto-risk-intelligence/internal/api"
	app_service "crypto-risk-intelligence/internal/application/service"
	"crypto-risk-intelligence/internal/domain/repository"
	domain_service "crypto-risk-intelligence/internal/domain/service"
	"crypto-risk-intelligence/internal/infrastructure/config"
	"crypto-risk-intelligence/internal/infrastructure/database"
	"crypto-risk-intelligence/internal/infrastructure/logger"
	"crypto-risk-intelligence/internal/infrastructure/messaging"
	"crypto-risk-intelligence/internal/infrastructure/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Supply(log),
		fx.Supply(&cfg.NATS),
		fx.Supply(&cfg.Neo4J),
		fx.Supply(&cfg.Kafka),

		// Infrastructure providers
		fx.Provide(
			database.NewNeo4JClient,
			newEntityStore,
			realtime.NewHub,
			newNotifiers,
			messaging.NewNATSConsumer,
		),

		// Domain services
		fx.Provide(
			func(store repository.EntityStore, cfg *config.Config, log *logger.Logger) *domain_service.GraphViewBuilder {
				return domain_service.NewGraphViewBuilder(store, cfg.Analytics.LinkLimit, log)
			},
			func(store repository.EntityStore, views *domain_service.GraphViewBuilder, cfg *config.Config, log *logger.Logger) *domain_service.RiskScoringService {
				return domain_service.NewRiskScoringService(store, views, scoringConfig(cfg), log)
			},
			func(store repository.EntityStore, notifiers []domain_service.AlertNotifier, cfg *config.Config, log *logger.Logger) *domain_service.AlertManager {
				return domain_service.NewAlertManager(store, alertingConfig(cfg), notifiers, log)
			},
		),

		// Application providers
		fx.Provide(
			func(
				views *domain_service.GraphViewBuilder,
				scoring *domain_service.RiskScoringService,
				alerts *domain_service.AlertManager,
				cfg *config.Config,
				log *logger.Logger,
			) *app_service.RiskIntelligenceService {
				return app_service.NewRiskIntelligenceService(views, scoring, alerts, analyticsConfig(cfg), log)
			},
			func(store repository.EntityStore, svc *app_service.RiskIntelligenceService, cfg *config.Config, log *logger.Logger) domain_service.IndexingService {
				return app_service.NewIndexingApplicationService(store, svc, cfg.App.WorkerPoolSize, log)
			},
			func(store repository.EntityStore, svc *app_service.RiskIntelligenceService, log *logger.Logger) *api.Handler {
				return api.NewHandler(svc, store, log)
			},
		),

		// Lifecycle hooks
		fx.Invoke(startIndexer),
		fx.Invoke(startHTTPServer),

		fx.WithLogger(func() fxevent.Logger {
			return fxevent.NopLogger
		}),
	)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down application...")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := app.Stop(stopCtx); err != nil {
		log.Error("Failed to stop application gracefully", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
}

// newEntityStore selects the configured backend and wraps it with the
// transient failure retry policy
func newEntityStore(lifecycle fx.Lifecycle, cfg *config.Config, client *database.Neo4JClient, log *logger.Logger) repository.EntityStore {
	var store repository.EntityStore
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		log.Warn("Using in-memory entity store, data is lost on restart")
		store = database.NewMemoryEntityStore()
	default:
		lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				log.Info("Connecting to Neo4J database")
				if err := client.Connect(ctx); err != nil {
					return fmt.Errorf("failed to connect to Neo4J: %w", err)
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return client.Close(ctx)
			},
		})
		store = database.NewNeo4JEntityStore(client, log)
	}
	return database.NewRetryingEntityStore(store, cfg.Store.RetryAttempts, cfg.Store.RetryBaseDelay, cfg.Store.RetryMaxDelay, log)
}

// newNotifiers builds the alert sinks. The websocket hub is always on; the
// NATS and Kafka sinks follow their config switches.
func newNotifiers(lifecycle fx.Lifecycle, cfg *config.Config, hub *realtime.Hub, log *logger.Logger) ([]domain_service.AlertNotifier, error) {
	notifiers := []domain_service.AlertNotifier{app_service.NewMeteredNotifier("websocket", hub)}

	if cfg.NATS.Enabled && cfg.NATS.PublishAlerts {
		pub, err := messaging.ConnectNATSAlertPublisher(&cfg.NATS, log)
		if err != nil {
			return nil, err
		}
		lifecycle.Append(fx.StopHook(pub.Close))
		notifiers = append(notifiers, app_service.NewMeteredNotifier("nats", pub))
	}

	if cfg.Kafka.Enabled {
		pub, err := messaging.ConnectKafkaAlertPublisher(&cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		lifecycle.Append(fx.StopHook(pub.Close))
		notifiers = append(notifiers, app_service.NewMeteredNotifier("kafka", pub))
	}

	return notifiers, nil
}

// startIndexer connects the transaction consumer and runs the batch
// processor until shutdown
func startIndexer(
	lifecycle fx.Lifecycle,
	consumer *messaging.NATSConsumer,
	indexingService domain_service.IndexingService,
	cfg *config.Config,
	log *logger.Logger,
) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	processor := app_service.NewBatchProcessor(indexingService, cfg.App.BatchSize, cfg.App.BatchTimeout, cfg.App.WorkerPoolSize, log)

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting indexing service...",
				zap.String("url", cfg.NATS.URL),
				zap.String("stream_name", cfg.NATS.StreamName),
				zap.String("subject", consumer.Subject()),
				zap.Bool("enabled", cfg.NATS.Enabled))

			if err := consumer.Connect(runCtx); err != nil {
				cancel()
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}

			go func() {
				defer close(done)
				processor.Run(runCtx, consumer.GetMessageChannel())
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping indexing service...")
			err := consumer.Disconnect()
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				log.Warn("Batch processor did not drain before shutdown deadline")
			}
			return err
		},
	})
}

// startHTTPServer serves the API, health, metrics and websocket endpoints
func startHTTPServer(
	lifecycle fx.Lifecycle,
	cfg *config.Config,
	handler *api.Handler,
	hub *realtime.Hub,
	log *logger.Logger,
) {
	hubCtx, stopHub := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler:           api.NewRouter(handler, hub, metricsPath(cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting HTTP server...", zap.Int("port", cfg.App.HTTPPort))
			go hub.Run(hubCtx)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("HTTP server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping HTTP server...")
			stopHub()
			return server.Shutdown(ctx)
		},
	})
}

func scoringConfig(cfg *config.Config) domain_service.ScoringConfig {
	out := domain_service.DefaultScoringConfig()
	s := cfg.Scoring
	if s.Lookback > 0 {
		out.Lookback = s.Lookback
	}
	if s.BurstWindow > 0 {
		out.BurstWindow = s.BurstWindow
	}
	if s.ShiftWindow > 0 {
		out.ShiftWindow = s.ShiftWindow
	}
	if s.CommunityCap > 0 {
		out.CommunityCap = s.CommunityCap
	}
	if s.CommunityAlgorithm != "" {
		out.CommunityAlgorithm = s.CommunityAlgorithm
	}
	if s.NeighborHops > 0 {
		out.NeighborHops = s.NeighborHops
	}
	if s.LinkLimit > 0 {
		out.LinkLimit = s.LinkLimit
	}
	if cfg.Analytics.BetweennessTimeout > 0 {
		out.BetweennessTimeout = cfg.Analytics.BetweennessTimeout
	}
	for name, w := range s.Weights {
		out.Weights[name] = w
	}
	return out
}

func alertingConfig(cfg *config.Config) domain_service.AlertingConfig {
	out := domain_service.DefaultAlertingConfig()
	a := cfg.Alerting
	if a.SeverityMergePolicy != "" {
		out.SeverityMergePolicy = a.SeverityMergePolicy
	}
	if a.CentralityJumpRatio > 0 {
		out.CentralityJumpRatio = a.CentralityJumpRatio
	}
	if a.UnverifiedBurstThreshold > 0 {
		out.UnverifiedBurstThreshold = a.UnverifiedBurstThreshold
	}
	for name, th := range a.FactorThresholds {
		out.FactorThresholds[name] = th
	}
	return out
}

func analyticsConfig(cfg *config.Config) app_service.AnalyticsConfig {
	out := app_service.DefaultAnalyticsConfig()
	a := cfg.Analytics
	if a.BetweennessTimeout > 0 {
		out.BetweennessTimeout = a.BetweennessTimeout
	}
	if a.TemporalTimeout > 0 {
		out.TemporalTimeout = a.TemporalTimeout
	}
	if a.DefaultWindow > 0 {
		out.DefaultWindow = a.DefaultWindow
	}
	if a.MaxWindows > 0 {
		out.MaxWindows = a.MaxWindows
	}
	if a.CommunityAlgorithm != "" {
		out.CommunityAlgorithm = a.CommunityAlgorithm
	}
	if a.TopN > 0 {
		out.TopN = a.TopN
	}
	return out
}

func metricsPath(cfg *config.Config) string {
	if !cfg.Metrics.Enabled {
		return ""
	}
	if cfg.Metrics.Path == "" {
		return "/metrics"
	}
	return cfg.Metrics.Path
}
