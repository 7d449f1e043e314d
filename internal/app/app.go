package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"benefit-worker/internal/brokers"
	"benefit-worker/internal/brokers/kafka"
	commonhttp "benefit-worker/internal/common/http"
	"benefit-worker/internal/common/logging"
	"benefit-worker/internal/config"
	"benefit-worker/internal/enrichers"
	"benefit-worker/internal/metrics"
	"benefit-worker/internal/oauth2"
	"benefit-worker/internal/pipeline"
	"benefit-worker/internal/routing"
)

// App holds all the application dependencies
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Tokens   *oauth2.TokenCache
	Benefits *enrichers.BenefitsClient
	Broker   brokers.Broker
	Pipeline *pipeline.Pipeline
	Logger   logging.Logger
}

// New creates the worker with all dependencies. The first token is fetched
// here, so bad credentials fail startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := newApp(cfg)

	if err := app.initializeUpstream(ctx); err != nil {
		return nil, err
	}

	if err := app.initializeBroker(); err != nil {
		return nil, err
	}

	app.initializePipeline()
	return app, nil
}

func newApp(cfg *config.Config) *App {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		Config:   cfg,
		Registry: registry,
		Metrics:  metrics.New(registry),
		Logger:   logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}
}

// initializeUpstream creates the token cache and the benefits client, which
// share one HTTP client and its timeouts.
func (app *App) initializeUpstream(ctx context.Context) error {
	upstream := app.Config.Upstream
	client := commonhttp.NewHTTPClientWithTimeout(upstream.HTTPTimeout)

	tokens, err := oauth2.NewTokenCache(ctx, oauth2.TokenCacheConfig{
		BaseURL:  upstream.STSBaseURL,
		Username: upstream.Username,
		Password: upstream.Password,
	}, client, oauth2.WithMetrics(app.Metrics))
	if err != nil {
		return fmt.Errorf("failed to fetch initial token: %w", err)
	}
	app.Tokens = tokens

	benefits, err := enrichers.NewBenefitsClient(enrichers.BenefitsConfig{
		BaseURL:           upstream.BenefitsBaseURL,
		MaxFeedPages:      upstream.FeedMaxPages,
		RequestsPerSecond: upstream.RequestsPerSec,
	}, tokens, client, app.Metrics)
	if err != nil {
		return err
	}
	app.Benefits = benefits

	app.Logger.Info("Upstream clients initialized",
		logging.String("benefits_url", upstream.BenefitsBaseURL),
		logging.String("sts_url", upstream.STSBaseURL),
		logging.Duration("timeout", upstream.HTTPTimeout),
	)
	return nil
}

func (app *App) initializeBroker() error {
	kafkaConfig := &kafka.Config{
		Brokers:          app.Config.Kafka.Brokers,
		ClientID:         app.Config.Kafka.ClientID,
		GroupID:          app.Config.Kafka.GroupID,
		SecurityProtocol: app.Config.Kafka.SecurityProtocol,
		SASLMechanism:    app.Config.Kafka.SASLMechanism,
		Timeout:          app.Config.Upstream.HTTPTimeout,
	}
	// The service user doubles as the stream credential
	if app.Config.SASLEnabled() {
		kafkaConfig.SASLUsername = app.Config.Upstream.Username
		kafkaConfig.SASLPassword = app.Config.Upstream.Password
	}

	broker, err := kafka.NewBroker(kafkaConfig)
	if err != nil {
		return err
	}
	app.Broker = broker
	return nil
}

func (app *App) initializePipeline() {
	engine := routing.NewDefaultRuleEngine(app.Config.NeedType, app.Config.CreatedCutover)

	app.Pipeline = pipeline.New(engine, app.Benefits, app.Broker, pipeline.Options{
		Workers: app.Config.WorkerCount,
		Tag:     app.Config.NeedType,
		Metrics: app.Metrics,
	})

	app.Logger.Info("Pipeline initialized",
		logging.Strings("rules", engine.Rules()),
		logging.Int("workers", app.Config.WorkerCount),
	)
}

// Ready reports whether the worker is consuming and the stream is reachable
func (app *App) Ready() error {
	if app.Pipeline == nil || !app.Pipeline.Running() {
		return fmt.Errorf("consumer is not running")
	}
	if app.Broker != nil {
		if err := app.Broker.Health(); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Broker != nil {
		if err := app.Broker.Close(); err != nil {
			app.Logger.Warn("Error closing broker", logging.Err(err))
		}
	}
}
