package bootstrap

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"chainintel/internal/adapters/chain"
	chclient "chainintel/internal/adapters/clickhouse"
	"chainintel/internal/adapters/config"
	"chainintel/internal/adapters/kafka"
	pgclient "chainintel/internal/adapters/postgres"
	redisclient "chainintel/internal/adapters/redis"
	"chainintel/internal/api"
	"chainintel/internal/api/health"
	"chainintel/internal/domain/notification"
	"chainintel/internal/domain/profile"
	"chainintel/internal/metrics"
	chrepo "chainintel/internal/repository/clickhouse"
	pgrepo "chainintel/internal/repository/postgres"
	notificationservice "chainintel/internal/services/notification"
	pipelineservice "chainintel/internal/services/pipeline"
	replayservice "chainintel/internal/services/replay"
	riskservice "chainintel/internal/services/risk"
	"chainintel/internal/workers"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (Data stores). CH is nil when ClickHouse is disabled.
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Repos       *Repositories
	Adapters    *Adapters
	Services    *Services
	Application *Application
	Background  *Background

	// Lifecycle management
	oneShot   bool
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups all stores
type Repositories struct {
	Events     *pgrepo.EventRepository
	Status     *pgrepo.EventStatusRepository
	ReplayJobs *pgrepo.ReplayJobRepository
	// Redis read-through cache over the Postgres profiles table
	Profiles profile.Repository
	// nil when ClickHouse is disabled
	RiskReports *chrepo.RiskReportRepository
}

// Adapters groups external integrations
type Adapters struct {
	Chain   *chain.Client
	Senders []notification.Sender

	// Kafka is optional; both are nil when disabled
	KafkaProducer *kafka.Producer
	EventConsumer *kafka.Consumer

	Summarizer riskservice.Summarizer
}

// Services groups the pipeline services
type Services struct {
	Rules      riskservice.RuleSet
	Engine     *riskservice.Engine
	Router     *notificationservice.Router
	Processor  *pipelineservice.Processor
	Ingestor   *pipelineservice.Ingestor
	Replay     *replayservice.Orchestrator
	ReplayCron *replayservice.CronScheduler
}

// Application groups the outer surfaces
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups periodic workers
type Background struct {
	WorkerScheduler *workers.Scheduler
	WorkerRegistry  *workers.Registry
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Services:    &Services{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in dependency order
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitServices()
	c.MustInitBackground()
	c.MustInitApplication()
}

// MustInitReplay initializes only what a one-shot replay needs:
// no HTTP server, workers, replay cron or Kafka consumer
func (c *Container) MustInitReplay() {
	c.oneShot = true
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitServices()
	metrics.Init()
}

// StartSinks starts the buffered analytics writer
func (c *Container) StartSinks() {
	if c.Repos.RiskReports != nil {
		c.Repos.RiskReports.Start(c.Context)
	}
}

// Start launches the HTTP server, workers and the replay cron. Live ingest runs in RunIngest.
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	c.StartSinks()

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	if c.Services.ReplayCron != nil {
		c.Services.ReplayCron.Start(c.Context)
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel()
		}
	}()

	c.Log.Infow("✓ All systems operational",
		"chain_id", c.Config.Chain.ID,
		"workers", len(c.Background.WorkerScheduler.GetWorkers()),
	)
	return nil
}

// RunIngest follows the chain head and, when enabled, the chain.events topic until ctx ends.
// The first failing source stops the other.
func (c *Container) RunIngest(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if c.Config.Chain.Live {
		g.Go(func() error {
			err := c.Adapters.Chain.Subscribe(gctx, c.Services.Ingestor.HandleEvents)
			if err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "chain subscription")
			}
			return nil
		})
	}

	if c.Adapters.EventConsumer != nil {
		g.Go(func() error {
			return c.Adapters.EventConsumer.Consume(gctx, c.Services.Ingestor.HandleMessage)
		})
	}

	c.Log.Infow("Live ingest started",
		"chain_id", c.Config.Chain.ID,
		"subscribe", c.Config.Chain.Live,
		"kafka", c.Adapters.EventConsumer != nil,
	)

	err := g.Wait()
	if err != nil {
		c.Log.ErrorWithContext(ctx, err, map[string]string{"component": "ingest"})
	}
	return err
}

// Shutdown performs graceful shutdown
func (c *Container) Shutdown() {
	c.Cancel()

	c.Lifecycle.Shutdown(ShutdownDeps{
		WG:            c.WG,
		HTTPServer:    c.Application.HTTPServer,
		Workers:       c.Background.WorkerScheduler,
		ReplayCron:    c.Services.ReplayCron,
		Ingestor:      c.Services.Ingestor,
		Router:        c.Services.Router,
		EventConsumer: c.Adapters.EventConsumer,
		Producer:      c.Adapters.KafkaProducer,
		RiskReports:   c.Repos.RiskReports,
		Chain:         c.Adapters.Chain,
		PG:            c.PG,
		CH:            c.CH,
		Redis:         c.Redis,
		ErrorTracker:  c.ErrorTracker,
	}, c.Log)
}
