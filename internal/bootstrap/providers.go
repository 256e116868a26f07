package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"chainintel/internal/adapters/ai"
	"chainintel/internal/adapters/chain"
	chclient "chainintel/internal/adapters/clickhouse"
	"chainintel/internal/adapters/config"
	"chainintel/internal/adapters/email"
	errnoop "chainintel/internal/adapters/errors/noop"
	"chainintel/internal/adapters/errors/sentry"
	"chainintel/internal/adapters/kafka"
	pgclient "chainintel/internal/adapters/postgres"
	redisclient "chainintel/internal/adapters/redis"
	"chainintel/internal/adapters/telegram"
	"chainintel/internal/adapters/webhook"
	"chainintel/internal/api"
	"chainintel/internal/api/health"
	"chainintel/internal/domain/notification"
	"chainintel/internal/domain/risk"
	"chainintel/internal/metrics"
	"chainintel/internal/normalize"
	chrepo "chainintel/internal/repository/clickhouse"
	pgrepo "chainintel/internal/repository/postgres"
	redisrepo "chainintel/internal/repository/redis"
	notificationservice "chainintel/internal/services/notification"
	pipelineservice "chainintel/internal/services/pipeline"
	replayservice "chainintel/internal/services/replay"
	riskservice "chainintel/internal/services/risk"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
	"chainintel/pkg/templates"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure initializes data stores (Postgres, ClickHouse, Redis)
func (c *Container) MustInitInfrastructure() {
	var err error

	c.Log.Info("Connecting to PostgreSQL...")
	c.PG, err = pgclient.NewClient(c.Context, c.Config.Postgres)
	if err != nil {
		c.Log.Fatalf("failed to connect postgres: %v", err)
	}
	c.Log.Info("✓ PostgreSQL connected")

	if c.Config.ClickHouse.Enabled {
		c.Log.Info("Connecting to ClickHouse...")
		c.CH, err = chclient.NewClient(c.Context, c.Config.ClickHouse)
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		c.Log.Info("✓ ClickHouse connected")
	} else {
		c.Log.Info("ClickHouse disabled, risk analytics will not be recorded")
	}

	c.Log.Info("Connecting to Redis...")
	c.Redis, err = redisclient.NewClient(c.Context, c.Config.Redis)
	if err != nil {
		c.Log.Fatalf("failed to connect redis: %v", err)
	}
	c.Log.Info("✓ Redis connected")
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories initializes all stores
func (c *Container) MustInitRepositories() {
	db := c.PG.DB()

	c.Repos.Events = pgrepo.NewEventRepository(db)
	c.Repos.Status = pgrepo.NewEventStatusRepository(db)
	c.Repos.ReplayJobs = pgrepo.NewReplayJobRepository(db)
	c.Repos.Profiles = redisrepo.NewProfileCache(
		c.Redis,
		pgrepo.NewAddressProfileRepository(db),
		c.Config.Redis.ProfileTTL,
		c.Log,
	)

	if c.CH != nil {
		c.Repos.RiskReports = chrepo.NewRiskReportRepository(
			c.CH.Conn(),
			c.Config.ClickHouse.BatchSize,
			c.Config.ClickHouse.FlushInterval,
		)
	}

	c.Log.Info("✓ Repositories initialized")
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters initializes the chain client, notification senders, Kafka and the optional LLM
func (c *Container) MustInitAdapters() {
	var err error

	c.Log.Infow("Dialing chain RPC...", "chain_id", c.Config.Chain.ID)
	c.Adapters.Chain, err = chain.Dial(c.Context, chain.Config{
		ChainID:                c.Config.Chain.ID,
		RPCURL:                 c.Config.Chain.RPCURL,
		WSURL:                  c.Config.Chain.WSURL,
		Confirmations:          c.Config.Chain.Confirmations,
		IncludeNativeTransfers: c.Config.Chain.IncludeNativeTransfers,
		StallTimeout:           c.Config.Chain.StallTimeout,
	}, c.Log)
	if err != nil {
		c.Log.Fatalf("failed to dial chain: %v", err)
	}
	c.Log.Info("✓ Chain client connected")

	c.Adapters.Senders = provideSenders(c.Config, c.Log)

	if c.Config.Kafka.Enabled {
		c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
		if !c.oneShot {
			c.Adapters.EventConsumer = provideKafkaConsumer(c.Config, kafka.TopicChainEvents, c.Log)
		}
	}

	if c.Config.AI.OpenAIKey != "" {
		summarizer, err := ai.NewOpenAISummarizer(c.Config.AI.OpenAIKey, c.Config.AI.OpenAIModel, c.Config.AI.Timeout)
		if err != nil {
			c.Log.Warnw("LLM summarizer unavailable, using heuristic summaries", "error", err)
		} else {
			c.Adapters.Summarizer = summarizer
			c.Log.Infow("✓ LLM summarizer initialized", "model", c.Config.AI.OpenAIModel)
		}
	}
}

// ========================================
// Phase 5: Pipeline Services
// ========================================

// MustInitServices builds the risk engine, router, processor and replay orchestrator
func (c *Container) MustInitServices() {
	rules, err := provideRuleSet(c.Config.Risk)
	if err != nil {
		c.Log.Fatalf("invalid risk configuration: %v", err)
	}
	c.Services.Rules = rules
	c.Services.Engine = riskservice.NewEngine(rules, riskservice.NewHeuristicAnalyzer(rules, c.Adapters.Summarizer), c.Log)

	routerCfg, err := provideRouterConfig(c.Config.Notify)
	if err != nil {
		c.Log.Fatalf("invalid notification configuration: %v", err)
	}
	c.Services.Router = notificationservice.NewRouter(routerCfg, templates.Get(), c.Log, c.Adapters.Senders...)
	c.Log.Infow("✓ Notification router initialized",
		"receivers", len(routerCfg.Receivers),
		"senders", len(c.Adapters.Senders),
	)

	alertLevel, ok := risk.ParseLevel(c.Config.Pipeline.AlertLevel)
	if !ok {
		c.Log.Fatalf("invalid PIPELINE_ALERT_LEVEL %q", c.Config.Pipeline.AlertLevel)
	}

	deps := pipelineservice.Deps{
		Config: pipelineservice.Config{
			ChainID:       c.Config.Chain.ID,
			AlertLevel:    alertLevel,
			SeenCacheSize: c.Config.Pipeline.SeenCacheSize,
			CallTimeout:   c.Config.Pipeline.CallTimeout,
			HistoryLimit:  c.Config.Risk.HistoryLimit,
			HistoryWindow: c.Config.Risk.HistoryWindow,
		},
		Normalizer: normalize.New(),
		Profiles:   c.Repos.Profiles,
		Activity:   c.Repos.Profiles,
		Engine:     c.Services.Engine,
		Router:     c.Services.Router,
		Events:     c.Repos.Events,
		Status:     c.Repos.Status,
		Log:        c.Log,
	}
	if c.Repos.RiskReports != nil {
		deps.Analytics = c.Repos.RiskReports
	}
	if c.Adapters.KafkaProducer != nil {
		deps.Publisher = c.Adapters.KafkaProducer
	}

	c.Services.Processor = pipelineservice.NewProcessor(deps)
	c.Services.Ingestor = pipelineservice.NewIngestor(c.Services.Processor, c.Config.Pipeline.LiveConcurrency, c.Log)

	c.Services.Replay = replayservice.NewOrchestrator(replayservice.Config{
		BatchSize:        c.Config.Replay.BatchSize,
		QueryChunkBlocks: c.Config.Replay.QueryChunkBlocks,
		MaxRetries:       c.Config.Replay.MaxRetries,
		RetryDelay:       c.Config.Replay.RetryDelay,
	}, c.Adapters.Chain, c.Services.Processor, c.Repos.ReplayJobs, c.Log)

	if c.Config.Replay.CronEnabled && !c.oneShot {
		c.Services.ReplayCron, err = replayservice.NewCronScheduler(
			c.Config.Replay.CronSpec,
			c.Config.Replay.LookbackBlocks,
			c.Log,
			c.Services.Replay,
		)
		if err != nil {
			c.Log.Fatalf("failed to create replay scheduler: %v", err)
		}
	}

	c.Log.Info("✓ Pipeline services initialized")
}

// ========================================
// Phase 6: Background Workers
// ========================================

// MustInitBackground registers periodic workers
func (c *Container) MustInitBackground() {
	scheduler, registry, err := provideWorkers(c)
	if err != nil {
		c.Log.Fatalf("failed to register workers: %v", err)
	}
	c.Background.WorkerScheduler = scheduler
	c.Background.WorkerRegistry = registry
	c.Log.Infow("✓ Workers registered", "count", registry.Count())
}

// ========================================
// Phase 7: Application Layer
// ========================================

// MustInitApplication registers metrics and builds the HTTP server
func (c *Container) MustInitApplication() {
	metrics.Init()
	prometheus.MustRegister(metrics.NewStatusCollector(c.Log, c.Repos.Status))

	checks := map[string]health.Checker{
		"postgres": c.PG,
		"redis":    c.Redis,
		"chain": health.CheckerFunc(func(ctx context.Context) error {
			_, err := c.Adapters.Chain.BlockNumber(ctx)
			return err
		}),
	}
	if c.CH != nil {
		checks["clickhouse"] = c.CH
	}

	c.Application.HealthHandler = health.New(c.Log, c.Config.App.Name, c.Config.App.Version, checks)
	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Port:        c.Config.HTTP.Port,
		ServiceName: c.Config.App.Name,
		Version:     c.Config.App.Version,
		Stats:       c.Services.Processor,
		Workers:     c.Background.WorkerRegistry,
	}, c.Application.HealthHandler, c.Log)

	c.Log.Infow("✓ HTTP server configured", "port", c.Config.HTTP.Port)
}

// ========================================
// Provider helpers
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

// provideSenders builds one sender per configured channel. Discord needs no credentials.
func provideSenders(cfg *config.Config, log *logger.Logger) []notification.Sender {
	senders := []notification.Sender{
		webhook.NewSender(webhook.Config{
			Timeout:  cfg.Webhook.Timeout,
			Username: cfg.Webhook.Username,
		}, log),
	}

	if cfg.Telegram.BotToken != "" {
		bot, err := telegram.NewBot(telegram.Config{
			Token:         cfg.Telegram.BotToken,
			RateLimitRate: cfg.Telegram.RateLimit,
		}, log)
		if err != nil {
			log.Warnw("Telegram channel disabled", "error", err)
		} else {
			senders = append(senders, bot)
		}
	} else {
		log.Info("Telegram channel disabled (no bot token)")
	}

	if cfg.SMTP.Host != "" {
		senders = append(senders, email.NewSender(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, log))
	} else {
		log.Info("Email channel disabled (no SMTP host)")
	}

	return senders
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	log.Info("Initializing Kafka producer...")
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
	})
	log.Info("✓ Kafka producer initialized")
	return producer
}

func provideKafkaConsumer(cfg *config.Config, topic string, log *logger.Logger) *kafka.Consumer {
	log.Infow("Initializing Kafka consumer", "topic", topic)
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   topic,
	})
	log.Infow("✓ Kafka consumer initialized", "topic", topic)
	return consumer
}

// provideRuleSet overlays the configured tunables on the default rule set
func provideRuleSet(cfg config.RiskConfig) (riskservice.RuleSet, error) {
	rules := riskservice.DefaultRuleSet()

	rules.DimensionWeights = map[risk.Dimension]float64{
		risk.DimensionFlow:        cfg.FlowWeight,
		risk.DimensionBehavior:    cfg.BehaviorWeight,
		risk.DimensionAssociation: cfg.AssociationWeight,
		risk.DimensionHistorical:  cfg.HistoricalWeight,
	}
	for dim, w := range rules.DimensionWeights {
		if w < 0 || w > 1 {
			return rules, errors.NewValidationError("RISK_"+string(dim)+"_WEIGHT", "must be within [0, 1]", w)
		}
	}

	thresholds, err := nativeAmounts("RISK_LARGE_TRANSFER_THRESHOLDS", cfg.LargeTransferThresholds)
	if err != nil {
		return rules, err
	}
	rules.LargeTransferThresholds = thresholds

	rules.FrequentTxCount = cfg.FrequentTxCount
	rules.IrregularCount = cfg.IrregularCount
	rules.IrregularWindow = cfg.IrregularWindow
	rules.NewAccountAge = cfg.NewAccountAge
	rules.DormantAge = cfg.DormantAge
	rules.RiskNeighborRatio = cfg.RiskNeighborRatio

	if cfg.AIScoreWeight < 0 || cfg.AIScoreWeight > 1 {
		return rules, errors.NewValidationError("RISK_AI_SCORE_WEIGHT", "must be within [0, 1]", cfg.AIScoreWeight)
	}
	rules.AIScoreWeight = cfg.AIScoreWeight

	return rules, nil
}

// provideRouterConfig loads the receivers file and overlays the configured limits
func provideRouterConfig(cfg config.NotifyConfig) (notificationservice.Config, error) {
	rules, err := config.LoadNotifyRules(cfg.RulesFile)
	if err != nil {
		return notificationservice.Config{}, err
	}
	return routerConfig(cfg, rules)
}

func routerConfig(cfg config.NotifyConfig, rules *config.NotifyRules) (notificationservice.Config, error) {
	out := notificationservice.DefaultConfig()

	emergency, err := nativeAmounts("NOTIFY_EMERGENCY_AMOUNTS", cfg.EmergencyAmounts)
	if err != nil {
		return out, err
	}
	out.EmergencyAmounts = emergency
	out.EmergencyScore = cfg.EmergencyScore
	out.BatchWindow = cfg.BatchWindow
	out.BatchMin = cfg.BatchMinOperations
	out.BatchMax = cfg.BatchMaxOperations
	out.RateIntervals = map[notification.Bucket]time.Duration{
		notification.BucketHigh:   cfg.RateHigh,
		notification.BucketMedium: cfg.RateMedium,
		notification.BucketLow:    cfg.RateLow,
	}

	out.LevelChannels = make(map[notification.Bucket][]notification.Channel, len(rules.LevelChannels))
	for level, names := range rules.LevelChannels {
		bucket, ok := parseBucket(level)
		if !ok {
			return out, errors.NewValidationError("level_channels", "unknown risk level", level)
		}
		channels := make([]notification.Channel, 0, len(names))
		for _, name := range names {
			ch, ok := parseChannel(name)
			if !ok {
				return out, errors.NewValidationError("level_channels."+level, "unknown channel", name)
			}
			channels = append(channels, ch)
		}
		out.LevelChannels[bucket] = channels
	}

	out.Receivers = make([]notification.Receiver, 0, len(rules.Receivers))
	for _, r := range rules.Receivers {
		targets := make(map[notification.Channel]string, len(r.Channels))
		for name, target := range r.Channels {
			ch, ok := parseChannel(name)
			if !ok {
				return out, errors.NewValidationError("receivers."+r.ID+".channels", "unknown channel", name)
			}
			targets[ch] = target
		}
		out.Receivers = append(out.Receivers, notification.Receiver{
			ID:         r.ID,
			Name:       r.Name,
			Chains:     r.Chains,
			RiskLevels: upper(r.RiskLevels),
			EventTypes: upper(r.EventTypes),
			Targets:    targets,
		})
	}

	return out, nil
}

// nativeAmounts converts whole-coin amounts per chain to wei
func nativeAmounts(field string, in map[int64]string) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(in))
	for chainID, raw := range in {
		amount, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || amount.IsNegative() {
			return nil, errors.NewValidationError(field, "invalid native amount", raw)
		}
		out[chainID] = amount.Mul(riskservice.WeiPerNative)
	}
	return out, nil
}

func parseBucket(s string) (notification.Bucket, bool) {
	switch b := notification.Bucket(strings.ToUpper(strings.TrimSpace(s))); b {
	case notification.BucketHigh, notification.BucketMedium, notification.BucketLow:
		return b, true
	}
	return "", false
}

func parseChannel(s string) (notification.Channel, bool) {
	switch ch := notification.Channel(strings.ToLower(strings.TrimSpace(s))); ch {
	case notification.ChannelTelegram, notification.ChannelDiscord, notification.ChannelEmail:
		return ch, true
	}
	return "", false
}

// upper normalizes filter values; the wildcard is unaffected
func upper(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToUpper(strings.TrimSpace(v))
	}
	return out
}
