package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainintel_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainintel_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Risk engine metrics
	RiskAnalyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_risk_analyses_total",
			Help: "Total number of risk analyses",
		},
		[]string{"level", "status"}, // status: success|error
	)

	RiskAnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainintel_risk_analysis_duration_seconds",
			Help:    "Risk analysis duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	RiskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainintel_risk_score",
			Help:    "Distribution of risk scores",
			Buckets: prometheus.LinearBuckets(10, 10, 10), // 10..100
		},
	)

	RiskPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_risk_points_total",
			Help: "Occurrences of triggered risk points",
		},
		[]string{"type"},
	)

	AIAnalyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_ai_analyses_total",
			Help: "AI analysis step outcomes",
		},
		[]string{"status"}, // status: ok|degraded
	)

	// Pipeline metrics
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_events_processed_total",
			Help: "Events handled by the processor",
		},
		[]string{"source", "status"}, // status: Success|Alerted|Failed|skipped|invalid
	)

	EventProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainintel_event_processing_duration_seconds",
			Help:    "Per-event processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	EventErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_event_errors_total",
			Help: "Processing errors by kind",
		},
		[]string{"kind"}, // validation|profile|analysis|storage|notification|general
	)

	EventRiskLevels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_event_risk_level_total",
			Help: "Processed events by risk level",
		},
		[]string{"level"},
	)

	SeenCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainintel_seen_cache_size",
			Help: "Entries in the live dedup cache",
		},
	)

	SeenCacheResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chainintel_seen_cache_resets_total",
			Help: "Times the live dedup cache was cleared after reaching capacity",
		},
	)

	// Notification metrics
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_notifications_sent_total",
			Help: "Notification dispatch attempts",
		},
		[]string{"channel", "status"}, // status: success|error
	)

	NotificationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainintel_notification_latency_seconds",
			Help:    "Notification send latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	NotificationsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_notifications_skipped_total",
			Help: "Notifications not sent",
		},
		[]string{"reason"}, // no_template|no_receiver|rate_limited|batched|render_error
	)

	BatchFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_batch_flushes_total",
			Help: "Merged batch notifications",
		},
		[]string{"trigger"}, // max|sweep
	)

	Emergencies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chainintel_emergency_notifications_total",
			Help: "Notifications that bypassed rate limiting",
		},
	)

	// Replay metrics
	ReplayRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_replay_runs_total",
			Help: "Replay attempts",
		},
		[]string{"chain_id", "status"}, // status: success|failed
	)

	ReplayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainintel_replay_duration_seconds",
			Help:    "Replay attempt duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"chain_id"},
	)

	ReplayEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_replay_events_total",
			Help: "Events replayed by outcome",
		},
		[]string{"chain_id", "status"}, // status: processed|high_risk|failed
	)

	ReplayLastBlock = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainintel_replay_last_block",
			Help: "Last block covered by a successful replay",
		},
		[]string{"chain_id"},
	)

	// Chain metrics
	ChainHeads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_chain_blocks_total",
			Help: "Blocks delivered by the live subscription",
		},
		[]string{"chain_id"},
	)

	// Analytics metrics
	RecentRiskLevels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainintel_recent_risk_levels",
			Help: "Reports per level over the digest window, from the analytics store",
		},
		[]string{"chain_id", "level"},
	)

	// System metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainintel_kafka_messages_total",
			Help: "Total Kafka messages",
		},
		[]string{"topic", "direction", "status"}, // direction: in|out
	)
)

var initOnce sync.Once

// Init registers all metrics with Prometheus
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			WorkerExecutions, WorkerDuration, WorkerLastRun,
			RiskAnalyses, RiskAnalysisDuration, RiskScore, RiskPoints, AIAnalyses,
			EventsProcessed, EventProcessingDuration, EventErrors, EventRiskLevels,
			SeenCacheSize, SeenCacheResets,
			NotificationsSent, NotificationLatency, NotificationsSkipped, BatchFlushes, Emergencies,
			ReplayRuns, ReplayDuration, ReplayEvents, ReplayLastBlock,
			ChainHeads,
			RecentRiskLevels,
			KafkaMessages,
		)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, statusOf(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordRiskAnalysis records one engine run. points are the triggered point types.
func RecordRiskAnalysis(level string, score float64, points []string, duration time.Duration, err error) {
	RiskAnalysisDuration.Observe(duration.Seconds())
	if err != nil {
		RiskAnalyses.WithLabelValues("none", "error").Inc()
		return
	}
	RiskAnalyses.WithLabelValues(level, "success").Inc()
	RiskScore.Observe(score)
	for _, p := range points {
		RiskPoints.WithLabelValues(p).Inc()
	}
}

// RecordAIAnalysis records whether the AI step produced a full or degraded result
func RecordAIAnalysis(degraded bool) {
	if degraded {
		AIAnalyses.WithLabelValues("degraded").Inc()
		return
	}
	AIAnalyses.WithLabelValues("ok").Inc()
}

// RecordEvent records a processor outcome
func RecordEvent(source, status string, duration time.Duration) {
	EventsProcessed.WithLabelValues(source, status).Inc()
	EventProcessingDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordEventError counts a processing error by kind
func RecordEventError(kind string) {
	EventErrors.WithLabelValues(kind).Inc()
}

// RecordRiskLevel counts a processed event's level
func RecordRiskLevel(level string) {
	EventRiskLevels.WithLabelValues(level).Inc()
}

// RecordNotification records a single channel send
func RecordNotification(channel string, latency time.Duration, err error) {
	NotificationsSent.WithLabelValues(channel, statusOf(err)).Inc()
	NotificationLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// RecordNotificationSkipped counts a suppressed notification
func RecordNotificationSkipped(reason string) {
	NotificationsSkipped.WithLabelValues(reason).Inc()
}

// RecordReplay records the outcome of one replay attempt
func RecordReplay(chainID string, duration time.Duration, processed, highRisk, failed int, lastBlock uint64, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	ReplayRuns.WithLabelValues(chainID, status).Inc()
	ReplayDuration.WithLabelValues(chainID).Observe(duration.Seconds())
	ReplayEvents.WithLabelValues(chainID, "processed").Add(float64(processed))
	ReplayEvents.WithLabelValues(chainID, "high_risk").Add(float64(highRisk))
	ReplayEvents.WithLabelValues(chainID, "failed").Add(float64(failed))
	if err == nil {
		ReplayLastBlock.WithLabelValues(chainID).Set(float64(lastBlock))
	}
}

// RecordKafkaMessage records a message in or out
func RecordKafkaMessage(topic, direction string, err error) {
	KafkaMessages.WithLabelValues(topic, direction, statusOf(err)).Inc()
}
