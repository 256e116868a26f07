package pipelineservice

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"chainintel/internal/adapters/kafka"
	"chainintel/internal/domain/event"
	"chainintel/internal/domain/eventstatus"
	"chainintel/internal/domain/profile"
	"chainintel/internal/domain/risk"
	"chainintel/internal/metrics"
	riskservice "chainintel/internal/services/risk"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"

	"github.com/shopspring/decimal"
)

// Error kinds for the processing error counter
const (
	kindValidation   = "validation"
	kindProfile      = "profile"
	kindAnalysis     = "analysis"
	kindStorage      = "storage"
	kindNotification = "notification"
	kindGeneral      = "general"
)

// InvalidEventPrefix marks status records that failed validation and must not be re-driven
const InvalidEventPrefix = eventstatus.InvalidPrefix

// Normalizer turns raw events into canonical ones
type Normalizer interface {
	Normalize(chainID int64, raw event.RawEvent) (*event.NormalizedEvent, error)
}

// Analyzer scores a normalized event
type Analyzer interface {
	Analyze(ctx context.Context, ev *event.NormalizedEvent, prof *profile.AddressProfile,
		historical []*event.NormalizedEvent, opts ...riskservice.AnalyzeOption) (*risk.Report, error)
}

// Notifier routes analyzed events to receivers
type Notifier interface {
	Route(ctx context.Context, ev *event.NormalizedEvent, prof *profile.AddressProfile, report *risk.Report) (bool, error)
}

// ActivityRecorder updates address aggregates after an event is processed
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, chainID int64, address string, value decimal.Decimal, at time.Time) error
}

// Publisher emits alerted reports to the event bus
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, v interface{}) error
}

// Config holds processor tunables
type Config struct {
	// Default chain for raw events without one
	ChainID       int64
	AlertLevel    risk.Level
	SeenCacheSize int
	CallTimeout   time.Duration
	HistoryLimit  int
	HistoryWindow time.Duration
}

// Deps wires the processor. Activity, Analytics and Publisher are optional.
type Deps struct {
	Config     Config
	Normalizer Normalizer
	Profiles   profile.Provider
	Activity   ActivityRecorder
	Engine     Analyzer
	Router     Notifier
	Events     event.Repository
	Status     eventstatus.Repository
	Analytics  risk.AnalyticsRepository
	Publisher  Publisher
	Log        *logger.Logger
}

// Outcome describes what ProcessEvent did with one raw event
type Outcome struct {
	Status     eventstatus.Status
	Skipped    bool
	SkipReason string
	Event      *event.NormalizedEvent
	Report     *risk.Report
	Notified   bool
}

// MetricsSnapshot is the processor's in-process counters
type MetricsSnapshot struct {
	Processed     int64     `json:"processed"`
	Succeeded     int64     `json:"succeeded"`
	Alerted       int64     `json:"alerted"`
	Failed        int64     `json:"failed"`
	Skipped       int64     `json:"skipped"`
	Invalid       int64     `json:"invalid"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	SeenCacheSize int       `json:"seen_cache_size"`
	StartTime     time.Time `json:"start_time"`
}

type counters struct {
	processed  atomic.Int64
	succeeded  atomic.Int64
	alerted    atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	invalid    atomic.Int64
	durationNs atomic.Int64
}

// Processor runs the per-event state machine shared by the live and replay paths
type Processor struct {
	deps    Deps
	cfg     Config
	seen    *SeenCache
	stats   counters
	started time.Time
	log     *logger.Logger
}

// NewProcessor creates a processor
func NewProcessor(deps Deps) *Processor {
	cfg := deps.Config
	if cfg.AlertLevel == "" {
		cfg.AlertLevel = risk.LevelHigh
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 24 * time.Hour
	}

	log := deps.Log
	if log == nil {
		log = logger.Get()
	}

	return &Processor{
		deps:    deps,
		cfg:     cfg,
		seen:    NewSeenCache(cfg.SeenCacheSize),
		started: time.Now().UTC(),
		log:     log.With("component", "processor"),
	}
}

// ProcessEvent handles one raw event end to end. Skips return an outcome and no error.
func (p *Processor) ProcessEvent(ctx context.Context, source event.Source, raw event.RawEvent) (*Outcome, error) {
	start := time.Now()

	chainID := raw.ChainID
	if chainID == 0 {
		chainID = p.cfg.ChainID
	}
	txHash := strings.ToLower(strings.TrimSpace(raw.TxHash))
	log := p.log.With("chain_id", chainID, "tx_hash", txHash, "source", source)

	if txHash == "" || chainID <= 0 {
		p.stats.invalid.Add(1)
		metrics.RecordEventError(kindValidation)
		metrics.RecordEvent(string(source), "invalid", time.Since(start))
		return nil, errors.NewValidationError("transactionHash", "event has no transaction hash or chain", raw.TxHash)
	}

	cacheKey := seenKey(chainID, txHash)
	if source == event.SourceLive && p.seen.Contains(cacheKey) {
		return p.skip(source, start, "seen"), nil
	}

	claimed, reason, err := p.claim(ctx, source, chainID, txHash, raw)
	if err != nil {
		log.Errorw("Status store unavailable", "error", err)
		metrics.RecordEventError(kindStorage)
		return nil, errors.Mark(err, errors.ErrPersistence)
	}
	if !claimed {
		if source == event.SourceLive {
			p.seen.Add(cacheKey)
		}
		log.Debugw("Event skipped", "reason", reason)
		return p.skip(source, start, reason), nil
	}

	if source == event.SourceLive {
		p.seen.Add(cacheKey)
	}

	p.stats.processed.Add(1)
	out, err := p.run(ctx, source, chainID, raw)
	if err != nil {
		p.fail(ctx, log, chainID, txHash, err)
		if errors.IsValidation(err) {
			p.stats.invalid.Add(1)
		} else {
			p.stats.failed.Add(1)
		}
		p.observe(source, eventstatus.StatusFailed, start)
		return out, err
	}

	final := eventstatus.StatusSuccess
	if out.Notified {
		final = eventstatus.StatusAlerted
	}
	if err := p.deps.Status.MarkSucceeded(detached(ctx), chainID, txHash, final); err != nil {
		err = errors.Mark(errors.Wrap(err, "mark succeeded"), errors.ErrPersistence)
		p.fail(ctx, log, chainID, txHash, err)
		p.stats.failed.Add(1)
		p.observe(source, eventstatus.StatusFailed, start)
		return out, err
	}

	out.Status = final
	if out.Notified {
		p.stats.alerted.Add(1)
	} else {
		p.stats.succeeded.Add(1)
	}
	p.observe(source, final, start)
	return out, nil
}

// claim walks the record to Processing. A false result carries the skip reason.
func (p *Processor) claim(ctx context.Context, source event.Source, chainID int64, txHash string, raw event.RawEvent) (bool, string, error) {
	rec, err := p.deps.Status.Get(ctx, chainID, txHash)
	switch {
	case err == nil:
		if rec.Status.Terminal() {
			return false, "duplicate", nil
		}
		if rec.Invalid() {
			return false, "invalid", nil
		}
	case errors.Is(err, errors.ErrNotFound):
		payload, err := json.Marshal(raw)
		if err != nil {
			return false, "", errors.Wrap(err, "encode payload")
		}
		inserted, err := p.deps.Status.InsertIfAbsent(ctx, &eventstatus.Record{
			ChainID: chainID,
			TxHash:  txHash,
			Status:  eventstatus.StatusPending,
			Source:  string(source),
			Payload: payload,
		})
		if err != nil {
			return false, "", errors.Wrap(err, "insert status")
		}
		if !inserted {
			rec, err := p.deps.Status.Get(ctx, chainID, txHash)
			if err != nil {
				return false, "", errors.Wrap(err, "reload status")
			}
			if rec.Invalid() {
				return false, "invalid", nil
			}
			if !rec.Status.Claimable() {
				return false, "duplicate", nil
			}
		}
	default:
		return false, "", errors.Wrap(err, "get status")
	}

	ok, err := p.deps.Status.Claim(ctx, chainID, txHash)
	if err != nil {
		return false, "", errors.Wrap(err, "claim status")
	}
	if !ok {
		return false, "claim_lost", nil
	}
	return true, "", nil
}

func (p *Processor) run(ctx context.Context, source event.Source, chainID int64, raw event.RawEvent) (*Outcome, error) {
	ev, err := p.deps.Normalizer.Normalize(chainID, raw)
	if err != nil {
		metrics.RecordEventError(kindValidation)
		return nil, err
	}

	out := &Outcome{Event: ev}
	log := p.log.WithEvent(ev.TraceID, ev.ChainID, ev.TxHash)

	subject, counterparty := ev.From, ev.To
	if subject == "" {
		subject, counterparty = ev.To, ""
	}
	prof := p.profile(ctx, log, ev.ChainID, subject)
	var opts []riskservice.AnalyzeOption
	if counterparty != "" {
		opts = append(opts, riskservice.WithCounterparty(p.profile(ctx, log, ev.ChainID, counterparty)))
	}

	history := p.history(ctx, log, ev)

	actx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	report, err := p.deps.Engine.Analyze(actx, ev, prof, history, opts...)
	cancel()
	if err != nil {
		metrics.RecordEventError(kindAnalysis)
		return out, errors.Mark(err, errors.ErrRiskAnalysis)
	}
	out.Report = report
	metrics.RecordRiskLevel(string(report.Level))

	stored := &event.Stored{Event: ev, Report: report, Source: source}
	if err := p.deps.Events.Upsert(ctx, stored); err != nil {
		metrics.RecordEventError(kindStorage)
		return out, errors.Mark(errors.Wrap(err, "persist event"), errors.ErrPersistence)
	}

	if p.shouldNotify(ev, report) {
		nctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		notified, err := p.deps.Router.Route(nctx, ev, prof, report)
		cancel()
		if err != nil {
			metrics.RecordEventError(kindNotification)
			log.Errorw("Notification routing failed", "error", err)
		}
		out.Notified = notified
	}

	if out.Notified {
		stored.Notified = true
		if err := p.deps.Events.Upsert(ctx, stored); err != nil {
			log.Warnw("Failed to flag event as notified", "error", err)
		}
	}

	p.recordActivity(ctx, log, ev)
	p.appendAnalytics(ctx, log, ev, report, source)
	if out.Notified {
		p.publish(ctx, log, stored)
	}

	log.Infow("Event processed",
		"score", report.Score,
		"level", report.Level,
		"points", report.PointTypes(),
		"notified", out.Notified,
	)
	return out, nil
}

func (p *Processor) shouldNotify(ev *event.NormalizedEvent, report *risk.Report) bool {
	if p.deps.Router == nil {
		return false
	}
	return report.Level.AtLeast(p.cfg.AlertLevel) || ev.IsBatch()
}

// profile falls back to the neutral profile on any failure
func (p *Processor) profile(ctx context.Context, log *logger.Logger, chainID int64, address string) *profile.AddressProfile {
	if p.deps.Profiles == nil || address == "" {
		return profile.Default(chainID, address)
	}

	pctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	prof, err := p.deps.Profiles.GetProfile(pctx, chainID, address)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			metrics.RecordEventError(kindProfile)
			log.Warnw("Profile fetch failed, using default profile",
				"address", address,
				"error", errors.Mark(err, errors.ErrProfileFetch),
			)
		}
		return profile.Default(chainID, address)
	}
	return prof
}

// history degrades to no history when the store cannot answer
func (p *Processor) history(ctx context.Context, log *logger.Logger, ev *event.NormalizedEvent) []*event.NormalizedEvent {
	if ev.From == "" {
		return nil
	}
	since := ev.EventTime.Add(-p.cfg.HistoryWindow)
	history, err := p.deps.Events.RecentBySender(ctx, ev.ChainID, ev.From, since, p.cfg.HistoryLimit)
	if err != nil {
		log.Warnw("Failed to load sender history", "error", err)
		return nil
	}
	return history
}

func (p *Processor) recordActivity(ctx context.Context, log *logger.Logger, ev *event.NormalizedEvent) {
	if p.deps.Activity == nil {
		return
	}
	for _, addr := range []string{ev.From, ev.To} {
		if addr == "" {
			continue
		}
		if err := p.deps.Activity.RecordActivity(ctx, ev.ChainID, addr, ev.Value, ev.EventTime); err != nil {
			log.Warnw("Failed to record profile activity", "address", addr, "error", err)
		}
	}
}

func (p *Processor) appendAnalytics(ctx context.Context, log *logger.Logger, ev *event.NormalizedEvent, report *risk.Report, source event.Source) {
	if p.deps.Analytics == nil {
		return
	}
	combos := make([]string, 0, len(report.Combinations))
	for _, c := range report.Combinations {
		combos = append(combos, c.Name)
	}
	rec := risk.AnalyticsRecord{
		TraceID:      ev.TraceID,
		ChainID:      ev.ChainID,
		BlockNumber:  ev.BlockNumber,
		TxHash:       ev.TxHash,
		FromAddress:  ev.From,
		ToAddress:    ev.To,
		Kind:         string(ev.Kind),
		ValueWei:     ev.Value.String(),
		Score:        report.Score,
		Level:        string(report.Level),
		Action:       string(report.Action),
		Points:       report.PointTypes(),
		Combinations: combos,
		AIDegraded:   report.AI.Degraded,
		Source:       string(source),
		EventTime:    ev.EventTime,
		AnalyzedAt:   report.Timestamp,
	}
	if err := p.deps.Analytics.Append(ctx, rec); err != nil {
		log.Warnw("Failed to append analytics record", "error", err)
	}
}

func (p *Processor) publish(ctx context.Context, log *logger.Logger, stored *event.Stored) {
	if p.deps.Publisher == nil {
		return
	}
	err := p.deps.Publisher.Publish(ctx, kafka.TopicRiskAlert, stored.Event.TxHash, stored)
	metrics.RecordKafkaMessage(kafka.TopicRiskAlert, "out", err)
	if err != nil {
		log.Warnw("Failed to publish risk alert", "error", err)
	}
}

// fail records the failure on the status record. It runs detached from ctx
// so cancelled events are still marked.
func (p *Processor) fail(ctx context.Context, log *logger.Logger, chainID int64, txHash string, cause error) {
	msg := cause.Error()
	if errors.IsValidation(cause) {
		msg = InvalidEventPrefix + msg
	} else if !errors.Is(cause, errors.ErrRiskAnalysis) && !errors.Is(cause, errors.ErrPersistence) {
		metrics.RecordEventError(kindGeneral)
	}

	log.ErrorWithContext(ctx, cause, map[string]string{
		"chain_id": formatChain(chainID),
		"tx_hash":  txHash,
	})

	if err := p.deps.Status.MarkFailed(detached(ctx), chainID, txHash, msg); err != nil {
		log.Errorw("Failed to mark event as failed", "error", err)
	}
}

func (p *Processor) skip(source event.Source, start time.Time, reason string) *Outcome {
	p.stats.skipped.Add(1)
	metrics.RecordEvent(string(source), "skipped", time.Since(start))
	return &Outcome{Skipped: true, SkipReason: reason}
}

func (p *Processor) observe(source event.Source, status eventstatus.Status, start time.Time) {
	d := time.Since(start)
	p.stats.durationNs.Add(int64(d))
	metrics.RecordEvent(string(source), string(status), d)
}

// GetMetrics returns a snapshot of the processor counters
func (p *Processor) GetMetrics() MetricsSnapshot {
	processed := p.stats.processed.Load()
	snap := MetricsSnapshot{
		Processed:     processed,
		Succeeded:     p.stats.succeeded.Load(),
		Alerted:       p.stats.alerted.Load(),
		Failed:        p.stats.failed.Load(),
		Skipped:       p.stats.skipped.Load(),
		Invalid:       p.stats.invalid.Load(),
		SeenCacheSize: p.seen.Size(),
		StartTime:     p.started,
	}
	if processed > 0 {
		snap.AvgDurationMs = float64(p.stats.durationNs.Load()) / float64(processed) / float64(time.Millisecond)
	}
	return snap
}

func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
