package notificationservice

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"chainintel/internal/domain/event"
	"chainintel/internal/domain/notification"
	"chainintel/internal/domain/profile"
	"chainintel/internal/domain/risk"
	"chainintel/internal/metrics"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// Skip reasons reported to metrics
const (
	skipNoTemplate  = "no_template"
	skipNoReceiver  = "no_receiver"
	skipRateLimited = "rate_limited"
	skipBatched     = "batched"
	skipRenderError = "render_error"
	skipNoSender    = "no_sender"
)

// Renderer resolves and renders notification templates
type Renderer interface {
	Has(id string) bool
	Render(id string, data any) (string, error)
}

// Config controls routing. Amounts are in wei.
type Config struct {
	LevelChannels    map[notification.Bucket][]notification.Channel
	Receivers        []notification.Receiver
	EmergencyScore   float64
	EmergencyAmounts map[int64]decimal.Decimal
	BatchWindow      time.Duration
	BatchMin         int
	BatchMax         int
	RateIntervals    map[notification.Bucket]time.Duration
}

// DefaultConfig returns the routing defaults without any receivers
func DefaultConfig() Config {
	wei := decimal.New(1, 18)
	return Config{
		LevelChannels: map[notification.Bucket][]notification.Channel{
			notification.BucketHigh:   {notification.ChannelTelegram, notification.ChannelDiscord, notification.ChannelEmail},
			notification.BucketMedium: {notification.ChannelTelegram, notification.ChannelDiscord},
			notification.BucketLow:    {notification.ChannelDiscord},
		},
		EmergencyScore: 90,
		EmergencyAmounts: map[int64]decimal.Decimal{
			1:   decimal.NewFromInt(1000).Mul(wei),
			56:  decimal.NewFromInt(10000).Mul(wei),
			137: decimal.NewFromInt(100000).Mul(wei),
		},
		BatchWindow: 5 * time.Minute,
		BatchMin:    3,
		BatchMax:    10,
		RateIntervals: map[notification.Bucket]time.Duration{
			notification.BucketHigh:   time.Minute,
			notification.BucketMedium: 5 * time.Minute,
			notification.BucketLow:    15 * time.Minute,
		},
	}
}

// Router decides who hears about an analyzed event and delivers it
type Router struct {
	cfg       Config
	templates Renderer
	senders   map[notification.Channel]notification.Sender
	windows   *xsync.Map[string, *batchWindow]
	limiters  *xsync.Map[string, *rate.Limiter]
	log       *logger.Logger
	now       func() time.Time
}

// NewRouter creates a router. Channels without a sender are skipped at dispatch.
func NewRouter(cfg Config, templates Renderer, log *logger.Logger, senders ...notification.Sender) *Router {
	bySender := make(map[notification.Channel]notification.Sender, len(senders))
	for _, s := range senders {
		bySender[s.Channel()] = s
	}
	return &Router{
		cfg:       cfg,
		templates: templates,
		senders:   bySender,
		windows:   xsync.NewMap[string, *batchWindow](),
		limiters:  xsync.NewMap[string, *rate.Limiter](),
		log:       log.With("component", "notification_router"),
		now:       time.Now,
	}
}

// alert is everything needed to render and dispatch one notification
type alert struct {
	eventType notification.EventType
	bucket    notification.Bucket
	emergency bool
	chainID   int64
	traceID   string
	data      templateData
}

type templateData struct {
	Emergency  bool
	RiskLevel  string
	ChainID    int64
	Score      float64
	From       string
	To         string
	Value      decimal.Decimal
	TxHash     string
	Method     string
	Points     []string
	Summary    string
	EventTime  time.Time
	Operations []operationData
}

type operationData struct {
	TxHash string
	Value  decimal.Decimal
	Score  float64
}

// EventTypeOf classifies an event for routing
func EventTypeOf(ev *event.NormalizedEvent) notification.EventType {
	switch {
	case ev.IsBatch():
		return notification.EventBatchOperation
	case ev.Method != nil:
		return notification.EventContractInteraction
	default:
		return notification.EventTransfer
	}
}

// Route dispatches a notification for ev. It reports whether at least one
// channel delivered. Delivery failures are isolated and never returned.
func (r *Router) Route(ctx context.Context, ev *event.NormalizedEvent, _ *profile.AddressProfile, report *risk.Report) (bool, error) {
	if ev == nil || report == nil {
		return false, errors.NewValidationError("event", "event and report are required", nil)
	}

	eventType := EventTypeOf(ev)

	if eventType == notification.EventBatchOperation {
		entries, size := r.appendToWindow(ev, report)
		if entries == nil {
			r.log.Debugw("Batch operation buffered",
				"operator", ev.From,
				"tx_hash", ev.TxHash,
				"window_size", size,
				"ready", size >= r.cfg.BatchMin,
			)
			metrics.RecordNotificationSkipped(skipBatched)
			return false, nil
		}
		metrics.BatchFlushes.WithLabelValues("max").Inc()
		return r.dispatch(ctx, r.mergedAlert(entries)), nil
	}

	return r.dispatch(ctx, r.singleAlert(eventType, ev, report)), nil
}

// Sweep flushes every batch window older than the window duration,
// even below the minimum size. It returns the number of windows flushed.
func (r *Router) Sweep(ctx context.Context) int {
	return r.flush(ctx, "sweep", false)
}

// FlushAll flushes every open batch window regardless of age. Called on shutdown
// so batched operations are not lost with the process.
func (r *Router) FlushAll(ctx context.Context) int {
	return r.flush(ctx, "shutdown", true)
}

func (r *Router) flush(ctx context.Context, trigger string, force bool) int {
	now := r.now()
	due := func(w *batchWindow) bool {
		return force || w.expired(now, r.cfg.BatchWindow)
	}

	var keys []string
	r.windows.Range(func(key string, w *batchWindow) bool {
		if due(w) {
			keys = append(keys, key)
		}
		return true
	})

	flushed := 0
	for _, key := range keys {
		var taken []batchEntry
		r.windows.Compute(key, func(w *batchWindow, loaded bool) (*batchWindow, xsync.ComputeOp) {
			if !loaded || !due(w) {
				return w, xsync.CancelOp
			}
			taken = w.entries
			return nil, xsync.DeleteOp
		})
		if len(taken) == 0 {
			continue
		}
		metrics.BatchFlushes.WithLabelValues(trigger).Inc()
		r.dispatch(ctx, r.mergedAlert(taken))
		flushed++
	}

	if flushed > 0 {
		r.log.Infow("Flushed batch windows", "trigger", trigger, "count", flushed)
	}
	return flushed
}

// PendingWindows returns the number of open batch windows
func (r *Router) PendingWindows() int {
	return r.windows.Size()
}

func (r *Router) singleAlert(eventType notification.EventType, ev *event.NormalizedEvent, report *risk.Report) alert {
	bucket := notification.BucketFor(report.Score)
	emergency := r.isEmergency(ev, report.Score)

	data := templateData{
		Emergency: emergency,
		RiskLevel: string(bucket),
		ChainID:   ev.ChainID,
		Score:     report.Score,
		From:      ev.From,
		To:        ev.To,
		Value:     ev.Value,
		TxHash:    ev.TxHash,
		Points:    report.PointTypes(),
		Summary:   report.AI.Summary,
		EventTime: ev.EventTime,
	}
	if report.AI.Degraded {
		data.Summary = ""
	}
	if ev.Method != nil {
		data.Method = ev.Method.Name
	}

	return alert{
		eventType: eventType,
		bucket:    bucket,
		emergency: emergency,
		chainID:   ev.ChainID,
		traceID:   ev.TraceID,
		data:      data,
	}
}

func (r *Router) mergedAlert(entries []batchEntry) alert {
	top := entries[0]
	total := decimal.Zero
	emergency := false
	ops := make([]operationData, 0, len(entries))

	for _, e := range entries {
		if e.report.Score > top.report.Score {
			top = e
		}
		total = total.Add(e.event.Value)
		if r.isEmergency(e.event, e.report.Score) {
			emergency = true
		}
		ops = append(ops, operationData{TxHash: e.event.TxHash, Value: e.event.Value, Score: e.report.Score})
	}

	a := r.singleAlert(notification.EventBatchOperation, top.event, top.report)
	a.emergency = emergency
	a.data.Emergency = emergency
	a.data.Value = total
	a.data.Operations = ops
	return a
}

func (r *Router) isEmergency(ev *event.NormalizedEvent, score float64) bool {
	if r.cfg.EmergencyScore > 0 && score >= r.cfg.EmergencyScore {
		return true
	}
	threshold, ok := r.cfg.EmergencyAmounts[ev.ChainID]
	return ok && threshold.IsPositive() && ev.Value.GreaterThanOrEqual(threshold)
}

func (r *Router) dispatch(ctx context.Context, a alert) bool {
	log := r.log.With("trace_id", a.traceID, "chain_id", a.chainID, "bucket", a.bucket)

	templateID := a.eventType.TemplateID()
	if r.templates == nil || !r.templates.Has(templateID) {
		log.Warnw("No template for event type", "template", templateID)
		metrics.RecordNotificationSkipped(skipNoTemplate)
		return false
	}

	receivers := r.receiversFor(a)
	if len(receivers) == 0 {
		log.Debugw("No receiver matched", "event_type", a.eventType)
		metrics.RecordNotificationSkipped(skipNoReceiver)
		return false
	}

	if a.emergency {
		metrics.Emergencies.Inc()
		log.Warnw("Emergency notification, bypassing rate limits", "score", a.data.Score)
	}

	body, err := r.templates.Render(templateID, a.data)
	if err != nil {
		log.Errorw("Failed to render notification", "template", templateID, "error", err)
		metrics.RecordNotificationSkipped(skipRenderError)
		return false
	}

	msg := notification.Message{
		Subject:   fmt.Sprintf("[%s] %s on chain %d", a.bucket, a.eventType, a.chainID),
		Body:      body,
		Bucket:    a.bucket,
		Emergency: a.emergency,
		TraceID:   a.traceID,
	}

	delivered := false
	for _, rc := range receivers {
		for _, channel := range r.cfg.LevelChannels[a.bucket] {
			target, ok := rc.Targets[channel]
			if !ok || target == "" {
				continue
			}

			sender, ok := r.senders[channel]
			if !ok {
				metrics.RecordNotificationSkipped(skipNoSender)
				continue
			}

			if !a.emergency && !r.allow(rc.ID, channel, a.bucket) {
				log.Debugw("Notification rate limited", "receiver", rc.ID, "channel", channel)
				metrics.RecordNotificationSkipped(skipRateLimited)
				continue
			}

			start := time.Now()
			err := sender.Send(ctx, target, msg)
			metrics.RecordNotification(string(channel), time.Since(start), err)
			if err != nil {
				log.Errorw("Notification delivery failed",
					"receiver", rc.ID,
					"channel", channel,
					"error", errors.Mark(err, errors.ErrNotificationDelivery),
				)
				continue
			}
			delivered = true
		}
	}

	return delivered
}

func (r *Router) receiversFor(a alert) []notification.Receiver {
	var out []notification.Receiver
	for _, rc := range r.cfg.Receivers {
		if rc.Matches(a.chainID, a.bucket, a.eventType) {
			out = append(out, rc)
		}
	}
	return out
}

// allow takes a token from the (receiver, channel, bucket) limiter
func (r *Router) allow(receiverID string, channel notification.Channel, bucket notification.Bucket) bool {
	interval, ok := r.cfg.RateIntervals[bucket]
	if !ok || interval <= 0 {
		return true
	}
	key := receiverID + "|" + string(channel) + "|" + string(bucket)
	limiter, ok := r.limiters.Load(key)
	if !ok {
		limiter, _ = r.limiters.LoadOrStore(key, rate.NewLimiter(rate.Every(interval), 1))
	}
	return limiter.AllowN(r.now(), 1)
}

func windowKey(ev *event.NormalizedEvent) string {
	return strconv.FormatInt(ev.ChainID, 10) + ":" + ev.From
}
