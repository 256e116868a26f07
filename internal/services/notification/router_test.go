package notificationservice

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/domain/event"
	"chainintel/internal/domain/notification"
	"chainintel/internal/domain/risk"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
	"chainintel/pkg/templates"
)

const operator = "0x1111111111111111111111111111111111111111"

type sent struct {
	target string
	msg    notification.Message
}

type fakeSender struct {
	mu      sync.Mutex
	channel notification.Channel
	err     error
	calls   []sent
}

func (f *fakeSender) Channel() notification.Channel { return f.channel }

func (f *fakeSender) Send(_ context.Context, target string, msg notification.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sent{target: target, msg: msg})
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func opsReceiver() notification.Receiver {
	return notification.Receiver{
		ID:         "ops",
		Chains:     []string{notification.Wildcard},
		RiskLevels: []string{notification.Wildcard},
		EventTypes: []string{notification.Wildcard},
		Targets: map[notification.Channel]string{
			notification.ChannelTelegram: "100",
			notification.ChannelDiscord:  "https://discord.example/hook",
		},
	}
}

func newTestRouter(t *testing.T, cfg Config, senders ...notification.Sender) (*Router, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRouter(cfg, templates.Get(), logger.Nop(), senders...)
	r.now = c.now
	return r, c
}

func transferEvent(tx string) *event.NormalizedEvent {
	return &event.NormalizedEvent{
		TraceID:   "trace-" + tx,
		ChainID:   1,
		TxHash:    tx,
		Kind:      event.KindTransfer,
		From:      operator,
		To:        "0x2222222222222222222222222222222222222222",
		Value:     decimal.New(5, 18),
		EventTime: time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC),
	}
}

func batchEvent(tx string) *event.NormalizedEvent {
	ev := transferEvent(tx)
	ev.Kind = event.KindBatchOperation
	ev.Batch = &event.BatchOperation{Operations: 4}
	return ev
}

func reportWithScore(score float64) *risk.Report {
	return &risk.Report{Score: score, Level: risk.LevelHigh, Points: []risk.Point{{Type: risk.PointLargeTransfer}}}
}

func TestRoute_ChannelIsolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receivers = []notification.Receiver{opsReceiver()}

	tg := &fakeSender{channel: notification.ChannelTelegram, err: errors.ErrUnavailable}
	dc := &fakeSender{channel: notification.ChannelDiscord}
	r, _ := newTestRouter(t, cfg, tg, dc)

	delivered, err := r.Route(context.Background(), transferEvent("0x1"), nil, reportWithScore(85))
	require.NoError(t, err)

	assert.True(t, delivered)
	assert.Equal(t, 1, tg.count())
	require.Equal(t, 1, dc.count())
	assert.Equal(t, "https://discord.example/hook", dc.calls[0].target)
	assert.Equal(t, notification.BucketHigh, dc.calls[0].msg.Bucket)
	assert.Contains(t, dc.calls[0].msg.Body, "[HIGH]")
}

func TestRoute_LevelChannelsIntersectReceiverChannels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receivers = []notification.Receiver{opsReceiver()}

	tg := &fakeSender{channel: notification.ChannelTelegram}
	dc := &fakeSender{channel: notification.ChannelDiscord}
	em := &fakeSender{channel: notification.ChannelEmail}
	r, _ := newTestRouter(t, cfg, tg, dc, em)

	delivered, err := r.Route(context.Background(), transferEvent("0x1"), nil, reportWithScore(20))
	require.NoError(t, err)

	assert.True(t, delivered)
	assert.Equal(t, 0, tg.count(), "LOW goes to discord only")
	assert.Equal(t, 1, dc.count())
	assert.Equal(t, 0, em.count(), "receiver has no email target")
}

func TestRoute_RateLimitAndEmergencyBypass(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receivers = []notification.Receiver{opsReceiver()}

	dc := &fakeSender{channel: notification.ChannelDiscord}
	r, c := newTestRouter(t, cfg, dc)
	ctx := context.Background()

	delivered, err := r.Route(ctx, transferEvent("0x1"), nil, reportWithScore(85))
	require.NoError(t, err)
	assert.True(t, delivered)

	delivered, err = r.Route(ctx, transferEvent("0x2"), nil, reportWithScore(85))
	require.NoError(t, err)
	assert.False(t, delivered, "second HIGH within a minute is limited")

	delivered, err = r.Route(ctx, transferEvent("0x3"), nil, reportWithScore(92))
	require.NoError(t, err)
	assert.True(t, delivered, "emergency score bypasses the limiter")

	big := transferEvent("0x4")
	big.Value = decimal.NewFromInt(2000).Mul(decimal.New(1, 18))
	delivered, err = r.Route(ctx, big, nil, reportWithScore(85))
	require.NoError(t, err)
	assert.True(t, delivered, "emergency amount bypasses the limiter")
	assert.True(t, dc.calls[len(dc.calls)-1].msg.Emergency)

	c.advance(time.Minute)
	delivered, err = r.Route(ctx, transferEvent("0x5"), nil, reportWithScore(85))
	require.NoError(t, err)
	assert.True(t, delivered)

	assert.Equal(t, 4, dc.count())
}

func TestRoute_RateLimitIsPerBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receivers = []notification.Receiver{opsReceiver()}

	dc := &fakeSender{channel: notification.ChannelDiscord}
	r, _ := newTestRouter(t, cfg, dc)
	ctx := context.Background()

	_, err := r.Route(ctx, transferEvent("0x1"), nil, reportWithScore(85))
	require.NoError(t, err)
	delivered, err := r.Route(ctx, transferEvent("0x2"), nil, reportWithScore(60))
	require.NoError(t, err)

	assert.True(t, delivered)
	assert.Equal(t, 2, dc.count())
}

func TestRoute_BatchSuppression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receivers = []notification.Receiver{opsReceiver()}

	dc := &fakeSender{channel: notification.ChannelDiscord}
	r, _ := newTestRouter(t, cfg, dc)
	ctx := context.Background()

	for i := 0; i < cfg.BatchMax-1; i++ {
		delivered, err := r.Route(ctx, batchEvent(fmt.Sprintf("0xb%d", i)), nil, reportWithScore(30))
		require.NoError(t, err)
		assert.False(t, delivered)
	}
	assert.Equal(t, 0, dc.count())
	assert.Equal(t, 1, r.PendingWindows())

	delivered, err := r.Route(ctx, batchEvent("0xlast"), nil, reportWithScore(55))
	require.NoError(t, err)
	assert.True(t, delivered)

	require.Equal(t, 1, dc.count())
	assert.Equal(t, 0, r.PendingWindows())
	body := dc.calls[0].msg.Body
	assert.Contains(t, body, "10 operations merged")
	assert.Contains(t, body, "[MEDIUM]")
}

func TestRoute_BatchWindowResetsAfterExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receivers = []notification.Receiver{opsReceiver()}
	cfg.BatchMax = 3

	dc := &fakeSender{channel: notification.ChannelDiscord}
	r, c := newTestRouter(t, cfg, dc)
	ctx := context.Background()

	_, err := r.Route(ctx, batchEvent("0xb1"), nil, reportWithScore(30))
	require.NoError(t, err)
	_, err = r.Route(ctx, batchEvent("0xb2"), nil, reportWithScore(30))
	require.NoError(t, err)

	c.advance(cfg.BatchWindow + time.Second)

	delivered, err := r.Route(ctx, batchEvent("0xb3"), nil, reportWithScore(30))
	require.NoError(t, err)
	assert.False(t, delivered, "expired window starts over")
	assert.Equal(t, 0, dc.count())
}

func TestSweep_FlushesStaleWindowsBelowMinimum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receivers = []notification.Receiver{opsReceiver()}

	dc := &fakeSender{channel: notification.ChannelDiscord}
	r, c := newTestRouter(t, cfg, dc)
	ctx := context.Background()

	_, err := r.Route(ctx, batchEvent("0xb1"), nil, reportWithScore(30))
	require.NoError(t, err)

	assert.Equal(t, 0, r.Sweep(ctx), "fresh window is kept")

	c.advance(cfg.BatchWindow + time.Second)
	assert.Equal(t, 1, r.Sweep(ctx))
	assert.Equal(t, 0, r.PendingWindows())
	assert.Equal(t, 1, dc.count())
}

func TestFlushAll_FlushesFreshWindows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receivers = []notification.Receiver{opsReceiver()}

	dc := &fakeSender{channel: notification.ChannelDiscord}
	r, _ := newTestRouter(t, cfg, dc)
	ctx := context.Background()

	_, err := r.Route(ctx, batchEvent("0xb1"), nil, reportWithScore(30))
	require.NoError(t, err)
	require.Equal(t, 1, r.PendingWindows())

	assert.Equal(t, 1, r.FlushAll(ctx))
	assert.Equal(t, 0, r.PendingWindows())
	assert.Equal(t, 1, dc.count())

	assert.Equal(t, 0, r.FlushAll(ctx), "nothing left to flush")
}

func TestRoute_NoReceiver(t *testing.T) {
	cfg := DefaultConfig()
	rc := opsReceiver()
	rc.Chains = []string{"56"}
	cfg.Receivers = []notification.Receiver{rc}

	dc := &fakeSender{channel: notification.ChannelDiscord}
	r, _ := newTestRouter(t, cfg, dc)

	delivered, err := r.Route(context.Background(), transferEvent("0x1"), nil, reportWithScore(85))
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, 0, dc.count())
}

func TestRoute_NoTemplate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receivers = []notification.Receiver{opsReceiver()}

	reg, err := templates.NewRegistryFromStrings(map[string]string{
		"notify/transfer": "{{.TxHash}}",
	})
	require.NoError(t, err)

	dc := &fakeSender{channel: notification.ChannelDiscord}
	r := NewRouter(cfg, reg, logger.Nop(), dc)

	ev := transferEvent("0x1")
	ev.Kind = event.KindContractCall
	ev.Method = &event.MethodCall{Name: "unknown", Signature: "0xdeadbeef"}

	delivered, err := r.Route(context.Background(), ev, nil, reportWithScore(85))
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, 0, dc.count())
}

func TestEventTypeOf(t *testing.T) {
	assert.Equal(t, notification.EventTransfer, EventTypeOf(transferEvent("0x1")))
	assert.Equal(t, notification.EventBatchOperation, EventTypeOf(batchEvent("0x1")))

	call := transferEvent("0x1")
	call.Method = &event.MethodCall{Name: "swap"}
	assert.Equal(t, notification.EventContractInteraction, EventTypeOf(call))
}
