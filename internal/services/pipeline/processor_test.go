package pipelineservice

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/domain/event"
	"chainintel/internal/domain/eventstatus"
	"chainintel/internal/domain/notification"
	"chainintel/internal/domain/profile"
	"chainintel/internal/domain/risk"
	"chainintel/internal/normalize"
	notificationservice "chainintel/internal/services/notification"
	riskservice "chainintel/internal/services/risk"
	"chainintel/internal/testsupport"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
	"chainintel/pkg/templates"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
)

type recordingSender struct {
	mu    sync.Mutex
	calls int
}

func (s *recordingSender) Channel() notification.Channel { return notification.ChannelDiscord }

func (s *recordingSender) Send(context.Context, string, notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type failingEngine struct {
	err error
}

func (f failingEngine) Analyze(context.Context, *event.NormalizedEvent, *profile.AddressProfile,
	[]*event.NormalizedEvent, ...riskservice.AnalyzeOption) (*risk.Report, error) {
	return nil, f.err
}

type fixture struct {
	processor *Processor
	status    *testsupport.StatusStore
	events    *testsupport.EventStore
	profiles  *testsupport.ProfileStore
	analytics *testsupport.AnalyticsStore
	sender    *recordingSender
}

// newFixture wires a processor with a flow-weighted rule set so a large,
// frequent transfer lands in MEDIUM, and alerts from MEDIUM up.
func newFixture(t *testing.T, engine Analyzer) *fixture {
	t.Helper()

	rules := riskservice.DefaultRuleSet()
	rules.DimensionWeights[risk.DimensionFlow] = 1.0
	if engine == nil {
		engine = riskservice.NewEngine(rules, nil, logger.Nop())
	}

	cfg := notificationservice.DefaultConfig()
	cfg.Receivers = []notification.Receiver{{
		ID:         "ops",
		Chains:     []string{"1"},
		RiskLevels: []string{notification.Wildcard},
		EventTypes: []string{notification.Wildcard},
		Targets:    map[notification.Channel]string{notification.ChannelDiscord: "https://discord.example/hook"},
	}}
	sender := &recordingSender{}
	router := notificationservice.NewRouter(cfg, templates.Get(), logger.Nop(), sender)

	f := &fixture{
		status:    testsupport.NewStatusStore(),
		events:    testsupport.NewEventStore(),
		profiles:  testsupport.NewProfileStore(),
		analytics: &testsupport.AnalyticsStore{},
		sender:    sender,
	}
	f.processor = NewProcessor(Deps{
		Config: Config{
			ChainID:       1,
			AlertLevel:    risk.LevelMedium,
			SeenCacheSize: 100,
			CallTimeout:   time.Second,
		},
		Normalizer: normalize.New(),
		Profiles:   f.profiles,
		Activity:   f.profiles,
		Engine:     engine,
		Router:     router,
		Events:     f.events,
		Status:     f.status,
		Analytics:  f.analytics,
		Log:        logger.Nop(),
	})
	return f
}

func largeTransfer(tx string) event.RawEvent {
	return event.RawEvent{
		ChainID:     1,
		BlockNumber: 100,
		TxHash:      tx,
		From:        alice,
		To:          bob,
		Value:       decimal.NewFromInt(150).Mul(riskservice.WeiPerNative).String(),
		Timestamp:   time.Now().Add(-time.Minute).Unix(),
	}
}

func (f *fixture) seedBusySender(t *testing.T) {
	t.Helper()
	p := profile.Default(1, alice)
	p.Stats.TxCount = 50
	require.NoError(t, f.profiles.Upsert(context.Background(), p))
}

func TestProcessEvent_LargeFrequentTransferAlerts(t *testing.T) {
	f := newFixture(t, nil)
	f.seedBusySender(t)

	out, err := f.processor.ProcessEvent(context.Background(), event.SourceReplay, largeTransfer("0xAAA"))
	require.NoError(t, err)

	require.NotNil(t, out.Report)
	assert.True(t, out.Report.HasPoint(risk.PointLargeTransfer))
	assert.True(t, out.Report.HasPoint(risk.PointFrequentTransfer))
	assert.False(t, out.Report.HasPoint(risk.PointBlacklist))
	assert.True(t, out.Report.Level.AtLeast(risk.LevelMedium))
	assert.True(t, out.Notified)
	assert.Equal(t, eventstatus.StatusAlerted, out.Status)
	assert.Equal(t, 1, f.sender.count())

	rec, err := f.status.Get(context.Background(), 1, "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, eventstatus.StatusAlerted, rec.Status)

	stored, err := f.events.FindByTxHash(context.Background(), 1, "0xaaa")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Notified)
	require.Len(t, f.analytics.Records, 1)
	assert.Equal(t, "replay", f.analytics.Records[0].Source)

	p, err := f.profiles.GetProfile(context.Background(), 1, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(51), p.Stats.TxCount)
}

func TestProcessEvent_Idempotent(t *testing.T) {
	for _, source := range []event.Source{event.SourceLive, event.SourceReplay} {
		t.Run(string(source), func(t *testing.T) {
			f := newFixture(t, nil)
			f.seedBusySender(t)
			ctx := context.Background()

			first, err := f.processor.ProcessEvent(ctx, source, largeTransfer("0xAAA"))
			require.NoError(t, err)
			assert.False(t, first.Skipped)

			second, err := f.processor.ProcessEvent(ctx, source, largeTransfer("0xaaa"))
			require.NoError(t, err)
			assert.True(t, second.Skipped)

			assert.Equal(t, 1, f.sender.count())
			assert.Equal(t, 1, f.events.Len())

			snap := f.processor.GetMetrics()
			assert.Equal(t, int64(1), snap.Processed)
			assert.Equal(t, int64(1), snap.Alerted)
			assert.Equal(t, int64(1), snap.Skipped)
		})
	}
}

func TestProcessEvent_ConcurrentDuplicatesClaimOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.seedBusySender(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.processor.ProcessEvent(context.Background(), event.SourceReplay, largeTransfer("0xAAA"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.sender.count())
	assert.Equal(t, int64(1), f.processor.GetMetrics().Processed)
	assert.Equal(t, int64(9), f.processor.GetMetrics().Skipped)
}

func TestProcessEvent_LowRiskSucceedsWithoutNotification(t *testing.T) {
	f := newFixture(t, nil)

	raw := largeTransfer("0xBBB")
	raw.Value = "1000"

	out, err := f.processor.ProcessEvent(context.Background(), event.SourceLive, raw)
	require.NoError(t, err)
	assert.Equal(t, eventstatus.StatusSuccess, out.Status)
	assert.False(t, out.Notified)
	assert.Equal(t, 0, f.sender.count())
}

func TestProcessEvent_ValidationFailureIsMarked(t *testing.T) {
	f := newFixture(t, nil)

	raw := largeTransfer("0xCCC")
	raw.From, raw.To = "", ""

	_, err := f.processor.ProcessEvent(context.Background(), event.SourceReplay, raw)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	rec, err := f.status.Get(context.Background(), 1, "0xccc")
	require.NoError(t, err)
	assert.Equal(t, eventstatus.StatusFailed, rec.Status)
	require.NotNil(t, rec.LastError)
	assert.True(t, strings.HasPrefix(*rec.LastError, InvalidEventPrefix))

	snap := f.processor.GetMetrics()
	assert.Equal(t, int64(1), snap.Invalid)
	assert.Zero(t, snap.Failed, "an invalid event is counted once")
}

func TestProcessEvent_InvalidRecordIsNotReclaimed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	raw := largeTransfer("0xCCC")
	raw.From, raw.To = "", ""

	_, err := f.processor.ProcessEvent(ctx, event.SourceReplay, raw)
	require.Error(t, err)

	for range 2 {
		out, err := f.processor.ProcessEvent(ctx, event.SourceReplay, raw)
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.True(t, out.Skipped)
		assert.Equal(t, "invalid", out.SkipReason)
	}

	rec, err := f.status.Get(ctx, 1, "0xccc")
	require.NoError(t, err)
	assert.Equal(t, eventstatus.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)

	snap := f.processor.GetMetrics()
	assert.Equal(t, int64(1), snap.Invalid)
	assert.Equal(t, int64(2), snap.Skipped)
	assert.Equal(t, int64(1), snap.Processed)
}

func TestProcessEvent_MissingHashIsRejected(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.processor.ProcessEvent(context.Background(), event.SourceLive, event.RawEvent{ChainID: 1, From: alice})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	counts, err := f.status.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestProcessEvent_AnalysisFailureThenRetry(t *testing.T) {
	f := newFixture(t, failingEngine{err: errors.New("evaluator exploded")})
	ctx := context.Background()

	_, err := f.processor.ProcessEvent(ctx, event.SourceReplay, largeTransfer("0xDDD"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRiskAnalysis))

	rec, err := f.status.Get(ctx, 1, "0xddd")
	require.NoError(t, err)
	assert.Equal(t, eventstatus.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, 0, f.events.Len())

	// a healthy processor over the same store picks the Failed record up again
	healthy := newFixture(t, nil)
	healthy.status = f.status
	healthy.processor.deps.Status = f.status

	out, err := healthy.processor.ProcessEvent(ctx, event.SourceReplay, largeTransfer("0xDDD"))
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, eventstatus.StatusSuccess, out.Status)
}

func TestProcessEvent_PersistenceFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.events.UpsertErr = errors.ErrUnavailable

	_, err := f.processor.ProcessEvent(context.Background(), event.SourceReplay, largeTransfer("0xEEE"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
	assert.Equal(t, 0, f.sender.count())

	rec, err := f.status.Get(context.Background(), 1, "0xeee")
	require.NoError(t, err)
	assert.Equal(t, eventstatus.StatusFailed, rec.Status)
}

func TestProcessEvent_ProfileFailureDegrades(t *testing.T) {
	f := newFixture(t, nil)
	f.seedBusySender(t)
	f.profiles.GetErr = errors.ErrTimeout

	out, err := f.processor.ProcessEvent(context.Background(), event.SourceReplay, largeTransfer("0xFFF"))
	require.NoError(t, err)

	assert.True(t, out.Report.HasPoint(risk.PointLargeTransfer))
	assert.False(t, out.Report.HasPoint(risk.PointFrequentTransfer), "default profile has no tx count")
}

func TestProcessEvent_StatusStoreUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.status.GetErr = errors.ErrUnavailable

	_, err := f.processor.ProcessEvent(context.Background(), event.SourceLive, largeTransfer("0x111"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
}

func TestProcessEvent_SkipsTerminalRecords(t *testing.T) {
	f := newFixture(t, nil)
	f.status.Put(&eventstatus.Record{ChainID: 1, TxHash: "0x222", Status: eventstatus.StatusSuccess})

	out, err := f.processor.ProcessEvent(context.Background(), event.SourceReplay, largeTransfer("0x222"))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, "duplicate", out.SkipReason)
}

func TestProcessEvent_SkipsRecordInFlight(t *testing.T) {
	f := newFixture(t, nil)
	f.status.Put(&eventstatus.Record{ChainID: 1, TxHash: "0x333", Status: eventstatus.StatusProcessing})

	out, err := f.processor.ProcessEvent(context.Background(), event.SourceReplay, largeTransfer("0x333"))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, "claim_lost", out.SkipReason)
}
