package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/domain/event"
	"chainintel/internal/domain/eventstatus"
	"chainintel/internal/normalize"
	pipelineservice "chainintel/internal/services/pipeline"
	riskservice "chainintel/internal/services/risk"
	"chainintel/internal/testsupport"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

type scriptedProcessor struct {
	calls   []event.RawEvent
	sources []event.Source
	fail    map[string]bool
}

func (p *scriptedProcessor) ProcessEvent(_ context.Context, source event.Source, raw event.RawEvent) (*pipelineservice.Outcome, error) {
	p.calls = append(p.calls, raw)
	p.sources = append(p.sources, source)
	if p.fail[raw.TxHash] {
		return nil, errors.ErrUnavailable
	}
	return &pipelineservice.Outcome{Status: eventstatus.StatusSuccess}, nil
}

func failedRecord(t *testing.T, hash, lastError string, retries int, withPayload bool) *eventstatus.Record {
	t.Helper()
	rec := &eventstatus.Record{
		ChainID:    1,
		TxHash:     hash,
		Status:     eventstatus.StatusFailed,
		Source:     "live",
		RetryCount: retries,
		LastError:  &lastError,
		UpdatedAt:  time.Now().Add(-time.Duration(10-retries) * time.Minute),
	}
	if withPayload {
		payload, err := json.Marshal(event.RawEvent{TxHash: hash, BlockNumber: 7})
		require.NoError(t, err)
		rec.Payload = payload
	}
	return rec
}

func TestFailedEventReconciler_SelectsRetryableRecords(t *testing.T) {
	status := testsupport.NewStatusStore()
	status.Put(failedRecord(t, "0xaa", "analysis timeout", 1, true))
	status.Put(failedRecord(t, "0xbb", pipelineservice.InvalidEventPrefix+"bad from", 1, true))
	status.Put(failedRecord(t, "0xcc", "timeout", 1, false))
	status.Put(failedRecord(t, "0xdd", "timeout", 5, true))
	status.Put(failedRecord(t, "0xee", "timeout", 2, true))

	proc := &scriptedProcessor{fail: map[string]bool{"0xee": true}}
	w := NewFailedEventReconciler(status, proc, 5, 100, 0, time.Minute, true, logger.Nop())

	res, err := w.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Listed: 4, Retried: 2, Recovered: 1, Failed: 1, Skipped: 2}, res)
	require.Len(t, proc.calls, 2)
	for i, raw := range proc.calls {
		assert.Equal(t, int64(1), raw.ChainID, "chain id defaults to the record's")
		assert.Equal(t, event.SourceReplay, proc.sources[i])
	}
}

func TestFailedEventReconciler_ListError(t *testing.T) {
	w := NewFailedEventReconciler(brokenStatus{testsupport.NewStatusStore()}, &scriptedProcessor{}, 5, 100, 0, time.Minute, true, logger.Nop())

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
}

type brokenStatus struct {
	*testsupport.StatusStore
}

func (brokenStatus) ListFailed(context.Context, int, int) ([]*eventstatus.Record, error) {
	return nil, errors.ErrUnavailable
}

// A record that failed on a transient analysis error is recovered by the real processor
func TestFailedEventReconciler_RecoversWithProcessor(t *testing.T) {
	ctx := context.Background()
	status := testsupport.NewStatusStore()
	events := testsupport.NewEventStore()

	raw := event.RawEvent{
		ChainID:     1,
		BlockNumber: 100,
		TxHash:      "0x" + strings.Repeat("ab", 32),
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Value:       "1000",
		Timestamp:   time.Now().Add(-time.Minute).Unix(),
	}
	payload, err := json.Marshal(raw)
	require.NoError(t, err)
	status.Put(&eventstatus.Record{
		ChainID:    1,
		TxHash:     raw.TxHash,
		Status:     eventstatus.StatusFailed,
		Source:     "live",
		RetryCount: 1,
		LastError:  strPtr("risk analysis failed: timeout"),
		Payload:    payload,
	})

	processor := pipelineservice.NewProcessor(pipelineservice.Deps{
		Config:     pipelineservice.Config{ChainID: 1, SeenCacheSize: 10, CallTimeout: time.Second},
		Normalizer: normalize.New(),
		Engine:     riskservice.NewEngine(riskservice.DefaultRuleSet(), nil, logger.Nop()),
		Events:     events,
		Status:     status,
		Log:        logger.Nop(),
	})

	w := NewFailedEventReconciler(status, processor, 5, 100, 0, time.Minute, true, logger.Nop())
	res, err := w.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recovered)

	rec, err := status.Get(ctx, 1, raw.TxHash)
	require.NoError(t, err)
	assert.Equal(t, eventstatus.StatusSuccess, rec.Status)
	assert.Equal(t, 1, events.Len())

	res, err = w.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Listed, "terminal records are not listed again")
}

func strPtr(s string) *string { return &s }

// A record left in Processing by a crashed handler is failed, then retried in the same pass
func TestFailedEventReconciler_RequeuesStaleProcessing(t *testing.T) {
	ctx := context.Background()
	status := testsupport.NewStatusStore()

	stuck := failedRecord(t, "0xaa", "", 0, true)
	stuck.Status = eventstatus.StatusProcessing
	stuck.LastError = nil
	stuck.UpdatedAt = time.Now().Add(-time.Hour)
	status.Put(stuck)

	running := failedRecord(t, "0xbb", "", 0, true)
	running.Status = eventstatus.StatusProcessing
	running.LastError = nil
	running.UpdatedAt = time.Now()
	status.Put(running)

	proc := &scriptedProcessor{fail: map[string]bool{"0xaa": true}}
	w := NewFailedEventReconciler(status, proc, 5, 100, 15*time.Minute, time.Minute, true, logger.Nop())

	res, err := w.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Requeued)
	assert.Equal(t, 1, res.Listed)
	require.Len(t, proc.calls, 1)
	assert.Equal(t, "0xaa", proc.calls[0].TxHash)

	rec, err := status.Get(ctx, 1, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, eventstatus.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, eventstatus.StaleMessage, *rec.LastError)

	rec, err = status.Get(ctx, 1, "0xbb")
	require.NoError(t, err)
	assert.Equal(t, eventstatus.StatusProcessing, rec.Status, "a recent claim is left to its handler")
}

func TestFailedEventReconciler_RequeueError(t *testing.T) {
	w := NewFailedEventReconciler(stuckStatus{testsupport.NewStatusStore()}, &scriptedProcessor{}, 5, 100, 0, time.Minute, true, logger.Nop())

	_, err := w.Reconcile(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
}

type stuckStatus struct {
	*testsupport.StatusStore
}

func (stuckStatus) RequeueStale(context.Context, time.Duration) (int64, error) {
	return 0, errors.ErrUnavailable
}
