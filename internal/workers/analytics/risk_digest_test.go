package analytics

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/domain/risk"
	"chainintel/internal/metrics"
	"chainintel/internal/testsupport"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

type failingAnalytics struct{}

func (failingAnalytics) Append(context.Context, risk.AnalyticsRecord) error { return nil }

func (failingAnalytics) LevelCounts(context.Context, int64, time.Time) (map[risk.Level]uint64, error) {
	return nil, errors.ErrUnavailable
}

func TestRiskDigest_SetsGaugesWithinWindow(t *testing.T) {
	now := time.Now().UTC()
	store := &testsupport.AnalyticsStore{}
	ctx := context.Background()

	chainID := testsupport.UniqueChainID()
	fixture := testsupport.NewRiskReportFixture().WithChain(chainID)
	require.NoError(t, store.Append(ctx, fixture.WithAnalyzedAt(now.Add(-10*time.Minute)).Build()))
	require.NoError(t, store.Append(ctx, fixture.WithLevel(risk.LevelHigh, 85).Build()))
	require.NoError(t, store.Append(ctx, fixture.WithAnalyzedAt(now.Add(-2*time.Hour)).Build()))

	w := NewRiskDigest(store, []int64{chainID}, time.Hour, time.Minute, true, logger.Nop())
	w.now = func() time.Time { return now }

	require.NoError(t, w.Run(ctx))

	label := strconv.FormatInt(chainID, 10)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RecentRiskLevels.WithLabelValues(label, "MEDIUM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RecentRiskLevels.WithLabelValues(label, "HIGH")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RecentRiskLevels.WithLabelValues(label, "CRITICAL")))
}

func TestRiskDigest_AllChainsFailing(t *testing.T) {
	w := NewRiskDigest(failingAnalytics{}, []int64{1, 56}, time.Hour, time.Minute, true, logger.Nop())

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}
