package clickhouse

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/domain/risk"
	"chainintel/internal/testsupport"
)

func TestRiskReportRepository_AppendAndCount(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	helper := testsupport.NewTestClickHouse(t)
	repo := NewRiskReportRepository(helper.Client().Conn(), 100, time.Minute)
	ctx := context.Background()

	fixture := testsupport.NewRiskReportFixture()
	chainID := testsupport.UniqueChainID()
	fixture.WithChain(chainID)
	helper.RegisterTableCleanup(t, "risk_reports", "chain_id = "+strconv.FormatInt(chainID, 10))

	require.NoError(t, repo.Append(ctx, fixture.Build()))
	require.NoError(t, repo.Append(ctx, fixture.Build()))
	require.NoError(t, repo.Append(ctx, fixture.WithLevel(risk.LevelHigh, 85).Build()))
	require.NoError(t, repo.Flush(ctx))

	counts, err := repo.LevelCounts(ctx, chainID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), counts[risk.LevelMedium])
	assert.Equal(t, uint64(1), counts[risk.LevelHigh])
	assert.Zero(t, counts[risk.LevelCritical])
}
