package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chainintel/internal/adapters/clickhouse"
	"chainintel/internal/adapters/config"
	"chainintel/internal/domain/risk"
)

// ClickHouseTestHelper manages cleanup for ClickHouse integration tests.
type ClickHouseTestHelper struct {
	client *clickhouse.Client
}

// NewClickHouseTestHelper creates a ClickHouse client for tests.
func NewClickHouseTestHelper(t *testing.T, cfg config.ClickHouseConfig) *ClickHouseTestHelper {
	t.Helper()

	client, err := clickhouse.NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to connect to clickhouse: %v", err)
	}

	helper := &ClickHouseTestHelper{client: client}
	t.Cleanup(func() { _ = client.Close() })

	// DDL in migrations/clickhouse is idempotent and not rolled back
	for _, script := range upMigrations(t, "clickhouse") {
		for _, stmt := range splitStatements(script) {
			if err := client.Exec(context.Background(), stmt); err != nil {
				t.Fatalf("apply clickhouse schema: %v", err)
			}
		}
	}
	return helper
}

// NewTestClickHouse creates a helper from the environment, skipping the test when it is not configured
func NewTestClickHouse(t *testing.T) *ClickHouseTestHelper {
	t.Helper()
	return NewClickHouseTestHelper(t, ClickHouseFromEnv(t))
}

// CreateTempTable creates a temporary table and registers cleanup.
func (h *ClickHouseTestHelper) CreateTempTable(t *testing.T, schema string) string {
	t.Helper()

	table := fmt.Sprintf("tmp_test_%d", time.Now().UnixNano())
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree() ORDER BY tuple()", table, schema)

	if err := h.client.Exec(context.Background(), query); err != nil {
		t.Fatalf("failed to create clickhouse table: %v", err)
	}

	t.Cleanup(func() {
		_ = h.client.Exec(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
	})

	return table
}

// CleanupTable drops the provided table immediately.
func (h *ClickHouseTestHelper) CleanupTable(ctx context.Context, table string) error {
	return h.client.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
}

// RegisterTableCleanup deletes matching rows of a shared table after the test
func (h *ClickHouseTestHelper) RegisterTableCleanup(t *testing.T, table, condition string) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = h.client.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, condition))
	})
}

// Client exposes the raw ClickHouse client for queries.
func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}

// RiskReportFixture builds analytics rows with sensible defaults
type RiskReportFixture struct {
	rec risk.AnalyticsRecord
}

// NewRiskReportFixture returns a MEDIUM transfer on a test-only chain
func NewRiskReportFixture() *RiskReportFixture {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &RiskReportFixture{
		rec: risk.AnalyticsRecord{
			TraceID:     UniqueTraceID(),
			ChainID:     UniqueChainID(),
			BlockNumber: 100,
			TxHash:      UniqueTxHash(),
			FromAddress: UniqueAddress(),
			ToAddress:   UniqueAddress(),
			Kind:        "transfer",
			ValueWei:    "150000000000000000000",
			Score:       70,
			Level:       string(risk.LevelMedium),
			Action:      string(risk.ActionMonitor),
			Points:      []string{string(risk.PointLargeTransfer), string(risk.PointFrequentTransfer)},
			Source:      "live",
			EventTime:   now,
			AnalyzedAt:  now,
		},
	}
}

// WithChain sets the chain id
func (f *RiskReportFixture) WithChain(chainID int64) *RiskReportFixture {
	f.rec.ChainID = chainID
	return f
}

// WithLevel sets the level and a matching score
func (f *RiskReportFixture) WithLevel(level risk.Level, score float64) *RiskReportFixture {
	f.rec.Level = string(level)
	f.rec.Score = score
	return f
}

// WithAnalyzedAt sets the analysis time
func (f *RiskReportFixture) WithAnalyzedAt(t time.Time) *RiskReportFixture {
	f.rec.AnalyzedAt = t
	return f
}

// Build returns the record
func (f *RiskReportFixture) Build() risk.AnalyticsRecord {
	rec := f.rec
	rec.TraceID = UniqueTraceID()
	rec.TxHash = UniqueTxHash()
	return rec
}
