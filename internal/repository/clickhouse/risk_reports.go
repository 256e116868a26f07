package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"chainintel/internal/domain/risk"
	"chainintel/pkg/clickhouse"
	"chainintel/pkg/errors"
)

// Compile-time check
var _ risk.AnalyticsRepository = (*RiskReportRepository)(nil)

// RiskReportRepository appends flattened reports to ClickHouse through a batch writer
type RiskReportRepository struct {
	conn   driver.Conn
	writer *clickhouse.BatchWriter[risk.AnalyticsRecord]
}

// NewRiskReportRepository creates the repository; call Start to run the flush loop
func NewRiskReportRepository(conn driver.Conn, batchSize int, maxAge time.Duration) *RiskReportRepository {
	repo := &RiskReportRepository{conn: conn}
	repo.writer = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[risk.AnalyticsRecord]{
		FlushFunc:    repo.flushBatch,
		TableName:    "risk_reports",
		MaxBatchSize: batchSize,
		MaxAge:       maxAge,
	})
	return repo
}

// Start begins the background flush loop
func (r *RiskReportRepository) Start(ctx context.Context) {
	r.writer.Start(ctx)
}

// Stop flushes what is buffered
func (r *RiskReportRepository) Stop(ctx context.Context) error {
	return r.writer.Stop(ctx)
}

// Flush writes buffered rows now
func (r *RiskReportRepository) Flush(ctx context.Context) error {
	return r.writer.Flush(ctx)
}

// Append buffers the record
func (r *RiskReportRepository) Append(ctx context.Context, rec risk.AnalyticsRecord) error {
	return r.writer.Add(ctx, rec)
}

func (r *RiskReportRepository) flushBatch(ctx context.Context, batch []risk.AnalyticsRecord) error {
	stmt, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO risk_reports (
			trace_id, chain_id, block_number, tx_hash, from_address, to_address,
			kind, value_wei, score, level, action, points, combinations,
			ai_degraded, source, event_time, analyzed_at
		)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	defer stmt.Close()

	for i := range batch {
		if err := stmt.AppendStruct(&batch[i]); err != nil {
			return errors.Wrapf(err, "append report %s", batch[i].TraceID)
		}
	}

	return stmt.Send()
}

// LevelCounts returns the number of reports per level since the given time
func (r *RiskReportRepository) LevelCounts(ctx context.Context, chainID int64, since time.Time) (map[risk.Level]uint64, error) {
	var rows []struct {
		Level string `ch:"level"`
		Count uint64 `ch:"count"`
	}

	query := `
		SELECT level, count() AS count
		FROM risk_reports
		WHERE chain_id = ? AND analyzed_at >= ?
		GROUP BY level`

	if err := r.conn.Select(ctx, &rows, query, chainID, since); err != nil {
		return nil, errors.Wrap(err, "level counts")
	}

	counts := make(map[risk.Level]uint64, len(rows))
	for _, row := range rows {
		counts[risk.Level(row.Level)] = row.Count
	}
	return counts, nil
}
