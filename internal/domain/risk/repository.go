package risk

import (
	"context"
	"time"
)

// AnalyticsRepository stores flattened reports for offline analysis
type AnalyticsRepository interface {
	Append(ctx context.Context, rec AnalyticsRecord) error
	LevelCounts(ctx context.Context, chainID int64, since time.Time) (map[Level]uint64, error)
}
