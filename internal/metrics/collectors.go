package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chainintel/internal/domain/eventstatus"
	"chainintel/pkg/logger"
)

// StatusCollector reports idempotency ledger counts on every scrape
type StatusCollector struct {
	log    *logger.Logger
	status eventstatus.Repository

	records *prometheus.Desc
}

// NewStatusCollector creates a collector over the status store
func NewStatusCollector(log *logger.Logger, status eventstatus.Repository) *StatusCollector {
	return &StatusCollector{
		log:    log,
		status: status,
		records: prometheus.NewDesc(
			"chainintel_event_status_records",
			"Event status records by status",
			[]string{"status"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
}

// Collect implements prometheus.Collector
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.status.CountByStatus(ctx)
	if err != nil {
		c.log.Errorw("Failed to collect event status counts", "error", err)
		return
	}

	for _, s := range eventstatus.AllStatuses() {
		ch <- prometheus.MustNewConstMetric(
			c.records,
			prometheus.GaugeValue,
			float64(counts[s]),
			string(s),
		)
	}
}
