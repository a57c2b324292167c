// Package metrics exposes Prometheus instrumentation for the sourcing
// pipeline. Collectors are registered on the default registry and served
// by the API's /metrics endpoint.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueItemsProcessed counts queue items resolved per batch run,
	// labelled by outcome (completed, retried, failed)
	QueueItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sourcer_queue_items_processed_total",
		Help: "Queue items resolved by the batch processor, by outcome",
	}, []string{"outcome"})

	// ProviderFailures counts per-provider lookup failures in the chain
	ProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sourcer_provider_failures_total",
		Help: "Image provider lookup failures, by provider",
	}, []string{"provider"})

	// ImagesAssigned counts images attached to products by the bulk scanner
	ImagesAssigned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sourcer_bulk_images_assigned_total",
		Help: "Images assigned to products by the bulk scanner",
	})

	// LowConfidenceFlagged counts sourced images tagged low confidence
	LowConfidenceFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sourcer_low_confidence_flagged_total",
		Help: "Sourced images flagged low confidence for review",
	})

	// DuplicatesSkipped counts bulk-scan candidates skipped by the dedup ledger
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sourcer_duplicates_skipped_total",
		Help: "Byte-identical images skipped by the dedup ledger",
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sourcer_queue_depth",
		Help: "Queue items by status",
	}, []string{"status"})

	dbOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sourcer_db_open_connections",
		Help: "Open database connections",
	})

	dbInUseConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sourcer_db_in_use_connections",
		Help: "Database connections currently in use",
	})

	dbWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sourcer_db_wait_count_total",
		Help: "Total connection waits",
	})
)

// SetQueueDepth publishes queue depth gauges for one status
func SetQueueDepth(status string, count int) {
	queueDepth.WithLabelValues(status).Set(float64(count))
}

// UpdateDBStats publishes connection-pool gauges from sql.DBStats
func UpdateDBStats(db *sql.DB) {
	stats := db.Stats()
	dbOpenConnections.Set(float64(stats.OpenConnections))
	dbInUseConnections.Set(float64(stats.InUse))
	dbWaitCount.Set(float64(stats.WaitCount))
}
