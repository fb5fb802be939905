package domain

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ProcessingMetrics struct {
	sourceHeightGauge    prometheus.Gauge
	processedHeightGauge prometheus.Gauge
	processedBlocksCount prometheus.Counter
	processedTxCount     prometheus.Counter
	parseErrorCount      prometheus.Counter
	whaleAlertCount      prometheus.Counter
	anomalyCount         prometheus.Counter
	emittedSignalCount   prometheus.Counter
	dedupDroppedCount    prometheus.Counter
}

func NewProcessingMetrics(namespace string) *ProcessingMetrics {
	m := ProcessingMetrics{
		// cursor position vs chain head
		sourceHeightGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_source_height", namespace),
			Help: "The latest known chain height",
		}),
		processedHeightGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_processed_height", namespace),
			Help: "The latest fully processed block height",
		}),
		processedBlocksCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_processed_block_count", namespace),
			Help: "The total number of processed blocks",
		}),
		processedTxCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_processed_transaction_count", namespace),
			Help: "The total number of processed transactions",
		}),
		parseErrorCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_parse_error_count", namespace),
			Help: "The total number of malformed transaction records skipped",
		}),
		whaleAlertCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_whale_alert_count", namespace),
			Help: "The total number of whale alerts detected",
		}),
		anomalyCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_anomaly_count", namespace),
			Help: "The total number of anomalies detected",
		}),
		emittedSignalCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_emitted_signal_count", namespace),
			Help: "The total number of signals emitted to the sink",
		}),
		dedupDroppedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_dedup_dropped_count", namespace),
			Help: "The total number of signals dropped as duplicates",
		}),
	}
	return &m
}

func (metrics *ProcessingMetrics) SetSourceHeight(height uint64) {
	metrics.sourceHeightGauge.Set(float64(height))
}

func (metrics *ProcessingMetrics) SetProcessedHeight(height uint64) {
	metrics.processedHeightGauge.Set(float64(height))
}

func (metrics *ProcessingMetrics) IncProcessedBlocks() {
	metrics.processedBlocksCount.Inc()
}

func (metrics *ProcessingMetrics) AddProcessedTransactions(count int) {
	metrics.processedTxCount.Add(float64(count))
}

func (metrics *ProcessingMetrics) IncParseErrors() {
	metrics.parseErrorCount.Inc()
}

func (metrics *ProcessingMetrics) IncWhaleAlerts() {
	metrics.whaleAlertCount.Inc()
}

func (metrics *ProcessingMetrics) IncAnomalies() {
	metrics.anomalyCount.Inc()
}

func (metrics *ProcessingMetrics) IncEmittedSignals() {
	metrics.emittedSignalCount.Inc()
}

func (metrics *ProcessingMetrics) IncDedupDropped() {
	metrics.dedupDroppedCount.Inc()
}
