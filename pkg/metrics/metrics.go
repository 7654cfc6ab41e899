package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/web3ekko/ekko-pulse/pkg/common"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	blocksProcessed *prometheus.CounterVec
	blocksSkipped   *prometheus.CounterVec
	txFetchFailures *prometheus.CounterVec
	headsDropped    *prometheus.CounterVec
	blockGaps       *prometheus.CounterVec
	alertsScheduled *prometheus.CounterVec
	sinkFailures    *prometheus.CounterVec
	currentBlock    *prometheus.GaugeVec
	tps             *prometheus.GaugeVec
	totalTxs        *prometheus.GaugeVec
	feedSize        *prometheus.GaugeVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	networkLabel := []string{"network"}

	m := Metrics{
		// block ingestion
		blocksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_blocks_processed_total", namespace),
			Help: "Blocks fully processed and committed",
		}, networkLabel),
		blocksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_blocks_skipped_total", namespace),
			Help: "Blocks skipped because the fetch failed or returned nothing",
		}, []string{"network", "reason"}),
		txFetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_tx_fetch_failures_total", namespace),
			Help: "Transactions dropped because their fetch failed",
		}, networkLabel),
		headsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_heads_dropped_total", namespace),
			Help: "Block numbers evicted from a full head queue",
		}, networkLabel),
		blockGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_block_gaps_total", namespace),
			Help: "Block numbers never observed between two processed blocks",
		}, networkLabel),
		alertsScheduled: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_alerts_scheduled_total", namespace),
			Help: "Alert events scheduled by tier",
		}, []string{"network", "tier"}),
		sinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_sink_failures_total", namespace),
			Help: "Updates a sink failed to publish",
		}, networkLabel),
		// session state
		currentBlock: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_current_block", namespace),
			Help: "Highest block number processed in the active session",
		}, networkLabel),
		tps: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_tps", namespace),
			Help: "Rolling transactions per second",
		}, networkLabel),
		totalTxs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_session_transactions", namespace),
			Help: "Transactions observed in the active session",
		}, networkLabel),
		feedSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_feed_size", namespace),
			Help: "Entries currently held in the feed",
		}, networkLabel),
	}
	return &m
}

func (m *Metrics) BlockProcessed(network string) {
	if m == nil {
		return
	}
	m.blocksProcessed.WithLabelValues(network).Inc()
}

func (m *Metrics) BlockSkipped(network, reason string) {
	if m == nil {
		return
	}
	m.blocksSkipped.WithLabelValues(network, reason).Inc()
}

func (m *Metrics) TxFetchFailed(network string) {
	if m == nil {
		return
	}
	m.txFetchFailures.WithLabelValues(network).Inc()
}

func (m *Metrics) HeadDropped(network string) {
	if m == nil {
		return
	}
	m.headsDropped.WithLabelValues(network).Inc()
}

func (m *Metrics) BlockGap(network string, missed uint64) {
	if m == nil {
		return
	}
	m.blockGaps.WithLabelValues(network).Add(float64(missed))
}

func (m *Metrics) AlertsScheduled(network string, alerts []common.AlertEvent) {
	if m == nil {
		return
	}
	for _, a := range alerts {
		m.alertsScheduled.WithLabelValues(network, string(a.Tier)).Inc()
	}
}

func (m *Metrics) SinkFailed(network string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(network).Inc()
}

// SetSnapshot mirrors the session gauges from a snapshot.
func (m *Metrics) SetSnapshot(s common.Snapshot) {
	if m == nil {
		return
	}
	m.currentBlock.WithLabelValues(s.Network).Set(float64(s.Stats.CurrentBlock))
	m.tps.WithLabelValues(s.Network).Set(s.Stats.TPS)
	m.totalTxs.WithLabelValues(s.Network).Set(float64(s.Stats.TotalTransactions))
	m.feedSize.WithLabelValues(s.Network).Set(float64(len(s.Feed)))
}
