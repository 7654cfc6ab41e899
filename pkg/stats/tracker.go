package stats

import (
	"math"
	"time"

	"github.com/web3ekko/ekko-pulse/pkg/common"
)

// DefaultWindowSize is the number of recent blocks used to smooth tps.
const DefaultWindowSize = 10

// Tracker keeps the rolling statistics of one session. It is not safe for
// concurrent use; the session serializes access.
type Tracker struct {
	durations *Window[time.Duration]
	counts    *Window[uint64]

	currentBlock      uint64
	totalTransactions uint64
	tps               float64
}

// NewTracker creates a tracker whose windows hold windowSize observations.
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Tracker{
		durations: NewWindow[time.Duration](windowSize),
		counts:    NewWindow[uint64](windowSize),
	}
}

// Observe records one processed block. interArrival is the time since the
// previous block was observed and txCount is the block's full transaction
// count, not the sampled subset.
func (t *Tracker) Observe(number uint64, interArrival time.Duration, txCount int) common.NetworkStats {
	if interArrival < 0 {
		interArrival = 0
	}
	if txCount < 0 {
		txCount = 0
	}

	t.durations.Push(interArrival)
	t.counts.Push(uint64(txCount))

	if number > t.currentBlock {
		t.currentBlock = number
	}
	t.totalTransactions += uint64(txCount)
	t.tps = computeTPS(t.counts.Values(), t.durations.Values())

	return t.Stats()
}

// Stats returns the current counters.
func (t *Tracker) Stats() common.NetworkStats {
	return common.NetworkStats{
		CurrentBlock:      t.currentBlock,
		TPS:               t.tps,
		TotalTransactions: t.totalTransactions,
	}
}

// CurrentBlock is the highest block number observed.
func (t *Tracker) CurrentBlock() uint64 { return t.currentBlock }

// Durations returns the inter-arrival window in arrival order.
func (t *Tracker) Durations() []time.Duration { return t.durations.Values() }

// Counts returns the transaction count window in arrival order.
func (t *Tracker) Counts() []uint64 { return t.counts.Values() }

// Reset clears all counters and windows.
func (t *Tracker) Reset() {
	t.durations.Reset()
	t.counts.Reset()
	t.currentBlock = 0
	t.totalTransactions = 0
	t.tps = 0
}

// computeTPS divides the windowed transaction total by the windowed time in
// seconds and rounds to one decimal. A zero time sum yields zero.
func computeTPS(counts []uint64, durations []time.Duration) float64 {
	var txs uint64
	for _, c := range counts {
		txs += c
	}
	var ms int64
	for _, d := range durations {
		ms += d.Milliseconds()
	}
	if ms == 0 {
		return 0
	}
	tps := float64(txs) / (float64(ms) / 1000)
	return math.Round(tps*10) / 10
}
