// Package alerts decides which transactions of a block raise an alert and
// when, relative to the block being committed.
package alerts

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/web3ekko/ekko-pulse/pkg/common"
	"github.com/web3ekko/ekko-pulse/pkg/decoder"
)

const DefaultStagger = 600 * time.Millisecond

// DefaultMinimumAmount is the threshold for a major alert.
var DefaultMinimumAmount = decimal.RequireFromString("0.0005")

// Policy configures which transactions qualify.
//
// With OnlyTransfers set, only transfers at or above MinimumAmount qualify.
// Without it, any transaction with an amount at or above MinimumAmount
// qualifies as a major alert and any other positive amount as a minor one.
type Policy struct {
	MinimumAmount decimal.Decimal
	OnlyTransfers bool
	Stagger       time.Duration
}

// Qualifies reports whether tx raises an alert and with which tier.
func (p Policy) Qualifies(tx common.Transaction) (common.AlertTier, bool) {
	if p.OnlyTransfers && tx.Type != common.TxTypeTransfer {
		return "", false
	}
	amount, err := decoder.ParseAmount(tx.Value)
	if err != nil {
		return "", false
	}
	switch {
	case amount.GreaterThanOrEqual(p.MinimumAmount):
		return common.TierMajor, true
	case !p.OnlyTransfers && amount.IsPositive():
		return common.TierMinor, true
	default:
		return "", false
	}
}

// Schedule assigns SoundDelay = index × Stagger to every qualifying
// transaction, index counting only qualifying ones in the given (fetch)
// order. It returns a copy of txs with delays set and the matching alert
// events; txs itself is not modified.
func (p Policy) Schedule(network string, txs []common.Transaction) ([]common.Transaction, []common.AlertEvent) {
	out := common.CloneTransactions(txs)
	var events []common.AlertEvent

	for i := range out {
		tier, ok := p.Qualifies(out[i])
		if !ok {
			continue
		}
		delay := time.Duration(len(events)) * p.Stagger
		out[i].SoundDelay = &delay
		events = append(events, common.AlertEvent{
			Network: network,
			TxHash:  out[i].Hash,
			Type:    out[i].Type,
			Amount:  out[i].Value,
			Delay:   delay,
			DelayMs: delay.Milliseconds(),
			Tier:    tier,
		})
	}
	return out, events
}
