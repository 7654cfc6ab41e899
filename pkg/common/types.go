package common

import (
	"encoding/json"
	"time"
)

// TxType is the single label a classified transaction carries.
type TxType string

const (
	TxTypeTransfer         TxType = "transfer"
	TxTypeContractCreation TxType = "contract-creation"
	TxTypeOther            TxType = "other"
)

// Transaction is a classified transaction as it appears in the feed.
// It is never mutated after the scheduler assigns SoundDelay.
type Transaction struct {
	Hash      string  `json:"hash"`
	From      string  `json:"from"`
	To        *string `json:"to"`        // nil for contract creation
	Value     string  `json:"value"`     // exact decimal, 18-decimal fixed point
	Timestamp int64   `json:"timestamp"` // capture-time ordering key in ms
	Type      TxType  `json:"type"`

	// SoundDelay is nil when no alert is scheduled for the transaction.
	SoundDelay *time.Duration `json:"-"`
}

// MarshalJSON renders SoundDelay as whole milliseconds.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	out := struct {
		plain
		SoundDelay *int64 `json:"soundDelay,omitempty"`
	}{plain: plain(t)}
	if t.SoundDelay != nil {
		ms := t.SoundDelay.Milliseconds()
		out.SoundDelay = &ms
	}
	return json.Marshal(out)
}

// NetworkStats are the rolling counters of the active session.
type NetworkStats struct {
	CurrentBlock      uint64  `json:"currentBlock"`
	TPS               float64 `json:"tps"`
	TotalTransactions uint64  `json:"totalTransactions"`
}

// ConnectionState mirrors the connectivity of the active chain client.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// AlertTier separates meaningful transfers from dust.
type AlertTier string

const (
	TierMajor AlertTier = "major" // amount at or above the configured minimum
	TierMinor AlertTier = "minor" // positive dust, only when filters are off
)

// AlertEvent is a scheduled alert for a consumer to render or play.
type AlertEvent struct {
	Network string        `json:"network"`
	TxHash  string        `json:"txHash"`
	Type    TxType        `json:"type"`
	Amount  string        `json:"amount"`
	Delay   time.Duration `json:"-"`
	DelayMs int64         `json:"delayMs"`
	Tier    AlertTier     `json:"tier"`
}

// Snapshot is an immutable copy of the engine state handed to consumers.
type Snapshot struct {
	Network         string          `json:"network"`
	SessionID       string          `json:"sessionId,omitempty"`
	Listening       bool            `json:"listening"`
	ConnectionState ConnectionState `json:"connectionState"`
	LastError       string          `json:"lastError,omitempty"`
	Stats           NetworkStats    `json:"stats"`
	Feed            []Transaction   `json:"feed"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Update is emitted after every processed block and every connection state change.
type Update struct {
	Snapshot Snapshot     `json:"snapshot"`
	Alerts   []AlertEvent `json:"alerts,omitempty"`
}

// CloneTransactions returns a copy of txs that shares no mutable state with the input.
func CloneTransactions(txs []Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	for i, tx := range txs {
		if tx.To != nil {
			to := *tx.To
			tx.To = &to
		}
		if tx.SoundDelay != nil {
			d := *tx.SoundDelay
			tx.SoundDelay = &d
		}
		out[i] = tx
	}
	return out
}
