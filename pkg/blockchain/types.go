package blockchain

import (
	"math/big"

	gethcommon "github.com/ethereum/go-ethereum/common"
)

// Block is a block header plus the hashes of its transactions, in block order.
type Block struct {
	Number    uint64
	Hash      gethcommon.Hash
	Timestamp uint64
	TxHashes  []gethcommon.Hash
}

// RawTransaction is the subset of an RPC transaction the classifier needs.
type RawTransaction struct {
	Hash  gethcommon.Hash
	From  gethcommon.Address
	To    *gethcommon.Address // nil for contract creation
	Value *big.Int
	Input string // hex as returned by the node; "0x", "0x0" or "" mean no calldata
}

// NewHeadResult is the "result" field of an EVM newHeads subscription event.
type NewHeadResult struct {
	Hash   string `json:"hash"`
	Number string `json:"number"`
}

// SubscriptionMessage is a newHeads notification as delivered over websocket.
type SubscriptionMessage struct {
	Method string `json:"method"`
	Params struct {
		Subscription string        `json:"subscription"`
		Result       NewHeadResult `json:"result"`
	} `json:"params"`
}
