package decoder

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/web3ekko/ekko-pulse/pkg/blockchain"
	"github.com/web3ekko/ekko-pulse/pkg/common"
	"go.uber.org/zap"
)

// transferSelector is the 4-byte selector of transfer(address,uint256).
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// transferCallLength is selector + address word + amount word.
const transferCallLength = 4 + 32 + 32

var transferArgs = mustTransferArgs()

func mustTransferArgs() abi.Arguments {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uintType, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Name: "recipient", Type: addressType},
		{Name: "amount", Type: uintType},
	}
}

// Kind tags the outcome of classifying one raw transaction.
type Kind int

const (
	KindExcluded Kind = iota
	KindTransfer
	KindContractCreation
	KindOther
)

// TxType maps a kind to its feed label. Excluded has no label.
func (k Kind) TxType() common.TxType {
	switch k {
	case KindTransfer:
		return common.TxTypeTransfer
	case KindContractCreation:
		return common.TxTypeContractCreation
	default:
		return common.TxTypeOther
	}
}

func (k Kind) String() string {
	if k == KindExcluded {
		return "excluded"
	}
	return string(k.TxType())
}

// Result is the tagged classification of a single transaction.
// Amount is in the smallest unit and is never nil for included kinds.
type Result struct {
	Kind   Kind
	Amount *big.Int
}

// Included reports whether the transaction belongs in the feed.
func (r Result) Included() bool {
	return r.Kind != KindExcluded
}

// Classifier labels raw transactions either against one monitored token
// contract or, when none is configured, by the shape of the native transfer.
type Classifier struct {
	token *gethcommon.Address
	log   *zap.SugaredLogger
}

// NewClassifier creates a classifier. An empty tokenAddress selects native
// mode. An address that does not parse is ignored with a warning, which
// also selects native mode.
func NewClassifier(log *zap.SugaredLogger, tokenAddress string) *Classifier {
	c := &Classifier{log: log.With("component", "classifier")}

	tokenAddress = strings.TrimSpace(tokenAddress)
	switch {
	case tokenAddress == "":
	case !gethcommon.IsHexAddress(tokenAddress):
		c.log.Warnw("invalid monitored token address, monitoring native transfers", "token", tokenAddress)
	default:
		addr := gethcommon.HexToAddress(tokenAddress)
		c.token = &addr
		c.log.Infow("monitoring token transfers", "token", addr.Hex())
	}
	return c
}

// TokenMode reports whether a monitored token is active.
func (c *Classifier) TokenMode() bool {
	return c.token != nil
}

// Classify labels one transaction. It never fails: malformed token calls
// are simply excluded.
func (c *Classifier) Classify(tx *blockchain.RawTransaction) Result {
	if tx == nil {
		return Result{Kind: KindExcluded}
	}
	if c.token != nil {
		return c.classifyToken(tx)
	}
	return classifyNative(tx)
}

func classifyNative(tx *blockchain.RawTransaction) Result {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	switch {
	case tx.To == nil:
		return Result{Kind: KindContractCreation, Amount: value}
	case isEmptyInput(tx.Input):
		return Result{Kind: KindTransfer, Amount: value}
	default:
		return Result{Kind: KindOther, Amount: value}
	}
}

func isEmptyInput(input string) bool {
	switch input {
	case "", "0x", "0X", "0x0":
		return true
	}
	return false
}

func (c *Classifier) classifyToken(tx *blockchain.RawTransaction) Result {
	if tx.To == nil || *tx.To != *c.token {
		return Result{Kind: KindExcluded}
	}
	amount, err := decodeTransferAmount(tx.Input)
	if err != nil {
		c.log.Debugw("not a token transfer", "tx", tx.Hash.Hex(), "error", err)
		return Result{Kind: KindExcluded}
	}
	return Result{Kind: KindTransfer, Amount: amount}
}

// decodeTransferAmount extracts the amount word of a transfer(address,uint256) call.
func decodeTransferAmount(input string) (*big.Int, error) {
	data, err := hexutil.Decode(strings.ToLower(input))
	if err != nil {
		return nil, fmt.Errorf("calldata: %w", err)
	}
	if len(data) < transferCallLength {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], transferSelector) {
		return nil, fmt.Errorf("selector %x is not transfer", data[:4])
	}

	values, err := transferArgs.Unpack(data[4:transferCallLength])
	if err != nil {
		return nil, fmt.Errorf("argument unpack failed: %w", err)
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amount type %T", values[1])
	}
	return amount, nil
}

// ClassifyBatch classifies txs in fetch order and returns the included ones
// as feed transactions. Timestamps are baseMs plus the index among the
// included transactions, which keeps them strictly increasing within a block.
func (c *Classifier) ClassifyBatch(txs []*blockchain.RawTransaction, baseMs int64) []common.Transaction {
	out := make([]common.Transaction, 0, len(txs))
	for _, tx := range txs {
		res := c.Classify(tx)
		if !res.Included() {
			continue
		}

		var to *string
		if tx.To != nil {
			s := tx.To.Hex()
			to = &s
		}
		out = append(out, common.Transaction{
			Hash:      tx.Hash.Hex(),
			From:      tx.From.Hex(),
			To:        to,
			Value:     FormatUnits(res.Amount),
			Timestamp: baseMs + int64(len(out)),
			Type:      res.Kind.TxType(),
		})
	}
	return out
}
