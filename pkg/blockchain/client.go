package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrNotFound is returned by fetchers when the node has no such object.
var ErrNotFound = ethereum.NotFound

// Client is the read-only view of a chain node the engine depends on.
// BlockByNumber and TransactionByHash return (nil, nil) when the node
// reports the object as absent.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
	TransactionByHash(ctx context.Context, hash gethcommon.Hash) (*RawTransaction, error)
	Close()
}

// EthClient implements Client on top of go-ethereum's rpc and ethclient packages.
type EthClient struct {
	url string
	rpc *rpc.Client
	eth *ethclient.Client
}

var _ Client = (*EthClient)(nil)

// Dial connects to an EVM JSON-RPC endpoint. HTTP and websocket URLs are both accepted.
func Dial(ctx context.Context, url string) (*EthClient, error) {
	if url == "" {
		return nil, fmt.Errorf("rpc url is empty")
	}
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &EthClient{
		url: url,
		rpc: rc,
		eth: ethclient.NewClient(rc),
	}, nil
}

// BlockNumber returns the current head height.
func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber on %s: %w", c.url, err)
	}
	return n, nil
}

type rpcBlock struct {
	Number       hexutil.Uint64    `json:"number"`
	Hash         gethcommon.Hash   `json:"hash"`
	Timestamp    hexutil.Uint64    `json:"timestamp"`
	Transactions []gethcommon.Hash `json:"transactions"`
}

// BlockByNumber fetches a block with its transaction hash list (no transaction bodies).
func (c *EthClient) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var raw *rpcBlock
	err := c.rpc.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("eth_getBlockByNumber %d: %w", number, err)
	}
	if raw == nil {
		return nil, nil
	}
	return &Block{
		Number:    uint64(raw.Number),
		Hash:      raw.Hash,
		Timestamp: uint64(raw.Timestamp),
		TxHashes:  raw.Transactions,
	}, nil
}

type rpcTransaction struct {
	Hash  gethcommon.Hash     `json:"hash"`
	From  gethcommon.Address  `json:"from"`
	To    *gethcommon.Address `json:"to"`
	Value *hexutil.Big        `json:"value"`
	Input string              `json:"input"`
}

// TransactionByHash fetches a single transaction. The sender is taken from the
// node's response, so no signature recovery happens here.
func (c *EthClient) TransactionByHash(ctx context.Context, hash gethcommon.Hash) (*RawTransaction, error) {
	var raw *rpcTransaction
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("eth_getTransactionByHash %s: %w", hash.Hex(), err)
	}
	if raw == nil {
		return nil, nil
	}
	value := new(big.Int)
	if raw.Value != nil {
		value = raw.Value.ToInt()
	}
	return &RawTransaction{
		Hash:  raw.Hash,
		From:  raw.From,
		To:    raw.To,
		Value: value,
		Input: raw.Input,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *EthClient) Close() {
	c.eth.Close()
}
