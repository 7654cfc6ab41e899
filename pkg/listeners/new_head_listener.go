package listeners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/web3ekko/ekko-pulse/pkg/blockchain"
	"go.uber.org/zap"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultReadTimeout    = 60 * time.Second
)

const subscribeNewHeads = `{"jsonrpc":"2.0","id":1,"method":"eth_subscribe","params":["newHeads"]}`

// NewHeadListener subscribes to newHeads over a websocket endpoint and pushes
// every announced block number onto the queue. Dropped connections are
// re-established after ReconnectDelay.
type NewHeadListener struct {
	Network        string
	WsURL          string
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration

	log *zap.SugaredLogger
}

var _ HeadSource = (*NewHeadListener)(nil)

// NewNewHeadListener creates a listener for the given websocket URL.
func NewNewHeadListener(log *zap.SugaredLogger, network, wsURL string, reconnectDelay time.Duration) *NewHeadListener {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	return &NewHeadListener{
		Network:        network,
		WsURL:          wsURL,
		ReconnectDelay: reconnectDelay,
		ReadTimeout:    defaultReadTimeout,
		log:            log.With("component", "newheads", "network", network),
	}
}

// Run connects, subscribes and forwards heads until ctx is cancelled.
func (l *NewHeadListener) Run(ctx context.Context, queue *BlockQueue) error {
	if l.WsURL == "" {
		return fmt.Errorf("websocket url is empty for network %s", l.Network)
	}

	l.log.Infow("listener starting", "url", l.WsURL)
	defer l.log.Infow("listener stopped")

	for {
		err := l.connectAndListen(ctx, queue)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warnw("subscription interrupted, reconnecting", "error", err, "delay", l.ReconnectDelay)

		select {
		case <-time.After(l.ReconnectDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *NewHeadListener) connectAndListen(ctx context.Context, queue *BlockQueue) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.WsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the session ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(subscribeNewHeads)); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}
	l.log.Debugw("subscribed to newHeads")

	for {
		if l.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		number, ok, err := parseNewHead(message)
		if err != nil {
			l.log.Warnw("unparsable message", "error", err)
			continue
		}
		if !ok {
			continue
		}
		queue.Push(number)
	}
}

var errNoNumber = errors.New("newHeads notification has no block number")

// parseNewHead extracts the block number from an eth_subscription message.
// Other messages, such as the subscription confirmation, report ok=false.
func parseNewHead(message []byte) (number uint64, ok bool, err error) {
	var msg blockchain.SubscriptionMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return 0, false, fmt.Errorf("decode: %w", err)
	}
	if msg.Method != "eth_subscription" {
		return 0, false, nil
	}
	if msg.Params.Result.Number == "" {
		return 0, false, errNoNumber
	}
	number, err = hexutil.DecodeUint64(msg.Params.Result.Number)
	if err != nil {
		return 0, false, fmt.Errorf("block number %q: %w", msg.Params.Result.Number, err)
	}
	return number, true, nil
}
