package listeners

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HeightFetcher is the part of the chain client a PollListener needs.
type HeightFetcher interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// PollListener polls eth_blockNumber on a ticker and pushes every number
// above the last one it saw. It is used for networks without a websocket URL.
type PollListener struct {
	client         HeightFetcher
	interval       time.Duration
	requestTimeout time.Duration
	log            *zap.SugaredLogger

	last   uint64
	seeded bool
}

var (
	_ HeadSource = (*PollListener)(nil)
	_ Seeder     = (*PollListener)(nil)
)

// NewPollListener creates a polling head source.
func NewPollListener(log *zap.SugaredLogger, network string, client HeightFetcher, interval, requestTimeout time.Duration) *PollListener {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollListener{
		client:         client,
		interval:       interval,
		requestTimeout: requestTimeout,
		log:            log.With("component", "poller", "network", network),
	}
}

// Seed sets the last handled height. The first poll then pushes every
// number above head.
func (p *PollListener) Seed(head uint64) {
	p.last = head
	p.seeded = true
}

// Run polls until ctx is cancelled. Without a seed the first successful poll
// only records the current height.
func (p *PollListener) Run(ctx context.Context, queue *BlockQueue) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Infow("poller starting", "interval", p.interval)
	defer p.log.Infow("poller stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx, queue)
		}
	}
}

func (p *PollListener) poll(ctx context.Context, queue *BlockQueue) {
	reqCtx := ctx
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	head, err := p.client.BlockNumber(reqCtx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warnw("poll failed", "error", err)
		}
		return
	}

	if !p.seeded {
		p.last = head
		p.seeded = true
		return
	}
	for n := p.last + 1; n <= head; n++ {
		queue.Push(n)
	}
	if head > p.last {
		p.last = head
	}
}
