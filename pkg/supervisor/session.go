package supervisor

import (
	"context"
	"sync"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/web3ekko/ekko-pulse/internal/config"
	"github.com/web3ekko/ekko-pulse/pkg/blockchain"
	"github.com/web3ekko/ekko-pulse/pkg/common"
	"github.com/web3ekko/ekko-pulse/pkg/listeners"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// session is one listening period on one network. Its identity is the
// token that decides whether a processed block may still be committed.
type session struct {
	id      string
	network config.NetworkConfig
	client  blockchain.Client
	source  listeners.HeadSource
	queue   *listeners.BlockQueue
	log     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Touched only by the consumer goroutine.
	lastObserved time.Time
}

func newSession(parent context.Context, log *zap.SugaredLogger, network config.NetworkConfig, client blockchain.Client, source listeners.HeadSource, queueSize int, startedAt time.Time) *session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &session{
		id:           id,
		network:      network,
		client:       client,
		source:       source,
		queue:        listeners.NewBlockQueue(queueSize),
		log:          log.With("session", id),
		ctx:          ctx,
		cancel:       cancel,
		lastObserved: startedAt,
	}
}

// stop cancels the session and waits for its goroutines.
func (sess *session) stop() {
	sess.cancel()
	sess.wg.Wait()
}

// run starts the single consumer, which starts the head source once the
// current head is known.
func (s *Supervisor) run(sess *session) {
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		s.consume(sess)
	}()
}

func (s *Supervisor) startSource(sess *session) {
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		if err := sess.source.Run(sess.ctx, sess.queue); err != nil {
			sess.log.Errorw("head source stopped", "error", err)
			s.headSourceFailed(sess)
		}
	}()
}

// consume processes the current head once, then every queued block number
// until the session ends.
func (s *Supervisor) consume(sess *session) {
	sess.log.Infow("ingestion started")
	defer sess.log.Infow("ingestion stopped")

	head, err := s.currentHead(sess)
	if err != nil {
		if sess.ctx.Err() == nil {
			sess.log.Warnw("initial head fetch failed", "error", err)
		}
	} else if seeder, ok := sess.source.(listeners.Seeder); ok {
		seeder.Seed(head)
	}

	s.startSource(sess)
	if err == nil {
		s.processBlock(sess, head)
	}

	for {
		select {
		case <-sess.ctx.Done():
			return
		case number := <-sess.queue.C():
			s.processBlock(sess, number)
		}
	}
}

func (s *Supervisor) currentHead(sess *session) (uint64, error) {
	ctx, cancel := context.WithTimeout(sess.ctx, s.engine.RequestTimeout)
	defer cancel()
	return sess.client.BlockNumber(ctx)
}

// processBlock runs one block through fetch, classification, stats, feed
// merge and scheduling, and commits only if sess is still active.
func (s *Supervisor) processBlock(sess *session, number uint64) {
	network := sess.network.Key
	log := sess.log.With("block", number)

	block, err := s.fetchBlock(sess, number)
	if err != nil {
		if sess.ctx.Err() == nil {
			log.Warnw("block fetch failed, skipping", "error", err)
			s.metrics.BlockSkipped(network, "error")
		}
		return
	}
	if block == nil {
		log.Debugw("block not found, skipping")
		s.metrics.BlockSkipped(network, "absent")
		return
	}

	now := s.now()
	interArrival := now.Sub(sess.lastObserved)
	sess.lastObserved = now

	hashes := block.TxHashes
	if len(hashes) > s.engine.MaxTransactionsPerBlock {
		hashes = hashes[:s.engine.MaxTransactionsPerBlock]
	}
	raws := s.fetchTransactions(sess, hashes)

	classified := s.classifier.ClassifyBatch(raws, now.UnixMilli())
	scheduled, alertEvents := s.policy.Schedule(network, classified)

	s.mu.Lock()
	if s.session != sess {
		s.mu.Unlock()
		log.Debugw("session superseded, discarding block")
		return
	}
	if prev := s.tracker.CurrentBlock(); prev != 0 && number > prev+1 {
		missed := number - prev - 1
		log.Warnw("block gap detected", "previous", prev, "missed", missed)
		s.metrics.BlockGap(network, missed)
	}
	s.tracker.Observe(number, interArrival, len(block.TxHashes))
	s.feed = s.mergeFeed(scheduled)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Debugw("block processed", "txs", len(block.TxHashes), "sampled", len(hashes), "classified", len(classified), "alerts", len(alertEvents))
	s.metrics.BlockProcessed(network)
	s.metrics.AlertsScheduled(network, alertEvents)
	s.publish(common.Update{Snapshot: snap, Alerts: alertEvents})
}

func (s *Supervisor) fetchBlock(sess *session, number uint64) (*blockchain.Block, error) {
	ctx, cancel := context.WithTimeout(sess.ctx, s.engine.RequestTimeout)
	defer cancel()
	return sess.client.BlockByNumber(ctx, number)
}

// fetchTransactions fetches hashes concurrently and returns the successful
// results in the order of hashes. Failures are logged and dropped.
func (s *Supervisor) fetchTransactions(sess *session, hashes []gethcommon.Hash) []*blockchain.RawTransaction {
	results := make([]*blockchain.RawTransaction, len(hashes))

	g, ctx := errgroup.WithContext(sess.ctx)
	g.SetLimit(s.engine.FetchConcurrency)
	for i, hash := range hashes {
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, s.engine.RequestTimeout)
			defer cancel()

			tx, err := sess.client.TransactionByHash(reqCtx, hash)
			if err != nil {
				if sess.ctx.Err() == nil {
					sess.log.Warnw("transaction fetch failed, dropping", "tx", hash.Hex(), "error", err)
					s.metrics.TxFetchFailed(sess.network.Key)
				}
				return nil
			}
			results[i] = tx
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, tx := range results {
		if tx != nil {
			out = append(out, tx)
		}
	}
	return out
}
