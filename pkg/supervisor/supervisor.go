// Package supervisor owns the active network, its chain client and the
// listening session, and turns processed blocks into snapshot updates.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/web3ekko/ekko-pulse/internal/config"
	"github.com/web3ekko/ekko-pulse/pkg/alerts"
	"github.com/web3ekko/ekko-pulse/pkg/blockchain"
	"github.com/web3ekko/ekko-pulse/pkg/common"
	"github.com/web3ekko/ekko-pulse/pkg/decoder"
	"github.com/web3ekko/ekko-pulse/pkg/events"
	"github.com/web3ekko/ekko-pulse/pkg/feed"
	"github.com/web3ekko/ekko-pulse/pkg/listeners"
	"github.com/web3ekko/ekko-pulse/pkg/metrics"
	"github.com/web3ekko/ekko-pulse/pkg/sinks"
	"github.com/web3ekko/ekko-pulse/pkg/stats"
	"go.uber.org/zap"
)

const sinkTimeout = 5 * time.Second

// DialFunc opens a chain client for a network.
type DialFunc func(ctx context.Context, network config.NetworkConfig) (blockchain.Client, error)

// SourceFunc builds the head source for a network and its connected client.
type SourceFunc func(network config.NetworkConfig, client blockchain.Client) listeners.HeadSource

// Config holds the dependencies of a Supervisor. Only Log, Registry and
// Engine are required.
type Config struct {
	Log      *zap.SugaredLogger
	Registry *config.NetworkRegistry
	Engine   config.Engine

	Dial      DialFunc
	NewSource SourceFunc
	Events    *events.Events
	Sink      sinks.Sink
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Supervisor drives the ingestion engine for one network at a time.
type Supervisor struct {
	log        *zap.SugaredLogger
	registry   *config.NetworkRegistry
	engine     config.Engine
	classifier *decoder.Classifier
	policy     alerts.Policy
	dial       DialFunc
	newSource  SourceFunc
	events     *events.Events
	sink       sinks.Sink
	metrics    *metrics.Metrics
	now        func() time.Time

	// ctrl serializes connect, start, stop, switch and close.
	ctrl sync.Mutex

	// mu guards everything below.
	mu        sync.Mutex
	network   config.NetworkConfig
	client    blockchain.Client
	state     common.ConnectionState
	lastError string
	session   *session
	tracker   *stats.Tracker
	feed      []common.Transaction
}

// New creates a supervisor attached (but not yet connected) to
// cfg.Engine.Network.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = config.GetDefaultNetworkRegistry()
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	network, ok := cfg.Registry.Get(cfg.Engine.Network)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, cfg.Engine.Network)
	}
	minimum, err := cfg.Engine.MinimumAmount()
	if err != nil {
		return nil, err
	}

	log := cfg.Log.With("component", "supervisor")
	s := &Supervisor{
		log:        log,
		registry:   cfg.Registry,
		engine:     cfg.Engine,
		classifier: decoder.NewClassifier(cfg.Log, cfg.Engine.MonitoredTokenAddress),
		policy: alerts.Policy{
			MinimumAmount: minimum,
			OnlyTransfers: cfg.Engine.OnlyTransfers,
			Stagger:       cfg.Engine.StaggerInterval,
		},
		dial:      cfg.Dial,
		newSource: cfg.NewSource,
		events:    cfg.Events,
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		network:   network,
		state:     common.StateDisconnected,
		tracker:   stats.NewTracker(cfg.Engine.RollingWindowSize),
	}
	if s.dial == nil {
		s.dial = dialEth
	}
	if s.newSource == nil {
		s.newSource = s.defaultSource
	}
	if s.events == nil {
		s.events = events.New()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func dialEth(ctx context.Context, network config.NetworkConfig) (blockchain.Client, error) {
	return blockchain.Dial(ctx, network.RPCURL)
}

// defaultSource subscribes over websocket when the network has a websocket
// URL and polls the RPC endpoint otherwise.
func (s *Supervisor) defaultSource(network config.NetworkConfig, client blockchain.Client) listeners.HeadSource {
	if network.WSURL != "" {
		return listeners.NewNewHeadListener(s.log, network.Key, network.WSURL, s.engine.ReconnectDelay)
	}
	return listeners.NewPollListener(s.log, network.Key, client, s.engine.PollInterval, s.engine.RequestTimeout)
}

// Connect dials the active network and probes it with eth_blockNumber.
// On failure the state becomes disconnected with a consumer-facing message.
// A running session is stopped before the old client is released and is
// restarted on the new one.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	wasListening := s.stopListening()
	if err := s.connect(ctx); err != nil {
		return err
	}
	if wasListening {
		return s.startListening(ctx)
	}
	return nil
}

func (s *Supervisor) connect(ctx context.Context) error {
	s.mu.Lock()
	network := s.network
	old := s.client
	s.client = nil
	s.state = common.StateConnecting
	s.lastError = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.publish(common.Update{Snapshot: snap})

	log := s.log.With("network", network.Key)
	log.Infow("connecting", "rpc", network.RPCURL)

	client, err := s.probe(ctx, network)
	if err != nil {
		log.Warnw("connection failed", "error", err)

		s.mu.Lock()
		s.state = common.StateDisconnected
		s.lastError = connectFailedMessage(network.Name)
		snap = s.snapshotLocked()
		s.mu.Unlock()

		s.publish(common.Update{Snapshot: snap})
		return fmt.Errorf("connect %s: %w", network.Key, err)
	}

	s.mu.Lock()
	s.client = client
	s.state = common.StateConnected
	snap = s.snapshotLocked()
	s.mu.Unlock()

	log.Infow("connected")
	s.publish(common.Update{Snapshot: snap})
	return nil
}

func (s *Supervisor) probe(ctx context.Context, network config.NetworkConfig) (blockchain.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, s.engine.RequestTimeout)
	defer cancel()

	client, err := s.dial(ctx, network)
	if err != nil {
		return nil, err
	}
	if _, err := client.BlockNumber(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// StartListening begins a new session with fresh statistics and feed. It is
// a no-op when a session is already running.
func (s *Supervisor) StartListening(ctx context.Context) error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	return s.startListening(ctx)
}

func (s *Supervisor) startListening(ctx context.Context) error {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return nil
	}
	if s.client == nil || s.state != common.StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}

	sess := newSession(context.WithoutCancel(ctx), s.log, s.network, s.client,
		s.newSource(s.network, s.client), s.engine.HeadQueueSize, s.now())
	network := s.network.Key
	sess.queue.OnDrop(func(n uint64) {
		sess.log.Debugw("head queue full, dropped block", "block", n)
		s.metrics.HeadDropped(network)
	})

	s.tracker.Reset()
	s.feed = nil
	s.session = sess
	snap := s.snapshotLocked()
	s.mu.Unlock()

	sess.log.Infow("listening", "network", network)
	s.publish(common.Update{Snapshot: snap})
	s.run(sess)
	return nil
}

// StopListening ends the running session, discarding any in-flight block.
// Statistics and feed stay visible until the next start.
func (s *Supervisor) StopListening() {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	s.stopListening()
}

func (s *Supervisor) stopListening() bool {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if sess == nil {
		return false
	}
	sess.stop()
	sess.log.Infow("stopped listening")
	s.publish(common.Update{Snapshot: snap})
	return true
}

// SwitchNetwork tears down the current session and client, resets all
// session state and connects to the named network. Listening resumes on
// the new network if it was active before the switch.
func (s *Supervisor) SwitchNetwork(ctx context.Context, key string) error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	network, ok := s.registry.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, key)
	}

	wasListening := s.stopListening()

	s.mu.Lock()
	old := s.client
	s.client = nil
	s.network = network
	s.tracker.Reset()
	s.feed = nil
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.log.Infow("switched network", "network", network.Key)

	if err := s.connect(ctx); err != nil {
		return err
	}
	if wasListening {
		return s.startListening(ctx)
	}
	return nil
}

// Close stops listening and releases the chain client.
func (s *Supervisor) Close() {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.stopListening()

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.state = common.StateDisconnected
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

// Snapshot returns a copy of the current engine state.
func (s *Supervisor) Snapshot() common.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Network returns the active network.
func (s *Supervisor) Network() config.NetworkConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network
}

// Networks lists every network the supervisor can switch to.
func (s *Supervisor) Networks() []config.NetworkConfig {
	return s.registry.List()
}

// Subscribe registers id for updates. The channel is closed by Unsubscribe.
func (s *Supervisor) Subscribe(id string) <-chan common.Update {
	return s.events.Acquire(id)
}

// Unsubscribe releases the channel registered for id.
func (s *Supervisor) Unsubscribe(id string) error {
	return s.events.Release(id)
}

func (s *Supervisor) snapshotLocked() common.Snapshot {
	snap := common.Snapshot{
		Network:         s.network.Key,
		Listening:       s.session != nil,
		ConnectionState: s.state,
		LastError:       s.lastError,
		Stats:           s.tracker.Stats(),
		Feed:            common.CloneTransactions(s.feed),
		UpdatedAt:       s.now(),
	}
	if s.session != nil {
		snap.SessionID = s.session.id
	}
	return snap
}

func (s *Supervisor) mergeFeed(incoming []common.Transaction) []common.Transaction {
	return feed.Merge(s.feed, incoming, s.engine.FeedRetentionSize)
}

// headSourceFailed records a head source that returned an error for a
// session that is still active.
func (s *Supervisor) headSourceFailed(sess *session) {
	s.mu.Lock()
	if s.session != sess {
		s.mu.Unlock()
		return
	}
	s.lastError = headSourceFailedMessage(sess.network.Name)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(common.Update{Snapshot: snap})
}

// publish hands an update to subscribers, metrics and the sink.
func (s *Supervisor) publish(u common.Update) {
	s.events.Send(u)
	s.metrics.SetSnapshot(u.Snapshot)

	if s.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := s.sink.PublishUpdate(ctx, u); err != nil {
		s.log.Warnw("sink publish failed", "network", u.Snapshot.Network, "error", err)
		s.metrics.SinkFailed(u.Snapshot.Network)
	}
}
