package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/web3ekko/ekko-pulse/pkg/common"
)

// DefaultSubjectPrefix roots every subject the NATS sink publishes on.
const DefaultSubjectPrefix = "ekko.pulse"

// Publisher is the subset of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NATSSink publishes snapshots to <prefix>.<network>.snapshot and alert
// batches to <prefix>.<network>.alerts.
type NATSSink struct {
	pub    Publisher
	prefix string
	closer func()
}

var _ Sink = (*NATSSink)(nil)

// NewNATSSink wraps an existing publisher. Closing the sink does not close it.
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// DialNATS connects to a NATS server and returns a sink owning the connection.
func DialNATS(url, prefix string) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("ekko-pulse"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s := NewNATSSink(conn, prefix)
	s.closer = func() {
		_ = conn.Drain()
	}
	return s, nil
}

// Subject returns the subject for a network and kind.
func (s *NATSSink) Subject(network, kind string) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, network, kind)
}

// PublishUpdate publishes the snapshot and, if any, the block's alerts.
func (s *NATSSink) PublishUpdate(ctx context.Context, u common.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	network := u.Snapshot.Network

	data, err := json.Marshal(u.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.pub.Publish(s.Subject(network, "snapshot"), data); err != nil {
		return fmt.Errorf("failed to publish snapshot for %s: %w", network, err)
	}

	if len(u.Alerts) == 0 {
		return nil
	}
	data, err = json.Marshal(u.Alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}
	if err := s.pub.Publish(s.Subject(network, "alerts"), data); err != nil {
		return fmt.Errorf("failed to publish alerts for %s: %w", network, err)
	}
	return nil
}

// Close drains the connection if the sink owns one.
func (s *NATSSink) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}
