package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3ekko/ekko-pulse/pkg/common"
)

func testUpdate(withAlerts bool) common.Update {
	to := "0x00000000000000000000000000000000000000aa"
	delay := 600 * time.Millisecond
	u := common.Update{
		Snapshot: common.Snapshot{
			Network:         "testnet",
			SessionID:       "session-1",
			Listening:       true,
			ConnectionState: common.StateConnected,
			Stats:           common.NetworkStats{CurrentBlock: 42, TPS: 1.5, TotalTransactions: 7},
			Feed: []common.Transaction{
				{Hash: "0x01", From: "0x02", To: &to, Value: "2.5", Timestamp: 1000, Type: common.TxTypeTransfer, SoundDelay: &delay},
			},
			UpdatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
	if withAlerts {
		u.Alerts = []common.AlertEvent{
			{Network: "testnet", TxHash: "0x01", Type: common.TxTypeTransfer, Amount: "2.5", Delay: delay, DelayMs: 600, Tier: common.TierMajor},
		}
	}
	return u
}

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subj, data: data})
	return nil
}

func TestNATSSink_PublishUpdate(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSink(pub, "")

	require.NoError(t, s.PublishUpdate(context.Background(), testUpdate(true)))
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "ekko.pulse.testnet.snapshot", pub.msgs[0].subject)
	assert.Equal(t, "ekko.pulse.testnet.alerts", pub.msgs[1].subject)

	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &snap))
	assert.Equal(t, "testnet", snap["network"])
	feed := snap["feed"].([]interface{})
	require.Len(t, feed, 1)
	assert.Equal(t, float64(600), feed[0].(map[string]interface{})["soundDelay"])

	var alerts []common.AlertEvent
	require.NoError(t, json.Unmarshal(pub.msgs[1].data, &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(600), alerts[0].DelayMs)
	assert.Equal(t, common.TierMajor, alerts[0].Tier)
}

func TestNATSSink_NoAlertsNoAlertMessage(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSink(pub, "custom.")

	require.NoError(t, s.PublishUpdate(context.Background(), testUpdate(false)))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "custom.testnet.snapshot", pub.msgs[0].subject)
}

func TestNATSSink_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	s := NewNATSSink(pub, "")
	err := s.PublishUpdate(context.Background(), testUpdate(true))
	assert.ErrorContains(t, err, "nats down")
}

func TestRedisSink_PublishUpdate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisSink(db, "", time.Minute)

	u := testUpdate(true)
	snap, err := json.Marshal(u.Snapshot)
	require.NoError(t, err)
	alerts, err := json.Marshal(u.Alerts)
	require.NoError(t, err)

	mock.ExpectSet("pulse:testnet:snapshot", string(snap), time.Minute).SetVal("OK")
	mock.ExpectPublish("pulse:testnet:alerts", string(alerts)).SetVal(1)

	require.NoError(t, s.PublishUpdate(context.Background(), u))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSink_SetError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisSink(db, "pulse", 0)

	u := testUpdate(true)
	snap, err := json.Marshal(u.Snapshot)
	require.NoError(t, err)

	mock.ExpectSet("pulse:testnet:snapshot", string(snap), DefaultSnapshotTTL).SetErr(errors.New("redis down"))

	err = s.PublishUpdate(context.Background(), u)
	assert.ErrorContains(t, err, "redis down")
	assert.NoError(t, mock.ExpectationsWereMet())
}

type countingSink struct {
	calls  int
	err    error
	closed bool
}

func (c *countingSink) PublishUpdate(ctx context.Context, u common.Update) error {
	c.calls++
	return c.err
}

func (c *countingSink) Close() error {
	c.closed = true
	return nil
}

func TestMulti_PublishesToAll(t *testing.T) {
	failing := &countingSink{err: errors.New("boom")}
	ok := &countingSink{}
	m := Multi{failing, ok}

	err := m.PublishUpdate(context.Background(), testUpdate(false))
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)

	require.NoError(t, m.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}
