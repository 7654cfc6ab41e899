package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3ekko/ekko-pulse/internal/config"
	"github.com/web3ekko/ekko-pulse/pkg/common"
	"github.com/web3ekko/ekko-pulse/pkg/events"
	"github.com/web3ekko/ekko-pulse/pkg/metrics"
	"github.com/web3ekko/ekko-pulse/pkg/supervisor"
	"go.uber.org/zap"
)

type fakeEngine struct {
	mu        sync.Mutex
	snap      common.Snapshot
	startErr  error
	switchErr error
	switched  string
	stopped   bool
	evts      *events.Events
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		snap: common.Snapshot{Network: "testnet", ConnectionState: common.StateConnected},
		evts: events.New(),
	}
}

func (f *fakeEngine) Snapshot() common.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeEngine) Networks() []config.NetworkConfig {
	return config.GetDefaultNetworkRegistry().List()
}

func (f *fakeEngine) StartListening(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.snap.Listening = true
	return nil
}

func (f *fakeEngine) StopListening() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.snap.Listening = false
}

func (f *fakeEngine) SwitchNetwork(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = key
	if f.switchErr != nil {
		return f.switchErr
	}
	f.snap.Network = key
	return nil
}

func (f *fakeEngine) lastSwitch() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.switched
}

func (f *fakeEngine) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeEngine) Subscribe(id string) <-chan common.Update { return f.evts.Acquire(id) }
func (f *fakeEngine) Unsubscribe(id string) error { return f.evts.Release(id) }

func newTestServer(t *testing.T, engine Engine) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(PublicMux(MuxConfig{
		Log:        zap.NewNop().Sugar(),
		Engine:     engine,
		CorsOrigin: "*",
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSnapshotAndNetworks(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, err := http.Get(srv.URL + "/v1/snapshot")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var snap common.Snapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, "testnet", snap.Network)
	assert.Equal(t, common.StateConnected, snap.ConnectionState)

	resp, err = http.Get(srv.URL + "/v1/networks")
	require.NoError(t, err)
	var nets []NetworkInfo
	decodeBody(t, resp, &nets)
	require.Len(t, nets, 2)
	for _, n := range nets {
		assert.Equal(t, n.Key == "testnet", n.Active, n.Key)
	}
}

func TestListeningControl(t *testing.T) {
	engine := newFakeEngine()
	srv := newTestServer(t, engine)

	resp, err := http.Post(srv.URL+"/v1/listening/start", "application/json", nil)
	require.NoError(t, err)
	var snap common.Snapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, snap.Listening)

	resp, err = http.Post(srv.URL+"/v1/listening/stop", "application/json", nil)
	require.NoError(t, err)
	decodeBody(t, resp, &snap)
	assert.False(t, snap.Listening)
	assert.True(t, engine.wasStopped())
}

func TestStartListening_NotConnected(t *testing.T) {
	engine := newFakeEngine()
	engine.startErr = supervisor.ErrNotConnected
	srv := newTestServer(t, engine)

	resp, err := http.Post(srv.URL+"/v1/listening/start", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body ErrorResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, supervisor.ErrNotConnected.Error(), body.Error)
}

func TestSwitchNetwork(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		lastError  string
		wantStatus int
		wantError  string
	}{
		{name: "ok", wantStatus: http.StatusOK},
		{name: "unknown", err: fmt.Errorf("%w: devnet", supervisor.ErrUnknownNetwork), wantStatus: http.StatusNotFound, wantError: "unknown network: devnet"},
		{name: "unreachable", err: fmt.Errorf("connect mainnet: refused"), lastError: "Unable to connect to Somnia Mainnet. The network may not be available yet.",
			wantStatus: http.StatusBadGateway, wantError: "Unable to connect to Somnia Mainnet. The network may not be available yet."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			engine.switchErr = tt.err
			engine.snap.LastError = tt.lastError
			srv := newTestServer(t, engine)

			resp, err := http.Post(srv.URL+"/v1/network/mainnet", "application/json", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "mainnet", engine.lastSwitch())

			if tt.wantError == "" {
				var snap common.Snapshot
				decodeBody(t, resp, &snap)
				assert.Equal(t, "mainnet", snap.Network)
				return
			}
			var body ErrorResponse
			decodeBody(t, resp, &body)
			assert.Equal(t, tt.wantError, body.Error)
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp, err := http.Get(srv.URL + "/v1/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents_StreamsUpdates(t *testing.T) {
	engine := newFakeEngine()
	srv := newTestServer(t, engine)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first common.Update
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "testnet", first.Snapshot.Network)

	require.Eventually(t, func() bool { return engine.evts.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	engine.evts.Send(common.Update{
		Snapshot: common.Snapshot{Network: "testnet", Stats: common.NetworkStats{CurrentBlock: 42}},
		Alerts:   []common.AlertEvent{{TxHash: "0xabc", DelayMs: 600, Tier: common.TierMajor}},
	})

	var next common.Update
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, uint64(42), next.Snapshot.Stats.CurrentBlock)
	require.Len(t, next.Alerts, 1)
	assert.Equal(t, int64(600), next.Alerts[0].DelayMs)

	conn.Close()
	require.Eventually(t, func() bool { return engine.evts.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestDebugMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("pulse_test", reg)
	m.BlockProcessed("testnet")

	srv := httptest.NewServer(DebugMux("test", reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pulse_test_blocks_processed_total{network="testnet"} 1`)

	live, err := http.Get(srv.URL + "/debug/liveness")
	require.NoError(t, err)
	var status map[string]string
	decodeBody(t, live, &status)
	assert.Equal(t, "up", status["status"])
}
