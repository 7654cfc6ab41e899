package listeners

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBlockQueue_DropOldest(t *testing.T) {
	q := NewBlockQueue(3)
	var dropped []uint64
	q.OnDrop(func(n uint64) { dropped = append(dropped, n) })

	for n := uint64(1); n <= 5; n++ {
		q.Push(n)
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, []uint64{1, 2}, dropped)

	var got []uint64
	for i := 0; i < 3; i++ {
		got = append(got, <-q.C())
	}
	assert.Equal(t, []uint64{3, 4, 5}, got)
}

func TestBlockQueue_MinimumSize(t *testing.T) {
	q := NewBlockQueue(0)
	q.Push(7)
	q.Push(8)
	assert.Equal(t, uint64(8), <-q.C())
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestParseNewHead(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    uint64
		wantOK  bool
		wantErr bool
	}{
		{
			name:    "subscription confirmation",
			message: `{"jsonrpc":"2.0","id":1,"result":"0xcd0c3e8af590364c09d0fa6a1210faf5"}`,
		},
		{
			name:    "new head",
			message: `{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xcd0c","result":{"number":"0x1b4","hash":"0xabc"}}}`,
			want:    436,
			wantOK:  true,
		},
		{
			name:    "missing number",
			message: `{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xcd0c","result":{"hash":"0xabc"}}}`,
			wantErr: true,
		},
		{
			name:    "bad json",
			message: `{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok, err := parseNewHead([]byte(tt.message))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

// newHeadsServer accepts one subscription per connection and announces the given heights.
func newHeadsServer(t *testing.T, heights []uint64) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil || !strings.Contains(string(msg), "newHeads") {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
		for _, h := range heights {
			notification := fmt.Sprintf(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0x1","result":{"number":"0x%x"}}}`, h)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(notification)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestNewHeadListener_Run(t *testing.T) {
	server := newHeadsServer(t, []uint64{100, 101, 102})
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	l := NewNewHeadListener(zap.NewNop().Sugar(), "testnet", wsURL, 50*time.Millisecond)
	q := NewBlockQueue(16)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx, q) }()

	var got []uint64
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case n := <-q.C():
			got = append(got, n)
		case <-timeout:
			t.Fatalf("timed out waiting for heads, got %v", got)
		}
	}
	assert.Equal(t, []uint64{100, 101, 102}, got)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestNewHeadListener_EmptyURL(t *testing.T) {
	l := NewNewHeadListener(zap.NewNop().Sugar(), "testnet", "", 0)
	err := l.Run(context.Background(), NewBlockQueue(1))
	assert.Error(t, err)
}

type fakeHeights struct {
	mu      sync.Mutex
	heights []uint64
	calls   int
}

func (f *fakeHeights) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.heights) {
		i = len(f.heights) - 1
	}
	f.calls++
	return f.heights[i], nil
}

func TestPollListener_EmitsEveryNewNumber(t *testing.T) {
	fetcher := &fakeHeights{heights: []uint64{10, 10, 13}}
	p := NewPollListener(zap.NewNop().Sugar(), "testnet", fetcher, 10*time.Millisecond, time.Second)
	q := NewBlockQueue(16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx, q) }()

	var got []uint64
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case n := <-q.C():
			got = append(got, n)
		case <-timeout:
			t.Fatalf("timed out waiting for heads, got %v", got)
		}
	}
	assert.Equal(t, []uint64{11, 12, 13}, got)
}

func TestPollListener_SeededContinuesFromHead(t *testing.T) {
	fetcher := &fakeHeights{heights: []uint64{12}}
	p := NewPollListener(zap.NewNop().Sugar(), "testnet", fetcher, 10*time.Millisecond, time.Second)
	p.Seed(10)
	q := NewBlockQueue(16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx, q) }()

	var got []uint64
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case n := <-q.C():
			got = append(got, n)
		case <-timeout:
			t.Fatalf("timed out waiting for heads, got %v", got)
		}
	}
	assert.Equal(t, []uint64{11, 12}, got)
}
