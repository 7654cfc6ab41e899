// Package events fans engine updates out to registered subscribers.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/web3ekko/ekko-pulse/pkg/common"
)

// messageBuffer is the per-subscriber backlog. A subscriber that falls
// further behind misses updates rather than stalling the engine.
const messageBuffer = 100

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive updates.
type Events struct {
	m       map[string]chan common.Update
	mu      sync.RWMutex
	dropped atomic.Uint64
}

// New constructs an Events for registering and receiving updates.
func New() *Events {
	return &Events{
		m: make(map[string]chan common.Update),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive updates.
func (evt *Events) Acquire(id string) <-chan common.Update {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	ch = make(chan common.Update, messageBuffer)
	evt.m[id] = ch
	return ch
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Send signals an update to every registered channel. Send will not block
// waiting for a receiver on any given channel.
func (evt *Events) Send(u common.Update) {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- u:
		default:
			evt.dropped.Add(1)
		}
	}
}

// Subscribers is the number of registered channels.
func (evt *Events) Subscribers() int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()
	return len(evt.m)
}

// Dropped counts updates not delivered because a subscriber was full.
func (evt *Events) Dropped() uint64 {
	return evt.dropped.Load()
}
