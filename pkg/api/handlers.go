// Package api exposes the engine over HTTP: snapshot and network reads,
// listening control, and a websocket stream of updates.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/web3ekko/ekko-pulse/internal/config"
	"github.com/web3ekko/ekko-pulse/pkg/common"
	"github.com/web3ekko/ekko-pulse/pkg/supervisor"
	"go.uber.org/zap"
)

// Engine is the part of the supervisor the handlers drive.
type Engine interface {
	Snapshot() common.Snapshot
	Networks() []config.NetworkConfig
	StartListening(ctx context.Context) error
	StopListening()
	SwitchNetwork(ctx context.Context, key string) error
	Subscribe(id string) <-chan common.Update
	Unsubscribe(id string) error
}

// NetworkInfo is the public description of a network.
type NetworkInfo struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ChainID     uint64 `json:"chainId"`
	Symbol      string `json:"symbol"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
	Active      bool   `json:"active"`
}

// Handlers holds the dependencies of the engine routes.
type Handlers struct {
	Log    *zap.SugaredLogger
	Engine Engine
	WS     websocket.Upgrader

	// PingInterval defaults to one second.
	PingInterval time.Duration
}

// Snapshot returns the current engine state.
func (h *Handlers) Snapshot(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return Respond(w, h.Engine.Snapshot(), http.StatusOK)
}

// Networks lists the networks the engine can switch to.
func (h *Handlers) Networks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	active := h.Engine.Snapshot().Network

	nets := h.Engine.Networks()
	out := make([]NetworkInfo, 0, len(nets))
	for _, n := range nets {
		out = append(out, NetworkInfo{
			Key:         n.Key,
			Name:        n.Name,
			ChainID:     n.ChainID,
			Symbol:      n.Symbol,
			ExplorerURL: n.ExplorerURL,
			Active:      n.Key == active,
		})
	}
	return Respond(w, out, http.StatusOK)
}

// StartListening starts a session on the connected network.
func (h *Handlers) StartListening(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.Engine.StartListening(ctx); err != nil {
		if errors.Is(err, supervisor.ErrNotConnected) {
			return NewRequestError(err, http.StatusConflict)
		}
		return fmt.Errorf("start listening: %w", err)
	}
	return Respond(w, h.Engine.Snapshot(), http.StatusOK)
}

// StopListening ends the running session.
func (h *Handlers) StopListening(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.Engine.StopListening()
	return Respond(w, h.Engine.Snapshot(), http.StatusOK)
}

// SwitchNetwork moves the engine to the network named in the path. A
// network that cannot be reached is reported as 502 with the snapshot
// still describing the new network as disconnected.
func (h *Handlers) SwitchNetwork(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	key := Param(r, "name")

	err := h.Engine.SwitchNetwork(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, supervisor.ErrUnknownNetwork):
		return NewRequestError(err, http.StatusNotFound)
	default:
		snap := h.Engine.Snapshot()
		if snap.LastError != "" {
			return NewRequestError(errors.New(snap.LastError), http.StatusBadGateway)
		}
		return NewRequestError(err, http.StatusBadGateway)
	}
	return Respond(w, h.Engine.Snapshot(), http.StatusOK)
}

// Events streams updates over a websocket. The current snapshot is sent
// first so a client never starts from an empty view.
func (h *Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.Log.Warnw("websocket upgrade", "error", err)
		return nil
	}
	defer c.Close()

	id := uuid.NewString()
	ch := h.Engine.Subscribe(id)
	defer h.Engine.Unsubscribe(id)

	// The reader notices the client going away and serves control frames.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := h.Log.With("subscriber", id)
	log.Infow("subscriber connected")
	defer log.Infow("subscriber disconnected")

	if err := c.WriteJSON(common.Update{Snapshot: h.Engine.Snapshot()}); err != nil {
		return nil
	}

	interval := h.PingInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return nil
			}
			if err := c.WriteJSON(u); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}

		case <-ctx.Done():
			return nil
		}
	}
}
