package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/sourcegraph/conc"
)

// Transport delivers frames to one subscriber. Send must not block: it either
// accepts the frame for delivery or fails immediately.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Hub fans status events out to every registered connection.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]Transport
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		conns:  make(map[string]Transport),
	}
}

// Register adds a connection. A second registration under the same id closes
// and replaces the first.
func (h *Hub) Register(id string, t Transport) error {
	if id == "" {
		return errors.New("hub: connection id must not be empty")
	}
	if t == nil {
		return errors.New("hub: transport must not be nil")
	}

	h.mu.Lock()
	old, dup := h.conns[id]
	h.conns[id] = t
	n := len(h.conns)
	h.mu.Unlock()

	if dup {
		h.logger.Warn("replacing duplicate connection", "conn_id", id)
		closeTransport(h.logger, id, old)
	}
	h.logger.Info("connection registered", "conn_id", id, "connections", n)
	return nil
}

// Unregister removes and closes a connection. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	t, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	n := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	closeTransport(h.logger, id, t)
	h.logger.Info("connection unregistered", "conn_id", id, "connections", n)
}

// Broadcast encodes event once and hands the same bytes to every connection.
// Connections whose Send fails are gone from the hub by the time Broadcast
// returns. Frames reach each connection in Broadcast call order.
func (h *Hub) Broadcast(ctx context.Context, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.ErrorContext(ctx, "broadcast encode failed", "err", err)
		return
	}

	failed := make(map[string]Transport)
	h.mu.Lock()
	for id, t := range h.conns {
		if err := t.Send(data); err != nil {
			h.logger.WarnContext(ctx, "broadcast send failed", "conn_id", id, "err", err)
			failed[id] = t
			delete(h.conns, id)
		}
	}
	h.mu.Unlock()

	for id, t := range failed {
		closeTransport(h.logger, id, t)
	}
}

// Len reports the number of registered connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// IDs returns the registered connection ids in sorted order.
func (h *Hub) IDs() []string {
	h.mu.Lock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close unregisters every connection and closes the transports concurrently.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]Transport)
	h.mu.Unlock()

	var wg conc.WaitGroup
	for id, t := range conns {
		id, t := id, t
		wg.Go(func() {
			closeTransport(h.logger, id, t)
		})
	}
	wg.Wait()
	if len(conns) > 0 {
		h.logger.Info("hub closed", "connections", len(conns))
	}
}

func closeTransport(logger *slog.Logger, id string, t Transport) {
	if err := t.Close(); err != nil {
		logger.Debug("transport close failed", "conn_id", id, "err", err)
	}
}
