// Package server coordinates connection registration, event emission, and
// connection cleanup for the relay's WebSocket transport via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

var (
	errClientGone     = errors.New("client not connected")
	errSendBufferFull = errors.New("send buffer full")
)

// Dispatcher applies relay events on behalf of a connection.
type Dispatcher interface {
	Dispatch(id string, ev relay.Event) error
}

// Hub owns the table of live WebSocket connections keyed by connection id.
// It starts each client's pumps, feeds connect/disconnect events to the
// Dispatcher and implements relay.Emitter for outbound frames.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	dispatcher Dispatcher
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and the client table. SetDispatcher must be called before Run.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

// SetDispatcher attaches the lifecycle handler. The handler usually needs the
// Hub as its Emitter, so the two are wired in two steps.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop, handling client registration and
// unregistration until Shutdown is called. Run it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	if _, exists := h.clients[client.id]; exists {
		h.mutex.Unlock()
		h.log.Error("connection id collision; closing connection", "id", client.id, "addr", client.addr)
		client.closeConnection()
		return
	}
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if err := h.dispatcher.Dispatch(client.id, relay.Connect{}); err != nil {
		h.log.Error("connect rejected; closing connection", "id", client.id, "err", err)
		h.removeClient(client)
		client.closeConnection()
		return
	}
	h.log.Info("client registered", "id", client.id, "addr", client.addr, "clients", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// handleUnregister runs the Disconnect transition even when the client was
// already dropped for being slow; Disconnect itself is idempotent.
func (h *Hub) handleUnregister(client *Client) {
	if client == nil {
		return
	}
	if h.removeClient(client) {
		h.log.Info("client unregistered", "id", client.id, "addr", client.addr, "clients", h.ClientCount())
	}
	h.dispatchDisconnect(client.id)
}

func (h *Hub) dispatchDisconnect(id string) {
	if err := h.dispatcher.Dispatch(id, relay.Disconnect{}); err != nil {
		h.log.Error("disconnect failed", "id", id, "err", err)
	}
}

// removeClient deletes client from the table and closes its send channel.
// It reports whether the client was still registered.
func (h *Hub) removeClient(client *Client) bool {
	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, client.id)
	client.closed = true
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	return true
}

// Emit implements relay.Emitter. Delivery failures are logged and never
// returned; a client whose buffer is full is dropped from the hub.
func (h *Hub) Emit(to, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error("dropping unencodable frame", "event", event, "to", to, "err", err)
		return
	}

	switch err := h.deliver(to, frame); {
	case err == nil:
	case errors.Is(err, errSendBufferFull):
		h.removeFailedClient(to)
	default:
		h.log.Debug("frame not delivered", "event", event, "to", to, "err", err)
	}
}

// deliver queues frame on the client's send channel without blocking.
func (h *Hub) deliver(to string, frame []byte) error {
	// Hold the read lock for the whole send so the channel cannot be closed underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	client, exists := h.clients[to]
	if !exists || client.closed {
		return errClientGone
	}

	select {
	case client.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// removeFailedClient drops a client that cannot keep up. Its write pump
// closes the socket, and the read pump then unregisters it.
func (h *Hub) removeFailedClient(id string) {
	h.mutex.RLock()
	client, ok := h.clients[id]
	h.mutex.RUnlock()
	if !ok {
		return
	}
	if h.removeClient(client) {
		h.log.Warn("client removed due to full send buffer", "id", id, "addr", client.addr)
	}
}

// dispatch forwards an inbound client event to the lifecycle handler.
func (h *Hub) dispatch(client *Client, ev relay.Event) {
	if err := h.dispatcher.Dispatch(client.id, ev); err != nil {
		h.log.Error("event dispatch failed", "id", client.id, "event", ev.Name(), "err", err)
	}
}

// leave hands client back to Run for unregistration. After shutdown the
// Run loop is gone and shutdownClients has already disconnected everyone.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// shutdownClients closes every connection and runs its Disconnect transition.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, id)
		client.closed = true
	}
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		client.closeConnection()
		h.dispatchDisconnect(client.id)
	}

	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
