package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Ayoub94x/esa-forecast-manager/internal/metrics"
	"github.com/Ayoub94x/esa-forecast-manager/internal/service/filtereddata"
)

// EventType identifies a stream message
type EventType string

const (
	EventConnected EventType = "connection.established"
	EventSnapshot  EventType = "snapshot"
	EventError     EventType = "error"
	EventPong      EventType = "pong"
)

const (
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

// Event is one message written to a stream client
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`

	payload []byte
}

func newEvent(t EventType, data interface{}) *Event {
	return &Event{ID: uuid.New().String(), Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// Hub fans service snapshots out to every connected client. Bursts of
// snapshots are coalesced so clients only see the latest one.
type Hub struct {
	service  *filtereddata.Service
	registry *metrics.Registry
	logger   *zap.Logger

	clients     map[uuid.UUID]*Client
	clientsLock sync.RWMutex

	latestMu sync.Mutex
	latest   *filtereddata.Snapshot
	pending  chan struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a hub streaming service's snapshots
func NewHub(service *filtereddata.Service, registry *metrics.Registry, logger *zap.Logger) (*Hub, error) {
	if service == nil {
		return nil, fmt.Errorf("filtered data service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Hub{
		service:    service,
		registry:   registry,
		logger:     logger.Named("stream"),
		clients:    make(map[uuid.UUID]*Client),
		pending:    make(chan struct{}, 1),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}, nil
}

// Run serves the hub until ctx ends or Stop is called
func (h *Hub) Run(ctx context.Context) {
	unsubscribe := h.service.Subscribe(h.onSnapshot)
	defer unsubscribe()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-h.done:
			h.shutdown()
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case <-h.pending:
			h.broadcastLatest()
		case <-ticker.C:
			h.pingClients()
		}
	}
}

// Stop shuts the hub down and closes every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()
	return len(h.clients)
}

// onSnapshot runs on the service's publish path and must not block
func (h *Hub) onSnapshot(s filtereddata.Snapshot) {
	h.latestMu.Lock()
	h.latest = &s
	h.latestMu.Unlock()

	select {
	case h.pending <- struct{}{}:
	default:
	}
}

func (h *Hub) takeLatest() *filtereddata.Snapshot {
	h.latestMu.Lock()
	defer h.latestMu.Unlock()
	s := h.latest
	h.latest = nil
	return s
}

// RegisterClient adds client to the hub
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
		client.conn.Close()
	}
}

// UnregisterClient removes client from the hub
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsLock.Lock()
	h.clients[client.ID] = client
	h.clientsLock.Unlock()

	if h.registry != nil {
		h.registry.UpdateActiveStreams(1)
	}
	h.logger.Info("stream client registered",
		zap.String("client_id", client.ID.String()),
		zap.String("remote_addr", client.remoteAddr),
	)

	client.enqueue(newEvent(EventConnected, map[string]interface{}{
		"client_id": client.ID.String(),
	}))
	client.enqueue(h.renderSnapshot(h.service.Snapshot()))
}

func (h *Hub) unregisterClient(client *Client) {
	h.clientsLock.Lock()
	_, exists := h.clients[client.ID]
	if exists {
		delete(h.clients, client.ID)
		client.close()
	}
	h.clientsLock.Unlock()

	if !exists {
		return
	}
	if h.registry != nil {
		h.registry.UpdateActiveStreams(-1)
	}
	h.logger.Info("stream client unregistered", zap.String("client_id", client.ID.String()))
}

func (h *Hub) broadcastLatest() {
	snap := h.takeLatest()
	if snap == nil {
		return
	}
	event := h.renderSnapshot(*snap)

	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	for _, client := range h.clients {
		if !client.enqueue(event) {
			h.logger.Warn("stream client too slow, closing",
				zap.String("client_id", client.ID.String()),
			)
			go h.UnregisterClient(client)
		}
	}
}

// renderSnapshot encodes a snapshot event once for all clients. The encoding
// is the monitor's render measurement.
func (h *Hub) renderSnapshot(s filtereddata.Snapshot) *Event {
	monitor := h.service.Monitor()
	monitor.StartRenderMeasure()
	defer monitor.EndRenderMeasure()

	event := newEvent(EventSnapshot, s)
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode snapshot", zap.Error(err))
		return event
	}
	event.payload = payload
	return event
}

func (h *Hub) pingClients() {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	for _, client := range h.clients {
		if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			h.logger.Debug("stream ping failed",
				zap.String("client_id", client.ID.String()),
				zap.Error(err),
			)
			go h.UnregisterClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	for _, client := range h.clients {
		client.close()
		client.conn.Close()
	}
	if h.registry != nil && len(h.clients) > 0 {
		h.registry.UpdateActiveStreams(-int64(len(h.clients)))
	}
	h.clients = make(map[uuid.UUID]*Client)
}
