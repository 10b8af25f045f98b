package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/Ayoub94x/esa-forecast-manager/internal/domain/errors"
	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/filter"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one connected stream consumer
type Client struct {
	ID         uuid.UUID
	conn       *websocket.Conn
	send       chan *Event
	hub        *Hub
	remoteAddr string

	mu     sync.Mutex
	closed bool
}

// clientMessage is a command sent by a stream client
type clientMessage struct {
	Type    string          `json:"type"`
	Filters json.RawMessage `json:"filters,omitempty"`
}

// ServeHTTP upgrades the request and attaches the connection to the hub
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
		)
		return
	}

	client := &Client{
		ID:         uuid.New(),
		conn:       conn,
		send:       make(chan *Event, sendBuffer),
		hub:        h,
		remoteAddr: r.RemoteAddr,
	}
	h.RegisterClient(client)

	go client.WritePump()
	go client.ReadPump()
}

// enqueue reports false when the client's buffer is full or closed
func (c *Client) enqueue(event *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump handles client commands until the connection closes
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("stream read error",
					zap.String("client_id", c.ID.String()),
					zap.Error(err),
				)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reject(apperrors.NewValidationError("INVALID_MESSAGE", "message is not valid JSON"))
			continue
		}
		if err := c.handle(msg); err != nil {
			c.reject(err)
		}
	}
}

func (c *Client) handle(msg clientMessage) error {
	svc := c.hub.service
	switch msg.Type {
	case "ping":
		c.enqueue(newEvent(EventPong, nil))
	case "update_filters":
		opts, err := filter.ParsePatch(msg.Filters)
		if err != nil {
			return apperrors.NewValidationError("INVALID_PATCH", "filter patch could not be decoded").
				WithDetails(map[string]interface{}{"reason": err.Error()})
		}
		store := svc.Store()
		if err := filter.Validate(filter.Merge(store.BuildQuery(), opts...)); err != nil {
			return err
		}
		store.Update(opts...)
	case "reset_filters":
		svc.Store().Reset()
	case "load_more":
		svc.LoadMore()
	case "refresh":
		svc.Refresh()
	default:
		return apperrors.NewValidationError("UNKNOWN_MESSAGE", "unsupported message type").
			WithDetails(map[string]interface{}{"type": msg.Type})
	}
	return nil
}

func (c *Client) reject(err error) {
	data := map[string]interface{}{"code": "INTERNAL_ERROR", "message": err.Error()}
	if appErr, ok := apperrors.As(err); ok {
		data["code"] = appErr.Code
		data["message"] = appErr.Message
		if len(appErr.Details) > 0 {
			data["details"] = appErr.Details
		}
	}
	c.enqueue(newEvent(EventError, data))
}

// WritePump drains the send queue onto the connection
func (c *Client) WritePump() {
	defer c.conn.Close()

	for event := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		var err error
		if event.payload != nil {
			err = c.conn.WriteMessage(websocket.TextMessage, event.payload)
		} else {
			err = c.conn.WriteJSON(event)
		}
		if err != nil {
			c.hub.logger.Debug("stream write failed",
				zap.String("client_id", c.ID.String()),
				zap.Error(err),
			)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
