package chathub

import (
	"encoding/json"
	"sync"
	"time"

	"chatlink/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

// WebSocketClient implements Client over a gorilla websocket connection.
type WebSocketClient struct {
	ConnID     string
	Conn       *websocket.Conn
	Hub        *ManagerService
	Dispatcher *Dispatcher
	Send       chan models.Event

	// userID is written by SetUserID during join and read from the same
	// read-pump goroutine afterwards.
	userID string

	// done signals the write pump to stop. The Send channel itself is never
	// closed: the hub keeps a reference until unregistration and must be able
	// to attempt deliveries without risking a send on a closed channel.
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketClient(connID string, conn *websocket.Conn, hub *ManagerService, d *Dispatcher) *WebSocketClient {
	return &WebSocketClient{
		ConnID:     connID,
		Conn:       conn,
		Hub:        hub,
		Dispatcher: d,
		Send:       make(chan models.Event, sendBufferSize),
		done:       make(chan struct{}),
	}
}

func (c *WebSocketClient) GetConnID() string                   { return c.ConnID }
func (c *WebSocketClient) GetUserID() string                   { return c.userID }
func (c *WebSocketClient) SetUserID(id string)                 { c.userID = id }
func (c *WebSocketClient) GetSendChannel() chan<- models.Event { return c.Send }

// Run starts the pumps. The caller must have registered the client first.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which tears the connection down through the
// read pump's unregister path. Safe against double close from concurrent
// paths; further deliveries into Send are silently discarded.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Dispatcher.HandleDisconnect(c)
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.ConnID).Msg("read error")
			}
			break
		}
		c.Dispatcher.Dispatch(c, raw)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case evt := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(evt)
			if err != nil {
				log.Error().Err(err).Str("conn_id", c.ConnID).Msg("failed to encode event")
				continue
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// Flush whatever queued up behind this event.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				data, err := json.Marshal(<-c.Send)
				if err != nil {
					continue
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
