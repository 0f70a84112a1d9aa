package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callcore-backend/pkg/logger"
)

const (
	pingInterval   = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Client represents one authenticated signaling connection
type Client struct {
	hub     *Hub
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	userID  uuid.UUID

	// groups this client belongs to; guarded by hub.mu
	groups map[string]bool
}

// readPump reads requests from the WebSocket and dispatches them
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			logger.Warn("invalid signaling message",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage(req.Event, "in")
		}

		res := c.gateway.handle(c, req)
		if res != nil {
			c.write(res)
		}
	}
}

// write queues a response on the client's send channel
func (c *Client) write(res *Response) {
	payload, err := json.Marshal(res)
	if err != nil {
		logger.Error("failed to marshal response",
			zap.String("event", res.Event),
			zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		logger.Warn("client send buffer full, dropping response",
			zap.String("user_id", c.userID.String()),
			zap.String("event", res.Event))
	}
}

// writePump writes queued messages and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
