package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsClient is one attached dashboard connection.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closing   chan struct{}
}

// enqueue queues a frame, shedding the oldest buffered frame when the
// subscriber cannot keep up.
func (c *wsClient) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- frame:
		default:
		}
	}
}

// writePump owns all writes on the connection: frames and pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.sendTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.sendTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
			return
		}
	}
}

// readPump discards inbound frames (the stream is one-way) and keeps
// the pong deadline fresh.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pingInterval + c.hub.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.pingInterval + c.hub.pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// shutdown asks the write pump to close the connection cleanly.
func (c *wsClient) shutdown() {
	c.closeOnce.Do(func() { close(c.closing) })
}
