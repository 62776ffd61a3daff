package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/decksnap/decksnap-sync/internal/room"
)

var (
	errClientClosed   = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// client adapts a WebSocket connection to room.Transport. Frames are written
// by a single pump goroutine; Send and Close never block.
type client struct {
	conn       *websocket.Conn
	send       chan []byte
	writeWait  time.Duration
	pingPeriod time.Duration

	mu          sync.Mutex // Protects closing, closeCode, closeReason
	closing     bool
	closeCode   int
	closeReason string

	quit chan struct{} // closed by Close
	done chan struct{} // closed when writePump returns
}

var _ room.Transport = (*client)(nil)

func newClient(conn *websocket.Conn, opts *options) *client {
	return &client{
		conn:       conn,
		send:       make(chan []byte, opts.sendBuffer),
		writeWait:  opts.writeWait,
		pingPeriod: opts.pongWait * 9 / 10,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Send queues a frame for the write pump
func (c *client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close asks the write pump to flush queued frames and then send a close frame.
// Only the first call has an effect.
func (c *client) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return nil
	}
	c.closing = true
	c.closeCode, c.closeReason = code, reason
	close(c.quit)
	return nil
}

// closeAndWait closes the connection and waits for the write pump to exit
func (c *client) closeAndWait(code int, reason string) {
	_ = c.Close(code, reason)
	<-c.done
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			c.flush()
			return
		}
	}
}

// flush writes what is still queued followed by the close frame
func (c *client) flush() {
	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
			return
		}
	}
}

func (c *client) write(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
