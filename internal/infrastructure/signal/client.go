package signal

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"cinewave/internal/core/domain"
)

// Client is one authenticated realtime connection. The reader runs on the
// handler goroutine; writePump owns every write to the socket.
type Client struct {
	id     string
	member domain.Member
	conn   *websocket.Conn
	send   chan []byte

	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id string, member domain.Member, conn *websocket.Conn, sendBuffer int, limiter *rate.Limiter) *Client {
	return &Client{
		id:      id,
		member:  member,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() domain.UserID { return c.member.UserID }

// enqueue never blocks; false means the buffer is full or the client closed.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// closeWithMessage sends a close frame before closing.
func (c *Client) closeWithMessage(code int, text string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(time.Second))
	c.close()
}

func (c *Client) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
