package server

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-broker/internal/protocol"
)

// Client is one accepted connection. The pumps own the socket; every other
// field is read and written by the Hub goroutine only.
type Client struct {
	id   string
	conn net.Conn
	addr string
	send chan string
	hub  *Hub
	log  *zap.Logger

	state    connState
	nickname string
	joinedAt time.Time
	failed   bool
}

func newClient(conn net.Conn, hub *Hub) *Client {
	id := uuid.NewString()
	addr := conn.RemoteAddr().String()
	return &Client{
		id:   id,
		conn: conn,
		addr: addr,
		send: make(chan string, hub.cfg.SendQueueSize),
		hub:  hub,
		log:  hub.log.With(zap.String("session", id), zap.String("addr", addr)),
	}
}

// enqueue hands text to the write pump without blocking. It returns false
// when the client is gone or its queue is full.
func (c *Client) enqueue(text string) bool {
	if c.state == stateClosed || c.failed {
		return false
	}
	select {
	case c.send <- text:
		return true
	default:
		return false
	}
}

// handleReadError logs why the read loop stopped.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, protocol.ErrPeerClosed):
		c.log.Debug("peer closed connection")
	case errors.Is(err, protocol.ErrFrameTooLarge),
		errors.Is(err, protocol.ErrMalformedFrame),
		errors.Is(err, protocol.ErrEnvelopeVersion):
		c.log.Warn("dropping connection after bad frame", zap.Error(err))
	case isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	default:
		c.log.Info("read error", zap.Error(err))
	}
}

func (c *Client) readPump() {
	for {
		text, err := protocol.Receive(c.conn, c.hub.cfg.MaxFrameSize)
		if err != nil {
			c.handleReadError(err)
			c.hub.deliver(event{kind: eventClosed, client: c, err: err})
			return
		}
		if !c.hub.deliver(event{kind: eventFrame, client: c, text: text}) {
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.closeConnection()

	for text := range c.send {
		if err := c.writeFrame(text); err != nil {
			if !isExpectedCloseError(err) {
				c.log.Info("write error", zap.Error(err))
			}
			c.hub.deliver(event{kind: eventWriteFailed, client: c, err: err})
			return
		}
	}
}

func (c *Client) writeFrame(text string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
		return err
	}
	return protocol.Send(c.conn, text)
}

// closeConnection safely closes the connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection", zap.Error(err))
	}
}
