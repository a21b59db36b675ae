// Package ws implements core.Transport over gorilla/websocket for both the
// relay (server side) and link adapters (client side).
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const (
	DefaultQueueSize = 256
	DefaultWriteWait = 10 * time.Second
	// DefaultReadLimit is the largest single message accepted from a peer.
	DefaultReadLimit = 50 << 20
)

type Options struct {
	QueueSize int
	WriteWait time.Duration
	ReadLimit int64
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	return o
}

// Handler receives inbound messages from ReadLoop.
type Handler interface {
	HandleText(data []byte)
	HandleBinary(f core.Frame)
}

type outbound struct {
	kind int
	data []byte
}

// Conn is a websocket endpoint with a bounded send queue. Sends never block:
// a full queue returns ErrBackpressure. The bytes waiting in the queue are
// what BacklogBytes reports.
type Conn struct {
	conn *websocket.Conn
	opts Options
	send chan outbound

	backlog atomic.Int64

	mu      sync.RWMutex
	closing bool

	closeReq  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	doneOnce  sync.Once
}

var _ core.Transport = (*Conn)(nil)

// NewConn wraps conn and starts its write pump.
func NewConn(conn *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	conn.SetReadLimit(opts.ReadLimit)
	c := &Conn{
		conn:     conn,
		opts:     opts,
		send:     make(chan outbound, opts.QueueSize),
		closeReq: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.writePump()
	return c
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade turns an HTTP request into a Conn.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(conn, opts), nil
}

// Dial opens a client connection to url.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(conn, opts), nil
}

func (c *Conn) SendText(data []byte) error { return c.enqueue(websocket.TextMessage, data) }

func (c *Conn) SendBinary(f core.Frame) error { return c.enqueue(websocket.BinaryMessage, f) }

func (c *Conn) enqueue(kind int, data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closing {
		return ErrClosed
	}
	n := int64(len(data))
	c.backlog.Add(n)
	select {
	case c.send <- outbound{kind: kind, data: data}:
		return nil
	default:
		c.backlog.Add(-n)
		return ErrBackpressure
	}
}

func (c *Conn) BacklogBytes() int64 { return c.backlog.Load() }

func (c *Conn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
}

// OnPong must be set before ReadLoop starts.
func (c *Conn) OnPong(fn func()) {
	c.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

// Close stops accepting sends, writes what is queued, then sends a close frame.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.stopSends()
		close(c.closeReq)
	})
}

// Terminate drops the connection without flushing or a close handshake.
func (c *Conn) Terminate() {
	c.stopSends()
	c.shutdown()
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) stopSends() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
}

func (c *Conn) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Conn) writePump() {
	defer c.shutdown()
	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			if err := c.write(m); err != nil {
				log.Debug().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		case <-c.closeReq:
			c.drain()
			return
		}
	}
}

func (c *Conn) drain() {
	for {
		select {
		case m := <-c.send:
			if err := c.write(m); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
			return
		}
	}
}

func (c *Conn) write(m outbound) error {
	defer c.backlog.Add(-int64(len(m.data)))
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(m.kind, m.data)
}

// ReadLoop dispatches inbound messages to h until the peer goes away or
// ctx ends. The connection is terminated when it returns.
func (c *Conn) ReadLoop(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, c.Terminate)
	defer stop()
	defer c.Terminate()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		switch kind {
		case websocket.TextMessage:
			h.HandleText(data)
		case websocket.BinaryMessage:
			h.HandleBinary(data)
		}
	}
}
