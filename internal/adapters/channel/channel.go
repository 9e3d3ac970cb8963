// Package channel is the client end of the signaling websocket. It keeps
// one connection open, reconnecting with exponential backoff, and hands
// decoded messages to a Handler.
package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app/events"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	closeWait      = time.Second
	maxMessageSize = 1 << 20
)

type Handler func(protocol.Message)

type Publisher interface {
	Publish(name events.Name, payload any)
}

// Event payloads.
type (
	Established struct {
		URL     string
		Attempt int
	}
	Lost struct {
		Err   error
		Retry time.Duration
	}
)

type Options struct {
	URL     string
	Header  http.Header
	Dialer  *websocket.Dialer
	Handler Handler
	Bus     Publisher

	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Jitter is the randomization factor applied to every delay.
	Jitter float64
	// MaxElapsed bounds the time spent reconnecting without success.
	// Zero retries forever.
	MaxElapsed time.Duration

	PingInterval time.Duration
	SendBuffer   int
}

type Client struct {
	opts Options

	mu     sync.RWMutex
	active *link
	closed bool
	done   chan struct{}
}

type link struct {
	conn      *websocket.Conn
	send      chan []byte
	gone      chan struct{}
	drain     chan struct{}
	once      sync.Once
	drainOnce sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.gone)
		_ = l.conn.Close()
	})
}

// shutdown asks the write pump to flush queued frames and say goodbye.
func (l *link) shutdown() {
	l.drainOnce.Do(func() { close(l.drain) })
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	if opts.Jitter <= 0 {
		opts.Jitter = backoff.DefaultRandomizationFactor
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Client{opts: opts, done: make(chan struct{})}
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.RandomizationFactor = c.opts.Jitter
	b.MaxElapsedTime = c.opts.MaxElapsed
	b.Reset()
	return b
}

// Connect dials and serves the connection until ctx is done or Close is
// called, reconnecting after every failure. It returns nil on Close.
func (c *Client) Connect(ctx context.Context) error {
	b := c.newBackOff()
	attempt := 0
	for {
		if c.isClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		attempt++
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if err == nil {
			b.Reset()
			err = c.serve(ctx, conn, attempt)
			if c.isClosed() {
				return nil
			}
		}

		retry := b.NextBackOff()
		log.Warn().Err(err).Str("module", "channel").Str("url", c.opts.URL).Dur("retry", retry).Msg("connection lost")
		c.publish(events.ConnectionLost, Lost{Err: err, Retry: retry})
		if retry == backoff.Stop {
			return fmt.Errorf("reconnect gave up: %w", domain.ErrChannelUnavailable)
		}
		if !c.sleep(ctx, retry) {
			if c.isClosed() {
				return nil
			}
			return ctx.Err()
		}
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn, attempt int) error {
	l := &link{
		conn:  conn,
		send:  make(chan []byte, c.opts.SendBuffer),
		gone:  make(chan struct{}),
		drain: make(chan struct{}),
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.active = l
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.active == l {
			c.active = nil
		}
		c.mu.Unlock()
		l.close()
	}()

	stop := context.AfterFunc(ctx, l.close)
	defer stop()

	log.Info().Str("module", "channel").Str("url", c.opts.URL).Int("attempt", attempt).Msg("connected")
	c.publish(events.ConnectionEstablished, Established{URL: c.opts.URL, Attempt: attempt})

	go c.writePump(l)
	return c.readPump(l)
}

func (c *Client) readPump(l *link) error {
	l.conn.SetReadLimit(maxMessageSize)
	deadline := 2 * c.opts.PingInterval
	_ = l.conn.SetReadDeadline(time.Now().Add(deadline))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(deadline))
		m, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "channel").Msg("drop inbound frame")
			continue
		}
		if c.opts.Handler != nil {
			c.opts.Handler(m)
		}
	}
}

func (c *Client) writePump(l *link) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer l.close()

	for {
		select {
		case <-l.gone:
			return
		case data := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "channel").Msg("write error")
				return
			}
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-l.drain:
			c.flush(l)
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
			return
		}
	}
}

func (c *Client) flush(l *link) {
	for {
		select {
		case data := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(closeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues m on the open connection without blocking. It returns
// ErrChannelUnavailable when there is no open connection or the send
// buffer is full.
func (c *Client) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.RLock()
	l := c.active
	c.mu.RUnlock()
	if l == nil {
		log.Debug().Str("module", "channel").Str("type", string(m.Type)).Msg("send while disconnected")
		return domain.ErrChannelUnavailable
	}
	select {
	case <-l.gone:
		return domain.ErrChannelUnavailable
	case l.send <- data:
		return nil
	default:
		log.Warn().Str("module", "channel").Str("type", string(m.Type)).Msg("send buffer full")
		return fmt.Errorf("send buffer full: %w", domain.ErrChannelUnavailable)
	}
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active != nil
}

// Close stops reconnecting and closes the open connection after flushing
// what is already queued.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	l := c.active
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	l.shutdown()
	t := time.NewTimer(closeWait)
	defer t.Stop()
	select {
	case <-l.gone:
	case <-t.C:
		l.close()
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) publish(name events.Name, payload any) {
	if c.opts.Bus != nil {
		c.opts.Bus.Publish(name, payload)
	}
}
