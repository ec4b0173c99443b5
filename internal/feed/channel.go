// Package feed maintains a resilient websocket connection to the tick feed and
// buffers the most recent decoded envelopes.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewired-gh/tickwatch/internal/logger"
	"github.com/rewired-gh/tickwatch/internal/metrics"
	"github.com/rewired-gh/tickwatch/internal/models"
	"github.com/rewired-gh/tickwatch/internal/ring"
)

const (
	DefaultBufferCapacity   = 2000
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	// Frames above maxFrameSize are discarded without closing the connection.
	maxFrameSize = 1 << 20
)

// Options configures a Channel. Zero durations and capacities select the defaults.
type Options struct {
	AutoReconnect    bool
	BufferCapacity   int
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	// OnStatus is called on every status transition, from the supervisor goroutine.
	OnStatus func(models.FeedStatus)
}

// Channel is a supervised websocket subscription with a bounded envelope buffer.
type Channel struct {
	address string
	opts    Options
	dialer  websocket.Dialer

	mu     sync.Mutex
	status models.FeedStatus
	buf    *ring.Ring[models.Envelope]
	seq    uint64
	conn   *websocket.Conn

	// emitMu orders status callbacks against Close.
	emitMu sync.Mutex
	closed bool

	updates   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts the supervisor goroutine and returns immediately.
func Open(address string, opts Options) *Channel {
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = DefaultBufferCapacity
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		address: address,
		opts:    opts,
		dialer:  websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		status:  models.StatusConnecting,
		buf:     ring.New[models.Envelope](opts.BufferCapacity),
		updates: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// Status returns the current connection status.
func (c *Channel) Status() models.FeedStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns the buffered envelopes oldest first.
func (c *Channel) Snapshot() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Snapshot()
}

// Updates signals that new envelopes were buffered. Signals coalesce.
func (c *Channel) Updates() <-chan struct{} {
	return c.updates
}

// Done is closed once the supervisor has exited, either after Close or after
// the first disconnect when auto reconnect is off.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close stops reconnecting, closes the active connection, and waits for the
// supervisor to exit. Safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.emitMu.Lock()
		c.closed = true
		c.emitMu.Unlock()

		c.cancel()

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
	<-c.done
}

func (c *Channel) run() {
	defer close(c.done)

	for {
		c.setStatus(models.StatusConnecting)
		c.session()

		if c.ctx.Err() != nil || !c.opts.AutoReconnect {
			return
		}

		metrics.FeedReconnects.Inc()
		logger.Info("Reconnecting to feed %s in %v", c.address, c.opts.ReconnectDelay)

		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// session runs one connection lifetime: dial, read until failure, report.
func (c *Channel) session() {
	conn, _, err := c.dialer.DialContext(c.ctx, c.address, nil)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.fail(&ConnectionError{Op: "dial", Err: err})
		return
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
		metrics.FeedConnected.Set(0)
	}()

	metrics.FeedConnected.Set(1)
	logger.Info("Connected to feed %s", c.address)
	c.setStatus(models.StatusConnected)

	for {
		message, err := readFrame(conn)
		var decodeErr *DecodeError
		switch {
		case errors.As(err, &decodeErr):
			metrics.FeedDecodeErrors.Inc()
			logger.Warn("Dropping feed frame: %v", err)
			continue
		case err != nil:
			if c.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("Feed %s closed by server", c.address)
				c.setStatus(models.StatusDisconnected)
				return
			}
			c.fail(&ConnectionError{Op: "read", Err: err})
			return
		}
		c.handleFrame(message)
	}
}

// readFrame reads one message. An oversized message is drained and reported
// as a DecodeError so the connection stays usable.
func readFrame(conn *websocket.Conn) ([]byte, error) {
	_, r, err := conn.NextReader()
	if err != nil {
		return nil, err
	}
	message, err := io.ReadAll(io.LimitReader(r, maxFrameSize+1))
	if err != nil {
		return nil, err
	}
	if len(message) > maxFrameSize {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, &DecodeError{Err: fmt.Errorf("frame exceeds %d bytes", maxFrameSize)}
	}
	return message, nil
}

func (c *Channel) fail(err error) {
	logger.Warn("Feed %s connection failed: %v", c.address, err)
	c.setStatus(models.StatusError)
	c.setStatus(models.StatusDisconnected)
}

func (c *Channel) setStatus(s models.FeedStatus) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.closed {
		return
	}

	c.mu.Lock()
	c.status = s
	c.mu.Unlock()

	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}

type frame struct {
	Type *string         `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decodeFrame(message []byte) (models.Envelope, error) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		return models.Envelope{}, &DecodeError{Err: err}
	}
	if f.Type == nil || *f.Type == "" {
		return models.Envelope{}, &DecodeError{Err: errors.New("missing message type")}
	}
	env := models.Envelope{Type: *f.Type, Data: f.Data}
	if env.Type == models.MessageTypeTick {
		tick, err := models.DecodeTick(f.Data)
		if err == nil {
			env.Tick = tick
		}
	}
	return env, nil
}

func (c *Channel) handleFrame(message []byte) {
	env, err := decodeFrame(message)
	if err != nil {
		metrics.FeedDecodeErrors.Inc()
		logger.Warn("Dropping malformed feed frame (%d bytes): %v", len(message), err)
		return
	}
	if env.Type == models.MessageTypeTick && env.Tick == nil {
		logger.Debug("Tick envelope without a valid tick: %s", rawOrNull(env.Data))
	}
	env.ReceivedAt = time.Now()

	c.mu.Lock()
	c.seq++
	env.Seq = c.seq
	c.buf.Push(env)
	c.mu.Unlock()

	metrics.FeedFrames.WithLabelValues(env.Type).Inc()

	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func rawOrNull(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
