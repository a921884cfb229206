package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/o11y"
	"go.uber.org/zap"
)

// Frame is the wire format of one event on the dev server connection: the
// channel name and the message, as a single JSON text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Monitor observes the connection lifecycle. Each successful dial starts a
// new epoch, identified by a fresh id.
type Monitor interface {
	OnConnect(ctx context.Context, epoch string)
	OnDisconnect(ctx context.Context, epoch string, err error)
}

// Client is the playground.Transport over a websocket to the dev server.
// Once connected it keeps redialing with exponential backoff until Close.
type Client struct {
	// Configuration
	url            string
	logger         *zap.Logger
	dialTimeout    time.Duration
	reconnectMin   time.Duration
	reconnectMax   time.Duration
	pingInterval   time.Duration
	writeQueueSize int
	readLimit      int64
	headers        map[string][]string
	monitor        Monitor
	instruments    *o11y.Instruments

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	started   int32
	done      chan struct{}
	closeOnce sync.Once

	// Per-epoch state, nil while disconnected
	mu         sync.RWMutex
	handlers   map[string][]playground.Handler
	conn       *websocket.Conn
	writeCh    chan []byte
	pending    atomic.Int64 // frames queued or being written in this epoch
	epoch      string
	connectedC chan struct{} // closed while connected
}

var _ playground.Transport = (*Client)(nil)

// Connect starts the connection loop and returns immediately. The first dial
// happens in the background; use WaitConnected to block until it succeeds.
func (c *Client) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return fmt.Errorf("client is already started")
	}

	if _, err := url.Parse(c.url); err != nil {
		atomic.StoreInt32(&c.started, 0)
		return fmt.Errorf("invalid URL: %w", err)
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go c.run()

	return nil
}

// Close shuts the connection down and stops reconnecting.
func (c *Client) Close() error {
	if atomic.LoadInt32(&c.started) == 0 {
		return nil
	}

	c.closeOnce.Do(func() {
		c.logger.Info("Closing dev server connection")

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "client disconnect")
		}

		c.cancel()
		<-c.done
	})

	return nil
}

// Send queues msg for delivery on channel. It never blocks and never
// reports failure: while disconnected, or when the write queue is full, the
// frame is dropped.
func (c *Client) Send(ctx context.Context, channel string, msg any) {
	if ctx == nil {
		ctx = context.Background()
	}

	data, err := encodeFrame(channel, msg)
	if err != nil {
		c.logger.Warn("Failed to encode frame", zap.String("channel", channel), zap.Error(err))
		c.instruments.Inc(ctx, o11y.MetricFramesDropped, o11y.Label{Key: "reason", Value: "encode"})
		return
	}

	c.mu.RLock()
	writeCh := c.writeCh
	c.mu.RUnlock()

	if writeCh == nil {
		c.logger.Debug("Dev server not connected, frame dropped", zap.String("channel", channel))
		c.instruments.Inc(ctx, o11y.MetricFramesDropped, o11y.Label{Key: "reason", Value: "disconnected"})
		return
	}

	c.pending.Add(1)
	select {
	case writeCh <- data:
	default:
		c.pending.Add(-1)
		c.logger.Warn("Write queue full, frame dropped", zap.String("channel", channel))
		c.instruments.Inc(ctx, o11y.MetricFramesDropped, o11y.Label{Key: "reason", Value: "queue_full"})
	}
}

// On registers handler for inbound events on channel. Handlers for the same
// channel run in registration order on the read goroutine.
func (c *Client) On(channel string, handler playground.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[channel] = append(c.handlers[channel], handler)
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writeCh != nil
}

// Epoch returns the id of the current connection, or "" while disconnected.
func (c *Client) Epoch() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Flush blocks until every frame queued in the current connection has been
// written, or ctx is done. Frames discarded by a disconnect count as done.
func (c *Client) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for c.pending.Load() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// WaitConnected blocks until a connection is open or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.RLock()
	connectedC := c.connectedC
	c.mu.RUnlock()

	select {
	case <-connectedC:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run dials, serves one connection epoch at a time and backs off between
// attempts until the client context is cancelled.
func (c *Client) run() {
	defer close(c.done)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.reconnectMin
	policy.MaxInterval = c.reconnectMax
	policy.MaxElapsedTime = 0
	policy.Reset()

	for {
		wasConnected, err := c.session()
		if c.ctx.Err() != nil {
			return
		}

		if wasConnected {
			policy.Reset()
		}

		delay := policy.NextBackOff()
		c.logger.Info("Dev server unavailable, retrying",
			zap.String("url", c.url),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// session dials once and, if that works, serves the connection until it
// fails. It reports whether the dial succeeded.
func (c *Client) session() (bool, error) {
	dialCtx, dialCancel := context.WithTimeout(c.ctx, c.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPHeader: c.headers})
	dialCancel()
	if err != nil {
		return false, fmt.Errorf("failed to connect to dev server: %w", err)
	}
	conn.SetReadLimit(c.readLimit)

	epoch := uuid.NewString()
	logger := c.logger.With(zap.String("epoch", epoch))
	epochCtx, epochCancel := context.WithCancel(c.ctx)
	writeCh := make(chan []byte, c.writeQueueSize)

	c.setConnected(conn, epoch, writeCh)
	logger.Info("Connected to dev server", zap.String("url", c.url))
	if c.monitor != nil {
		c.monitor.OnConnect(epochCtx, epoch)
	}

	writerDone := make(chan error, 1)
	go func() {
		writerDone <- c.writeLoop(epochCtx, conn, writeCh)
	}()

	err = c.readLoop(epochCtx, conn, logger)

	// Frames still queued for this epoch are discarded with writeCh.
	c.setDisconnected()
	epochCancel()
	if writeErr := <-writerDone; writeErr != nil {
		err = writeErr
	}
	c.pending.Store(0)
	conn.CloseNow()

	if c.ctx.Err() != nil {
		err = nil
		logger.Info("Disconnected from dev server")
	} else {
		logger.Warn("Lost dev server connection", zap.Error(err))
	}

	if c.monitor != nil {
		c.monitor.OnDisconnect(context.Background(), epoch, err)
	}

	return true, err
}

func (c *Client) setConnected(conn *websocket.Conn, epoch string, writeCh chan []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
	c.epoch = epoch
	c.pending.Store(0)
	c.writeCh = writeCh
	close(c.connectedC)
	c.instruments.Set(c.ctx, o11y.MetricConnected, 1)
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = nil
	c.epoch = ""
	c.writeCh = nil
	c.connectedC = make(chan struct{})
	c.instruments.Set(context.Background(), o11y.MetricConnected, 0)
}

// readLoop delivers inbound frames to handlers until the connection fails.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		c.instruments.Inc(ctx, o11y.MetricFramesReceived)

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("Failed to parse dev server frame",
				zap.Error(err),
				zap.Int("data_length", len(data)),
			)
			continue
		}

		if frame.Event == "" {
			logger.Debug("Ignoring frame without event name")
			continue
		}

		c.dispatch(ctx, frame)
	}
}

func (c *Client) dispatch(ctx context.Context, frame Frame) {
	c.mu.RLock()
	handlers := c.handlers[frame.Event]
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, frame.Data)
	}
}

// writeLoop serializes all writes for one epoch, plus optional pings.
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, writeCh <-chan []byte) error {
	var pingC <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case data := <-writeCh:
			err := conn.Write(ctx, websocket.MessageText, data)
			c.pending.Add(-1)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				conn.CloseNow()
				return fmt.Errorf("failed to write frame: %w", err)
			}
			c.instruments.Inc(ctx, o11y.MetricFramesSent)

		case <-pingC:
			pingCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				conn.CloseNow()
				return fmt.Errorf("ping failed: %w", err)
			}
		}
	}
}

func encodeFrame(channel string, msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: channel, Data: data})
}
