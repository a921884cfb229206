package socket

import (
	"fmt"
	"time"

	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/o11y"
	"go.uber.org/zap"
)

const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultReconnectMin   = 500 * time.Millisecond
	DefaultReconnectMax   = 10 * time.Second
	DefaultWriteQueueSize = 100
	DefaultReadLimit      = 4 << 20
)

// ClientBuilder provides a fluent interface for building dev server clients.
type ClientBuilder struct {
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
	metrics        o11y.MetricsProvider
}

// NewClient creates a new client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		logger:         zap.NewNop(),
		dialTimeout:    DefaultDialTimeout,
		reconnectMin:   DefaultReconnectMin,
		reconnectMax:   DefaultReconnectMax,
		writeQueueSize: DefaultWriteQueueSize,
		readLimit:      DefaultReadLimit,
	}
}

// WithURL sets the dev server websocket URL.
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger. A nil logger keeps the default nop logger.
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout bounds each dial attempt.
func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithReconnect sets the exponential backoff bounds between dial attempts.
func (b *ClientBuilder) WithReconnect(minDelay, maxDelay time.Duration) *ClientBuilder {
	if minDelay > 0 {
		b.reconnectMin = minDelay
	}
	if maxDelay > 0 {
		b.reconnectMax = maxDelay
	}
	return b
}

// WithPingInterval enables websocket pings while connected. Zero disables
// them, which is the default.
func (b *ClientBuilder) WithPingInterval(interval time.Duration) *ClientBuilder {
	if interval >= 0 {
		b.pingInterval = interval
	}
	return b
}

// WithWriteQueueSize sets how many outbound frames may wait for the writer
// within one connection. Frames beyond that are dropped.
func (b *ClientBuilder) WithWriteQueueSize(size int) *ClientBuilder {
	if size > 0 {
		b.writeQueueSize = size
	}
	return b
}

// WithReadLimit caps the size of one inbound frame. Fixture lists of large
// projects can be big, so the default is generous.
func (b *ClientBuilder) WithReadLimit(limit int64) *ClientBuilder {
	if limit > 0 {
		b.readLimit = limit
	}
	return b
}

// WithHeader sets a single HTTP header for the websocket handshake.
func (b *ClientBuilder) WithHeader(key, value string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

// WithMonitor sets a monitor notified on every connect and disconnect.
func (b *ClientBuilder) WithMonitor(monitor Monitor) *ClientBuilder {
	b.monitor = monitor
	return b
}

// WithMetrics enables frame counters and the connected gauge.
func (b *ClientBuilder) WithMetrics(provider o11y.MetricsProvider) *ClientBuilder {
	b.metrics = provider
	return b
}

// Build creates the client. It does not connect; call Connect for that.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	return &Client{
		url:            b.url,
		logger:         b.logger,
		dialTimeout:    b.dialTimeout,
		reconnectMin:   b.reconnectMin,
		reconnectMax:   b.reconnectMax,
		pingInterval:   b.pingInterval,
		writeQueueSize: b.writeQueueSize,
		readLimit:      b.readLimit,
		headers:        b.headers,
		monitor:        b.monitor,
		instruments: o11y.NewInstruments(b.metrics,
			[]string{o11y.MetricFramesSent, o11y.MetricFramesDropped, o11y.MetricFramesReceived},
			[]string{o11y.MetricConnected},
			nil),
		handlers:   make(map[string][]playground.Handler),
		connectedC: make(chan struct{}),
	}, nil
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}
	if b.reconnectMin > b.reconnectMax {
		return fmt.Errorf("reconnect minimum %s exceeds maximum %s", b.reconnectMin, b.reconnectMax)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return nil
}
