package router

import (
	"fmt"

	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/bus"
	"github.com/tsarna/playground/pkg/playground/o11y"
	"go.uber.org/zap"
)

// Builder provides a fluent interface for composing a Router. Handlers added
// here are registered before the transport can deliver anything.
type Builder struct {
	transport        playground.Transport
	core             playground.Core
	bus              bus.Bus
	logger           *zap.Logger
	metrics          o11y.MetricsProvider
	tracing          o11y.TracingProvider
	rendererHandlers []RendererResponseHandler
	serverHandlers   []ServerMessageHandler
}

// NewRouter creates a new router builder.
func NewRouter() *Builder {
	return &Builder{
		logger: zap.NewNop(),
	}
}

func (b *Builder) WithTransport(transport playground.Transport) *Builder {
	b.transport = transport
	return b
}

// WithCore sets the capability consulted before every outbound request.
func (b *Builder) WithCore(core playground.Core) *Builder {
	b.core = core
	return b
}

// WithBus sets the plugin bus exposed to handlers through Context.
func (b *Builder) WithBus(pluginBus bus.Bus) *Builder {
	b.bus = pluginBus
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *Builder) WithMetrics(provider o11y.MetricsProvider) *Builder {
	b.metrics = provider
	return b
}

func (b *Builder) WithTracing(provider o11y.TracingProvider) *Builder {
	b.tracing = provider
	return b
}

// WithObservability applies both providers of cfg. A nil cfg is ignored.
func (b *Builder) WithObservability(cfg *o11y.Config) *Builder {
	if cfg != nil {
		b.metrics = cfg.MetricsProvider
		b.tracing = cfg.TracingProvider
	}
	return b
}

// OnRendererResponse adds a renderer response handler. Nil is ignored.
func (b *Builder) OnRendererResponse(handler RendererResponseHandler) *Builder {
	if handler != nil {
		b.rendererHandlers = append(b.rendererHandlers, handler)
	}
	return b
}

// OnServerMessage adds a server message handler. Nil is ignored.
func (b *Builder) OnServerMessage(handler ServerMessageHandler) *Builder {
	if handler != nil {
		b.serverHandlers = append(b.serverHandlers, handler)
	}
	return b
}

// Build creates the router and subscribes it to both transport channels.
// Build must be called once per transport.
func (b *Builder) Build() (*Router, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	r := &Router{
		transport: b.transport,
		core:      b.core,
		bus:       b.bus,
		logger:    b.logger,
		tracing:   b.tracing,
		instruments: o11y.NewInstruments(b.metrics,
			[]string{
				o11y.MetricRequestsPosted,
				o11y.MetricRequestsSuppressed,
				o11y.MetricMessagesDispatched,
				o11y.MetricHandlerErrors,
			},
			nil,
			[]string{o11y.MetricDispatchDuration}),
		rendererHandlers: append([]RendererResponseHandler(nil), b.rendererHandlers...),
		serverHandlers:   append([]ServerMessageHandler(nil), b.serverHandlers...),
	}

	b.transport.On(playground.RendererChannel, r.handleRenderer)
	b.transport.On(playground.ServerChannel, r.handleServer)

	return r, nil
}

// IsValid checks that all required configuration is present.
func (b *Builder) IsValid() error {
	if b.transport == nil {
		return fmt.Errorf("transport is required")
	}
	if b.core == nil {
		return fmt.Errorf("core is required")
	}
	return nil
}
