package bus

import (
	"context"

	"github.com/tsarna/playground/pkg/playground/o11y"
	"go.uber.org/zap"
)

const DefaultBufferSize = 1000

// Builder provides a fluent interface for creating buses.
type Builder struct {
	logger     *zap.Logger
	bufferSize int
	name       string
	metrics    o11y.MetricsProvider
	tracing    o11y.TracingProvider
}

// NewBus creates a new Builder.
func NewBus() *Builder {
	return &Builder{
		bufferSize: DefaultBufferSize,
		name:       "default",
	}
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithName(name string) *Builder {
	if name != "" {
		b.name = name
	}
	return b
}

func (b *Builder) WithBufferSize(size int) *Builder {
	if size > 0 {
		b.bufferSize = size
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

// Build creates the bus. It must still be started.
func (b *Builder) Build() Bus {
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &eventBus{
		name:    b.name,
		ch:      make(chan busOp, b.bufferSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(zap.String("bus", b.name)),
		tracing: b.tracing,
		instruments: o11y.NewInstruments(b.metrics,
			[]string{o11y.MetricBusPublished},
			[]string{o11y.MetricBusSubscribers},
			[]string{o11y.MetricDispatchDuration}),
	}
}
