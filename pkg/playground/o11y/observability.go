// Package o11y defines the metrics and tracing hooks used across the
// playground. Every provider is optional; a nil provider disables the
// corresponding instrumentation.
package o11y

import (
	"context"
)

// Metric names shared by the router, transport and bus.
const (
	MetricRequestsPosted     = "playground_renderer_requests_posted_total"
	MetricRequestsSuppressed = "playground_renderer_requests_suppressed_total"
	MetricMessagesDispatched = "playground_messages_dispatched_total"
	MetricHandlerErrors      = "playground_handler_errors_total"
	MetricFramesSent         = "playground_socket_frames_sent_total"
	MetricFramesDropped      = "playground_socket_frames_dropped_total"
	MetricFramesReceived     = "playground_socket_frames_received_total"
	MetricConnected          = "playground_socket_connected"
	MetricBusPublished       = "playground_bus_published_total"
	MetricBusSubscribers     = "playground_bus_subscribers"
	MetricDispatchDuration   = "playground_dispatch_duration_seconds"
)

// Config bundles the optional providers handed to builders.
type Config struct {
	MetricsProvider MetricsProvider
	TracingProvider TracingProvider
	ServiceName     string
	ServiceVersion  string
}

// MetricsProvider abstracts metrics collection (OpenTelemetry, Prometheus, ...)
type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// TracingProvider abstracts distributed tracing.
type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter represents a monotonically increasing metric
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

// Histogram records distribution of values
type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge represents a value that can go up and down
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

// Span represents a unit of work in a trace
type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// Label represents a key-value pair for metrics and tracing
type Label struct {
	Key   string
	Value string
}

// SpanStatusCode represents the status of a span
type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// Instruments holds the counters a component creates up front. Fields stay
// nil when no provider is configured, and the helpers below accept that.
type Instruments struct {
	provider MetricsProvider
	counters map[string]Counter
	gauges   map[string]Gauge
	hists    map[string]Histogram
}

// NewInstruments pre-creates the named counters, gauges and histograms.
// A nil provider yields an Instruments whose methods do nothing.
func NewInstruments(provider MetricsProvider, counters, gauges, histograms []string) *Instruments {
	inst := &Instruments{
		provider: provider,
		counters: make(map[string]Counter),
		gauges:   make(map[string]Gauge),
		hists:    make(map[string]Histogram),
	}
	if provider == nil {
		return inst
	}
	for _, name := range counters {
		inst.counters[name] = provider.Counter(name)
	}
	for _, name := range gauges {
		inst.gauges[name] = provider.Gauge(name)
	}
	for _, name := range histograms {
		inst.hists[name] = provider.Histogram(name)
	}
	return inst
}

// Inc adds one to the named counter.
func (i *Instruments) Inc(ctx context.Context, name string, labels ...Label) {
	if i == nil {
		return
	}
	if c, ok := i.counters[name]; ok {
		c.Add(ctx, 1, labels...)
	}
}

// Set sets the named gauge.
func (i *Instruments) Set(ctx context.Context, name string, value float64, labels ...Label) {
	if i == nil {
		return
	}
	if g, ok := i.gauges[name]; ok {
		g.Set(ctx, value, labels...)
	}
}

// Observe records a value on the named histogram.
func (i *Instruments) Observe(ctx context.Context, name string, value float64, labels ...Label) {
	if i == nil {
		return
	}
	if h, ok := i.hists[name]; ok {
		h.Record(ctx, value, labels...)
	}
}
