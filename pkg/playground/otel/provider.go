// Package otel reports router, bus and dev server connection metrics and
// spans through the global OpenTelemetry providers. Nothing is exported
// unless the process installs an SDK; the global defaults are no-ops.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsarna/playground/pkg/playground/o11y"
)

// Provider hands out instruments by name. Asking twice for the same name
// returns the same instrument, so the router and the client may both look
// up a shared metric.
type Provider struct {
	meter  metric.Meter
	tracer trace.Tracer

	mu         sync.Mutex
	counters   map[string]*otelCounter
	histograms map[string]*otelHistogram
	gauges     map[string]*otelGauge
}

func NewProvider(serviceName, serviceVersion string) *Provider {
	return &Provider{
		meter:      otel.Meter(serviceName, metric.WithInstrumentationVersion(serviceVersion)),
		tracer:     otel.Tracer(serviceName, trace.WithInstrumentationVersion(serviceVersion)),
		counters:   make(map[string]*otelCounter),
		histograms: make(map[string]*otelHistogram),
		gauges:     make(map[string]*otelGauge),
	}
}

// Config is what the builders' WithObservability take.
func (p *Provider) Config(serviceName, serviceVersion string) *o11y.Config {
	return &o11y.Config{
		MetricsProvider: p,
		TracingProvider: p,
		ServiceName:     serviceName,
		ServiceVersion:  serviceVersion,
	}
}

// Counter returns an Int64Counter. A name the meter rejects yields an
// instrument that drops every value.
func (p *Provider) Counter(name string) o11y.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[name]; ok {
		return c
	}
	counter, err := p.meter.Int64Counter(name)
	if err != nil {
		counter = noop.Int64Counter{}
	}
	c := &otelCounter{counter: counter}
	p.counters[name] = c
	return c
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.histograms[name]; ok {
		return h
	}
	histogram, err := p.meter.Float64Histogram(name, metric.WithUnit("s"))
	if err != nil {
		histogram = noop.Float64Histogram{}
	}
	h := &otelHistogram{histogram: histogram}
	p.histograms[name] = h
	return h
}

// Gauge is an UpDownCounter fed with the change since the previous Set for
// the same label set. Connection state and subscriber counts are reported
// this way.
func (p *Provider) Gauge(name string) o11y.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.gauges[name]; ok {
		return g
	}
	upDown, err := p.meter.Float64UpDownCounter(name)
	if err != nil {
		upDown = noop.Float64UpDownCounter{}
	}
	g := &otelGauge{gauge: upDown, last: make(map[attribute.Distinct]float64)}
	p.gauges[name] = g
	return g
}

func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func attributeSet(labels []o11y.Label) attribute.Set {
	kvs := make([]attribute.KeyValue, len(labels))
	for i, label := range labels {
		kvs[i] = attribute.String(label.Key, label.Value)
	}
	return attribute.NewSet(kvs...)
}

type otelCounter struct {
	counter metric.Int64Counter
}

func (c *otelCounter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	c.counter.Add(ctx, value, metric.WithAttributeSet(attributeSet(labels)))
}

type otelHistogram struct {
	histogram metric.Float64Histogram
}

func (h *otelHistogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	h.histogram.Record(ctx, value, metric.WithAttributeSet(attributeSet(labels)))
}

type otelGauge struct {
	gauge metric.Float64UpDownCounter

	mu   sync.Mutex
	last map[attribute.Distinct]float64
}

func (g *otelGauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	set := attributeSet(labels)
	key := set.Equivalent()

	g.mu.Lock()
	delta := value - g.last[key]
	g.last[key] = value
	g.mu.Unlock()

	if delta != 0 {
		g.gauge.Add(ctx, delta, metric.WithAttributeSet(set))
	}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) SetAttributes(labels ...o11y.Label) {
	set := attributeSet(labels)
	s.span.SetAttributes(set.ToSlice()...)
}

// SetStatus maps the o11y codes onto OpenTelemetry's. Anything unknown is
// left unset rather than reported as an error.
func (s *otelSpan) SetStatus(code o11y.SpanStatusCode, description string) {
	switch code {
	case o11y.SpanStatusOK:
		s.span.SetStatus(codes.Ok, "")
	case o11y.SpanStatusError:
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Unset, "")
	}
}

func (s *otelSpan) End() {
	s.span.End()
}
