package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/bus"
	"github.com/tsarna/playground/pkg/playground/o11y"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type sentMessage struct {
	channel string
	msg     any
}

// fakeTransport records sends and lets tests fire inbound events.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentMessage
	handlers map[string][]playground.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]playground.Handler)}
}

func (f *fakeTransport) Send(ctx context.Context, channel string, msg any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{channel: channel, msg: msg})
}

func (f *fakeTransport) On(channel string, handler playground.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[channel] = append(f.handlers[channel], handler)
}

func (f *fakeTransport) Connected() bool {
	return true
}

func (f *fakeTransport) fire(channel, payload string) {
	f.mu.Lock()
	handlers := f.handlers[channel]
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(context.Background(), json.RawMessage(payload))
	}
}

func (f *fakeTransport) sends() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type calls struct {
	mu       sync.Mutex
	order    []string
	renderer []playground.RendererResponse
	server   []playground.ServerMessage
}

func (c *calls) rendererHandler(name string) RendererResponseHandler {
	return func(ctx *Context, msg playground.RendererResponse) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.order = append(c.order, name)
		c.renderer = append(c.renderer, msg)
		return nil
	}
}

func (c *calls) serverHandler(name string) ServerMessageHandler {
	return func(ctx *Context, msg playground.ServerMessage) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.order = append(c.order, name)
		c.server = append(c.server, msg)
		return nil
	}
}

func buildRouter(t *testing.T, transport playground.Transport, core playground.Core, configure func(*Builder)) *Router {
	t.Helper()
	builder := NewRouter().
		WithTransport(transport).
		WithCore(core).
		WithLogger(zaptest.NewLogger(t))
	if configure != nil {
		configure(builder)
	}
	r, err := builder.Build()
	require.NoError(t, err)
	return r
}

const rendererReadyEvent = `{"type":"rendererReady","payload":{"rendererId":"r1","fixtures":{"ein.js":null,"zwei.js":null}}}`

func TestBuilderValidation(t *testing.T) {
	_, err := NewRouter().WithCore(playground.StaticCore(true)).Build()
	assert.ErrorContains(t, err, "transport is required")

	_, err = NewRouter().WithTransport(newFakeTransport()).Build()
	assert.ErrorContains(t, err, "core is required")

	builder := NewRouter()
	assert.Same(t, builder, builder.WithLogger(nil))
	assert.NotNil(t, builder.logger)
	assert.Same(t, builder, builder.OnRendererResponse(nil))
	assert.Same(t, builder, builder.OnServerMessage(nil))
	assert.Empty(t, builder.rendererHandlers)
	assert.Empty(t, builder.serverHandlers)
}

func TestBuildRegistersOneHandlerPerChannel(t *testing.T) {
	transport := newFakeTransport()
	buildRouter(t, transport, playground.StaticCore(true), nil)

	assert.Len(t, transport.handlers[playground.RendererChannel], 1)
	assert.Len(t, transport.handlers[playground.ServerChannel], 1)
}

func TestPostRendererRequestSendsOnRendererChannel(t *testing.T) {
	transport := newFakeTransport()
	r := buildRouter(t, transport, playground.StaticCore(true), nil)

	req, err := playground.SelectFixtureRequest("r1", playground.DefaultFixtureID("a.js"), playground.FixtureState{})
	require.NoError(t, err)
	r.PostRendererRequest(context.Background(), req)

	sends := transport.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, playground.RendererChannel, sends[0].channel)
	assert.Equal(t, req, sends[0].msg)

	encoded, err := json.Marshal(sends[0].msg)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"selectFixture","payload":{"rendererId":"r1","fixtureId":{"path":"a.js","name":null},"fixtureState":{}}}`,
		string(encoded))
}

func TestPostRendererRequestWhileDevServerOff(t *testing.T) {
	transport := newFakeTransport()
	r := buildRouter(t, transport, playground.StaticCore(false), nil)

	r.PostRendererRequest(context.Background(), playground.PingRenderersRequest())
	req, err := playground.ReloadRendererRequest("r1")
	require.NoError(t, err)
	r.PostRendererRequest(context.Background(), req)

	assert.Empty(t, transport.sends())
}

func TestDevServerStateIsCheckedOnEveryRequest(t *testing.T) {
	transport := newFakeTransport()
	on := false
	r := buildRouter(t, transport, playground.CoreFunc(func() bool { return on }), nil)

	r.PostRendererRequest(context.Background(), playground.PingRenderersRequest())
	assert.Empty(t, transport.sends())

	on = true
	r.PostRendererRequest(context.Background(), playground.PingRenderersRequest())
	assert.Len(t, transport.sends(), 1)

	on = false
	r.PostRendererRequest(context.Background(), playground.PingRenderersRequest())
	assert.Len(t, transport.sends(), 1)
}

func TestRendererEventReachesOnlyRendererHandlers(t *testing.T) {
	transport := newFakeTransport()
	c := &calls{}
	buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.OnRendererResponse(c.rendererHandler("renderer")).
			OnServerMessage(c.serverHandler("server"))
	})

	transport.fire(playground.RendererChannel, rendererReadyEvent)

	require.Len(t, c.renderer, 1)
	assert.Empty(t, c.server)

	encoded, err := json.Marshal(c.renderer[0])
	require.NoError(t, err)
	assert.JSONEq(t, rendererReadyEvent, string(encoded))

	decoded, err := c.renderer[0].Decode()
	require.NoError(t, err)
	ready, ok := decoded.(playground.RendererReady)
	require.True(t, ok)
	assert.Equal(t, "r1", ready.RendererID)
	assert.Equal(t, playground.FixtureNamesByPath{"ein.js": nil, "zwei.js": nil}, ready.Fixtures)
}

func TestServerEventReachesOnlyServerHandlers(t *testing.T) {
	transport := newFakeTransport()
	c := &calls{}
	buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.OnRendererResponse(c.rendererHandler("renderer")).
			OnServerMessage(c.serverHandler("server"))
	})

	transport.fire(playground.ServerChannel, `{"type":"buildError"}`)

	require.Len(t, c.server, 1)
	assert.Empty(t, c.renderer)
	assert.Equal(t, playground.ServerBuildError, c.server[0].Type)
	assert.Nil(t, c.server[0].Payload)
}

func TestOverlappingShapesStayOnTheirChannel(t *testing.T) {
	transport := newFakeTransport()
	c := &calls{}
	buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.OnRendererResponse(c.rendererHandler("renderer")).
			OnServerMessage(c.serverHandler("server"))
	})

	transport.fire(playground.ServerChannel, rendererReadyEvent)
	transport.fire(playground.RendererChannel, `{"type":"buildError"}`)

	assert.Equal(t, []string{"server", "renderer"}, c.order)
	assert.Equal(t, playground.ResponseRendererReady, c.server[0].Type)
	assert.Equal(t, playground.ServerBuildError, c.renderer[0].Type)
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	transport := newFakeTransport()
	c := &calls{}
	r := buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.OnRendererResponse(c.rendererHandler("a"))
	})
	require.NoError(t, r.OnRendererResponse(c.rendererHandler("b")))
	require.NoError(t, r.OnRendererResponse(c.rendererHandler("c")))

	transport.fire(playground.RendererChannel, rendererReadyEvent)

	assert.Equal(t, []string{"a", "b", "c"}, c.order)
	require.Len(t, c.renderer, 3)
	assert.Equal(t, c.renderer[0], c.renderer[1])
	assert.Equal(t, c.renderer[1], c.renderer[2])
}

func TestEventsAreDispatchedInArrivalOrder(t *testing.T) {
	transport := newFakeTransport()
	c := &calls{}
	buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.OnRendererResponse(c.rendererHandler("renderer")).
			OnServerMessage(c.serverHandler("server"))
	})

	transport.fire(playground.RendererChannel, `{"type":"rendererReady","payload":{"rendererId":"r1","fixtures":{}}}`)
	transport.fire(playground.ServerChannel, `{"type":"buildStart"}`)
	transport.fire(playground.RendererChannel, `{"type":"fixtureListUpdate","payload":{"rendererId":"r1","fixtures":{}}}`)
	transport.fire(playground.ServerChannel, `{"type":"buildDone"}`)

	assert.Equal(t, []string{"renderer", "server", "renderer", "server"}, c.order)
	assert.Equal(t, playground.ResponseRendererReady, c.renderer[0].Type)
	assert.Equal(t, playground.ResponseFixtureListUpdate, c.renderer[1].Type)
	assert.Equal(t, playground.ServerBuildStart, c.server[0].Type)
	assert.Equal(t, playground.ServerBuildDone, c.server[1].Type)
}

func TestUnknownTypesAreForwarded(t *testing.T) {
	transport := newFakeTransport()
	c := &calls{}
	buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.OnRendererResponse(c.rendererHandler("renderer"))
	})

	transport.fire(playground.RendererChannel, `{"type":"somethingNew","payload":{"x":1}}`)

	require.Len(t, c.renderer, 1)
	decoded, err := c.renderer[0].Decode()
	require.NoError(t, err)
	unknown, ok := decoded.(playground.UnknownMessage)
	require.True(t, ok)
	assert.Equal(t, "somethingNew", unknown.Type)
	assert.JSONEq(t, `{"x":1}`, string(unknown.Payload))
}

func TestEventsAreForwardedVerbatim(t *testing.T) {
	transport := newFakeTransport()
	c := &calls{}
	buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.OnRendererResponse(c.rendererHandler("renderer")).
			OnServerMessage(c.serverHandler("server"))
	})

	withMeta := `{"type":"fixtureStateChange","payload":{"rendererId":"r1"},"meta":{"seq":7}}`
	nullPayload := `{"type":"buildError","payload":null}`
	transport.fire(playground.RendererChannel, withMeta)
	transport.fire(playground.ServerChannel, nullPayload)

	require.Len(t, c.renderer, 1)
	require.Len(t, c.server, 1)

	encoded, err := json.Marshal(c.renderer[0])
	require.NoError(t, err)
	assert.JSONEq(t, withMeta, string(encoded))

	encoded, err = json.Marshal(c.server[0])
	require.NoError(t, err)
	assert.JSONEq(t, nullPayload, string(encoded))
	assert.Nil(t, c.server[0].Payload)
}

func TestMalformedEventsAreIgnored(t *testing.T) {
	transport := newFakeTransport()
	c := &calls{}
	buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.OnRendererResponse(c.rendererHandler("renderer")).
			OnServerMessage(c.serverHandler("server"))
	})

	for _, payload := range []string{``, `null`, `42`, `"rendererReady"`, `[]`, `{}`, `{"type":7}`, `{"type":""}`, `{not json`} {
		assert.NotPanics(t, func() {
			transport.fire(playground.RendererChannel, payload)
			transport.fire(playground.ServerChannel, payload)
		}, payload)
	}

	assert.Empty(t, c.order)
}

func TestFailingHandlersDoNotStopDispatch(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	transport := newFakeTransport()
	c := &calls{}

	buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.WithLogger(zap.New(core)).
			OnRendererResponse(c.rendererHandler("first")).
			OnRendererResponse(func(ctx *Context, msg playground.RendererResponse) error {
				return errors.New("handler failed")
			}).
			OnRendererResponse(func(ctx *Context, msg playground.RendererResponse) error {
				panic("handler exploded")
			}).
			OnRendererResponse(c.rendererHandler("last"))
	})

	assert.NotPanics(t, func() {
		transport.fire(playground.RendererChannel, rendererReadyEvent)
	})

	assert.Equal(t, []string{"first", "last"}, c.order)
	assert.Equal(t, 1, logs.FilterMessage("Handler failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("Handler panicked").Len())

	failed := logs.FilterMessage("Handler failed").All()[0]
	assert.Equal(t, playground.RendererChannel, failed.ContextMap()["channel"])
	assert.Equal(t, playground.ResponseRendererReady, failed.ContextMap()["type"])
}

func TestRegistrationAfterDispatchFails(t *testing.T) {
	transport := newFakeTransport()
	c := &calls{}
	r := buildRouter(t, transport, playground.StaticCore(true), nil)

	require.NoError(t, r.OnServerMessage(c.serverHandler("early")))
	transport.fire(playground.ServerChannel, `{"type":"buildStart"}`)

	assert.ErrorIs(t, r.OnServerMessage(c.serverHandler("late")), ErrDispatchStarted)
	assert.ErrorIs(t, r.OnRendererResponse(c.rendererHandler("late")), ErrDispatchStarted)
	assert.Error(t, r.OnRendererResponse(nil))

	transport.fire(playground.ServerChannel, `{"type":"buildDone"}`)
	assert.Equal(t, []string{"early", "early"}, c.order)
}

func TestHandlersCanPostFollowUpRequests(t *testing.T) {
	transport := newFakeTransport()
	buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.OnRendererResponse(func(ctx *Context, msg playground.RendererResponse) error {
			decoded, err := msg.Decode()
			if err != nil {
				return err
			}
			ready, ok := decoded.(playground.RendererReady)
			if !ok {
				return nil
			}
			req, err := playground.SelectFixtureRequest(ready.RendererID, playground.DefaultFixtureID("ein.js"), nil)
			if err != nil {
				return err
			}
			ctx.Router.PostRendererRequest(ctx, req)
			return nil
		})
	})

	transport.fire(playground.RendererChannel, rendererReadyEvent)

	sends := transport.sends()
	require.Len(t, sends, 1)
	req, ok := sends[0].msg.(playground.RendererRequest)
	require.True(t, ok)
	assert.Equal(t, playground.RequestSelectFixture, req.Type)
	assert.JSONEq(t, `{"rendererId":"r1","fixtureId":{"path":"ein.js","name":null},"fixtureState":{}}`, string(req.Payload))
}

func TestPublishHandlersRepublishOnBus(t *testing.T) {
	pluginBus := bus.NewBus().WithLogger(zaptest.NewLogger(t)).Build()
	require.NoError(t, pluginBus.Start())
	defer pluginBus.Stop()

	var mu sync.Mutex
	var topics []string
	var types []string
	sub := bus.SubscriberFunc(func(ctx context.Context, topic string, message any, fields map[string]string) error {
		mu.Lock()
		defer mu.Unlock()
		topics = append(topics, topic)
		types = append(types, fields["type"])
		return nil
	})
	ctx := context.Background()
	require.NoError(t, pluginBus.Subscribe(ctx, sub, "renderer/+type"))
	require.NoError(t, pluginBus.Subscribe(ctx, sub, "server/+type"))

	transport := newFakeTransport()
	r := buildRouter(t, transport, playground.StaticCore(true), func(b *Builder) {
		b.WithBus(pluginBus).
			OnRendererResponse(PublishRendererResponse).
			OnServerMessage(PublishServerMessage)
	})
	assert.Same(t, pluginBus, r.Bus())

	transport.fire(playground.RendererChannel, rendererReadyEvent)
	transport.fire(playground.ServerChannel, `{"type":"buildError"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(topics) == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"renderer/rendererReady", "server/buildError"}, topics)
	assert.Equal(t, []string{"rendererReady", "buildError"}, types)
}

func TestPublishHandlersWithoutBus(t *testing.T) {
	hctx := &Context{Context: context.Background()}
	assert.NoError(t, PublishRendererResponse(hctx, playground.RendererResponse{Type: "x"}))
	assert.NoError(t, PublishServerMessage(hctx, playground.ServerMessage{Type: "x"}))
}

// recordingMetrics counts every Counter.Add by metric name.
type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int64
}

type recordingCounter struct {
	name    string
	metrics *recordingMetrics
}

func (c *recordingCounter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	c.metrics.counts[c.name] += value
}

type nopHistogram struct{}

func (nopHistogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {}

type nopGauge struct{}

func (nopGauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {}

func (m *recordingMetrics) Counter(name string) o11y.Counter {
	return &recordingCounter{name: name, metrics: m}
}

func (m *recordingMetrics) Histogram(name string) o11y.Histogram { return nopHistogram{} }

func (m *recordingMetrics) Gauge(name string) o11y.Gauge { return nopGauge{} }

func TestMetrics(t *testing.T) {
	metrics := &recordingMetrics{counts: make(map[string]int64)}
	transport := newFakeTransport()
	on := true
	r := buildRouter(t, transport, playground.CoreFunc(func() bool { return on }), func(b *Builder) {
		b.WithObservability(&o11y.Config{MetricsProvider: metrics}).
			OnRendererResponse(func(ctx *Context, msg playground.RendererResponse) error {
				return errors.New("nope")
			})
	})

	r.PostRendererRequest(context.Background(), playground.PingRenderersRequest())
	on = false
	r.PostRendererRequest(context.Background(), playground.PingRenderersRequest())
	transport.fire(playground.RendererChannel, rendererReadyEvent)

	assert.Equal(t, int64(1), metrics.counts[o11y.MetricRequestsPosted])
	assert.Equal(t, int64(1), metrics.counts[o11y.MetricRequestsSuppressed])
	assert.Equal(t, int64(1), metrics.counts[o11y.MetricMessagesDispatched])
	assert.Equal(t, int64(1), metrics.counts[o11y.MetricHandlerErrors])
}
