// Package router connects the playground to renderers and the dev server.
//
// Outbound, PostRendererRequest forwards renderer requests to the transport
// on the renderer channel, unless the host reports the dev server as off.
// Inbound, every event on the renderer channel is handed to the registered
// renderer response handlers, and every event on the server channel to the
// server message handlers. The two paths never cross.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/bus"
	"github.com/tsarna/playground/pkg/playground/o11y"
	"go.uber.org/zap"
)

var ErrDispatchStarted = errors.New("handlers must be registered before the first message is dispatched")

// Context is the handle passed to handlers. It carries the dispatch
// context, the plugin bus (nil if none was configured), the router itself
// for follow-up requests, and a logger scoped to the message.
type Context struct {
	context.Context
	Bus    bus.Bus
	Router *Router
	Logger *zap.Logger
}

// RendererResponseHandler observes messages received from renderers.
type RendererResponseHandler func(ctx *Context, msg playground.RendererResponse) error

// ServerMessageHandler observes messages pushed by the dev server.
type ServerMessageHandler func(ctx *Context, msg playground.ServerMessage) error

// Router is stateless apart from its two handler lists. Connection state
// belongs to the transport and the host's Core.
type Router struct {
	transport   playground.Transport
	core        playground.Core
	bus         bus.Bus
	logger      *zap.Logger
	instruments *o11y.Instruments
	tracing     o11y.TracingProvider

	mu               sync.RWMutex
	rendererHandlers []RendererResponseHandler
	serverHandlers   []ServerMessageHandler
	dispatching      int32
}

// PostRendererRequest sends msg to renderers, unchanged, on the renderer
// channel. When the dev server is off nothing is sent at all. Delivery is
// best effort and no failure is ever reported.
func (r *Router) PostRendererRequest(ctx context.Context, msg playground.RendererRequest) {
	if ctx == nil {
		ctx = context.Background()
	}
	label := o11y.Label{Key: "type", Value: msg.Type}

	if !r.core.IsDevServerOn() {
		r.logger.Debug("Dev server is off, renderer request not sent", zap.String("type", msg.Type))
		r.instruments.Inc(ctx, o11y.MetricRequestsSuppressed, label)
		return
	}

	r.transport.Send(ctx, playground.RendererChannel, msg)
	r.instruments.Inc(ctx, o11y.MetricRequestsPosted, label)
}

// OnRendererResponse appends a renderer response handler. Handlers run in
// the order they were added.
func (r *Router) OnRendererResponse(handler RendererResponseHandler) error {
	if handler == nil {
		return fmt.Errorf("renderer response handler is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if atomic.LoadInt32(&r.dispatching) != 0 {
		return ErrDispatchStarted
	}
	r.rendererHandlers = append(r.rendererHandlers, handler)
	return nil
}

// OnServerMessage appends a server message handler. Handlers run in the
// order they were added.
func (r *Router) OnServerMessage(handler ServerMessageHandler) error {
	if handler == nil {
		return fmt.Errorf("server message handler is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if atomic.LoadInt32(&r.dispatching) != 0 {
		return ErrDispatchStarted
	}
	r.serverHandlers = append(r.serverHandlers, handler)
	return nil
}

// Bus returns the plugin bus handed to handlers, or nil.
func (r *Router) Bus() bus.Bus {
	return r.bus
}

// handleRenderer is registered on the transport's renderer channel.
func (r *Router) handleRenderer(ctx context.Context, payload json.RawMessage) {
	msgType, body, err := playground.ParseEnvelope(payload)
	if err != nil {
		r.logger.Debug("Ignoring renderer event", zap.Error(err))
		return
	}
	msg := playground.RendererResponse{Type: msgType, Payload: body, Raw: append(json.RawMessage(nil), payload...)}

	handlers := r.snapshotRenderer()
	r.dispatch(ctx, playground.RendererChannel, msgType, len(handlers), func(hctx *Context, i int) error {
		return handlers[i](hctx, msg)
	})
}

// handleServer is registered on the transport's server channel.
func (r *Router) handleServer(ctx context.Context, payload json.RawMessage) {
	msgType, body, err := playground.ParseEnvelope(payload)
	if err != nil {
		r.logger.Debug("Ignoring server event", zap.Error(err))
		return
	}
	msg := playground.ServerMessage{Type: msgType, Payload: body, Raw: append(json.RawMessage(nil), payload...)}

	handlers := r.snapshotServer()
	r.dispatch(ctx, playground.ServerChannel, msgType, len(handlers), func(hctx *Context, i int) error {
		return handlers[i](hctx, msg)
	})
}

func (r *Router) snapshotRenderer() []RendererResponseHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	atomic.StoreInt32(&r.dispatching, 1)
	return r.rendererHandlers
}

func (r *Router) snapshotServer() []ServerMessageHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	atomic.StoreInt32(&r.dispatching, 1)
	return r.serverHandlers
}

// dispatch calls count handlers in order. Each call is isolated: an error
// or a panic is logged and counted, and the next handler still runs.
func (r *Router) dispatch(ctx context.Context, channel, msgType string, count int, call func(*Context, int) error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var span o11y.Span
	if r.tracing != nil {
		ctx, span = r.tracing.StartSpan(ctx, "router.dispatch")
		defer span.End()
		span.SetAttributes(
			o11y.Label{Key: "channel", Value: channel},
			o11y.Label{Key: "type", Value: msgType},
		)
	}

	start := time.Now()
	labels := []o11y.Label{{Key: "channel", Value: channel}, {Key: "type", Value: msgType}}
	r.instruments.Inc(ctx, o11y.MetricMessagesDispatched, labels...)

	hctx := &Context{
		Context: ctx,
		Bus:     r.bus,
		Router:  r,
		Logger:  r.logger.With(zap.String("channel", channel), zap.String("type", msgType)),
	}

	failed := 0
	for i := 0; i < count; i++ {
		if !r.invoke(hctx, i, call) {
			failed++
		}
	}

	r.instruments.Observe(ctx, o11y.MetricDispatchDuration, time.Since(start).Seconds(), labels...)
	if span != nil {
		if failed > 0 {
			span.SetStatus(o11y.SpanStatusError, fmt.Sprintf("%d handler(s) failed", failed))
		} else {
			span.SetStatus(o11y.SpanStatusOK, "")
		}
	}
}

func (r *Router) invoke(hctx *Context, i int, call func(*Context, int) error) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			hctx.Logger.Error("Handler panicked",
				zap.Int("handler", i),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			r.instruments.Inc(hctx, o11y.MetricHandlerErrors, o11y.Label{Key: "kind", Value: "panic"})
			ok = false
		}
	}()

	if err := call(hctx, i); err != nil {
		hctx.Logger.Warn("Handler failed", zap.Int("handler", i), zap.Error(err))
		r.instruments.Inc(hctx, o11y.MetricHandlerErrors, o11y.Label{Key: "kind", Value: "error"})
		return false
	}
	return true
}
