package router

import (
	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/bus"
)

// PublishRendererResponse is a handler that republishes every renderer
// response on the plugin bus, under bus.RendererTopic(msg.Type). Publishing
// is asynchronous so that slow subscribers do not hold up the transport.
func PublishRendererResponse(ctx *Context, msg playground.RendererResponse) error {
	if ctx.Bus == nil {
		return nil
	}
	return ctx.Bus.Publish(ctx, bus.RendererTopic(msg.Type), msg)
}

// PublishServerMessage republishes every server message on the plugin bus,
// under bus.ServerTopic(msg.Type).
func PublishServerMessage(ctx *Context, msg playground.ServerMessage) error {
	if ctx.Bus == nil {
		return nil
	}
	return ctx.Bus.Publish(ctx, bus.ServerTopic(msg.Type), msg)
}
