package playground

import (
	"context"
	"encoding/json"
)

// Handler receives the raw payload of one inbound event on a channel.
type Handler func(ctx context.Context, payload json.RawMessage)

// Transport is one logical connection to the dev server, split into named
// channels.
//
// Send is fire-and-forget: when the connection is not open the message is
// dropped without error, and nothing is queued across a disconnect. Every
// handler registered with On for a channel is invoked once per inbound
// event, in registration order.
type Transport interface {
	Send(ctx context.Context, channel string, msg any)
	On(channel string, handler Handler)
	Connected() bool
}

// Core is the host capability the router consults before sending.
type Core interface {
	IsDevServerOn() bool
}

// CoreFunc adapts a plain function to Core.
type CoreFunc func() bool

func (f CoreFunc) IsDevServerOn() bool {
	return f()
}

// StaticCore is a Core with a fixed answer.
type StaticCore bool

func (s StaticCore) IsDevServerOn() bool {
	return bool(s)
}
