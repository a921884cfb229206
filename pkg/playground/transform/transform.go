// Package transform holds composable rewrites applied to bus messages before
// they reach a subscriber: topic filters, payload rewrites and jq queries.
package transform

import (
	"context"
	"strings"

	"github.com/amir-yaghoubi/mqttpattern"
)

// Message is a bus event as seen by a transform.
type Message struct {
	Topic   string
	Payload any
	Fields  map[string]string
}

// MessageTransformFunc rewrites, replaces or drops a message.
//
// Returning a nil message drops it. Returning false for the continue flag
// stops any later transform in the same pipeline from running.
type MessageTransformFunc func(ctx context.Context, msg *Message) (*Message, bool)

// SimpleMessageTransformFunc rewrites only the payload. Returning nil drops
// the message.
type SimpleMessageTransformFunc func(ctx context.Context, payload any, fields map[string]string) any

// ApplyTransforms runs msg through transforms in order. The result is nil
// when some transform dropped the message.
func ApplyTransforms(ctx context.Context, msg *Message, transforms []MessageTransformFunc) *Message {
	current := msg
	for _, transform := range transforms {
		next, cont := transform(ctx, current)
		current = next
		if current == nil || !cont {
			break
		}
	}
	return current
}

// ChainTransforms combines several transforms into one, so a pipeline can be
// reused as a single step.
func ChainTransforms(transforms ...MessageTransformFunc) MessageTransformFunc {
	return func(ctx context.Context, msg *Message) (*Message, bool) {
		current := msg
		for _, transform := range transforms {
			next, cont := transform(ctx, current)
			current = next
			if current == nil || !cont {
				return current, cont
			}
		}
		return current, true
	}
}

// DropTopicPattern drops messages whose topic matches an MQTT-style pattern,
// e.g. "renderer/fixtureStateChange/#".
func DropTopicPattern(pattern string) MessageTransformFunc {
	return func(ctx context.Context, msg *Message) (*Message, bool) {
		if mqttpattern.Matches(pattern, msg.Topic) {
			return nil, false
		}
		return msg, true
	}
}

// DropTopicPrefix drops messages whose topic starts with prefix. You
// probably want the prefix to end with a slash.
func DropTopicPrefix(prefix string) MessageTransformFunc {
	return func(ctx context.Context, msg *Message) (*Message, bool) {
		if strings.HasPrefix(msg.Topic, prefix) {
			return nil, false
		}
		return msg, true
	}
}

// KeepTopicPattern is the inverse of DropTopicPattern.
func KeepTopicPattern(pattern string) MessageTransformFunc {
	return func(ctx context.Context, msg *Message) (*Message, bool) {
		if !mqttpattern.Matches(pattern, msg.Topic) {
			return nil, false
		}
		return msg, true
	}
}

// AddTopicPrefix prepends prefix to every topic.
func AddTopicPrefix(prefix string) MessageTransformFunc {
	return func(ctx context.Context, msg *Message) (*Message, bool) {
		return &Message{
			Topic:   prefix + msg.Topic,
			Payload: msg.Payload,
			Fields:  msg.Fields,
		}, true
	}
}

// TransformOnPattern applies transform to the payload of messages matching
// pattern, passing it the fields the pattern extracts from the topic. Other
// messages pass through unchanged.
//
//	TransformOnPattern("renderer/+type", func(ctx context.Context, payload any, fields map[string]string) any {
//	    return map[string]any{"type": fields["type"], "message": payload}
//	})
func TransformOnPattern(pattern string, transform SimpleMessageTransformFunc) MessageTransformFunc {
	return func(ctx context.Context, msg *Message) (*Message, bool) {
		if !mqttpattern.Matches(pattern, msg.Topic) {
			return msg, true
		}

		payload := transform(ctx, msg.Payload, mqttpattern.Extract(pattern, msg.Topic))
		if payload == nil {
			return nil, true
		}

		return &Message{Topic: msg.Topic, Payload: payload, Fields: msg.Fields}, true
	}
}

// IfPattern applies transform only to messages whose topic matches pattern.
func IfPattern(pattern string, transform MessageTransformFunc) MessageTransformFunc {
	return func(ctx context.Context, msg *Message) (*Message, bool) {
		if mqttpattern.Matches(pattern, msg.Topic) {
			return transform(ctx, msg)
		}
		return msg, true
	}
}

// ModifyPayload applies transform to every payload.
func ModifyPayload(transform SimpleMessageTransformFunc) MessageTransformFunc {
	return func(ctx context.Context, msg *Message) (*Message, bool) {
		payload := transform(ctx, msg.Payload, msg.Fields)
		if payload == nil {
			return nil, true
		}
		return &Message{Topic: msg.Topic, Payload: payload, Fields: msg.Fields}, true
	}
}
