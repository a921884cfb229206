package subutils

import (
	"context"

	"github.com/tsarna/playground/pkg/playground/bus"
	"github.com/tsarna/playground/pkg/playground/transform"
)

// TransformingSubscriber runs events through a transform pipeline before
// passing them to the wrapped subscriber. Events the pipeline drops never
// reach it.
//
//	jq, _ := transform.JqTransform(".payload.rendererId", logger)
//	sub := subutils.NewTransformingSubscriber(printer,
//	    transform.DropTopicPattern("renderer/fixtureStateChange/#"),
//	    jq,
//	)
type TransformingSubscriber struct {
	wrapped    bus.Subscriber
	transforms []transform.MessageTransformFunc
}

func NewTransformingSubscriber(wrapped bus.Subscriber, transforms ...transform.MessageTransformFunc) *TransformingSubscriber {
	return &TransformingSubscriber{
		wrapped:    wrapped,
		transforms: transforms,
	}
}

func (t *TransformingSubscriber) OnEvent(ctx context.Context, topic string, message any, fields map[string]string) error {
	if len(t.transforms) == 0 {
		return t.wrapped.OnEvent(ctx, topic, message, fields)
	}

	result := transform.ApplyTransforms(ctx, &transform.Message{Topic: topic, Payload: message, Fields: fields}, t.transforms)
	if result == nil {
		return nil
	}

	return t.wrapped.OnEvent(ctx, result.Topic, result.Payload, result.Fields)
}
