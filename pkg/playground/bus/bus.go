// Package bus is the in-process publish/subscribe bus that playground
// plugins use to observe routed messages. All subscriber callbacks run on a
// single goroutine, in publish order.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/tsarna/playground/pkg/playground/o11y"
	"go.uber.org/zap"
)

var (
	ErrNotStarted  = errors.New("bus not started")
	ErrStopped     = errors.New("bus stopped")
	ErrChannelFull = errors.New("bus channel full")
)

// Topic prefixes for messages republished from the router.
const (
	RendererTopicPrefix = "renderer/"
	ServerTopicPrefix   = "server/"
)

// RendererTopic is the topic a renderer response of msgType is published on.
func RendererTopic(msgType string) string {
	return RendererTopicPrefix + msgType
}

// ServerTopic is the topic a server message of msgType is published on.
func ServerTopic(msgType string) string {
	return ServerTopicPrefix + msgType
}

// Subscriber receives events whose topic matches one of its patterns.
// Fields holds the values extracted by named wildcards such as "+type".
// Implementations must be comparable; pointer receivers are the norm.
type Subscriber interface {
	OnEvent(ctx context.Context, topic string, message any, fields map[string]string) error
}

// EventFunc is the signature of a function subscriber.
type EventFunc func(ctx context.Context, topic string, message any, fields map[string]string) error

type funcSubscriber struct {
	fn EventFunc
}

// SubscriberFunc wraps fn in a Subscriber. Subscribers are compared by
// identity, so keep the returned value to unsubscribe later.
func SubscriberFunc(fn EventFunc) Subscriber {
	return &funcSubscriber{fn: fn}
}

func (f *funcSubscriber) OnEvent(ctx context.Context, topic string, message any, fields map[string]string) error {
	return f.fn(ctx, topic, message, fields)
}

// Bus is the plugin bus handed to router handlers.
type Bus interface {
	Start() error
	Stop() error

	Subscribe(ctx context.Context, subscriber Subscriber, pattern string) error
	Unsubscribe(ctx context.Context, subscriber Subscriber, pattern string) error
	UnsubscribeAll(ctx context.Context, subscriber Subscriber) error

	Publish(ctx context.Context, topic string, payload any) error
	PublishSync(ctx context.Context, topic string, payload any) error
}

type opType int

const (
	opEvent opType = iota
	opEventSync
	opSubscribe
	opUnsubscribe
	opUnsubscribeAll
)

type busOp struct {
	ctx        context.Context
	op         opType
	topic      string
	payload    any
	subscriber Subscriber
	responseCh chan error
}

type matcher func(topic string) (bool, map[string]string)

type subscription struct {
	subscriber Subscriber
	pattern    string
	match      matcher
}

// eventBus keeps its subscription list private to the processing
// goroutine; everything else talks to it through ch.
type eventBus struct {
	name    string
	ch      chan busOp
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started int32
	logger  *zap.Logger

	subscriptions []subscription

	instruments *o11y.Instruments
	tracing     o11y.TracingProvider
}

func makeMatcher(pattern string) matcher {
	if mqttpattern.HasExtractions(pattern) {
		return func(topic string) (bool, map[string]string) {
			if mqttpattern.Matches(pattern, topic) {
				return true, mqttpattern.Extract(pattern, topic)
			}
			return false, nil
		}
	}

	if !strings.ContainsAny(pattern, "+#") {
		return func(topic string) (bool, map[string]string) {
			return topic == pattern, nil
		}
	}

	return func(topic string) (bool, map[string]string) {
		return mqttpattern.Matches(pattern, topic), nil
	}
}

// Start begins the processing goroutine.
func (b *eventBus) Start() error {
	if !atomic.CompareAndSwapInt32(&b.started, 0, 1) {
		return fmt.Errorf("bus %s already started", b.name)
	}

	b.wg.Add(1)
	go b.loop()

	return nil
}

// Stop ends the processing goroutine. Queued operations are discarded.
func (b *eventBus) Stop() error {
	if !atomic.CompareAndSwapInt32(&b.started, 1, 0) {
		return ErrNotStarted
	}

	b.cancel()
	b.wg.Wait()

	b.logger.Info("Bus stopped")
	return nil
}

func (b *eventBus) loop() {
	defer b.wg.Done()
	b.logger.Debug("Bus started")

	for {
		select {
		case op := <-b.ch:
			b.handle(op)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *eventBus) handle(op busOp) {
	switch op.op {
	case opEvent:
		if err := b.deliver(op); err != nil {
			b.logger.Error("Error delivering event", zap.String("topic", op.topic), zap.Error(err))
		}
	case opEventSync:
		op.responseCh <- b.deliver(op)
	case opSubscribe:
		b.subscriptions = append(b.subscriptions, subscription{
			subscriber: op.subscriber,
			pattern:    op.topic,
			match:      makeMatcher(op.topic),
		})
		b.instruments.Set(op.ctx, o11y.MetricBusSubscribers, float64(len(b.subscriptions)))
		op.responseCh <- nil
	case opUnsubscribe, opUnsubscribeAll:
		kept := b.subscriptions[:0]
		for _, sub := range b.subscriptions {
			if sub.subscriber == op.subscriber && (op.op == opUnsubscribeAll || sub.pattern == op.topic) {
				continue
			}
			kept = append(kept, sub)
		}
		b.subscriptions = kept
		b.instruments.Set(op.ctx, o11y.MetricBusSubscribers, float64(len(b.subscriptions)))
		op.responseCh <- nil
	}
}

// deliver calls every matching subscription in subscription order. A
// subscriber subscribed with several matching patterns receives the event
// once. The first subscriber error is returned; later ones are logged.
func (b *eventBus) deliver(op busOp) error {
	var firstErr error
	delivered := make(map[Subscriber]struct{})

	for _, sub := range b.subscriptions {
		if _, done := delivered[sub.subscriber]; done {
			continue
		}
		ok, fields := sub.match(op.topic)
		if !ok {
			continue
		}
		delivered[sub.subscriber] = struct{}{}

		if err := sub.subscriber.OnEvent(op.ctx, op.topic, op.payload, fields); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				b.logger.Error("Error in OnEvent", zap.String("topic", op.topic), zap.Error(err))
			}
		}
	}

	return firstErr
}

func (b *eventBus) Publish(ctx context.Context, topic string, payload any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	b.instruments.Inc(ctx, o11y.MetricBusPublished, o11y.Label{Key: "topic", Value: topic})

	return b.accept(busOp{ctx: ctx, op: opEvent, topic: topic, payload: payload})
}

func (b *eventBus) PublishSync(ctx context.Context, topic string, payload any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var span o11y.Span
	if b.tracing != nil {
		ctx, span = b.tracing.StartSpan(ctx, "bus.publish_sync")
		defer span.End()
		span.SetAttributes(o11y.Label{Key: "topic", Value: topic})
	}

	start := time.Now()
	b.instruments.Inc(ctx, o11y.MetricBusPublished, o11y.Label{Key: "topic", Value: topic})

	err := b.request(busOp{ctx: ctx, op: opEventSync, topic: topic, payload: payload})

	b.instruments.Observe(ctx, o11y.MetricDispatchDuration, time.Since(start).Seconds(), o11y.Label{Key: "topic", Value: topic})
	if span != nil {
		if err != nil {
			span.SetStatus(o11y.SpanStatusError, err.Error())
		} else {
			span.SetStatus(o11y.SpanStatusOK, "")
		}
	}

	return err
}

func (b *eventBus) Subscribe(ctx context.Context, subscriber Subscriber, pattern string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return b.request(busOp{ctx: ctx, op: opSubscribe, topic: pattern, subscriber: subscriber})
}

func (b *eventBus) Unsubscribe(ctx context.Context, subscriber Subscriber, pattern string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return b.request(busOp{ctx: ctx, op: opUnsubscribe, topic: pattern, subscriber: subscriber})
}

func (b *eventBus) UnsubscribeAll(ctx context.Context, subscriber Subscriber) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return b.request(busOp{ctx: ctx, op: opUnsubscribeAll, subscriber: subscriber})
}

// accept queues an operation without waiting for it.
func (b *eventBus) accept(op busOp) error {
	if atomic.LoadInt32(&b.started) == 0 {
		b.logger.Warn("Bus not started, message ignored", zap.String("topic", op.topic))
		return ErrNotStarted
	}

	select {
	case b.ch <- op:
		return nil
	case <-b.ctx.Done():
		return ErrStopped
	default:
		b.logger.Warn("Bus channel full, message dropped", zap.String("topic", op.topic))
		return ErrChannelFull
	}
}

// request queues an operation and waits for the processing goroutine to
// answer it.
func (b *eventBus) request(op busOp) error {
	op.responseCh = make(chan error, 1)
	if err := b.accept(op); err != nil {
		return err
	}

	select {
	case err := <-op.responseCh:
		return err
	case <-b.ctx.Done():
		return ErrStopped
	case <-op.ctx.Done():
		return op.ctx.Err()
	}
}
