package subutils

import (
	"context"
	"errors"
	"sync"

	"github.com/tsarna/playground/pkg/playground/bus"
	"go.uber.org/zap"
)

var (
	ErrQueueFull        = errors.New("subscriber queue is full")
	ErrSubscriberClosed = errors.New("subscriber is closed")
)

const DefaultQueueSize = 100

type asyncEvent struct {
	ctx     context.Context
	topic   string
	message any
	fields  map[string]string
}

// AsyncQueueingSubscriber wraps another subscriber and hands events to it
// from a background goroutine, so the bus goroutine returns immediately.
// Events reach the wrapped subscriber in the order they were queued.
//
//	async := subutils.NewAsyncQueueingSubscriber(printer, 100).Start()
//	defer async.Close()
//	pluginBus.Subscribe(ctx, async, "renderer/#")
type AsyncQueueingSubscriber struct {
	wrapped   bus.Subscriber
	logger    *zap.Logger
	queue     chan asyncEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAsyncQueueingSubscriber creates a subscriber with a queue of queueSize
// events. A size of zero or less uses DefaultQueueSize. Call Start before
// subscribing it and Close when done.
func NewAsyncQueueingSubscriber(wrapped bus.Subscriber, queueSize int) *AsyncQueueingSubscriber {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &AsyncQueueingSubscriber{
		wrapped: wrapped,
		logger:  zap.NewNop(),
		queue:   make(chan asyncEvent, queueSize),
		done:    make(chan struct{}),
	}
}

// WithLogger sets the logger that errors from the wrapped subscriber are
// reported to, since nobody is waiting for them.
func (a *AsyncQueueingSubscriber) WithLogger(logger *zap.Logger) *AsyncQueueingSubscriber {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Start begins processing in a background goroutine.
func (a *AsyncQueueingSubscriber) Start() *AsyncQueueingSubscriber {
	a.wg.Add(1)
	go a.processQueue()
	return a
}

func (a *AsyncQueueingSubscriber) processQueue() {
	defer a.wg.Done()

	for {
		select {
		case event := <-a.queue:
			a.process(event)
		case <-a.done:
			a.drainQueue()
			return
		}
	}
}

func (a *AsyncQueueingSubscriber) drainQueue() {
	for {
		select {
		case event := <-a.queue:
			a.process(event)
		default:
			return
		}
	}
}

func (a *AsyncQueueingSubscriber) process(event asyncEvent) {
	if err := a.wrapped.OnEvent(event.ctx, event.topic, event.message, event.fields); err != nil {
		a.logger.Warn("Async subscriber failed to handle event",
			zap.String("topic", event.topic),
			zap.Error(err),
		)
	}
}

// OnEvent queues the event and returns immediately.
func (a *AsyncQueueingSubscriber) OnEvent(ctx context.Context, topic string, message any, fields map[string]string) error {
	if a.IsClosed() {
		return ErrSubscriberClosed
	}

	select {
	case a.queue <- asyncEvent{ctx: ctx, topic: topic, message: message, fields: fields}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events, processes what is still queued, and waits
// for the background goroutine to finish.
func (a *AsyncQueueingSubscriber) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

// QueueSize returns the number of events waiting.
func (a *AsyncQueueingSubscriber) QueueSize() int {
	return len(a.queue)
}

// QueueCapacity returns the maximum number of events that can wait.
func (a *AsyncQueueingSubscriber) QueueCapacity() int {
	return cap(a.queue)
}

// IsClosed reports whether Close has been called.
func (a *AsyncQueueingSubscriber) IsClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
