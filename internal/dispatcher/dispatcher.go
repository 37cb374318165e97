package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrClosed is returned by Dispatch once the dispatcher has been closed.
var ErrClosed = errors.New("dispatcher closed")

// Event is one payload delivered to a topic, typically a sensor frame.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size, drained
// by a dedicated goroutine.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type route struct {
	handle HandlerFunc
	buffer chan Event
	done   chan struct{}
}

// Dispatcher routes events to registered topic handlers.
type Dispatcher struct {
	logger Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	mu     sync.RWMutex
	routes map[string]*route
	closed bool
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		routes: make(map[string]*route),
		logger: logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			for topic, n := range d.QueueSizes() {
				o.ObserveInt64(d.queueSize, int64(n),
					metric.WithAttributes(attribute.String("topic", topic)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given topic with optional configuration.
// Registering an existing topic first unregisters the previous handler.
func (d *Dispatcher) Register(topic string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	if d.HasHandler(topic) {
		d.Unregister(topic)
	}

	handler := h
	if cfg.logged {
		handler = d.withLogging(topic, handler)
	}

	r := &route{}
	if cfg.bufferSize > 0 {
		r.buffer = make(chan Event, cfg.bufferSize)
		r.done = make(chan struct{})
		go d.drain(topic, r.buffer, r.done, handler)
		r.handle = d.enqueue(topic, r.buffer, cfg.blocking)
	} else {
		r.handle = handler
	}

	d.mu.Lock()
	d.routes[topic] = r
	d.mu.Unlock()
}

// Unregister removes the topic's handler. For buffered topics it stops
// accepting events and blocks until every queued event has been handled.
func (d *Dispatcher) Unregister(topic string) bool {
	d.mu.Lock()
	r, ok := d.routes[topic]
	if ok {
		delete(d.routes, topic)
		if r.buffer != nil {
			close(r.buffer)
		}
	}
	d.mu.Unlock()

	if ok && r.done != nil {
		<-r.done
	}
	return ok
}

// Close unregisters every topic, draining buffered ones, and rejects any
// later Dispatch.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	topics := make([]string, 0, len(d.routes))
	for topic := range d.routes {
		topics = append(topics, topic)
	}
	d.mu.Unlock()

	for _, topic := range topics {
		d.Unregister(topic)
	}
}

// Dispatch routes an event to its registered handler. A blocking buffered
// topic holds the read lock while waiting for queue space, so Unregister
// never closes a channel with a send in flight.
func (d *Dispatcher) Dispatch(e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	r, ok := d.routes[e.Topic]
	if !ok {
		return fmt.Errorf("unknown topic: %s", e.Topic)
	}
	return r.handle(e)
}

// HasHandler returns true if a handler is registered for the topic.
func (d *Dispatcher) HasHandler(topic string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[topic]
	return ok
}

// QueueSizes returns the number of pending events per buffered topic.
func (d *Dispatcher) QueueSizes() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sizes := make(map[string]int, len(d.routes))
	for topic, r := range d.routes {
		if r.buffer != nil {
			sizes[topic] = len(r.buffer)
		}
	}
	return sizes
}

func (d *Dispatcher) drain(topic string, buffer <-chan Event, done chan<- struct{}, h HandlerFunc) {
	defer close(done)
	topicAttr := metric.WithAttributes(attribute.String("topic", topic))
	for e := range buffer {
		_ = h(e)
		d.processed.Add(context.Background(), 1, topicAttr)
	}
}

func (d *Dispatcher) enqueue(topic string, buffer chan<- Event, blocking bool) HandlerFunc {
	topicAttr := metric.WithAttributes(attribute.String("topic", topic))

	if blocking {
		return func(e Event) error {
			buffer <- e
			return nil
		}
	}

	return func(e Event) error {
		select {
		case buffer <- e:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, topicAttr)
			return fmt.Errorf("queue full: %s", topic)
		}
	}
}

func (d *Dispatcher) withLogging(topic string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling event", "topic", topic, "age", start.Sub(e.Timestamp))

		err := h(e)

		if err != nil {
			d.logger.Error("event failed", "topic", topic, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "topic", topic, "duration", time.Since(start))
		}

		return err
	}
}
