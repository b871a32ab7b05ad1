// Package events fans discrete coordination events out to registered
// subscribers. Delivery is fire-and-forget: a slow or failing
// subscriber can drop events but can never block or error into the
// publisher.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event is one discrete outbound notification.
type Event struct {
	Name      string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc consumes an event. Handlers run on their subscriber's
// own goroutine, never on the publisher's.
type HandlerFunc func(Event)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a subscription.
type Option func(*subConfig)

type subConfig struct {
	bufferSize int
	logged     bool
}

// Buffered sets the subscriber's queue size. Default is 64.
func Buffered(size int) Option {
	return func(c *subConfig) {
		c.bufferSize = size
	}
}

// Logged adds debug logging around the subscriber.
func Logged() Option {
	return func(c *subConfig) {
		c.logged = true
	}
}

type subscriber struct {
	name   string
	buffer chan Event
}

// Dispatcher routes published events to all subscribers.
type Dispatcher struct {
	logger Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	published metric.Int64Counter
	dropped   metric.Int64Counter

	mu          sync.RWMutex
	subscribers []*subscriber
}

// New creates a Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{logger: logger}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"events.queue.size",
		metric.WithDescription("Current number of events queued per subscriber"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for _, sub := range d.subscribers {
				o.ObserveInt64(d.queueSize, int64(len(sub.buffer)),
					metric.WithAttributes(attribute.String("subscriber", sub.name)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.published, err = m.Int64Counter(
		"events.published",
		metric.WithDescription("Total events published"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"events.dropped",
		metric.WithDescription("Total events dropped due to a full subscriber queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Subscribe registers a handler that receives every published event.
func (d *Dispatcher) Subscribe(name string, h HandlerFunc, opts ...Option) {
	cfg := &subConfig{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.logged {
		handler = d.withLogging(name, handler)
	}

	sub := &subscriber{
		name:   name,
		buffer: make(chan Event, cfg.bufferSize),
	}

	go func() {
		for e := range sub.buffer {
			handler(e)
		}
	}()

	d.mu.Lock()
	d.subscribers = append(d.subscribers, sub)
	d.mu.Unlock()
}

// Publish delivers the event to every subscriber without blocking.
// Events for saturated subscribers are dropped and counted.
func (d *Dispatcher) Publish(name string, payload any) {
	e := Event{Name: name, Payload: payload, Timestamp: time.Now()}

	d.mu.RLock()
	subs := d.subscribers
	d.mu.RUnlock()

	nameAttr := attribute.String("event", name)
	d.published.Add(context.Background(), 1, metric.WithAttributes(nameAttr))

	for _, sub := range subs {
		select {
		case sub.buffer <- e:
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(
				nameAttr, attribute.String("subscriber", sub.name)))
			if d.logger != nil {
				d.logger.Error("event dropped", "event", name, "subscriber", sub.name)
			}
		}
	}
}

func (d *Dispatcher) withLogging(name string, h HandlerFunc) HandlerFunc {
	return func(e Event) {
		start := time.Now()
		d.logger.Debug("delivering event", "subscriber", name, "event", e.Name)

		h(e)

		d.logger.Debug("event delivered", "subscriber", name, "event", e.Name, "duration", time.Since(start))
	}
}
