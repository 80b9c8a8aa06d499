// Package export mirrors message bus topics to an external event log.
//
// An [Exporter] subscribes to a set of bus topics and writes every event it
// sees to a [Sink], keyed by topic, using the bus wire encoding. Export is
// best-effort: a failed write is logged and counted, and never reaches the
// publisher.
package export

import (
	"context"
	"slices"
	"sync"

	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// SubscriberID is the id the exporter subscribes to bus topics under.
const SubscriberID = "exporter"

// ErrSinkClosed is returned when writing to a closed sink.
var ErrSinkClosed = errors.New("export: sink closed")

// Sink receives exported events.
type Sink interface {
	Write(ctx context.Context, key string, value []byte) error
	Close() error
}

// Stats counts export outcomes.
type Stats struct {
	Exported int
	Failed   int
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the exporter logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// Exporter forwards bus topic events to a Sink.
type Exporter struct {
	bus    *bus.Bus
	sink   Sink
	topics []string
	logger *logging.Logger

	mu      sync.Mutex
	started bool
	stats   Stats
}

// New creates an Exporter for topics. Nothing is subscribed until Start.
func New(b *bus.Bus, sink Sink, topics []string, opts ...Option) (*Exporter, error) {
	if b == nil {
		return nil, errors.New("export: Bus is required")
	}
	if sink == nil {
		return nil, errors.New("export: Sink is required")
	}
	if len(topics) == 0 {
		return nil, errors.NewValidationError("at least one topic is required").WithField("topics")
	}

	e := &Exporter{
		bus:    b,
		sink:   sink,
		topics: slices.Compact(slices.Sorted(slices.Values(topics))),
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("export")
	return e, nil
}

// Topics returns the exported bus topics, sorted.
func (e *Exporter) Topics() []string {
	return slices.Clone(e.topics)
}

// Start subscribes to every topic. Calling Start twice is a no-op.
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}
	for i, topic := range e.topics {
		if err := e.bus.Subscribe(topic, SubscriberID, e.handler(topic)); err != nil {
			for _, done := range e.topics[:i] {
				e.bus.Unsubscribe(done, SubscriberID)
			}
			return err
		}
	}
	e.started = true
	e.logger.Info("export started", "topics", e.topics)
	return nil
}

// Stop unsubscribes from every topic and closes the sink.
func (e *Exporter) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return e.sink.Close()
	}
	for _, topic := range e.topics {
		e.bus.Unsubscribe(topic, SubscriberID)
	}
	e.started = false
	stats := e.stats
	e.mu.Unlock()

	e.logger.Info("export stopped", "exported", stats.Exported, "failed", stats.Failed)
	return e.sink.Close()
}

// Stats returns the export counters.
func (e *Exporter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Exporter) handler(topic string) bus.Handler {
	return func(ctx context.Context, msg bus.Message) error {
		data, err := bus.Encode(msg)
		if err == nil {
			err = e.sink.Write(ctx, topic, data)
		}

		e.mu.Lock()
		if err != nil {
			e.stats.Failed++
		} else {
			e.stats.Exported++
		}
		e.mu.Unlock()

		if err != nil {
			e.logger.Warn("event not exported", "topic", topic, "message_id", msg.ID, "error", err.Error())
		}
		return nil
	}
}
