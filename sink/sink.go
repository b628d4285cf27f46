// Package sink wires the scheduler's event fanout (scheduler.Listener) to
// the three broker integrations the teacher shipped for publishing tag
// activity: MQTT, Kafka, and Valkey/Redis. This is a supplemental feature —
// original_source has no equivalent — gated entirely behind the Sink
// interface so the CORE library never depends on a broker being reachable.
// The default, returned by Noop, drops everything.
//
// Grounded on mqtt/publisher.go, kafka/producer.go, and valkey/publisher.go
// in the teacher, generalized from "publish a tag value on change" to
// "publish a scheduler lifecycle event", since this module's scheduler
// fans out Events rather than polling tag values directly.
package sink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wartag/tagwire/config"
	"github.com/wartag/tagwire/scheduler"
)

// Message is the JSON envelope published to every broker for one
// scheduler.Event, analogous to the teacher's per-broker TagMessage
// structs but carrying a lifecycle event instead of a tag value.
type Message struct {
	Event     string `json:"event"`
	TagID     int32  `json:"tag_id"`
	Timestamp string `json:"timestamp"`
}

func newMessage(ev scheduler.Event) Message {
	return Message{
		Event:     ev.Kind.String(),
		TagID:     ev.TagID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Sink publishes one scheduler.Event. Implementations must tolerate
// concurrent calls and must not block indefinitely — see Listener, which
// enforces a bounded queue around whatever Publish does.
type Sink interface {
	Publish(ctx context.Context, ev scheduler.Event) error
	Close() error
}

// Noop discards every event. It is the zero-configuration default so a
// caller that never sets up a broker still gets a working Sink.
type Noop struct{}

func (Noop) Publish(context.Context, scheduler.Event) error { return nil }
func (Noop) Close() error                                   { return nil }

// Multi fans one event out to several sinks, publishing to every sink
// even after one fails and returning the first error that occurred.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev scheduler.Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// maxQueueDepth bounds the number of events buffered between the
// scheduler's synchronous fanout and a Sink's (possibly slow) Publish
// call, mirroring mqtt/publisher.go's MaxWriteQueueSize drop-on-overflow
// behavior rather than letting a stalled broker back up the scheduler.
const maxQueueDepth = 256

// Queued wraps a Sink in a single background worker reading from a bounded
// channel, turning its Publish into the non-blocking call
// scheduler.Listener requires (scheduler/events.go: "listeners must not
// block"). Events are dropped, not queued unbounded, when the sink can't
// keep up.
type Queued struct {
	sink    Sink
	queue   chan scheduler.Event
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped uint64
	dropMu  sync.Mutex
}

// NewQueued starts a background worker draining into sink and returns the
// wrapper; its Listener method gives the scheduler.Listener bound to it.
func NewQueued(s Sink) *Queued {
	q := &Queued{
		sink:  s,
		queue: make(chan scheduler.Event, maxQueueDepth),
		stop:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queued) run() {
	defer q.wg.Done()
	for {
		select {
		case ev := <-q.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			q.sink.Publish(ctx, ev)
			cancel()
		case <-q.stop:
			return
		}
	}
}

// Listener returns a scheduler.Listener that enqueues every Event for
// background publishing, dropping it if the queue is full.
func (q *Queued) Listener() scheduler.Listener {
	return func(ev scheduler.Event) {
		select {
		case q.queue <- ev:
		default:
			q.dropMu.Lock()
			q.dropped++
			q.dropMu.Unlock()
		}
	}
}

// Dropped returns the number of events discarded because the queue was
// full when Listener tried to enqueue them.
func (q *Queued) Dropped() uint64 {
	q.dropMu.Lock()
	defer q.dropMu.Unlock()
	return q.dropped
}

// Close stops the background worker and closes the underlying Sink.
func (q *Queued) Close() error {
	close(q.stop)
	q.wg.Wait()
	return q.sink.Close()
}

func marshal(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// New builds a Sink from cfg, connecting to every broker cfg enables and
// fanning out to all of them via Multi. A nil cfg, or one with nothing
// enabled, returns Noop{}.
func New(cfg *config.SinkConfig) (Sink, error) {
	if cfg == nil {
		return Noop{}, nil
	}

	var sinks Multi
	if cfg.MQTT != nil && cfg.MQTT.Enabled {
		s, err := NewMQTTSink(cfg.MQTT)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Kafka != nil && cfg.Kafka.Enabled {
		sinks = append(sinks, NewKafkaSink(cfg.Kafka))
	}
	if cfg.Redis != nil && cfg.Redis.Enabled {
		s, err := NewRedisSink(cfg.Redis)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		return Noop{}, nil
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}
