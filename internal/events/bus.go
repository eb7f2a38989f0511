// Package events fans engine and process status events out to subscribers
// and, optionally, to NATS.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/naturalspeech/naturalspeech/tts"
)

const defaultBuffer = 256

// Handler receives events on the bus goroutine.
type Handler func(tts.Event)

// Bus is an asynchronous tts.EventSink. Events are delivered in posting
// order on a single goroutine, so handlers may call back into engines.
type Bus struct {
	logger *log.Logger
	events chan tts.Event

	mu     sync.RWMutex
	closed bool
	nextID int
	subs   map[int]subscription

	dropped atomic.Int64
	done    chan struct{}
}

type subscription struct {
	topic   string
	handler Handler
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBuffer sets how many events may wait for delivery before Post drops
// them.
func WithBuffer(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.events = make(chan tts.Event, n)
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l *log.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// NewBus starts a bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		events: make(chan tts.Event, defaultBuffer),
		subs:   make(map[int]subscription),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.Default().WithPrefix("events")
	}
	go b.run()
	return b
}

// Subscribe calls h for every event. The returned func removes it.
func (b *Bus) Subscribe(h Handler) func() {
	return b.SubscribeTopic("", h)
}

// SubscribeTopic calls h for events whose Topic is topic; an empty topic
// matches all.
func (b *Bus) SubscribeTopic(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{topic: topic, handler: h}
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Post implements tts.EventSink. It never blocks; events that do not fit
// in the buffer are dropped.
func (b *Bus) Post(e tts.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.events <- e:
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event dropped", "event", e)
	}
}

// Dropped returns how many events did not fit in the buffer.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) run() {
	defer close(b.done)
	for e := range b.events {
		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.subs))
		for _, s := range b.subs {
			if s.topic == "" || s.topic == e.Topic() {
				handlers = append(handlers, s.handler)
			}
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			h(e)
		}
	}
}

// Close delivers the events already posted and stops the bus.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()
	<-b.done
}

// LogHandler logs every event at info level, crashes at error level.
func LogHandler(l *log.Logger) Handler {
	return func(e tts.Event) {
		switch ev := e.(type) {
		case tts.EngineEvent:
			if ev.Kind == tts.EngineCrashed || ev.Kind == tts.EngineStartCrashed {
				l.Error("Engine event", "engine", ev.Engine, "kind", ev.Kind, "err", ev.Error)
				return
			}
			l.Info("Engine event", "engine", ev.Engine, "kind", ev.Kind)
		case tts.ProcessEvent:
			if ev.Kind == tts.ProcessCrashed {
				l.Error("Process event", "model", ev.Model, "pid", ev.PID, "kind", ev.Kind)
				return
			}
			l.Debug("Process event", "model", ev.Model, "pid", ev.PID, "kind", ev.Kind)
		default:
			l.Info("Event", "topic", e.Topic(), "event", e)
		}
	}
}
