package events

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// DefaultBufferSize is the Bus capacity when none is given.
const DefaultBufferSize = 256

// Bus is a buffered in-process Sink. Sends never block: when the buffer is
// full the event is dropped and ErrBufferFull returned.
type Bus struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
	clock  pattern.Clock
}

// NewBus creates a bus holding up to size undelivered events.
func NewBus(size int, clock pattern.Clock) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if clock == nil {
		clock = pattern.SystemClock{}
	}
	return &Bus{ch: make(chan Event, size), clock: clock}
}

// Events returns the receive side. It is closed by Close.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// PatternCreated implements pattern.PatternCreatedSink.
func (b *Bus) PatternCreated(ctx context.Context, p pattern.Pattern) error {
	return b.send(createdEvent(p, b.clock.Now()))
}

// PatternGraduated implements pattern.GraduationNotifier.
func (b *Bus) PatternGraduated(ctx context.Context, e pattern.GraduationEvent) error {
	return b.send(graduatedEvent(e))
}

func (b *Bus) send(e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.ch <- e:
		eventsTotal.WithLabelValues("bus", string(e.Type), "ok").Inc()
		return nil
	default:
		eventsTotal.WithLabelValues("bus", string(e.Type), "dropped").Inc()
		return ErrBufferFull
	}
}

// Close stops accepting events and closes the channel. Safe to call twice.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}

var _ Sink = (*Bus)(nil)
