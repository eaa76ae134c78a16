// Package events delivers pattern lifecycle notifications: a buffered
// in-process bus and a NATS publisher.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// ErrBufferFull is returned by Bus when a subscriber is not keeping up.
var ErrBufferFull = errors.New("event buffer full")

// ErrClosed is returned after a sink has been closed.
var ErrClosed = errors.New("event sink closed")

// Type identifies an event.
type Type string

const (
	TypePatternCreated   Type = "pattern.created"
	TypePatternGraduated Type = "pattern.graduated"
)

// Event is the envelope published for every lifecycle notification.
type Event struct {
	Type       Type                     `json:"type"`
	Company    string                   `json:"company"`
	PatternID  string                   `json:"pattern_id"`
	OccurredAt time.Time                `json:"occurred_at"`
	Pattern    *pattern.Pattern         `json:"pattern,omitempty"`
	Graduation *pattern.GraduationEvent `json:"graduation,omitempty"`
}

// Sink receives both creation and graduation notifications.
type Sink interface {
	pattern.PatternCreatedSink
	pattern.GraduationNotifier
}

func createdEvent(p pattern.Pattern, now time.Time) Event {
	c := p.Clone()
	return Event{
		Type:       TypePatternCreated,
		Company:    p.Company,
		PatternID:  p.ID,
		OccurredAt: now,
		Pattern:    &c,
	}
}

func graduatedEvent(e pattern.GraduationEvent) Event {
	return Event{
		Type:       TypePatternGraduated,
		Company:    e.Company,
		PatternID:  e.PatternID,
		OccurredAt: e.GraduatedAt,
		Graduation: &e,
	}
}

// Fanout forwards every notification to each sink in order. All sinks are
// attempted; their errors are joined.
type Fanout []Sink

// PatternCreated implements pattern.PatternCreatedSink.
func (f Fanout) PatternCreated(ctx context.Context, p pattern.Pattern) error {
	var errs []error
	for _, s := range f {
		if err := s.PatternCreated(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PatternGraduated implements pattern.GraduationNotifier.
func (f Fanout) PatternGraduated(ctx context.Context, e pattern.GraduationEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.PatternGraduated(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
