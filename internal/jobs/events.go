package jobs

import (
	"sync"
	"time"

	"keypilot/internal/domain"
)

// EventType classifies notifications published by the orchestration core.
type EventType string

const (
	EventTypeHotkeyFired  EventType = "hotkey_fired"
	EventTypeJobStarted   EventType = "job_started"
	EventTypeJobFinished  EventType = "job_finished"
	EventTypeJobCancelled EventType = "job_cancelled"
	EventTypeJobFailed    EventType = "job_failed"
	EventTypeStepFailed   EventType = "step_failed"
)

// Event is a sequenced payload consumed by UI and API subscribers.
type Event struct {
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Type      EventType        `json:"type"`
	Job       string           `json:"job,omitempty"`
	RunID     string           `json:"runId,omitempty"`
	Hotkey    string           `json:"hotkey,omitempty"`
	Command   domain.Command   `json:"command,omitempty"`
	StepIndex *int             `json:"stepIndex,omitempty"`
	StepKind  domain.StepKind  `json:"stepKind,omitempty"`
	Status    domain.RunStatus `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// EventBus stores recent events, provides incremental reads and fans events
// out to subscribers.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event

	nextSub int
	subs    map[int]chan Event
	dropped int64
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]chan Event),
	}
}

// Publish appends one event, assigns sequence and timestamp, and offers it to
// every subscriber. A subscriber whose buffer is full misses the event.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped++
		}
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe returns a buffered channel receiving future events and a function
// that unsubscribes and closes it.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Dropped reports how many subscriber deliveries were skipped.
func (b *EventBus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
