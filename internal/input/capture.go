// Package input turns the raw OS event stream into hotkey matches, captured
// key combinations and macro recordings.
package input

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keypilot/internal/domain"
)

// JitterFloor is the smallest gap recorded as a timeout. Shorter gaps are
// carried into the next one.
const JitterFloor = 500 * time.Microsecond

// Mode is the capture state. Exactly one mode is active at a time.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeCapture
	ModeRecording
)

// String returns the mode name for logs.
func (m Mode) String() string {
	switch m {
	case ModeCapture:
		return "capture"
	case ModeRecording:
		return "recording"
	default:
		return "normal"
	}
}

// Options configures a Capture.
type Options struct {
	// MoveThreshold is the pointer displacement, in pixels, a mouse move must
	// exceed to be recorded.
	MoveThreshold int
	// Sampler reads modifier state at match time. Defaults to EventModifiers.
	Sampler ModifierSampler
	// OnMatch receives every non-modifier key-down edge in normal mode. It runs
	// on the hook goroutine and must not block.
	OnMatch func(domain.Combo)
	// Now stamps events that carry no timestamp.
	Now func() time.Time
}

type recording struct {
	events []domain.CapturedInputEvent
	mark   time.Time
	lastX  int
	lastY  int
	hasPos bool
}

// Capture is the input mode machine. HandleEvent is called from a single
// goroutine; the request methods may be called from any goroutine.
type Capture struct {
	moveThreshold int
	sampler       ModifierSampler
	onMatch       func(domain.Combo)
	now           func() time.Time

	mu      sync.Mutex
	mode    Mode
	held    map[domain.KeyCode]struct{}
	pending chan domain.Combo
	rec     *recording
}

// NewCapture creates a Capture in normal mode.
func NewCapture(opts Options) *Capture {
	if opts.Sampler == nil {
		opts.Sampler = EventModifiers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MoveThreshold < 0 {
		opts.MoveThreshold = 0
	}
	return &Capture{
		moveThreshold: opts.MoveThreshold,
		sampler:       opts.Sampler,
		onMatch:       opts.OnMatch,
		now:           opts.Now,
		held:          make(map[domain.KeyCode]struct{}),
	}
}

// Mode returns the current mode.
func (c *Capture) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// RequestCapture waits for the next non-modifier key-down edge and returns it
// with the sampled modifiers. The event is swallowed.
func (c *Capture) RequestCapture(ctx context.Context) (domain.Combo, error) {
	c.mu.Lock()
	switch c.mode {
	case ModeCapture:
		c.mu.Unlock()
		return domain.Combo{}, ErrAlreadyCapturing
	case ModeRecording:
		c.mu.Unlock()
		return domain.Combo{}, ErrAlreadyRecording
	}
	pending := make(chan domain.Combo, 1)
	c.pending = pending
	c.mode = ModeCapture
	c.mu.Unlock()

	select {
	case combo := <-pending:
		return combo, nil
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending == pending {
			c.pending = nil
			c.mode = ModeNormal
		}
		c.mu.Unlock()
		// The edge may have resolved the request while ctx was ending.
		select {
		case combo := <-pending:
			return combo, nil
		default:
		}
		return domain.Combo{}, ctx.Err()
	}
}

// StartRecording begins a new recording session.
func (c *Capture) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case ModeRecording:
		return ErrAlreadyRecording
	case ModeCapture:
		return ErrAlreadyCapturing
	}
	c.mode = ModeRecording
	c.rec = &recording{mark: c.now()}
	return nil
}

// StopRecording ends the session and returns the recorded events in order.
func (c *Capture) StopRecording() ([]domain.CapturedInputEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeRecording || c.rec == nil {
		return nil, ErrNotRecording
	}
	events := c.rec.events
	c.rec = nil
	c.mode = ModeNormal
	if events == nil {
		events = []domain.CapturedInputEvent{}
	}
	return events, nil
}

// Run installs the source subscription and feeds every event through
// HandleEvent until ctx ends.
func (c *Capture) Run(ctx context.Context, src Source) error {
	events, err := c.Install(ctx, src)
	if err != nil {
		return err
	}
	return c.Consume(ctx, events)
}

// Install subscribes to src. A failure here is fatal for the caller: there is
// no degraded mode without a hook.
func (c *Capture) Install(ctx context.Context, src Source) (<-chan Event, error) {
	events, err := src.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHookUnavailable, err)
	}
	slog.InfoContext(ctx, "input hook installed")
	return events, nil
}

// Consume feeds events through HandleEvent until ctx ends or the stream
// closes.
func (c *Capture) Consume(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: event stream closed", ErrHookUnavailable)
			}
			c.HandleEvent(ev)
		}
	}
}

// HandleEvent processes one event. Panics are logged and swallowed so the
// hook keeps running.
func (c *Capture) HandleEvent(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("input event handler panicked", "panic", r, "kind", ev.Kind, "key", ev.Key)
		}
	}()

	if match, ok := c.process(ev); ok && c.onMatch != nil {
		c.onMatch(match)
	}
}

func (c *Capture) process(ev Event) (domain.Combo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.When.IsZero() {
		ev.When = c.now()
	}

	switch ev.Kind {
	case EventKeyDown:
		if _, held := c.held[ev.Key]; held {
			return domain.Combo{}, false
		}
		c.held[ev.Key] = struct{}{}
		return c.keyDown(ev)

	case EventKeyUp:
		delete(c.held, ev.Key)
		if c.mode == ModeRecording {
			c.record(ev.When, domain.CapturedInputEvent{Kind: domain.InputKeyUp, Key: ev.Key})
		}

	case EventMouseDown, EventMouseUp:
		if c.mode == ModeRecording {
			kind := domain.InputMouseDown
			if ev.Kind == EventMouseUp {
				kind = domain.InputMouseUp
			}
			c.record(ev.When, domain.CapturedInputEvent{Kind: kind, Button: ev.Button, X: ev.X, Y: ev.Y})
			c.rec.lastX, c.rec.lastY, c.rec.hasPos = ev.X, ev.Y, true
		}

	case EventMouseMove:
		if c.mode == ModeRecording && c.movedEnough(ev.X, ev.Y) {
			c.record(ev.When, domain.CapturedInputEvent{Kind: domain.InputMouseMove, X: ev.X, Y: ev.Y})
			c.rec.lastX, c.rec.lastY, c.rec.hasPos = ev.X, ev.Y, true
		}
	}
	return domain.Combo{}, false
}

func (c *Capture) keyDown(ev Event) (domain.Combo, bool) {
	switch c.mode {
	case ModeCapture:
		if ev.Key.IsModifier() {
			return domain.Combo{}, false
		}
		c.pending <- domain.Combo{Modifiers: c.sampler.Sample(ev), Key: ev.Key}
		c.pending = nil
		c.mode = ModeNormal
		return domain.Combo{}, false

	case ModeRecording:
		c.record(ev.When, domain.CapturedInputEvent{Kind: domain.InputKeyDown, Key: ev.Key})
		return domain.Combo{}, false

	default:
		if ev.Key.IsModifier() {
			return domain.Combo{}, false
		}
		return domain.Combo{Modifiers: c.sampler.Sample(ev), Key: ev.Key}, true
	}
}

func (c *Capture) record(at time.Time, ev domain.CapturedInputEvent) {
	if gap := at.Sub(c.rec.mark); gap > JitterFloor {
		c.rec.events = append(c.rec.events, domain.CapturedInputEvent{Kind: domain.InputTimeout, Delay: gap})
		c.rec.mark = at
	}
	c.rec.events = append(c.rec.events, ev)
}

func (c *Capture) movedEnough(x, y int) bool {
	if !c.rec.hasPos {
		return true
	}
	dx, dy := x-c.rec.lastX, y-c.rec.lastY
	return dx*dx+dy*dy > c.moveThreshold*c.moveThreshold
}
