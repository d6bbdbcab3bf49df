// Package hookdev connects the input mode machine to the OS-wide keyboard and
// mouse hook provided by gohook.
package hookdev

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	hook "github.com/robotn/gohook"

	"keypilot/internal/domain"
	"keypilot/internal/input"
)

// DefaultReadyTimeout bounds how long Events waits for the hook to report
// that it is installed.
const DefaultReadyTimeout = 3 * time.Second

// libuiohook modifier mask bits.
const (
	maskShiftL uint16 = 1 << 0
	maskCtrlL  uint16 = 1 << 1
	maskMetaL  uint16 = 1 << 2
	maskAltL   uint16 = 1 << 3
	maskShiftR uint16 = 1 << 4
	maskCtrlR  uint16 = 1 << 5
	maskMetaR  uint16 = 1 << 6
	maskAltR   uint16 = 1 << 7
)

// libuiohook mouse event kinds. gohook names them after its own click model:
// MouseHold is the press, MouseDown the release.
const (
	kindMousePressed  = hook.MouseHold
	kindMouseReleased = hook.MouseDown
)

// Source streams translated gohook events. gohook keeps a single process-wide
// hook, so only one Source may be active at a time.
type Source struct {
	readyTimeout time.Duration
	start        func() chan hook.Event
	end          func()
}

// NewSource returns a Source backed by the real OS hook.
func NewSource() *Source {
	return &Source{readyTimeout: DefaultReadyTimeout, start: hook.Start, end: hook.End}
}

// NewSourceForTests builds a Source with injectable hook lifecycle functions.
func NewSourceForTests(start func() chan hook.Event, end func(), readyTimeout time.Duration) *Source {
	return &Source{readyTimeout: readyTimeout, start: start, end: end}
}

// Events installs the hook and waits until it reports itself enabled. The
// returned channel closes when ctx ends or the hook stops.
func (s *Source) Events(ctx context.Context) (<-chan input.Event, error) {
	raw := s.start()
	if err := s.waitReady(ctx, raw); err != nil {
		s.end()
		return nil, err
	}

	out := make(chan input.Event, 256)
	go func() {
		defer close(out)
		defer s.end()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-raw:
				if !ok {
					slog.Warn("input hook channel closed")
					return
				}
				translated, ok := Translate(ev)
				if !ok {
					continue
				}
				select {
				case out <- translated:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Source) waitReady(ctx context.Context, raw chan hook.Event) error {
	timer := time.NewTimer(s.readyTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("hook not enabled after %s", s.readyTimeout)
		case ev, ok := <-raw:
			if !ok {
				return fmt.Errorf("hook channel closed during startup")
			}
			if ev.Kind == hook.HookEnabled {
				return nil
			}
		}
	}
}

// Translate converts a gohook event. Typed-character, click, drag and wheel
// notifications are dropped.
func Translate(ev hook.Event) (input.Event, bool) {
	out := input.Event{
		Modifiers: MaskModifiers(ev.Mask),
		When:      ev.When,
	}

	switch ev.Kind {
	case hook.KeyHold:
		out.Kind = input.EventKeyDown
		out.Key = domain.KeyCode(ev.Keycode)
	case hook.KeyUp:
		out.Kind = input.EventKeyUp
		out.Key = domain.KeyCode(ev.Keycode)
	case kindMousePressed:
		out.Kind = input.EventMouseDown
		out.Button = mouseButton(ev.Button)
		out.X, out.Y = int(ev.X), int(ev.Y)
	case kindMouseReleased:
		out.Kind = input.EventMouseUp
		out.Button = mouseButton(ev.Button)
		out.X, out.Y = int(ev.X), int(ev.Y)
	case hook.MouseMove, hook.MouseDrag:
		out.Kind = input.EventMouseMove
		out.X, out.Y = int(ev.X), int(ev.Y)
	default:
		return input.Event{}, false
	}
	return out, true
}

// MaskModifiers collapses the left/right modifier mask bits.
func MaskModifiers(mask uint16) domain.Modifiers {
	var mods domain.Modifiers
	if mask&(maskCtrlL|maskCtrlR) != 0 {
		mods |= domain.ModCtrl
	}
	if mask&(maskShiftL|maskShiftR) != 0 {
		mods |= domain.ModShift
	}
	if mask&(maskAltL|maskAltR) != 0 {
		mods |= domain.ModAlt
	}
	if mask&(maskMetaL|maskMetaR) != 0 {
		mods |= domain.ModMeta
	}
	return mods
}

func mouseButton(b uint16) domain.MouseButton {
	switch b {
	case 1:
		return domain.MouseButtonLeft
	case 2:
		return domain.MouseButtonRight
	case 3:
		return domain.MouseButtonMiddle
	default:
		return domain.MouseButtonNone
	}
}
