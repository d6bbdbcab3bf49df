package hookdev

import (
	"context"
	"errors"
	"testing"
	"time"

	hook "github.com/robotn/gohook"

	"keypilot/internal/domain"
	"keypilot/internal/input"
)

func TestTranslateKeyEvents(t *testing.T) {
	now := time.Now()
	down, ok := Translate(hook.Event{Kind: hook.KeyHold, Keycode: 0x003F, Mask: maskCtrlR | maskShiftL, When: now})
	if !ok {
		t.Fatal("expected key press to translate")
	}
	if down.Kind != input.EventKeyDown || down.Key != 0x003F || !down.When.Equal(now) {
		t.Fatalf("unexpected event: %+v", down)
	}
	if down.Modifiers != domain.ModCtrl|domain.ModShift {
		t.Fatalf("modifiers = %s", down.Modifiers)
	}

	up, ok := Translate(hook.Event{Kind: hook.KeyUp, Keycode: 0x003F})
	if !ok || up.Kind != input.EventKeyUp {
		t.Fatalf("unexpected release: %+v, %v", up, ok)
	}

	if _, ok := Translate(hook.Event{Kind: hook.KeyDown, Keychar: 'a'}); ok {
		t.Fatal("typed-character events must be dropped")
	}
}

func TestTranslateMouseEvents(t *testing.T) {
	press, ok := Translate(hook.Event{Kind: hook.MouseHold, Button: 2, X: 100, Y: 200})
	if !ok || press.Kind != input.EventMouseDown || press.Button != domain.MouseButtonRight || press.X != 100 || press.Y != 200 {
		t.Fatalf("unexpected press: %+v, %v", press, ok)
	}
	release, ok := Translate(hook.Event{Kind: hook.MouseDown, Button: 1})
	if !ok || release.Kind != input.EventMouseUp || release.Button != domain.MouseButtonLeft {
		t.Fatalf("unexpected release: %+v, %v", release, ok)
	}
	move, ok := Translate(hook.Event{Kind: hook.MouseDrag, X: 5, Y: 6})
	if !ok || move.Kind != input.EventMouseMove {
		t.Fatalf("unexpected drag: %+v, %v", move, ok)
	}
	if _, ok := Translate(hook.Event{Kind: hook.MouseWheel}); ok {
		t.Fatal("wheel events must be dropped")
	}
}

func TestParseBindingRoundTrip(t *testing.T) {
	combo, err := ParseBinding("Ctrl+Shift+F5")
	if err != nil {
		t.Fatalf("ParseBinding() error = %v", err)
	}
	if combo.Modifiers != domain.ModCtrl|domain.ModShift {
		t.Fatalf("modifiers = %s", combo.Modifiers)
	}
	if want := domain.KeyCode(hook.Keycode["f5"]); combo.Key != want {
		t.Fatalf("key = 0x%X, want 0x%X", combo.Key, want)
	}
	if got := FormatCombo(combo); got != "Ctrl+Shift+F5" {
		t.Fatalf("FormatCombo() = %q", got)
	}
}

func TestParseBindingRejectsInvalid(t *testing.T) {
	for _, text := range []string{"", "Ctrl+", "Ctrl+Shift", "Hyper+F5", "Ctrl+nosuchkey"} {
		if _, err := ParseBinding(text); err == nil {
			t.Errorf("ParseBinding(%q) succeeded, want error", text)
		}
	}
	_, err := ParseBinding("Ctrl+Shift")
	if !errors.Is(err, domain.ErrInvalidHotkeyDefinition) {
		t.Fatalf("modifier-only binding error = %v", err)
	}
}

func TestSourceWaitsForHookEnabled(t *testing.T) {
	raw := make(chan hook.Event, 4)
	ended := make(chan struct{})
	src := NewSourceForTests(func() chan hook.Event { return raw }, func() { close(ended) }, time.Second)

	raw <- hook.Event{Kind: hook.HookEnabled}
	raw <- hook.Event{Kind: hook.KeyHold, Keycode: 0x001E}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := src.Events(ctx)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != input.EventKeyDown || ev.Key != 0x001E {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("hook was not ended after cancel")
	}
}

func TestSourceFailsWhenHookNeverEnables(t *testing.T) {
	ended := false
	src := NewSourceForTests(func() chan hook.Event { return make(chan hook.Event) }, func() { ended = true }, 20*time.Millisecond)

	if _, err := src.Events(context.Background()); err == nil {
		t.Fatal("expected startup error")
	}
	if !ended {
		t.Fatal("hook must be ended after a failed start")
	}
}
