package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keypilot/internal/domain"
	"keypilot/internal/runner"
)

// MacroHandler replays a recorded macro.
type MacroHandler struct {
	macros   Macros
	mouse    Mouse
	keyboard Keyboard
}

// Handle plays every event in order, honouring recorded pacing scaled by
// Speed. Keys and buttons still held when playback stops are released.
func (h *MacroHandler) Handle(ctx context.Context, step domain.JobStep, _ domain.Job, _ *runner.RunContext) (bool, error) {
	s := step.Macro
	if s == nil {
		return false, runner.Configf("macro settings missing")
	}
	if h.macros == nil || h.mouse == nil || h.keyboard == nil {
		return false, runner.Configf("macro playback is not available")
	}
	macro, ok := h.macros.Macro(s.Macro)
	if !ok {
		return false, runner.Configf("macro %q not found", s.Macro)
	}

	speed := s.Speed
	if speed <= 0 {
		speed = 1
	}

	p := &playback{mouse: h.mouse, keyboard: h.keyboard, keys: map[domain.KeyCode]bool{}, buttons: map[domain.MouseButton]bool{}}
	err := p.play(ctx, macro.Events, speed)
	if releaseErr := p.releaseAll(); releaseErr != nil {
		slog.WarnContext(ctx, "release held input after macro", "macro", macro.Name, "error", releaseErr)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type playback struct {
	mouse    Mouse
	keyboard Keyboard
	keys     map[domain.KeyCode]bool
	buttons  map[domain.MouseButton]bool
}

func (p *playback) play(ctx context.Context, events []domain.CapturedInputEvent, speed float64) error {
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch ev.Kind {
		case domain.InputTimeout:
			if err := sleep(ctx, time.Duration(float64(ev.Delay)/speed)); err != nil {
				return err
			}
		case domain.InputKeyDown, domain.InputKeyUp:
			down := ev.Kind == domain.InputKeyDown
			if err := p.keyboard.KeyToggle(ev.Key, down); err != nil {
				return fmt.Errorf("key 0x%04X: %w", uint16(ev.Key), err)
			}
			p.keys[ev.Key] = down
		case domain.InputMouseMove:
			p.mouse.Move(ev.X, ev.Y)
		case domain.InputMouseDown, domain.InputMouseUp:
			down := ev.Kind == domain.InputMouseDown
			p.mouse.Move(ev.X, ev.Y)
			if err := p.mouse.MouseToggle(ev.Button, down); err != nil {
				return fmt.Errorf("mouse button %d: %w", ev.Button, err)
			}
			p.buttons[ev.Button] = down
		default:
			return runner.Configf("unknown macro event kind %q", ev.Kind)
		}
	}
	return nil
}

func (p *playback) releaseAll() error {
	var errs []error
	for key, down := range p.keys {
		if down {
			errs = append(errs, p.keyboard.KeyToggle(key, false))
		}
	}
	for button, down := range p.buttons {
		if down {
			errs = append(errs, p.mouse.MouseToggle(button, false))
		}
	}
	return errors.Join(errs...)
}
