package steps

import (
	"context"
	"image"

	"keypilot/internal/domain"
	"keypilot/internal/runner"
)

// ClickHandler clicks at the last detection or an absolute point.
type ClickHandler struct {
	mouse Mouse
}

// Handle aborts the pass when a relative click has no detection to aim at.
func (h *ClickHandler) Handle(ctx context.Context, step domain.JobStep, _ domain.Job, rc *runner.RunContext) (bool, error) {
	s := step.Click
	if s == nil {
		return false, runner.Configf("click settings missing")
	}
	if h.mouse == nil {
		return false, runner.Configf("no mouse available")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var at image.Point
	if s.Absolute {
		at = image.Pt(s.X, s.Y)
	} else {
		if rc.Detection == nil {
			return false, nil
		}
		at = rc.Detection.Center().Add(rc.Offset).Add(image.Pt(s.X, s.Y))
	}

	h.mouse.Move(at.X, at.Y)
	h.mouse.Click(s.Button, s.Double)
	return true, nil
}
