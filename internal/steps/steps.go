// Package steps provides the handler for every job step kind.
package steps

import (
	"context"
	"image"
	"time"

	"keypilot/internal/domain"
	"keypilot/internal/runner"
)

// Screen captures screen regions. An empty region is the whole screen.
type Screen interface {
	Capture(ctx context.Context, region image.Rectangle) (image.Image, error)
}

// Mouse moves and clicks the pointer.
type Mouse interface {
	Move(x, y int)
	Click(button domain.MouseButton, double bool)
	MouseToggle(button domain.MouseButton, down bool) error
}

// Keyboard presses and releases keys.
type Keyboard interface {
	KeyToggle(key domain.KeyCode, down bool) error
}

// Processes inspects running processes.
type Processes interface {
	ProcessRunning(ctx context.Context, name string) (bool, error)
}

// Detector finds labelled objects in a frame. Rectangles are in frame
// coordinates.
type Detector interface {
	Detect(ctx context.Context, frame image.Image, label string) ([]runner.Detection, error)
}

// Macros looks stored recordings up.
type Macros interface {
	Macro(name string) (domain.Macro, bool)
}

// Nested runs another job inline.
type Nested interface {
	RunNested(ctx context.Context, target string) error
}

// NestedFunc adapts a function to Nested, letting the executor be bound after
// the handler table is built.
type NestedFunc func(ctx context.Context, target string) error

// RunNested calls f.
func (f NestedFunc) RunNested(ctx context.Context, target string) error {
	return f(ctx, target)
}

// Deps are the collaborators of the default handlers. Detector may be nil.
type Deps struct {
	Screen    Screen
	Mouse     Mouse
	Keyboard  Keyboard
	Processes Processes
	Detector  Detector
	Macros    Macros
	Nested    Nested
}

// Defaults returns the fixed handler table.
func Defaults(deps Deps) map[domain.StepKind]runner.Handler {
	return map[domain.StepKind]runner.Handler{
		domain.StepCaptureScreen:  &CaptureHandler{screen: deps.Screen},
		domain.StepFindImage:      NewFindImageHandler(deps.Screen),
		domain.StepDetect:         &DetectHandler{detector: deps.Detector},
		domain.StepClick:          &ClickHandler{mouse: deps.Mouse},
		domain.StepPlayMacro:      &MacroHandler{macros: deps.Macros, mouse: deps.Mouse, keyboard: deps.Keyboard},
		domain.StepRunProcess:     NewProcessHandler(),
		domain.StepRequireProcess: &RequireProcessHandler{processes: deps.Processes},
		domain.StepRunJob:         &RunJobHandler{nested: deps.Nested},
		domain.StepDelay:          &DelayHandler{},
	}
}

// DelayHandler pauses the pass.
type DelayHandler struct{}

// Handle sleeps for the configured duration or until ctx ends.
func (h *DelayHandler) Handle(ctx context.Context, step domain.JobStep, _ domain.Job, _ *runner.RunContext) (bool, error) {
	if step.Delay == nil {
		return false, runner.Configf("delay settings missing")
	}
	if step.Delay.Duration < 0 {
		return false, runner.Configf("negative delay %s", step.Delay.Duration)
	}
	if err := sleep(ctx, step.Delay.Duration); err != nil {
		return false, err
	}
	return true, nil
}

// RunJobHandler runs another job inline.
type RunJobHandler struct {
	nested Nested
}

// Handle delegates to the executor, which guards against cycles.
func (h *RunJobHandler) Handle(ctx context.Context, step domain.JobStep, _ domain.Job, _ *runner.RunContext) (bool, error) {
	if step.RunJob == nil || step.RunJob.Job == "" {
		return false, runner.Configf("run_job needs a target job")
	}
	if h.nested == nil {
		return false, runner.Configf("nested runs are not available")
	}
	if err := h.nested.RunNested(ctx, step.RunJob.Job); err != nil {
		return false, err
	}
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
