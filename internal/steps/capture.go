package steps

import (
	"context"
	"image"
	"log/slog"

	"keypilot/internal/domain"
	"keypilot/internal/runner"
)

// CaptureHandler grabs the screen into the pass context.
type CaptureHandler struct {
	screen Screen
}

// Handle captures the configured region and records it when the run records.
func (h *CaptureHandler) Handle(ctx context.Context, step domain.JobStep, _ domain.Job, rc *runner.RunContext) (bool, error) {
	if step.Capture == nil {
		return false, runner.Configf("capture settings missing")
	}
	if h.screen == nil {
		return false, runner.Configf("no screen available")
	}

	region := captureRegion(*step.Capture)
	frame, err := h.screen.Capture(ctx, region)
	if err != nil {
		return false, err
	}

	rc.Frame = frame
	rc.FrameOrigin = region.Min
	rc.Detection = nil
	rc.Offset = image.Point{}

	if rc.Recorder != nil {
		if err := rc.Recorder.Record(frame); err != nil {
			slog.WarnContext(ctx, "record frame", "error", err)
		}
	}
	return true, nil
}

func captureRegion(s domain.CaptureSettings) image.Rectangle {
	if s.Width <= 0 || s.Height <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
}

// frameRegion is the screen rectangle the current frame was taken from.
func frameRegion(rc *runner.RunContext) image.Rectangle {
	if rc.Frame == nil {
		return image.Rectangle{}
	}
	b := rc.Frame.Bounds()
	return image.Rectangle{Min: rc.FrameOrigin, Max: rc.FrameOrigin.Add(b.Size())}
}
