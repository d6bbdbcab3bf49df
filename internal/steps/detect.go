package steps

import (
	"context"

	"keypilot/internal/domain"
	"keypilot/internal/runner"
)

// DetectHandler delegates object detection to a pluggable Detector.
type DetectHandler struct {
	detector Detector
}

// Handle keeps the most confident detection above MinConfidence. Nothing
// found aborts the pass, and halts the job with HaltOnMiss.
func (h *DetectHandler) Handle(ctx context.Context, step domain.JobStep, _ domain.Job, rc *runner.RunContext) (bool, error) {
	s := step.Detect
	if s == nil {
		return false, runner.Configf("detect settings missing")
	}
	if h.detector == nil {
		return false, runner.Configf("no object detector configured")
	}
	if rc.Frame == nil {
		return false, runner.Configf("detect needs a preceding capture_screen step")
	}

	found, err := h.detector.Detect(ctx, rc.Frame, s.Label)
	if err != nil {
		return false, err
	}

	var best *runner.Detection
	for i := range found {
		d := found[i]
		if s.Label != "" && d.Label != s.Label {
			continue
		}
		if d.Confidence < s.MinConfidence {
			continue
		}
		if best == nil || d.Confidence > best.Confidence {
			best = &d
		}
	}
	if best == nil {
		if s.HaltOnMiss {
			rc.Halt()
		}
		return false, nil
	}

	best.Rect = best.Rect.Add(rc.FrameOrigin)
	rc.Detection = best
	return true, nil
}
