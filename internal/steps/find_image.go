package steps

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"keypilot/internal/domain"
	"keypilot/internal/runner"
)

const defaultFindInterval = 100 * time.Millisecond

// FindImageHandler locates a template image in the last frame.
type FindImageHandler struct {
	screen   Screen
	open     func(name string) (*os.File, error)
	now      func() time.Time
	mu       sync.Mutex
	template map[string]grayImage
}

// NewFindImageHandler builds the handler. screen is used to refresh the frame
// while polling and may be nil.
func NewFindImageHandler(screen Screen) *FindImageHandler {
	return &FindImageHandler{screen: screen, open: os.Open, now: time.Now, template: map[string]grayImage{}}
}

// Handle matches the template against the frame, recapturing until Timeout.
// No match within the timeout aborts the pass, and halts the job with
// HaltOnMiss.
func (h *FindImageHandler) Handle(ctx context.Context, step domain.JobStep, _ domain.Job, rc *runner.RunContext) (bool, error) {
	s := step.FindImage
	if s == nil {
		return false, runner.Configf("find_image settings missing")
	}
	if s.Threshold <= 0 || s.Threshold > 1 {
		return false, runner.Configf("threshold %.2f outside (0, 1]", s.Threshold)
	}
	if rc.Frame == nil {
		return false, runner.Configf("find_image needs a preceding capture_screen step")
	}

	tpl, err := h.loadTemplate(s.Template)
	if err != nil {
		return false, err
	}

	interval := s.Interval
	if interval <= 0 {
		interval = defaultFindInterval
	}
	deadline := h.now().Add(s.Timeout)

	for {
		at, score, ok := matchTemplate(toGray(rc.Frame), tpl)
		if ok && score >= s.Threshold {
			topLeft := rc.FrameOrigin.Add(at)
			rc.Detection = &runner.Detection{
				Label:      s.Template,
				Rect:       image.Rectangle{Min: topLeft, Max: topLeft.Add(image.Pt(tpl.w, tpl.h))},
				Confidence: score,
			}
			return true, nil
		}
		if h.screen == nil || !h.now().Before(deadline) {
			slog.DebugContext(ctx, "template not found", "template", s.Template, "best", score)
			if s.HaltOnMiss {
				rc.Halt()
			}
			return false, nil
		}

		if err := sleep(ctx, interval); err != nil {
			return false, err
		}
		frame, err := h.screen.Capture(ctx, frameRegion(rc))
		if err != nil {
			return false, err
		}
		rc.Frame = frame
	}
}

func (h *FindImageHandler) loadTemplate(path string) (grayImage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tpl, ok := h.template[path]; ok {
		return tpl, nil
	}

	f, err := h.open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return grayImage{}, runner.Configf("template %q not found", path)
		}
		return grayImage{}, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return grayImage{}, runner.Configf("decode template %q: %v", path, err)
	}
	tpl := toGray(img)
	h.template[path] = tpl
	return tpl, nil
}
