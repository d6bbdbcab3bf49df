package runner

import (
	"context"
	"errors"
	"image"
	"slices"
	"sync"

	"keypilot/internal/domain"
)

// Handler executes one step kind. Returning false aborts the current pass
// without a fault. Handlers must honour ctx and return ctx.Err() when it ends.
type Handler interface {
	Handle(ctx context.Context, step domain.JobStep, job domain.Job, rc *RunContext) (bool, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, step domain.JobStep, job domain.Job, rc *RunContext) (bool, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, step domain.JobStep, job domain.Job, rc *RunContext) (bool, error) {
	return f(ctx, step, job, rc)
}

// Detection is a located target in screen coordinates.
type Detection struct {
	Label      string          `json:"label,omitempty"`
	Rect       image.Rectangle `json:"rect"`
	Confidence float64         `json:"confidence"`
}

// Center returns the midpoint of the detection.
func (d Detection) Center() image.Point {
	return image.Pt((d.Rect.Min.X+d.Rect.Max.X)/2, (d.Rect.Min.Y+d.Rect.Max.Y)/2)
}

// RunContext is the scratch state of one pass. It is created before the
// first step and closed after the last; nothing survives into the next pass.
type RunContext struct {
	RunID string
	Job   domain.Job
	Pass  int

	// Frame is the last screen capture, set by capture_screen and read by
	// find_image and detect. FrameOrigin is its top-left screen position.
	Frame       image.Image
	FrameOrigin image.Point

	// Detection is set by find_image and detect and read by click. Offset
	// shifts the click point from the detection centre.
	Detection *Detection
	Offset    image.Point

	// Recorder is run-scoped and nil unless the job records frames.
	Recorder *FrameRecorder

	mu      sync.Mutex
	closers []func() error
	halted  bool
}

func newRunContext(runID string, job domain.Job, pass int, rec *FrameRecorder) *RunContext {
	return &RunContext{RunID: runID, Job: job, Pass: pass, Recorder: rec}
}

// NewRunContextForTests builds a standalone pass context for handler tests.
func NewRunContextForTests(job domain.Job) *RunContext {
	return newRunContext("test-run", job, 0, nil)
}

// Halt stops a repeating job after the current pass.
func (rc *RunContext) Halt() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.halted = true
}

// Halted reports whether Halt was called.
func (rc *RunContext) Halted() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.halted
}

// OnClose registers cleanup for pass-scoped resources. Cleanups run in
// reverse registration order.
func (rc *RunContext) OnClose(fn func() error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.closers = append(rc.closers, fn)
}

// Close releases pass-scoped state.
func (rc *RunContext) Close() error {
	rc.mu.Lock()
	closers := rc.closers
	rc.closers = nil
	rc.mu.Unlock()

	var errs []error
	for _, fn := range slices.Backward(closers) {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	rc.Frame = nil
	rc.Detection = nil
	return errors.Join(errs...)
}

type callChainKey struct{}

// withCall appends a job to the call chain carried by ctx.
func withCall(ctx context.Context, job string) context.Context {
	chain := CallChain(ctx)
	next := make([]string, len(chain), len(chain)+1)
	copy(next, chain)
	return context.WithValue(ctx, callChainKey{}, append(next, job))
}

// CallChain returns the names of the jobs executing on this path, outermost
// first.
func CallChain(ctx context.Context) []string {
	chain, _ := ctx.Value(callChainKey{}).([]string)
	return chain
}
