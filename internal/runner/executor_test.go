package runner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"keypilot/internal/domain"
)

type fakeCatalog struct {
	jobs map[string]domain.Job
}

func newFakeCatalog(jobs ...domain.Job) *fakeCatalog {
	c := &fakeCatalog{jobs: map[string]domain.Job{}}
	for _, job := range jobs {
		c.jobs[job.Name] = job
	}
	return c
}

func (c *fakeCatalog) Job(name string) (domain.Job, bool) {
	job, ok := c.jobs[name]
	return job, ok
}

func (c *fakeCatalog) Jobs() []domain.Job {
	out := make([]domain.Job, 0, len(c.jobs))
	for _, job := range c.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *fakeCatalog) Macros() []domain.Macro { return nil }

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func delayStep(d time.Duration) domain.JobStep {
	return domain.JobStep{Kind: domain.StepDelay, Delay: &domain.DelaySettings{Duration: d}}
}

func runJobStep(target string) domain.JobStep {
	return domain.JobStep{Kind: domain.StepRunJob, RunJob: &domain.RunJobSettings{Job: target}}
}

func requireStep(name string) domain.JobStep {
	return domain.JobStep{Kind: domain.StepRequireProcess, RequireProcess: &domain.RequireProcessSettings{Name: name}}
}

// scriptedHandlers maps require_process names to outcomes and runs run_job
// steps through the executor.
func scriptedHandlers(log *callLog, exec **Executor) map[domain.StepKind]Handler {
	return map[domain.StepKind]Handler{
		domain.StepRequireProcess: HandlerFunc(func(ctx context.Context, step domain.JobStep, job domain.Job, rc *RunContext) (bool, error) {
			name := step.RequireProcess.Name
			log.add(name)
			switch name {
			case "fail":
				return false, errors.New("boom")
			case "panic":
				panic("handler exploded")
			case "skip":
				return false, nil
			case "halt":
				rc.Halt()
				return true, nil
			}
			return true, nil
		}),
		domain.StepDelay: HandlerFunc(func(ctx context.Context, step domain.JobStep, job domain.Job, rc *RunContext) (bool, error) {
			log.add("delay")
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(step.Delay.Duration):
				return true, nil
			}
		}),
		domain.StepRunJob: HandlerFunc(func(ctx context.Context, step domain.JobStep, job domain.Job, rc *RunContext) (bool, error) {
			log.add("run:" + step.RunJob.Job)
			return true, (*exec).RunNested(ctx, step.RunJob.Job)
		}),
	}
}

func newTestExecutor(jobs ...domain.Job) (*Executor, *callLog) {
	log := &callLog{}
	var exec *Executor
	exec = NewExecutor(newFakeCatalog(jobs...), scriptedHandlers(log, &exec))
	return exec, log
}

// TestRunStopsAtFailingStep checks that [A, B(fails), C] never runs C.
func TestRunStopsAtFailingStep(t *testing.T) {
	job := domain.Job{Name: "iso", Steps: []domain.JobStep{requireStep("A"), requireStep("fail"), requireStep("C")}}
	exec, log := newTestExecutor(job)

	err := exec.Run(context.Background(), job)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Run() error = %v, want *StepError", err)
	}
	if stepErr.Index != 1 || stepErr.Kind != domain.StepRequireProcess || stepErr.Job != "iso" {
		t.Fatalf("unexpected step error: %+v", stepErr)
	}
	if got := log.snapshot(); len(got) != 2 || got[1] != "fail" {
		t.Fatalf("calls = %v, want [A fail]", got)
	}
}

// TestRunRecoversHandlerPanic checks that a panicking handler becomes a StepError.
func TestRunRecoversHandlerPanic(t *testing.T) {
	job := domain.Job{Name: "p", Steps: []domain.JobStep{requireStep("panic"), requireStep("after")}}
	exec, log := newTestExecutor(job)

	err := exec.Run(context.Background(), job)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Panic == nil {
		t.Fatalf("Run() error = %v, want panic StepError", err)
	}
	if len(log.snapshot()) != 1 {
		t.Fatalf("calls = %v", log.snapshot())
	}
}

// TestRunFalseAbortsOnlyCurrentPass checks that a repeating job keeps going
// after a pass is aborted and stops once a step halts it.
func TestRunFalseAbortsOnlyCurrentPass(t *testing.T) {
	passes, tails := 0, 0
	exec := NewExecutor(newFakeCatalog(), map[domain.StepKind]Handler{
		domain.StepRequireProcess: HandlerFunc(func(ctx context.Context, step domain.JobStep, job domain.Job, rc *RunContext) (bool, error) {
			passes++
			if passes == 3 {
				rc.Halt()
				return true, nil
			}
			return false, nil
		}),
		domain.StepDelay: HandlerFunc(func(context.Context, domain.JobStep, domain.Job, *RunContext) (bool, error) {
			tails++
			return true, nil
		}),
	})
	exec.abortBackoff = time.Millisecond

	job := domain.Job{Name: "r", Repeat: true, Steps: []domain.JobStep{requireStep("x"), delayStep(0)}}
	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if passes != 3 || tails != 1 {
		t.Fatalf("passes = %d, tails = %d; want 3 and 1", passes, tails)
	}

	passes, tails = 0, 0
	once := domain.Job{Name: "once", Steps: job.Steps}
	if err := exec.Run(context.Background(), once); err != nil {
		t.Fatalf("Run(non-repeating) error = %v", err)
	}
	if passes != 1 || tails != 0 {
		t.Fatalf("non-repeating passes = %d, tails = %d; want 1 and 0", passes, tails)
	}
}

// TestRunBacksOffAfterAbortedPass checks that a repeating job whose gate
// keeps failing does not spin.
func TestRunBacksOffAfterAbortedPass(t *testing.T) {
	var mu sync.Mutex
	passes := 0
	exec := NewExecutor(newFakeCatalog(), map[domain.StepKind]Handler{
		domain.StepRequireProcess: HandlerFunc(func(context.Context, domain.JobStep, domain.Job, *RunContext) (bool, error) {
			mu.Lock()
			passes++
			mu.Unlock()
			return false, nil
		}),
	})
	exec.abortBackoff = 40 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	job := domain.Job{Name: "gate", Repeat: true, Steps: []domain.JobStep{requireStep("missing")}}
	if err := exec.Run(ctx, job); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if passes < 2 || passes > 4 {
		t.Fatalf("passes = %d, want 2..4 with a 40ms back-off in 100ms", passes)
	}
}

// TestRunCancellationIsNotAFault checks that cancellation surfaces as context.Canceled.
func TestRunCancellationIsNotAFault(t *testing.T) {
	job := domain.Job{Name: "loop", Repeat: true, Steps: []domain.JobStep{delayStep(5 * time.Millisecond)}}
	exec, _ := newTestExecutor(job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exec.Run(ctx, job) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			t.Fatal("cancellation must not be reported as a step fault")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled run did not return")
	}
}

// TestRunNestedRefusesSelfReference checks the guard at several depths.
func TestRunNestedRefusesSelfReference(t *testing.T) {
	direct := domain.Job{Name: "self", Steps: []domain.JobStep{runJobStep("self")}}
	a := domain.Job{Name: "a", Steps: []domain.JobStep{runJobStep("b")}}
	b := domain.Job{Name: "b", Steps: []domain.JobStep{runJobStep("c")}}
	c := domain.Job{Name: "c", Steps: []domain.JobStep{requireStep("ok"), runJobStep("a")}}

	exec, log := newTestExecutor(direct, a, b, c)

	for _, job := range []domain.Job{direct, a} {
		err := exec.Run(context.Background(), job)
		if !errors.Is(err, ErrConfig) {
			t.Fatalf("Run(%s) error = %v, want ErrConfig", job.Name, err)
		}
		var stepErr *StepError
		if !errors.As(err, &stepErr) || stepErr.Job != job.Name {
			t.Fatalf("Run(%s) outer step error = %+v", job.Name, stepErr)
		}
	}

	runs := 0
	for _, call := range log.snapshot() {
		if call == "run:a" {
			runs++
		}
	}
	if runs != 1 {
		t.Fatalf("job a was entered %d times from c, want 1 refused attempt", runs)
	}
}

// TestRunNestedRefusesRepeatingTarget checks the bounded nesting rule.
func TestRunNestedRefusesRepeatingTarget(t *testing.T) {
	loop := domain.Job{Name: "loop", Repeat: true, Steps: []domain.JobStep{requireStep("x")}}
	outer := domain.Job{Name: "outer", Steps: []domain.JobStep{runJobStep("loop")}}
	exec, _ := newTestExecutor(loop, outer)

	if err := exec.ExecuteJob(context.Background(), "outer"); !errors.Is(err, ErrConfig) {
		t.Fatalf("ExecuteJob() error = %v, want ErrConfig", err)
	}
	if err := exec.ExecuteJob(context.Background(), "missing"); !errors.Is(err, ErrConfig) {
		t.Fatalf("ExecuteJob(missing) error = %v, want ErrConfig", err)
	}
}

// TestRunMissingHandlerIsConfigError checks the closed handler table.
func TestRunMissingHandlerIsConfigError(t *testing.T) {
	job := domain.Job{Name: "j", Steps: []domain.JobStep{{Kind: domain.StepClick, Click: &domain.ClickSettings{}}}}
	exec, _ := newTestExecutor(job)

	err := exec.Run(context.Background(), job)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || !errors.Is(err, ErrConfig) {
		t.Fatalf("Run() error = %v, want config StepError", err)
	}
}

// TestRunContextIsPerPass checks that pass state is closed and not reused.
func TestRunContextIsPerPass(t *testing.T) {
	var seen []*RunContext
	closed := 0
	exec := NewExecutor(newFakeCatalog(), map[domain.StepKind]Handler{
		domain.StepCaptureScreen: HandlerFunc(func(ctx context.Context, step domain.JobStep, job domain.Job, rc *RunContext) (bool, error) {
			if rc.Frame != nil {
				t.Error("frame leaked from a previous pass")
			}
			rc.Frame = image.NewRGBA(image.Rect(0, 0, 1, 1))
			rc.OnClose(func() error { closed++; return nil })
			seen = append(seen, rc)
			if len(seen) == 2 {
				rc.Halt()
			}
			return true, nil
		}),
	})

	job := domain.Job{Name: "cap", Repeat: true, Steps: []domain.JobStep{{Kind: domain.StepCaptureScreen, Capture: &domain.CaptureSettings{}}}}
	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(seen) != 2 || seen[0] == seen[1] {
		t.Fatalf("expected two distinct pass contexts, got %d", len(seen))
	}
	if closed != 2 {
		t.Fatalf("closers run = %d, want 2", closed)
	}
	if seen[0].Pass != 0 || seen[1].Pass != 1 {
		t.Fatalf("pass numbers = %d, %d", seen[0].Pass, seen[1].Pass)
	}
}

// TestRunRecordsFrames checks the run-scoped recorder lifecycle.
func TestRunRecordsFrames(t *testing.T) {
	root := t.TempDir()
	var recorder *FrameRecorder
	exec := NewExecutor(newFakeCatalog(), map[domain.StepKind]Handler{
		domain.StepCaptureScreen: HandlerFunc(func(ctx context.Context, step domain.JobStep, job domain.Job, rc *RunContext) (bool, error) {
			img := image.NewRGBA(image.Rect(0, 0, 2, 2))
			img.Set(0, 0, color.RGBA{R: 255, A: 255})
			recorder = rc.Recorder
			return true, rc.Recorder.Record(img)
		}),
	})
	exec.newRunID = func() string { return "run-1" }

	job := domain.Job{Name: "rec", RecordDir: root, Steps: []domain.JobStep{
		{Kind: domain.StepCaptureScreen, Capture: &domain.CaptureSettings{}},
		{Kind: domain.StepCaptureScreen, Capture: &domain.CaptureSettings{}},
	}}
	if err := exec.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "run-1"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("frames = %d, want 2", len(entries))
	}
	if err := recorder.Record(image.NewRGBA(image.Rect(0, 0, 1, 1))); !errors.Is(err, ErrRecorderClosed) {
		t.Fatalf("Record() after run error = %v, want ErrRecorderClosed", err)
	}
}
