// Package runner executes jobs as sequential step pipelines.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"keypilot/internal/domain"
	"keypilot/internal/logger"
)

// Catalog is the read-only definition view the executor needs.
type Catalog interface {
	Job(name string) (domain.Job, bool)
	Jobs() []domain.Job
	Macros() []domain.Macro
}

// AbortedPassBackoff is the pause before the next pass of a repeating job
// whose pass was aborted and which has no PassDelay of its own.
const AbortedPassBackoff = 100 * time.Millisecond

// Executor runs jobs through a fixed step handler table.
type Executor struct {
	catalog      Catalog
	handlers     map[domain.StepKind]Handler
	newRunID     func() string
	abortBackoff time.Duration
}

// NewExecutor copies the handler table; later changes to handlers are not seen.
func NewExecutor(catalog Catalog, handlers map[domain.StepKind]Handler) *Executor {
	return &Executor{
		catalog:      catalog,
		handlers:     maps.Clone(handlers),
		newRunID:     uuid.NewString,
		abortBackoff: AbortedPassBackoff,
	}
}

// Jobs returns the current job definitions.
func (e *Executor) Jobs() []domain.Job {
	return e.catalog.Jobs()
}

// Macros returns the current macro definitions.
func (e *Executor) Macros() []domain.Macro {
	return e.catalog.Macros()
}

// ExecuteJob looks a job up by name and runs it.
func (e *Executor) ExecuteJob(ctx context.Context, name string) error {
	job, ok := e.catalog.Job(name)
	if !ok {
		return Configf("unknown job %q", name)
	}
	return e.Run(ctx, job)
}

// RunNested runs target inline from a run_job step. Targets already on the
// call chain and repeating targets are refused.
func (e *Executor) RunNested(ctx context.Context, target string) error {
	for _, name := range CallChain(ctx) {
		if name == target {
			return Configf("job %q is already running in this call chain", target)
		}
	}
	job, ok := e.catalog.Job(target)
	if !ok {
		return Configf("unknown job %q", target)
	}
	if job.Repeat {
		return Configf("repeating job %q cannot run nested", target)
	}
	return e.Run(ctx, job)
}

// Run executes at least one pass of job. Further passes follow while the job
// repeats, no handler halted it and ctx is alive. An aborted pass is followed
// by at least AbortedPassBackoff before the next one. Cancellation is returned as
// ctx.Err(); step faults as *StepError.
func (e *Executor) Run(ctx context.Context, job domain.Job) error {
	ctx = withCall(ctx, job.Name)

	runID := logger.GetLogFields(ctx).RunID
	if runID == "" {
		runID = e.newRunID()
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Job: job.Name, RunID: runID})

	span := logger.StartSpan(ctx, "runner.job",
		attribute.String("job", job.Name),
		attribute.String("run_id", runID),
		attribute.Int("depth", len(CallChain(ctx))),
	)
	defer span.End()
	ctx = span.Context()

	var recorder *FrameRecorder
	if job.RecordDir != "" {
		rec, err := OpenFrameRecorder(job.RecordDir, runID)
		if err != nil {
			span.RecordError(err)
			return &ConfigError{Job: job.Name, Index: -1, Reason: err.Error()}
		}
		recorder = rec
		defer func() {
			if err := recorder.Close(); err != nil {
				slog.WarnContext(ctx, "close frame recorder", "error", err)
			}
		}()
	}

	for pass := 0; ; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		halted, aborted, err := e.runPass(ctx, job, runID, pass, recorder)
		if err != nil {
			if !isCancellation(ctx, err) {
				span.RecordError(err)
			}
			return err
		}
		if !job.Repeat || halted {
			return nil
		}

		delay := job.PassDelay
		if aborted && delay <= 0 {
			delay = e.abortBackoff
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (e *Executor) runPass(ctx context.Context, job domain.Job, runID string, pass int, rec *FrameRecorder) (halted, aborted bool, err error) {
	rc := newRunContext(runID, job, pass, rec)
	defer func() {
		if err := rc.Close(); err != nil {
			slog.WarnContext(ctx, "close pass context", "pass", pass, "error", err)
		}
	}()

	for i, step := range job.Steps {
		if err := ctx.Err(); err != nil {
			return false, false, err
		}

		handler, ok := e.handlers[step.Kind]
		if !ok {
			return false, false, &StepError{
				Job: job.Name, Index: i, Kind: step.Kind,
				Err: &ConfigError{Job: job.Name, Index: i, Kind: step.Kind, Reason: "no handler for step kind"},
			}
		}

		stepCtx := logger.WithLogFields(ctx, logger.LogFields{StepIndex: logger.Ptr(i), StepKind: string(step.Kind)})
		cont, err := e.invoke(stepCtx, handler, i, step, job, rc)
		if err != nil {
			if isCancellation(ctx, err) {
				return false, false, ctx.Err()
			}
			return false, false, err
		}
		if !cont {
			slog.DebugContext(stepCtx, "pass aborted by step", "pass", pass)
			return rc.Halted(), true, nil
		}
	}
	return rc.Halted(), false, nil
}

func (e *Executor) invoke(ctx context.Context, h Handler, index int, step domain.JobStep, job domain.Job, rc *RunContext) (cont bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "step handler panicked", "panic", r)
			cont = false
			err = &StepError{Job: job.Name, Index: index, Kind: step.Kind, Panic: r, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	cont, err = h.Handle(ctx, step, job, rc)
	if err == nil || isCancellation(ctx, err) {
		return cont, err
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Job == "" {
		cfgErr.Job, cfgErr.Index, cfgErr.Kind = job.Name, index, step.Kind
	}
	return false, &StepError{Job: job.Name, Index: index, Kind: step.Kind, Err: err}
}

func isCancellation(ctx context.Context, err error) bool {
	ctxErr := ctx.Err()
	return ctxErr != nil && errors.Is(err, ctxErr)
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
