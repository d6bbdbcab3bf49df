// Package jobs owns the lifecycle of job runs and the notifications they
// produce.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"keypilot/internal/domain"
	"keypilot/internal/logger"
	"keypilot/internal/runner"
)

var (
	// ErrJobAlreadyRunning is returned when starting a job that has an active run.
	ErrJobAlreadyRunning = errors.New("job already running")
	// ErrUnknownJob is returned when a name or id resolves to no job.
	ErrUnknownJob = errors.New("unknown job")
	// ErrOrchestratorClosed is returned by Start after Shutdown.
	ErrOrchestratorClosed = errors.New("orchestrator shut down")
)

// Resolver looks job definitions up.
type Resolver interface {
	Job(name string) (domain.Job, bool)
	Resolve(id, name string) (domain.Job, bool)
}

// JobRunner executes one run of a job until it ends or ctx is cancelled.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) error
}

// runHandle is present in the run map exactly while its run executes.
type runHandle struct {
	name      string
	runID     string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Orchestrator starts, stops and toggles job runs, allowing at most one run
// per job name.
type Orchestrator struct {
	resolver Resolver
	runner   JobRunner
	events   *EventBus
	history  *History
	now      func() time.Time
	newRunID func() string

	runs sync.Map // job name -> *runHandle

	lifecycle  sync.RWMutex
	closed     bool
	wg         sync.WaitGroup
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator publishing to events.
func NewOrchestrator(resolver Resolver, jobRunner JobRunner, events *EventBus, history *History) *Orchestrator {
	if history == nil {
		history = NewHistory(0)
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		resolver:   resolver,
		runner:     jobRunner,
		events:     events,
		history:    history,
		now:        time.Now,
		newRunID:   uuid.NewString,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// Start launches a run of the named job. A job that is already running is
// left alone and ErrJobAlreadyRunning is returned.
func (o *Orchestrator) Start(name string) error {
	job, ok := o.resolver.Job(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return o.start(job)
}

// Stop cancels the active run of name. It reports whether a run was found.
func (o *Orchestrator) Stop(name string) bool {
	value, ok := o.runs.LoadAndDelete(name)
	if !ok {
		return false
	}
	h := value.(*runHandle)
	h.cancel()
	slog.Info("job stop requested", "job", name, "run_id", h.runID)
	return true
}

// StopAndWait stops the active run of name and waits for it to end or for ctx
// to be done. It reports whether a run was found.
func (o *Orchestrator) StopAndWait(ctx context.Context, name string) (bool, error) {
	value, ok := o.runs.LoadAndDelete(name)
	if !ok {
		return false, nil
	}
	h := value.(*runHandle)
	h.cancel()
	select {
	case <-h.done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// CancelJob is Stop under the name the dispatcher uses.
func (o *Orchestrator) CancelJob(name string) bool {
	return o.Stop(name)
}

// Toggle stops the named job when it runs and starts it otherwise.
func (o *Orchestrator) Toggle(name string) error {
	if o.Stop(name) {
		return nil
	}
	return o.Start(name)
}

// HandleAction resolves a hotkey action and applies its command. Unresolved
// targets are reported as job failures.
func (o *Orchestrator) HandleAction(ctx context.Context, action domain.ActionDefinition) error {
	job, ok := o.resolver.Resolve(action.JobID, action.JobName)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownJob, action.Target())
		slog.WarnContext(ctx, "hotkey target not found", "target", action.Target(), "command", action.Command)
		o.publish(Event{
			Type:    EventTypeJobFailed,
			Job:     action.Target(),
			Command: action.Command,
			Status:  domain.RunStatusFailed,
			Message: err.Error(),
		})
		return err
	}

	switch action.Command {
	case domain.CommandStart:
		return o.start(job)
	case domain.CommandStop:
		o.Stop(job.Name)
		return nil
	case domain.CommandToggle:
		if o.Stop(job.Name) {
			return nil
		}
		return o.start(job)
	default:
		return fmt.Errorf("unknown command %q", action.Command)
	}
}

// IsRunning reports whether name has an active run.
func (o *Orchestrator) IsRunning(name string) bool {
	_, ok := o.runs.Load(name)
	return ok
}

// Running lists active runs ordered by job name.
func (o *Orchestrator) Running() []domain.RunInfo {
	var out []domain.RunInfo
	o.runs.Range(func(_, value any) bool {
		h := value.(*runHandle)
		out = append(out, domain.RunInfo{Job: h.name, RunID: h.runID, StartedAt: h.startedAt})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Recent returns finished and active runs, newest first.
func (o *Orchestrator) Recent() []RunRecord {
	return o.history.Recent()
}

// Wait blocks until the current run of name ends or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, name string) error {
	value, ok := o.runs.Load(name)
	if !ok {
		return nil
	}
	select {
	case <-value.(*runHandle).done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new runs, cancels active ones and waits for them to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.lifecycle.Lock()
	o.closed = true
	o.lifecycle.Unlock()

	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) start(job domain.Job) error {
	o.lifecycle.RLock()
	defer o.lifecycle.RUnlock()
	if o.closed {
		return ErrOrchestratorClosed
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	h := &runHandle{
		name:      job.Name,
		runID:     o.newRunID(),
		startedAt: o.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if existing, loaded := o.runs.LoadOrStore(job.Name, h); loaded {
		cancel()
		slog.Warn("job already running", "job", job.Name, "run_id", existing.(*runHandle).runID)
		return fmt.Errorf("%w: %s", ErrJobAlreadyRunning, job.Name)
	}

	o.wg.Add(1)
	go o.run(ctx, h, job)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, h *runHandle, job domain.Job) {
	defer o.wg.Done()
	defer func() {
		o.runs.CompareAndDelete(h.name, h)
		h.cancel()
		close(h.done)
	}()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "keypilot.jobs.orchestrator",
		Job:       job.Name,
		RunID:     h.runID,
	})

	o.history.Begin(job.Name, h.runID, h.startedAt)
	o.publish(Event{Type: EventTypeJobStarted, Job: job.Name, RunID: h.runID, Status: domain.RunStatusRunning})
	slog.InfoContext(ctx, "job started")

	o.finish(ctx, h, job, o.execute(ctx, job))
}

func (o *Orchestrator) execute(ctx context.Context, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %q panicked: %v", job.Name, r)
		}
	}()
	return o.runner.Run(ctx, job)
}

func (o *Orchestrator) finish(ctx context.Context, h *runHandle, job domain.Job, err error) {
	elapsed := o.now().Sub(h.startedAt)

	var stepErr *runner.StepError
	switch {
	case err == nil:
		o.record(ctx, h, domain.RunStatusDone, nil)
		o.publish(Event{Type: EventTypeJobFinished, Job: job.Name, RunID: h.runID, Status: domain.RunStatusDone})
		slog.InfoContext(ctx, "job finished", "elapsed", elapsed)

	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		o.record(ctx, h, domain.RunStatusCancelled, nil)
		o.publish(Event{Type: EventTypeJobCancelled, Job: job.Name, RunID: h.runID, Status: domain.RunStatusCancelled})
		slog.InfoContext(ctx, "job cancelled", "elapsed", elapsed)

	case errors.As(err, &stepErr):
		o.record(ctx, h, domain.RunStatusFailed, err)
		o.publish(Event{
			Type:      EventTypeStepFailed,
			Job:       job.Name,
			RunID:     h.runID,
			StepIndex: logger.Ptr(stepErr.Index),
			StepKind:  stepErr.Kind,
			Status:    domain.RunStatusFailed,
			Message:   err.Error(),
		})
		slog.ErrorContext(ctx, "job step failed", "step_index", stepErr.Index, "step_kind", stepErr.Kind, "error", err)

	default:
		o.record(ctx, h, domain.RunStatusFailed, err)
		o.publish(Event{Type: EventTypeJobFailed, Job: job.Name, RunID: h.runID, Status: domain.RunStatusFailed, Message: err.Error()})
		slog.ErrorContext(ctx, "job failed", "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, h *runHandle, status domain.RunStatus, err error) {
	if recErr := o.history.Finish(h.runID, status, o.now(), err); recErr != nil {
		slog.WarnContext(ctx, "record run outcome", "error", recErr)
	}
}

func (o *Orchestrator) publish(event Event) {
	if o.events != nil {
		o.events.Publish(event)
	}
}
